// Package dynamo implements a discovery catalog on a DynamoDB table.
//
// Table schema:
//   - Partition key: entry (string), the order entry key "kind:name:version"
//     or "kind:name:" for chunks covering every version
//   - Sort key: chunk_id (number)
//   - Attributes: blob (string), digest (hex string), size (number)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name chunkidx-catalog \
//	  --attribute-definitions AttributeName=entry,AttributeType=S AttributeName=chunk_id,AttributeType=N \
//	  --key-schema AttributeName=entry,KeyType=HASH AttributeName=chunk_id,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/chunkidx/chunkfile"
	"github.com/hupe1980/chunkidx/locator"
	"github.com/hupe1980/chunkidx/model"
)

const (
	attrEntry   = "entry"
	attrChunkID = "chunk_id"
	attrBlob    = "blob"
	attrDigest  = "digest"
	attrSize    = "size"
)

// ErrInvalidItem is returned for table items missing required attributes.
var ErrInvalidItem = errors.New("invalid catalog item")

// Client is the subset of the DynamoDB API the catalog uses.
type Client interface {
	dynamodb.QueryAPIClient
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Catalog resolves order entries through a DynamoDB table.
type Catalog struct {
	client Client
	table  string
}

var _ locator.Catalog = (*Catalog)(nil)

// New creates a Catalog using the default AWS configuration chain.
func New(ctx context.Context, table string, optFns ...func(*awsconfig.LoadOptions) error) (*Catalog, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return NewCatalog(dynamodb.NewFromConfig(cfg), table), nil
}

// NewCatalog creates a Catalog on an existing client.
func NewCatalog(client Client, table string) *Catalog {
	return &Catalog{client: client, table: table}
}

// Resolve implements locator.Catalog. Entries are looked up by their full
// key first and by their versionless key when nothing matches.
func (c *Catalog) Resolve(ctx context.Context, _ model.ProjectID, entries []model.OrderEntry) ([]locator.Candidate, error) {
	var out []locator.Candidate
	seen := make(map[model.ChunkID]bool)
	for _, e := range entries {
		cands, err := c.query(ctx, e.Key())
		if err != nil {
			return nil, err
		}
		if len(cands) == 0 {
			if cands, err = c.query(ctx, model.OrderEntry{Kind: e.Kind, Name: e.Name}.Key()); err != nil {
				return nil, err
			}
		}
		for _, cand := range cands {
			if seen[cand.ChunkID] {
				continue
			}
			seen[cand.ChunkID] = true
			cand.Entry = e.Key()
			out = append(out, cand)
		}
	}
	return out, nil
}

func (c *Catalog) query(ctx context.Context, key string) ([]locator.Candidate, error) {
	p := dynamodb.NewQueryPaginator(c.client, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("#e = :e"),
		ExpressionAttributeNames: map[string]string{
			"#e": attrEntry,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e": &types.AttributeValueMemberS{Value: key},
		},
	})

	var out []locator.Candidate
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo: query %q: %w", key, err)
		}
		for _, item := range page.Items {
			cand, err := decodeItem(item)
			if err != nil {
				return nil, fmt.Errorf("dynamo: entry %q: %w", key, err)
			}
			out = append(out, cand)
		}
	}
	return out, nil
}

// Publish records that cand covers the given entry keys.
func (c *Catalog) Publish(ctx context.Context, cand locator.Candidate, entries ...string) error {
	for _, e := range entries {
		_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.table),
			Item:      encodeItem(e, cand),
		})
		if err != nil {
			return fmt.Errorf("dynamo: publish chunk %d for %q: %w", cand.ChunkID, e, err)
		}
	}
	return nil
}

func encodeItem(entry string, c locator.Candidate) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrEntry:   &types.AttributeValueMemberS{Value: entry},
		attrChunkID: &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(c.ChunkID), 10)},
	}
	if c.Blob != "" {
		item[attrBlob] = &types.AttributeValueMemberS{Value: c.Blob}
	}
	if !c.Digest.IsZero() {
		item[attrDigest] = &types.AttributeValueMemberS{Value: c.Digest.String()}
	}
	if c.Size > 0 {
		item[attrSize] = &types.AttributeValueMemberN{Value: strconv.FormatInt(c.Size, 10)}
	}
	return item
}

func decodeItem(item map[string]types.AttributeValue) (locator.Candidate, error) {
	var c locator.Candidate

	idAttr, ok := item[attrChunkID].(*types.AttributeValueMemberN)
	if !ok {
		return c, fmt.Errorf("missing %s: %w", attrChunkID, ErrInvalidItem)
	}
	id, err := strconv.ParseUint(idAttr.Value, 10, 32)
	if err != nil || !model.ChunkID(id).Valid() {
		return c, fmt.Errorf("bad %s %q: %w", attrChunkID, idAttr.Value, ErrInvalidItem)
	}
	c.ChunkID = model.ChunkID(id)

	if v, ok := item[attrBlob].(*types.AttributeValueMemberS); ok {
		c.Blob = v.Value
	}
	if v, ok := item[attrDigest].(*types.AttributeValueMemberS); ok {
		d, err := chunkfile.ParseDigest(v.Value)
		if err != nil {
			return c, fmt.Errorf("chunk %d: %w: %w", c.ChunkID, ErrInvalidItem, err)
		}
		c.Digest = d
	}
	if v, ok := item[attrSize].(*types.AttributeValueMemberN); ok {
		size, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return c, fmt.Errorf("chunk %d: bad size %q: %w", c.ChunkID, v.Value, ErrInvalidItem)
		}
		c.Size = size
	}
	return c, nil
}
