package dynamo

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkidx/chunkfile"
	"github.com/hupe1980/chunkidx/locator"
	"github.com/hupe1980/chunkidx/model"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *mockClient) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func forEntry(key string) any {
	return mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		v, ok := in.ExpressionAttributeValues[":e"].(*types.AttributeValueMemberS)
		return ok && v.Value == key
	})
}

func items(cands ...locator.Candidate) *dynamodb.QueryOutput {
	out := &dynamodb.QueryOutput{}
	for _, c := range cands {
		out.Items = append(out.Items, encodeItem("ignored", c))
	}
	return out
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	digest, err := chunkfile.ParseDigest("00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	require.NoError(t, err)

	client := &mockClient{}
	client.On("Query", ctx, forEntry("lib:a:1")).Return(items(
		locator.Candidate{ChunkID: 1, Blob: "a.sidx", Digest: digest, Size: 42},
		locator.Candidate{ChunkID: 2},
	), nil).Once()
	client.On("Query", ctx, forEntry("lib:b:2")).Return(items(), nil).Once()
	client.On("Query", ctx, forEntry("lib:b:")).Return(items(locator.Candidate{ChunkID: 2}), nil).Once()

	got, err := NewCatalog(client, "t").Resolve(ctx, "p", []model.OrderEntry{
		{Kind: "lib", Name: "a", Version: "1"},
		{Kind: "lib", Name: "b", Version: "2"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, locator.Candidate{ChunkID: 1, Blob: "a.sidx", Digest: digest, Size: 42, Entry: "lib:a:1"}, got[0])
	assert.Equal(t, model.ChunkID(2), got[1].ChunkID)
	client.AssertExpectations(t)
}

func TestResolve_Paginates(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}

	first := items(locator.Candidate{ChunkID: 1})
	first.LastEvaluatedKey = map[string]types.AttributeValue{"chunk_id": &types.AttributeValueMemberN{Value: "1"}}
	client.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool { return in.ExclusiveStartKey == nil })).
		Return(first, nil).Once()
	client.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool { return in.ExclusiveStartKey != nil })).
		Return(items(locator.Candidate{ChunkID: 5}), nil).Once()

	got, err := NewCatalog(client, "t").Resolve(ctx, "p", []model.OrderEntry{{Kind: "lib", Name: "a", Version: "1"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.ChunkID(5), got[1].ChunkID)
}

func TestResolve_Errors(t *testing.T) {
	ctx := context.Background()

	client := &mockClient{}
	client.On("Query", ctx, mock.Anything).Return(nil, errors.New("throttled")).Once()
	_, err := NewCatalog(client, "t").Resolve(ctx, "p", []model.OrderEntry{{Kind: "lib", Name: "a"}})
	assert.ErrorContains(t, err, "throttled")

	bad := &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{{
		attrChunkID: &types.AttributeValueMemberN{Value: "99999999"},
	}}}
	client = &mockClient{}
	client.On("Query", ctx, mock.Anything).Return(bad, nil).Once()
	_, err = NewCatalog(client, "t").Resolve(ctx, "p", []model.OrderEntry{{Kind: "lib", Name: "a"}})
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	client.On("PutItem", ctx, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		id, ok := in.Item[attrChunkID].(*types.AttributeValueMemberN)
		return ok && id.Value == "3" && *in.TableName == "t"
	})).Return(&dynamodb.PutItemOutput{}, nil).Twice()

	err := NewCatalog(client, "t").Publish(ctx, locator.Candidate{ChunkID: 3, Size: 7}, "lib:a:1", "lib:a:")
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestDecodeItem_RoundTrip(t *testing.T) {
	c := locator.Candidate{ChunkID: 12, Blob: "x/y.sidx", Size: 1 << 20}
	got, err := decodeItem(encodeItem("lib:x:", c))
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = decodeItem(map[string]types.AttributeValue{})
	assert.ErrorIs(t, err, ErrInvalidItem)
}
