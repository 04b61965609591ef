package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/chunkfile"
	"github.com/hupe1980/chunkidx/codec"
	"github.com/hupe1980/chunkidx/model"
)

// chunkDesc is the JSON description of a chunk.
type chunkDesc struct {
	ChunkID     uint32      `json:"chunk_id"`
	HashSize    int         `json:"hash_size"`
	Compression string      `json:"compression"`
	Hashes      []packHash  `json:"hashes"`
	Indexes     []packIndex `json:"indexes"`
}

type packHash struct {
	Hash string `json:"hash"` // hex
	ID   uint32 `json:"id"`
}

type packIndex struct {
	Name        string      `json:"name"`
	KeyCodec    string      `json:"key_codec"`
	ValueCodec  string      `json:"value_codec"`
	Compression string      `json:"compression"`
	Entries     []packEntry `json:"entries"`
}

type packEntry struct {
	Key   gojson.RawMessage `json:"key"`
	Value gojson.RawMessage `json:"value"`
}

func newPackCmd() *cobra.Command {
	var descPath, outDir string

	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Build a chunk file from a JSON description",
		Long: `Build a chunk file from a JSON description:

  {
    "chunk_id": 7,
    "hash_size": 32,
    "compression": "lz4",
    "hashes": [{"hash": "<hex>", "id": 1}],
    "indexes": [{
      "name": "symbols",
      "key_codec": "string",
      "value_codec": "uint32-list",
      "entries": [{"key": "main", "value": [1]}]
    }]
  }

Supported record codecs are string, bytes (hex), uint32, uint64,
uint32-list, json and go-json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(descPath)
			if err != nil {
				return err
			}
			var desc chunkDesc
			if err := gojson.Unmarshal(data, &desc); err != nil {
				return fmt.Errorf("parse %s: %w", descPath, err)
			}
			w, err := buildChunk(desc)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			name := chunkfile.FileName(model.ChunkID(desc.ChunkID))
			digest, size, err := w.WriteBlob(cmd.Context(), blobstore.NewLocalStore(outDir), name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\t%s\n", name, size, digest)
			return nil
		},
	}

	cmd.Flags().StringVar(&descPath, "from", "", "JSON chunk description")
	cmd.Flags().StringVar(&outDir, "out", ".", "Output directory")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func buildChunk(desc chunkDesc) (*chunkfile.Writer, error) {
	id := model.ChunkID(desc.ChunkID)
	if !id.Valid() {
		return nil, fmt.Errorf("chunk_id %d out of range", desc.ChunkID)
	}
	comp, err := parseCompression(desc.Compression)
	if err != nil {
		return nil, err
	}

	hashSize := desc.HashSize
	if hashSize == 0 && len(desc.Hashes) > 0 {
		hashSize = len(desc.Hashes[0].Hash) / 2
	}
	w := chunkfile.NewWriter(id, hashSize)
	w.SetHashCompression(comp)
	for _, h := range desc.Hashes {
		b, err := hex.DecodeString(h.Hash)
		if err != nil {
			return nil, fmt.Errorf("hash %q: %w", h.Hash, err)
		}
		if err := w.AddHash(b, model.InternalHashID(h.ID)); err != nil {
			return nil, err
		}
	}

	for _, ix := range desc.Indexes {
		c := comp
		if ix.Compression != "" {
			if c, err = parseCompression(ix.Compression); err != nil {
				return nil, err
			}
		}
		b, err := w.AddIndex(ix.Name, ix.KeyCodec, ix.ValueCodec, c)
		if err != nil {
			return nil, err
		}
		for i, e := range ix.Entries {
			k, err := encodeRecord(ix.KeyCodec, e.Key)
			if err != nil {
				return nil, fmt.Errorf("index %s entry %d key: %w", ix.Name, i, err)
			}
			v, err := encodeRecord(ix.ValueCodec, e.Value)
			if err != nil {
				return nil, fmt.Errorf("index %s entry %d value: %w", ix.Name, i, err)
			}
			if err := b.Put(k, v); err != nil {
				return nil, err
			}
		}
	}
	return w, nil
}

func parseCompression(s string) (chunkfile.Compression, error) {
	if s == "" {
		return chunkfile.CompressionNone, nil
	}
	return chunkfile.ParseCompression(s)
}

// encodeRecord converts a JSON value into the stored bytes of a codec.
func encodeRecord(codecName string, raw gojson.RawMessage) ([]byte, error) {
	switch codecName {
	case codec.String{}.Name():
		var s string
		if err := gojson.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return codec.String{}.Append(nil, s)
	case codec.Bytes{}.Name():
		var s string
		if err := gojson.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return hex.DecodeString(s)
	case codec.Uint32{}.Name():
		var n uint32
		if err := gojson.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return codec.Uint32{}.Append(nil, n)
	case codec.Uint64{}.Name():
		var n uint64
		if err := gojson.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return codec.Uint64{}.Append(nil, n)
	case codec.Uint32List{}.Name():
		var ns []uint32
		if err := gojson.Unmarshal(raw, &ns); err != nil {
			return nil, err
		}
		return codec.Uint32List{}.Append(nil, ns)
	}
	if c, ok := codec.ByName(codecName); ok {
		var v any
		if err := gojson.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return c.Marshal(v)
	}
	return nil, fmt.Errorf("unsupported codec %q", codecName)
}
