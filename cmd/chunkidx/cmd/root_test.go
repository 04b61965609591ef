package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cfg := filepath.Join(t.TempDir(), "chunkidx.yaml")
	require.NoError(t, os.WriteFile(cfg, nil, 0o600))
	cmd.SetArgs(append([]string{"--config", cfg, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func hashHex(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeDesc(t *testing.T, dir string) string {
	t.Helper()
	desc := `{
  "chunk_id": 7,
  "compression": "lz4",
  "hashes": [
    {"hash": "` + hashHex("a.go") + `", "id": 1},
    {"hash": "` + hashHex("b.go") + `", "id": 2}
  ],
  "indexes": [
    {
      "name": "symbols",
      "key_codec": "string",
      "value_codec": "uint32-list",
      "entries": [{"key": "main", "value": [1]}, {"key": "helper", "value": [1, 2]}]
    },
    {
      "name": "meta",
      "key_codec": "string",
      "value_codec": "go-json",
      "compression": "zstd",
      "entries": [{"key": "a.go", "value": {"lang": "go"}}]
    }
  ]
}`
	path := filepath.Join(dir, "chunk.json")
	require.NoError(t, os.WriteFile(path, []byte(desc), 0o600))
	return path
}

func TestPackInspect(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "pack", "--from", writeDesc(t, dir), "--out", dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "chunk-00007.sidx\t"), out)

	out, err = run(t, "inspect", filepath.Join(dir, "chunk-00007.sidx"), "--json")
	require.NoError(t, err)

	var info inspectOutput
	require.NoError(t, gojson.Unmarshal([]byte(out), &info))
	assert.Equal(t, uint32(7), info.ChunkID)
	assert.Equal(t, 32, info.HashSize)
	assert.False(t, info.Digest.IsZero())

	byName := map[string]inspectSection{}
	for _, s := range info.Sections {
		byName[s.Name] = s
	}
	require.Contains(t, byName, "hashes")
	require.Contains(t, byName, "symbols")
	require.Contains(t, byName, "meta")
	assert.Equal(t, uint32(2), byName["hashes"].Records)
	assert.Equal(t, uint32(2), byName["symbols"].Records)
	assert.Equal(t, "uint32-list", byName["symbols"].ValueCodec)
	assert.Equal(t, "zstd", byName["meta"].Compression)

	out, err = run(t, "inspect", filepath.Join(dir, "chunk-00007.sidx"))
	require.NoError(t, err)
	assert.Contains(t, out, "Chunk:     7")
	assert.Contains(t, out, "symbols")
}

func TestPackInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"chunk_id": 0}`), 0o600))
	_, err := run(t, "pack", "--from", path, "--out", dir)
	assert.ErrorContains(t, err, "out of range")

	require.NoError(t, os.WriteFile(path, []byte(`{"chunk_id": 1, "indexes": [{"name": "x", "key_codec": "string", "value_codec": "float", "entries": [{"key": "k", "value": 1.5}]}]}`), 0o600))
	_, err = run(t, "pack", "--from", path, "--out", dir)
	assert.ErrorContains(t, err, "unsupported codec")
}

func TestPublishLocateEnumerate(t *testing.T) {
	work := t.TempDir()
	remote := filepath.Join(t.TempDir(), "remote")
	cache := filepath.Join(t.TempDir(), "cache")
	remoteURL := "file://" + remote

	_, err := run(t, "pack", "--from", writeDesc(t, work), "--out", work)
	require.NoError(t, err)

	out, err := run(t, "publish", filepath.Join(work, "chunk-00007.sidx"), "--remote", remoteURL, "--entry", "lib:foo")
	require.NoError(t, err)
	assert.Contains(t, out, "published chunk-00007.sidx")
	assert.FileExists(t, filepath.Join(remote, "chunk-00007.sidx"))
	assert.FileExists(t, filepath.Join(remote, "catalog.json"))

	out, err = run(t, "locate", "--remote", remoteURL, "--cache-dir", cache,
		"--project", "app", "--entry", "lib:foo:1.2", "--entry", "lib:other:1", "--json")
	require.NoError(t, err)
	var res struct {
		Project  string   `json:"project"`
		Attached []uint32 `json:"attached"`
	}
	require.NoError(t, gojson.Unmarshal([]byte(out), &res))
	assert.Equal(t, "app", res.Project)
	assert.Equal(t, []uint32{7}, res.Attached)
	assert.FileExists(t, filepath.Join(cache, "chunk-00007.sidx"))

	out, err = run(t, "enumerate", hashHex("b.go"), "--cache-dir", cache)
	require.NoError(t, err)
	assert.Contains(t, out, "HashID(7:2@1)")

	out, err = run(t, "enumerate", hashHex("missing.go"), "--cache-dir", cache)
	require.NoError(t, err)
	assert.Equal(t, "null\n", out)

	_, err = run(t, "enumerate", "zz", "--cache-dir", cache)
	assert.Error(t, err)
}

func TestLocateWithoutRemote(t *testing.T) {
	t.Setenv("CHUNKIDX_REMOTE_URL", "")
	_, err := run(t, "locate", "--cache-dir", t.TempDir(), "--entry", "lib:foo:1")
	assert.ErrorIs(t, err, errNoRemote)
}

func TestInvalidConfigFlag(t *testing.T) {
	_, err := run(t, "enumerate", "00", "--log-level", "loud")
	assert.Error(t, err)
}
