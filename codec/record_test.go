package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint32_PreservesOrder(t *testing.T) {
	var c Uint32
	a, err := c.Append(nil, 255)
	require.NoError(t, err)
	b, err := c.Append(nil, 256)
	require.NoError(t, err)
	assert.Equal(t, -1, bytes.Compare(a, b))

	v, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(256), v)

	_, err = c.Decode([]byte{1, 2})
	assert.Error(t, err)
}

func TestUint32List(t *testing.T) {
	var c Uint32List
	enc, err := c.Append(nil, []uint32{3, 10, 10, 4000000000})
	require.NoError(t, err)

	got, err := c.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 10, 10, 4000000000}, got)

	_, err = c.Append(nil, []uint32{5, 1})
	assert.Error(t, err)

	_, err = c.Decode(enc[:len(enc)-1])
	assert.Error(t, err)

	empty, err := c.Append(nil, nil)
	require.NoError(t, err)
	got, err = c.Decode(empty)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStructured(t *testing.T) {
	type location struct {
		File string `json:"file"`
		Line int    `json:"line"`
	}

	c := Structured[location]{}
	assert.Equal(t, "struct/go-json", c.Name())

	enc, err := c.Append(nil, location{File: "a.go", Line: 7})
	require.NoError(t, err)
	got, err := c.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, location{File: "a.go", Line: 7}, got)

	std := Structured[location]{Codec: JSON{}}
	assert.Equal(t, "struct/json", std.Name())
	got, err = std.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Line)
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestBytes_DecodeCopies(t *testing.T) {
	src := []byte("abc")
	got, err := Bytes{}.Decode(src)
	require.NoError(t, err)
	src[0] = 'x'
	assert.Equal(t, []byte("abc"), got)
}
