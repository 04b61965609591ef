package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashID_RoundTrip(t *testing.T) {
	cases := []struct {
		internal InternalHashID
		chunk    ChunkID
		epoch    uint16
	}{
		{1, 0, 0},
		{42, 7, 1},
		{0xFFFFFFFF, MaxChunkID, MaxEpoch},
		{12345, 300, 9},
	}

	for _, c := range cases {
		h := MakeHashID(c.internal, c.chunk, c.epoch)
		internal, chunk := h.Decode()
		assert.Equal(t, c.internal, internal)
		assert.Equal(t, c.chunk, chunk)
		assert.Equal(t, c.epoch, h.Epoch())
		assert.False(t, h.IsNull())
		assert.Less(t, uint64(h), uint64(1)<<63)
	}
}

func TestHashID_Null(t *testing.T) {
	assert.True(t, NullHashID.IsNull())
	assert.True(t, MakeHashID(0, 5, 3).IsNull())
	assert.Equal(t, "HashID(null)", NullHashID.String())
}

func TestHashID_EpochTruncated(t *testing.T) {
	h := MakeHashID(1, 1, MaxEpoch+1)
	assert.Equal(t, uint16(0), h.Epoch())
	assert.Equal(t, ChunkID(1), h.Chunk())
}

func TestChunkID_Valid(t *testing.T) {
	assert.True(t, ChunkID(0).Valid())
	assert.True(t, MaxChunkID.Valid())
	assert.False(t, (MaxChunkID + 1).Valid())
}

func TestOrderEntry_ParseKey(t *testing.T) {
	e, err := ParseOrderEntry("maven:junit:4.13")
	require.NoError(t, err)
	assert.Equal(t, OrderEntry{Kind: "maven", Name: "junit", Version: "4.13"}, e)
	assert.Equal(t, "maven:junit:4.13", e.Key())

	e, err = ParseOrderEntry("jdk:corretto")
	require.NoError(t, err)
	assert.Equal(t, "", e.Version)
	assert.Equal(t, "jdk:corretto:", e.Key())

	_, err = ParseOrderEntry("broken")
	assert.Error(t, err)
	_, err = ParseOrderEntry(":name")
	assert.Error(t, err)
}
