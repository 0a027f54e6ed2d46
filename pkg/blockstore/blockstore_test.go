package blockstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBlock_Deterministic(t *testing.T) {
	a := HashBlock([]byte("hello world"))
	b := HashBlock([]byte("hello world"))
	assert.Equal(t, a, b)

	c := HashBlock([]byte("hello world!"))
	assert.NotEqual(t, a, c)
}

func TestBlocklistCapacity(t *testing.T) {
	assert.Equal(t, 102400, BlocklistCapacity(104857600/32, 32))
	assert.Equal(t, 0, BlocklistCapacity(1024, 0))
}

func TestChunkBlocklist(t *testing.T) {
	hashes := []string{"a", "b", "c", "d", "e"}
	chunks := ChunkBlocklist(hashes, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"c", "d"}, chunks[1])
	assert.Equal(t, []string{"e"}, chunks[2])

	assert.Nil(t, ChunkBlocklist(nil, 2))
	assert.Nil(t, ChunkBlocklist(hashes, 0))
}

func TestVolumeName_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC)
	n := NewVolumeName("coldvault", KindDblock, "zip", "aes", now)
	s := n.String()

	parsed, err := ParseVolumeName(s)
	require.NoError(t, err)
	assert.Equal(t, "coldvault", parsed.Prefix)
	assert.Equal(t, KindDblock, parsed.Kind)
	assert.Equal(t, "zip", parsed.Compression)
	assert.Equal(t, "aes", parsed.Encryption)
	assert.Equal(t, n.GUID, parsed.GUID)
	assert.True(t, n.Timestamp.Equal(parsed.Timestamp))
}

func TestParseVolumeName_Malformed(t *testing.T) {
	_, err := ParseVolumeName("not-a-volume-name")
	assert.Error(t, err)

	_, err = ParseVolumeName("coldvault-badtimestamp-badguid.dblock.zip.aes")
	assert.Error(t, err)

	_, err = ParseVolumeName("coldvault-20260305T103000Z-00000000-0000-0000-0000-000000000000.unknown.zip.aes")
	assert.Error(t, err)
}
