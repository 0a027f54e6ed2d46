package archive

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDlist_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewDlistWriter(&buf)
	w.AddFile(FileListEntry{Type: "File", Path: "a.txt", Hash: "h1", Size: 5})
	w.AddFile(FileListEntry{Type: "Folder", Path: "dir"})
	require.NoError(t, w.Close(Manifest{Version: 1, Created: time.Unix(0, 0).UTC(), BlockSize: 100 * 1024, AppVersion: "test"}))

	r, err := NewDlistReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	m, err := r.Manifest()
	require.NoError(t, err)
	assert.Equal(t, 1, m.Version)

	entries, err := r.FileList()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].Path)
}

func TestDblock_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewDblockWriter(&buf)
	total, err := w.AddBlock("hash1", []byte("payload one"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload one")), total)
	_, err = w.AddBlock("hash2", []byte("payload two"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewDblockReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	data, err := r.Block("hash1")
	require.NoError(t, err)
	assert.Equal(t, "payload one", string(data))

	assert.ElementsMatch(t, []string{"hash1", "hash2"}, r.Hashes())

	_, err = r.Block("missing")
	assert.Error(t, err)
}

func TestDindex_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewDindexWriter(&buf, "dblock-1.dblock.zip.none")
	require.NoError(t, w.AddBlocklist("blocklist-hash", []byte("concatenated-hashes")))
	w.AddVolumeEntry("hash1", 100)
	w.AddVolumeEntry("hash2", 200)
	require.NoError(t, w.Close())

	r, err := NewDindexReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	bl, err := r.Blocklist("blocklist-hash")
	require.NoError(t, err)
	assert.Equal(t, "concatenated-hashes", string(bl))

	manifest, err := r.VolumeManifest("dblock-1.dblock.zip.none")
	require.NoError(t, err)
	require.Len(t, manifest, 2)
	assert.Equal(t, int64(100), manifest[0].Size)
}

func TestNopCodecs_PassThrough(t *testing.T) {
	var buf bytes.Buffer
	wc, err := NopCompressor{}.Compress(&buf)
	require.NoError(t, err)
	_, err = wc.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	rc, err := NopCompressor{}.Decompress(&buf)
	require.NoError(t, err)
	defer rc.Close()
}
