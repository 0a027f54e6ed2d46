package backup

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/archive"
	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/types"
)

func newTestCommitter(t *testing.T) (*committer, *catalog.Batch) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := catalog.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	batch, err := cat.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { batch.Rollback() })

	filesVolID, err := batch.CreateRemoteVolume(context.Background(), &types.RemoteVolume{
		Name: "dummy.dlist.zip.none", Type: types.VolumeTypeFiles, State: types.VolumeStateTemporary,
	})
	require.NoError(t, err)
	fileset, err := batch.CreateFileset(context.Background(), 1000, filesVolID, true)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	sink := newFilelistSink(archive.NewDlistWriter(buf))
	return &committer{batch: batch, filesetID: fileset.ID, prefixID: rootPrefixID, sink: sink}, batch
}

func TestCommitter_NewFileRegistersNewBlocks(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCommitter(t)

	e := &sourceEntry{
		path:         "/a/file.txt",
		entryType:    types.EntryTypeFile,
		size:         10,
		lastModified: 1000,
		contentHash:  "contenthash1",
		metaHash:     "metahash1",
		blockHashes:  []blockSpan{{hash: "h1", data: []byte("0123456789")}},
	}

	newBlocks := make(chan *newBlock, 8)
	r, err := c.process(ctx, e, newBlocks, 1024, 32)
	require.NoError(t, err)
	require.False(t, r.entry.broken)
	require.True(t, r.isNewBlock)
	close(newBlocks)

	var got []*newBlock
	for b := range newBlocks {
		got = append(got, b)
	}
	require.Len(t, got, 2) // content block + metadata block
}

func TestCommitter_IdenticalBlockIsDeduped(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCommitter(t)

	mkEntry := func(path string) *sourceEntry {
		return &sourceEntry{
			path:         path,
			entryType:    types.EntryTypeFile,
			size:         10,
			lastModified: 1000,
			contentHash:  "samecontent",
			metaHash:     "samemeta-" + path,
			blockHashes:  []blockSpan{{hash: "sharedhash", data: []byte("0123456789")}},
		}
	}

	newBlocks := make(chan *newBlock, 16)
	_, err := c.process(ctx, mkEntry("/a/one.txt"), newBlocks, 1024, 32)
	require.NoError(t, err)
	_, err = c.process(ctx, mkEntry("/a/two.txt"), newBlocks, 1024, 32)
	require.NoError(t, err)
	close(newBlocks)

	var count int
	for b := range newBlocks {
		if b.hash == "sharedhash" {
			count++
		}
	}
	require.Equal(t, 1, count, "identical block content must only be forwarded once")
}

func TestCommitter_InheritedEntrySkipsBlockCommit(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCommitter(t)

	e := &sourceEntry{
		path:           "/a/unchanged.txt",
		entryType:      types.EntryTypeFile,
		inherited:      true,
		prevBlocksetID: 42,
		prevMetadataID: 99,
		lastModified:   1000,
	}

	newBlocks := make(chan *newBlock, 4)
	r, err := c.process(ctx, e, newBlocks, 1024, 32)
	require.NoError(t, err)
	require.Equal(t, int64(42), r.blocksetID)
	close(newBlocks)
	var got []*newBlock
	for b := range newBlocks {
		got = append(got, b)
	}
	require.Empty(t, got)
}

func TestCommitter_BrokenEntryPassesThroughUncommitted(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCommitter(t)

	e := &sourceEntry{path: "/a/broken.txt", broken: true}
	newBlocks := make(chan *newBlock, 1)
	r, err := c.process(ctx, e, newBlocks, 1024, 32)
	require.NoError(t, err)
	require.True(t, r.entry.broken)
	require.Zero(t, r.blocksetID)
}
