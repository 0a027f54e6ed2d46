package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/types"
)

func TestSplitStream_ChunksAndHashesContent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(p, make([]byte, 25), 0o644))

	in := make(chan *sourceEntry, 1)
	in <- &sourceEntry{path: p, entryType: types.EntryTypeFile, size: 25}
	close(in)

	out := make(chan *sourceEntry, 1)
	require.NoError(t, splitStream(context.Background(), in, out, 10, 1))

	e := <-out
	require.False(t, e.broken)
	require.Len(t, e.blockHashes, 3) // 10 + 10 + 5
	require.NotEmpty(t, e.contentHash)
}

func TestSplitStream_SkipsInheritedAndNonFiles(t *testing.T) {
	in := make(chan *sourceEntry, 2)
	in <- &sourceEntry{path: "/x", entryType: types.EntryTypeFile, inherited: true}
	in <- &sourceEntry{path: "/y", entryType: types.EntryTypeFolder}
	close(in)

	out := make(chan *sourceEntry, 2)
	require.NoError(t, splitStream(context.Background(), in, out, 10, 1))

	for e := range out {
		require.Nil(t, e.blockHashes)
		require.Empty(t, e.contentHash)
	}
}

func TestSplitStream_MissingFileMarksBroken(t *testing.T) {
	in := make(chan *sourceEntry, 1)
	in <- &sourceEntry{path: filepath.Join(t.TempDir(), "missing.txt"), entryType: types.EntryTypeFile}
	close(in)

	out := make(chan *sourceEntry, 1)
	require.NoError(t, splitStream(context.Background(), in, out, 10, 1))

	e := <-out
	require.True(t, e.broken)
	require.Error(t, e.err)
}
