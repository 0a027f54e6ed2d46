package backup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/types"
)

func TestMetadataPreprocess_MarksUnchangedEntryInherited(t *testing.T) {
	e := &sourceEntry{path: "/a.txt", entryType: types.EntryTypeFile, size: 10, lastModified: 1000}
	previous := map[string]previousEntry{
		"/a.txt": {size: 10, lastModified: 1000, metadataHash: metadataHash(e), blocksetID: 5, metadataID: 6},
	}

	in := make(chan *sourceEntry, 1)
	in <- e
	close(in)
	out := make(chan *sourceEntry, 1)

	require.NoError(t, metadataPreprocess(context.Background(), in, out, previous))
	got := <-out
	require.True(t, got.inherited)
	require.Equal(t, int64(5), got.prevBlocksetID)
	require.Equal(t, int64(6), got.prevMetadataID)
}

func TestMetadataPreprocess_SizeChangeBreaksInheritance(t *testing.T) {
	e := &sourceEntry{path: "/a.txt", entryType: types.EntryTypeFile, size: 20, lastModified: 1000}
	previous := map[string]previousEntry{
		"/a.txt": {size: 10, lastModified: 1000, metadataHash: "whatever", blocksetID: 5, metadataID: 6},
	}

	in := make(chan *sourceEntry, 1)
	in <- e
	close(in)
	out := make(chan *sourceEntry, 1)

	require.NoError(t, metadataPreprocess(context.Background(), in, out, previous))
	got := <-out
	require.False(t, got.inherited)
}

func TestMetadataPreprocess_BrokenEntryPassesThroughUntouched(t *testing.T) {
	e := &sourceEntry{path: "/broke.txt", broken: true}
	in := make(chan *sourceEntry, 1)
	in <- e
	close(in)
	out := make(chan *sourceEntry, 1)

	require.NoError(t, metadataPreprocess(context.Background(), in, out, nil))
	got := <-out
	require.Empty(t, got.metaHash)
	require.False(t, got.inherited)
}
