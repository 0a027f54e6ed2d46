package backup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/events"
	"github.com/cuemby/coldvault/pkg/types"
)

func TestProgressTally_CountsAndDrainsBothStreams(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	tally := newProgressTally(broker)

	results := make(chan *fileblockResult, 4)
	uploads := make(chan *uploadedVolume, 2)

	results <- &fileblockResult{entry: &sourceEntry{path: "/new.txt", entryType: types.EntryTypeFile}, isNewBlock: true}
	results <- &fileblockResult{entry: &sourceEntry{path: "/dup.txt", entryType: types.EntryTypeFile}, isNewBlock: false}
	results <- &fileblockResult{entry: &sourceEntry{path: "/skip.txt", inherited: true}}
	results <- &fileblockResult{entry: &sourceEntry{path: "/broke.txt", broken: true}}
	close(results)

	uploads <- &uploadedVolume{
		blocksVolume: &types.RemoteVolume{Name: "v1.dblock.zip.none"},
		indexVolume:  &types.RemoteVolume{Name: "v1.dindex.zip.none"},
		blockCount:   3,
	}
	close(uploads)

	tally.run(context.Background(), results, uploads)

	require.Equal(t, int64(1), tally.newBlocks)
	require.Equal(t, int64(1), tally.duplicateBlocks)
	require.Equal(t, []string{"/broke.txt"}, tally.brokenLocal)
	require.Equal(t, 1, tally.volumesUploaded)
}

func TestProgressTally_NilBrokerIsSafe(t *testing.T) {
	tally := newProgressTally(nil)
	results := make(chan *fileblockResult)
	uploads := make(chan *uploadedVolume)
	close(results)
	close(uploads)
	tally.run(context.Background(), results, uploads)
}
