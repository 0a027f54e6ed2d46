package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/types"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpen_MigratesSchemaIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	c1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()

	n, err := c2.CountBlocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBatch_RegisterBlockAndBlockset(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	b, err := c.Begin(ctx)
	require.NoError(t, err)

	v := &types.RemoteVolume{Name: "vol-1", Type: types.VolumeTypeBlocks, State: types.VolumeStateTemporary}
	volID, err := c.CreateRemoteVolume(ctx, v)
	require.NoError(t, err)

	existing, err := b.FindBlock(ctx, "hash-a", 100)
	require.NoError(t, err)
	assert.Nil(t, existing)

	blockID, err := b.RegisterBlock(ctx, "hash-a", 100, volID)
	require.NoError(t, err)
	assert.NotZero(t, blockID)

	blocksetID, err := b.RegisterBlockset(ctx, 100, "full-hash", []int64{blockID})
	require.NoError(t, err)

	entries, err := b.BlocksetEntries(ctx, blocksetID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, blockID, entries[0].BlockID)

	require.NoError(t, b.Commit())

	n, err := c.CountBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCreateFileset_TimestampCollisionRetries(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	v := &types.RemoteVolume{Name: "dlist-1", Type: types.VolumeTypeFiles, State: types.VolumeStateTemporary}
	volID, err := c.CreateRemoteVolume(ctx, v)
	require.NoError(t, err)

	b, err := c.Begin(ctx)
	require.NoError(t, err)
	defer b.Rollback()

	fs1, err := b.CreateFileset(ctx, 1000, volID, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), fs1.Timestamp)

	fs2, err := b.CreateFileset(ctx, 1000, volID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), fs2.Timestamp, "collision should bump by one second")
}

func TestVolumeLifecycle_RoundTrip(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	v := &types.RemoteVolume{Name: "vol-1", Type: types.VolumeTypeBlocks, State: types.VolumeStateTemporary}
	id, err := c.CreateRemoteVolume(ctx, v)
	require.NoError(t, err)

	require.NoError(t, c.SetVolumeState(ctx, id, types.VolumeStateUploading))
	require.NoError(t, c.FinalizeVolume(ctx, id, 4096, "deadbeef"))

	volumes, err := c.ListRemoteVolumes(ctx)
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, types.VolumeStateUploaded, volumes[0].State)
	assert.Equal(t, int64(4096), volumes[0].Size)
}

func TestBestDuplicateVolume_PicksMax(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.RecordDuplicateBlock(ctx, 1, 5))
	require.NoError(t, c.RecordDuplicateBlock(ctx, 1, 9))
	require.NoError(t, c.RecordDuplicateBlock(ctx, 1, 3))

	best, found, err := c.BestDuplicateVolume(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(9), best)

	_, found, err = c.BestDuplicateVolume(ctx, 999)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestVerifyConsistency_DetectsOrphanBlock(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	v := &types.RemoteVolume{Name: "vol-1", Type: types.VolumeTypeBlocks, State: types.VolumeStateTemporary}
	volID, err := c.CreateRemoteVolume(ctx, v)
	require.NoError(t, err)

	b, err := c.Begin(ctx)
	require.NoError(t, err)
	_, err = b.RegisterBlock(ctx, "orphan-hash", 10, volID)
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	report, err := c.VerifyConsistency(ctx, 100, 32, false)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Len(t, report.OrphanBlocks, 1)
}

func TestVerifyConsistency_DetectsBlocksetLengthMismatch(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	v := &types.RemoteVolume{Name: "vol-1", Type: types.VolumeTypeBlocks, State: types.VolumeStateTemporary}
	volID, err := c.CreateRemoteVolume(ctx, v)
	require.NoError(t, err)

	b, err := c.Begin(ctx)
	require.NoError(t, err)
	blockID, err := b.RegisterBlock(ctx, "block-hash", 10, volID)
	require.NoError(t, err)
	// Recorded length (999) doesn't match the one block's actual size (10).
	blocksetID, err := b.RegisterBlockset(ctx, 999, "full-hash", []int64{blockID})
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	report, err := c.VerifyConsistency(ctx, 100, 32, false)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Contains(t, report.BadBlocksetLength, blocksetID)
}

func TestVerifyConsistency_StrictDetectsMisSizedBlockAndBadHashLength(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	v := &types.RemoteVolume{Name: "vol-1", Type: types.VolumeTypeBlocks, State: types.VolumeStateTemporary}
	volID, err := c.CreateRemoteVolume(ctx, v)
	require.NoError(t, err)

	b, err := c.Begin(ctx)
	require.NoError(t, err)
	// Short hash and a non-last block smaller than the configured blocksize.
	shortBlockID, err := b.RegisterBlock(ctx, "short", 10, volID)
	require.NoError(t, err)
	lastBlockID, err := b.RegisterBlock(ctx, "last-hash-value", 5, volID)
	require.NoError(t, err)
	_, err = b.RegisterBlockset(ctx, 15, "full-hash", []int64{shortBlockID, lastBlockID})
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	lenient, err := c.VerifyConsistency(ctx, 100, 32, false)
	require.NoError(t, err)
	assert.Empty(t, lenient.MisSizedBlocks, "non-strict mode skips the shape checks")
	assert.Empty(t, lenient.BadHashLength)

	strict, err := c.VerifyConsistency(ctx, 100, 32, true)
	require.NoError(t, err)
	assert.Contains(t, strict.MisSizedBlocks, shortBlockID, "non-last block smaller than blocksize")
	assert.Contains(t, strict.BadHashLength, shortBlockID)
	assert.Contains(t, strict.BadHashLength, lastBlockID)
}

func TestChangeStatistics_AddedModifiedDeleted(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	v := &types.RemoteVolume{Name: "dlist-1", Type: types.VolumeTypeFiles, State: types.VolumeStateTemporary}
	volID, err := c.CreateRemoteVolume(ctx, v)
	require.NoError(t, err)

	b, err := c.Begin(ctx)
	require.NoError(t, err)

	blockID, err := b.RegisterBlock(ctx, "h1", 10, volID)
	require.NoError(t, err)
	blocksetID, err := b.RegisterBlockset(ctx, 10, "fh1", []int64{blockID})
	require.NoError(t, err)
	metaID, err := b.RegisterMetadataset(ctx, blocksetID)
	require.NoError(t, err)

	fileA, err := b.RegisterFileLookup(ctx, 0, blocksetID, metaID, "a.txt")
	require.NoError(t, err)
	fileB, err := b.RegisterFileLookup(ctx, 0, blocksetID, metaID, "b.txt")
	require.NoError(t, err)

	fsPrev, err := b.CreateFileset(ctx, 1000, volID, true)
	require.NoError(t, err)
	require.NoError(t, b.AddFilesetEntry(ctx, fsPrev.ID, fileA, 100))
	require.NoError(t, b.AddFilesetEntry(ctx, fsPrev.ID, fileB, 100))

	fsCur, err := b.CreateFileset(ctx, 2000, volID, false)
	require.NoError(t, err)
	require.NoError(t, b.AddFilesetEntry(ctx, fsCur.ID, fileA, 200)) // modified
	// fileB dropped (deleted)

	require.NoError(t, b.Commit())

	stats, err := c.ChangeStatistics(ctx, fsPrev.ID, fsCur.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ModifiedFiles)
	assert.Equal(t, 1, stats.DeletedFiles)
	assert.Equal(t, 0, stats.AddedFiles)
}
