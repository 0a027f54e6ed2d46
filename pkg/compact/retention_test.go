package compact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/types"
)

func TestSelectFilesetsToDrop_NoPolicyConfiguredDropsNothing(t *testing.T) {
	now := time.Now()
	filesets := []*types.Fileset{
		{ID: 2, Timestamp: now.Unix()},
		{ID: 1, Timestamp: now.Add(-72 * time.Hour).Unix()},
	}
	cfg := config.Defaults()
	cfg.KeepVersions = 0
	cfg.KeepTime = 0

	assert.Empty(t, SelectFilesetsToDrop(filesets, cfg, now))
}

func TestSelectFilesetsToDrop_KeepVersionsDropsOlder(t *testing.T) {
	now := time.Now()
	filesets := []*types.Fileset{
		{ID: 3, Timestamp: now.Unix()},
		{ID: 2, Timestamp: now.Add(-24 * time.Hour).Unix()},
		{ID: 1, Timestamp: now.Add(-48 * time.Hour).Unix()},
	}
	cfg := config.Defaults()
	cfg.KeepVersions = 2

	dropped := SelectFilesetsToDrop(filesets, cfg, now)
	require.Len(t, dropped, 1)
	assert.Equal(t, int64(1), dropped[0].ID)
}

func TestSelectFilesetsToDrop_KeepTimeDropsOlderThanCutoff(t *testing.T) {
	now := time.Now()
	filesets := []*types.Fileset{
		{ID: 2, Timestamp: now.Unix()},
		{ID: 1, Timestamp: now.Add(-30 * 24 * time.Hour).Unix()},
	}
	cfg := config.Defaults()
	cfg.KeepTime = 7 * 24 * time.Hour

	dropped := SelectFilesetsToDrop(filesets, cfg, now)
	require.Len(t, dropped, 1)
	assert.Equal(t, int64(1), dropped[0].ID)
}

func TestSelectFilesetsToDrop_NeverDropsTheMostRecentFileset(t *testing.T) {
	now := time.Now()
	filesets := []*types.Fileset{
		{ID: 1, Timestamp: now.Add(-365 * 24 * time.Hour).Unix()},
	}
	cfg := config.Defaults()
	cfg.KeepTime = time.Hour

	assert.Empty(t, SelectFilesetsToDrop(filesets, cfg, now))
}

func TestApplyRetention_DropsOlderFilesetAndOrphansItsUniqueBlock(t *testing.T) {
	h := newTestHarness(t)
	fileset1, fileset2 := twoVersionsWithOneRemovedFile(t, h)
	require.NotEqual(t, fileset1, fileset2)

	h.cfg.KeepVersions = 1
	ctx := context.Background()

	res, err := ApplyRetention(ctx, h.cat, h.cfg, time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesetsDeleted)
	assert.Equal(t, 1, res.FilesVolumesTransitioned)
	assert.Equal(t, 1, res.FileLookupsOrphaned)

	filesets, err := h.cat.ListFilesets(ctx)
	require.NoError(t, err)
	require.Len(t, filesets, 1)
	assert.Equal(t, fileset2, filesets[0].ID)

	wasted, err := h.cat.WastedBytesByVolume(ctx)
	require.NoError(t, err)
	var totalWasted int64
	for _, n := range wasted {
		totalWasted += n
	}
	assert.Greater(t, totalWasted, int64(0))
}

func TestApplyRetention_NothingToDropReturnsZeroResult(t *testing.T) {
	h := newTestHarness(t)
	_, _ = twoVersionsWithOneRemovedFile(t, h)
	h.cfg.KeepVersions = 0
	h.cfg.KeepTime = 0

	res, err := ApplyRetention(context.Background(), h.cat, h.cfg, time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, &RetentionResult{}, res)
}
