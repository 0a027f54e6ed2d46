package compact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/types"
)

func TestBuildReport_NoWasteIsNeitherCleanDeleteNorWasted(t *testing.T) {
	h := newTestHarness(t)
	src := t.TempDir()
	writeFile(t, src+"/a.txt", "some content that stays for the whole test run")
	h.runBackup(t, src)

	reports, err := BuildReport(context.Background(), h.cat, h.cfg)
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	for _, r := range reports {
		assert.False(t, r.CleanDelete, "freshly written volume should have no wasted bytes yet")
		assert.False(t, r.Wasted)
	}
}

func TestBuildReport_ClassifiesWastedAfterPartialOrphaning(t *testing.T) {
	h := newTestHarness(t)
	twoVersionsWithOneRemovedFile(t, h)

	h.cfg.KeepVersions = 1
	_, err := ApplyRetention(context.Background(), h.cat, h.cfg, time.Now(), nil)
	require.NoError(t, err)

	reports, err := BuildReport(context.Background(), h.cat, h.cfg)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.False(t, r.CleanDelete, "keep.txt's block is still live in this volume")
	assert.True(t, r.Wasted, "half the volume's referenced bytes are now garbage, over the 0.25 threshold")
	assert.Greater(t, r.WastedSize, int64(0))
	assert.Greater(t, r.DataSize, int64(0))
}

func TestBuildReport_IgnoresVolumesNotYetUploaded(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	v := &types.RemoteVolume{Name: "pending.dblock", Type: types.VolumeTypeBlocks, State: types.VolumeStateTemporary}
	_, err := h.cat.CreateRemoteVolume(ctx, v)
	require.NoError(t, err)

	reports, err := BuildReport(ctx, h.cat, h.cfg)
	require.NoError(t, err)
	assert.Empty(t, reports)
}
