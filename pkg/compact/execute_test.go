package compact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/types"
)

func TestExecute_NoSelectedVolumesIsNoOp(t *testing.T) {
	h := newTestHarness(t)
	res, err := Execute(context.Background(), h.cat, h.mgr, &Plan{}, h.cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, &Result{}, res)
}

func TestExecute_RehomesLiveBlockAndTransitionsOldVolumeToDeleting(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	twoVersionsWithOneRemovedFile(t, h)

	h.cfg.KeepVersions = 1
	_, err := ApplyRetention(ctx, h.cat, h.cfg, time.Now(), nil)
	require.NoError(t, err)

	reports, err := BuildReport(ctx, h.cat, h.cfg)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	oldVolumeID := reports[0].VolumeID

	plan := BuildPlan(reports, h.cfg)
	require.NotEmpty(t, plan.Selected)

	res, err := Execute(ctx, h.cat, h.mgr, plan, h.cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.VolumesCompacted)
	assert.Greater(t, res.BlocksRehomed, int64(0))
	require.NotEmpty(t, res.NewVolumeNames)

	oldVol, err := h.cat.GetRemoteVolume(ctx, oldVolumeID)
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateDeleting, oldVol.State)

	volumes, err := h.cat.ListRemoteVolumes(ctx)
	require.NoError(t, err)
	var newBlocksVol *types.RemoteVolume
	for _, v := range volumes {
		if v.Name == res.NewVolumeNames[0] {
			newBlocksVol = v
		}
	}
	require.NotNil(t, newBlocksVol, "rehomed volume must be registered in the catalog")
	assert.Equal(t, types.VolumeStateUploaded, newBlocksVol.State)

	blocksInNew, err := h.cat.ListBlocksInVolume(ctx, newBlocksVol.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, blocksInNew, "the still-live block must now be attributed to the new volume")

	blocksInOld, err := h.cat.ListBlocksInVolume(ctx, oldVolumeID)
	require.NoError(t, err)
	assert.Empty(t, blocksInOld, "every live block was reassigned away from the compacted volume")
}
