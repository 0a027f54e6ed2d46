package compact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/config"
)

func TestBuildPlan_NoTriggersFiredProducesEmptyPlan(t *testing.T) {
	cfg := config.Defaults()
	reports := []VolumeReport{
		{VolumeID: 1, Name: "v1", DataSize: 1000, WastedSize: 10},
	}
	plan := BuildPlan(reports, cfg)
	assert.Empty(t, plan.Selected)
	assert.Empty(t, plan.Reason)
}

func TestBuildPlan_CleanDeleteAlwaysSelected(t *testing.T) {
	cfg := config.Defaults()
	reports := []VolumeReport{
		{VolumeID: 1, Name: "garbage", DataSize: 0, WastedSize: 500, CleanDelete: true},
		{VolumeID: 2, Name: "fine", DataSize: 1000, WastedSize: 10},
	}
	plan := BuildPlan(reports, cfg)
	require.Len(t, plan.Selected, 1)
	assert.Equal(t, int64(1), plan.Selected[0].VolumeID)
	assert.Contains(t, plan.Reason, "clean-delete")
}

func TestBuildPlan_SmallVolumeCountOverMaxTriggersAndOrdersOldestFirst(t *testing.T) {
	cfg := config.Defaults()
	cfg.MaxSmallVolumeCount = 1
	reports := []VolumeReport{
		{VolumeID: 1, Name: "newer-small", CompressedSize: 10, Small: true, OldestTimestamp: 200},
		{VolumeID: 2, Name: "older-small", CompressedSize: 10, Small: true, OldestTimestamp: 100},
	}
	plan := BuildPlan(reports, cfg)
	require.Len(t, plan.Selected, 2)
	assert.Equal(t, int64(2), plan.Selected[0].VolumeID, "oldest-referencing-fileset volume goes first")
	assert.Equal(t, int64(1), plan.Selected[1].VolumeID)
	assert.Contains(t, plan.Reason, "small volume count")
}

func TestBuildPlan_WastedRequiresAtLeastTwoVolumesAndRatioOverThreshold(t *testing.T) {
	cfg := config.Defaults()
	cfg.WastedThreshold = 0.25

	// Single wasted volume: ratio is over threshold but only one volume, so
	// the wasted trigger must not fire on its own.
	single := []VolumeReport{
		{VolumeID: 1, Name: "v1", DataSize: 100, WastedSize: 50, Wasted: true},
	}
	plan := BuildPlan(single, cfg)
	assert.Empty(t, plan.Selected)

	both := []VolumeReport{
		{VolumeID: 1, Name: "v1", DataSize: 100, WastedSize: 50, Wasted: true, OldestTimestamp: 10},
		{VolumeID: 2, Name: "v2", DataSize: 100, WastedSize: 50, Wasted: true, OldestTimestamp: 5},
	}
	plan = BuildPlan(both, cfg)
	require.Len(t, plan.Selected, 2)
	assert.Equal(t, int64(2), plan.Selected[0].VolumeID)
}
