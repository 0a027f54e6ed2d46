// Package compact implements wasted-space analysis, volume rewrite
// planning, and the cascade-delete side of fileset retention.
package compact

import (
	"context"
	"fmt"

	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/types"
)

// VolumeReport is one Blocks volume's wasted-space classification, the
// unit compact's planning phase selects over.
type VolumeReport struct {
	VolumeID        int64
	Name            string
	DataSize        int64 // sum of live-block sizes still attributed to this volume
	WastedSize      int64 // sum of DeletedBlock sizes recorded against this volume
	CompressedSize  int64 // RemoteVolume.Size, the finalized on-disk container size
	OldestTimestamp int64 // minimum timestamp of any fileset still referencing a live block here
	HasLiveData     bool  // false when the volume holds no live, referenced block

	CleanDelete bool
	Wasted      bool
	Small       bool
}

// BuildReport computes a VolumeReport for every Blocks volume that has
// finished uploading (Uploaded or Verified; volumes still in flight or
// already scheduled for deletion are not compaction candidates).
func BuildReport(ctx context.Context, cat *catalog.Catalog, cfg *config.Config) ([]VolumeReport, error) {
	volumes, err := cat.ListRemoteVolumes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list remote volumes: %w", err)
	}
	live, err := cat.LiveBytesByVolume(ctx)
	if err != nil {
		return nil, fmt.Errorf("live bytes by volume: %w", err)
	}
	wasted, err := cat.WastedBytesByVolume(ctx)
	if err != nil {
		return nil, fmt.Errorf("wasted bytes by volume: %w", err)
	}

	targetSize := int64(cfg.VolumeSize)
	smallLimit := int64(cfg.SmallFileSize)

	var reports []VolumeReport
	for _, v := range volumes {
		if v.Type != types.VolumeTypeBlocks {
			continue
		}
		if v.State != types.VolumeStateUploaded && v.State != types.VolumeStateVerified {
			continue
		}

		ts, hasLive, err := cat.OldestFilesetTimestamp(ctx, v.ID)
		if err != nil {
			return nil, fmt.Errorf("oldest fileset timestamp for volume %d: %w", v.ID, err)
		}

		r := VolumeReport{
			VolumeID:        v.ID,
			Name:            v.Name,
			DataSize:        live[v.Name],
			WastedSize:      wasted[v.Name],
			CompressedSize:  v.Size,
			OldestTimestamp: ts,
			HasLiveData:     hasLive,
		}
		r.CleanDelete = r.DataSize <= r.WastedSize
		if !r.CleanDelete {
			r.Wasted = wastedRatioOverThreshold(r.WastedSize, r.DataSize, targetSize, cfg.WastedThreshold)
			r.Small = r.CompressedSize <= smallLimit
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// wastedRatioOverThreshold implements the Wasted classification's OR'd
// denominators: wasted/live or wasted/target_volume_size, whichever is
// larger, compared against the configured threshold.
func wastedRatioOverThreshold(wasted, live, targetSize int64, threshold float64) bool {
	if live > 0 && float64(wasted)/float64(live) >= threshold {
		return true
	}
	if targetSize > 0 && float64(wasted)/float64(targetSize) >= threshold {
		return true
	}
	return false
}
