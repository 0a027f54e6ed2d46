package compact

import (
	"sort"
	"strings"

	"github.com/cuemby/coldvault/pkg/config"
)

// Plan is the ordered list of Blocks volumes a compaction run has decided
// to rewrite, and why.
type Plan struct {
	Selected []VolumeReport
	Reason   string
}

// BuildPlan evaluates the four OR'd compaction triggers against reports and,
// if any fire, selects volumes in the order clean-delete, then wasted, then
// small — the latter two oldest-referencing-fileset first, since old data
// is assumed stable and new data is likelier to be re-garbaged soon.
func BuildPlan(reports []VolumeReport, cfg *config.Config) *Plan {
	var clean, wasted, small []VolumeReport
	var liveTotal, wastedTotal, smallCompressedTotal int64

	for _, r := range reports {
		liveTotal += r.DataSize
		wastedTotal += r.WastedSize
		switch {
		case r.CleanDelete:
			clean = append(clean, r)
		case r.Wasted:
			wasted = append(wasted, r)
		case r.Small:
			small = append(small, r)
			smallCompressedTotal += r.CompressedSize
		}
	}

	targetSize := int64(cfg.VolumeSize)

	var reasons []string
	if len(clean) > 0 {
		reasons = append(reasons, "clean-delete volumes present")
	}
	if wastedTotal > 0 && liveTotal > 0 &&
		float64(wastedTotal)/float64(liveTotal) >= cfg.WastedThreshold && len(wasted) >= 2 {
		reasons = append(reasons, "wasted-to-live ratio over threshold across multiple volumes")
	}
	if targetSize > 0 && smallCompressedTotal > targetSize {
		reasons = append(reasons, "small volumes' combined size exceeds target volume size")
	}
	if len(small) > cfg.MaxSmallVolumeCount {
		reasons = append(reasons, "small volume count exceeds configured maximum")
	}

	if len(reasons) == 0 {
		return &Plan{}
	}

	oldestFirst := func(s []VolumeReport) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].OldestTimestamp < s[j].OldestTimestamp })
	}
	oldestFirst(wasted)
	oldestFirst(small)

	selected := make([]VolumeReport, 0, len(clean)+len(wasted)+len(small))
	selected = append(selected, clean...)
	selected = append(selected, wasted...)
	selected = append(selected, small...)

	return &Plan{Selected: selected, Reason: strings.Join(reasons, "; ")}
}
