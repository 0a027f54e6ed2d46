package engine

import (
	"context"

	"github.com/cuemby/coldvault/pkg/compact"
	"github.com/cuemby/coldvault/pkg/metrics"
)

// Compact runs the standalone compact() operation: a retention pass
// followed by wasted-space classification and rewrite, independent of any
// backup run. An external scheduler (out of scope here) would invoke this
// on its own cadence, or wire a compact.Trigger over the same Engine.
func (e *Engine) Compact(ctx context.Context) (*compact.RunResult, error) {
	var res *compact.RunResult
	err := e.withLock(func() error {
		timer := metrics.NewTimer()
		r, err := compact.Run(ctx, e.cat, e.mgr, e.cfg, e.broker)
		timer.ObserveDuration(metrics.CompactionDuration)
		if err != nil {
			return err
		}
		metrics.CompactionCyclesTotal.Inc()
		if r.Rewrite != nil {
			metrics.VolumesCompactedTotal.Add(float64(r.Rewrite.VolumesCompacted))
		}
		res = r
		return nil
	})
	return res, err
}
