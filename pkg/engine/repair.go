package engine

import (
	"context"

	"github.com/cuemby/coldvault/pkg/metrics"
	"github.com/cuemby/coldvault/pkg/repair"
)

// Repair rebuilds the catalog from the remote listing alone. Unlike
// Backup and PurgeBrokenFiles, it is never refused for an already
// partially-recreated catalog — it is the operation that fixes that flag.
func (e *Engine) Repair(ctx context.Context) (*repair.Result, error) {
	var res *repair.Result
	err := e.withLock(func() error {
		timer := metrics.NewTimer()
		r, err := repair.Recreate(ctx, e.cat, e.mgr, e.broker)
		timer.ObserveDuration(metrics.RepairDuration)
		res = r
		return err
	})
	return res, err
}
