package engine

import (
	"context"

	"github.com/cuemby/coldvault/pkg/metrics"
	"github.com/cuemby/coldvault/pkg/restore"
)

// Restore runs one restore pass against opts.TargetDir.
func (e *Engine) Restore(ctx context.Context, opts restore.Options) (*restore.Result, error) {
	if opts.Cfg == nil {
		opts.Cfg = e.cfg
	}

	var res *restore.Result
	err := e.withLock(func() error {
		timer := metrics.NewTimer()
		r, err := restore.Run(ctx, e.cat, e.mgr, opts, e.broker)
		timer.ObserveDuration(metrics.RestoreDuration)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}
