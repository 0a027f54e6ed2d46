package engine

import (
	"context"

	"github.com/cuemby/coldvault/pkg/backup"
	"github.com/cuemby/coldvault/pkg/compact"
	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/metrics"
)

// BackupResult carries the pipeline's own result plus the retention/
// compaction pass it triggered, if any.
type BackupResult struct {
	*backup.Result
	Compaction *compact.RunResult
}

// Backup runs one backup pass, then — per spec.md §4.4's "retention /
// auto-compaction after a successful backup" rule — invokes the combined
// retention-and-rewrite pass inline if any retention knob is configured.
func (e *Engine) Backup(ctx context.Context, opts backup.Options) (*BackupResult, error) {
	if opts.Cfg == nil {
		opts.Cfg = e.cfg
	}

	var res *BackupResult
	err := e.withLock(func() error {
		if err := e.requireNotPartiallyRecreated(ctx); err != nil {
			return err
		}

		timer := metrics.NewTimer()
		r, err := backup.Run(ctx, e.cat, e.mgr, e.broker, opts)
		timer.ObserveDuration(metrics.BackupDuration)
		if err != nil {
			return err
		}
		res = &BackupResult{Result: r}

		if !retentionConfigured(opts.Cfg) {
			return nil
		}
		compaction, err := compact.Run(ctx, e.cat, e.mgr, opts.Cfg, e.broker)
		if err != nil {
			return err
		}
		res.Compaction = compaction
		return nil
	})
	return res, err
}

func retentionConfigured(cfg *config.Config) bool {
	return cfg.KeepTime > 0 || cfg.KeepVersions > 0 || cfg.RetentionPolicy != ""
}
