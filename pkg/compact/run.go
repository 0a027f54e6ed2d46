package compact

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/events"
	"github.com/cuemby/coldvault/pkg/log"
	"github.com/cuemby/coldvault/pkg/volume"
	"github.com/rs/zerolog"
)

// RunResult combines one retention pass and the wasted-space rewrite it
// may trigger.
type RunResult struct {
	Retention *RetentionResult
	Rewrite   *Result
}

// Run performs one full compaction pass: retention first (so filesets
// past their keep policy are gone, and the volumes they held live data
// in become rewrite/delete candidates), then wasted-space classification
// and, if any trigger fires, the rewrite itself. Both engine.Backup's
// inline post-backup call and the standalone compact() operation share
// this single entry point.
func Run(ctx context.Context, cat *catalog.Catalog, mgr *volume.Manager, cfg *config.Config, broker *events.Broker) (*RunResult, error) {
	now := time.Now()
	retention, err := ApplyRetention(ctx, cat, cfg, now, broker)
	if err != nil {
		return nil, fmt.Errorf("retention pass: %w", err)
	}

	reports, err := BuildReport(ctx, cat, cfg)
	if err != nil {
		return nil, fmt.Errorf("build wasted-space report: %w", err)
	}
	plan := BuildPlan(reports, cfg)

	rewrite, err := Execute(ctx, cat, mgr, plan, cfg, broker)
	if err != nil {
		return nil, fmt.Errorf("execute compaction plan: %w", err)
	}

	return &RunResult{Retention: retention, Rewrite: rewrite}, nil
}

// Trigger drives Run on a fixed interval for the standalone compact()
// operation's optional schedule, independent of the per-backup inline
// call. One reconcile pass runs at a time under mu, the same ticker-loop-
// with-mutex shape as the teacher's scheduler/reconciler packages.
type Trigger struct {
	cat    *catalog.Catalog
	mgr    *volume.Manager
	cfg    *config.Config
	broker *events.Broker
	logger zerolog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	interval time.Duration
}

// NewTrigger creates a Trigger that calls Run once per interval once
// started. It does not start the ticker itself; call Start.
func NewTrigger(cat *catalog.Catalog, mgr *volume.Manager, cfg *config.Config, broker *events.Broker, interval time.Duration) *Trigger {
	return &Trigger{
		cat:      cat,
		mgr:      mgr,
		cfg:      cfg,
		broker:   broker,
		logger:   log.WithComponent("compact-trigger"),
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

// Start begins the ticker loop in a background goroutine.
func (t *Trigger) Start() {
	go t.run()
}

// Stop halts the ticker loop. Safe to call once; a second call panics,
// same as closing any channel twice.
func (t *Trigger) Stop() {
	close(t.stopCh)
}

func (t *Trigger) run() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.reconcile(); err != nil {
				t.logger.Error().Err(err).Msg("scheduled compaction pass failed")
			}
		case <-t.stopCh:
			return
		}
	}
}

func (t *Trigger) reconcile() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx := context.Background()
	_, err := Run(ctx, t.cat, t.mgr, t.cfg, t.broker)
	return err
}
