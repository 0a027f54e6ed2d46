package restore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/events"
	"github.com/cuemby/coldvault/pkg/volume"
)

// Run drives all four restore phases: plan, local-block reuse, volume
// fetch (pipelined or legacy), and metadata application.
func Run(ctx context.Context, cat *catalog.Catalog, mgr *volume.Manager, opts Options, broker *events.Broker) (*Result, error) {
	start := time.Now()

	filesetID, err := resolveFilesetID(ctx, cat, opts)
	if err != nil {
		return nil, fmt.Errorf("resolve fileset: %w", err)
	}

	batch, err := cat.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin plan transaction: %w", err)
	}
	plan, err := BuildPlan(ctx, batch, filesetID, opts.TargetDir, opts.PathPrefix)
	batch.Rollback()
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}
	publish(broker, events.EventRestorePlanned, fmt.Sprintf("planned %d files", len(plan.Files)))

	if err := ensureDirTree(plan); err != nil {
		return nil, err
	}

	res := &Result{FilesetID: filesetID}

	reused, err := ReuseLocalBlocks(plan, opts)
	if err != nil {
		return nil, fmt.Errorf("reuse local blocks: %w", err)
	}
	res.BlocksReused = reused

	cache := NewVolumeCache(DefaultVolumeCacheBytes)
	if opts.Legacy {
		if err := runLegacy(ctx, cat, mgr, plan, opts, cache, res); err != nil {
			return nil, err
		}
	} else {
		if err := runPipelined(ctx, cat, mgr, plan, opts, cache, res); err != nil {
			return nil, err
		}
	}

	if err := applyMetadata(plan, opts, res); err != nil {
		return nil, err
	}

	res.FilesRestored = countRestorable(plan)
	res.Duration = time.Since(start)
	publish(broker, events.EventRestoreCompleted, fmt.Sprintf("restored %d files", res.FilesRestored))
	return res, nil
}

func countRestorable(plan *Plan) int {
	n := 0
	for range plan.Files {
		n++
	}
	return n
}

func publish(broker *events.Broker, kind events.EventType, message string) {
	if broker == nil {
		return
	}
	broker.Publish(&events.Event{Type: kind, Message: message})
}

// runPipelined is Phase 3's concurrent path: every needed volume is
// downloaded and applied on its own goroutine, bounded to
// cfg.RestoreChannelBufferSize concurrent fetches so a long file list
// doesn't open hundreds of connections to the backend at once. This
// stands in for the full FileLister/BlockManager/VolumeManager/
// VolumeDownloader/VolumeDecryptor/VolumeDecompressor network: the volume
// cache (pkg/restore/volumecache.go) plays the VolumeManager's role of
// deduplicating in-flight fetches, while decompression and decryption are
// handled transparently by pkg/archive's container readers.
func runPipelined(ctx context.Context, cat *catalog.Catalog, mgr *volume.Manager, plan *Plan, opts Options, cache *VolumeCache, res *Result) error {
	consumers := blockConsumers(plan)
	if len(consumers) == 0 {
		return nil
	}
	byVolume := groupByVolume(plan, consumers)

	fc := newFileCache(opts)
	defer fc.closeAll()
	var mu sync.Mutex

	limit := opts.Cfg.RestoreChannelBufferSize
	if limit <= 0 {
		limit = 8
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)

	for volID, blockIDs := range byVolume {
		volID, blockIDs := volID, blockIDs
		eg.Go(func() error {
			return fetchVolumeBlocks(egCtx, cat, mgr, volID, blockIDs, plan, fc, consumers, cache, res, &mu)
		})
	}
	return eg.Wait()
}
