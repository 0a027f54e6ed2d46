package restore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/coldvault/pkg/archive"
	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/volume"
)

// runLegacy is Phase 3's single-threaded path: one volume fetched and
// applied at a time, in no particular order. Simpler and easier to reason
// about under a cancellation than the pipelined path, at the cost of
// leaving the downloader, decompressor and decoder all idle while each
// other run in turn.
func runLegacy(ctx context.Context, cat *catalog.Catalog, mgr *volume.Manager, plan *Plan, opts Options, cache *VolumeCache, res *Result) error {
	consumers := blockConsumers(plan)
	if len(consumers) == 0 {
		return nil
	}
	byVolume := groupByVolume(plan, consumers)

	fc := newFileCache(opts)
	defer fc.closeAll()
	var mu sync.Mutex

	for volID, blockIDs := range byVolume {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fetchVolumeBlocks(ctx, cat, mgr, volID, blockIDs, plan, fc, consumers, cache, res, &mu); err != nil {
			return err
		}
	}
	return nil
}

// fetchVolumeBlocks downloads one Blocks volume (or reuses it from cache)
// and applies every one of its needed blocks to their waiting target files.
func fetchVolumeBlocks(ctx context.Context, cat *catalog.Catalog, mgr *volume.Manager, volID int64, blockIDs []int64, plan *Plan, fc *fileCache, consumers map[int64][]pendingWrite, cache *VolumeCache, res *Result, mu *sync.Mutex) error {
	vol, err := cat.GetRemoteVolume(ctx, volID)
	if err != nil {
		return fmt.Errorf("resolve volume %d: %w", volID, err)
	}

	data, cached := cache.get(vol.Name)
	if !cached {
		rc, err := mgr.Fetch(ctx, vol)
		if err != nil {
			return fmt.Errorf("fetch volume %s: %w", vol.Name, err)
		}
		defer rc.Close()

		data, err = io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read volume %s: %w", vol.Name, err)
		}
		cache.put(vol.Name, data)
	}

	reader, err := archive.NewDblockReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open volume %s: %w", vol.Name, err)
	}

	for _, blockID := range blockIDs {
		nb := plan.Blocks[blockID]
		payload, err := reader.Block(nb.Hash)
		if err != nil {
			return fmt.Errorf("read block %s from %s: %w", nb.Hash, vol.Name, err)
		}
		if err := applyBlock(plan, fc, blockID, payload, consumers, res, mu); err != nil {
			return err
		}
	}

	mu.Lock()
	res.VolumesFetched++
	mu.Unlock()
	return nil
}
