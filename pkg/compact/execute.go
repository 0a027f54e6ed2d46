package compact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cuemby/coldvault/pkg/archive"
	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/cverrors"
	"github.com/cuemby/coldvault/pkg/events"
	"github.com/cuemby/coldvault/pkg/log"
	"github.com/cuemby/coldvault/pkg/types"
	"github.com/cuemby/coldvault/pkg/volume"
)

// Result summarizes one compaction run for the caller and the event log.
type Result struct {
	VolumesCompacted int
	BlocksRehomed    int64
	NewVolumeNames   []string
}

// Execute runs the three-step compaction algorithm against plan's selected
// volumes inside one catalog transaction: stream every still-referenced
// block out into fresh Blocks/Index volume pairs, reassign Block.volume_id
// to the best surviving duplicate, then transition the old volumes (and,
// once no longer needed, their paired Index volumes) to Deleting. Any
// consistency-check failure aborts and rolls back the whole run; nothing
// about it is left half-applied.
func Execute(ctx context.Context, cat *catalog.Catalog, mgr *volume.Manager, plan *Plan, cfg *config.Config, broker *events.Broker) (*Result, error) {
	logger := log.WithOperation("compact")
	if len(plan.Selected) == 0 {
		return &Result{}, nil
	}
	publishCompact(broker, events.EventCompactionStart, plan.Reason)

	batch, err := cat.Begin(ctx)
	if err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = batch.Rollback()
		}
	}()

	// Every volume-lifecycle write for the rest of this run must land in
	// batch's transaction alongside the block reassignment, not compete
	// with it for the catalog's single connection. See Manager.WithCatalog.
	mgr = mgr.WithCatalog(batch)

	res := &Result{}
	for _, vr := range plan.Selected {
		blocks, err := batch.ListBlocksInVolume(ctx, vr.VolumeID)
		if err != nil {
			return nil, err
		}

		if len(blocks) > 0 {
			groups, err := rehomeBlocks(ctx, mgr, batch, vr, blocks, int64(cfg.VolumeSize))
			if err != nil {
				return nil, err
			}
			if err := reassignBlocks(ctx, batch, vr.VolumeID, len(blocks), groups); err != nil {
				return nil, err
			}
			for _, g := range groups {
				res.NewVolumeNames = append(res.NewVolumeNames, g.newVolumeName)
			}
			res.BlocksRehomed += int64(len(blocks))
		}

		if err := transitionToDeleting(ctx, mgr, batch, vr.VolumeID); err != nil {
			return nil, err
		}
		res.VolumesCompacted++
		logger.Info().Str("volume", vr.Name).Msg("compacted volume")
	}

	if err := batch.Commit(); err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}
	committed = true

	publishCompact(broker, events.EventCompactionDone,
		fmt.Sprintf("compacted %d volumes, rehomed %d blocks", res.VolumesCompacted, res.BlocksRehomed))
	return res, nil
}

// rehomeGroup is one freshly-written Blocks/Index volume pair that a
// rehome pass packed live blocks into.
type rehomeGroup struct {
	newVolumeID   int64
	newVolumeName string
	blockIDs      []int64
}

// rehomeBlocks is step 1: download vr's old Blocks volume, stream every
// block still in blocks into one or more new Blocks/Index volume pairs
// (rotating once a pair crosses volumeSize, same as the backup pipeline's
// packer), and record a DuplicateBlock for each relocated block.
func rehomeBlocks(ctx context.Context, mgr *volume.Manager, batch *catalog.Batch, vr VolumeReport, blocks []*types.Block, volumeSize int64) ([]rehomeGroup, error) {
	oldVol, err := batch.GetRemoteVolume(ctx, vr.VolumeID)
	if err != nil {
		return nil, err
	}
	rc, err := mgr.Fetch(ctx, oldVol)
	if err != nil {
		return nil, fmt.Errorf("fetch volume %s for compaction: %w", oldVol.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read volume %s for compaction: %w", oldVol.Name, err)
	}
	reader, err := archive.NewDblockReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open volume %s for compaction: %w", oldVol.Name, err)
	}

	var groups []rehomeGroup
	var open *openRehomeVolume
	for _, blk := range blocks {
		payload, err := reader.Block(blk.Hash)
		if err != nil {
			return nil, fmt.Errorf("read block %s from %s: %w", blk.Hash, oldVol.Name, err)
		}

		if open == nil {
			open, err = beginRehomeVolume(ctx, mgr)
			if err != nil {
				return nil, err
			}
		}

		size, err := open.dw.AddBlock(blk.Hash, payload)
		if err != nil {
			return nil, err
		}
		open.idxw.AddVolumeEntry(blk.Hash, int64(len(payload)))
		open.blockIDs = append(open.blockIDs, blk.ID)

		if size >= volumeSize {
			g, err := finalizeRehomeVolume(ctx, mgr, batch, open)
			if err != nil {
				return nil, err
			}
			groups = append(groups, *g)
			open = nil
		}
	}
	if open != nil {
		g, err := finalizeRehomeVolume(ctx, mgr, batch, open)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}

	for _, g := range groups {
		for _, id := range g.blockIDs {
			if err := batch.RecordDuplicateBlock(ctx, id, g.newVolumeID); err != nil {
				return nil, err
			}
		}
	}
	return groups, nil
}

type openRehomeVolume struct {
	rv       *types.RemoteVolume
	buf      *bytes.Buffer
	dw       *archive.DblockWriter
	idxBuf   *bytes.Buffer
	idxw     *archive.DindexWriter
	blockIDs []int64
}

func beginRehomeVolume(ctx context.Context, mgr *volume.Manager) (*openRehomeVolume, error) {
	rv, err := mgr.Begin(ctx, types.VolumeTypeBlocks)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	idxBuf := &bytes.Buffer{}
	return &openRehomeVolume{
		rv:     rv,
		buf:    buf,
		dw:     archive.NewDblockWriter(buf),
		idxBuf: idxBuf,
		idxw:   archive.NewDindexWriter(idxBuf, rv.Name),
	}, nil
}

func finalizeRehomeVolume(ctx context.Context, mgr *volume.Manager, batch *catalog.Batch, ov *openRehomeVolume) (*rehomeGroup, error) {
	if err := ov.dw.Close(); err != nil {
		return nil, err
	}
	if err := mgr.Upload(ctx, ov.rv, bytes.NewReader(ov.buf.Bytes()), int64(ov.buf.Len()), hashBytes(ov.buf.Bytes())); err != nil {
		return nil, err
	}

	idxRV, err := mgr.Begin(ctx, types.VolumeTypeIndex)
	if err != nil {
		return nil, err
	}
	if err := ov.idxw.Close(); err != nil {
		return nil, err
	}
	if err := mgr.Upload(ctx, idxRV, bytes.NewReader(ov.idxBuf.Bytes()), int64(ov.idxBuf.Len()), hashBytes(ov.idxBuf.Bytes())); err != nil {
		return nil, err
	}
	if err := batch.LinkIndexToBlockVolume(ctx, idxRV.ID, ov.rv.ID); err != nil {
		return nil, err
	}

	return &rehomeGroup{newVolumeID: ov.rv.ID, newVolumeName: ov.rv.Name, blockIDs: ov.blockIDs}, nil
}

// reassignBlocks is step 2: point every live block's Block.volume_id at its
// best surviving duplicate and consume the now-redundant DuplicateBlock row
// that recorded it. Aborts the whole run if the three counts the algorithm
// requires to agree (target, update, delete) ever diverge.
func reassignBlocks(ctx context.Context, batch *catalog.Batch, oldVolumeID int64, liveCount int, groups []rehomeGroup) error {
	var updateCount, deleteCount int64
	for _, g := range groups {
		for _, id := range g.blockIDs {
			best, found, err := batch.BestDuplicateVolume(ctx, id)
			if err != nil {
				return err
			}
			if !found {
				return cverrors.Newf(cverrors.DatabaseConsistency,
					"compaction of volume %d: block %d has no recorded duplicate, aborting", oldVolumeID, id)
			}
			if err := batch.SetBlockVolume(ctx, id, best); err != nil {
				return err
			}
			updateCount++
		}
		n, err := batch.DeleteDuplicateBlockEntries(ctx, g.blockIDs, g.newVolumeID)
		if err != nil {
			return err
		}
		deleteCount += n
	}

	target := int64(liveCount)
	if target != updateCount || updateCount != deleteCount {
		return cverrors.Newf(cverrors.DatabaseConsistency,
			"compaction of volume %d aborted: target_count=%d update_count=%d delete_count=%d",
			oldVolumeID, target, updateCount, deleteCount)
	}
	return nil
}

// transitionToDeleting is step 3: mark the old Blocks volume Deleting, then
// its paired Index volume too once nothing else still references it.
// Deletions are issued in dependency order, Blocks before Index.
func transitionToDeleting(ctx context.Context, mgr *volume.Manager, batch *catalog.Batch, blockVolumeID int64) error {
	v, err := batch.GetRemoteVolume(ctx, blockVolumeID)
	if err != nil {
		return err
	}
	if err := mgr.BeginDelete(ctx, v); err != nil {
		return err
	}

	indexVolumeID, found, err := batch.IndexVolumeForBlockVolume(ctx, blockVolumeID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	stillLinked, err := batch.IndexVolumeHasOtherLiveLinks(ctx, indexVolumeID, blockVolumeID)
	if err != nil {
		return err
	}
	if stillLinked {
		return nil
	}
	idxVol, err := batch.GetRemoteVolume(ctx, indexVolumeID)
	if err != nil {
		return err
	}
	return mgr.BeginDelete(ctx, idxVol)
}

func publishCompact(broker *events.Broker, kind events.EventType, message string) {
	if broker == nil {
		return
	}
	broker.Publish(&events.Event{Type: kind, Message: message})
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
