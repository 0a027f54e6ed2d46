package compact

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/cverrors"
	"github.com/cuemby/coldvault/pkg/events"
	"github.com/cuemby/coldvault/pkg/log"
	"github.com/cuemby/coldvault/pkg/types"
)

// RetentionResult summarizes one retention pass.
type RetentionResult struct {
	FilesetsDeleted          int
	FilesVolumesTransitioned int
	FileLookupsOrphaned      int
}

// SelectFilesetsToDrop applies the keep-time and keep-versions rules to
// filesets (most-recent-first, ListFilesets's order) and returns the ones
// retention should remove. A fileset survives if it satisfies either
// configured rule; the single most recent fileset always survives, so a
// destination's backup history is never emptied outright by a
// misconfigured policy. Returns nil (nothing to drop) if neither rule is
// configured.
func SelectFilesetsToDrop(filesets []*types.Fileset, cfg *config.Config, now time.Time) []*types.Fileset {
	if len(filesets) == 0 || (cfg.KeepVersions <= 0 && cfg.KeepTime <= 0) {
		return nil
	}

	keep := make(map[int64]bool, len(filesets))
	keep[filesets[0].ID] = true

	if cfg.KeepVersions > 0 {
		for i, fs := range filesets {
			if i < cfg.KeepVersions {
				keep[fs.ID] = true
			}
		}
	}
	if cfg.KeepTime > 0 {
		cutoff := now.Add(-cfg.KeepTime).Unix()
		for _, fs := range filesets {
			if fs.Timestamp >= cutoff {
				keep[fs.ID] = true
			}
		}
	}

	var drop []*types.Fileset
	for _, fs := range filesets {
		if !keep[fs.ID] {
			drop = append(drop, fs)
		}
	}
	return drop
}

// ApplyRetention computes the filesets to drop and cascade-deletes them:
// their FilesetEntry rows, then every FileLookup/Metadataset/Blockset/
// BlocksetEntry/BlocklistHash/Block row nothing else references any more
// (recording each newly-orphaned Block as a DeletedBlock), then
// transitions the now-unreferenced Files volumes to Deleting in one
// update. The whole pass runs in a single transaction; a count mismatch
// aborts and rolls it back.
func ApplyRetention(ctx context.Context, cat *catalog.Catalog, cfg *config.Config, now time.Time, broker *events.Broker) (*RetentionResult, error) {
	filesets, err := cat.ListFilesets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list filesets: %w", err)
	}
	toDrop := SelectFilesetsToDrop(filesets, cfg, now)
	if len(toDrop) == 0 {
		return &RetentionResult{}, nil
	}
	return DeleteFilesets(ctx, cat, toDrop, now, broker)
}

// DeleteFilesets cascade-deletes exactly the given filesets — their
// FilesetEntry rows, then every FileLookup/Metadataset/Blockset/
// BlocksetEntry/BlocklistHash/Block row nothing else references any more,
// then transitions the now-unreferenced Files volumes to Deleting. Shared
// by ApplyRetention's policy-driven selection and an explicit
// version/time-targeted delete operation, which computes its own
// toDelete list without going through SelectFilesetsToDrop's
// always-keep-the-newest safety net.
func DeleteFilesets(ctx context.Context, cat *catalog.Catalog, toDrop []*types.Fileset, now time.Time, broker *events.Broker) (*RetentionResult, error) {
	logger := log.WithOperation("retention")
	if len(toDrop) == 0 {
		return &RetentionResult{}, nil
	}

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

	res := &RetentionResult{}
	var filesVolumeIDs []int64
	for _, fs := range toDrop {
		volID, err := batch.FilesetVolumeForFileset(ctx, fs.ID)
		if err != nil {
			return nil, err
		}
		filesVolumeIDs = append(filesVolumeIDs, volID)

		if err := batch.DeleteFileset(ctx, fs.ID); err != nil {
			return nil, err
		}
		res.FilesetsDeleted++
	}

	orphans, err := batch.OrphanedFileLookups(ctx)
	if err != nil {
		return nil, err
	}
	for _, fl := range orphans {
		if err := batch.DeleteFileLookupCascade(ctx, fl); err != nil {
			return nil, err
		}
		res.FileLookupsOrphaned++
	}

	grace := now.Add(2 * time.Hour).Unix()
	transitioned, err := batch.SetVolumesDeleting(ctx, filesVolumeIDs, grace)
	if err != nil {
		return nil, err
	}
	if int(transitioned) != len(filesVolumeIDs) {
		return nil, cverrors.Newf(cverrors.DatabaseConsistency,
			"retention: transitioned %d Files volumes, expected %d (%d filesets deleted)",
			transitioned, len(filesVolumeIDs), res.FilesetsDeleted)
	}
	res.FilesVolumesTransitioned = int(transitioned)

	if err := batch.Commit(); err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}
	committed = true

	logger.Info().Int("filesets_deleted", res.FilesetsDeleted).
		Int("files_volumes_transitioned", res.FilesVolumesTransitioned).
		Msg("retention pass complete")
	publishCompact(broker, events.EventCompactionDone,
		fmt.Sprintf("retention dropped %d filesets", res.FilesetsDeleted))
	return res, nil
}
