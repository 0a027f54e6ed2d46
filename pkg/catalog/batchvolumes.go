package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/coldvault/pkg/types"
)

// Batch-scoped mirrors of the Catalog volume lifecycle methods. A backup
// run hands pkg/volume.Manager a single Batch for its whole duration (the
// run's one sqlite transaction, committed at the end or rolled back on
// cancellation), rather than the Catalog's own connection — using both
// inside one run would deadlock the single-connection pool against the
// run's still-open transaction.

// CreateRemoteVolume implements pkg/volume.CatalogStore.
func (b *Batch) CreateRemoteVolume(ctx context.Context, v *types.RemoteVolume) (int64, error) {
	res, err := b.tx.ExecContext(ctx,
		`INSERT INTO remote_volume (name, type, state, size, hash, delete_grace_until) VALUES (?, ?, ?, 0, '', 0)`,
		v.Name, v.Type, v.State)
	if err != nil {
		return 0, fmt.Errorf("create remote volume %s: %w", v.Name, err)
	}
	return res.LastInsertId()
}

// SetVolumeState implements pkg/volume.CatalogStore.
func (b *Batch) SetVolumeState(ctx context.Context, id int64, state types.VolumeState) error {
	_, err := b.tx.ExecContext(ctx, `UPDATE remote_volume SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("set volume %d state: %w", id, err)
	}
	return nil
}

// FinalizeVolume implements pkg/volume.CatalogStore.
func (b *Batch) FinalizeVolume(ctx context.Context, id int64, size int64, hash string) error {
	_, err := b.tx.ExecContext(ctx,
		`UPDATE remote_volume SET state = ?, size = ?, hash = ? WHERE id = ?`,
		types.VolumeStateUploaded, size, hash, id)
	if err != nil {
		return fmt.Errorf("finalize volume %d: %w", id, err)
	}
	return nil
}

// SetVolumeDeleteGrace implements pkg/volume.CatalogStore.
func (b *Batch) SetVolumeDeleteGrace(ctx context.Context, id int64, until int64) error {
	_, err := b.tx.ExecContext(ctx, `UPDATE remote_volume SET delete_grace_until = ? WHERE id = ?`, until, id)
	if err != nil {
		return fmt.Errorf("set volume %d delete grace: %w", id, err)
	}
	return nil
}

// ListRemoteVolumes implements pkg/volume.CatalogStore.
func (b *Batch) ListRemoteVolumes(ctx context.Context) ([]*types.RemoteVolume, error) {
	rows, err := b.tx.QueryContext(ctx,
		`SELECT id, name, type, state, size, hash, delete_grace_until FROM remote_volume`)
	if err != nil {
		return nil, fmt.Errorf("list remote volumes: %w", err)
	}
	defer rows.Close()

	var out []*types.RemoteVolume
	for rows.Next() {
		var v types.RemoteVolume
		if err := rows.Scan(&v.ID, &v.Name, &v.Type, &v.State, &v.Size, &v.Hash, &v.DeleteGraceUntil); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// GetRemoteVolume mirrors Catalog.GetRemoteVolume on the run's Batch.
func (b *Batch) GetRemoteVolume(ctx context.Context, id int64) (*types.RemoteVolume, error) {
	row := b.tx.QueryRowContext(ctx,
		`SELECT id, name, type, state, size, hash, delete_grace_until FROM remote_volume WHERE id = ?`, id)
	var v types.RemoteVolume
	if err := row.Scan(&v.ID, &v.Name, &v.Type, &v.State, &v.Size, &v.Hash, &v.DeleteGraceUntil); err != nil {
		return nil, fmt.Errorf("get remote volume %d: %w", id, err)
	}
	return &v, nil
}

// LinkIndexToBlockVolume mirrors Catalog.LinkIndexToBlockVolume on the
// run's Batch.
func (b *Batch) LinkIndexToBlockVolume(ctx context.Context, indexVolumeID, blockVolumeID int64) error {
	_, err := b.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO index_block_link (index_volume_id, block_volume_id) VALUES (?, ?)`,
		indexVolumeID, blockVolumeID)
	if err != nil {
		return fmt.Errorf("link index volume %d to block volume %d: %w", indexVolumeID, blockVolumeID, err)
	}
	return nil
}

// ListBlocksInVolume mirrors Catalog.ListBlocksInVolume on the run's Batch,
// for compact's execute phase to read the volumes it is about to rewrite
// inside its own transaction.
func (b *Batch) ListBlocksInVolume(ctx context.Context, volumeID int64) ([]*types.Block, error) {
	rows, err := b.tx.QueryContext(ctx,
		`SELECT id, hash, size, volume_id FROM block WHERE volume_id = ?`, volumeID)
	if err != nil {
		return nil, fmt.Errorf("list blocks in volume %d: %w", volumeID, err)
	}
	defer rows.Close()

	var out []*types.Block
	for rows.Next() {
		var blk types.Block
		if err := rows.Scan(&blk.ID, &blk.Hash, &blk.Size, &blk.VolumeID); err != nil {
			return nil, err
		}
		out = append(out, &blk)
	}
	return out, rows.Err()
}

// RecordDuplicateBlock mirrors Catalog.RecordDuplicateBlock on the run's
// Batch.
func (b *Batch) RecordDuplicateBlock(ctx context.Context, blockID, volumeID int64) error {
	_, err := b.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO duplicate_block (block_id, volume_id) VALUES (?, ?)`, blockID, volumeID)
	if err != nil {
		return fmt.Errorf("record duplicate block %d in volume %d: %w", blockID, volumeID, err)
	}
	return nil
}

// CountDuplicateBlocks mirrors the target_count half of the compaction
// algorithm's reassignment check: how many of volumeID's blocks now have at
// least one recorded DuplicateBlock elsewhere.
func (b *Batch) CountDuplicateBlocks(ctx context.Context, volumeID int64) (int, error) {
	row := b.tx.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT dup.block_id)
		FROM duplicate_block dup
		JOIN block blk ON blk.id = dup.block_id
		WHERE blk.volume_id = ?
	`, volumeID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count duplicate blocks for volume %d: %w", volumeID, err)
	}
	return n, nil
}

// BestDuplicateVolume mirrors Catalog.BestDuplicateVolume on the run's
// Batch.
func (b *Batch) BestDuplicateVolume(ctx context.Context, blockID int64) (int64, bool, error) {
	row := b.tx.QueryRowContext(ctx,
		`SELECT MAX(volume_id) FROM duplicate_block WHERE block_id = ?`, blockID)
	var volumeID *int64
	if err := row.Scan(&volumeID); err != nil {
		return 0, false, fmt.Errorf("best duplicate volume for block %d: %w", blockID, err)
	}
	if volumeID == nil {
		return 0, false, nil
	}
	return *volumeID, true, nil
}

// DeleteDuplicateBlocksForVolume removes duplicate_block rows pointing at
// volumeID, for cleanup once that volume has actually been deleted (any
// remaining "also found in volumeID" pointer would otherwise be dangling).
func (b *Batch) DeleteDuplicateBlocksForVolume(ctx context.Context, volumeID int64) error {
	_, err := b.tx.ExecContext(ctx, `DELETE FROM duplicate_block WHERE volume_id = ?`, volumeID)
	if err != nil {
		return fmt.Errorf("delete duplicate blocks for volume %d: %w", volumeID, err)
	}
	return nil
}

// SetVolumesDeleting transitions every remote_volume in ids to Deleting in
// one UPDATE, stamping deleteGraceUntil — the single-update contract
// retention's Files-volume cleanup step relies on to cross-check its
// update count against the fileset count it just deleted. Returns how many
// rows actually changed.
func (b *Batch) SetVolumesDeleting(ctx context.Context, ids []int64, deleteGraceUntil int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, types.VolumeStateDeleting, deleteGraceUntil)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := b.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE remote_volume SET state = ?, delete_grace_until = ? WHERE id IN (%s)`, placeholders),
		args...)
	if err != nil {
		return 0, fmt.Errorf("set volumes deleting: %w", err)
	}
	return res.RowsAffected()
}

// DeleteDuplicateBlockEntries removes the duplicate_block rows recording
// that each of blockIDs also lives in volumeID, once Block.volume_id has
// itself been updated to volumeID and the separate duplicate pointer is
// redundant. Returns the number of rows actually removed, compact's
// delete_count half of the reassignment consistency check.
func (b *Batch) DeleteDuplicateBlockEntries(ctx context.Context, blockIDs []int64, volumeID int64) (int64, error) {
	if len(blockIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(blockIDs)), ",")
	args := make([]any, 0, len(blockIDs)+1)
	for _, id := range blockIDs {
		args = append(args, id)
	}
	args = append(args, volumeID)

	res, err := b.tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM duplicate_block WHERE block_id IN (%s) AND volume_id = ?`, placeholders),
		args...)
	if err != nil {
		return 0, fmt.Errorf("delete duplicate block entries for volume %d: %w", volumeID, err)
	}
	return res.RowsAffected()
}
