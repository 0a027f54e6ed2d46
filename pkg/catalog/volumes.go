package catalog

import (
	"context"
	"fmt"

	"github.com/cuemby/coldvault/pkg/types"
)

// CreateRemoteVolume inserts a new RemoteVolume row in the Temporary state.
// Implements pkg/volume.CatalogStore.
func (c *Catalog) CreateRemoteVolume(ctx context.Context, v *types.RemoteVolume) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO remote_volume (name, type, state, size, hash, delete_grace_until) VALUES (?, ?, ?, 0, '', 0)`,
		v.Name, v.Type, v.State)
	if err != nil {
		return 0, fmt.Errorf("create remote volume %s: %w", v.Name, err)
	}
	return res.LastInsertId()
}

// SetVolumeState implements pkg/volume.CatalogStore.
func (c *Catalog) SetVolumeState(ctx context.Context, id int64, state types.VolumeState) error {
	_, err := c.db.ExecContext(ctx, `UPDATE remote_volume SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("set volume %d state: %w", id, err)
	}
	return nil
}

// FinalizeVolume implements pkg/volume.CatalogStore.
func (c *Catalog) FinalizeVolume(ctx context.Context, id int64, size int64, hash string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE remote_volume SET state = ?, size = ?, hash = ? WHERE id = ?`,
		types.VolumeStateUploaded, size, hash, id)
	if err != nil {
		return fmt.Errorf("finalize volume %d: %w", id, err)
	}
	return nil
}

// SetVolumeDeleteGrace implements pkg/volume.CatalogStore.
func (c *Catalog) SetVolumeDeleteGrace(ctx context.Context, id int64, until int64) error {
	_, err := c.db.ExecContext(ctx, `UPDATE remote_volume SET delete_grace_until = ? WHERE id = ?`, until, id)
	if err != nil {
		return fmt.Errorf("set volume %d delete grace: %w", id, err)
	}
	return nil
}

// ListRemoteVolumes implements pkg/volume.CatalogStore.
func (c *Catalog) ListRemoteVolumes(ctx context.Context) ([]*types.RemoteVolume, error) {
	rows, err := c.db.QueryContext(ctx,
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

// GetRemoteVolume looks up a single RemoteVolume by id, for restore's
// block-to-volume resolution.
func (c *Catalog) GetRemoteVolume(ctx context.Context, id int64) (*types.RemoteVolume, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, name, type, state, size, hash, delete_grace_until FROM remote_volume WHERE id = ?`, id)
	var v types.RemoteVolume
	if err := row.Scan(&v.ID, &v.Name, &v.Type, &v.State, &v.Size, &v.Hash, &v.DeleteGraceUntil); err != nil {
		return nil, fmt.Errorf("get remote volume %d: %w", id, err)
	}
	return &v, nil
}

// LinkIndexToBlockVolume records that an Index volume carries the manifest
// for a Blocks volume.
func (c *Catalog) LinkIndexToBlockVolume(ctx context.Context, indexVolumeID, blockVolumeID int64) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO index_block_link (index_volume_id, block_volume_id) VALUES (?, ?)`,
		indexVolumeID, blockVolumeID)
	if err != nil {
		return fmt.Errorf("link index volume %d to block volume %d: %w", indexVolumeID, blockVolumeID, err)
	}
	return nil
}

// RecordDuplicateBlock records that blockID's payload also exists,
// byte-identical, in volumeID — left behind by a compaction re-home.
func (c *Catalog) RecordDuplicateBlock(ctx context.Context, blockID, volumeID int64) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO duplicate_block (block_id, volume_id) VALUES (?, ?)`, blockID, volumeID)
	if err != nil {
		return fmt.Errorf("record duplicate block %d in volume %d: %w", blockID, volumeID, err)
	}
	return nil
}

// BestDuplicateVolume resolves Open Question 1: among a block's recorded
// duplicates, pick MAX(volume_id) — deterministic given sqlite's
// monotonically increasing rowids, and incidentally prefers the most
// recently compacted copy.
func (c *Catalog) BestDuplicateVolume(ctx context.Context, blockID int64) (int64, bool, error) {
	row := c.db.QueryRowContext(ctx,
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

// RecordDeletedBlock records that a block's catalog references are gone
// but its volume still physically holds the bytes.
func (c *Catalog) RecordDeletedBlock(ctx context.Context, hash string, size, volumeID int64) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO deleted_block (hash, size, volume_id) VALUES (?, ?, ?)`, hash, size, volumeID)
	if err != nil {
		return fmt.Errorf("record deleted block %s: %w", hash, err)
	}
	return nil
}

// ClearDeletedBlocksForVolume removes DeletedBlock rows once volumeID
// transitions to Deleted (its physical bytes are gone, the wasted-space
// accounting no longer applies).
func (c *Catalog) ClearDeletedBlocksForVolume(ctx context.Context, volumeID int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM deleted_block WHERE volume_id = ?`, volumeID)
	if err != nil {
		return fmt.Errorf("clear deleted blocks for volume %d: %w", volumeID, err)
	}
	return nil
}
