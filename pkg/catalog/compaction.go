package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuemby/coldvault/pkg/types"
)

// LiveBytesByVolume is the sum of still-referenced Block sizes, grouped by
// the RemoteVolume they currently live in — the "data_size" half of
// compact's wasted-space classification (the other half is
// WastedBytesByVolume).
func (c *Catalog) LiveBytesByVolume(ctx context.Context) (map[string]int64, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT rv.name, COALESCE(SUM(b.size), 0)
		FROM block b
		JOIN remote_volume rv ON rv.id = b.volume_id
		GROUP BY rv.name
	`)
	if err != nil {
		return nil, fmt.Errorf("live bytes by volume: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// ListBlocksInVolume lists every Block still attributed to volumeID, for
// compact's execute phase to stream into a fresh Blocks volume.
func (c *Catalog) ListBlocksInVolume(ctx context.Context, volumeID int64) ([]*types.Block, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, hash, size, volume_id FROM block WHERE volume_id = ?`, volumeID)
	if err != nil {
		return nil, fmt.Errorf("list blocks in volume %d: %w", volumeID, err)
	}
	defer rows.Close()

	var out []*types.Block
	for rows.Next() {
		var b types.Block
		if err := rows.Scan(&b.ID, &b.Hash, &b.Size, &b.VolumeID); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// OldestFilesetTimestamp returns the earliest timestamp of any fileset
// still referencing a block currently attributed to volumeID, for
// compact's oldest-first volume selection order. Returns (0, false, nil)
// if the volume holds no live, referenced block.
func (c *Catalog) OldestFilesetTimestamp(ctx context.Context, volumeID int64) (int64, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT MIN(fs.timestamp)
		FROM block b
		JOIN blockset_entry be ON be.block_id = b.id
		JOIN file_lookup fl ON fl.blockset_id = be.blockset_id
		JOIN fileset_entry fe ON fe.file_id = fl.id
		JOIN fileset fs ON fs.id = fe.fileset_id
		WHERE b.volume_id = ?
	`, volumeID)
	var ts *int64
	if err := row.Scan(&ts); err != nil {
		return 0, false, fmt.Errorf("oldest fileset timestamp for volume %d: %w", volumeID, err)
	}
	if ts == nil {
		return 0, false, nil
	}
	return *ts, true, nil
}

// IndexVolumeForBlockVolume resolves the Index volume carrying a Blocks
// volume's manifest, so compact/retention can transition the pair in
// dependency order (Blocks volume before its Index volume).
func (c *Catalog) IndexVolumeForBlockVolume(ctx context.Context, blockVolumeID int64) (int64, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT index_volume_id FROM index_block_link WHERE block_volume_id = ?`, blockVolumeID)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("index volume for block volume %d: %w", blockVolumeID, err)
	}
	return id, true, nil
}

// FilesetVolumeForFileset returns the Files (dlist) volume id that carries
// filesetID's manifest, for retention to transition it once its fileset is
// dropped.
func (c *Catalog) FilesetVolumeForFileset(ctx context.Context, filesetID int64) (int64, error) {
	row := c.db.QueryRowContext(ctx, `SELECT volume_id FROM fileset WHERE id = ?`, filesetID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("fileset volume for fileset %d: %w", filesetID, err)
	}
	return id, nil
}

// IndexVolumeForBlockVolume mirrors Catalog.IndexVolumeForBlockVolume on
// the run's Batch.
func (b *Batch) IndexVolumeForBlockVolume(ctx context.Context, blockVolumeID int64) (int64, bool, error) {
	row := b.tx.QueryRowContext(ctx,
		`SELECT index_volume_id FROM index_block_link WHERE block_volume_id = ?`, blockVolumeID)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("index volume for block volume %d: %w", blockVolumeID, err)
	}
	return id, true, nil
}

// IndexVolumeHasOtherLiveLinks reports whether indexVolumeID still links to
// a Blocks volume other than excludeBlockVolumeID that isn't already
// Deleting or Deleted, i.e. whether the Index volume is still needed once
// excludeBlockVolumeID itself goes away.
func (b *Batch) IndexVolumeHasOtherLiveLinks(ctx context.Context, indexVolumeID, excludeBlockVolumeID int64) (bool, error) {
	row := b.tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM index_block_link ibl
		JOIN remote_volume rv ON rv.id = ibl.block_volume_id
		WHERE ibl.index_volume_id = ?
		  AND ibl.block_volume_id != ?
		  AND rv.state NOT IN (?, ?)
	`, indexVolumeID, excludeBlockVolumeID, types.VolumeStateDeleting, types.VolumeStateDeleted)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check other live links for index volume %d: %w", indexVolumeID, err)
	}
	return n > 0, nil
}

// FilesetVolumeForFileset mirrors Catalog.FilesetVolumeForFileset on the
// run's Batch.
func (b *Batch) FilesetVolumeForFileset(ctx context.Context, filesetID int64) (int64, error) {
	row := b.tx.QueryRowContext(ctx, `SELECT volume_id FROM fileset WHERE id = ?`, filesetID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("fileset volume for fileset %d: %w", filesetID, err)
	}
	return id, nil
}

// DeleteFileset removes a fileset's fileset_entry rows and the fileset row
// itself. Orphaned file_lookup/metadataset/blockset/block rows are cleaned
// up separately by retention's cascade pass, since a FileLookup row can
// still be referenced by other filesets.
func (b *Batch) DeleteFileset(ctx context.Context, filesetID int64) error {
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM fileset_entry WHERE fileset_id = ?`, filesetID); err != nil {
		return fmt.Errorf("delete fileset entries for %d: %w", filesetID, err)
	}
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM fileset WHERE id = ?`, filesetID); err != nil {
		return fmt.Errorf("delete fileset %d: %w", filesetID, err)
	}
	return nil
}

// OrphanedFileLookups returns every file_lookup row no fileset_entry
// references any more, candidates for retention's cascade cleanup.
func (b *Batch) OrphanedFileLookups(ctx context.Context) ([]types.FileLookup, error) {
	rows, err := b.tx.QueryContext(ctx, `
		SELECT fl.id, fl.prefix_id, fl.path, fl.blockset_id, fl.metadata_id
		FROM file_lookup fl
		LEFT JOIN fileset_entry fe ON fe.file_id = fl.id
		WHERE fe.file_id IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("orphaned file lookups: %w", err)
	}
	defer rows.Close()

	var out []types.FileLookup
	for rows.Next() {
		var fl types.FileLookup
		if err := rows.Scan(&fl.ID, &fl.PrefixID, &fl.Path, &fl.BlocksetID, &fl.MetadataID); err != nil {
			return nil, err
		}
		out = append(out, fl)
	}
	return out, rows.Err()
}

// DeleteFileLookupCascade removes a FileLookup row and, if nothing else
// still references them, its Metadataset/Blockset/BlocksetEntry/
// BlocklistHash/Block rows — recording each newly-orphaned Block as a
// DeletedBlock first so compact's wasted-space accounting still knows
// about the bytes until the volume itself is compacted or deleted.
func (b *Batch) DeleteFileLookupCascade(ctx context.Context, fl types.FileLookup) error {
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM file_lookup WHERE id = ?`, fl.ID); err != nil {
		return fmt.Errorf("delete file lookup %d: %w", fl.ID, err)
	}

	if err := b.releaseMetadataset(ctx, fl.MetadataID); err != nil {
		return err
	}
	if fl.BlocksetID != types.FolderBlocksetID && fl.BlocksetID != types.SymlinkBlocksetID {
		if err := b.releaseBlockset(ctx, fl.BlocksetID); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batch) releaseMetadataset(ctx context.Context, metadataID int64) error {
	var stillUsed int
	if err := b.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_lookup WHERE metadata_id = ?`, metadataID).Scan(&stillUsed); err != nil {
		return fmt.Errorf("check metadataset %d usage: %w", metadataID, err)
	}
	if stillUsed > 0 {
		return nil
	}
	blocksetID, err := b.GetMetadataset(ctx, metadataID)
	if err != nil {
		return err
	}
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM metadataset WHERE id = ?`, metadataID); err != nil {
		return fmt.Errorf("delete metadataset %d: %w", metadataID, err)
	}
	return b.releaseBlockset(ctx, blocksetID)
}

func (b *Batch) releaseBlockset(ctx context.Context, blocksetID int64) error {
	var flCount, msCount int
	if err := b.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_lookup WHERE blockset_id = ?`, blocksetID).Scan(&flCount); err != nil {
		return err
	}
	if err := b.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadataset WHERE blockset_id = ?`, blocksetID).Scan(&msCount); err != nil {
		return err
	}
	if flCount+msCount > 0 {
		return nil
	}

	entries, err := b.BlocksetEntries(ctx, blocksetID)
	if err != nil {
		return err
	}
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM blockset_entry WHERE blockset_id = ?`, blocksetID); err != nil {
		return fmt.Errorf("delete blockset entries for %d: %w", blocksetID, err)
	}
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM blocklist_hash WHERE blockset_id = ?`, blocksetID); err != nil {
		return fmt.Errorf("delete blocklist hashes for %d: %w", blocksetID, err)
	}
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM blockset WHERE id = ?`, blocksetID); err != nil {
		return fmt.Errorf("delete blockset %d: %w", blocksetID, err)
	}

	for _, e := range entries {
		if err := b.releaseBlock(ctx, e.BlockID); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batch) releaseBlock(ctx context.Context, blockID int64) error {
	var stillUsed int
	if err := b.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM blockset_entry WHERE block_id = ?`, blockID).Scan(&stillUsed); err != nil {
		return err
	}
	if stillUsed > 0 {
		return nil
	}

	blk, err := b.GetBlock(ctx, blockID)
	if err != nil {
		return err
	}
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM block WHERE id = ?`, blockID); err != nil {
		return fmt.Errorf("delete block %d: %w", blockID, err)
	}
	if _, err := b.tx.ExecContext(ctx,
		`INSERT INTO deleted_block (hash, size, volume_id) VALUES (?, ?, ?)`, blk.Hash, blk.Size, blk.VolumeID); err != nil {
		return fmt.Errorf("record deleted block %d: %w", blockID, err)
	}
	return nil
}
