package catalog

import (
	"context"
	"fmt"

	"github.com/cuemby/coldvault/pkg/types"
)

// brokenBlocksetsQuery selects every blockset that references a block or
// blocklist hash no longer present in the catalog: the definition of
// "broken" the list-broken-files/purge-broken-files operations share.
const brokenBlocksetsQuery = `
	SELECT be.blockset_id FROM blockset_entry be
	LEFT JOIN block b ON b.id = be.block_id
	WHERE b.id IS NULL
	UNION
	SELECT bh.blockset_id FROM blocklist_hash bh
	LEFT JOIN block b ON b.hash = bh.hash
	WHERE b.id IS NULL
`

// BrokenFilePaths returns every file path whose content can no longer be
// fully reconstructed from the catalog's own block bookkeeping.
func (c *Catalog) BrokenFilePaths(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT fl.path FROM file_lookup fl
		WHERE fl.blockset_id IN (`+brokenBlocksetsQuery+`)
		ORDER BY fl.path
	`)
	if err != nil {
		return nil, fmt.Errorf("broken file paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, rows.Err()
}

// PurgeBrokenFiles removes every FileLookup (and the FilesetEntry rows
// pointing at it) whose content blockset is broken, then releases its
// Metadataset/Blockset chain the same way retention's cascade does.
// Returns the number of files purged.
func (b *Batch) PurgeBrokenFiles(ctx context.Context) (int, error) {
	rows, err := b.tx.QueryContext(ctx, `
		SELECT DISTINCT fl.id, fl.prefix_id, fl.path, fl.blockset_id, fl.metadata_id
		FROM file_lookup fl
		WHERE fl.blockset_id IN (`+brokenBlocksetsQuery+`)
	`)
	if err != nil {
		return 0, fmt.Errorf("find broken files: %w", err)
	}
	var broken []types.FileLookup
	for rows.Next() {
		var fl types.FileLookup
		if err := rows.Scan(&fl.ID, &fl.PrefixID, &fl.Path, &fl.BlocksetID, &fl.MetadataID); err != nil {
			rows.Close()
			return 0, err
		}
		broken = append(broken, fl)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, fl := range broken {
		if _, err := b.tx.ExecContext(ctx, `DELETE FROM fileset_entry WHERE file_id = ?`, fl.ID); err != nil {
			return 0, fmt.Errorf("delete fileset entries for broken file %d: %w", fl.ID, err)
		}
		if _, err := b.tx.ExecContext(ctx, `DELETE FROM file_lookup WHERE id = ?`, fl.ID); err != nil {
			return 0, fmt.Errorf("delete broken file lookup %d: %w", fl.ID, err)
		}
		if err := b.releaseMetadataset(ctx, fl.MetadataID); err != nil {
			return 0, err
		}
		if fl.BlocksetID == types.FolderBlocksetID || fl.BlocksetID == types.SymlinkBlocksetID {
			continue
		}
		if err := b.purgeBrokenBlockset(ctx, fl.BlocksetID); err != nil {
			return 0, err
		}
	}
	return len(broken), nil
}

// purgeBrokenBlockset mirrors releaseBlockset but tolerates block rows
// that are already gone — exactly the condition that made the blockset
// broken in the first place, so releaseBlock's strict GetBlock lookup
// would fail on it.
func (b *Batch) purgeBrokenBlockset(ctx context.Context, blocksetID int64) error {
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
		if err := b.releaseBlockTolerant(ctx, e.BlockID); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batch) releaseBlockTolerant(ctx context.Context, blockID int64) error {
	var stillUsed int
	if err := b.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM blockset_entry WHERE block_id = ?`, blockID).Scan(&stillUsed); err != nil {
		return err
	}
	if stillUsed > 0 {
		return nil
	}
	blk, err := b.GetBlock(ctx, blockID)
	if err != nil {
		// Already gone: this is exactly the condition that marked the
		// blockset broken, nothing left to release.
		return nil
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
