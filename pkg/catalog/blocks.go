package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuemby/coldvault/pkg/types"
)

// FindBlock looks up a block by its (hash, size) identity. Returns
// (nil, nil) if no such block is registered yet.
func (b *Batch) FindBlock(ctx context.Context, hash string, size int64) (*types.Block, error) {
	row := b.tx.QueryRowContext(ctx,
		`SELECT id, hash, size, volume_id FROM block WHERE hash = ? AND size = ?`, hash, size)
	var blk types.Block
	if err := row.Scan(&blk.ID, &blk.Hash, &blk.Size, &blk.VolumeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find block %s: %w", hash, err)
	}
	return &blk, nil
}

// RegisterBlock inserts a new block row bound to volumeID, the currently
// open Blocks volume. Callers must have already established via FindBlock
// that no block with this (hash, size) exists.
func (b *Batch) RegisterBlock(ctx context.Context, hash string, size, volumeID int64) (int64, error) {
	res, err := b.tx.ExecContext(ctx,
		`INSERT INTO block (hash, size, volume_id) VALUES (?, ?, ?)`, hash, size, volumeID)
	if err != nil {
		return 0, fmt.Errorf("register block %s: %w", hash, err)
	}
	return res.LastInsertId()
}

// SetBlockVolume stamps the Blocks volume a previously-registered block's
// payload was finally packed into.
func (b *Batch) SetBlockVolume(ctx context.Context, blockID, volumeID int64) error {
	_, err := b.tx.ExecContext(ctx, `UPDATE block SET volume_id = ? WHERE id = ?`, volumeID, blockID)
	if err != nil {
		return fmt.Errorf("set block %d volume: %w", blockID, err)
	}
	return nil
}

// RegisterBlockset inserts a new blockset and its ordered entries in one
// go, returning the new blockset id.
func (b *Batch) RegisterBlockset(ctx context.Context, length int64, fullHash string, blockIDs []int64) (int64, error) {
	res, err := b.tx.ExecContext(ctx,
		`INSERT INTO blockset (length, full_hash) VALUES (?, ?)`, length, fullHash)
	if err != nil {
		return 0, fmt.Errorf("register blockset: %w", err)
	}
	blocksetID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := b.tx.PrepareContext(ctx,
		`INSERT INTO blockset_entry (blockset_id, idx, block_id) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare blockset entries: %w", err)
	}
	defer stmt.Close()

	for idx, blockID := range blockIDs {
		if _, err := stmt.ExecContext(ctx, blocksetID, idx, blockID); err != nil {
			return 0, fmt.Errorf("register blockset entry %d: %w", idx, err)
		}
	}
	return blocksetID, nil
}

// RegisterBlocklistHash records that the block with the given hash is a
// blocklist block for span idx of blocksetID.
func (b *Batch) RegisterBlocklistHash(ctx context.Context, blocksetID, idx int64, hash string) error {
	_, err := b.tx.ExecContext(ctx,
		`INSERT INTO blocklist_hash (blockset_id, idx, hash) VALUES (?, ?, ?)`, blocksetID, idx, hash)
	if err != nil {
		return fmt.Errorf("register blocklist hash: %w", err)
	}
	return nil
}

// RegisterMetadataset inserts a Metadataset row pointing at blocksetID.
func (b *Batch) RegisterMetadataset(ctx context.Context, blocksetID int64) (int64, error) {
	res, err := b.tx.ExecContext(ctx, `INSERT INTO metadataset (blockset_id) VALUES (?)`, blocksetID)
	if err != nil {
		return 0, fmt.Errorf("register metadataset: %w", err)
	}
	return res.LastInsertId()
}

// GetBlock looks up a block by its surrogate id on the run's own
// transaction, mirroring Catalog.GetBlock — restore's plan phase holds a
// Batch for its whole read, so it must never also read through the
// Catalog's own *sql.DB (single connection, would deadlock).
func (b *Batch) GetBlock(ctx context.Context, id int64) (*types.Block, error) {
	row := b.tx.QueryRowContext(ctx, `SELECT id, hash, size, volume_id FROM block WHERE id = ?`, id)
	var blk types.Block
	if err := row.Scan(&blk.ID, &blk.Hash, &blk.Size, &blk.VolumeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("block %d not found", id)
		}
		return nil, fmt.Errorf("get block %d: %w", id, err)
	}
	return &blk, nil
}

// GetMetadataset resolves a Metadataset id to the Blockset carrying its
// payload.
func (b *Batch) GetMetadataset(ctx context.Context, id int64) (int64, error) {
	row := b.tx.QueryRowContext(ctx, `SELECT blockset_id FROM metadataset WHERE id = ?`, id)
	var blocksetID int64
	if err := row.Scan(&blocksetID); err != nil {
		return 0, fmt.Errorf("get metadataset %d: %w", id, err)
	}
	return blocksetID, nil
}

// GetBlockset returns a blockset's length and full hash.
func (b *Batch) GetBlockset(ctx context.Context, id int64) (*types.Blockset, error) {
	row := b.tx.QueryRowContext(ctx, `SELECT id, length, full_hash FROM blockset WHERE id = ?`, id)
	var bs types.Blockset
	if err := row.Scan(&bs.ID, &bs.Length, &bs.FullHash); err != nil {
		return nil, fmt.Errorf("get blockset %d: %w", id, err)
	}
	return &bs, nil
}

// ListBlocklistHashes returns a blockset's ordered top-level blocklist
// block hashes (the chunk pointers recorded by RegisterBlocklistHash), or
// an empty slice for a blockset small enough to need none. Used to stamp
// a fileset entry's dlist row with its blocklists regardless of whether
// the entry's blockset was built fresh in this run or inherited from an
// earlier one, so every dlist is self-sufficient for repair.
func (b *Batch) ListBlocklistHashes(ctx context.Context, blocksetID int64) ([]string, error) {
	rows, err := b.tx.QueryContext(ctx,
		`SELECT hash FROM blocklist_hash WHERE blockset_id = ? ORDER BY idx`, blocksetID)
	if err != nil {
		return nil, fmt.Errorf("list blocklist hashes for blockset %d: %w", blocksetID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// BlocksetEntries returns a blockset's ordered (index, blockID) pairs.
func (b *Batch) BlocksetEntries(ctx context.Context, blocksetID int64) ([]types.BlocksetEntry, error) {
	rows, err := b.tx.QueryContext(ctx,
		`SELECT blockset_id, idx, block_id FROM blockset_entry WHERE blockset_id = ? ORDER BY idx`, blocksetID)
	if err != nil {
		return nil, fmt.Errorf("list blockset entries: %w", err)
	}
	defer rows.Close()

	var entries []types.BlocksetEntry
	for rows.Next() {
		var e types.BlocksetEntry
		if err := rows.Scan(&e.BlocksetID, &e.Index, &e.BlockID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetBlock looks up a block by its surrogate id, for restore's plan phase
// once BlocksetEntries has resolved a blockset to its ordered block ids.
func (c *Catalog) GetBlock(ctx context.Context, id int64) (*types.Block, error) {
	row := c.db.QueryRowContext(ctx, `SELECT id, hash, size, volume_id FROM block WHERE id = ?`, id)
	var blk types.Block
	if err := row.Scan(&blk.ID, &blk.Hash, &blk.Size, &blk.VolumeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("block %d not found", id)
		}
		return nil, fmt.Errorf("get block %d: %w", id, err)
	}
	return &blk, nil
}

// CountBlocks implements pkg/metrics.CatalogSource.
func (c *Catalog) CountBlocks(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM block`).Scan(&n)
	return n, err
}

// WastedBytesByVolume implements pkg/metrics.CatalogSource: the sum of
// DeletedBlock sizes, grouped by the remote_volume name they reference.
func (c *Catalog) WastedBytesByVolume(ctx context.Context) (map[string]int64, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT rv.name, COALESCE(SUM(db.size), 0)
		FROM deleted_block db
		JOIN remote_volume rv ON rv.id = db.volume_id
		GROUP BY rv.name
	`)
	if err != nil {
		return nil, fmt.Errorf("wasted bytes by volume: %w", err)
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
