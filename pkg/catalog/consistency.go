package catalog

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/cuemby/coldvault/pkg/cverrors"
)

// ConsistencyReport summarizes the result of VerifyConsistency.
type ConsistencyReport struct {
	OrphanBlocks         []int64 // in Block, referenced by nothing
	DanglingEntries      []int64 // BlocksetEntry rows whose block_id doesn't exist
	DanglingBlocklists   []int64 // BlocklistHash rows whose hash has no matching block
	UnreferencedFileRows []int64 // FileLookup rows with no FilesetEntry at all

	// BadBlocksetLength holds blockset ids whose recorded Length doesn't
	// equal the sum of their blocks' sizes — the length half of
	// invariant 4. Checked unconditionally; it's as cheap as the other
	// SQL-side checks above.
	BadBlocksetLength []int64

	// MisSizedBlocks and BadHashLength are only populated when strict is
	// true: they check the blocksize/blockhash_size shape invariant 4
	// implies (every block equals blocksize except the last one in its
	// blockset, and every hash is the expected encoded length) without
	// needing a block's actual payload, which the catalog doesn't hold.
	// Recomputing a Blockset's full_hash against its concatenated block
	// content requires fetching that content from remote volumes, which
	// is pkg/engine.Test's job, not this catalog-only check's.
	MisSizedBlocks []int64
	BadHashLength  []int64
}

// OK reports whether no inconsistency was found.
func (r *ConsistencyReport) OK() bool {
	return len(r.OrphanBlocks) == 0 && len(r.DanglingEntries) == 0 &&
		len(r.DanglingBlocklists) == 0 && len(r.UnreferencedFileRows) == 0 &&
		len(r.BadBlocksetLength) == 0 && len(r.MisSizedBlocks) == 0 && len(r.BadHashLength) == 0
}

// VerifyConsistency checks invariants 1-5 from spec.md §3: every block is
// referenced by some BlocksetEntry or BlocklistHash, and vice versa, plus
// the length half of invariant 4 (a Blockset's recorded Length equals the
// sum of its blocks' sizes). It builds an in-memory roaring bitmap of
// referenced block ids to do the membership check in one pass, rather
// than an O(n^2) SQL join, and falls back to targeted SQL NOT EXISTS
// queries for the directional orphan checks a bitmap can't express on its
// own.
//
// blockSize and blockHashSize are the configured block size and digest
// byte length; strict additionally checks the block-shape half of
// invariant 4 (every block sized exactly blockSize except the last one in
// its blockset, every hash the expected encoded length) — skipped by
// default since, unlike the other checks here, it touches every block row
// rather than just the referenced/dangling edges.
func (c *Catalog) VerifyConsistency(ctx context.Context, blockSize, blockHashSize int64, strict bool) (*ConsistencyReport, error) {
	referenced := roaring.New()

	entryRows, err := c.db.QueryContext(ctx, `SELECT DISTINCT block_id FROM blockset_entry`)
	if err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, fmt.Errorf("scan blockset_entry: %w", err))
	}
	if err := collectBlockIDs(entryRows, referenced); err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}

	blocklistRows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT b.id FROM block b JOIN blocklist_hash bh ON bh.hash = b.hash
	`)
	if err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, fmt.Errorf("scan blocklist_hash: %w", err))
	}
	if err := collectBlockIDs(blocklistRows, referenced); err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}

	all := roaring.New()
	allRows, err := c.db.QueryContext(ctx, `SELECT id FROM block`)
	if err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, fmt.Errorf("scan block: %w", err))
	}
	if err := collectBlockIDs(allRows, all); err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}

	orphans := roaring.AndNot(all, referenced)
	report := &ConsistencyReport{OrphanBlocks: toInt64Slice(orphans)}

	danglingEntries, err := c.queryIDs(ctx, `
		SELECT be.block_id FROM blockset_entry be
		LEFT JOIN block b ON b.id = be.block_id
		WHERE b.id IS NULL
	`)
	if err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}
	report.DanglingEntries = danglingEntries

	danglingBlocklists, err := c.queryIDs(ctx, `
		SELECT bh.blockset_id FROM blocklist_hash bh
		LEFT JOIN block b ON b.hash = bh.hash
		WHERE b.id IS NULL
	`)
	if err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}
	report.DanglingBlocklists = danglingBlocklists

	unreferenced, err := c.queryIDs(ctx, `
		SELECT fl.id FROM file_lookup fl
		LEFT JOIN fileset_entry fe ON fe.file_id = fl.id
		WHERE fe.file_id IS NULL
	`)
	if err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}
	report.UnreferencedFileRows = unreferenced

	badLength, err := c.queryIDs(ctx, `
		SELECT bs.id FROM blockset bs
		JOIN (
			SELECT be.blockset_id, SUM(b.size) AS total
			FROM blockset_entry be
			JOIN block b ON b.id = be.block_id
			GROUP BY be.blockset_id
		) sums ON sums.blockset_id = bs.id
		WHERE sums.total != bs.length
	`)
	if err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, fmt.Errorf("check blockset length accounting: %w", err))
	}
	report.BadBlocksetLength = badLength

	if strict {
		misSized, err := c.queryIDs(ctx, `
			SELECT be.block_id FROM blockset_entry be
			JOIN block b ON b.id = be.block_id
			WHERE b.size != ?
			AND be.idx != (
				SELECT MAX(be2.idx) FROM blockset_entry be2 WHERE be2.blockset_id = be.blockset_id
			)
		`, blockSize)
		if err != nil {
			return nil, cverrors.New(cverrors.DatabaseConsistency, fmt.Errorf("check block sizing: %w", err))
		}
		report.MisSizedBlocks = misSized

		wantHashLen := base64.StdEncoding.EncodedLen(int(blockHashSize))
		badHashLength, err := c.queryIDs(ctx, `SELECT id FROM block WHERE length(hash) != ?`, wantHashLen)
		if err != nil {
			return nil, cverrors.New(cverrors.DatabaseConsistency, fmt.Errorf("check block hash length: %w", err))
		}
		report.BadHashLength = badHashLength
	}

	return report, nil
}

func collectBlockIDs(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close() error
}, into *roaring.Bitmap) error {
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		into.Add(uint32(id))
	}
	return rows.Err()
}

func (c *Catalog) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("consistency query: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func toInt64Slice(bm *roaring.Bitmap) []int64 {
	if bm.IsEmpty() {
		return nil
	}
	out := make([]int64, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int64(it.Next()))
	}
	return out
}
