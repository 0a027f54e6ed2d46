package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// partiallyRecreatedKey flags a catalog rebuilt by pkg/repair from less
// than the full remote listing. Several operations (purge-broken, backup)
// must refuse to run against such a catalog per spec.md §4.7.
const partiallyRecreatedKey = "partially_recreated"

// SetPartiallyRecreated flags the catalog as built from an incomplete
// remote listing.
func (c *Catalog) SetPartiallyRecreated(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO catalog_meta (key, value) VALUES (?, '1')
		 ON CONFLICT(key) DO UPDATE SET value = '1'`, partiallyRecreatedKey)
	if err != nil {
		return fmt.Errorf("set partially recreated flag: %w", err)
	}
	return nil
}

// IsPartiallyRecreated reports whether repair ever had to mark this
// catalog partial.
func (c *Catalog) IsPartiallyRecreated(ctx context.Context) (bool, error) {
	row := c.db.QueryRowContext(ctx, `SELECT value FROM catalog_meta WHERE key = ?`, partiallyRecreatedKey)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read partially recreated flag: %w", err)
	}
	return v == "1", nil
}

// SetPartiallyRecreated mirrors Catalog.SetPartiallyRecreated on the run's
// Batch: repair does this write inside the same transaction as the rows it
// reconstructs, so a crash partway through never leaves the flag set
// without the data it describes, or vice versa.
func (b *Batch) SetPartiallyRecreated(ctx context.Context) error {
	_, err := b.tx.ExecContext(ctx,
		`INSERT INTO catalog_meta (key, value) VALUES (?, '1')
		 ON CONFLICT(key) DO UPDATE SET value = '1'`, partiallyRecreatedKey)
	if err != nil {
		return fmt.Errorf("set partially recreated flag: %w", err)
	}
	return nil
}
