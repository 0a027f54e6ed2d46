// Package catalog is the embedded relational store backing coldvault's
// block/fileset/volume bookkeeping: a thin wrapper over database/sql using
// the pure-Go modernc.org/sqlite driver.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cuemby/coldvault/pkg/log"
)

// Catalog owns the on-disk sqlite database and exposes the read/write
// operations the backup, restore, compaction and repair pipelines need.
type Catalog struct {
	db   *sql.DB
	path string
}

// Open creates-or-opens the catalog at path and applies schema migrations
// inside one transaction.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// The catalog file rule ("no other process may open it for write")
	// maps naturally onto a single-connection pool: sqlite's own file lock
	// then enforces it across processes too.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	c := &Catalog{db: db, path: path}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// migrate runs every not-yet-applied entry in migrations, in order,
// inside one transaction, recording each in schema_version as it
// completes so a later Open on the same file skips it.
func (c *Catalog) migrate() error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			name       TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := tx.Query(`SELECT name FROM schema_version`)
	if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema_version: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("read schema_version: %w", err)
	}
	rows.Close()

	logger := log.WithOperation("catalog")
	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		if _, err := tx.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (name, applied_at) VALUES (?, ?)`, m.name, time.Now().Unix()); err != nil {
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		logger.Info().Str("migration", m.name).Msg("applied catalog migration")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	logger.Debug().Str("path", c.path).Msg("catalog schema migrated")
	return nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Batch wraps one write transaction: the unit of "one long-lived write
// transaction per operation phase" from spec.md §4.2/§5.
type Batch struct {
	tx   *sql.Tx
	done bool
}

// Begin opens a new Batch.
func (c *Catalog) Begin(ctx context.Context) (*Batch, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	return &Batch{tx: tx}, nil
}

// Commit finalizes the batch's writes.
func (b *Batch) Commit() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.tx.Commit()
}

// Rollback discards the batch's writes. Safe to call after Commit (no-op).
func (b *Batch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.tx.Rollback()
}
