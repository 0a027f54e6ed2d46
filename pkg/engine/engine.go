// Package engine wires the catalog, volume manager, destination lock and
// configuration into the operation entry points listed in spec.md §6:
// Backup, Restore, Delete, Compact, Test, Repair, List, ListBroken,
// PurgeBrokenFiles, ListAffected. It is the one constructor-wired object
// a CLI or other front end drives.
package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/cverrors"
	"github.com/cuemby/coldvault/pkg/events"
	"github.com/cuemby/coldvault/pkg/lock"
	"github.com/cuemby/coldvault/pkg/log"
	"github.com/cuemby/coldvault/pkg/volume"
)

// Engine is the single entry point for every operation coldvault exposes.
// It owns the catalog connection, the volume manager, the event broker and
// the destination lock for as long as one operation call runs.
type Engine struct {
	cat    *catalog.Catalog
	mgr    *volume.Manager
	broker *events.Broker
	lock   *lock.Lock
	cfg    *config.Config
}

// Open opens the catalog at cfg.CatalogPath, wires a volume Manager over
// backend, and starts an owned event broker. The remote-storage transport
// itself (backend) is an external collaborator per spec.md §1 and is
// supplied by the caller rather than constructed from cfg.DestinationURL.
func Open(cfg *config.Config, backend volume.Backend) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, cverrors.New(cverrors.UserInformation, err)
	}

	cat, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, fmt.Errorf("open catalog: %w", err))
	}

	broker := events.NewBroker()
	broker.Start()

	mgr := volume.NewManager(backend, cat, cfg.VolumePrefix)

	return &Engine{
		cat:    cat,
		mgr:    mgr,
		broker: broker,
		lock:   lock.New(filepath.Dir(cfg.CatalogPath)),
		cfg:    cfg,
	}, nil
}

// Close stops the event broker and closes the catalog. Safe to call once
// an Engine is no longer needed; any in-flight operation has already
// returned by the time a caller should call Close.
func (e *Engine) Close() error {
	e.broker.Stop()
	return e.cat.Close()
}

// Subscribe returns a channel of progress events for an external
// progress-reporting front end, per spec.md §9's ambient logging note.
func (e *Engine) Subscribe() events.Subscriber {
	return e.broker.Subscribe()
}

// withLock acquires the destination lock for the duration of fn, releasing
// it on return regardless of outcome. Every operation entry point below
// goes through this so two operations against the same catalog directory
// can never run concurrently, per spec.md §5.
func (e *Engine) withLock(fn func() error) error {
	if err := e.lock.TryLock(); err != nil {
		return err
	}
	defer func() {
		if err := e.lock.Unlock(); err != nil {
			log.WithComponent("engine").Warn().Err(err).Msg("failed to release destination lock")
		}
	}()
	return fn()
}

// requireNotPartiallyRecreated refuses to proceed if repair ever had to
// flag this catalog as rebuilt from an incomplete remote listing, per
// spec.md §4.7 — callers (Backup, PurgeBrokenFiles) must run Repair to a
// clean result, or accept the gap, before this succeeds again.
func (e *Engine) requireNotPartiallyRecreated(ctx context.Context) error {
	partial, err := e.cat.IsPartiallyRecreated(ctx)
	if err != nil {
		return err
	}
	if partial {
		return cverrors.New(cverrors.UserInformation,
			fmt.Errorf("catalog was only partially recreated by repair; run repair again or accept the gap before continuing"))
	}
	return nil
}
