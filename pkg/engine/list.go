package engine

import (
	"context"
	"strings"

	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/metrics"
)

// ListOptions selects which fileset's file list to return and, optionally,
// restricts it to paths under a prefix.
type ListOptions struct {
	FilesetID  int64 // 0 = most recent fileset
	PathPrefix string
}

// ListResult is one fileset's file list.
type ListResult struct {
	FilesetID int64
	Files     []catalog.FilesetFile
}

// List returns the file list of a fileset, most recent by default.
func (e *Engine) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	var res *ListResult
	err := e.withLock(func() error {
		filesetID := opts.FilesetID
		if filesetID == 0 {
			filesets, err := e.cat.ListFilesets(ctx)
			if err != nil {
				return err
			}
			if len(filesets) == 0 {
				res = &ListResult{}
				return nil
			}
			filesetID = filesets[0].ID
		}

		batch, err := e.cat.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = batch.Rollback() }()

		files, err := batch.FilesetFiles(ctx, filesetID)
		if err != nil {
			return err
		}
		if opts.PathPrefix != "" {
			files = filterByPrefix(files, opts.PathPrefix)
		}
		res = &ListResult{FilesetID: filesetID, Files: files}
		return nil
	})
	return res, err
}

func filterByPrefix(files []catalog.FilesetFile, prefix string) []catalog.FilesetFile {
	out := make([]catalog.FilesetFile, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f.Path, prefix) {
			out = append(out, f)
		}
	}
	return out
}

// ListBroken reports every file path whose content blockset references a
// block the catalog no longer has.
func (e *Engine) ListBroken(ctx context.Context) ([]string, error) {
	var res []string
	err := e.withLock(func() error {
		paths, err := e.cat.BrokenFilePaths(ctx)
		if err != nil {
			return err
		}
		res = paths
		return nil
	})
	return res, err
}

// PurgeBrokenFiles removes every broken file found by ListBroken from the
// catalog, cascading orphaned metadata and blocks the same way compaction
// does.
func (e *Engine) PurgeBrokenFiles(ctx context.Context) (int, error) {
	var n int
	err := e.withLock(func() error {
		if err := e.requireNotPartiallyRecreated(ctx); err != nil {
			return err
		}

		batch, err := e.cat.Begin(ctx)
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				_ = batch.Rollback()
			}
		}()

		count, err := batch.PurgeBrokenFiles(ctx)
		if err != nil {
			return err
		}
		if err := batch.Commit(); err != nil {
			return err
		}
		committed = true

		n = count
		metrics.BrokenFilesTotal.WithLabelValues("remote").Add(float64(count))
		return nil
	})
	return n, err
}

// AffectedResult lists the fileset versions that carry an entry at Path.
type AffectedResult struct {
	Path       string
	FilesetIDs []int64
}

// ListAffected reports, for each target path, every fileset version that
// carries an entry there — the set a restore-to-a-specific-version
// decision needs to know about.
func (e *Engine) ListAffected(ctx context.Context, targets []string) ([]AffectedResult, error) {
	var res []AffectedResult
	err := e.withLock(func() error {
		for _, t := range targets {
			ids, err := e.cat.FilesetsForPath(ctx, t)
			if err != nil {
				return err
			}
			res = append(res, AffectedResult{Path: t, FilesetIDs: ids})
		}
		return nil
	})
	return res, err
}
