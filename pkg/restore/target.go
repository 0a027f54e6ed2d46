package restore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/coldvault/pkg/types"
)

// prepareTarget creates pf's parent directories and opens (or creates) its
// target file, honoring the Overwrite/RenameOnConflict policy. Folder and
// Symlink entries never reach here; callers only call it for File entries.
func prepareTarget(pf *PlannedFile, opts Options) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(pf.TargetPath), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dirs for %s: %w", pf.TargetPath, err)
	}

	if _, err := os.Stat(pf.TargetPath); err == nil {
		switch {
		case opts.RenameOnConflict:
			pf.TargetPath = nextAvailableName(pf.TargetPath)
		case !opts.Overwrite:
			return nil, fmt.Errorf("target %s already exists", pf.TargetPath)
		}
	}

	// ReuseLocalBlocks (Phase 2) may already have sized this file in place
	// to pf.Size and left byte ranges that match the plan untouched, so
	// they're never rewritten here. Opening with O_TRUNC would zero the
	// whole file out before that content ever gets credited; open
	// read/write instead and set the length explicitly, which is a no-op
	// when Phase 2 already did it and correctly sizes a fresh file
	// otherwise.
	f, err := os.OpenFile(pf.TargetPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open target %s: %w", pf.TargetPath, err)
	}
	if err := f.Truncate(pf.Size); err != nil {
		f.Close()
		return nil, fmt.Errorf("size target %s: %w", pf.TargetPath, err)
	}
	return f, nil
}

// nextAvailableName appends an incrementing " (n)" suffix before the
// extension until it finds a path that doesn't exist.
func nextAvailableName(path string) string {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// ensureDirTree creates every Folder entry's own directory, plus every
// File and Symlink entry's parent directory, so Phase 3 never races a
// missing ancestor directory against concurrent volume fetches.
func ensureDirTree(plan *Plan) error {
	for _, pf := range plan.Files {
		dir := pf.TargetPath
		if pf.EntryType != types.EntryTypeFolder {
			dir = filepath.Dir(pf.TargetPath)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
