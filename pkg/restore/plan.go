package restore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/types"
)

// PlannedFile is one target file (or folder/symlink) this restore will
// produce, with its content blockset already resolved to an ordered
// sequence of catalog block ids.
type PlannedFile struct {
	FileID       int64
	SourcePath   string
	TargetPath   string
	EntryType    types.EntryType
	Size         int64
	LastModified int64
	BlocksetID   int64
	MetadataID   int64

	// BlockIDs is the content blockset's ordered block ids (empty for
	// folders/symlinks, whose payload is carried entirely by metadata).
	BlockIDs []int64

	// NeedsBlockIdx tracks, per block index, whether Phase 2 (reuse) has
	// already satisfied that block from what's on disk.
	NeedsBlockIdx []bool
}

// NeededBlock is one distinct content block this restore must make
// available (from disk reuse or a remote fetch) to satisfy Plan.Files.
type NeededBlock struct {
	BlockID  int64
	Hash     string
	Size     int64
	VolumeID int64
}

// Plan is the result of Phase 1: the resolved file list and the distinct
// set of blocks it requires.
type Plan struct {
	FilesetID int64
	Files     []*PlannedFile
	Blocks    map[int64]*NeededBlock // keyed by BlockID
}

// resolveFilesetID picks the fileset to restore: FilesetID if given,
// otherwise the fileset matching Timestamp, otherwise the most recent.
func resolveFilesetID(ctx context.Context, cat *catalog.Catalog, opts Options) (int64, error) {
	if opts.FilesetID != 0 {
		return opts.FilesetID, nil
	}
	filesets, err := cat.ListFilesets(ctx)
	if err != nil {
		return 0, err
	}
	if len(filesets) == 0 {
		return 0, fmt.Errorf("no filesets recorded in catalog")
	}
	if opts.Timestamp == 0 {
		return filesets[0].ID, nil
	}
	for _, fs := range filesets {
		if fs.Timestamp == opts.Timestamp {
			return fs.ID, nil
		}
	}
	return 0, fmt.Errorf("no fileset recorded at timestamp %d", opts.Timestamp)
}

// BuildPlan is Phase 1: resolves the fileset's file list, maps source
// paths to target paths by stripping their largest common prefix and
// prepending targetDir, and resolves every File entry's content blockset
// to its ordered block ids.
func BuildPlan(ctx context.Context, batch *catalog.Batch, filesetID int64, targetDir, pathPrefix string) (*Plan, error) {
	rows, err := batch.FilesetFiles(ctx, filesetID)
	if err != nil {
		return nil, err
	}

	var selected []catalog.FilesetFile
	for _, r := range rows {
		if pathPrefix != "" && !strings.HasPrefix(r.Path, pathPrefix) {
			continue
		}
		selected = append(selected, r)
	}
	if len(selected) == 0 {
		return &Plan{FilesetID: filesetID, Blocks: map[int64]*NeededBlock{}}, nil
	}

	prefix := commonDirPrefix(selected)

	plan := &Plan{FilesetID: filesetID, Blocks: make(map[int64]*NeededBlock)}
	for _, r := range selected {
		rel := strings.TrimPrefix(r.Path, prefix)
		target := filepath.Join(targetDir, rel)

		pf := &PlannedFile{
			FileID:       r.FileID,
			SourcePath:   r.Path,
			TargetPath:   target,
			EntryType:    r.EntryType,
			Size:         r.Size,
			LastModified: r.LastModified,
			BlocksetID:   r.BlocksetID,
			MetadataID:   r.MetadataID,
		}

		if r.EntryType == types.EntryTypeFile {
			entries, err := batch.BlocksetEntries(ctx, r.BlocksetID)
			if err != nil {
				return nil, fmt.Errorf("resolve blockset %d for %s: %w", r.BlocksetID, r.Path, err)
			}
			pf.BlockIDs = make([]int64, len(entries))
			pf.NeedsBlockIdx = make([]bool, len(entries))
			for i, e := range entries {
				pf.BlockIDs[i] = e.BlockID
				pf.NeedsBlockIdx[i] = true
				if _, ok := plan.Blocks[e.BlockID]; ok {
					continue
				}
				blk, err := batch.GetBlock(ctx, e.BlockID)
				if err != nil {
					return nil, err
				}
				plan.Blocks[e.BlockID] = &NeededBlock{BlockID: blk.ID, Hash: blk.Hash, Size: blk.Size, VolumeID: blk.VolumeID}
			}
		}

		plan.Files = append(plan.Files, pf)
	}
	return plan, nil
}

// commonDirPrefix returns the longest common leading-directory prefix
// (ending in a path separator) shared by every selected file's path.
func commonDirPrefix(rows []catalog.FilesetFile) string {
	if len(rows) == 0 {
		return ""
	}
	segs := strings.Split(strings.Trim(rows[0].Path, string(filepath.Separator)), string(filepath.Separator))
	common := segs[:len(segs)-1] // exclude the file's own base name

	for _, r := range rows[1:] {
		s := strings.Split(strings.Trim(r.Path, string(filepath.Separator)), string(filepath.Separator))
		if len(s) > 0 {
			s = s[:len(s)-1]
		}
		common = commonSegments(common, s)
	}
	if len(common) == 0 {
		return string(filepath.Separator)
	}
	return string(filepath.Separator) + strings.Join(common, string(filepath.Separator)) + string(filepath.Separator)
}

func commonSegments(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}
