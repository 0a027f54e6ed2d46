package catalog

import (
	"context"
	"fmt"

	"github.com/cuemby/coldvault/pkg/types"
)

// ChangeStatistics compares the file sets of two filesets and reports
// added/deleted/modified counts split by entry kind, per spec.md §4.2.
// entryKind maps a FileLookup's sentinel/ordinary BlocksetID to its
// EntryType, matching the Folder/Symlink sentinels in pkg/types.
func (c *Catalog) ChangeStatistics(ctx context.Context, previousFilesetID, currentFilesetID int64) (*types.ChangeStats, error) {
	prev, err := c.filesetEntrySnapshot(ctx, previousFilesetID)
	if err != nil {
		return nil, fmt.Errorf("snapshot previous fileset %d: %w", previousFilesetID, err)
	}
	cur, err := c.filesetEntrySnapshot(ctx, currentFilesetID)
	if err != nil {
		return nil, fmt.Errorf("snapshot current fileset %d: %w", currentFilesetID, err)
	}

	stats := &types.ChangeStats{}
	for fileID, row := range cur {
		prevRow, existed := prev[fileID]
		switch {
		case !existed:
			bumpAdded(stats, row.kind)
		case prevRow.lastModified != row.lastModified:
			bumpModified(stats, row.kind)
		}
	}
	for fileID, row := range prev {
		if _, stillPresent := cur[fileID]; !stillPresent {
			bumpDeleted(stats, row.kind)
		}
	}
	return stats, nil
}

type fileRow struct {
	kind         types.EntryType
	lastModified int64
}

func (c *Catalog) filesetEntrySnapshot(ctx context.Context, filesetID int64) (map[int64]fileRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT fe.file_id, fe.last_modified, fl.blockset_id
		FROM fileset_entry fe
		JOIN file_lookup fl ON fl.id = fe.file_id
		WHERE fe.fileset_id = ?
	`, filesetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]fileRow)
	for rows.Next() {
		var fileID, lastModified, blocksetID int64
		if err := rows.Scan(&fileID, &lastModified, &blocksetID); err != nil {
			return nil, err
		}
		out[fileID] = fileRow{kind: entryKindFor(blocksetID), lastModified: lastModified}
	}
	return out, rows.Err()
}

func entryKindFor(blocksetID int64) types.EntryType {
	switch blocksetID {
	case types.FolderBlocksetID:
		return types.EntryTypeFolder
	case types.SymlinkBlocksetID:
		return types.EntryTypeSymlink
	default:
		return types.EntryTypeFile
	}
}

func bumpAdded(s *types.ChangeStats, kind types.EntryType) {
	switch kind {
	case types.EntryTypeFolder:
		s.AddedFolders++
	case types.EntryTypeSymlink:
		s.AddedSymlinks++
	default:
		s.AddedFiles++
	}
}

func bumpDeleted(s *types.ChangeStats, kind types.EntryType) {
	switch kind {
	case types.EntryTypeFolder:
		s.DeletedFolders++
	case types.EntryTypeSymlink:
		s.DeletedSymlinks++
	default:
		s.DeletedFiles++
	}
}

func bumpModified(s *types.ChangeStats, kind types.EntryType) {
	switch kind {
	case types.EntryTypeFolder:
		s.ModifiedFolders++
	case types.EntryTypeSymlink:
		s.ModifiedSymlinks++
	default:
		s.ModifiedFiles++
	}
}
