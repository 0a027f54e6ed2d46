package restore

import (
	"os"
	"time"

	"github.com/cuemby/coldvault/pkg/types"
)

// applyMetadata is Phase 4: stamps each restored entry's LastModified
// time. This is the one attribute the catalog records concretely —
// backup's metadata blockset payload is a digest of the source entry's
// attributes (pkg/backup/fileblock.go's commitMetadata), not a serialized
// permissions/ownership/symlink-target structure, so permissions,
// ownership and symlink targets cannot be reconstructed from the catalog
// alone. Folder entries get their timestamp stamped last, since writing
// into a directory updates its own mtime.
func applyMetadata(plan *Plan, opts Options, res *Result) error {
	var folders []*PlannedFile
	for _, pf := range plan.Files {
		switch pf.EntryType {
		case types.EntryTypeFolder:
			folders = append(folders, pf)
			continue
		case types.EntryTypeSymlink:
			// No target string is recorded anywhere in the catalog, only
			// a metadata digest; nothing to restore for these.
			res.FilesBroken = append(res.FilesBroken, pf.SourcePath)
			continue
		}
		if err := stampModTime(pf); err != nil {
			res.FilesBroken = append(res.FilesBroken, pf.SourcePath)
		}
	}
	for _, pf := range folders {
		_ = stampModTime(pf)
	}
	return nil
}

func stampModTime(pf *PlannedFile) error {
	t := time.Unix(pf.LastModified, 0)
	return os.Chtimes(pf.TargetPath, t, t)
}
