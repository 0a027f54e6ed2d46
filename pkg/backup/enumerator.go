package backup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cuemby/coldvault/pkg/types"
)

// catalogJournalName is always excluded from enumeration, per spec.md
// §4.4's "blacklist always includes the catalog's own journal sidecar".
const catalogJournalName = ".coldvault-journal"

// enumerate walks sources and emits one sourceEntry per file/folder/
// symlink onto out, respecting the symlink and hardlink policies. It is
// task 1 of the pipeline (concurrency fixed at 1, per spec.md §4.4).
func enumerate(ctx context.Context, sources []string, symlinkPolicy types.SymlinkPolicy, hardlinkPolicy types.HardlinkPolicy, skipLargerThan int64, out chan<- *sourceEntry) error {
	defer close(out)

	seenInodes := make(map[string]bool)

	for _, root := range sources {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err != nil {
				return emit(ctx, out, &sourceEntry{path: path, broken: true, err: err})
			}
			if d.Name() == catalogJournalName {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return emit(ctx, out, &sourceEntry{path: path, broken: true, err: err})
			}

			if info.Mode()&os.ModeSymlink != 0 {
				switch symlinkPolicy {
				case types.SymlinkIgnore:
					return nil
				case types.SymlinkFollow:
					// fall through: treat as a regular file/dir at target
				default: // Store
					return emit(ctx, out, &sourceEntry{path: path, entryType: types.EntryTypeSymlink, lastModified: info.ModTime().Unix()})
				}
			}

			if d.IsDir() {
				return emit(ctx, out, &sourceEntry{path: path, entryType: types.EntryTypeFolder, lastModified: info.ModTime().Unix()})
			}

			if skipLargerThan > 0 && info.Size() > skipLargerThan {
				return nil
			}

			if info.Mode().IsRegular() && hardlinkPolicy != types.HardlinkStoreAll {
				if key, dup := hardlinkKey(info); dup {
					if seenInodes[key] {
						return nil
					}
					seenInodes[key] = true
				}
			}

			return emit(ctx, out, &sourceEntry{
				path:         path,
				entryType:    types.EntryTypeFile,
				size:         info.Size(),
				lastModified: info.ModTime().Unix(),
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func emit(ctx context.Context, out chan<- *sourceEntry, e *sourceEntry) error {
	select {
	case out <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
