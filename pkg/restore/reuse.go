package restore

import (
	"io"
	"os"

	"github.com/cuemby/coldvault/pkg/blockstore"
)

// ReuseLocalBlocks is Phase 2: for every planned file whose target already
// exists on disk with a plausible prior version, hash each block-sized
// span in place and mark it satisfied (PlannedFile.NeedsBlockIdx[i] =
// false) whenever its hash already matches what the plan expects — so
// Phase 3 only has to fetch genuinely missing or changed blocks.
//
// UseLocalBlocks additionally checks the file at its recorded source path
// (useful when TargetDir differs from the original location, e.g.
// restoring into a new directory while the original tree is still present
// on disk).
func ReuseLocalBlocks(plan *Plan, opts Options) (blocksReused int64, err error) {
	if !opts.UseLocalBlocks && !opts.Overwrite {
		return 0, nil
	}
	for _, pf := range plan.Files {
		if len(pf.BlockIDs) == 0 {
			continue
		}

		var candidates []reuseCandidate
		if opts.Overwrite && !opts.RenameOnConflict {
			// Phase 3 will write back into this same path, so matched
			// byte ranges only survive if the file is already the right
			// length going into the scan below.
			candidates = append(candidates, reuseCandidate{path: pf.TargetPath, inPlace: true})
		}
		if opts.UseLocalBlocks && pf.SourcePath != pf.TargetPath {
			candidates = append(candidates, reuseCandidate{path: pf.SourcePath})
		}

		for _, c := range candidates {
			if c.inPlace {
				if err := os.Truncate(c.path, pf.Size); err != nil {
					continue // unreadable/missing candidate, just fetch remotely
				}
			}
			n, matchErr := matchBlocksAgainstFile(plan, pf, c.path)
			if matchErr != nil {
				continue // unreadable/missing candidate, just fetch remotely
			}
			blocksReused += n
			if n > 0 {
				break
			}
		}
	}
	return blocksReused, nil
}

// reuseCandidate is one file Phase 2 can scan for matching blocks.
// inPlace marks the path Phase 3 will later write into directly, which
// must be sized to its expected final length before scanning it.
type reuseCandidate struct {
	path    string
	inPlace bool
}

// matchBlocksAgainstFile hashes each of pf's block spans in path and marks
// matching ones satisfied in pf.NeedsBlockIdx.
func matchBlocksAgainstFile(plan *Plan, pf *PlannedFile, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var matched int64
	var offset int64
	buf := make([]byte, 0)
	for i, blockID := range pf.BlockIDs {
		nb := plan.Blocks[blockID]
		if cap(buf) < int(nb.Size) {
			buf = make([]byte, nb.Size)
		}
		chunk := buf[:nb.Size]
		if _, err := f.ReadAt(chunk, offset); err != nil && err != io.EOF {
			offset += nb.Size
			continue
		}
		if blockstore.HashBlock(chunk) == nb.Hash {
			pf.NeedsBlockIdx[i] = false
			matched++
		}
		offset += nb.Size
	}
	return matched, nil
}
