package restore

import (
	"fmt"
	"os"
	"sync"
)

// pendingWrite is one (file, block index) pair still waiting on a block's
// payload after Phase 2 reuse.
type pendingWrite struct {
	file *PlannedFile
	idx  int
}

// blockConsumers maps a needed block id to every planned write still
// outstanding for it.
func blockConsumers(plan *Plan) map[int64][]pendingWrite {
	out := make(map[int64][]pendingWrite)
	for _, pf := range plan.Files {
		for i, id := range pf.BlockIDs {
			if !pf.NeedsBlockIdx[i] {
				continue
			}
			out[id] = append(out[id], pendingWrite{file: pf, idx: i})
		}
	}
	return out
}

// blockOffset returns the byte offset of pf's idx'th block within its
// reconstructed content stream.
func blockOffset(plan *Plan, pf *PlannedFile, idx int) int64 {
	var off int64
	for i := 0; i < idx; i++ {
		off += plan.Blocks[pf.BlockIDs[i]].Size
	}
	return off
}

// groupByVolume partitions consumers' block ids by the volume that
// currently holds each one's payload.
func groupByVolume(plan *Plan, consumers map[int64][]pendingWrite) map[int64][]int64 {
	out := make(map[int64][]int64)
	for blockID := range consumers {
		vid := plan.Blocks[blockID].VolumeID
		out[vid] = append(out[vid], blockID)
	}
	return out
}

// fileCache serializes opening/creating target files shared across
// concurrently-processed volumes.
type fileCache struct {
	mu    sync.Mutex
	files map[string]*os.File
	opts  Options
}

func newFileCache(opts Options) *fileCache {
	return &fileCache{files: make(map[string]*os.File), opts: opts}
}

func (fc *fileCache) get(pf *PlannedFile) (*os.File, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if f, ok := fc.files[pf.TargetPath]; ok {
		return f, nil
	}
	f, err := prepareTarget(pf, fc.opts)
	if err != nil {
		return nil, err
	}
	fc.files[pf.TargetPath] = f
	return f, nil
}

func (fc *fileCache) closeAll() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, f := range fc.files {
		f.Close()
	}
}

// applyBlock writes payload to every pending consumer of blockID at its
// resolved offset within each target file.
func applyBlock(plan *Plan, fc *fileCache, blockID int64, payload []byte, consumers map[int64][]pendingWrite, res *Result, mu *sync.Mutex) error {
	for _, pw := range consumers[blockID] {
		f, err := fc.get(pw.file)
		if err != nil {
			return fmt.Errorf("open target for block %d: %w", blockID, err)
		}
		off := blockOffset(plan, pw.file, pw.idx)
		if _, err := f.WriteAt(payload, off); err != nil {
			return fmt.Errorf("write block %d to %s: %w", blockID, pw.file.TargetPath, err)
		}
		mu.Lock()
		res.BlocksFetched++
		res.BytesWritten += int64(len(payload))
		mu.Unlock()
	}
	return nil
}
