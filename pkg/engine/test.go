package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"

	"github.com/cuemby/coldvault/pkg/archive"
	"github.com/cuemby/coldvault/pkg/blockstore"
	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/types"
)

// TestOptions configures the test() operation's Blocks-volume sampling.
type TestOptions struct {
	SampleCount int // number of Blocks volumes to sample; 0 defaults to 1
}

// TestResult reports the outcome of both legs of test(): the relational
// consistency report and the content-hash verification of sampled volumes.
type TestResult struct {
	Consistency     *catalog.ConsistencyReport
	VolumesSampled  int
	VolumesVerified int
	BlocksVerified  int64
	Broken          []string // volume names that failed verification
}

// Test runs the catalog's relational consistency checks, then downloads a
// random sample of Uploaded/Verified Blocks volumes and recomputes every
// block's hash against its claimed value — a content-level check that
// VerifyConsistency's purely-relational bookkeeping can't catch.
func (e *Engine) Test(ctx context.Context, opts TestOptions) (*TestResult, error) {
	var res *TestResult
	err := e.withLock(func() error {
		report, err := e.cat.VerifyConsistency(ctx, int64(e.cfg.BlockSize), int64(e.cfg.HashSize), true)
		if err != nil {
			return err
		}
		res = &TestResult{Consistency: report}

		n := opts.SampleCount
		if n <= 0 {
			n = 1
		}

		volumes, err := e.cat.ListRemoteVolumes(ctx)
		if err != nil {
			return err
		}
		var candidates []*types.RemoteVolume
		for _, v := range volumes {
			if v.Type == types.VolumeTypeBlocks && (v.State == types.VolumeStateUploaded || v.State == types.VolumeStateVerified) {
				candidates = append(candidates, v)
			}
		}

		for _, v := range sampleVolumes(candidates, n) {
			res.VolumesSampled++
			ok, checked, err := e.verifyBlocksVolume(ctx, v)
			if err != nil || !ok {
				res.Broken = append(res.Broken, v.Name)
				continue
			}
			res.VolumesVerified++
			res.BlocksVerified += checked
		}
		return nil
	})
	return res, err
}

func (e *Engine) verifyBlocksVolume(ctx context.Context, v *types.RemoteVolume) (bool, int64, error) {
	rc, err := e.mgr.Fetch(ctx, v)
	if err != nil {
		return false, 0, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return false, 0, err
	}
	reader, err := archive.NewDblockReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false, 0, err
	}

	var n int64
	for _, hash := range reader.Hashes() {
		payload, err := reader.Block(hash)
		if err != nil {
			return false, n, err
		}
		if blockstore.HashBlock(payload) != hash {
			return false, n, fmt.Errorf("block %s in volume %s failed hash verification", hash, v.Name)
		}
		n++
	}
	return true, n, nil
}

func sampleVolumes(candidates []*types.RemoteVolume, n int) []*types.RemoteVolume {
	if n >= len(candidates) {
		return candidates
	}
	perm := rand.Perm(len(candidates))
	out := make([]*types.RemoteVolume, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, candidates[idx])
	}
	return out
}
