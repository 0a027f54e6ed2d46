package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/coldvault/pkg/archive"
	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/types"
	"github.com/cuemby/coldvault/pkg/volume"
)

// uploadedVolume is what the data block processor (and the spill
// collector) report once a Blocks volume and its paired Index volume have
// been uploaded, for progress accounting.
type uploadedVolume struct {
	blocksVolume *types.RemoteVolume
	indexVolume  *types.RemoteVolume
	blockCount   int
}

// openBlocksVolume tracks the Blocks/Index volume pair currently being
// packed, guarded by dataBlockPacker.mu so K concurrent workers can share
// it without racing.
type openBlocksVolume struct {
	rv       *types.RemoteVolume
	buf      *bytes.Buffer
	dw       *archive.DblockWriter
	idxBuf   *bytes.Buffer
	idxw     *archive.DindexWriter
	blockIDs []int64
}

// dataBlockPacker is task 6: it packs incoming new blocks into a Blocks
// volume, uploading it (with its paired Index volume) once it reaches
// volumeSize. Its spillRemainder method is task 7, the spill collector
// that flushes whatever volume is still open once the run's block stream
// has fully drained.
type dataBlockPacker struct {
	mgr        *volume.Manager
	batch      *catalog.Batch
	volumeSize int64

	mu   sync.Mutex
	open *openBlocksVolume
}

func newDataBlockPacker(mgr *volume.Manager, batch *catalog.Batch, volumeSize int64) *dataBlockPacker {
	return &dataBlockPacker{mgr: mgr, batch: batch, volumeSize: volumeSize}
}

// run is task 6: K concurrent workers draining newBlocks into the shared
// open volume, uploading and rotating it once a write crosses volumeSize.
func (p *dataBlockPacker) run(ctx context.Context, in <-chan *newBlock, out chan<- *uploadedVolume, concurrency int) error {
	defer close(out)

	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		eg.Go(func() error {
			for {
				var blk *newBlock
				select {
				case v, ok := <-in:
					if !ok {
						return nil
					}
					blk = v
				case <-egCtx.Done():
					return egCtx.Err()
				}

				uploaded, err := p.addBlock(egCtx, blk)
				if err != nil {
					return err
				}
				if uploaded != nil {
					if err := sendUploaded(egCtx, out, uploaded); err != nil {
						return err
					}
				}
			}
		})
	}
	return eg.Wait()
}

// addBlock writes blk into the shared open volume, rotating it (uploading
// the old pair, opening a fresh one) once the write crosses volumeSize.
func (p *dataBlockPacker) addBlock(ctx context.Context, blk *newBlock) (*uploadedVolume, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open == nil {
		ov, err := p.beginVolume(ctx)
		if err != nil {
			return nil, err
		}
		p.open = ov
	}

	size, err := p.open.dw.AddBlock(blk.hash, blk.data)
	if err != nil {
		return nil, err
	}
	p.open.idxw.AddVolumeEntry(blk.hash, int64(len(blk.data)))
	if len(blk.chunkHashes) > 0 {
		if err := p.open.idxw.AddBlocklist(blk.hash, []byte(strings.Join(blk.chunkHashes, ""))); err != nil {
			return nil, err
		}
	}
	p.open.blockIDs = append(p.open.blockIDs, blk.id)

	if size < p.volumeSize {
		return nil, nil
	}

	ov := p.open
	p.open = nil
	return p.finalize(ctx, ov)
}

// beginVolume registers and opens a fresh Blocks/Index volume pair.
func (p *dataBlockPacker) beginVolume(ctx context.Context) (*openBlocksVolume, error) {
	rv, err := p.mgr.Begin(ctx, types.VolumeTypeBlocks)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	idxBuf := &bytes.Buffer{}
	return &openBlocksVolume{
		rv:     rv,
		buf:    buf,
		dw:     archive.NewDblockWriter(buf),
		idxBuf: idxBuf,
		idxw:   archive.NewDindexWriter(idxBuf, rv.Name),
	}, nil
}

// finalize closes, hashes and uploads ov's Blocks/Index pair, links them
// in the catalog, and stamps every packed block's volume_id.
func (p *dataBlockPacker) finalize(ctx context.Context, ov *openBlocksVolume) (*uploadedVolume, error) {
	if len(ov.blockIDs) == 0 {
		return nil, nil
	}
	if err := ov.dw.Close(); err != nil {
		return nil, err
	}
	if err := p.mgr.Upload(ctx, ov.rv, bytes.NewReader(ov.buf.Bytes()), int64(ov.buf.Len()), hashBytes(ov.buf.Bytes())); err != nil {
		return nil, err
	}

	idxRV, err := p.mgr.Begin(ctx, types.VolumeTypeIndex)
	if err != nil {
		return nil, err
	}
	if err := ov.idxw.Close(); err != nil {
		return nil, err
	}
	if err := p.mgr.Upload(ctx, idxRV, bytes.NewReader(ov.idxBuf.Bytes()), int64(ov.idxBuf.Len()), hashBytes(ov.idxBuf.Bytes())); err != nil {
		return nil, err
	}

	if err := p.batch.LinkIndexToBlockVolume(ctx, idxRV.ID, ov.rv.ID); err != nil {
		return nil, err
	}
	for _, id := range ov.blockIDs {
		if err := p.batch.SetBlockVolume(ctx, id, ov.rv.ID); err != nil {
			return nil, err
		}
	}

	return &uploadedVolume{blocksVolume: ov.rv, indexVolume: idxRV, blockCount: len(ov.blockIDs)}, nil
}

// spillRemainder is task 7's entry point: once the new-block stream has
// fully drained, flush whatever Blocks/Index volume pair is still open,
// even though it never reached volumeSize.
func (p *dataBlockPacker) spillRemainder(ctx context.Context) (*uploadedVolume, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open == nil {
		return nil, nil
	}
	ov := p.open
	p.open = nil
	return p.finalize(ctx, ov)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sendUploaded(ctx context.Context, out chan<- *uploadedVolume, v *uploadedVolume) error {
	select {
	case out <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
