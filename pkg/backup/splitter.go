package backup

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/coldvault/pkg/blockstore"
	"github.com/cuemby/coldvault/pkg/types"
)

// splitStream is task 4: N concurrent workers that read each regular
// file's content, cut it into fixed-size blocks, and hash each block.
// Folders, symlinks and inherited entries pass straight through.
func splitStream(ctx context.Context, in <-chan *sourceEntry, out chan<- *sourceEntry, blockSize int, concurrency int) error {
	defer close(out)

	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		eg.Go(func() error {
			for {
				var e *sourceEntry
				select {
				case v, ok := <-in:
					if !ok {
						return nil
					}
					e = v
				case <-egCtx.Done():
					return egCtx.Err()
				}

				if e.broken || e.inherited || e.entryType != types.EntryTypeFile {
					if err := forward(egCtx, out, e); err != nil {
						return err
					}
					continue
				}

				if err := readAndChunk(e, blockSize); err != nil {
					e.broken = true
					e.err = err
				}
				if err := forward(egCtx, out, e); err != nil {
					return err
				}
			}
		})
	}
	return eg.Wait()
}

func readAndChunk(e *sourceEntry, blockSize int) error {
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	hasher := sha256.New()
	buf := make([]byte, blockSize)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			hasher.Write(chunk)
			e.blockHashes = append(e.blockHashes, blockSpan{hash: blockstore.HashBlock(chunk), data: chunk})
		}
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return err
		}
	}
	e.contentHash = base64.StdEncoding.EncodeToString(hasher.Sum(nil))
	return nil
}
