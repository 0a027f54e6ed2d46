package backup

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/coldvault/pkg/archive"
	"github.com/cuemby/coldvault/pkg/blockstore"
	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/types"
)

// newBlock is what the file block processor hands to the data block
// processor for any (hash, size) it hasn't seen before. chunkHashes is
// set only when this block is itself a blocklist block, so the data
// block processor can mirror its content into the paired index volume's
// list/<hash> entry without a second catalog round trip.
type newBlock struct {
	id          int64
	hash        string
	data        []byte
	chunkHashes []string
}

// fileblockResult is what the file block processor hands to the progress
// handler once an entry's FileLookup/FilesetEntry/filelist rows are
// committed (or it's given up as broken).
type fileblockResult struct {
	entry      *sourceEntry
	blocksetID int64
	isNewBlock bool
}

// committer bundles the fixed, run-scoped state the file block processor
// needs to finish each entry: the fileset it's attaching entries to, the
// (single, flat) path prefix, and the filelist sink for the dlist volume
// being assembled alongside it.
type committer struct {
	batch     *catalog.Batch
	filesetID int64
	prefixID  int64
	sink      *filelistSink
}

// processFileBlocks is task 5: M concurrent workers that turn each file's
// accumulated block hashes into a Blockset, ask the catalog whether each
// block is new, and commit the resulting FileLookup/FilesetEntry/filelist
// rows. New blocks are forwarded to the data block processor.
func processFileBlocks(ctx context.Context, in <-chan *sourceEntry, results chan<- *fileblockResult, newBlocks chan<- *newBlock, c *committer, blockSize, hashSize int, concurrency int) error {
	defer close(results)
	defer close(newBlocks)

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

				r, err := c.process(egCtx, e, newBlocks, blockSize, hashSize)
				if err != nil {
					return err
				}
				if err := sendResult(egCtx, results, r); err != nil {
					return err
				}
			}
		})
	}
	return eg.Wait()
}

// process resolves e's blockset and metadataset, commits its FileLookup
// and FilesetEntry rows, and stages its filelist.json entry. Entries that
// were broken earlier in the pipeline are reported but never committed.
func (c *committer) process(ctx context.Context, e *sourceEntry, newBlocks chan<- *newBlock, blockSize, hashSize int) (*fileblockResult, error) {
	if e.broken {
		return &fileblockResult{entry: e}, nil
	}

	var blocksetID, metadataID int64
	var blocklists []string
	var err error

	switch {
	case e.inherited:
		blocksetID, metadataID = e.prevBlocksetID, e.prevMetadataID
		blocklists, err = c.batch.ListBlocklistHashes(ctx, blocksetID)
	case e.entryType == types.EntryTypeFolder:
		blocksetID = types.FolderBlocksetID
		metadataID, err = c.commitMetadata(ctx, e, newBlocks)
	case e.entryType == types.EntryTypeSymlink:
		blocksetID = types.SymlinkBlocksetID
		metadataID, err = c.commitMetadata(ctx, e, newBlocks)
	default:
		blocksetID, blocklists, err = commitBlockset(ctx, c.batch, e, newBlocks, blockSize, hashSize)
		if err == nil {
			metadataID, err = c.commitMetadata(ctx, e, newBlocks)
		}
	}
	if err != nil {
		e.broken = true
		e.err = err
		return &fileblockResult{entry: e}, nil
	}

	fileID, isNew, err := c.commitFileLookup(ctx, e, blocksetID, metadataID)
	if err != nil {
		e.broken = true
		e.err = err
		return &fileblockResult{entry: e}, nil
	}

	if err := c.batch.AddFilesetEntry(ctx, c.filesetID, fileID, e.lastModified); err != nil {
		e.broken = true
		e.err = err
		return &fileblockResult{entry: e}, nil
	}

	c.sink.add(archive.FileListEntry{
		Type:       string(e.entryType),
		Path:       e.path,
		Hash:       e.contentHash,
		Size:       e.size,
		Time:       e.lastModified,
		MetaHash:   e.metaHash,
		Blocklists: blocklists,
	})

	return &fileblockResult{entry: e, blocksetID: blocksetID, isNewBlock: isNew}, nil
}

// commitMetadata wraps e's metadata hash in a one-block Blockset and
// Metadataset, so folders, symlinks and files all carry a uniform
// MetadataID even though their attribute payloads are tiny.
func (c *committer) commitMetadata(ctx context.Context, e *sourceEntry, newBlocks chan<- *newBlock) (int64, error) {
	payload := []byte(e.metaHash)
	blockID, err := findOrRegisterBlock(ctx, c.batch, newBlocks, blockstore.HashBlock(payload), payload)
	if err != nil {
		return 0, err
	}
	blocksetID, err := c.batch.RegisterBlockset(ctx, int64(len(payload)), e.metaHash, []int64{blockID})
	if err != nil {
		return 0, err
	}
	return c.batch.RegisterMetadataset(ctx, blocksetID)
}

// commitFileLookup finds or registers the FileLookup row for this exact
// (path, blockset, metadata) combination, reporting whether it's new (and
// therefore contributes to change statistics distinct from plain block
// dedup).
func (c *committer) commitFileLookup(ctx context.Context, e *sourceEntry, blocksetID, metadataID int64) (int64, bool, error) {
	if existing, err := c.batch.FindFileLookup(ctx, c.prefixID, e.path, blocksetID, metadataID); err != nil {
		return 0, false, err
	} else if existing != nil {
		return existing.ID, false, nil
	}
	id, err := c.batch.RegisterFileLookup(ctx, c.prefixID, blocksetID, metadataID, e.path)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// commitBlockset resolves each of e's block spans against the catalog
// (insert-or-return is the single dedup serialization point, guaranteed
// by the catalog's single sqlite connection), forwards genuinely new
// blocks to the data block processor, chunks the hash list into blocklist
// blocks once it outgrows a single block's capacity, and registers the
// finished blockset.
func commitBlockset(ctx context.Context, b *catalog.Batch, e *sourceEntry, newBlocks chan<- *newBlock, blockSize, hashSize int) (int64, []string, error) {
	blockIDs := make([]int64, 0, len(e.blockHashes))
	hashes := make([]string, 0, len(e.blockHashes))
	var totalLen int64

	for _, span := range e.blockHashes {
		blockID, err := findOrRegisterBlock(ctx, b, newBlocks, span.hash, span.data)
		if err != nil {
			return 0, nil, err
		}
		blockIDs = append(blockIDs, blockID)
		hashes = append(hashes, span.hash)
		totalLen += int64(len(span.data))
	}

	blocksetID, err := b.RegisterBlockset(ctx, totalLen, e.contentHash, blockIDs)
	if err != nil {
		return 0, nil, err
	}

	var blocklists []string
	capacity := blockstore.BlocklistCapacity(blockSize, hashSize)
	if capacity > 0 && len(hashes) > capacity {
		for idx, chunk := range blockstore.ChunkBlocklist(hashes, capacity) {
			payload := []byte(strings.Join(chunk, ""))
			blocklistHash := blockstore.HashBlock(payload)
			if _, err := findOrRegisterBlocklistBlock(ctx, b, newBlocks, blocklistHash, payload, chunk); err != nil {
				return 0, nil, err
			}
			if err := b.RegisterBlocklistHash(ctx, blocksetID, int64(idx), blocklistHash); err != nil {
				return 0, nil, err
			}
			blocklists = append(blocklists, blocklistHash)
		}
	}

	return blocksetID, blocklists, nil
}

// findOrRegisterBlock returns the catalog id for a (hash, size) pair,
// registering it and forwarding its bytes to the data block processor if
// it hasn't been seen before.
func findOrRegisterBlock(ctx context.Context, b *catalog.Batch, newBlocks chan<- *newBlock, hash string, data []byte) (int64, error) {
	return findOrRegisterBlocklistBlock(ctx, b, newBlocks, hash, data, nil)
}

// findOrRegisterBlocklistBlock is findOrRegisterBlock plus the blocklist
// chunk's member hashes, carried through to the data block processor only
// when this block represents a blocklist span (chunkHashes != nil).
func findOrRegisterBlocklistBlock(ctx context.Context, b *catalog.Batch, newBlocks chan<- *newBlock, hash string, data []byte, chunkHashes []string) (int64, error) {
	existing, err := b.FindBlock(ctx, hash, int64(len(data)))
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	id, err := b.RegisterBlock(ctx, hash, int64(len(data)), 0)
	if err != nil {
		return 0, err
	}
	select {
	case newBlocks <- &newBlock{id: id, hash: hash, data: data, chunkHashes: chunkHashes}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return id, nil
}

func sendResult(ctx context.Context, out chan<- *fileblockResult, r *fileblockResult) error {
	select {
	case out <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
