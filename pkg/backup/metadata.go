package backup

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// previousEntry is what the metadata pre-processor needs to know about an
// entry from the previous fileset to decide inheritance.
type previousEntry struct {
	size         int64
	lastModified int64
	metadataHash string
	blocksetID   int64
	metadataID   int64
}

// metadataPreprocess is task 2: for every entry, compute its metadata hash
// and decide whether it's unchanged from the previous fileset — in which
// case it's marked inherited and skips the splitter/fileblock stages
// entirely, per spec.md §4.4.
func metadataPreprocess(ctx context.Context, in <-chan *sourceEntry, out chan<- *sourceEntry, previous map[string]previousEntry) error {
	defer close(out)
	for e := range in {
		if e.broken {
			if err := forward(ctx, out, e); err != nil {
				return err
			}
			continue
		}

		e.metaHash = metadataHash(e)

		if prev, ok := previous[e.path]; ok &&
			prev.size == e.size && prev.lastModified == e.lastModified && prev.metadataHash == e.metaHash {
			e.inherited = true
			e.prevBlocksetID = prev.blocksetID
			e.prevMetadataID = prev.metadataID
		}

		if err := forward(ctx, out, e); err != nil {
			return err
		}
	}
	return nil
}

// metadataHash summarizes the attributes that matter for change detection
// (path, size, modtime, type) into a single comparable digest. Permission
// bits and ownership are not included. The digest serves both as the
// fast-path inheritance key and as the payload of the metadata blockset.
func metadataHash(e *sourceEntry) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%s", e.path, e.size, e.lastModified, e.entryType)))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func forward(ctx context.Context, out chan<- *sourceEntry, e *sourceEntry) error {
	select {
	case out <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
