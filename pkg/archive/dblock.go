package archive

import (
	"archive/zip"
	"fmt"
	"io"
)

// DblockWriter packs a Blocks volume: one zip entry per block, named by
// its standard-base64 hash, holding the raw block payload.
type DblockWriter struct {
	zw   *zip.Writer
	size int64
}

func NewDblockWriter(w io.Writer) *DblockWriter {
	return &DblockWriter{zw: zip.NewWriter(w)}
}

// AddBlock writes one block's payload under its hash name. Returns the
// running total of payload bytes written, so the caller can close the
// volume once it reaches volume_size.
func (d *DblockWriter) AddBlock(hash string, data []byte) (int64, error) {
	w, err := d.zw.Create(hash)
	if err != nil {
		return d.size, fmt.Errorf("create block entry %s: %w", hash, err)
	}
	n, err := w.Write(data)
	if err != nil {
		return d.size, fmt.Errorf("write block entry %s: %w", hash, err)
	}
	d.size += int64(n)
	return d.size, nil
}

func (d *DblockWriter) Close() error {
	return d.zw.Close()
}

// DblockReader reads back a Blocks volume's block payloads.
type DblockReader struct {
	zr *zip.Reader
}

func NewDblockReader(ra io.ReaderAt, size int64) (*DblockReader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("open dblock container: %w", err)
	}
	return &DblockReader{zr: zr}, nil
}

// Block returns the raw payload for the block named hash.
func (d *DblockReader) Block(hash string) ([]byte, error) {
	for _, f := range d.zr.File {
		if f.Name == hash {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open block entry %s: %w", hash, err)
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("dblock entry %q not found", hash)
}

// Hashes lists every block hash packed into this volume.
func (d *DblockReader) Hashes() []string {
	out := make([]string, 0, len(d.zr.File))
	for _, f := range d.zr.File {
		out = append(out, f.Name)
	}
	return out
}

// Entries lists every (hash, size) pair packed into this volume, read
// directly off the zip directory rather than a paired dindex manifest.
// Used by repair's fallback path when a dblock's dindex is missing or
// doesn't agree with it.
func (d *DblockReader) Entries() []VolumeManifestEntry {
	out := make([]VolumeManifestEntry, 0, len(d.zr.File))
	for _, f := range d.zr.File {
		out = append(out, VolumeManifestEntry{Hash: f.Name, Size: int64(f.UncompressedSize64)})
	}
	return out
}
