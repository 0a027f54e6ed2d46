package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// DindexWriter packs an Index volume: "list/<blockhash>" entries holding
// the concatenated base64 hash strings of a blocklist span (not raw digest
// bytes), and a single
// "vol/<dblockname>" entry listing the (hash, size) tuples in the paired
// dblock volume.
type DindexWriter struct {
	zw         *zip.Writer
	dblockName string
	volEntries []VolumeManifestEntry
}

func NewDindexWriter(w io.Writer, dblockName string) *DindexWriter {
	return &DindexWriter{zw: zip.NewWriter(w), dblockName: dblockName}
}

// AddBlocklist writes one blocklist span's concatenated base64 hash strings
// under list/<blockhash>.
func (d *DindexWriter) AddBlocklist(blockHash string, concatenatedHashes []byte) error {
	w, err := d.zw.Create("list/" + blockHash)
	if err != nil {
		return fmt.Errorf("create blocklist entry %s: %w", blockHash, err)
	}
	if _, err := w.Write(concatenatedHashes); err != nil {
		return fmt.Errorf("write blocklist entry %s: %w", blockHash, err)
	}
	return nil
}

// AddVolumeEntry stages one (hash, size) tuple for the paired dblock's
// manifest, flushed as vol/<dblockname> on Close.
func (d *DindexWriter) AddVolumeEntry(hash string, size int64) {
	d.volEntries = append(d.volEntries, VolumeManifestEntry{Hash: hash, Size: size})
}

func (d *DindexWriter) Close() error {
	w, err := d.zw.Create("vol/" + d.dblockName)
	if err != nil {
		return fmt.Errorf("create volume manifest entry: %w", err)
	}
	if err := json.NewEncoder(w).Encode(d.volEntries); err != nil {
		return fmt.Errorf("encode volume manifest: %w", err)
	}
	return d.zw.Close()
}

// DindexReader reads back an Index volume's blocklists and dblock manifest.
type DindexReader struct {
	zr *zip.Reader
}

func NewDindexReader(ra io.ReaderAt, size int64) (*DindexReader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("open dindex container: %w", err)
	}
	return &DindexReader{zr: zr}, nil
}

// Blocklist returns the concatenated base64 hash strings for list/<blockHash>.
func (d *DindexReader) Blocklist(blockHash string) ([]byte, error) {
	f, err := d.find("list/" + blockHash)
	if err != nil {
		return nil, err
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open blocklist entry %s: %w", blockHash, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// VolumeManifest decodes vol/<dblockName>'s (hash, size) tuples.
func (d *DindexReader) VolumeManifest(dblockName string) ([]VolumeManifestEntry, error) {
	f, err := d.find("vol/" + dblockName)
	if err != nil {
		return nil, err
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open volume manifest entry: %w", err)
	}
	defer rc.Close()

	var entries []VolumeManifestEntry
	if err := json.NewDecoder(rc).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode volume manifest: %w", err)
	}
	return entries, nil
}

// PairedDblockName returns the name of the dblock volume this dindex
// carries the manifest for, read off its single "vol/<dblockname>" entry.
// Used by repair, which discovers dindex volumes from a bare remote
// listing and has no other way to learn which dblock each one pairs with.
func (d *DindexReader) PairedDblockName() (string, bool) {
	const prefix = "vol/"
	for _, f := range d.zr.File {
		if strings.HasPrefix(f.Name, prefix) {
			return strings.TrimPrefix(f.Name, prefix), true
		}
	}
	return "", false
}

// BlocklistHashes returns every blocklist block hash this dindex carries a
// "list/<hash>" entry for.
func (d *DindexReader) BlocklistHashes() []string {
	const prefix = "list/"
	var out []string
	for _, f := range d.zr.File {
		if strings.HasPrefix(f.Name, prefix) {
			out = append(out, strings.TrimPrefix(f.Name, prefix))
		}
	}
	return out
}

func (d *DindexReader) find(name string) (*zip.File, error) {
	for _, f := range d.zr.File {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("dindex entry %q not found", name)
}
