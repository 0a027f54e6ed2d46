package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
)

// DlistWriter packs a Files volume: one "manifest" entry, one
// "filelist.json" entry, and optional passthrough "control/*" entries.
type DlistWriter struct {
	zw      *zip.Writer
	entries []FileListEntry
}

// NewDlistWriter wraps w (already run through the caller's compressor and
// encryptor, per this package's division of responsibility).
func NewDlistWriter(w io.Writer) *DlistWriter {
	return &DlistWriter{zw: zip.NewWriter(w)}
}

// AddFile stages one filelist entry. Entries are buffered and flushed as
// filelist.json on Close, since the manifest JSON can't be written until
// every entry is known.
func (d *DlistWriter) AddFile(e FileListEntry) {
	d.entries = append(d.entries, e)
}

// AddControlFile copies an untouched user file into control/<name>.
func (d *DlistWriter) AddControlFile(name string, r io.Reader) error {
	w, err := d.zw.Create("control/" + name)
	if err != nil {
		return fmt.Errorf("create control entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("write control entry %s: %w", name, err)
	}
	return nil
}

// Close writes the manifest and filelist.json entries and finalizes the
// zip container (including its Zip64 central directory if needed).
func (d *DlistWriter) Close(manifest Manifest) error {
	mw, err := d.zw.Create("manifest")
	if err != nil {
		return fmt.Errorf("create manifest entry: %w", err)
	}
	if err := json.NewEncoder(mw).Encode(manifest); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	fw, err := d.zw.Create("filelist.json")
	if err != nil {
		return fmt.Errorf("create filelist entry: %w", err)
	}
	if err := json.NewEncoder(fw).Encode(d.entries); err != nil {
		return fmt.Errorf("encode filelist: %w", err)
	}

	return d.zw.Close()
}

// DlistReader reads back a Files volume's manifest and filelist.
type DlistReader struct {
	zr *zip.Reader
}

// NewDlistReader opens a dlist container from ra, sized size bytes.
func NewDlistReader(ra io.ReaderAt, size int64) (*DlistReader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("open dlist container: %w", err)
	}
	return &DlistReader{zr: zr}, nil
}

// Manifest decodes the container's manifest entry.
func (d *DlistReader) Manifest() (Manifest, error) {
	var m Manifest
	f, err := d.open("manifest")
	if err != nil {
		return m, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// FileList decodes the container's filelist.json entry.
func (d *DlistReader) FileList() ([]FileListEntry, error) {
	f, err := d.open("filelist.json")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []FileListEntry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode filelist: %w", err)
	}
	return entries, nil
}

func (d *DlistReader) open(name string) (io.ReadCloser, error) {
	for _, f := range d.zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("dlist entry %q not found", name)
}
