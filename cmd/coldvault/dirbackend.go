package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/coldvault/pkg/volume"
)

// dirBackend is a minimal volume.Backend over a local directory. The real
// object-store/HTTP/WebDAV transports spec.md names are external
// collaborators deliberately out of scope; a plain local directory is one
// of the destination types the system overview names directly, and needs
// nothing beyond the filesystem to implement.
type dirBackend struct {
	root string
}

func newDirBackend(root string) (*dirBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}
	return &dirBackend{root: root}, nil
}

func (d *dirBackend) Put(ctx context.Context, name string, r io.Reader) error {
	f, err := os.Create(filepath.Join(d.root, name))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func (d *dirBackend) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.root, name))
}

func (d *dirBackend) Delete(ctx context.Context, name string) error {
	return os.Remove(filepath.Join(d.root, name))
}

func (d *dirBackend) List(ctx context.Context) ([]volume.RemoteObject, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	out := make([]volume.RemoteObject, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, volume.RemoteObject{Name: e.Name(), Size: info.Size()})
	}
	return out, nil
}
