package volume

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryBackend is an in-memory Backend implementation used by tests. It is
// safe for concurrent use.
type MemoryBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

func (b *MemoryBackend) Put(ctx context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[name] = data
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[name]
	if !ok {
		return nil, fmt.Errorf("object %s not found", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *MemoryBackend) Delete(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, name)
	return nil
}

func (b *MemoryBackend) List(ctx context.Context) ([]RemoteObject, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RemoteObject, 0, len(b.objects))
	for name, data := range b.objects {
		out = append(out, RemoteObject{Name: name, Size: int64(len(data))})
	}
	return out, nil
}
