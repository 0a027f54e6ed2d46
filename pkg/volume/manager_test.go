package volume

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/types"
)

// fakeCatalog is a minimal in-memory CatalogStore for exercising Manager's
// state transitions without pulling in pkg/catalog.
type fakeCatalog struct {
	mu      sync.Mutex
	nextID  int64
	volumes map[int64]*types.RemoteVolume
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{volumes: make(map[int64]*types.RemoteVolume)}
}

func (f *fakeCatalog) CreateRemoteVolume(ctx context.Context, v *types.RemoteVolume) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *v
	cp.ID = f.nextID
	f.volumes[f.nextID] = &cp
	return f.nextID, nil
}

func (f *fakeCatalog) SetVolumeState(ctx context.Context, id int64, state types.VolumeState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[id].State = state
	return nil
}

func (f *fakeCatalog) FinalizeVolume(ctx context.Context, id int64, size int64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[id].State = types.VolumeStateUploaded
	f.volumes[id].Size = size
	f.volumes[id].Hash = hash
	return nil
}

func (f *fakeCatalog) SetVolumeDeleteGrace(ctx context.Context, id int64, until int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[id].DeleteGraceUntil = until
	return nil
}

func (f *fakeCatalog) ListRemoteVolumes(ctx context.Context) ([]*types.RemoteVolume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.RemoteVolume, 0, len(f.volumes))
	for _, v := range f.volumes {
		out = append(out, v)
	}
	return out, nil
}

func testManager() (*Manager, *MemoryBackend, *fakeCatalog) {
	backend := NewMemoryBackend()
	catalog := newFakeCatalog()
	mgr := NewManager(backend, catalog, "cv")
	mgr.newBackoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	return mgr, backend, catalog
}

func TestManager_NewVolumeName(t *testing.T) {
	mgr, _, _ := testManager()

	name := mgr.NewVolumeName(types.VolumeTypeBlocks)
	assert.True(t, strings.HasPrefix(name, "cv-"))
	assert.True(t, strings.HasSuffix(name, ".dblock.zip.none"))

	name2 := mgr.NewVolumeName(types.VolumeTypeFiles)
	assert.True(t, strings.HasSuffix(name2, ".dlist.zip.none"))
}

func TestManager_BeginUploadVerify(t *testing.T) {
	mgr, backend, _ := testManager()
	ctx := context.Background()

	v, err := mgr.Begin(ctx, types.VolumeTypeBlocks)
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateTemporary, v.State)

	body := strings.NewReader("packed block payload")
	require.NoError(t, mgr.Upload(ctx, v, body, 21, "deadbeef"))
	assert.Equal(t, types.VolumeStateUploaded, v.State)
	assert.Equal(t, int64(21), v.Size)

	objs, err := backend.List(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, v.Name, objs[0].Name)

	require.NoError(t, mgr.Verify(ctx, v))
	assert.Equal(t, types.VolumeStateVerified, v.State)
}

func TestManager_WithCatalogRebindsWithoutMutatingOriginal(t *testing.T) {
	mgr, _, original := testManager()
	other := newFakeCatalog()

	rebound := mgr.WithCatalog(other)
	ctx := context.Background()

	v, err := rebound.Begin(ctx, types.VolumeTypeBlocks)
	require.NoError(t, err)

	assert.Len(t, other.volumes, 1)
	assert.Len(t, original.volumes, 0)
	assert.Equal(t, "cv", rebound.namePrefix)
	assert.NotNil(t, v)
}

func TestManager_DeleteLifecycle(t *testing.T) {
	mgr, backend, _ := testManager()
	ctx := context.Background()

	v, err := mgr.Begin(ctx, types.VolumeTypeIndex)
	require.NoError(t, err)
	require.NoError(t, mgr.Upload(ctx, v, strings.NewReader("x"), 1, "h"))

	require.NoError(t, mgr.BeginDelete(ctx, v))
	assert.Equal(t, types.VolumeStateDeleting, v.State)
	assert.True(t, v.DeleteGraceUntil > time.Now().Unix())

	require.NoError(t, mgr.FinalizeDelete(ctx, v))
	assert.Equal(t, types.VolumeStateDeleted, v.State)

	objs, err := backend.List(ctx)
	require.NoError(t, err)
	assert.Len(t, objs, 0)
}

func TestManager_FetchMissingRetriesThenFails(t *testing.T) {
	mgr, _, _ := testManager()
	ctx := context.Background()

	v := &types.RemoteVolume{ID: 1, Name: "does-not-exist"}
	_, err := mgr.Fetch(ctx, v)
	assert.Error(t, err)
}

func TestManager_StateCounts(t *testing.T) {
	mgr, _, _ := testManager()
	ctx := context.Background()

	v1, _ := mgr.Begin(ctx, types.VolumeTypeBlocks)
	_ = mgr.Upload(ctx, v1, strings.NewReader("a"), 1, "h1")
	v2, _ := mgr.Begin(ctx, types.VolumeTypeBlocks)
	_ = v2

	counts, err := mgr.StateCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[[2]string{"Blocks", "Uploaded"}])
	assert.Equal(t, 1, counts[[2]string{"Blocks", "Temporary"}])
}
