package volume

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuemby/coldvault/pkg/blockstore"
	"github.com/cuemby/coldvault/pkg/types"
)

// RemoteObject describes one opaque object as reported by a Backend's List.
type RemoteObject struct {
	Name string
	Size int64
}

// Backend is the external collaborator that physically moves volume bytes.
// Implementations wrap a concrete object store (filesystem, S3-compatible
// bucket, SFTP, ...); none is provided here.
type Backend interface {
	Put(ctx context.Context, name string, r io.Reader) error
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]RemoteObject, error)
}

// CatalogStore is the subset of pkg/catalog.Catalog the Manager needs to
// persist RemoteVolume rows and their state transitions. Defined locally to
// avoid an import cycle between pkg/volume and pkg/catalog.
type CatalogStore interface {
	CreateRemoteVolume(ctx context.Context, v *types.RemoteVolume) (int64, error)
	SetVolumeState(ctx context.Context, id int64, state types.VolumeState) error
	FinalizeVolume(ctx context.Context, id int64, size int64, hash string) error
	SetVolumeDeleteGrace(ctx context.Context, id int64, until int64) error
	ListRemoteVolumes(ctx context.Context) ([]*types.RemoteVolume, error)
}

// Manager drives the RemoteVolume lifecycle state machine:
//
//	Temporary -> Uploading -> Uploaded -> Verified -> Deleting -> Deleted
//
// Every state transition is recorded in the catalog before and after the
// corresponding Backend call, so a crash mid-transition leaves the catalog
// pointing at a state a repair pass can reconcile against the remote
// listing rather than losing track of the volume entirely.
type Manager struct {
	backend    Backend
	catalog    CatalogStore
	namePrefix string

	// Compression and Encryption are the tags recorded in every volume's
	// filename (e.g. "zip"/"aes", or "none" when a codec is disabled).
	Compression string
	Encryption  string

	// DeleteGrace is how long a volume stays in the Deleting state (soft
	// delete window) before a caller is expected to finalize it to Deleted.
	DeleteGrace time.Duration

	// newBackoff constructs the retry policy for transient backend errors.
	// Overridable in tests; defaults to an exponential backoff capped at
	// maxRetryAttempts per spec.md's transient-error retry budget.
	newBackoff func() backoff.BackOff
}

const maxRetryAttempts = 5

// NewManager creates a volume Manager backed by the given object-store
// Backend and catalog.
func NewManager(backend Backend, catalog CatalogStore, namePrefix string) *Manager {
	return &Manager{
		backend:     backend,
		catalog:     catalog,
		namePrefix:  namePrefix,
		Compression: "zip",
		Encryption:  "none",
		DeleteGrace: 2 * time.Hour,
		newBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetryAttempts)
		},
	}
}

// WithCatalog returns a shallow copy of m bound to a different CatalogStore.
// A caller that holds a single sqlite connection open as a transaction for
// the duration of a run (pkg/catalog.Batch) must rebind the Manager to that
// same Batch before calling Begin/Upload/Verify/BeginDelete/FinalizeDelete
// from within the run: those methods otherwise reach back through the
// Manager's own catalog field, which, bound to the bare Catalog, would try
// to check out the pool's one connection while the run's Batch is still
// holding it and block forever.
func (m *Manager) WithCatalog(catalog CatalogStore) *Manager {
	clone := *m
	clone.catalog = catalog
	return &clone
}

// NewVolumeName returns a fresh, collision-free container filename for the
// given volume type, per the
// <prefix>-<yyyyMMddTHHmmssZ>-<guid>.<type>.<compression>.<encryption>
// convention.
func (m *Manager) NewVolumeName(t types.VolumeType) string {
	return blockstore.NewVolumeName(m.namePrefix, volumeKindFor(t), m.Compression, m.Encryption, time.Now()).String()
}

func volumeKindFor(t types.VolumeType) blockstore.VolumeKind {
	switch t {
	case types.VolumeTypeFiles:
		return blockstore.KindDlist
	case types.VolumeTypeBlocks:
		return blockstore.KindDblock
	case types.VolumeTypeIndex:
		return blockstore.KindDindex
	default:
		return blockstore.VolumeKind(t)
	}
}

// Begin registers a new volume row in the Temporary state and returns its
// catalog id plus generated name. The caller writes the container body to
// this name via Upload once the archive codec has finished packing it.
func (m *Manager) Begin(ctx context.Context, t types.VolumeType) (*types.RemoteVolume, error) {
	v := &types.RemoteVolume{
		Name:  m.NewVolumeName(t),
		Type:  t,
		State: types.VolumeStateTemporary,
	}
	id, err := m.catalog.CreateRemoteVolume(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("register volume %s: %w", v.Name, err)
	}
	v.ID = id
	return v, nil
}

// Upload transitions a Temporary volume to Uploading, retries the Backend
// Put under exponential backoff, and on success transitions it to Uploaded
// and records its finalized size and hash.
func (m *Manager) Upload(ctx context.Context, v *types.RemoteVolume, body io.Reader, size int64, hash string) error {
	if err := m.catalog.SetVolumeState(ctx, v.ID, types.VolumeStateUploading); err != nil {
		return fmt.Errorf("mark %s uploading: %w", v.Name, err)
	}
	v.State = types.VolumeStateUploading

	op := func() error {
		return m.backend.Put(ctx, v.Name, body)
	}
	if err := backoff.Retry(op, backoff.WithContext(m.newBackoff(), ctx)); err != nil {
		return fmt.Errorf("upload %s: %w", v.Name, err)
	}

	if err := m.catalog.FinalizeVolume(ctx, v.ID, size, hash); err != nil {
		return fmt.Errorf("finalize %s: %w", v.Name, err)
	}
	v.State = types.VolumeStateUploaded
	v.Size = size
	v.Hash = hash
	return nil
}

// Verify transitions an Uploaded volume to Verified once the caller has
// confirmed (e.g. via a re-download hash check, or Test's sampling pass)
// that the remote copy matches the expected hash.
func (m *Manager) Verify(ctx context.Context, v *types.RemoteVolume) error {
	if err := m.catalog.SetVolumeState(ctx, v.ID, types.VolumeStateVerified); err != nil {
		return fmt.Errorf("mark %s verified: %w", v.Name, err)
	}
	v.State = types.VolumeStateVerified
	return nil
}

// Fetch downloads a volume's body, retrying transient Backend errors.
func (m *Manager) Fetch(ctx context.Context, v *types.RemoteVolume) (io.ReadCloser, error) {
	var rc io.ReadCloser
	op := func() error {
		r, err := m.backend.Get(ctx, v.Name)
		if err != nil {
			return err
		}
		rc = r
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(m.newBackoff(), ctx)); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", v.Name, err)
	}
	return rc, nil
}

// BeginDelete marks a volume Deleting and stamps its delete-grace deadline.
// The volume is not removed from the backend yet; FinalizeDelete does that
// once the grace window has elapsed, giving a concurrent restore a chance
// to finish reading it.
func (m *Manager) BeginDelete(ctx context.Context, v *types.RemoteVolume) error {
	until := time.Now().Add(m.DeleteGrace).Unix()
	if err := m.catalog.SetVolumeState(ctx, v.ID, types.VolumeStateDeleting); err != nil {
		return fmt.Errorf("mark %s deleting: %w", v.Name, err)
	}
	if err := m.catalog.SetVolumeDeleteGrace(ctx, v.ID, until); err != nil {
		return fmt.Errorf("set delete grace for %s: %w", v.Name, err)
	}
	v.State = types.VolumeStateDeleting
	v.DeleteGraceUntil = until
	return nil
}

// FinalizeDelete removes the volume from the backend and marks it Deleted.
// Callers are expected to check DeleteGraceUntil has passed before calling
// this; Manager does not enforce the window itself, since a forced delete
// (operator-triggered) is a legitimate bypass.
func (m *Manager) FinalizeDelete(ctx context.Context, v *types.RemoteVolume) error {
	op := func() error {
		return m.backend.Delete(ctx, v.Name)
	}
	if err := backoff.Retry(op, backoff.WithContext(m.newBackoff(), ctx)); err != nil {
		return fmt.Errorf("delete %s: %w", v.Name, err)
	}
	if err := m.catalog.SetVolumeState(ctx, v.ID, types.VolumeStateDeleted); err != nil {
		return fmt.Errorf("mark %s deleted: %w", v.Name, err)
	}
	v.State = types.VolumeStateDeleted
	return nil
}

// RemoteListing lists the backend's objects directly, bypassing the
// catalog. Used by pkg/repair to reconcile the catalog against what
// actually exists remotely.
func (m *Manager) RemoteListing(ctx context.Context) ([]RemoteObject, error) {
	return m.backend.List(ctx)
}

// StateCounts implements pkg/metrics.VolumeSource: the number of catalog
// RemoteVolume rows currently in each (type, state) pair.
func (m *Manager) StateCounts(ctx context.Context) (map[[2]string]int, error) {
	volumes, err := m.catalog.ListRemoteVolumes(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[[2]string]int)
	for _, v := range volumes {
		counts[[2]string{string(v.Type), string(v.State)}]++
	}
	return counts, nil
}
