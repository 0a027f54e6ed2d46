package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuemby/coldvault/pkg/types"
)

// FindRemoteVolumeByName looks up a volume by its unique name, the only
// identity repair has available from a bare remote listing. Returns
// (nil, nil) if no row exists yet.
func (b *Batch) FindRemoteVolumeByName(ctx context.Context, name string) (*types.RemoteVolume, error) {
	row := b.tx.QueryRowContext(ctx,
		`SELECT id, name, type, state, size, hash, delete_grace_until FROM remote_volume WHERE name = ?`, name)
	var v types.RemoteVolume
	if err := row.Scan(&v.ID, &v.Name, &v.Type, &v.State, &v.Size, &v.Hash, &v.DeleteGraceUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find remote volume %s: %w", name, err)
	}
	return &v, nil
}

// RegisterRecreatedVolume inserts a RemoteVolume row already in the
// Uploaded state with a known size: repair discovers volumes that already
// exist on the backend, it never uploads them, so there is no Temporary/
// Uploading interval to model.
func (b *Batch) RegisterRecreatedVolume(ctx context.Context, name string, t types.VolumeType, size int64) (int64, error) {
	res, err := b.tx.ExecContext(ctx,
		`INSERT INTO remote_volume (name, type, state, size, hash, delete_grace_until) VALUES (?, ?, ?, ?, '', 0)`,
		name, t, types.VolumeStateUploaded, size)
	if err != nil {
		return 0, fmt.Errorf("register recreated volume %s: %w", name, err)
	}
	return res.LastInsertId()
}

// FindFilesetByTimestamp looks up a fileset repair may have already
// inserted for this exact dlist's timestamp, making a second repair pass
// over the same remote listing idempotent rather than creating a
// duplicate version.
func (b *Batch) FindFilesetByTimestamp(ctx context.Context, timestamp int64) (*types.Fileset, error) {
	row := b.tx.QueryRowContext(ctx,
		`SELECT id, timestamp, volume_id, is_full_backup, is_partial FROM fileset WHERE timestamp = ?`, timestamp)
	var fs types.Fileset
	var full, partial int
	if err := row.Scan(&fs.ID, &fs.Timestamp, &fs.VolumeID, &full, &partial); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find fileset by timestamp %d: %w", timestamp, err)
	}
	fs.IsFullBackup = full != 0
	fs.IsPartial = partial != 0
	return &fs, nil
}
