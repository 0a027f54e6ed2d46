package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/coldvault/pkg/cverrors"
	"github.com/cuemby/coldvault/pkg/types"
)

// maxTimestampRetries bounds the fileset-timestamp collision retry loop;
// exceeding it is a hard failure (Open Question 2 in SPEC_FULL.md).
const maxTimestampRetries = 100

// FindFileLookup resolves a (prefixID, path, blocksetID, metadataID) tuple
// to its FileLookup row, or (nil, nil) if this exact combination has never
// been seen — a changed file gets a new row; an unchanged one reuses it.
func (b *Batch) FindFileLookup(ctx context.Context, prefixID int64, path string, blocksetID, metadataID int64) (*types.FileLookup, error) {
	row := b.tx.QueryRowContext(ctx,
		`SELECT id, prefix_id, path, blockset_id, metadata_id FROM file_lookup
		 WHERE prefix_id = ? AND path = ? AND blockset_id = ? AND metadata_id = ?`,
		prefixID, path, blocksetID, metadataID)
	var fl types.FileLookup
	if err := row.Scan(&fl.ID, &fl.PrefixID, &fl.Path, &fl.BlocksetID, &fl.MetadataID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find file lookup: %w", err)
	}
	return &fl, nil
}

// RegisterFileLookup inserts an insert-once FileLookup row.
func (b *Batch) RegisterFileLookup(ctx context.Context, prefixID, blocksetID, metadataID int64, path string) (int64, error) {
	res, err := b.tx.ExecContext(ctx,
		`INSERT INTO file_lookup (prefix_id, path, blockset_id, metadata_id) VALUES (?, ?, ?, ?)`,
		prefixID, path, blocksetID, metadataID)
	if err != nil {
		return 0, fmt.Errorf("register file lookup %s: %w", path, err)
	}
	return res.LastInsertId()
}

// CreateFileset starts a new fileset version at the given timestamp (epoch
// seconds), bound to volumeID (the dlist volume carrying its manifest). If
// the timestamp already exists it bumps by one second and retries, up to
// maxTimestampRetries, matching the spec's "unique suffix loop" edge case.
func (b *Batch) CreateFileset(ctx context.Context, timestamp, volumeID int64, isFullBackup bool) (*types.Fileset, error) {
	for attempt := 0; attempt < maxTimestampRetries; attempt++ {
		ts := timestamp + int64(attempt)
		res, err := b.tx.ExecContext(ctx,
			`INSERT INTO fileset (timestamp, volume_id, is_full_backup, is_partial) VALUES (?, ?, ?, 0)`,
			ts, volumeID, boolToInt(isFullBackup))
		if err == nil {
			id, err := res.LastInsertId()
			if err != nil {
				return nil, err
			}
			return &types.Fileset{ID: id, Timestamp: ts, VolumeID: volumeID, IsFullBackup: isFullBackup}, nil
		}
		if !isUniqueConstraintErr(err) {
			return nil, fmt.Errorf("create fileset: %w", err)
		}
	}
	return nil, cverrors.Newf(cverrors.UserInformation, "fileset timestamp collision exceeded retry bound (%d attempts)", maxTimestampRetries)
}

// InsertFilesetAt inserts a fileset at an exact, already-known timestamp,
// with no collision-retry bump: used by repair, which is reconstructing a
// version whose timestamp was fixed the moment the original dlist was
// written, not minting a new one. Callers must have already checked
// FindFilesetByTimestamp to keep a repeated repair pass idempotent.
func (b *Batch) InsertFilesetAt(ctx context.Context, timestamp, volumeID int64, isFullBackup, isPartial bool) (*types.Fileset, error) {
	res, err := b.tx.ExecContext(ctx,
		`INSERT INTO fileset (timestamp, volume_id, is_full_backup, is_partial) VALUES (?, ?, ?, ?)`,
		timestamp, volumeID, boolToInt(isFullBackup), boolToInt(isPartial))
	if err != nil {
		return nil, fmt.Errorf("insert fileset at %d: %w", timestamp, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &types.Fileset{ID: id, Timestamp: timestamp, VolumeID: volumeID, IsFullBackup: isFullBackup, IsPartial: isPartial}, nil
}

// MarkFilesetPartial flags a fileset PartialBackup, used when a
// cancellation token trips mid-upload.
func (b *Batch) MarkFilesetPartial(ctx context.Context, filesetID int64) error {
	_, err := b.tx.ExecContext(ctx, `UPDATE fileset SET is_partial = 1 WHERE id = ?`, filesetID)
	if err != nil {
		return fmt.Errorf("mark fileset %d partial: %w", filesetID, err)
	}
	return nil
}

// AddFilesetEntry binds a FileLookup row to a Fileset at lastModified.
func (b *Batch) AddFilesetEntry(ctx context.Context, filesetID, fileID, lastModified int64) error {
	_, err := b.tx.ExecContext(ctx,
		`INSERT INTO fileset_entry (fileset_id, file_id, last_modified) VALUES (?, ?, ?)`,
		filesetID, fileID, lastModified)
	if err != nil {
		return fmt.Errorf("add fileset entry: %w", err)
	}
	return nil
}

// ListFilesets returns every fileset, most recent first.
func (c *Catalog) ListFilesets(ctx context.Context) ([]*types.Fileset, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, timestamp, volume_id, is_full_backup, is_partial FROM fileset ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("list filesets: %w", err)
	}
	defer rows.Close()

	var out []*types.Fileset
	for rows.Next() {
		var fs types.Fileset
		var full, partial int
		if err := rows.Scan(&fs.ID, &fs.Timestamp, &fs.VolumeID, &full, &partial); err != nil {
			return nil, err
		}
		fs.IsFullBackup = full != 0
		fs.IsPartial = partial != 0
		out = append(out, &fs)
	}
	return out, rows.Err()
}

// FilesetsForPath returns the id of every fileset that carries an entry at
// path, oldest first — the set list-affected reports as "versions touched
// by this path".
func (c *Catalog) FilesetsForPath(ctx context.Context, path string) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT fe.fileset_id
		FROM fileset_entry fe
		JOIN file_lookup fl ON fl.id = fe.file_id
		WHERE fl.path = ?
		ORDER BY fe.fileset_id
	`, path)
	if err != nil {
		return nil, fmt.Errorf("filesets for path %s: %w", path, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountFilesets implements pkg/metrics.CatalogSource.
func (c *Catalog) CountFilesets(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fileset`).Scan(&n)
	return n, err
}

// FindLastIncompleteFilesetVolume returns the most recently registered
// dlist (Files) RemoteVolume still in a non-terminal upload state
// (Temporary or Uploading), whether or not a fileset row points at it,
// used on backup startup to resume or orphan an interrupted
// previous run. Returns (nil, nil) if none is pending.
func (c *Catalog) FindLastIncompleteFilesetVolume(ctx context.Context) (*types.RemoteVolume, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT rv.id, rv.name, rv.type, rv.state, rv.size, rv.hash, rv.delete_grace_until
		FROM remote_volume rv
		WHERE rv.type = ? AND rv.state IN (?, ?)
		ORDER BY rv.id DESC
		LIMIT 1
	`, types.VolumeTypeFiles, types.VolumeStateTemporary, types.VolumeStateUploading)

	var v types.RemoteVolume
	if err := row.Scan(&v.ID, &v.Name, &v.Type, &v.State, &v.Size, &v.Hash, &v.DeleteGraceUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find incomplete fileset volume: %w", err)
	}
	return &v, nil
}

// PreviousFileState is one row of a fileset's file list, detailed enough
// for the backup pipeline to decide whether an entry is unchanged without
// re-reading its content.
type PreviousFileState struct {
	Path         string
	Size         int64
	LastModified int64
	MetadataHash string
	BlocksetID   int64
	MetadataID   int64
}

// PreviousFileStates loads filesetID's full file list for inheritance
// comparisons. Folder/Symlink entries carry BlocksetID sentinels with no
// matching blockset row, so Size reads 0 for them via the outer join.
func (b *Batch) PreviousFileStates(ctx context.Context, filesetID int64) ([]PreviousFileState, error) {
	rows, err := b.tx.QueryContext(ctx, `
		SELECT fl.path, COALESCE(bs.length, 0), fe.last_modified, mbs.full_hash, fl.blockset_id, fl.metadata_id
		FROM fileset_entry fe
		JOIN file_lookup fl ON fl.id = fe.file_id
		LEFT JOIN blockset bs ON bs.id = fl.blockset_id
		JOIN metadataset ms ON ms.id = fl.metadata_id
		JOIN blockset mbs ON mbs.id = ms.blockset_id
		WHERE fe.fileset_id = ?
	`, filesetID)
	if err != nil {
		return nil, fmt.Errorf("load previous file states for fileset %d: %w", filesetID, err)
	}
	defer rows.Close()

	var out []PreviousFileState
	for rows.Next() {
		var s PreviousFileState
		if err := rows.Scan(&s.Path, &s.Size, &s.LastModified, &s.MetadataHash, &s.BlocksetID, &s.MetadataID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FilesetFile is one row of a fileset's file list, detailed enough for
// restore's plan phase to decide target paths, sizes and the content/
// metadata blocksets to fetch.
type FilesetFile struct {
	FileID       int64
	Path         string
	EntryType    types.EntryType
	Size         int64
	LastModified int64
	BlocksetID   int64
	MetadataID   int64
}

// FilesetFiles loads filesetID's full file list for restore planning.
func (b *Batch) FilesetFiles(ctx context.Context, filesetID int64) ([]FilesetFile, error) {
	rows, err := b.tx.QueryContext(ctx, `
		SELECT fl.id, fl.path, fl.blockset_id, fl.metadata_id, fe.last_modified, COALESCE(bs.length, 0)
		FROM fileset_entry fe
		JOIN file_lookup fl ON fl.id = fe.file_id
		LEFT JOIN blockset bs ON bs.id = fl.blockset_id
		WHERE fe.fileset_id = ?
	`, filesetID)
	if err != nil {
		return nil, fmt.Errorf("load fileset files for fileset %d: %w", filesetID, err)
	}
	defer rows.Close()

	var out []FilesetFile
	for rows.Next() {
		var f FilesetFile
		if err := rows.Scan(&f.FileID, &f.Path, &f.BlocksetID, &f.MetadataID, &f.LastModified, &f.Size); err != nil {
			return nil, err
		}
		f.EntryType = entryKindFor(f.BlocksetID)
		out = append(out, f)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func isUniqueConstraintErr(err error) bool {
	// modernc.org/sqlite surfaces sqlite's own message text rather than a
	// typed error; matching the constraint phrase is the library's
	// documented way to detect this case.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
