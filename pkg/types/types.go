package types

import "time"

// Block is a fixed-max-size, content-addressed byte range belonging to
// exactly one Blockset. Its (Hash, Size) pair is its logical identity;
// ID is a surrogate key.
type Block struct {
	ID       int64
	Hash     string // base64-encoded digest
	Size     int64  // bytes
	VolumeID int64  // the RemoteVolume currently holding this block's payload
}

// Blockset is the ordered sequence of Blocks that reconstructs one
// byte-stream: a file's content, or a metadata blob.
type Blockset struct {
	ID       int64
	Length   int64  // total bytes across all blocks
	FullHash string // hash of the concatenation of block contents, in order
}

// BlocksetEntry records one (index, block) pair within a Blockset.
type BlocksetEntry struct {
	BlocksetID int64
	Index      int64
	BlockID    int64
}

// BlocklistHash records that the block with the given hash is itself a
// blocklist block: its payload is the concatenated base64 hash strings of
// the blockset's blocks starting at Index.
type BlocklistHash struct {
	BlocksetID int64
	Index      int64
	Hash       string
}

// Metadataset indirects a file to the Blockset holding its metadata blob
// (permissions, timestamps, symlink target, attributes).
type Metadataset struct {
	ID         int64
	BlocksetID int64
}

// Sentinel blockset ids used by FileLookup.BlocksetID for entries that
// carry no content of their own.
const (
	FolderBlocksetID  int64 = -100
	SymlinkBlocksetID int64 = -200
)

// FileLookup binds an interned directory prefix and a path to a content
// blockset (or a sentinel) and a metadata blob. A (PrefixID, Path,
// BlocksetID, MetadataID) tuple is insert-once: an unchanged file across
// versions reuses its existing row, a changed one gets a new one.
type FileLookup struct {
	ID         int64
	PrefixID   int64
	Path       string
	BlocksetID int64
	MetadataID int64
}

// Fileset is one backup version: a timestamp plus the set of files
// recorded in it via FilesetEntry.
type Fileset struct {
	ID           int64
	Timestamp    int64 // epoch seconds, UTC
	VolumeID     int64 // the dlist RemoteVolume carrying this fileset's manifest
	IsFullBackup bool
	IsPartial    bool // PartialBackup: cancellation tripped mid-upload
}

// FilesetEntry binds a FileLookup row to a Fileset (a version).
type FilesetEntry struct {
	FilesetID    int64
	FileID       int64
	LastModified int64 // epoch seconds, UTC
}

// VolumeType distinguishes the three remote container kinds.
type VolumeType string

const (
	VolumeTypeFiles  VolumeType = "Files"  // dlist: fileset manifest
	VolumeTypeBlocks VolumeType = "Blocks" // dblock: packed block payloads
	VolumeTypeIndex  VolumeType = "Index"  // dindex: blocklists + dblock manifest
)

// VolumeState is a state in the remote volume lifecycle state machine.
type VolumeState string

const (
	VolumeStateTemporary VolumeState = "Temporary"
	VolumeStateUploading VolumeState = "Uploading"
	VolumeStateUploaded  VolumeState = "Uploaded"
	VolumeStateVerified  VolumeState = "Verified"
	VolumeStateDeleting  VolumeState = "Deleting"
	VolumeStateDeleted   VolumeState = "Deleted"
)

// RemoteVolume is one opaque container uploaded to (or staged for upload
// to) the remote object store.
type RemoteVolume struct {
	ID               int64
	Name             string
	Type             VolumeType
	State            VolumeState
	Size             int64  // bytes, recorded only once finalized
	Hash             string // base64 digest, recorded only once finalized
	DeleteGraceUntil int64  // epoch seconds; 0 if not in the deletion grace window
}

// IndexBlockLink records that an Index volume carries the manifest for a
// Blocks volume. In practice 1:1, modeled as many-to-many per spec.
type IndexBlockLink struct {
	IndexVolumeID int64
	BlockVolumeID int64
}

// DuplicateBlock records that a block also exists, byte-identical, in a
// volume other than its current Block.VolumeID — left behind by an
// earlier compaction so that a later compaction can re-home references
// without re-uploading data.
type DuplicateBlock struct {
	BlockID  int64
	VolumeID int64
}

// DeletedBlock records a block whose volume still physically holds its
// bytes but whose catalog references are gone; the source of wasted-
// space accounting until the volume is compacted or deleted.
type DeletedBlock struct {
	Hash     string
	Size     int64
	VolumeID int64
}

// ChangeJournalData is the per-volume Windows USN journal cursor; present
// in the schema for completeness, not exercised by non-Windows sources.
type ChangeJournalData struct {
	FilesetID  int64
	Volume     string
	JournalID  string
	NextUSN    int64
	ConfigHash string
}

// EntryType distinguishes the three kinds of filelist entries carried in
// a dlist manifest.
type EntryType string

const (
	EntryTypeFile    EntryType = "File"
	EntryTypeFolder  EntryType = "Folder"
	EntryTypeSymlink EntryType = "Symlink"
)

// SymlinkPolicy controls how the enumerator treats symbolic links.
type SymlinkPolicy string

const (
	SymlinkStore  SymlinkPolicy = "Store"
	SymlinkFollow SymlinkPolicy = "Follow"
	SymlinkIgnore SymlinkPolicy = "Ignore"
)

// HardlinkPolicy controls how the enumerator treats hard-linked files.
type HardlinkPolicy string

const (
	HardlinkStoreOnce HardlinkPolicy = "StoreOnce"
	HardlinkStoreAll  HardlinkPolicy = "StoreAll"
)

// ChangeStats is the result of catalog.ChangeStatistics, split by entry
// kind per spec.md §4.2.
type ChangeStats struct {
	AddedFiles       int
	AddedFolders     int
	AddedSymlinks    int
	DeletedFiles     int
	DeletedFolders   int
	DeletedSymlinks  int
	ModifiedFiles    int
	ModifiedFolders  int
	ModifiedSymlinks int
}

// ElapsedSince is a small convenience used throughout the pipeline for
// duration logging.
func ElapsedSince(t time.Time) time.Duration {
	return time.Since(t)
}
