// Package archive implements the dlist/dblock/dindex container formats
// described in spec.md §6, built on archive/zip for its Zip64 support (no
// third-party zip container library exists in the retrieved reference
// corpus). Encryption and compression of the underlying bytes are applied
// by the caller, through the Encryptor/Compressor interfaces in codec.go,
// before the bytes reach a Writer or after they leave a Reader.
package archive

import "time"

// Manifest is the dlist container's top-level "manifest" entry.
type Manifest struct {
	Version    int       `json:"version"`
	Created    time.Time `json:"created"`
	Encoding   string    `json:"encoding"`
	BlockSize  int       `json:"blocksize"`
	BlockHash  string    `json:"block-hash"`
	FileHash   string    `json:"file-hash"`
	AppVersion string    `json:"app-version"`
}

// FileListEntry is one row of a dlist's filelist.json.
type FileListEntry struct {
	Type          string   `json:"type"` // File, Folder, Symlink
	Path          string   `json:"path"`
	Hash          string   `json:"hash,omitempty"`
	Size          int64    `json:"size"`
	Time          int64    `json:"time"`
	MetaHash      string   `json:"metahash,omitempty"`
	MetaSize      int64    `json:"metasize,omitempty"`
	MetaBlockHash string   `json:"metablockhash,omitempty"`
	Blocklists    []string `json:"blocklists,omitempty"`
}

// VolumeManifestEntry is one row of a dindex's vol/<dblockname> listing:
// the (hash, size) tuples packed into the paired dblock volume.
type VolumeManifestEntry struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}
