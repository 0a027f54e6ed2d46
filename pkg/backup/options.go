// Package backup implements the concurrent backup pipeline (C4): directory
// enumeration through content-addressed block upload, as a directed graph
// of goroutines connected by bounded channels.
package backup

import (
	"time"

	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/types"
)

// Options configures one backup run, pulled from config.Config plus the
// per-invocation source list.
type Options struct {
	Sources []string
	Cfg     *config.Config

	// VolumePrefix tags generated volume names.
	VolumePrefix string
}

// Result summarizes one completed (or partially completed) backup run.
type Result struct {
	FilesetID       int64
	Stats           types.ChangeStats
	BrokenLocal     []string
	NewBlocks       int64
	DuplicateBlocks int64
	VolumesUploaded int
	Duration        time.Duration
	Partial         bool
}

// sourceEntry is one item discovered by the Enumerator and carried through
// every subsequent stage, accumulating fields as it goes.
type sourceEntry struct {
	path         string
	entryType    types.EntryType
	size         int64
	lastModified int64

	// inherited is set by the metadata pre-processor when this entry is
	// unchanged from the previous fileset and needs no re-read.
	inherited      bool
	prevBlocksetID int64
	prevMetadataID int64

	// populated by the stream splitter / file block processor.
	blockHashes []blockSpan
	contentHash string
	metaHash    string

	broken bool
	err    error
}

// blockSpan is one fixed-size chunk of a file's content stream, already
// hashed by the stream splitter.
type blockSpan struct {
	hash string
	data []byte
}
