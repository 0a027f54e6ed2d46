// Package restore implements the restore pipeline (C5): planning,
// local-block reuse, remote volume fetch/decode, block patching and
// metadata application.
package restore

import (
	"time"

	"github.com/cuemby/coldvault/pkg/config"
)

// Options configures one restore run.
type Options struct {
	// FilesetID selects an exact backup version; if zero, Timestamp (or
	// the latest fileset, if Timestamp is also zero) is used instead.
	FilesetID int64
	Timestamp int64

	TargetDir string
	// PathPrefix restricts restore to entries whose source path has this
	// prefix; empty restores everything in the fileset.
	PathPrefix string

	Overwrite        bool
	RenameOnConflict bool
	UseLocalBlocks   bool
	Legacy           bool // selects the single-threaded Phase 3 over the pipelined one
	VerifyRestored   bool

	Cfg *config.Config
}

// Result summarizes one completed restore run.
type Result struct {
	FilesetID      int64
	FilesRestored  int
	FilesVerified  int
	FilesBroken    []string
	BytesWritten   int64
	BlocksReused   int64
	BlocksFetched  int64
	VolumesFetched int
	Duration       time.Duration
}
