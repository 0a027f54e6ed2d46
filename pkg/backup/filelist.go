package backup

import (
	"sync"

	"github.com/cuemby/coldvault/pkg/archive"
)

// filelistSink serializes concurrent File block processor workers writing
// into the run's single dlist filelist; AddFile only appends to an
// in-memory slice, but that slice isn't safe for concurrent writers.
type filelistSink struct {
	mu sync.Mutex
	dw *archive.DlistWriter
}

func newFilelistSink(dw *archive.DlistWriter) *filelistSink {
	return &filelistSink{dw: dw}
}

func (s *filelistSink) add(e archive.FileListEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dw.AddFile(e)
}
