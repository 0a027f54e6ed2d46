package compact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/backup"
	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/volume"
)

// testHarness wires a real temp-file catalog and in-memory volume backend,
// the same shape pkg/backup and pkg/restore's own tests use, so compact's
// tests exercise the genuine block/volume layout a backup run produces.
type testHarness struct {
	cat     *catalog.Catalog
	backend *volume.MemoryBackend
	mgr     *volume.Manager
	cfg     *config.Config
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := catalog.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	backend := volume.NewMemoryBackend()
	mgr := volume.NewManager(backend, cat, "test")

	cfg := config.Defaults()
	cfg.BlockSize = 16
	cfg.VolumeSize = 1 << 20 // keep both test files in one Blocks volume
	cfg.HashSize = 32
	cfg.ConcurrencyBlockHashers = 2
	cfg.ConcurrencyFileProcessors = 2
	cfg.ConcurrencyDataProcessors = 2
	cfg.WastedThreshold = 0.25
	cfg.MaxSmallVolumeCount = 20

	return &testHarness{cat: cat, backend: backend, mgr: mgr, cfg: cfg}
}

func (h *testHarness) runBackup(t *testing.T, srcDir string) *backup.Result {
	t.Helper()
	res, err := backup.Run(context.Background(), h.cat, h.mgr, nil, backup.Options{
		Sources: []string{srcDir},
		Cfg:     h.cfg,
	})
	require.NoError(t, err)
	return res
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// twoVersionsWithOneRemovedFile backs up a directory holding "keep.txt" and
// "drop.txt", then a second version with only "keep.txt" present
// (unchanged content, so its blocks are reused rather than re-uploaded).
// Dropping the first fileset via retention leaves exactly one live block
// and one orphaned (wasted) block behind in the same original Blocks
// volume — the shape compact's Wasted classification and rehome step need.
func twoVersionsWithOneRemovedFile(t *testing.T, h *testHarness) (fileset1, fileset2 int64) {
	t.Helper()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "keep.txt"), "content that survives both backup versions untouched")
	writeFile(t, filepath.Join(src, "drop.txt"), "content that only exists in the first backup version")
	res1 := h.runBackup(t, src)

	require.NoError(t, os.Remove(filepath.Join(src, "drop.txt")))
	res2 := h.runBackup(t, src)

	return res1.FilesetID, res2.FilesetID
}
