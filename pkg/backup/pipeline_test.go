package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/events"
	"github.com/cuemby/coldvault/pkg/types"
	"github.com/cuemby/coldvault/pkg/volume"
)

// modTimeFuture returns a timestamp safely past any file just written in
// this test process, so the metadata pre-processor's mtime comparison sees
// a change.
func modTimeFuture() time.Time {
	return time.Now().Add(time.Hour)
}

// testHarness bundles a real temp-file catalog, an in-memory volume backend
// and a small block size so tests exercise multiple blocks/volumes without
// huge fixtures.
type testHarness struct {
	cat     *catalog.Catalog
	backend *volume.MemoryBackend
	mgr     *volume.Manager
	broker  *events.Broker
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
	cfg.VolumeSize = 64
	cfg.HashSize = 32
	cfg.ConcurrencyBlockHashers = 2
	cfg.ConcurrencyFileProcessors = 2
	cfg.ConcurrencyDataProcessors = 2

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return &testHarness{cat: cat, backend: backend, mgr: mgr, broker: broker, cfg: cfg}
}

func TestRun_FirstFullBackup(t *testing.T) {
	h := newTestHarness(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world, this is file a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("a completely different payload for b"), 0o644))

	res, err := Run(context.Background(), h.cat, h.mgr, h.broker, Options{Sources: []string{dir}, Cfg: h.cfg})
	require.NoError(t, err)
	require.False(t, res.Partial)
	require.NotZero(t, res.FilesetID)
	require.Greater(t, res.NewBlocks, int64(0))

	filesets, err := h.cat.ListFilesets(context.Background())
	require.NoError(t, err)
	require.Len(t, filesets, 1)
	require.True(t, filesets[0].IsFullBackup)
}

func TestRun_IncrementalBackup_InheritsUnchangedFiles(t *testing.T) {
	h := newTestHarness(t)
	dir := t.TempDir()
	unchanged := filepath.Join(dir, "unchanged.txt")
	changed := filepath.Join(dir, "changed.txt")
	require.NoError(t, os.WriteFile(unchanged, []byte("stays the same across both versions"), 0o644))
	require.NoError(t, os.WriteFile(changed, []byte("version one content"), 0o644))

	ctx := context.Background()
	res1, err := Run(ctx, h.cat, h.mgr, h.broker, Options{Sources: []string{dir}, Cfg: h.cfg})
	require.NoError(t, err)
	require.False(t, res1.Partial)

	// mtime must move forward for the metadata pre-processor to even consider re-reading;
	// an unrelated file changing should not disturb the untouched one.
	require.NoError(t, os.WriteFile(changed, []byte("version two content, totally different and longer"), 0o644))
	require.NoError(t, os.Chtimes(changed, modTimeFuture(), modTimeFuture()))

	res2, err := Run(ctx, h.cat, h.mgr, h.broker, Options{Sources: []string{dir}, Cfg: h.cfg})
	require.NoError(t, err)
	require.False(t, res2.Partial)

	filesets, err := h.cat.ListFilesets(ctx)
	require.NoError(t, err)
	require.Len(t, filesets, 2)
	require.False(t, filesets[0].IsFullBackup) // most recent, second run

	batch, err := h.cat.Begin(ctx)
	require.NoError(t, err)
	defer batch.Rollback()
	states, err := batch.PreviousFileStates(ctx, filesets[0].ID)
	require.NoError(t, err)

	byPath := map[string]catalog.PreviousFileState{}
	for _, s := range states {
		byPath[s.Path] = s
	}
	require.Contains(t, byPath, unchanged)
	require.Contains(t, byPath, changed)
	require.NotEqual(t, byPath[unchanged].BlocksetID, byPath[changed].BlocksetID)
}

func TestRun_ChangedFileProducesNewBlockset(t *testing.T) {
	h := newTestHarness(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(target, []byte("first content, reasonably long to split into blocks"), 0o644))

	ctx := context.Background()
	_, err := Run(ctx, h.cat, h.mgr, h.broker, Options{Sources: []string{dir}, Cfg: h.cfg})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(target, []byte("second content is different, also long enough to span blocks nicely"), 0o644))
	require.NoError(t, os.Chtimes(target, modTimeFuture(), modTimeFuture()))

	res2, err := Run(ctx, h.cat, h.mgr, h.broker, Options{Sources: []string{dir}, Cfg: h.cfg})
	require.NoError(t, err)
	require.Greater(t, res2.NewBlocks, int64(0))
}

// TestRun_ReclaimsInterruptedPreviousRunWithSyntheticDlist simulates a crash
// between a Files volume's registration and its run ever committing: the
// volume row is registered directly (as Run itself now does, before its
// main transaction opens) and then abandoned, exactly like a process that
// died before reaching batch.Commit. A following Run must close that
// volume out with a synthetic, partial fileset instead of leaving it
// permanently dangling.
func TestRun_ReclaimsInterruptedPreviousRunWithSyntheticDlist(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	dangling, err := h.mgr.Begin(ctx, types.VolumeTypeFiles)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world, this is file a"), 0o644))

	res, err := Run(ctx, h.cat, h.mgr, h.broker, Options{Sources: []string{dir}, Cfg: h.cfg})
	require.NoError(t, err)
	require.False(t, res.Partial)

	filesets, err := h.cat.ListFilesets(ctx)
	require.NoError(t, err)
	require.Len(t, filesets, 2, "the dangling volume should have been closed out with its own synthetic fileset")

	var synthetic *types.Fileset
	for _, fs := range filesets {
		if fs.VolumeID == dangling.ID {
			synthetic = fs
		}
	}
	require.NotNil(t, synthetic, "expected a fileset bound to the reclaimed volume")
	require.True(t, synthetic.IsPartial)

	volumes, err := h.cat.ListRemoteVolumes(ctx)
	require.NoError(t, err)
	var reclaimed *types.RemoteVolume
	for _, v := range volumes {
		if v.ID == dangling.ID {
			reclaimed = v
		}
	}
	require.NotNil(t, reclaimed)
	require.Equal(t, types.VolumeStateUploaded, reclaimed.State, "reclaimed volume should have been uploaded, not deleted")

	// A second run should find nothing left to reclaim.
	res2, err := Run(ctx, h.cat, h.mgr, h.broker, Options{Sources: []string{dir}, Cfg: h.cfg})
	require.NoError(t, err)
	require.False(t, res2.Partial)

	filesets2, err := h.cat.ListFilesets(ctx)
	require.NoError(t, err)
	require.Len(t, filesets2, 3, "no further synthetic fileset should appear once the dangling volume is closed out")
}

func TestRun_LargeFileExercisesBlocklistChunking(t *testing.T) {
	h := newTestHarness(t)
	h.cfg.BlockSize = 8 // tiny so a modest file needs many blocks/hashes
	h.cfg.HashSize = 4  // small capacity (2 hashes/blocklist block) forces chunking
	dir := t.TempDir()

	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "large.bin"), data, 0o644))

	res, err := Run(context.Background(), h.cat, h.mgr, h.broker, Options{Sources: []string{dir}, Cfg: h.cfg})
	require.NoError(t, err)
	require.False(t, res.Partial)
	require.Greater(t, res.NewBlocks, int64(len(data)/8))
}
