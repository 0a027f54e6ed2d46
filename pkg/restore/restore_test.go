package restore

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

// testHarness wires a real temp-file catalog and an in-memory volume
// backend and runs one backup pass over srcDir, so restore tests exercise
// the genuine block/volume layout a backup actually produces.
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
	cfg.VolumeSize = 1024
	cfg.HashSize = 32
	cfg.ConcurrencyBlockHashers = 2
	cfg.ConcurrencyFileProcessors = 2
	cfg.ConcurrencyDataProcessors = 2
	cfg.RestoreChannelBufferSize = 4

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

func TestRun_RestoresFileContent(t *testing.T) {
	h := newTestHarness(t)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "hello world, this is some file content")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "nested file content here")

	backupRes := h.runBackup(t, src)
	require.Greater(t, backupRes.FilesetID, int64(0))

	targetDir := t.TempDir()
	res, err := Run(context.Background(), h.cat, h.mgr, Options{
		FilesetID: backupRes.FilesetID,
		TargetDir: targetDir,
		Overwrite: true,
		Cfg:       h.cfg,
	}, nil)
	require.NoError(t, err)
	require.Greater(t, res.FilesRestored, 0)

	gotA, err := os.ReadFile(filepath.Join(targetDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world, this is some file content", string(gotA))

	gotB, err := os.ReadFile(filepath.Join(targetDir, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "nested file content here", string(gotB))
}

func TestRun_LegacyPathMatchesPipelinedContent(t *testing.T) {
	h := newTestHarness(t)
	src := t.TempDir()
	content := make([]byte, 4096)
	for i := range content {
		content[i] = byte(i % 251)
	}
	writeFile(t, filepath.Join(src, "big.bin"), string(content))

	backupRes := h.runBackup(t, src)

	legacyDir := t.TempDir()
	_, err := Run(context.Background(), h.cat, h.mgr, Options{
		FilesetID: backupRes.FilesetID,
		TargetDir: legacyDir,
		Overwrite: true,
		Legacy:    true,
		Cfg:       h.cfg,
	}, nil)
	require.NoError(t, err)

	pipelinedDir := t.TempDir()
	_, err = Run(context.Background(), h.cat, h.mgr, Options{
		FilesetID: backupRes.FilesetID,
		TargetDir: pipelinedDir,
		Overwrite: true,
		Cfg:       h.cfg,
	}, nil)
	require.NoError(t, err)

	legacyContent, err := os.ReadFile(filepath.Join(legacyDir, "big.bin"))
	require.NoError(t, err)
	pipelinedContent, err := os.ReadFile(filepath.Join(pipelinedDir, "big.bin"))
	require.NoError(t, err)
	require.Equal(t, legacyContent, pipelinedContent)
	require.Equal(t, content, legacyContent)
}

func TestRun_PathPrefixRestrictsRestore(t *testing.T) {
	h := newTestHarness(t)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "keep", "x.txt"), "keep me")
	writeFile(t, filepath.Join(src, "skip", "y.txt"), "skip me")

	backupRes := h.runBackup(t, src)

	targetDir := t.TempDir()
	keepPrefix := filepath.Join(src, "keep")
	_, err := Run(context.Background(), h.cat, h.mgr, Options{
		FilesetID:  backupRes.FilesetID,
		TargetDir:  targetDir,
		PathPrefix: keepPrefix,
		Overwrite:  true,
		Cfg:        h.cfg,
	}, nil)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(targetDir, "x.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(targetDir, "y.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestReuseLocalBlocks_SkipsIdenticalExistingFile(t *testing.T) {
	h := newTestHarness(t)
	src := t.TempDir()
	content := "this content is unchanged across both runs and is long enough to span blocks"
	writeFile(t, filepath.Join(src, "same.txt"), content)

	backupRes := h.runBackup(t, src)

	targetDir := t.TempDir()
	writeFile(t, filepath.Join(targetDir, "same.txt"), content)

	res, err := Run(context.Background(), h.cat, h.mgr, Options{
		FilesetID:      backupRes.FilesetID,
		TargetDir:      targetDir,
		Overwrite:      true,
		UseLocalBlocks: true,
		Cfg:            h.cfg,
	}, nil)
	require.NoError(t, err)
	require.Greater(t, res.BlocksReused, int64(0))
}

func TestReuseLocalBlocks_PreservesMatchedRangesOfPartiallyChangedFile(t *testing.T) {
	h := newTestHarness(t)
	src := t.TempDir()
	// Four 16-byte blocks (cfg.BlockSize == 16), so the split boundaries
	// this test depends on line up exactly with chunk boundaries.
	wanted := "AAAAAAAAAAAAAAAA" + "BBBBBBBBBBBBBBBB" + "CCCCCCCCCCCCCCCC" + "DDDDDDDDDDDDDDDD"
	writeFile(t, filepath.Join(src, "partial.txt"), wanted)

	backupRes := h.runBackup(t, src)

	// The restore target already has the first two blocks right, but the
	// last two are stale content from an older version.
	targetDir := t.TempDir()
	existing := "AAAAAAAAAAAAAAAA" + "BBBBBBBBBBBBBBBB" + "XXXXXXXXXXXXXXXX" + "YYYYYYYYYYYYYYYY"
	writeFile(t, filepath.Join(targetDir, "partial.txt"), existing)

	res, err := Run(context.Background(), h.cat, h.mgr, Options{
		FilesetID: backupRes.FilesetID,
		TargetDir: targetDir,
		Overwrite: true,
		Cfg:       h.cfg,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.BlocksReused, "only the two matching blocks should be marked reused")

	got, err := os.ReadFile(filepath.Join(targetDir, "partial.txt"))
	require.NoError(t, err)
	require.Equal(t, wanted, string(got), "matched byte ranges must survive Phase 3's writes of the changed blocks")
}
