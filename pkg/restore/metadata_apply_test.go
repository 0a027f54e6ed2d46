package restore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/coldvault/pkg/types"
)

func TestApplyMetadata_StampsLastModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	want := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	plan := &Plan{Files: []*PlannedFile{
		{TargetPath: path, EntryType: types.EntryTypeFile, LastModified: want.Unix()},
	}}

	res := &Result{}
	require.NoError(t, applyMetadata(plan, Options{}, res))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.WithinDuration(t, want, info.ModTime(), time.Second)
	require.Empty(t, res.FilesBroken)
}

func TestApplyMetadata_SymlinkEntryReportedBroken(t *testing.T) {
	plan := &Plan{Files: []*PlannedFile{
		{SourcePath: "/src/link", TargetPath: "/nonexistent/link", EntryType: types.EntryTypeSymlink},
	}}
	res := &Result{}
	require.NoError(t, applyMetadata(plan, Options{}, res))
	require.Equal(t, []string{"/src/link"}, res.FilesBroken)
}

func TestApplyMetadata_MissingFileReportedBroken(t *testing.T) {
	plan := &Plan{Files: []*PlannedFile{
		{SourcePath: "/src/missing.txt", TargetPath: "/nonexistent/missing.txt", EntryType: types.EntryTypeFile},
	}}
	res := &Result{}
	require.NoError(t, applyMetadata(plan, Options{}, res))
	require.Equal(t, []string{"/src/missing.txt"}, res.FilesBroken)
}
