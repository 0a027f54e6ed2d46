package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coldvault.yaml")
	body := "blocksize: 200KB\nkeep_versions: 10\nsymlink_policy: Follow\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.KeepVersions)
	assert.Equal(t, "Follow", string(cfg.SymlinkPolicy))
	// untouched fields keep their defaults
	assert.Equal(t, 2, cfg.ConcurrencyBlockHashers)
}

func TestValidate_RejectsVolumeSmallerThanBlock(t *testing.T) {
	cfg := Defaults()
	cfg.VolumeSize = cfg.BlockSize / 2

	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidate_RejectsUnknownSymlinkPolicy(t *testing.T) {
	cfg := Defaults()
	cfg.SymlinkPolicy = "Explode"

	err := cfg.Validate()
	assert.Error(t, err)
}
