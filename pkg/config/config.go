// Package config defines coldvault's option bag and its YAML loader.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/coldvault/pkg/types"
)

// Config is the full set of tunables accepted by the engine, matching
// spec.md §9's "dynamic option bag" design note. Every field has a
// documented default applied by Defaults.
type Config struct {
	// Block sizing.
	BlockSize     datasize.ByteSize `yaml:"blocksize"`
	VolumeSize    datasize.ByteSize `yaml:"volume_size"`
	HashSize      int               `yaml:"hash_size"`
	SmallFileSize datasize.ByteSize `yaml:"small_file_size"`

	// Retention.
	KeepTime        time.Duration `yaml:"keep_time"`
	KeepVersions    int           `yaml:"keep_versions"`
	RetentionPolicy string        `yaml:"retention_policy"`

	// Compaction.
	WastedThreshold     float64 `yaml:"threshold"`
	MaxSmallVolumeCount int     `yaml:"max_small_volume_count"`

	// Concurrency.
	ConcurrencyBlockHashers   int `yaml:"concurrency_block_hashers"`
	ConcurrencyFileProcessors int `yaml:"concurrency_file_processors"`
	ConcurrencyDataProcessors int `yaml:"concurrency_data_processors"`
	RestoreChannelBufferSize  int `yaml:"restore_channel_buffer_size"`

	// Source traversal policy.
	SymlinkPolicy       types.SymlinkPolicy  `yaml:"symlink_policy"`
	HardlinkPolicy      types.HardlinkPolicy `yaml:"hardlink_policy"`
	SnapshotPolicy      string               `yaml:"snapshot_policy"`
	USNPolicy           string               `yaml:"usn_policy"`
	FileAttributeFilter []string             `yaml:"file_attribute_filter"`
	SkipFilesLargerThan datasize.ByteSize    `yaml:"skip_files_larger_than"`

	// Operational flags.
	RestoreLegacy                    bool `yaml:"restore_legacy"`
	DryRun                           bool `yaml:"dryrun"`
	NoBackendVerification            bool `yaml:"no_backend_verification"`
	AutoCleanup                      bool `yaml:"auto_cleanup"`
	DisableFilelistConsistencyChecks bool `yaml:"disable_filelist_consistency_checks"`
	FullBlockVerification            bool `yaml:"full_block_verification"`
	UseLocalBlocks                   bool `yaml:"use_local_blocks"`
	Overwrite                        bool `yaml:"overwrite"`
	PerformRestoredFileVerification  bool `yaml:"perform_restored_file_verification"`

	// Destination.
	DestinationURL string `yaml:"destination_url"`
	CatalogPath    string `yaml:"catalog_path"`
	VolumePrefix   string `yaml:"volume_prefix"`
}

// Defaults returns a Config populated with spec-recommended defaults.
func Defaults() *Config {
	return &Config{
		BlockSize:                 100 * datasize.KB,
		VolumeSize:                50 * datasize.MB,
		HashSize:                  32,
		SmallFileSize:             1 * datasize.MB,
		KeepTime:                  0,
		KeepVersions:              0,
		RetentionPolicy:           "",
		WastedThreshold:           0.25,
		MaxSmallVolumeCount:       20,
		ConcurrencyBlockHashers:   2,
		ConcurrencyFileProcessors: 2,
		ConcurrencyDataProcessors: 2,
		RestoreChannelBufferSize:  32,
		SymlinkPolicy:             types.SymlinkStore,
		HardlinkPolicy:            types.HardlinkStoreOnce,
		SnapshotPolicy:            "off",
		USNPolicy:                 "off",
		VolumePrefix:              "coldvault",
	}
}

// Load reads a YAML config file, applying Defaults first so the file only
// needs to override what it cares about.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field invariants that Load alone can't enforce.
func (c *Config) Validate() error {
	if c.BlockSize <= 0 {
		return fmt.Errorf("blocksize must be positive")
	}
	if c.VolumeSize <= 0 {
		return fmt.Errorf("volume_size must be positive")
	}
	if c.VolumeSize < c.BlockSize {
		return fmt.Errorf("volume_size (%s) must be >= blocksize (%s)", c.VolumeSize, c.BlockSize)
	}
	if c.HashSize <= 0 {
		return fmt.Errorf("hash_size must be positive")
	}
	switch c.SymlinkPolicy {
	case types.SymlinkStore, types.SymlinkFollow, types.SymlinkIgnore, "":
	default:
		return fmt.Errorf("unknown symlink_policy %q", c.SymlinkPolicy)
	}
	switch c.HardlinkPolicy {
	case types.HardlinkStoreOnce, types.HardlinkStoreAll, "":
	default:
		return fmt.Errorf("unknown hardlink_policy %q", c.HardlinkPolicy)
	}
	return nil
}
