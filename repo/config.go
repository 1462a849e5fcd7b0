package repo

import (
	"path/filepath"
	"time"

	"github.com/axiomesh/allocator/core"
)

type Config struct {
	RepoRoot string   `mapstructure:"-" toml:"-"`
	Log      Log      `mapstructure:"log" toml:"log"`
	Strategy Strategy `mapstructure:"strategy" toml:"strategy"`
	Storage  Storage  `mapstructure:"storage" toml:"storage"`
	Registry Registry `mapstructure:"registry" toml:"registry"`
}

type Log struct {
	Level        string        `mapstructure:"level" toml:"level"`
	Filename     string        `mapstructure:"filename" toml:"filename"`
	ReportCaller bool          `mapstructure:"report_caller" toml:"report_caller"`
	MaxAge       time.Duration `mapstructure:"max_age" toml:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time" toml:"rotation_time"`
}

type Strategy struct {
	// whole percentage of total voting power a decision must strictly exceed
	Threshold uint64 `mapstructure:"threshold" toml:"threshold"`
	// number of hunter slots, only 1 is supported
	MaxRecipients int `mapstructure:"max_recipients" toml:"max_recipients"`
}

type Storage struct {
	// both directories are relative to the repo root
	SnapshotDir      string `mapstructure:"snapshot_dir" toml:"snapshot_dir"`
	JournalDir       string `mapstructure:"journal_dir" toml:"journal_dir"`
	SegmentThreshold int    `mapstructure:"segment_threshold" toml:"segment_threshold"`
	MaxSegments      int    `mapstructure:"max_segments" toml:"max_segments"`
	SyncDisk         bool   `mapstructure:"sync_disk" toml:"sync_disk"`
}

type Registry struct {
	RetryLimit   uint          `mapstructure:"retry_limit" toml:"retry_limit"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" toml:"retry_backoff"`
}

func DefaultConfig(repoRoot string) *Config {
	return &Config{
		RepoRoot: repoRoot,
		Log: Log{
			Level:        "info",
			Filename:     "allocator.log",
			ReportCaller: false,
			MaxAge:       30 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
		Strategy: Strategy{
			Threshold:     77,
			MaxRecipients: 1,
		},
		Storage: Storage{
			SnapshotDir:      "leveldb",
			JournalDir:       "journal",
			SegmentThreshold: 1000,
			MaxSegments:      100,
			SyncDisk:         true,
		},
		Registry: Registry{
			RetryLimit:   3,
			RetryBackoff: 200 * time.Millisecond,
		},
	}
}

// StrategyConfig is the engine configuration derived from the repo config.
func (c *Config) StrategyConfig() core.Config {
	return core.Config{
		Threshold:     c.Strategy.Threshold,
		MaxRecipients: c.Strategy.MaxRecipients,
		RetryLimit:    c.Registry.RetryLimit,
		RetryBackoff:  c.Registry.RetryBackoff,
	}
}

func (c *Config) SnapshotPath() string {
	return c.resolve(c.Storage.SnapshotDir)
}

func (c *Config) JournalPath() string {
	return c.resolve(c.Storage.JournalDir)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.RepoRoot, p)
}
