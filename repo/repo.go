package repo

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	rootPathEnvVar = "ALLOCATOR_PATH"

	envPrefix = "ALLOCATOR"

	cfgFileName = "allocator.toml"

	defaultRepoRoot = "~/.allocator"

	LogsDirName = "logs"
)

type Repo struct {
	Config *Config
}

// Exist reports whether anything is present at path.
func Exist(path string) bool {
	_, err := os.Lstat(path)
	return err == nil || !os.IsNotExist(err)
}

func ConfigPath(repoRoot string) string {
	return filepath.Join(repoRoot, cfgFileName)
}

// Load reads the repo config, creating the repo with defaults on first use.
// Environment variables prefixed with ALLOCATOR_ override file values.
func Load(repoRoot string) (*Repo, error) {
	rootPath, err := LoadRepoRootFromEnv(repoRoot)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig(rootPath)
	cfgPath := ConfigPath(rootPath)

	if !Exist(cfgPath) {
		if err := os.MkdirAll(rootPath, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create repo root")
		}
		if err := writeConfigWithEnv(cfgPath, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to build default config")
		}
	} else {
		if err := CheckWritable(rootPath); err != nil {
			return nil, err
		}
		if err := readConfigFromFile(cfgPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", cfgPath)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Repo{Config: cfg}, nil
}

func (r *Repo) Flush() error {
	if err := writeConfigWithEnv(ConfigPath(r.Config.RepoRoot), r.Config); err != nil {
		return errors.Wrap(err, "failed to write config")
	}

	return nil
}

// Validate checks the values the engine and the logger cannot work without.
func (c *Config) Validate() error {
	if c.Strategy.Threshold == 0 || c.Strategy.Threshold > 100 {
		return errors.Errorf("strategy.threshold must be in 1..100, got %d", c.Strategy.Threshold)
	}
	if c.Strategy.MaxRecipients != 1 {
		return errors.Errorf("strategy.max_recipients must be 1, got %d", c.Strategy.MaxRecipients)
	}
	if c.Registry.RetryLimit == 0 {
		return errors.New("registry.retry_limit must be at least 1")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if c.Storage.SnapshotDir == "" || c.Storage.JournalDir == "" {
		return errors.New("storage.snapshot_dir and storage.journal_dir are required")
	}
	return nil
}

// writeConfigWithEnv writes config, reads it back with environment overrides
// applied, and writes the merged result.
func writeConfigWithEnv(cfgPath string, config any) error {
	if err := writeConfig(cfgPath, config); err != nil {
		return err
	}
	if err := readConfigFromFile(cfgPath, config); err != nil {
		return errors.Wrapf(err, "failed to read cfg from environment")
	}
	return writeConfig(cfgPath, config)
}

func writeConfig(cfgPath string, config any) error {
	raw, err := MarshalConfig(config)
	if err != nil {
		return err
	}

	return os.WriteFile(cfgPath, []byte(raw), 0644)
}

func MarshalConfig(config any) (string, error) {
	buf := bytes.NewBuffer(nil)
	e := toml.NewEncoder(buf)
	e.SetIndentTables(true)
	e.SetArraysMultiline(true)
	if err := e.Encode(config); err != nil {
		return "", errors.Wrap(err, "encode config")
	}
	return buf.String(), nil
}

func LoadRepoRootFromEnv(repoRoot string) (string, error) {
	if repoRoot != "" {
		return repoRoot, nil
	}
	if repoRoot = os.Getenv(rootPathEnvVar); repoRoot != "" {
		return repoRoot, nil
	}
	return homedir.Expand(defaultRepoRoot)
}

func readConfigFromFile(cfgFilePath string, config any) error {
	vp := viper.New()
	vp.SetConfigFile(cfgFilePath)
	vp.SetConfigType("toml")
	vp.AutomaticEnv()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := vp.ReadInConfig(); err != nil {
		return err
	}
	return vp.Unmarshal(config)
}

// CheckWritable makes sure dir exists and the current user can write to it.
func CheckWritable(dir string) error {
	_, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return os.Mkdir(dir, 0775)
	case os.IsPermission(err):
		return errors.Errorf("cannot write to %s, incorrect permissions", dir)
	case err != nil:
		return err
	}

	probe := filepath.Join(dir, ".write_probe")
	f, err := os.Create(probe)
	if err != nil {
		if os.IsPermission(err) {
			return errors.Errorf("%s is not writeable by the current user", dir)
		}
		return errors.Wrap(err, "unexpected error while checking writeablility of repo root")
	}
	f.Close()
	return os.Remove(probe)
}
