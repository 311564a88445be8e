// Package config handles agento's on-disk configuration.
//
// Settings live in <dataDir>/config.yaml. Missing fields fall back to
// defaults, and a small set of environment variables override the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file name inside the data directory.
const FileName = "config.yaml"

// Config holds orchestrator settings.
type Config struct {
	// DataDir is resolved at load time and never read from the file.
	DataDir string `yaml:"-"`

	Port         int    `yaml:"port"`
	Bind         string `yaml:"bind"`
	FrontendPort int    `yaml:"frontend_port"`
	DockerImage  string `yaml:"docker_image"`
	DockerBinary string `yaml:"docker_binary"`

	// CallbackRate is the sustained number of credential callbacks per second
	// accepted for a single gateway token.
	CallbackRate float64 `yaml:"callback_rate"`

	TLSCert string `yaml:"tls_cert,omitempty"`
	TLSKey  string `yaml:"tls_key,omitempty"`

	Ports     PortsConfig     `yaml:"ports"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Container ContainerConfig `yaml:"container"`
	Vault     VaultConfig     `yaml:"vault"`
	Log       LogConfig       `yaml:"log"`
}

// PortsConfig configures host port allocation.
type PortsConfig struct {
	Base int `yaml:"base"`
}

// MonitorConfig configures the status reconciler.
type MonitorConfig struct {
	Interval    time.Duration `yaml:"interval"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// ContainerConfig holds the per-agent resource ceilings.
type ContainerConfig struct {
	MemoryMB    int    `yaml:"memory_mb"`
	CPUs        int    `yaml:"cpus"`
	PidsLimit   int64  `yaml:"pids_limit"`
	TmpfsSize   string `yaml:"tmpfs_size"`
	ServicePort int    `yaml:"service_port"`
}

// VaultConfig selects where the master key is kept.
type VaultConfig struct {
	// Keychain stores the master key in the OS keychain instead of a file.
	Keychain bool `yaml:"keychain"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level         string `yaml:"level"`
	Verbose       bool   `yaml:"verbose"`
	JSON          bool   `yaml:"json"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns the default configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:      dataDir,
		Port:         3001,
		Bind:         "0.0.0.0",
		FrontendPort: 3000,
		DockerImage:  "openclaw:latest",
		DockerBinary: "docker",
		CallbackRate: 5,
		Ports:        PortsConfig{Base: 18800},
		Monitor: MonitorConfig{
			Interval:    10 * time.Second,
			CallTimeout: 5 * time.Second,
		},
		Container: ContainerConfig{
			MemoryMB:    8192,
			CPUs:        2,
			PidsLimit:   512,
			TmpfsSize:   "256m",
			ServicePort: 8080,
		},
		Log: LogConfig{
			Level:         "info",
			RetentionDays: 7,
		},
	}
}

// DataDir returns $AGENTO_DATA_DIR, or ~/.agento when unset.
func DataDir() string {
	if dir := os.Getenv("AGENTO_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".agento")
	}
	return filepath.Join(home, ".agento")
}

// Path returns the config file path for dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Exists reports whether dataDir has been initialized.
func Exists(dataDir string) bool {
	_, err := os.Stat(Path(dataDir))
	return err == nil
}

// Load reads the config for the default data directory.
func Load() (*Config, error) {
	return LoadFrom(DataDir())
}

// LoadFrom reads <dataDir>/config.yaml over the defaults and applies
// environment overrides. A missing file is not an error.
func LoadFrom(dataDir string) (*Config, error) {
	cfg := Default(dataDir)

	data, err := os.ReadFile(Path(dataDir))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", Path(dataDir), err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg.DataDir = dataDir

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("AGENTO_DOCKER_IMAGE"); v != "" {
		cfg.DockerImage = v
	}
}

// Save writes cfg to <DataDir>/config.yaml.
func Save(cfg *Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(Path(cfg.DataDir), data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// EnsureDirs creates the data directory tree.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.AgentsDir(), c.LogDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// AgentsDir holds one private directory per agent.
func (c *Config) AgentsDir() string { return filepath.Join(c.DataDir, "agents") }

// LogDir holds the daily JSONL logs.
func (c *Config) LogDir() string { return filepath.Join(c.DataDir, "logs") }

// DatabasePath is the SQLite database file.
func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "agento.db") }

// MasterKeyPath is the vault master key file.
func (c *Config) MasterKeyPath() string { return filepath.Join(c.DataDir, "master.key") }

// PIDPath is written by a running server.
func (c *Config) PIDPath() string { return filepath.Join(c.DataDir, "agento.pid") }

// BaseURL is the local address of the HTTP API.
func (c *Config) BaseURL() string { return fmt.Sprintf("http://localhost:%d", c.Port) }
