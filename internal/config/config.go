// Package config loads taskmesh configuration from file, environment,
// and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Mirror describes one external mirror location.
type Mirror struct {
	// Name is the external agent identity this mirror belongs to.
	Name string `mapstructure:"name" yaml:"name"`
	// Dir is the mirror's storage directory.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MetadataKey overrides the key used for this mirror's sync mapping
	// in local task metadata. Defaults to "<name>_sync".
	MetadataKey string `mapstructure:"metadata_key" yaml:"metadata_key,omitempty"`
	// IDPrefix is prepended to minted external ids.
	IDPrefix string `mapstructure:"id_prefix" yaml:"id_prefix,omitempty"`
}

// Config is the full taskmesh configuration.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
	// LogFile receives rotating daemon logs; empty means stderr only.
	LogFile string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	// DashboardAddr is the websocket dashboard listen address.
	DashboardAddr string `mapstructure:"dashboard_addr" yaml:"dashboard_addr,omitempty"`
	// Mirrors lists the configured external mirrors.
	Mirrors []Mirror `mapstructure:"mirrors" yaml:"mirrors,omitempty"`
}

// DefaultDir returns the per-user taskmesh directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskmesh"
	}
	return filepath.Join(home, ".taskmesh")
}

// Load reads configuration from path (or the default locations when
// path is empty), applying environment overrides with the TASKMESH
// prefix and defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("db_path", filepath.Join(DefaultDir(), "taskmesh.db"))
	v.SetDefault("dashboard_addr", "127.0.0.1:8377")

	v.SetEnvPrefix("TASKMESH")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// Missing config is fine; defaults and env carry the load.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// MirrorByName returns the configured mirror with the given name.
func (c *Config) MirrorByName(name string) (*Mirror, error) {
	for i := range c.Mirrors {
		if c.Mirrors[i].Name == name {
			return &c.Mirrors[i], nil
		}
	}
	return nil, fmt.Errorf("mirror %q is not configured", name)
}

// WriteDefault writes an example config file to path, refusing to
// overwrite an existing one.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	cfg := Config{
		DBPath:        filepath.Join(DefaultDir(), "taskmesh.db"),
		DashboardAddr: "127.0.0.1:8377",
		Mirrors: []Mirror{
			{Name: "codex", Dir: filepath.Join(DefaultDir(), "mirrors", "codex")},
		},
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
