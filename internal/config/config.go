package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/suykerbuyk/cardfill/internal/backend"
	"github.com/suykerbuyk/cardfill/internal/logger"
	"github.com/suykerbuyk/cardfill/internal/mapping"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "CARDFILL_CONFIG"

// Config holds all cardfill configuration.
type Config struct {
	APIBaseURL             string  `toml:"api_base_url"`
	APIKey                 string  `toml:"api_key"`
	APIKeyEnv              string  `toml:"api_key_env"`
	Model                  string  `toml:"model"`
	APIMode                string  `toml:"api_mode"`
	Temperature            float64 `toml:"temperature"`
	MaxTokens              int     `toml:"max_tokens"`
	Timeout                int     `toml:"timeout"`
	AutoFillOnNewCard      bool    `toml:"auto_fill_on_new_card"`
	DelayBetweenRequestsMs int     `toml:"delay_between_requests_ms"`
	MappingsFile           string  `toml:"mappings_file"`
	StateDir               string  `toml:"state_dir"`

	Retry  RetryConfig  `toml:"retry"`
	Log    LogConfig    `toml:"log"`
	Server ServerConfig `toml:"server"`

	NoteTypeMappings map[string]rawMapping `toml:"note_type_mappings"`

	// Mappings holds the validated mappings; note types whose mapping had
	// errors are absent.
	Mappings mapping.Set `toml:"-"`
	// Problems lists every mapping finding from the last load.
	Problems mapping.Problems `toml:"-"`
	// Path is the file the config was read from, empty when defaults.
	Path string `toml:"-"`
}

type RetryConfig struct {
	MaxAttempts    int     `toml:"max_attempts"`
	InitialDelayMs int     `toml:"initial_delay_ms"`
	MaxDelayMs     int     `toml:"max_delay_ms"`
	Multiplier     float64 `toml:"multiplier"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:             backend.DefaultBaseURL,
		Model:                  backend.DefaultModel,
		APIMode:                string(backend.ModeOllama),
		Temperature:            0.7,
		MaxTokens:              500,
		Timeout:                60,
		AutoFillOnNewCard:      true,
		DelayBetweenRequestsMs: 500,
		StateDir:               "~/.local/share/cardfill",
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialDelayMs: 500,
			MaxDelayMs:     5000,
			Multiplier:     2.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8765",
		},
		Mappings: mapping.Set{},
	}
}

// Load reads config from the override path or the standard locations,
// falling back to defaults when no file exists.
func Load() (Config, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return LoadFile(p)
	}
	for _, p := range configPaths() {
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}
	cfg := DefaultConfig()
	cfg.StateDir = expandHome(cfg.StateDir)
	return cfg, nil
}

// LoadFile reads config from path. Mapping problems are recorded in
// Problems and the offending mappings dropped; backend settings that fail
// validation abort the load.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path
	cfg.StateDir = expandHome(cfg.StateDir)
	cfg.MappingsFile = expandHome(cfg.MappingsFile)
	if cfg.MappingsFile != "" && !filepath.IsAbs(cfg.MappingsFile) {
		cfg.MappingsFile = filepath.Join(filepath.Dir(path), cfg.MappingsFile)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	if err := cfg.buildMappings(nil); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ResolveMappings rebuilds Mappings, checking field references against
// schemas (note type → field names), e.g. derived from the note store.
func (c *Config) ResolveMappings(schemas map[string][]string) error {
	return c.buildMappings(schemas)
}

func (c *Config) buildMappings(schemas map[string][]string) error {
	var fromYAML []rawMapping
	if c.MappingsFile != "" {
		var err error
		fromYAML, err = loadMappingsFile(c.MappingsFile)
		if err != nil {
			return err
		}
	}
	c.Mappings, c.Problems = assemble(c.NoteTypeMappings, fromYAML, schemas)
	return nil
}

// Backend returns the backend configuration, resolving api_key_env.
func (c Config) Backend() backend.Config {
	key := c.APIKey
	if key == "" && c.APIKeyEnv != "" {
		key = os.Getenv(c.APIKeyEnv)
	}
	return backend.Config{
		BaseURL:     c.APIBaseURL,
		APIKey:      key,
		Model:       c.Model,
		Mode:        backend.Mode(strings.ToLower(strings.TrimSpace(c.APIMode))),
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Timeout:     time.Duration(c.Timeout) * time.Second,
	}
}

// Delay is the pause between batch records.
func (c Config) Delay() time.Duration {
	return time.Duration(c.DelayBetweenRequestsMs) * time.Millisecond
}

// Logger returns the logger options.
func (c Config) Logger() logger.Options {
	return logger.Options{Level: c.Log.Level, Format: c.Log.Format}
}

// DBPath returns the SQLite note store path.
func (c Config) DBPath() string {
	return filepath.Join(c.StateDir, "cardfill.db")
}

// RunsDir returns the directory holding archived batch reports.
func (c Config) RunsDir() string {
	return filepath.Join(c.StateDir, "runs")
}

func configPaths() []string {
	var paths []string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "cardfill", "config.toml"))
	}

	home, _ := os.UserHomeDir()
	if home != "" {
		paths = append(paths, filepath.Join(home, ".config", "cardfill", "config.toml"))
	}

	return paths
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
