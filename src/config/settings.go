package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"ppm/src/composer"
	apperrors "ppm/src/errors"
)

type Settings struct {
	Prompt    PromptConfig    `toml:"prompt"`
	Tokenizer TokenizerConfig `toml:"tokenizer"`
	Database  DatabaseConfig  `toml:"database"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Log       LogConfig       `toml:"log"`
}

type PromptConfig struct {
	Separator      string `toml:"separator"`
	IncludeWeights bool   `toml:"include_weights"`
	AdhocPosition  string `toml:"adhoc_position"`
}

type TokenizerConfig struct {
	DefaultModel string   `toml:"default_model"`
	Encoding     string   `toml:"encoding"`
	Cache        string   `toml:"cache"`
	RedisURL     string   `toml:"redis_url"`
	CacheTTL     Duration `toml:"cache_ttl"`
	Debounce     Duration `toml:"debounce"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type DaemonConfig struct {
	Socket  string `toml:"socket"`
	PIDFile string `toml:"pid_file"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Duration decodes TOML strings such as "250ms" or "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Cache kinds.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// DefaultSettings returns the settings used when no config file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Prompt: PromptConfig{
			Separator:      ", ",
			IncludeWeights: true,
			AdhocPosition:  "end",
		},
		Tokenizer: TokenizerConfig{
			DefaultModel: "stabilityai/stable-diffusion-xl-base-1.0",
			Encoding:     "cl100k_base",
			Cache:        CacheMemory,
			CacheTTL:     Duration{10 * time.Minute},
			Debounce:     Duration{250 * time.Millisecond},
		},
		Database: DatabaseConfig{
			Path: filepath.Join(GetDataDir(), "ppm.db"),
		},
		Daemon: DaemonConfig{
			Socket:  filepath.Join(GetRuntimeDir(), "ppm.sock"),
			PIDFile: filepath.Join(GetRuntimeDir(), "ppm.pid"),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadSettings reads path over the defaults. An empty path means the
// default config file; a missing file yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		path = GetConfigFile()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, err
	}

	if _, err := toml.Decode(string(data), settings); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate rejects values the rest of the program cannot interpret.
func (s *Settings) Validate() error {
	switch s.Prompt.AdhocPosition {
	case "beginning", "end":
	default:
		return apperrors.NewValidationError("prompt.adhoc_position", s.Prompt.AdhocPosition, "must be beginning or end")
	}

	switch s.Tokenizer.Cache {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if s.Tokenizer.RedisURL == "" {
			return apperrors.NewValidationError("tokenizer.redis_url", "", "required when cache is redis")
		}
	default:
		return apperrors.NewValidationError("tokenizer.cache", s.Tokenizer.Cache, "must be none, memory or redis")
	}

	if s.Tokenizer.CacheTTL.Duration < 0 || s.Tokenizer.Debounce.Duration < 0 {
		return apperrors.NewValidationError("tokenizer", nil, "durations cannot be negative")
	}
	if s.Database.Path == "" {
		return apperrors.NewValidationError("database.path", "", "is required")
	}
	return nil
}

// Save writes the settings as TOML to path.
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(s)
}

// ComposeOptions converts the prompt section into composer options. An
// explicitly empty separator is kept.
func (p PromptConfig) ComposeOptions() composer.Options {
	opts := composer.DefaultOptions()
	opts.IncludeWeights = p.IncludeWeights
	opts.Separator = p.Separator
	if p.AdhocPosition == string(composer.AdhocBeginning) {
		opts.AdhocPosition = composer.AdhocBeginning
	}
	return opts
}
