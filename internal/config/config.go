// Package config layers defaults, a YAML file, RECALL_ environment variables
// and command-line flags into one validated Config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/recall/internal/fsrs"
)

// EnvPrefix marks the environment variables read into the config. A double
// underscore separates nested keys: RECALL_HTTP__ADDR sets http.addr.
const EnvPrefix = "RECALL_"

// DefaultFile is read when no config file is named. It may be absent.
const DefaultFile = "recall.yaml"

type Config struct {
	Vault              string   `koanf:"vault" validate:"required"`
	MemoryDir          string   `koanf:"memory_dir" validate:"required"`
	InlineSeparator    string   `koanf:"inline_separator" validate:"required,nefield=MultilineSeparator"`
	MultilineSeparator string   `koanf:"multiline_separator" validate:"required"`
	ExcludedPaths      []string `koanf:"excluded_paths"`
	IncludedPaths      []string `koanf:"included_paths"`
	AutoTrackNotes     bool     `koanf:"auto_track_notes"`
	DryRun             bool     `koanf:"dry_run"`

	Scheduler Scheduler `koanf:"scheduler"`
	Storage   Storage   `koanf:"storage"`
	HTTP      HTTP      `koanf:"http"`
	Git       Git       `koanf:"git"`
	Watch     Watch     `koanf:"watch"`
	Log       Log       `koanf:"log"`
}

// Scheduler tunes the deck scheduler. Notes are always scheduled in days.
type Scheduler struct {
	RequestRetention float64 `koanf:"request_retention" validate:"gt=0,lt=1"`
	MaximumInterval  int     `koanf:"maximum_interval" validate:"min=1"`
	EnableFuzz       bool    `koanf:"enable_fuzz"`
	ShortTerm        bool    `koanf:"short_term"`
}

type Storage struct {
	// Backend is "files" for records kept in the vault, or "sqlite".
	Backend string `koanf:"backend" validate:"oneof=files sqlite"`
	DSN     string `koanf:"dsn" validate:"required_if=Backend sqlite"`
}

type HTTP struct {
	Addr        string   `koanf:"addr" validate:"required"`
	CORSOrigins []string `koanf:"cors_origins"`
}

type Git struct {
	URL string `koanf:"url"`
	// Dir holds checkouts of git-hosted vaults.
	Dir string `koanf:"dir" validate:"required_with=URL"`
}

type Watch struct {
	Debounce time.Duration `koanf:"debounce" validate:"gt=0"`
}

type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Default returns the configuration used for every key nothing else sets.
func Default() Config {
	return Config{
		Vault:              ".",
		MemoryDir:          "SR",
		InlineSeparator:    "::",
		MultilineSeparator: "?",
		Scheduler: Scheduler{
			RequestRetention: 0.9,
			MaximumInterval:  36500,
			ShortTerm:        true,
		},
		Storage: Storage{Backend: "files", DSN: "recall.db"},
		HTTP:    HTTP{Addr: "127.0.0.1:8080"},
		Git:     Git{Dir: "repos"},
		Watch:   Watch{Debounce: 500 * time.Millisecond},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Options says where Load looks.
type Options struct {
	// File is the YAML config file. When empty DefaultFile is tried.
	File string
	// EnvFile is loaded into the environment first. When empty ".env" is
	// tried.
	EnvFile string
	// Flags are applied last; only flags set on the command line count.
	Flags *pflag.FlagSet
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"vault":      "vault",
	"memory-dir": "memory_dir",
	"dry-run":    "dry_run",
	"auto-track": "auto_track_notes",
	"storage":    "storage.backend",
	"dsn":        "storage.dsn",
	"addr":       "http.addr",
	"git":        "git.url",
	"git-dir":    "git.dir",
	"debounce":   "watch.debounce",
	"log-level":  "log.level",
	"log-format": "log.format",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && (opts.EnvFile != "" || !errors.Is(err, fs.ErrNotExist)) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	k := koanf.New(".")

	path := opts.File
	if path == "" {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil || opts.File != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if opts.Flags != nil {
		err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		}), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	c.MemoryDir = strings.Trim(strings.TrimSpace(c.MemoryDir), "/")
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Params converts the scheduler settings.
func (s Scheduler) Params() fsrs.Params {
	p := fsrs.DefaultParams()
	p.RequestRetention = s.RequestRetention
	p.MaximumInterval = s.MaximumInterval
	p.EnableFuzz = s.EnableFuzz
	p.EnableShortTerm = s.ShortTerm
	return p
}
