package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolved is a validated configuration with every value parsed and every
// path made absolute.
type Resolved struct {
	Config

	Path           string // config file consulted; it may not exist
	ProbeInterval  time.Duration
	ConnectTimeout time.Duration
	DataTimeout    time.Duration
	ChunkSize      int64
	LogLevel       slog.Level
	TokenPath      string
	SpoolDir       string
	JournalPath    string
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(expandTilde(cfgPath))
	if err != nil {
		return nil, err
	}

	env.apply(cfg)

	if cli.LogLevel != "" {
		cfg.Logging.LogLevel = cli.LogLevel
	}

	// Overrides may have introduced invalid values.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolve(cfg, cfgPath), nil
}

// resolve derives parsed values from a validated cfg. Parse errors cannot
// occur here because Validate has accepted every field.
func resolve(cfg *Config, path string) *Resolved {
	r := &Resolved{Config: *cfg, Path: path}

	r.ProbeInterval, _ = time.ParseDuration(cfg.Session.ProbeInterval)
	if r.ProbeInterval == 0 {
		r.ProbeInterval = -1
	}

	r.ConnectTimeout, _ = time.ParseDuration(cfg.Session.ConnectTimeout)
	r.DataTimeout, _ = time.ParseDuration(cfg.Network.DataTimeout)
	r.ChunkSize, _ = ParseSize(cfg.Transfers.ChunkSize)
	r.LogLevel, _ = parseLogLevel(cfg.Logging.LogLevel)

	r.TokenPath = expandTilde(cfg.Account.TokenPath)
	if r.TokenPath == "" {
		r.TokenPath = DefaultTokenPath()
	}

	r.SpoolDir = expandTilde(cfg.Transfers.SpoolDir)
	if r.SpoolDir == "" {
		r.SpoolDir = filepath.Join(DefaultCacheDir(), spoolDirName)
	}

	r.JournalPath = expandTilde(cfg.Journal.Path)
	if r.JournalPath == "" {
		r.JournalPath = DefaultJournalPath()
	}

	return r
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}

	return level, nil
}
