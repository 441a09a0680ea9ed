// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for drivebridge. It supports a
// four-layer override chain (defaults -> config file -> environment -> CLI
// flags). Values are kept as written in the file and parsed once, by
// Resolve, into a Resolved configuration ready for use.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Account   AccountConfig   `toml:"account"`
	Session   SessionConfig   `toml:"session"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
	Journal   JournalConfig   `toml:"journal"`
}

// AccountConfig selects the app registration and where the OAuth2 token is
// kept. An empty client_id uses the built-in registration.
type AccountConfig struct {
	ClientID   string `toml:"client_id"`
	Tenant     string `toml:"tenant"`
	TokenStore string `toml:"token_store"` // "file" or "keyring"
	TokenPath  string `toml:"token_path"`  // file store only; empty = data dir
	Name       string `toml:"name"`        // keyring entry name
}

// SessionConfig controls connection establishment and liveness probing.
// A probe_interval of "0" disables probing.
type SessionConfig struct {
	ProbeInterval  string `toml:"probe_interval"`
	ConnectTimeout string `toml:"connect_timeout"`
}

// TransfersConfig controls the operation worker pool and upload chunking.
// The chunk_size must be a multiple of 320 KiB per the upload session API.
type TransfersConfig struct {
	Workers   int    `toml:"workers"`
	ChunkSize string `toml:"chunk_size"`
	SpoolDir  string `toml:"spool_dir"` // empty = cache dir
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "auto", "text" or "json"
}

// NetworkConfig controls HTTP client behavior. data_timeout bounds metadata
// requests only; transfers run without a client timeout.
type NetworkConfig struct {
	DataTimeout string `toml:"data_timeout"`
	UserAgent   string `toml:"user_agent"`
}

// JournalConfig controls the local record of connection states and
// operation outcomes.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // empty = data dir
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty fields mean "not specified".
type CLIOverrides struct {
	ConfigPath string // --config
	LogLevel   string // derived from --verbose / --quiet
}
