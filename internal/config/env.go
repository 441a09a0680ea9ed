package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "DRIVEBRIDGE_CONFIG"
	EnvLogLevel   = "DRIVEBRIDGE_LOG_LEVEL"
	EnvTokenStore = "DRIVEBRIDGE_TOKEN_STORE"
	EnvClientID   = "DRIVEBRIDGE_CLIENT_ID"
	EnvTenant     = "DRIVEBRIDGE_TENANT"
)

// EnvOverrides holds values derived from environment variables. Empty
// fields mean the variable is unset.
type EnvOverrides struct {
	ConfigPath string // DRIVEBRIDGE_CONFIG
	LogLevel   string // DRIVEBRIDGE_LOG_LEVEL
	TokenStore string // DRIVEBRIDGE_TOKEN_STORE
	ClientID   string // DRIVEBRIDGE_CLIENT_ID
	Tenant     string // DRIVEBRIDGE_TENANT
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		LogLevel:   os.Getenv(EnvLogLevel),
		TokenStore: os.Getenv(EnvTokenStore),
		ClientID:   os.Getenv(EnvClientID),
		Tenant:     os.Getenv(EnvTenant),
	}
}

// apply copies the set overrides into cfg.
func (e EnvOverrides) apply(cfg *Config) {
	if e.LogLevel != "" {
		cfg.Logging.LogLevel = e.LogLevel
	}

	if e.TokenStore != "" {
		cfg.Account.TokenStore = e.TokenStore
	}

	if e.ClientID != "" {
		cfg.Account.ClientID = e.ClientID
	}

	if e.Tenant != "" {
		cfg.Account.Tenant = e.Tenant
	}
}
