package config

// Default values for configuration options. These are "layer 0" of the
// override chain and work for most users without any config file.
const (
	defaultTenant         = "common"
	defaultTokenStore     = TokenStoreFile
	defaultAccountName    = "default"
	defaultProbeInterval  = "30s"
	defaultConnectTimeout = "10s"
	defaultWorkers        = 16
	defaultChunkSize      = "10MiB"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultDataTimeout    = "60s"
)

// Token store kinds.
const (
	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			Tenant:     defaultTenant,
			TokenStore: defaultTokenStore,
			Name:       defaultAccountName,
		},
		Session: SessionConfig{
			ProbeInterval:  defaultProbeInterval,
			ConnectTimeout: defaultConnectTimeout,
		},
		Transfers: TransfersConfig{
			Workers:   defaultWorkers,
			ChunkSize: defaultChunkSize,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			DataTimeout: defaultDataTimeout,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
	}
}
