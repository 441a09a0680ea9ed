package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants.
const (
	minWorkers        = 1
	maxWorkers        = 64
	chunkAlignBytes   = 327_680    // 320 KiB alignment for upload chunks
	minChunkBytes     = 327_680    // 320 KiB
	maxChunkBytes     = 62_914_560 // 60 MiB
	minProbeInterval  = 1 * time.Second
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAccount(&cfg.Account)...)
	errs = append(errs, validateSession(&cfg.Session)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateDurationMin("network.data_timeout", cfg.Network.DataTimeout, minDataTimeout)...)

	return errors.Join(errs...)
}

func validateAccount(a *AccountConfig) []error {
	var errs []error

	if a.Tenant == "" {
		errs = append(errs, errors.New("account.tenant: must not be empty"))
	}

	switch a.TokenStore {
	case TokenStoreFile:
	case TokenStoreKeyring:
		if a.Name == "" {
			errs = append(errs, errors.New("account.name: must not be empty when token_store is \"keyring\""))
		}
	default:
		errs = append(errs, fmt.Errorf("account.token_store: must be one of file, keyring; got %q", a.TokenStore))
	}

	return errs
}

func validateSession(s *SessionConfig) []error {
	var errs []error

	// "0" disables probing; anything else needs a sane lower bound.
	if s.ProbeInterval != "0" {
		errs = append(errs, validateDurationMin("session.probe_interval", s.ProbeInterval, minProbeInterval)...)
	}

	errs = append(errs, validateDurationMin("session.connect_timeout", s.ConnectTimeout, minConnectTimeout)...)

	return errs
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if t.Workers < minWorkers || t.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("transfers.workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, t.Workers))
	}

	errs = append(errs, validateChunkSize(t.ChunkSize)...)

	return errs
}

func validateChunkSize(s string) []error {
	bytes, err := ParseSize(s)
	if err != nil {
		return []error{fmt.Errorf("transfers.chunk_size: %w", err)}
	}

	if bytes < minChunkBytes || bytes > maxChunkBytes {
		return []error{fmt.Errorf("transfers.chunk_size: must be between 320KiB and 60MiB, got %q", s)}
	}

	if bytes%chunkAlignBytes != 0 {
		return []error{fmt.Errorf(
			"transfers.chunk_size: must be a multiple of 320 KiB (%d bytes), got %s (%d bytes)",
			chunkAlignBytes, s, bytes)}
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}
