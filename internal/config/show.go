package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated TOML
// summary to w. This powers the "config show" command: the values shown
// are the ones in effect after defaults, file, environment and flags.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", orNone(r.Path))

	ew.printf("[account]\n")
	ew.printf("  client_id   = %q\n", orBuiltIn(r.Account.ClientID))
	ew.printf("  tenant      = %q\n", r.Account.Tenant)
	ew.printf("  token_store = %q\n", r.Account.TokenStore)

	if r.Account.TokenStore == TokenStoreKeyring {
		ew.printf("  name        = %q\n", r.Account.Name)
	} else {
		ew.printf("  token_path  = %q\n", r.TokenPath)
	}

	ew.printf("\n[session]\n")
	ew.printf("  probe_interval  = %q  # %s\n", r.Session.ProbeInterval, probeComment(r))
	ew.printf("  connect_timeout = %q\n", r.ConnectTimeout.String())

	ew.printf("\n[transfers]\n")
	ew.printf("  workers    = %d\n", r.Transfers.Workers)
	ew.printf("  chunk_size = %q  # %d bytes\n", r.Transfers.ChunkSize, r.ChunkSize)
	ew.printf("  spool_dir  = %q\n", r.SpoolDir)

	ew.printf("\n[logging]\n")
	ew.printf("  log_level  = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format = %q\n", r.Logging.LogFormat)

	ew.printf("\n[network]\n")
	ew.printf("  data_timeout = %q\n", r.DataTimeout.String())

	if r.Network.UserAgent != "" {
		ew.printf("  user_agent   = %q\n", r.Network.UserAgent)
	}

	ew.printf("\n[journal]\n")
	ew.printf("  enabled = %t\n", r.Journal.Enabled)

	if r.Journal.Enabled {
		ew.printf("  path    = %q\n", r.JournalPath)
	}

	return ew.err
}

func probeComment(r *Resolved) string {
	if r.ProbeInterval < 0 {
		return "disabled"
	}

	return "every " + r.ProbeInterval.String()
}

func orNone(path string) string {
	if path == "" {
		return "none"
	}

	return path
}

func orBuiltIn(clientID string) string {
	if clientID == "" {
		return "built-in"
	}

	return clientID
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
