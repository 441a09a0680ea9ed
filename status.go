package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivebridge/internal/config"
	"github.com/tonimelisma/drivebridge/internal/connection"
	"github.com/tonimelisma/drivebridge/internal/journal"
	"github.com/tonimelisma/drivebridge/internal/remote"
	"github.com/tonimelisma/drivebridge/internal/tokenfile"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
)

// statusRecentStates is how many journal entries status shows.
const statusRecentStates = 5

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the token, connection and quota",
		Long: `Display where the token is stored, try to connect without any
interactive sign-in, and show the account and quota on success. When the
journal is enabled the most recent connection states are listed too.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	ConfigPath string       `json:"config_path"`
	TokenStore string       `json:"token_store"`
	TokenState string       `json:"token_state"`
	Phase      string       `json:"phase"`
	Error      string       `json:"error,omitempty"`
	Code       string       `json:"code,omitempty"`
	Session    *sessionJSON `json:"session,omitempty"`
	Recent     []eventJSON  `json:"recent_states,omitempty"`
}

// sessionJSON is the JSON schema for an established session.
type sessionJSON struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name,omitempty"`
	DriveID     string `json:"drive_id"`
	DriveType   string `json:"drive_type"`
	QuotaUsed   int64  `json:"quota_used"`
	QuotaTotal  int64  `json:"quota_total"`
	ConnectedAt string `json:"connected_at"`
}

func toSessionJSON(info remote.SessionInfo) sessionJSON {
	return sessionJSON{
		AccountID:   info.AccountID,
		DisplayName: info.DisplayName,
		DriveID:     info.DriveID,
		DriveType:   info.DriveType,
		QuotaUsed:   info.QuotaUsed,
		QuotaTotal:  info.QuotaTotal,
		ConnectedAt: info.ConnectedAt.UTC().Format(time.RFC3339),
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	out := statusOutput{ConfigPath: configLabel(cc.Cfg), Phase: connection.PhaseDisconnected.String()}

	store, err := tokenStore(cc.Cfg)
	if err != nil {
		return err
	}

	out.TokenStore = store.Location()
	out.TokenState = checkTokenState(store, cc.Logger)

	if out.TokenState != tokenStateMissing {
		probeStatus(ctx, cc, &out)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, out)
	}

	printStatusText(cc, &out)

	return nil
}

// probeStatus connects without a resolution host and fills in the session
// or the failure, plus the recent journal entries.
func probeStatus(ctx context.Context, cc *CLIContext, out *statusOutput) {
	a, err := newApp(ctx, cc)
	if err != nil {
		out.Error = err.Error()
		return
	}
	defer a.Close()

	// The session bounds its own connect with connect_timeout; the extra
	// second lets the Failed state arrive before this gives up.
	connectCtx, cancel := context.WithTimeout(ctx, cc.Cfg.ConnectTimeout+time.Second)
	defer cancel()

	info, err := awaitConnected(connectCtx, a.drive, nil, cc)
	if err != nil {
		out.Phase = a.drive.Machine().Phase().String()
		out.Error = err.Error()

		if code := statusOf(err); code != 0 {
			out.Code = code.String()
		}
	} else {
		out.Phase = connection.PhaseConnected.String()
		s := toSessionJSON(info)
		out.Session = &s
	}

	if a.journal == nil {
		return
	}

	events, err := a.journal.RecentStates(ctx, statusRecentStates)
	if err != nil {
		cc.Logger.Warn("reading journal", slog.String("error", err.Error()))
		return
	}

	for i := range events {
		out.Recent = append(out.Recent, toEventJSON(&events[i]))
	}
}

// checkTokenState classifies the stored token without contacting the
// service. A token with a refresh token is never reported expired because
// it renews silently.
func checkTokenState(store tokenfile.Store, logger *slog.Logger) string {
	tok, _, err := store.Load()
	if err != nil {
		logger.Warn("reading token", slog.String("error", err.Error()))
		return tokenStateMissing
	}

	if tok == nil {
		return tokenStateMissing
	}

	if !tok.Valid() && tok.RefreshToken == "" {
		return tokenStateExpired
	}

	return tokenStateValid
}

func printStatusText(cc *CLIContext, out *statusOutput) {
	w := cc.Stdout

	fmt.Fprintf(w, "Config:   %s\n", out.ConfigPath)
	fmt.Fprintf(w, "Token:    %s (%s)\n", out.TokenState, out.TokenStore)

	phase := stateColor(phaseFromString(out.Phase)).Sprint(out.Phase)
	fmt.Fprintf(w, "State:    %s\n", phase)

	switch {
	case out.TokenState == tokenStateMissing:
		fmt.Fprintln(w, "\nNot signed in. Run 'drivebridge login' to get started.")
	case out.Session != nil:
		s := out.Session
		fmt.Fprintf(w, "Account:  %s\n", accountLabel(remote.SessionInfo{AccountID: s.AccountID, DisplayName: s.DisplayName}))
		fmt.Fprintf(w, "Drive:    %s (%s)\n", s.DriveID, s.DriveType)
		fmt.Fprintf(w, "Quota:    %s\n", formatQuota(s.QuotaUsed, s.QuotaTotal))
	case out.Error != "":
		fmt.Fprintf(w, "Error:    %s\n", out.Error)

		if out.Code == remote.StatusSignInRequired.String() {
			fmt.Fprintln(w, "\nRun 'drivebridge login' to sign in again.")
		}
	}

	if len(out.Recent) == 0 {
		return
	}

	fmt.Fprintln(w, "\nRecent states:")

	rows := make([][]string, 0, len(out.Recent))
	for _, e := range out.Recent {
		rows = append(rows, []string{e.RecordedAt, e.Phase, e.Detail})
	}

	printTable(w, []string{"TIME", "PHASE", "DETAIL"}, rows)
}

// formatQuota renders "1.2 GB of 5.0 GB used (24%)".
func formatQuota(used, total int64) string {
	if total <= 0 {
		return formatSize(used) + " used"
	}

	return fmt.Sprintf("%s of %s used (%.0f%%)",
		formatSize(used), formatSize(total), float64(used)/float64(total)*100)
}

// phaseFromString maps a phase name back for coloring.
func phaseFromString(s string) connection.Phase {
	for p := connection.PhaseDisconnected; p <= connection.PhaseUnableToResolve; p++ {
		if p.String() == s {
			return p
		}
	}

	return connection.PhaseDisconnected
}

// eventJSON is the JSON schema for one journal state entry.
type eventJSON struct {
	Phase      string `json:"phase"`
	Detail     string `json:"detail"`
	Code       string `json:"code,omitempty"`
	Resolvable bool   `json:"resolvable,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

func toEventJSON(e *journal.Event) eventJSON {
	out := eventJSON{
		Phase:      e.Phase.String(),
		Detail:     e.Detail,
		Resolvable: e.Resolvable,
		AccountID:  e.AccountID,
		RecordedAt: e.RecordedAt.Local().Format(time.RFC3339),
	}

	if e.Code != 0 {
		out.Code = e.Code.String()
	}

	return out
}

// configLabel names the config file for display.
func configLabel(cfg *config.Resolved) string {
	if cfg.Path == "" {
		return "(defaults)"
	}

	return cfg.Path
}
