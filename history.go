package main

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivebridge/internal/bridge"
	"github.com/tonimelisma/drivebridge/internal/journal"
)

var errJournalDisabled = errors.New("the journal is disabled (journal.enabled = false)")

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded operations and connection states",
		Long: `Show recent operation outcomes from the local journal, newest first.
With --states, show connection states instead. --prune removes entries
older than the given age before listing.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().Bool("failed", false, "only failed operations")
	cmd.Flags().String("op", "", "only this operation (e.g. create_file)")
	cmd.Flags().IntP("limit", "n", journal.DefaultLimit, "maximum entries to show")
	cmd.Flags().Bool("states", false, "show connection states instead of operations")
	cmd.Flags().Duration("prune", 0, "first remove entries older than this age (e.g. 720h)")

	return cmd
}

// operationJSON is the JSON schema for one `history --json` entry.
type operationJSON struct {
	ID         string `json:"id"`
	Op         string `json:"op"`
	Resource   string `json:"resource,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
}

func toOperationJSON(r *bridge.OperationRecord) operationJSON {
	out := operationJSON{
		ID:         r.ID,
		Op:         r.Op,
		Resource:   r.Resource,
		Message:    r.Message,
		StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
		DurationMS: r.Duration.Milliseconds(),
	}

	if !r.Succeeded() {
		out.Code = r.Code.String()
	}

	return out
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	if !cc.Cfg.Journal.Enabled {
		return errJournalDisabled
	}

	j, err := journal.Open(ctx, cc.Cfg.JournalPath, cc.Logger)
	if err != nil {
		return err
	}
	defer j.Close()

	if age, _ := cmd.Flags().GetDuration("prune"); age > 0 {
		n, err := j.Prune(ctx, age)
		if err != nil {
			return err
		}

		cc.Statusf("Pruned %d entries older than %s\n", n, age)
	}

	limit, _ := cmd.Flags().GetInt("limit")

	if states, _ := cmd.Flags().GetBool("states"); states {
		events, err := j.RecentStates(ctx, limit)
		if err != nil {
			return err
		}

		return printEvents(cc, events)
	}

	failedOnly, _ := cmd.Flags().GetBool("failed")
	op, _ := cmd.Flags().GetString("op")

	recs, err := j.RecentOperations(ctx, journal.OperationFilter{Limit: limit, FailedOnly: failedOnly, Op: op})
	if err != nil {
		return err
	}

	return printOperations(cc, recs)
}

func printOperations(cc *CLIContext, recs []bridge.OperationRecord) error {
	if cc.Flags.JSON {
		out := make([]operationJSON, 0, len(recs))
		for i := range recs {
			out = append(out, toOperationJSON(&recs[i]))
		}

		return printJSON(cc.Stdout, out)
	}

	if len(recs) == 0 {
		cc.Statusf("No operations recorded.\n")
		return nil
	}

	now := time.Now()
	rows := make([][]string, 0, len(recs))

	for i := range recs {
		r := &recs[i]

		result := "ok"
		if !r.Succeeded() {
			result = r.Code.String()
		}

		rows = append(rows, []string{
			formatTime(r.StartedAt, now),
			r.Op,
			result,
			strconv.FormatInt(r.Duration.Milliseconds(), 10) + "ms",
			r.Resource,
		})
	}

	printTable(cc.Stdout, []string{"STARTED", "OP", "RESULT", "TOOK", "RESOURCE"}, rows)

	return nil
}

func printEvents(cc *CLIContext, events []journal.Event) error {
	if cc.Flags.JSON {
		out := make([]eventJSON, 0, len(events))
		for i := range events {
			out = append(out, toEventJSON(&events[i]))
		}

		return printJSON(cc.Stdout, out)
	}

	if len(events) == 0 {
		cc.Statusf("No connection states recorded.\n")
		return nil
	}

	rows := make([][]string, 0, len(events))

	for i := range events {
		e := &events[i]

		code := ""
		if e.Code != 0 {
			code = e.Code.String()
			if e.Resolvable {
				code += " (resolvable)"
			}
		}

		rows = append(rows, []string{
			e.RecordedAt.Local().Format(time.DateTime),
			stateColor(e.Phase).Sprint(e.Phase),
			code,
			e.Detail,
		})
	}

	printTable(cc.Stdout, []string{"TIME", "PHASE", "CODE", "DETAIL"}, rows)

	return nil
}
