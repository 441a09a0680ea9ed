package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivebridge/internal/bridge"
	"github.com/tonimelisma/drivebridge/internal/connection"
	"github.com/tonimelisma/drivebridge/internal/failure"
	"github.com/tonimelisma/drivebridge/internal/journal"
	"github.com/tonimelisma/drivebridge/internal/remote"
)

// seedJournal writes two operations and one state into a fresh journal.
func seedJournal(t *testing.T, path string) {
	t.Helper()

	cc, _, _ := testCLIContext(t)

	j, err := journal.Open(t.Context(), path, cc.Logger)
	require.NoError(t, err)

	now := time.Now()

	require.NoError(t, j.RecordOperation(t.Context(), bridge.OperationRecord{
		ID: "op-1", Op: bridge.OpCreateFile, Resource: "root", StartedAt: now.Add(-time.Minute), Duration: 120 * time.Millisecond,
	}))
	require.NoError(t, j.RecordOperation(t.Context(), bridge.OperationRecord{
		ID: "op-2", Op: bridge.OpDelete, Resource: "item-7", Code: remote.StatusNotFound,
		Message: "item not found", StartedAt: now, Duration: 30 * time.Millisecond,
	}))
	require.NoError(t, j.RecordState(t.Context(), connection.Failed{Failure: failure.Descriptor{
		Code: remote.StatusSignInRequired, Message: "token expired", HasResolution: true,
	}}))

	require.NoError(t, j.Close())
}

// runHistoryCmd executes the history command with args against a journal.
func runHistoryCmd(t *testing.T, journalPath string, args ...string) (string, error) {
	t.Helper()

	cc, stdout, _ := testCLIContext(t)
	cc.Cfg.Journal.Enabled = true
	cc.Cfg.JournalPath = journalPath

	if len(args) > 0 && args[0] == "--json" {
		cc.Flags.JSON = true
		args = args[1:]
	}

	cmd := newHistoryCmd()
	cmd.SetArgs(append([]string{}, args...))

	err := cmd.ExecuteContext(context.WithValue(t.Context(), cliContextKey{}, cc))

	return stdout.String(), err
}

func TestHistory_ListsOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	seedJournal(t, path)

	out, err := runHistoryCmd(t, path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "STARTED"))
	assert.Contains(t, lines[1], "delete")
	assert.Contains(t, lines[1], "not_found")
	assert.Contains(t, lines[2], "create_file")
	assert.Contains(t, lines[2], "ok")
	assert.Contains(t, lines[2], "120ms")
}

func TestHistory_FailedOnlyJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	seedJournal(t, path)

	out, err := runHistoryCmd(t, path, "--json", "--failed")
	require.NoError(t, err)

	var got []operationJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "op-2", got[0].ID)
	assert.Equal(t, "not_found", got[0].Code)
	assert.Equal(t, int64(30), got[0].DurationMS)
}

func TestHistory_FilterByOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	seedJournal(t, path)

	out, err := runHistoryCmd(t, path, "--json", "--op", bridge.OpCreateFile)
	require.NoError(t, err)

	var got []operationJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "op-1", got[0].ID)
	assert.Empty(t, got[0].Code)
}

func TestHistory_States(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	seedJournal(t, path)

	out, err := runHistoryCmd(t, path, "--states")
	require.NoError(t, err)
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "sign_in_required (resolvable)")
}

func TestHistory_JournalDisabled(t *testing.T) {
	cc, _, _ := testCLIContext(t)

	cmd := newHistoryCmd()
	cmd.SetArgs([]string{})

	err := cmd.ExecuteContext(context.WithValue(t.Context(), cliContextKey{}, cc))
	require.ErrorIs(t, err, errJournalDisabled)
}

func TestPrintOperations_Empty(t *testing.T) {
	cc, stdout, stderr := testCLIContext(t)

	require.NoError(t, printOperations(cc, nil))
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "No operations recorded")
}
