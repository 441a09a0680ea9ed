package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/drivebridge/internal/bridge"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1536, "1.5 KB"},
		{"megabytes", 5242880, "5.0 MB"},
		{"gigabytes", 1610612736, "1.5 GB"},
		{"terabytes", 1099511627776, "1.0 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Date(2026, time.June, 1, 9, 0, 0, 0, time.Local)

	t.Run("same year", func(t *testing.T) {
		result := formatTime(time.Date(2026, time.March, 15, 10, 30, 0, 0, time.Local), now)
		assert.Equal(t, "Mar 15 10:30", result)
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(time.Date(2020, time.December, 25, 8, 0, 0, 0, time.Local), now)
		assert.Equal(t, "Dec 25  2020", result)
	})

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "-", formatTime(time.Time{}, now))
	})
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := [][]string{
		{"file.txt", "1.2 MB", "Jan 15 10:30"},
		{"folder/", "0 B", "Feb  1 09:00"},
	}

	printTable(&buf, headers, rows)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"NAME      SIZE    MODIFIED",
		"file.txt  1.2 MB  Jan 15 10:30",
		"folder/   0 B     Feb  1 09:00",
	}, lines)
}

func TestRenderProgress(t *testing.T) {
	tests := []struct {
		name string
		p    bridge.Progress
		want string
	}{
		{
			"empty",
			bridge.Progress{BytesTransferred: 0, BytesExpected: 1000},
			"[>" + strings.Repeat(" ", 29) + "]   0% 0 B / 1000 B",
		},
		{
			"half",
			bridge.Progress{BytesTransferred: 500, BytesExpected: 1000},
			"[" + strings.Repeat("=", 15) + ">" + strings.Repeat(" ", 14) + "]  50% 500 B / 1000 B",
		},
		{
			"done",
			bridge.Progress{BytesTransferred: 2048, BytesExpected: 2048},
			"[" + strings.Repeat("=", 30) + "] 100% 2.0 KB / 2.0 KB",
		},
		{
			"unknown size",
			bridge.Progress{BytesTransferred: 10, BytesExpected: bridge.Unknown},
			"[" + strings.Repeat("=", 30) + "] 100% 10 B / ?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderProgress(tt.p))
		})
	}
}

func TestProgressBar_SilentWhenNotTerminal(t *testing.T) {
	cc, _, stderr := testCLIContext(t)

	bar := newProgressBar(cc, "file.bin")
	bar.Observe(bridge.Progress{BytesTransferred: 1, BytesExpected: 2})
	bar.Done()

	assert.Empty(t, stderr.String())
}

func TestProgressBar_DrawsWhenEnabled(t *testing.T) {
	var buf bytes.Buffer

	bar := &progressBar{w: &buf, label: "file.bin", enabled: true}
	bar.Observe(bridge.Progress{BytesTransferred: 1, BytesExpected: 2})
	bar.Observe(bridge.Progress{BytesTransferred: 2, BytesExpected: 2})
	bar.Done()

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "\rfile.bin ["))
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestStatusf_Quiet(t *testing.T) {
	cc, _, stderr := testCLIContext(t)

	cc.Statusf("hello %s\n", "world")
	assert.Equal(t, "hello world\n", stderr.String())

	stderr.Reset()
	cc.Flags.Quiet = true
	cc.Statusf("hidden\n")
	assert.Empty(t, stderr.String())
}
