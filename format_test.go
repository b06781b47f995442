package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
		{"beyond terabytes", 3 << 50, "3072.0 TB"},
		{"just under a kilobyte", 1023, "1023 B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatTime(t *testing.T) {
	thisYear := time.Date(time.Now().Year(), time.March, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "Mar 15 10:30", formatTime(thisYear))

	assert.Equal(t, "Dec 25  2020", formatTime(time.Date(2020, time.December, 25, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Jun  3  2019", formatTime(time.Date(2019, time.June, 3, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "-", formatTime(time.Time{}))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := [][]string{
		{"file.txt", "1.2 MB", "Jan 15 10:30"},
		{"folder/", "-", "Feb  1 09:00"},
	}

	printTable(&buf, headers, rows)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME      SIZE"))
	assert.True(t, strings.HasPrefix(lines[1], "file.txt  1.2 MB"))
	assert.True(t, strings.HasPrefix(lines[2], "folder/   -"))
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]string{"path": "/0:/Docs/"}))
	assert.Equal(t, "{\n  \"path\": \"/0:/Docs/\"\n}\n", buf.String())
}
