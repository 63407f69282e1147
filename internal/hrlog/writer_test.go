package hrlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrtrack/hrtrack/internal/gatt"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestOpenWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "session.csv")

	w, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"timestamp", "bpm", "battery_percent"}, rows[0])
}

func TestOpenRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.csv")
	require.NoError(t, os.WriteFile(path, []byte("old data"), 0o644))

	_, err := Open(path, testLogger())
	assert.Error(t, err)

	// The pre-existing file is left untouched.
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "old data", string(data))
}

func TestAppendRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.csv")
	w, err := Open(path, testLogger())
	require.NoError(t, err)
	defer w.Close()

	ts := time.Date(2025, 6, 1, 10, 30, 15, 0, time.Local)
	battery := uint8(87)

	require.NoError(t, w.Append(gatt.Measurement{Timestamp: ts, BPM: 72}, &battery))
	require.NoError(t, w.Append(gatt.Measurement{Timestamp: ts.Add(time.Second), BPM: 73}, nil))

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2025-06-01T10:30:15", "72", "87"}, rows[1])
	assert.Equal(t, []string{"2025-06-01T10:30:16", "73", ""}, rows[2])
}

func TestRowsDurableWithoutClose(t *testing.T) {
	// Rows must be on disk after Append returns, even if the process dies
	// before Close.
	path := filepath.Join(t.TempDir(), "session.csv")
	w, err := Open(path, testLogger())
	require.NoError(t, err)

	ts := time.Date(2025, 6, 1, 10, 30, 15, 0, time.Local)
	require.NoError(t, w.Append(gatt.Measurement{Timestamp: ts, BPM: 60}, nil))

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "60", rows[1][1])

	require.NoError(t, w.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.csv")
	w, err := Open(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	err = w.Append(gatt.Measurement{Timestamp: time.Now(), BPM: 70}, nil)
	assert.Error(t, err)
}

func TestDefaultPath(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 30, 15, 0, time.UTC)
	assert.Equal(t, filepath.Join("logs", "hr_log_20250601_103015.csv"), DefaultPath(start))
}
