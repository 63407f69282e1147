// Package hrlog provides the durable, append-only CSV log of a recording
// session. One file per session; rows are flushed to stable storage before
// Append returns, so a crash loses at most the in-flight row.
package hrlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hrtrack/hrtrack/internal/gatt"
)

// header is the fixed first row of every session log.
var header = []string{"timestamp", "bpm", "battery_percent"}

// Writer owns a single session log file handle. It is safe for use from a
// single dispatch goroutine; Close may be called from any goroutine and is
// idempotent.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	csv    *csv.Writer
	path   string
	closed bool
	logger *logrus.Logger
}

// DefaultPath returns the conventional per-session log location,
// logs/hr_log_YYYYMMDD_HHMMSS.csv, named after the session start instant.
func DefaultPath(start time.Time) string {
	return filepath.Join("logs", fmt.Sprintf("hr_log_%s.csv", start.Format("20060102_150405")))
}

// Open creates the session log file, its parent directories included, and
// writes the header row. A pre-existing file is refused: session logs are
// append-only and never mix sessions.
func Open(path string, logger *logrus.Logger) (*Writer, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create session log %q: %w", path, err)
	}

	w := &Writer{
		file:   file,
		csv:    csv.NewWriter(file),
		path:   path,
		logger: logger,
	}

	if err := w.csv.Write(header); err == nil {
		err = w.flush()
	} else {
		err = fmt.Errorf("failed to write log header: %w", err)
	}
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, err
	}

	logger.WithField("path", path).Info("Session log opened")
	return w, nil
}

// Path returns the log file location.
func (w *Writer) Path() string {
	return w.path
}

// Append serializes one measurement row and flushes it to stable storage
// before returning. The battery column is empty when no reading is
// available.
func (w *Writer) Append(m gatt.Measurement, battery *uint8) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("session log %q is closed", w.path)
	}

	batteryCol := ""
	if battery != nil {
		batteryCol = strconv.Itoa(int(*battery))
	}

	row := []string{
		m.Timestamp.Format("2006-01-02T15:04:05"),
		strconv.Itoa(int(m.BPM)),
		batteryCol,
	}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("failed to write log row: %w", err)
	}
	return w.flush()
}

// flush pushes buffered rows through to the OS and on to disk. Callers must
// hold the caller-side guarantees (Open) or w.mu (Append/Close).
func (w *Writer) flush() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush log rows: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync session log: %w", err)
	}
	return nil
}

// Close flushes and releases the file handle. Safe to call multiple times;
// only the first call does the work.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.flush()
	closeErr := w.file.Close()

	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close session log: %w", closeErr)
	}
	w.logger.WithField("path", w.path).Debug("Session log closed")
	return nil
}
