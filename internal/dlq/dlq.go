// Package dlq implements a dead letter queue for payloads dropped by the
// shipping transport. Dropped payloads are written to NDJSON files with
// failure metadata for later analysis or replay.
package dlq

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/romejiang/gelfrelay/internal/metrics"
)

// Entry represents one dropped payload in the dead letter queue.
// The payload is base64-encoded because GELF frames are opaque bytes.
type Entry struct {
	Timestamp string `json:"timestamp"` // ISO 8601 timestamp of the drop
	Target    string `json:"target"`    // collector host:port the payload was destined for
	Error     string `json:"error"`     // last delivery error before the drop
	Payload   string `json:"payload"`   // base64-encoded original payload, without terminator
}

// Writer appends dropped payloads to the dead letter queue.
// Files are rotated daily and named: dlq-YYYY-MM-DD.ndjson.
//
// Writer is safe for concurrent use by multiple goroutines.
type Writer struct {
	baseDir string
	file    *os.File
	curDay  string
	mu      sync.Mutex
}

// New creates a DLQ Writer for the given directory.
// The directory is created if it does not exist.
func New(baseDir string) (*Writer, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", baseDir, err)
	}

	return &Writer{
		baseDir: baseDir,
	}, nil
}

// Write records a dropped payload with the collector target and the last
// delivery error. It satisfies the transport's DeadLetter collaborator.
func (w *Writer) Write(target string, payload []byte, cause error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")

	if day != w.curDay {
		if w.file != nil {
			if closeErr := w.file.Close(); closeErr != nil {
				return closeErr
			}
		}

		var openErr error
		w.file, openErr = w.openDayFile(day)
		if openErr != nil {
			return openErr
		}
		w.curDay = day
	}

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Target:    target,
		Error:     errMsg,
		Payload:   base64.StdEncoding.EncodeToString(payload),
	}

	jsonData, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal DLQ entry: %w", marshalErr)
	}

	if _, writeErr := w.file.Write(append(jsonData, '\n')); writeErr != nil {
		return writeErr
	}

	metrics.DeadLettered.Add(1)
	slog.Debug("wrote dropped payload to DLQ", "target", target, "error", errMsg)
	return nil
}

// Close closes the current day's file if open.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// openDayFile opens or creates the DLQ file for the given day.
func (w *Writer) openDayFile(day string) (*os.File, error) {
	filename := filepath.Join(w.baseDir, fmt.Sprintf("dlq-%s.ndjson", day))
	// #nosec G304 -- baseDir is set during Writer construction from config.
	// The day parameter is generated from time.Now() for daily rotation.
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	slog.Info("opened DLQ file", "path", filename)
	return file, nil
}

// CurrentFile returns the path to the current day's DLQ file.
// Returns empty string if no file is currently open.
func (w *Writer) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}
	return w.file.Name()
}
