package dlq

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dlq")

	w, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory should exist: %v", err)
	}
}

func TestWriteEntry(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	payload := []byte{0x41, 0x42, 0x00, 0xff}
	if err := w.Write("graylog.example:12201", payload, errors.New("connection refused")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(w.CurrentFile())
	if err != nil {
		t.Fatalf("read DLQ file: %v", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}

	if entry.Target != "graylog.example:12201" {
		t.Errorf("target = %q, want graylog.example:12201", entry.Target)
	}
	if entry.Error != "connection refused" {
		t.Errorf("error = %q, want connection refused", entry.Error)
	}
	decoded, err := base64.StdEncoding.DecodeString(entry.Payload)
	if err != nil {
		t.Fatalf("payload should be base64: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Errorf("decoded payload = %v, want %v", decoded, payload)
	}
	if _, err := time.Parse(time.RFC3339, entry.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}
}

func TestWriteNilCause(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	if err := w.Write("collector:12201", []byte("x"), nil); err != nil {
		t.Fatalf("Write() with nil cause error = %v", err)
	}
}

func TestWriteAppendsNDJSON(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		if err := w.Write("collector:12201", []byte("msg"), errors.New("down")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	f, err := os.Open(w.CurrentFile())
	if err != nil {
		t.Fatalf("open DLQ file: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Errorf("line %d not valid JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("expected 3 NDJSON lines, got %d", lines)
	}
}

func TestFileNameContainsDay(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	if err := w.Write("collector:12201", []byte("x"), errors.New("down")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	day := time.Now().UTC().Format("2006-01-02")
	if !strings.Contains(w.CurrentFile(), "dlq-"+day+".ndjson") {
		t.Errorf("file name %q should contain dlq-%s.ndjson", w.CurrentFile(), day)
	}
}

func TestCurrentFileEmptyBeforeWrite(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	if got := w.CurrentFile(); got != "" {
		t.Errorf("CurrentFile() = %q, want empty before first write", got)
	}
}

func TestConcurrentWrites(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Write("collector:12201", []byte("msg"), errors.New("down")); err != nil {
				t.Errorf("Write() error = %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(w.CurrentFile())
	if err != nil {
		t.Fatalf("read DLQ file: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 10 {
		t.Errorf("expected 10 lines, got %d", got)
	}
}

func TestCloseWithoutWrites(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() without writes error = %v", err)
	}
}
