// Package audit provides an append-only log of state-changing operations.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry records a single container lifecycle operation.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	Target    string `json:"target"`
	Outcome   string `json:"outcome"` // "ok" or "error"
	Error     string `json:"error,omitempty"`
}

// Logger writes audit records in JSON-lines format.
type Logger struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

// New creates an audit logger appending to the given file.
// An empty path disables audit logging.
func New(path string) (*Logger, error) {
	if path == "" {
		return &Logger{writer: nopWriteCloser{}}, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &Logger{writer: file}, nil
}

// Record writes one entry for an operation on a target. A nil opErr
// records an "ok" outcome.
func (l *Logger) Record(operation, target string, opErr error) error {
	entry := Entry{
		Operation: operation,
		Target:    target,
		Outcome:   "ok",
	}
	if opErr != nil {
		entry.Outcome = "error"
		entry.Error = opErr.Error()
	}
	return l.Log(entry)
}

// Log writes an audit entry to the log file.
func (l *Logger) Log(entry Entry) error {
	if l == nil || l.writer == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	data = append(data, '\n')
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}

	return nil
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		return l.writer.Close()
	}
	return nil
}
