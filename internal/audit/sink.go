package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/store"
)

// Sink receives terminal invocation records. Emission is fire-and-forget
// from the gate's point of view: a lost record never blocks execution.
type Sink interface {
	Emit(ctx context.Context, rec *Record) error
	Query(ctx context.Context, filter *Filter) ([]*Record, error)
}

type FileSink struct {
	mu             sync.RWMutex
	logPath        string
	enabled        bool
	redactPatterns []string
}

func NewFileSink(workspaceID, rootPath string, enabled bool, redactPatterns []string) (*FileSink, error) {
	if !enabled {
		return &FileSink{enabled: false}, nil
	}

	baseDir, err := store.GetGovernanceDir(workspaceID, rootPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	return &FileSink{
		logPath:        filepath.Join(baseDir, "audit.log"),
		enabled:        true,
		redactPatterns: redactPatterns,
	}, nil
}

func (s *FileSink) Emit(ctx context.Context, rec *Record) error {
	if !s.enabled {
		return nil
	}
	if rec == nil {
		return fmt.Errorf("audit record cannot be nil")
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(s.redact(rec))
	if err != nil {
		slog.Error("Failed to marshal audit record", "error", err)
		return err
	}

	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open audit log", "error", err)
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Error("Failed to write audit record", "error", err)
		return err
	}

	slog.Debug("Audit record emitted", "invocation", rec.InvocationID, "tool", rec.Tool, "status", rec.Status)
	return nil
}

func (s *FileSink) Query(ctx context.Context, filter *Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Open(s.logPath)
	if os.IsNotExist(err) {
		return []*Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []*Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("Failed to parse audit record", "error", err)
			continue
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if filter == nil {
		return records, nil
	}

	var filtered []*Record
	for _, rec := range records {
		if matches(rec, filter) {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func (s *FileSink) redact(rec *Record) *Record {
	if len(s.redactPatterns) == 0 {
		return rec
	}

	redacted := *rec
	for _, pattern := range s.redactPatterns {
		redacted.Arguments = redactRaw(redacted.Arguments, pattern)
	}
	return &redacted
}

func redactRaw(data json.RawMessage, pattern string) json.RawMessage {
	dataStr := string(data)
	if dataStr == "" || pattern == "" {
		return data
	}

	if re, err := regexp.Compile(pattern); err == nil {
		return json.RawMessage(re.ReplaceAllString(dataStr, "[REDACTED]"))
	}
	return json.RawMessage(strings.ReplaceAll(dataStr, pattern, "[REDACTED]"))
}

func matches(rec *Record, filter *Filter) bool {
	if filter.SessionID != "" && rec.SessionID != filter.SessionID {
		return false
	}
	if filter.Tool != "" && rec.Tool != filter.Tool {
		return false
	}
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	if !filter.StartTime.IsZero() && rec.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && rec.Timestamp.After(filter.EndTime) {
		return false
	}
	return true
}

// NullSink discards records. Used when auditing is disabled in tests.
type NullSink struct{}

func (NullSink) Emit(ctx context.Context, rec *Record) error {
	return nil
}

func (NullSink) Query(ctx context.Context, filter *Filter) ([]*Record, error) {
	return nil, nil
}
