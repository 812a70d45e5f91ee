// Package eventlog stores session events as a JSON array that is fully rewritten on every append.
package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/miradorstack/mirador-affect/internal/metrics"
	"github.com/miradorstack/mirador-affect/internal/utils"
)

// Kind tags a log file with the producer that owns it.
type Kind string

const (
	KindSurvey     Kind = "survey"
	KindPrediction Kind = "prediction"
)

// ErrClosed is returned by Append after the session has ended.
var ErrClosed = errors.New("event log closed")

// Log is an append-only, session-scoped event store. Appends are serialised by an
// internal mutex held only for the in-memory append and the file rewrite.
type Log[T any] struct {
	mu        sync.Mutex
	kind      Kind
	sessionID string
	path      string
	records   []T
	closed    bool
	logger    *slog.Logger
}

// FileName returns the deterministic file name of a session log.
func FileName(kind Kind, sessionID string) string {
	return fmt.Sprintf("%s_log_%s.json", kind, sessionID)
}

// SessionIDFromPath extracts the session id from a file named by FileName.
func SessionIDFromPath(path string) (string, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	for _, kind := range []Kind{KindSurvey, KindPrediction} {
		if id, ok := strings.CutPrefix(name, string(kind)+"_log_"); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// Open creates (or resumes) the log for kind within dir. When dir cannot be created or written
// the log falls back to the working directory. When neither is writable the log still opens and
// keeps events in memory; every Append then reports the write failure. Unreadable existing
// content starts the log empty.
func Open[T any](dir string, kind Kind, sessionID string, logger *slog.Logger) (*Log[T], error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sessionID == "" {
		return nil, utils.NewAppError("eventlog.open", utils.KindInvalid, "session id is required", nil)
	}
	if dir == "" {
		dir = "."
	}

	candidates := []string{dir}
	if filepath.Clean(dir) != "." {
		candidates = append(candidates, ".")
	}
	for _, candidate := range candidates {
		l, err := openIn[T](candidate, kind, sessionID, logger)
		if err == nil {
			logger.Info("session log ready", slog.String("kind", string(kind)), slog.String("path", l.path))
			return l, nil
		}
		logger.Warn("log directory unusable", slog.String("dir", candidate), slog.Any("error", err))
	}

	path := filepath.Join(dir, FileName(kind, sessionID))
	logger.Error("session log is not durable, keeping events in memory",
		slog.String("kind", string(kind)), slog.String("path", path))
	return &Log[T]{
		kind:      kind,
		sessionID: sessionID,
		path:      path,
		records:   []T{},
		logger:    logger,
	}, nil
}

func openIn[T any](dir string, kind Kind, sessionID string, logger *slog.Logger) (*Log[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, FileName(kind, sessionID))
	records, malformed, err := Load[T](path)
	if err != nil {
		return nil, utils.NewAppError("eventlog.open", utils.KindUnavailable, path, err)
	}
	if malformed {
		logger.Warn("existing log unreadable, starting empty", slog.String("path", path))
	}
	if err := writeAtomic(path, records); err != nil {
		return nil, utils.NewAppError("eventlog.open", utils.KindUnavailable, path, err)
	}
	return &Log[T]{
		kind:      kind,
		sessionID: sessionID,
		path:      path,
		records:   records,
		logger:    logger,
	}, nil
}

// Append adds rec and rewrites the durable file. A failed write keeps rec in memory so the
// next successful append or Flush persists it.
func (l *Log[T]) Append(rec T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.records = append(l.records, rec)
	if err := writeAtomic(l.path, l.records); err != nil {
		metrics.ObserveLogAppend(string(l.kind), metrics.OutcomeError)
		return fmt.Errorf("append %s event: %w", l.kind, err)
	}
	metrics.ObserveLogAppend(string(l.kind), metrics.OutcomeSuccess)
	return nil
}

// Flush rewrites the durable file from memory.
func (l *Log[T]) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return writeAtomic(l.path, l.records)
}

// Close flushes and seals the log; later appends return ErrClosed.
func (l *Log[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return writeAtomic(l.path, l.records)
}

// ReadAll returns a copy of every event appended so far, in insertion order.
// Only meaningful once the producer has stopped appending.
func (l *Log[T]) ReadAll() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]T(nil), l.records...)
}

// Len returns the number of stored events.
func (l *Log[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Path returns the durable file location.
func (l *Log[T]) Path() string { return l.path }

// Kind returns the log kind tag.
func (l *Log[T]) Kind() Kind { return l.kind }

// SessionID returns the session the log belongs to.
func (l *Log[T]) SessionID() string { return l.sessionID }

// Load reads a durable log. A missing or empty file yields no records; content that is not a
// JSON array of T yields no records and malformed=true. Only I/O failures return an error.
func Load[T any](path string) (records []T, malformed bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []T{}, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []T{}, false, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return []T{}, true, nil
	}
	if records == nil {
		records = []T{}
	}
	return records, false, nil
}

// writeAtomic replaces path with the JSON encoding of records via a temp file and rename,
// so readers only ever observe a complete array.
func writeAtomic(path string, records any) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err = enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace log file: %w", err)
	}
	return nil
}
