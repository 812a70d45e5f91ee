// Package repo persists generated reports in a local SQLite archive.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-affect/internal/cache"
	"github.com/miradorstack/mirador-affect/internal/engine"
	"github.com/miradorstack/mirador-affect/internal/models"
)

// ErrReportNotFound is returned by LoadReport for unknown IDs.
var ErrReportNotFound = errors.New("report not found")

// timeLayout keeps a fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ReportArchive stores reports in SQLite with an optional read-through cache.
// All methods are safe for concurrent use.
type ReportArchive struct {
	db       *sql.DB
	mu       sync.RWMutex
	cache    cache.Provider
	cacheTTL time.Duration
	logger   *slog.Logger
}

// OpenReportArchive opens (or creates) the archive at path. ":memory:" opens a shared-cache
// in-process database that lives until Close.
func OpenReportArchive(path string, cacheProvider cache.Provider, cacheTTL time.Duration, logger *slog.Logger) (*ReportArchive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if cacheTTL < 0 {
		cacheTTL = 0
	}

	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	a := &ReportArchive{db: db, cache: cacheProvider, cacheTTL: cacheTTL, logger: logger}
	if err := a.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return a, nil
}

func (a *ReportArchive) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		report_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		generated_at TEXT NOT NULL,
		dropped_classifications INTEGER NOT NULL DEFAULT 0,
		dropped_answers INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS question_summaries (
		report_id TEXT NOT NULL REFERENCES reports(report_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		question_index INTEGER NOT NULL,
		question_text TEXT NOT NULL,
		total_duration_ns INTEGER NOT NULL,
		dominant_emotion TEXT,
		sub_intervals TEXT NOT NULL,
		answers TEXT NOT NULL,
		emotions TEXT NOT NULL,
		PRIMARY KEY (report_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_reports_session ON reports(session_id);
	CREATE INDEX IF NOT EXISTS idx_reports_generated ON reports(generated_at DESC);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database and the cache.
func (a *ReportArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cacheErr := a.cache.Close()
	if err := a.db.Close(); err != nil {
		return err
	}
	return cacheErr
}

// StoreReport inserts or replaces a report. The report must carry a ReportID.
func (a *ReportArchive) StoreReport(ctx context.Context, report models.Report) error {
	if report.ReportID == "" {
		return errors.New("store report: missing report id")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM question_summaries WHERE report_id = ?`, report.ReportID); err != nil {
		return fmt.Errorf("clear summaries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO reports (
			report_id, session_id, generated_at, dropped_classifications, dropped_answers
		) VALUES (?, ?, ?, ?, ?)`,
		report.ReportID, report.SessionID, report.GeneratedAt.UTC().Format(timeLayout),
		report.DroppedClassifications, report.DroppedAnswers,
	); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO question_summaries (
			report_id, position, question_index, question_text, total_duration_ns,
			dominant_emotion, sub_intervals, answers, emotions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare summaries: %w", err)
	}
	defer stmt.Close()

	for i, q := range report.Questions {
		intervals, answers, emotions, err := encodeSummary(q)
		if err != nil {
			return err
		}
		dominant, _ := engine.DominantEmotion(q)
		if _, err := stmt.ExecContext(ctx,
			report.ReportID, i, q.QuestionIndex, q.QuestionText, int64(q.TotalDuration),
			dominant, intervals, answers, emotions,
		); err != nil {
			return fmt.Errorf("insert summary %d: %w", q.QuestionIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if data, err := json.Marshal(report); err == nil {
		if err := a.cache.Set(ctx, cacheReportKey(report.ReportID), data, a.cacheTTL); err != nil {
			a.logger.Debug("report cache set failed", slog.String("report_id", report.ReportID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// LoadReport returns a stored report, consulting the cache first.
func (a *ReportArchive) LoadReport(ctx context.Context, reportID string) (models.Report, error) {
	key := cacheReportKey(reportID)
	if data, err := a.cache.Get(ctx, key); err == nil {
		var cached models.Report
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
		_ = a.cache.Del(ctx, key)
	}

	a.mu.RLock()
	report, err := a.loadReport(ctx, reportID)
	a.mu.RUnlock()
	if err != nil {
		return models.Report{}, err
	}

	if data, err := json.Marshal(report); err == nil {
		_ = a.cache.Set(ctx, key, data, a.cacheTTL)
	}
	return report, nil
}

func (a *ReportArchive) loadReport(ctx context.Context, reportID string) (models.Report, error) {
	var (
		report    models.Report
		generated string
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT report_id, session_id, generated_at, dropped_classifications, dropped_answers
		FROM reports WHERE report_id = ?`, reportID,
	).Scan(&report.ReportID, &report.SessionID, &generated, &report.DroppedClassifications, &report.DroppedAnswers)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Report{}, fmt.Errorf("%w: %s", ErrReportNotFound, reportID)
	}
	if err != nil {
		return models.Report{}, fmt.Errorf("query report: %w", err)
	}
	if report.GeneratedAt, err = time.Parse(timeLayout, generated); err != nil {
		return models.Report{}, fmt.Errorf("parse generated_at: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT question_index, question_text, total_duration_ns, sub_intervals, answers, emotions
		FROM question_summaries WHERE report_id = ? ORDER BY position`, reportID)
	if err != nil {
		return models.Report{}, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	report.Questions = []models.QuestionSummary{}
	for rows.Next() {
		var (
			q                            models.QuestionSummary
			duration                     int64
			intervals, answers, emotions string
		)
		if err := rows.Scan(&q.QuestionIndex, &q.QuestionText, &duration, &intervals, &answers, &emotions); err != nil {
			return models.Report{}, fmt.Errorf("scan summary: %w", err)
		}
		q.TotalDuration = time.Duration(duration)
		if err := decodeSummary(&q, intervals, answers, emotions); err != nil {
			return models.Report{}, err
		}
		report.Questions = append(report.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return models.Report{}, fmt.Errorf("iterate summaries: %w", err)
	}
	return report, nil
}

// ListReports returns the newest reports first. An empty sessionID lists every session.
func (a *ReportArchive) ListReports(ctx context.Context, sessionID string, limit int) ([]models.ReportSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	query := `
		SELECT r.report_id, r.session_id, r.generated_at, COUNT(q.position)
		FROM reports r LEFT JOIN question_summaries q ON q.report_id = r.report_id`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE r.session_id = ?`
		args = append(args, sessionID)
	}
	query += ` GROUP BY r.report_id ORDER BY r.generated_at DESC, r.report_id LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []models.ReportSummary
	for rows.Next() {
		var (
			s         models.ReportSummary
			generated string
		)
		if err := rows.Scan(&s.ReportID, &s.SessionID, &generated, &s.QuestionCount); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if s.GeneratedAt, err = time.Parse(timeLayout, generated); err != nil {
			return nil, fmt.Errorf("parse generated_at: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteReport removes a report and evicts it from the cache.
func (a *ReportArchive) DeleteReport(ctx context.Context, reportID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM question_summaries WHERE report_id = ?`, reportID); err != nil {
		return fmt.Errorf("delete summaries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE report_id = ?`, reportID)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrReportNotFound, reportID)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return a.cache.Del(ctx, cacheReportKey(reportID))
}

func cacheReportKey(reportID string) string {
	return "report:" + reportID
}

func encodeSummary(q models.QuestionSummary) (intervals, answers, emotions string, err error) {
	encode := func(v any) (string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode summary %d: %w", q.QuestionIndex, err)
		}
		return string(data), nil
	}
	if intervals, err = encode(nonNil(q.SubIntervals)); err != nil {
		return
	}
	if answers, err = encode(nonNil(q.Answers)); err != nil {
		return
	}
	emotions, err = encode(nonNil(q.Emotions))
	return
}

func decodeSummary(q *models.QuestionSummary, intervals, answers, emotions string) error {
	if err := json.Unmarshal([]byte(intervals), &q.SubIntervals); err != nil {
		return fmt.Errorf("decode intervals for question %d: %w", q.QuestionIndex, err)
	}
	if err := json.Unmarshal([]byte(answers), &q.Answers); err != nil {
		return fmt.Errorf("decode answers for question %d: %w", q.QuestionIndex, err)
	}
	if err := json.Unmarshal([]byte(emotions), &q.Emotions); err != nil {
		return fmt.Errorf("decode emotions for question %d: %w", q.QuestionIndex, err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
