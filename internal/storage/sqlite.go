// Package storage persists sessions, metrics, and summaries in an encrypted
// SQLite database (SQLCipher).
package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/screenmon/agent/internal/domain"
)

const dbFileName = "screenmon.db"

// Store implements domain.Store over a SQLCipher database. All timestamps are
// stored as unix milliseconds so values survive the driver round-trip exactly.
type Store struct {
	db     *sql.DB
	dbPath string
	logger *zap.Logger
}

// New opens (or creates) the database under dataDir. A non-empty key becomes
// the SQLCipher passphrase via PRAGMA key; an empty key opens the database
// unencrypted.
func New(dataDir string, key []byte, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, dbFileName)
	dsn := dbPath
	if len(key) > 0 {
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096",
			dbPath, hex.EncodeToString(key))
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath, logger: logger}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS app_usage_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_name TEXT NOT NULL,
		window_title TEXT NOT NULL DEFAULT '',
		process_id INTEGER NOT NULL DEFAULT 0,
		session_start INTEGER NOT NULL,
		session_end INTEGER,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_start ON app_usage_sessions(session_start);
	CREATE INDEX IF NOT EXISTS idx_sessions_app ON app_usage_sessions(app_name COLLATE NOCASE);

	CREATE TABLE IF NOT EXISTS system_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		cpu_percent REAL NOT NULL DEFAULT 0,
		memory_used_mb INTEGER NOT NULL DEFAULT 0,
		memory_percent REAL NOT NULL DEFAULT 0,
		disk_read_bytes INTEGER NOT NULL DEFAULT 0,
		disk_write_bytes INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON system_metrics(timestamp);

	CREATE TABLE IF NOT EXISTS daily_app_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_name TEXT NOT NULL,
		summary_date INTEGER NOT NULL,
		total_usage_ms INTEGER NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		first_use INTEGER NOT NULL,
		last_use INTEGER NOT NULL,
		UNIQUE(app_name, summary_date)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.SessionRepository ---

func (s *Store) CreateSession(ctx context.Context, sess *domain.UsageSession) error {
	var end sql.NullInt64
	if sess.End != nil {
		end = sql.NullInt64{Int64: sess.End.UnixMilli(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO app_usage_sessions
			(app_name, window_title, process_id, session_start, session_end, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.AppName, sess.WindowTitle, sess.ProcessID,
		sess.Start.UnixMilli(), end, sess.DurationMs, sess.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session for %s: %w", sess.AppName, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		sess.ID = id
	}
	return nil
}

func (s *Store) SessionsByDate(ctx context.Context, date time.Time) ([]domain.UsageSession, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	from := day.UnixMilli()
	to := day.Add(24 * time.Hour).UnixMilli()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_name, window_title, process_id, session_start, session_end, duration_ms, created_at
		FROM app_usage_sessions
		WHERE session_start >= ? AND session_start < ?
		ORDER BY session_start`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions by date: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (s *Store) SessionsByApp(ctx context.Context, appName string, start, end time.Time) ([]domain.UsageSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_name, window_title, process_id, session_start, session_end, duration_ms, created_at
		FROM app_usage_sessions
		WHERE app_name = ? COLLATE NOCASE AND session_start >= ? AND session_start < ?
		ORDER BY session_start`, appName, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions for %s: %w", appName, err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (s *Store) HistoricalTotal(ctx context.Context, appName string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(duration_ms), 0)
		FROM app_usage_sessions
		WHERE app_name = ? COLLATE NOCASE AND session_end IS NOT NULL`, appName).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum historical total for %s: %w", appName, err)
	}
	return total, nil
}

func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM app_usage_sessions WHERE session_start < ?`, cutoff.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to delete old sessions: %w", err)
	}
	return nil
}

// --- domain.MetricRepository ---

func (s *Store) CreateMetric(ctx context.Context, m *domain.SystemMetric) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO system_metrics
			(timestamp, cpu_percent, memory_used_mb, memory_percent, disk_read_bytes, disk_write_bytes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.Timestamp.UnixMilli(), m.CPUPercent, m.MemoryUsedMB,
		m.MemoryPercent, m.DiskReadBytes, m.DiskWriteBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return nil
}

func (s *Store) LatestMetrics(ctx context.Context, count int) ([]domain.SystemMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, cpu_percent, memory_used_mb, memory_percent, disk_read_bytes, disk_write_bytes
		FROM system_metrics
		ORDER BY id DESC LIMIT ?`, count)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest metrics: %w", err)
	}
	defer rows.Close()

	var metrics []domain.SystemMetric
	for rows.Next() {
		var m domain.SystemMetric
		var ts int64
		if err := rows.Scan(&m.ID, &ts, &m.CPUPercent, &m.MemoryUsedMB,
			&m.MemoryPercent, &m.DiskReadBytes, &m.DiskWriteBytes); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// oldest first
	for i, j := 0, len(metrics)-1; i < j; i, j = i+1, j-1 {
		metrics[i], metrics[j] = metrics[j], metrics[i]
	}
	return metrics, nil
}

func (s *Store) DeleteMetricsBefore(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM system_metrics WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to delete old metrics: %w", err)
	}
	return nil
}

// --- domain.SummaryRepository ---

func (s *Store) UpsertSummary(ctx context.Context, sum *domain.DailyAppSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_app_summaries
			(app_name, summary_date, total_usage_ms, usage_count, first_use, last_use)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_name, summary_date) DO UPDATE SET
			total_usage_ms = excluded.total_usage_ms,
			usage_count = excluded.usage_count,
			first_use = excluded.first_use,
			last_use = excluded.last_use`,
		sum.AppName, sum.SummaryDate.UnixMilli(), sum.TotalUsageMs,
		sum.UsageCount, sum.FirstUse.UnixMilli(), sum.LastUse.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert summary for %s: %w", sum.AppName, err)
	}
	return nil
}

func (s *Store) SummariesByDate(ctx context.Context, date time.Time) ([]domain.DailyAppSummary, error) {
	day := date.UTC().Truncate(24 * time.Hour)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_name, summary_date, total_usage_ms, usage_count, first_use, last_use
		FROM daily_app_summaries
		WHERE summary_date = ?
		ORDER BY app_name`, day.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []domain.DailyAppSummary
	for rows.Next() {
		var sum domain.DailyAppSummary
		var dateMs, firstMs, lastMs int64
		if err := rows.Scan(&sum.ID, &sum.AppName, &dateMs, &sum.TotalUsageMs,
			&sum.UsageCount, &firstMs, &lastMs); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sum.SummaryDate = time.UnixMilli(dateMs).UTC()
		sum.FirstUse = time.UnixMilli(firstMs).UTC()
		sum.LastUse = time.UnixMilli(lastMs).UTC()
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// --- lifecycle ---

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path (for diagnostics and tests).
func (s *Store) Path() string {
	return s.dbPath
}

func scanSessions(rows *sql.Rows) ([]domain.UsageSession, error) {
	var sessions []domain.UsageSession
	for rows.Next() {
		var sess domain.UsageSession
		var startMs, createdMs int64
		var endMs sql.NullInt64
		if err := rows.Scan(&sess.ID, &sess.AppName, &sess.WindowTitle, &sess.ProcessID,
			&startMs, &endMs, &sess.DurationMs, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.Start = time.UnixMilli(startMs).UTC()
		sess.CreatedAt = time.UnixMilli(createdMs).UTC()
		if endMs.Valid {
			end := time.UnixMilli(endMs.Int64).UTC()
			sess.End = &end
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

var _ domain.Store = (*Store)(nil)
