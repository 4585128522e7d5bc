package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tapenotes/transcriberd/internal/config"
	"github.com/tapenotes/transcriberd/internal/protocol"
	_ "modernc.org/sqlite"
)

// JobRecord is one finished job in the history table.
type JobRecord struct {
	ID                int64
	RecordingID       string
	Status            string
	Error             string
	Language          string
	DurationSeconds   float64
	WordCount         int
	SpeakerCount      int
	ProcessingSeconds int64
	CreatedAt         time.Time
}

// Store keeps a SQLite-backed history of completed jobs. With an empty
// path the store runs disabled and every operation is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.JobStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.JobStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("job store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recording_id TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    language TEXT,
    duration_seconds REAL,
    word_count INTEGER,
    speaker_count INTEGER,
    processing_seconds INTEGER,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether job history is being persisted.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Record inserts the finished job and applies retention.
func (s *Store) Record(ctx context.Context, envelope protocol.ResultEnvelope) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (recording_id, status, error, language, duration_seconds, word_count, speaker_count, processing_seconds, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		envelope.RecordingID,
		envelope.Status,
		envelope.Error,
		envelope.Language,
		envelope.DurationSeconds,
		envelope.WordCount,
		envelope.SpeakerCount,
		envelope.ProcessingSeconds,
		s.clock().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		s.log.Warn("job store prune failed", slog.String("error", err.Error()))
	}
	return nil
}

// Recent returns the newest jobs, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]JobRecord, error) {
	if !s.Enabled() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, recording_id, status, COALESCE(error, ''), COALESCE(language, ''),
       duration_seconds, word_count, speaker_count, processing_seconds, created_at
FROM jobs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		var r JobRecord
		if err := rows.Scan(&r.ID, &r.RecordingID, &r.Status, &r.Error, &r.Language,
			&r.DurationSeconds, &r.WordCount, &r.SpeakerCount, &r.ProcessingSeconds, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune drops the oldest rows beyond the configured retention.
func (s *Store) Prune(ctx context.Context) error {
	if !s.Enabled() || s.cfg.MaxJobs <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
DELETE FROM jobs WHERE id NOT IN (SELECT id FROM jobs ORDER BY id DESC LIMIT ?)`, s.cfg.MaxJobs)
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
