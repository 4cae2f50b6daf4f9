// Package audit keeps a local ledger of backend asks: who triggered them
// and how they ended. Message text is never stored.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one backend ask.
type Record struct {
	CreatedAt    time.Time
	Platform     string
	Trigger      string // trigger rule or command name
	UserRef      string // mapped backend user id, never the platform id
	QuestionLen  int
	HistoryTurns int
	Fragments    int
	Latency      time.Duration
	Outcome      string
	ErrorCode    int // backend error code, when Outcome is a backend error
}

// Summary aggregates records since a point in time.
type Summary struct {
	Since      time.Time
	Total      int
	ByOutcome  map[string]int
	ByPlatform map[string]int
	AvgLatency time.Duration
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Path   string
	Logger *slog.Logger
}

// Store is the SQLite-backed ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (and migrates) the ledger at cfg.Path.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit migration failed: %w", err)
	}
	return &Store{db: db, logger: cfg.Logger}, nil
}

// Record appends r to the ledger.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO asks (created_at, platform, trigger_rule, user_ref, question_len, history_turns, fragments, latency_ms, outcome, error_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CreatedAt.UnixMilli(), r.Platform, r.Trigger, r.UserRef, r.QuestionLen,
		r.HistoryTurns, r.Fragments, r.Latency.Milliseconds(), r.Outcome, r.ErrorCode,
	)
	if err != nil {
		return fmt.Errorf("insert ask: %w", err)
	}
	return nil
}

// Summary aggregates every record created at or after since.
func (s *Store) Summary(ctx context.Context, since time.Time) (Summary, error) {
	sum := Summary{
		Since:      since,
		ByOutcome:  map[string]int{},
		ByPlatform: map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, outcome, COUNT(*), COALESCE(SUM(latency_ms), 0)
		 FROM asks WHERE created_at >= ? GROUP BY platform, outcome`,
		since.UnixMilli(),
	)
	if err != nil {
		return sum, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var totalLatency int64
	for rows.Next() {
		var (
			platform, outcome string
			count             int
			latency           int64
		)
		if err := rows.Scan(&platform, &outcome, &count, &latency); err != nil {
			return sum, fmt.Errorf("scan summary: %w", err)
		}
		sum.Total += count
		sum.ByOutcome[outcome] += count
		sum.ByPlatform[platform] += count
		totalLatency += latency
	}
	if err := rows.Err(); err != nil {
		return sum, err
	}
	if sum.Total > 0 {
		sum.AvgLatency = time.Duration(totalLatency/int64(sum.Total)) * time.Millisecond
	}
	return sum, nil
}

// Prune deletes records older than before and reports how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM asks WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune asks: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
