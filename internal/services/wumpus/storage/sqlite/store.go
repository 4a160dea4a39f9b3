// Package sqlite stores high scores in a SQLite database.
//
// It is an alternative to the text file backend for deployments that already
// keep state in SQLite; both satisfy storage.ScoreStore.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/trace-the-wumpus/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/storage"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides a SQLite-backed storage.ScoreStore.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.ScoreStore = (*Store)(nil)

// Open opens the database at path and applies the score migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.ScoresFS, "scores"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AppendScore inserts one record.
func (s *Store) AppendScore(ctx context.Context, record storage.ScoreRecord) error {
	if strings.TrimSpace(record.Player) == "" {
		return fmt.Errorf("player is required")
	}
	if record.Duration < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO scores (recorded_at, player, duration_ms) VALUES (?, ?, ?)`,
		record.Time.UTC().UnixMilli(), record.Player, record.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

// ListScores returns every record in insertion order.
func (s *Store) ListScores(ctx context.Context) ([]storage.ScoreRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT recorded_at, player, duration_ms FROM scores ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	var records []storage.ScoreRecord
	for rows.Next() {
		var (
			recordedAt int64
			player     string
			durationMS int64
		)
		if err := rows.Scan(&recordedAt, &player, &durationMS); err != nil {
			return nil, fmt.Errorf("%w: scan score: %v", storage.ErrCorrupt, err)
		}
		records = append(records, storage.ScoreRecord{
			Time:     time.UnixMilli(recordedAt).UTC(),
			Player:   player,
			Duration: time.Duration(durationMS) * time.Millisecond,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read scores: %w", err)
	}
	return records, nil
}
