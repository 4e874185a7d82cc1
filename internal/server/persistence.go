package server

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ResultSink receives finished matches. Recording is best effort; a failing
// sink never affects the session.
type ResultSink interface {
	RecordResult(ctx context.Context, outcome Outcome) error
}

const resultsSchema = `
CREATE TABLE IF NOT EXISTS match_results (
	id          BIGSERIAL PRIMARY KEY,
	session_id  INTEGER NOT NULL,
	origin      TEXT NOT NULL,
	player_one  TEXT NOT NULL,
	player_two  TEXT NOT NULL,
	winner      TEXT NOT NULL,
	loser       TEXT NOT NULL,
	score_one   INTEGER NOT NULL,
	score_two   INTEGER NOT NULL,
	reason      TEXT NOT NULL,
	speed       DOUBLE PRECISION NOT NULL,
	spectators  INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ,
	ended_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS match_results_ended_at_idx ON match_results (ended_at);
CREATE INDEX IF NOT EXISTS match_results_winner_idx ON match_results (winner);
CREATE INDEX IF NOT EXISTS match_results_loser_idx ON match_results (loser);
`

// ResultStore keeps finished matches in Postgres for the profile and
// leaderboard services.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(ctx context.Context, databaseURL string) (*ResultStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &ResultStore{pool: pool}, nil
}

func NewResultStoreFromPool(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, resultsSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *ResultStore) RecordResult(ctx context.Context, outcome Outcome) error {
	if outcome.WinnerSlot < 0 {
		return fmt.Errorf("session %d has no winner", outcome.SessionID)
	}

	var startedAt *time.Time
	if !outcome.StartedAt.IsZero() {
		startedAt = &outcome.StartedAt
	}

	query := `
		INSERT INTO match_results (
			session_id, origin, player_one, player_two, winner, loser,
			score_one, score_two, reason, speed, spectators, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		outcome.SessionID,
		string(outcome.Origin),
		outcome.Players[0],
		outcome.Players[1],
		outcome.Winner(),
		outcome.Loser(),
		outcome.Score[0],
		outcome.Score[1],
		string(outcome.Reason),
		outcome.Speed,
		len(outcome.Spectators),
		startedAt,
		outcome.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result for session %d: %w", outcome.SessionID, err)
	}
	return nil
}

// CleanupOldResults deletes results that ended before now minus olderThan.
func (s *ResultStore) CleanupOldResults(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	tag, err := s.pool.Exec(ctx, `DELETE FROM match_results WHERE ended_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old results: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Health reports pool status for the /health endpoint.
func (s *ResultStore) Health(ctx context.Context) map[string]string {
	stats := make(map[string]string)

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = err.Error()
		return stats
	}

	st := s.pool.Stat()
	stats["status"] = "up"
	stats["total_connections"] = fmt.Sprint(st.TotalConns())
	stats["idle_connections"] = fmt.Sprint(st.IdleConns())
	stats["acquired_connections"] = fmt.Sprint(st.AcquiredConns())
	return stats
}

func (s *ResultStore) Close() {
	s.pool.Close()
}
