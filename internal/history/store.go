// Package history keeps the outcome of every dispatch in PostgreSQL: who
// was matched, whether the room was seated and why not.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/netwindsky/LuminaServer-sub000/internal/dispatch"
	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("history: database url is empty")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	return db, nil
}

// Migrate brings the schema up to date.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("history: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("history: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("history: migrate up: %w", err)
	}
	return nil
}

// Store reads and writes match outcomes.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on db. Call Migrate first.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordOutcome inserts o. Recording the same match twice keeps the first
// record.
func (s *Store) RecordOutcome(ctx context.Context, o dispatch.Outcome) error {
	const query = `
		INSERT INTO match_outcomes (match_id, game_mode, match_type, room_id, status, reason,
			quality_score, player_ids, accepted_ids, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (match_id) DO NOTHING`

	accepted := o.Accepted
	if accepted == nil {
		accepted = []string{}
	}
	_, err := s.db.ExecContext(ctx, query,
		o.MatchID,
		o.GameMode,
		string(o.MatchType),
		o.RoomID,
		string(o.Status),
		o.Reason,
		o.QualityScore,
		pq.Array(o.PlayerIDs),
		pq.Array(accepted),
		o.CreateTime,
		o.FinishTime,
	)
	if err != nil {
		return fmt.Errorf("history: insert %s: %w", o.MatchID, err)
	}
	return nil
}

// ForPlayer returns the player's most recent outcomes, newest first.
func (s *Store) ForPlayer(ctx context.Context, playerID string, limit int) ([]dispatch.Outcome, error) {
	const query = `
		SELECT match_id, game_mode, match_type, room_id, status, reason,
			quality_score, player_ids, accepted_ids, created_at, finished_at
		FROM match_outcomes
		WHERE $1 = ANY(player_ids)
		ORDER BY finished_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query %s: %w", playerID, err)
	}
	defer rows.Close()

	var out []dispatch.Outcome
	for rows.Next() {
		var (
			o         dispatch.Outcome
			matchType string
			status    string
		)
		if err := rows.Scan(
			&o.MatchID,
			&o.GameMode,
			&matchType,
			&o.RoomID,
			&status,
			&o.Reason,
			&o.QualityScore,
			pq.Array(&o.PlayerIDs),
			pq.Array(&o.Accepted),
			&o.CreateTime,
			&o.FinishTime,
		); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		o.MatchType = match.MatchType(matchType)
		o.Status = dispatch.SessionStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountByStatus counts outcomes finished since the given time, per status.
func (s *Store) CountByStatus(ctx context.Context, since time.Time) (map[dispatch.SessionStatus]int, error) {
	const query = `
		SELECT status, COUNT(*)
		FROM match_outcomes
		WHERE finished_at >= $1
		GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("history: count: %w", err)
	}
	defer rows.Close()

	counts := make(map[dispatch.SessionStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("history: scan count: %w", err)
		}
		counts[dispatch.SessionStatus(status)] = n
	}
	return counts, rows.Err()
}
