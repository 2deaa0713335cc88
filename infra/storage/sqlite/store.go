// Package sqlite persists tips and votes for later aggregation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tips (
	event_id    TEXT PRIMARY KEY,
	stream_id   TEXT NOT NULL,
	username    TEXT NOT NULL,
	amount      REAL NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tips_stream ON tips(stream_id);

CREATE TABLE IF NOT EXISTS votes (
	event_id    TEXT PRIMARY KEY,
	stream_id   TEXT NOT NULL,
	prompt_id   TEXT NOT NULL,
	username    TEXT NOT NULL,
	is_bull     INTEGER NOT NULL,
	amount      REAL NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_votes_prompt ON votes(stream_id, prompt_id);
`

// ErrEmptyEventID is returned when a record carries no event id to key on.
var ErrEmptyEventID = errors.New("sqlite: event id is required")

// Store implements the tip/vote persistence collaborator on SQLite.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and applies the schema. Use ":memory:" in tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// [SINGLE_WRITER] also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordTip stores a tip. Re-recording the same event id is a no-op.
func (s *Store) RecordTip(ctx context.Context, streamID, eventID string, tip *model.TipSent, at time.Time) error {
	if eventID == "" {
		return ErrEmptyEventID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tips (event_id, stream_id, username, amount, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		eventID, streamID, strings.TrimSpace(tip.Username), tip.TipAmount, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert tip: %w", err)
	}
	return nil
}

// RecordVote stores a vote. Re-recording the same event id is a no-op.
func (s *Store) RecordVote(ctx context.Context, streamID, eventID string, vote *model.VoteCast, at time.Time) error {
	if eventID == "" {
		return ErrEmptyEventID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO votes (event_id, stream_id, prompt_id, username, is_bull, amount, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventID, streamID, vote.PromptID, strings.TrimSpace(vote.Username), vote.IsBull, vote.VoteAmount, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

// VoteTally aggregates the votes of one prompt. Unknown prompts yield a zero tally.
func (s *Store) VoteTally(ctx context.Context, streamID, promptID string) (model.VoteTally, error) {
	tally := model.VoteTally{StreamID: streamID, PromptID: promptID}
	rows, err := s.db.QueryContext(ctx,
		`SELECT is_bull, COUNT(*), COALESCE(SUM(amount), 0) FROM votes WHERE stream_id = ? AND prompt_id = ? GROUP BY is_bull`,
		streamID, promptID,
	)
	if err != nil {
		return tally, fmt.Errorf("query tally: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			bull   bool
			count  int64
			amount float64
		)
		if err := rows.Scan(&bull, &count, &amount); err != nil {
			return tally, fmt.Errorf("scan tally: %w", err)
		}
		if bull {
			tally.BullVotes, tally.BullAmount = count, amount
		} else {
			tally.BearVotes, tally.BearAmount = count, amount
		}
	}
	return tally, rows.Err()
}

// TipTotal returns the number and sum of tips recorded for a stream.
func (s *Store) TipTotal(ctx context.Context, streamID string) (int64, float64, error) {
	var (
		count int64
		total float64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM tips WHERE stream_id = ?`, streamID,
	).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("query tip total: %w", err)
	}
	return count, total, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }
