package storage

import (
	"context"
	"errors"
	"time"
)

// ErrCorrupt indicates persisted score data that cannot be parsed.
var ErrCorrupt = errors.New("score data is corrupt")

// ScoreRecord is one scoring win.
type ScoreRecord struct {
	// Time is when the win was recorded.
	Time time.Time
	// Player is the client id of the winner.
	Player string
	// Duration is the time from first play to the winning shot.
	Duration time.Duration
}

// ScoreStore persists high score records.
type ScoreStore interface {
	// AppendScore adds a record.
	AppendScore(ctx context.Context, record ScoreRecord) error
	// ListScores returns every record in insertion order.
	ListScores(ctx context.Context) ([]ScoreRecord, error)
}

// Nop is a ScoreStore that keeps nothing.
type Nop struct{}

func (Nop) AppendScore(context.Context, ScoreRecord) error { return nil }

func (Nop) ListScores(context.Context) ([]ScoreRecord, error) { return nil, nil }
