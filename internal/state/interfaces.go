package state

import (
	"context"
	"time"
)

type Store interface {
	EnsureSchema(ctx context.Context) error
	StartLevelRun(ctx context.Context, run LevelRun) (int64, error)
	FinishLevelRun(ctx context.Context, runID int64, result RunResult) error
	GetLevelProgressMap(ctx context.Context) (map[int]LevelProgress, error)
	GetSummary(ctx context.Context) (Summary, error)
	GetLastRun(ctx context.Context) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeCompleted Outcome = "completed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeAbandoned Outcome = "abandoned"
)

type LevelRun struct {
	SessionID string
	Level     int
	StartTS   time.Time
}

type RunResult struct {
	Outcome Outcome
	Moves   int
	Score   int
	EndTS   time.Time
}

type Run struct {
	ID        int64
	SessionID string
	Level     int
	Outcome   Outcome
	Moves     int
	Score     int
	StartTS   time.Time
	EndTS     time.Time
}

type Summary struct {
	LevelRuns   int
	Completions int
	Timeouts    int
	Abandoned   int
	BestScore   int
}

type LevelProgress struct {
	Level          int
	CompletedCount int
	BestScore      int
	BestMoves      int
	LastPlayedTS   time.Time
	LastPassedTS   time.Time
}
