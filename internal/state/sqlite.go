package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS level_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			level INTEGER NOT NULL,
			start_ts TEXT NOT NULL,
			end_ts TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT 'started',
			moves INTEGER NOT NULL DEFAULT 0,
			score INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS level_progress (
			level INTEGER PRIMARY KEY,
			completed_count INTEGER NOT NULL DEFAULT 0,
			best_score INTEGER NOT NULL DEFAULT 0,
			best_moves INTEGER NOT NULL DEFAULT 0,
			last_played_ts TEXT NOT NULL DEFAULT '',
			last_passed_ts TEXT NOT NULL DEFAULT ''
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) StartLevelRun(ctx context.Context, run LevelRun) (int64, error) {
	start := run.StartTS
	if start.IsZero() {
		start = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO level_runs(session_id, level, start_ts, outcome) VALUES(?,?,?,?)`,
		strings.TrimSpace(run.SessionID),
		run.Level,
		start.UTC().Format(timeLayout),
		string(OutcomeStarted),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishLevelRun stamps the outcome on a run and folds completions into
// level_progress. Finishing the same run twice keeps the latest result.
func (s *SQLiteStore) FinishLevelRun(ctx context.Context, runID int64, result RunResult) (err error) {
	end := result.EndTS
	if end.IsZero() {
		end = time.Now()
	}
	endTS := end.UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		level       int
		prevOutcome string
	)
	row := tx.QueryRowContext(ctx, `SELECT level, outcome FROM level_runs WHERE id = ?`, runID)
	if err = row.Scan(&level, &prevOutcome); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("finish run %d: no such run", runID)
		}
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE level_runs SET outcome = ?, moves = ?, score = ?, end_ts = ? WHERE id = ?`,
		string(result.Outcome), max(0, result.Moves), max(0, result.Score), endTS, runID,
	); err != nil {
		return err
	}

	completed := result.Outcome == OutcomeCompleted
	firstCompletion := completed && Outcome(prevOutcome) != OutcomeCompleted
	passTS := ""
	moves := 0
	if completed {
		passTS = endTS
		moves = max(0, result.Moves)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO level_progress(level, completed_count, best_score, best_moves, last_played_ts, last_passed_ts)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(level) DO UPDATE SET
			completed_count = level_progress.completed_count + excluded.completed_count,
			best_score = CASE
				WHEN excluded.best_score > level_progress.best_score THEN excluded.best_score
				ELSE level_progress.best_score
			END,
			best_moves = CASE
				WHEN excluded.best_moves > 0 AND (level_progress.best_moves = 0 OR excluded.best_moves < level_progress.best_moves) THEN excluded.best_moves
				ELSE level_progress.best_moves
			END,
			last_played_ts = excluded.last_played_ts,
			last_passed_ts = CASE
				WHEN excluded.last_passed_ts <> '' THEN excluded.last_passed_ts
				ELSE level_progress.last_passed_ts
			END
	`,
		level,
		ifThen(firstCompletion, 1, 0),
		ifThen(completed, max(0, result.Score), 0),
		moves,
		endTS,
		passTS,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetLevelProgressMap(ctx context.Context) (map[int]LevelProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT level, completed_count, best_score, best_moves, last_played_ts, last_passed_ts
		FROM level_progress
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int]LevelProgress{}
	for rows.Next() {
		var (
			p          LevelProgress
			lastPlayed string
			lastPassed string
		)
		if err := rows.Scan(&p.Level, &p.CompletedCount, &p.BestScore, &p.BestMoves, &lastPlayed, &lastPassed); err != nil {
			return nil, err
		}
		p.LastPlayedTS = parseTS(lastPlayed)
		p.LastPassedTS = parseTS(lastPassed)
		out[p.Level] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) GetSummary(ctx context.Context) (Summary, error) {
	var out Summary
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) as level_runs,
			COALESCE(SUM(CASE WHEN outcome = 'completed' THEN 1 ELSE 0 END),0) as completions,
			COALESCE(SUM(CASE WHEN outcome = 'timeout' THEN 1 ELSE 0 END),0) as timeouts,
			COALESCE(SUM(CASE WHEN outcome = 'abandoned' THEN 1 ELSE 0 END),0) as abandoned,
			COALESCE(MAX(score),0) as best_score
		FROM level_runs
	`)
	if err := row.Scan(&out.LevelRuns, &out.Completions, &out.Timeouts, &out.Abandoned, &out.BestScore); err != nil {
		return Summary{}, err
	}
	return out, nil
}

const runColumns = `id, session_id, level, outcome, moves, score, start_ts, end_ts`

func (s *SQLiteStore) GetLastRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM level_runs ORDER BY id DESC LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the newest runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM level_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run     Run
		outcome string
		startTS string
		endTS   string
	)
	if err := row.Scan(&run.ID, &run.SessionID, &run.Level, &outcome, &run.Moves, &run.Score, &startTS, &endTS); err != nil {
		return Run{}, err
	}
	run.Outcome = Outcome(outcome)
	run.StartTS = parseTS(startTS)
	run.EndTS = parseTS(endTS)
	return run, nil
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func parseTS(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func ifThen(cond bool, yes, no int) int {
	if cond {
		return yes
	}
	return no
}
