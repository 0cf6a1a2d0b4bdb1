// Package progress persists per-level top scores and the last played level
// as a single JSON document on local disk.
//
// Unlock progress is never stored: the next unlocked level is always one past
// the number of completed levels, so it cannot drift from the records.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	"circuitgrid/internal/levels"
)

const lockRetryDelay = 10 * time.Millisecond

type LevelRecord struct {
	Name     string `json:"name"`
	Level    int    `json:"level"`
	TopScore int    `json:"topScore"`
}

type Document struct {
	LastPlayedLevel int           `json:"lastPlayedLevel"`
	Levels          []LevelRecord `json:"levelDataList"`
}

func DefaultDocument() Document {
	return Document{LastPlayedLevel: 1, Levels: []LevelRecord{}}
}

// LastUnlockedLevel is the first level without a completion record.
func (d Document) LastUnlockedLevel() int {
	return len(d.Levels) + 1
}

func (d Document) clone() Document {
	out := Document{LastPlayedLevel: d.LastPlayedLevel, Levels: make([]LevelRecord, len(d.Levels))}
	copy(out.Levels, d.Levels)
	return out
}

// PersistenceError wraps a failed read or write of the progress file.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("progress %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FileStore keeps the document in memory and writes it through on every change.
// The in-memory copy stays authoritative when a write fails.
type FileStore struct {
	path   string
	lock   *flock.Flock
	logger *log.Logger

	mu  sync.Mutex
	doc Document
}

func Open(path string, logger *log.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &FileStore{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
		doc:    DefaultDocument(),
	}, nil
}

func (s *FileStore) Path() string { return s.path }

// Load reads the document from disk. A missing or unreadable file falls back
// to the default document, which is written back immediately.
func (s *FileStore) Load(ctx context.Context) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err == nil {
		var doc Document
		if err = json.Unmarshal(b, &doc); err == nil {
			s.doc = normalize(doc)
			s.logger.Debug("store.loaded", "path", s.path, "records", len(s.doc.Levels))
			return s.doc.clone(), nil
		}
		s.logger.Warn("store.corrupt", "path", s.path, "err", err)
	} else if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("store.read_failed", "path", s.path, "err", err)
	}

	s.doc = DefaultDocument()
	if err := s.writeLocked(ctx); err != nil {
		return s.doc.clone(), err
	}
	return s.doc.clone(), nil
}

// Save writes the current document.
func (s *FileStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(ctx)
}

// Replace swaps in doc and writes it.
func (s *FileStore) Replace(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = normalize(doc)
	return s.writeLocked(ctx)
}

// CommitScore records a completion. The top score only ever increases.
func (s *FileStore) CommitScore(ctx context.Context, level, score int) error {
	if level < 1 {
		return fmt.Errorf("commit score: invalid level %d", level)
	}
	score = max(0, score)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("store.commit_score", "level_no", level, "score", score)
	if i := s.indexLocked(level); i >= 0 {
		if score > s.doc.Levels[i].TopScore {
			s.doc.Levels[i].TopScore = score
		}
	} else {
		s.doc.Levels = append(s.doc.Levels, LevelRecord{Name: levels.Address(level), Level: level, TopScore: score})
		sort.Slice(s.doc.Levels, func(i, j int) bool { return s.doc.Levels[i].Level < s.doc.Levels[j].Level })
	}
	return s.writeLocked(ctx)
}

func (s *FileStore) Record(level int) (LevelRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(level); i >= 0 {
		return s.doc.Levels[i], true
	}
	return LevelRecord{}, false
}

func (s *FileStore) LastUnlockedLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.LastUnlockedLevel()
}

func (s *FileStore) LastPlayedLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.LastPlayedLevel
}

func (s *FileStore) SetLastPlayedLevel(ctx context.Context, level int) error {
	if level < 1 {
		return fmt.Errorf("set last played level: invalid level %d", level)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.LastPlayedLevel = level
	return s.writeLocked(ctx)
}

// TotalScore sums the top score of every completed level.
func (s *FileStore) TotalScore() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, r := range s.doc.Levels {
		total += r.TopScore
	}
	return total
}

// Reset wipes all progress back to the default document.
func (s *FileStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Warn("store.reset", "path", s.path, "records", len(s.doc.Levels))
	s.doc = DefaultDocument()
	return s.writeLocked(ctx)
}

func (s *FileStore) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.clone()
}

func (s *FileStore) indexLocked(level int) int {
	for i := range s.doc.Levels {
		if s.doc.Levels[i].Level == level {
			return i
		}
	}
	return -1
}

func (s *FileStore) writeLocked(ctx context.Context) (err error) {
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return s.writeFailed(&PersistenceError{Op: "lock", Path: s.path, Err: err})
	}
	if !locked {
		return s.writeFailed(&PersistenceError{Op: "lock", Path: s.path, Err: errors.New("lock not acquired")})
	}
	defer func() {
		if uerr := s.lock.Unlock(); uerr != nil && err == nil {
			err = &PersistenceError{Op: "unlock", Path: s.path, Err: uerr}
		}
	}()
	if err := renameio.WriteFile(s.path, append(b, '\n'), 0o644); err != nil {
		return s.writeFailed(&PersistenceError{Op: "write", Path: s.path, Err: err})
	}
	return nil
}

func (s *FileStore) writeFailed(err *PersistenceError) error {
	s.logger.Error("store.write_failed", "op", err.Op, "path", err.Path, "err", err.Err)
	return err
}

// normalize repairs documents edited by hand or written by older builds:
// duplicate levels keep their best score and the list is ordered by level.
func normalize(doc Document) Document {
	out := Document{LastPlayedLevel: doc.LastPlayedLevel, Levels: make([]LevelRecord, 0, len(doc.Levels))}
	if out.LastPlayedLevel < 1 {
		out.LastPlayedLevel = 1
	}
	seen := map[int]int{}
	for _, r := range doc.Levels {
		if r.Level < 1 {
			continue
		}
		r.TopScore = max(0, r.TopScore)
		r.Name = levels.Address(r.Level)
		if i, ok := seen[r.Level]; ok {
			out.Levels[i].TopScore = max(out.Levels[i].TopScore, r.TopScore)
			continue
		}
		seen[r.Level] = len(out.Levels)
		out.Levels = append(out.Levels, r)
	}
	sort.Slice(out.Levels, func(i, j int) bool { return out.Levels[i].Level < out.Levels[j].Level })
	return out
}
