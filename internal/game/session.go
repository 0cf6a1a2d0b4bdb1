package game

import (
	"sync"
	"time"
)

// Session is the mutable state of one attempt at a level. Commands bump its
// move counter from the queue goroutine, so it carries its own lock.
type Session struct {
	mu        sync.Mutex
	level     int
	moves     int
	remaining time.Duration
	closed    bool
}

type SessionState struct {
	Level     int
	Moves     int
	Remaining time.Duration
}

func newSession(level int, limit time.Duration) *Session {
	return &Session{level: level, remaining: limit}
}

func (s *Session) TakeMove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrLevelOver
	}
	s.moves++
	return nil
}

func (s *Session) ReturnMove() {
	s.mu.Lock()
	if s.moves > 0 {
		s.moves--
	}
	s.mu.Unlock()
}

// close freezes the move count. Clicks still queued are refused.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Session) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionState{Level: s.level, Moves: s.moves, Remaining: s.remaining}
}

// elapse counts d off the clock and returns what is left, never below zero.
func (s *Session) elapse(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.remaining -= d
	}
	if s.remaining < 0 {
		s.remaining = 0
	}
	return s.remaining
}
