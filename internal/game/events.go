package game

import (
	"sort"
	"sync"
	"time"

	"circuitgrid/internal/levels"
)

type EventKind int

const (
	EventLevelLoaded EventKind = iota + 1
	EventLevelCompleted
	EventTimerTick
	EventTimedOut
	EventStateChanged
)

type Event interface {
	Kind() EventKind
}

type LevelLoaded struct {
	Level      int
	TopScore   int
	Definition *levels.Definition
}

// LevelCompleted reports a solved level. Err carries persistence failures;
// the score is still valid when it is set.
type LevelCompleted struct {
	Level      int
	Score      int
	Moves      int
	TopScore   int
	TotalScore int
	Final      bool
	Err        error
}

type TimerTick struct {
	Level     int
	Remaining time.Duration
}

type TimedOut struct {
	Level int
	Err   error
}

type StateChanged struct {
	From State
	To   State
}

func (LevelLoaded) Kind() EventKind    { return EventLevelLoaded }
func (LevelCompleted) Kind() EventKind { return EventLevelCompleted }
func (TimerTick) Kind() EventKind      { return EventTimerTick }
func (TimedOut) Kind() EventKind       { return EventTimedOut }
func (StateChanged) Kind() EventKind   { return EventStateChanged }

// Broadcaster fans events out to subscribers in subscription order.
type Broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[int]func(Event){}}
}

func (b *Broadcaster) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
