// Package grid holds the playable board built from a level definition.
package grid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"circuitgrid/internal/levels"
)

var ErrUnknownNode = errors.New("unknown node")

// NodeID is the identifier of the node at row, col.
func NodeID(row, col int) string {
	return fmt.Sprintf("%d:%d", row, col)
}

type Node struct {
	ID       string
	Row      int
	Col      int
	Kind     levels.NodeKind
	Rotation int
}

// RotationBoard rotates nodes one step per click. The circuit is connected
// when every non-empty node is back at rotation 0.
type RotationBoard struct {
	rows        int
	cols        int
	maxRotation int
	clickDelay  time.Duration

	mu      sync.Mutex
	nodes   map[string]*Node
	solved  bool
	nextSub int
	subs    map[int]func()
}

type Option func(*RotationBoard)

// WithClickDelay makes every click and unclick wait d before rotating, the
// way an animated board would.
func WithClickDelay(d time.Duration) Option {
	return func(b *RotationBoard) { b.clickDelay = d }
}

func New(def *levels.Definition, opts ...Option) (*RotationBoard, error) {
	if def == nil {
		return nil, errors.New("grid: nil level definition")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	b := &RotationBoard{
		rows:        def.Rows,
		cols:        def.Columns,
		maxRotation: def.GridType.MaxRotation(),
		nodes:       make(map[string]*Node, def.Rows*def.Columns),
		subs:        map[int]func(){},
	}
	for _, opt := range opts {
		opt(b)
	}
	for r := 0; r < def.Rows; r++ {
		for c := 0; c < def.Columns; c++ {
			cell, err := def.Cell(r, c)
			if err != nil {
				return nil, err
			}
			if cell.Kind == levels.NodeEmpty {
				continue
			}
			id := NodeID(r, c)
			b.nodes[id] = &Node{ID: id, Row: r, Col: c, Kind: cell.Kind, Rotation: cell.Rotation}
		}
	}
	b.solved = b.connectedLocked()
	return b, nil
}

func (b *RotationBoard) Rows() int    { return b.rows }
func (b *RotationBoard) Columns() int { return b.cols }

func (b *RotationBoard) Click(ctx context.Context, nodeID string) error {
	return b.rotate(ctx, nodeID, 1)
}

func (b *RotationBoard) Unclick(ctx context.Context, nodeID string) error {
	return b.rotate(ctx, nodeID, -1)
}

func (b *RotationBoard) rotate(ctx context.Context, nodeID string, step int) error {
	b.mu.Lock()
	_, ok := b.nodes[nodeID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, nodeID)
	}
	if err := b.wait(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	n := b.nodes[nodeID]
	n.Rotation = ((n.Rotation+step)%b.maxRotation + b.maxRotation) % b.maxRotation
	was := b.solved
	b.solved = b.connectedLocked()
	var notify []func()
	if b.solved && !was {
		notify = b.subscribersLocked()
	}
	b.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

func (b *RotationBoard) wait(ctx context.Context) error {
	if b.clickDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.clickDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *RotationBoard) connectedLocked() bool {
	for _, n := range b.nodes {
		if n.Rotation != 0 {
			return false
		}
	}
	return true
}

// Connected reports whether the circuit is currently closed.
func (b *RotationBoard) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.solved
}

// OnValidated registers fn to run each time the circuit becomes connected.
// fn runs on the goroutine that made the connecting click.
func (b *RotationBoard) OnValidated(fn func()) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
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

func (b *RotationBoard) subscribersLocked() []func() {
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(), 0, len(ids))
	for _, id := range ids {
		out = append(out, b.subs[id])
	}
	return out
}

// Node returns a copy of the node at row, col. Empty cells report ok=false.
func (b *RotationBoard) Node(row, col int) (Node, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[NodeID(row, col)]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes lists every non-empty node in row-major order.
func (b *RotationBoard) Nodes() []Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}

// ClicksToConnect is the fewest clicks that close the circuit from here.
func (b *RotationBoard) ClicksToConnect() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.nodes {
		if n.Rotation != 0 {
			total += b.maxRotation - n.Rotation
		}
	}
	return total
}
