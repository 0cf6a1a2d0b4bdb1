package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBoard struct {
	rotations map[string]int
	clickErr  error
	onClick   func()
}

func (b *fakeBoard) Click(_ context.Context, id string) error {
	if b.clickErr != nil {
		return b.clickErr
	}
	b.rotations[id]++
	if b.onClick != nil {
		b.onClick()
	}
	return nil
}

func (b *fakeBoard) Unclick(_ context.Context, id string) error {
	b.rotations[id]--
	return nil
}

type counter struct {
	n      int
	closed bool
}

var errClosed = errors.New("closed")

func (c *counter) TakeMove() error {
	if c.closed {
		return errClosed
	}
	c.n++
	return nil
}

func (c *counter) ReturnMove() { c.n-- }

func TestNodeClickCountsOneMovePerSuccessfulClick(t *testing.T) {
	board := &fakeBoard{rotations: map[string]int{}}
	moves := &counter{}
	cmd := &NodeClick{NodeID: "0:1", Board: board, Counter: moves}

	require.NoError(t, cmd.Execute(context.Background()))
	require.NoError(t, cmd.Execute(context.Background()))
	assert.Equal(t, 2, moves.n)
	assert.Equal(t, 2, board.rotations["0:1"])
}

func TestNodeClickCountsBeforeTheBoardTurns(t *testing.T) {
	moves := &counter{}
	seen := -1
	board := &fakeBoard{rotations: map[string]int{}, onClick: func() { seen = moves.n }}
	cmd := &NodeClick{NodeID: "1:1", Board: board, Counter: moves}

	require.NoError(t, cmd.Execute(context.Background()))
	assert.Equal(t, 1, seen)
}

func TestNodeClickFailureLeavesMovesAlone(t *testing.T) {
	boom := errors.New("stuck")
	board := &fakeBoard{rotations: map[string]int{}, clickErr: boom}
	moves := &counter{}
	cmd := &NodeClick{NodeID: "0:0", Board: board, Counter: moves}

	assert.ErrorIs(t, cmd.Execute(context.Background()), boom)
	assert.Zero(t, moves.n)
}

func TestNodeClickRefusedByClosedCounter(t *testing.T) {
	board := &fakeBoard{rotations: map[string]int{}}
	moves := &counter{closed: true}
	cmd := &NodeClick{NodeID: "0:1", Board: board, Counter: moves}

	assert.ErrorIs(t, cmd.Execute(context.Background()), errClosed)
	assert.Zero(t, board.rotations["0:1"], "board must not turn")
	assert.Zero(t, moves.n)
}

func TestNodeClickUndoKeepsMoveCount(t *testing.T) {
	board := &fakeBoard{rotations: map[string]int{}}
	moves := &counter{}
	q := NewQueue(nil)
	defer q.Close()

	h := q.Submit(&NodeClick{NodeID: "1:1", Board: board, Counter: moves})
	require.NoError(t, h.Wait(waitCtx(t)))
	require.True(t, q.UndoLast(context.Background()))

	assert.Equal(t, 0, board.rotations["1:1"])
	assert.Equal(t, 1, moves.n)
}
