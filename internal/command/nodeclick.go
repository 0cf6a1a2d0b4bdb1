package command

import "context"

// Clicker is the board collaborator a click is forwarded to.
type Clicker interface {
	Click(ctx context.Context, nodeID string) error
	Unclick(ctx context.Context, nodeID string) error
}

// MoveCounter hands out one move per click. TakeMove fails once the level is
// no longer in play; ReturnMove gives back a move the board refused.
type MoveCounter interface {
	TakeMove() error
	ReturnMove()
}

// NodeClick rotates one node. The move is counted before the board turns, so
// it is already included when the rotation closes the circuit. Undo restores
// the node but keeps the move count.
type NodeClick struct {
	NodeID  string
	Board   Clicker
	Counter MoveCounter
}

func (c *NodeClick) Execute(ctx context.Context) error {
	if err := c.Counter.TakeMove(); err != nil {
		return err
	}
	if err := c.Board.Click(ctx, c.NodeID); err != nil {
		c.Counter.ReturnMove()
		return err
	}
	return nil
}

func (c *NodeClick) Undo(ctx context.Context) error {
	return c.Board.Unclick(ctx, c.NodeID)
}
