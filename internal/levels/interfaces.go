package levels

import (
	"context"
	"errors"
	"fmt"
)

// MaxLevel is the highest playable level number.
const MaxLevel = 4

// ErrNotFound is reported by callers that require a level to exist.
var ErrNotFound = errors.New("level not found")

// Catalog resolves level numbers to validated definitions.
// A level that does not exist yields (nil, nil).
type Catalog interface {
	Get(ctx context.Context, level int) (*Definition, error)
}

// Address is the external name a level is looked up by.
func Address(level int) string {
	return fmt.Sprintf("Level %d", level)
}
