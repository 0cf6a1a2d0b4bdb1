package devtools

import (
	"context"

	"circuitgrid/internal/ui"
)

type Demo interface {
	Names() []string
	Resolve(name string) Scenario
	Stage(ctx context.Context, sc Scenario) (Staged, error)
	Render(ctx context.Context, name string, cols, rows int, opts ui.Options) (string, error)
}
