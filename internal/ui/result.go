package ui

import (
	"fmt"

	"circuitgrid/internal/levels"
)

type Completion struct {
	Level      int
	Score      int
	Moves      int
	TopScore   int
	Final      bool
	TotalScore int
}

func CompletedResult(c Completion) ResultState {
	res := ResultState{
		Visible:    true,
		Passed:     true,
		Title:      fmt.Sprintf("%s complete", levels.Address(c.Level)),
		Summary:    fmt.Sprintf("Score %d in %d moves, best %d", c.Score, c.Moves, c.TopScore),
		Final:      c.Final,
		CanAdvance: !c.Final,
	}
	if c.Final {
		res.Summary += fmt.Sprintf("\nAll levels done. Total score %d", c.TotalScore)
	}
	return res
}

// TimedOutResult reports a lost level. resetErr is set when wiping progress
// failed.
func TimedOutResult(resetErr error) ResultState {
	summary := "Time ran out. All progress has been reset."
	if resetErr != nil {
		summary = "Time ran out. Progress could not be reset: " + resetErr.Error()
	}
	return ResultState{Visible: true, Title: "Out of time", Summary: summary}
}

func LoadFailedResult(level int, err error) ResultState {
	return ResultState{
		Visible: true,
		Title:   fmt.Sprintf("Could not load %s", levels.Address(level)),
		Summary: err.Error(),
	}
}
