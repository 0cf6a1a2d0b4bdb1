package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"circuitgrid/internal/levels"
	"circuitgrid/internal/progress"
	"circuitgrid/internal/state"
)

type ProgressReport struct {
	Path            string
	LastPlayedLevel int
	LastUnlocked    int
	TotalScore      int
	Levels          []progress.LevelRecord
}

func (a *App) Progress() ProgressReport {
	doc := a.store.Snapshot()
	return ProgressReport{
		Path:            a.store.Path(),
		LastPlayedLevel: doc.LastPlayedLevel,
		LastUnlocked:    doc.LastUnlockedLevel(),
		TotalScore:      a.store.TotalScore(),
		Levels:          doc.Levels,
	}
}

func WriteProgress(w io.Writer, r ProgressReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Progress file:\t%s\n", r.Path)
	fmt.Fprintf(tw, "Last played:\t%s\n", levels.Address(r.LastPlayedLevel))
	if r.LastUnlocked > levels.MaxLevel {
		fmt.Fprintf(tw, "Unlocked:\tall levels\n")
	} else {
		fmt.Fprintf(tw, "Unlocked:\tup to %s\n", levels.Address(r.LastUnlocked))
	}
	fmt.Fprintf(tw, "Total score:\t%s\n", humanize.Comma(int64(r.TotalScore)))
	if len(r.Levels) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "LEVEL\tNAME\tTOP SCORE")
		for _, rec := range r.Levels {
			fmt.Fprintf(tw, "%d\t%s\t%d\n", rec.Level, rec.Name, rec.TopScore)
		}
	}
	return tw.Flush()
}

type StatsReport struct {
	Summary state.Summary
	Levels  []state.LevelProgress
	Recent  []state.Run
}

// Stats reads the run history. It fails when history is unavailable.
func (a *App) Stats(ctx context.Context, recent int) (StatsReport, error) {
	if a.history == nil {
		return StatsReport{}, fmt.Errorf("run history unavailable at %s", a.cfg.HistoryPath())
	}
	summary, err := a.history.GetSummary(ctx)
	if err != nil {
		return StatsReport{}, err
	}
	byLevel, err := a.history.GetLevelProgressMap(ctx)
	if err != nil {
		return StatsReport{}, err
	}
	runs, err := a.history.ListRuns(ctx, recent)
	if err != nil {
		return StatsReport{}, err
	}

	out := StatsReport{Summary: summary, Recent: runs}
	for _, lp := range byLevel {
		out.Levels = append(out.Levels, lp)
	}
	sort.Slice(out.Levels, func(i, j int) bool { return out.Levels[i].Level < out.Levels[j].Level })
	return out, nil
}

func WriteStats(w io.Writer, r StatsReport, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	s := r.Summary
	fmt.Fprintf(tw, "Runs:\t%s\n", humanize.Comma(int64(s.LevelRuns)))
	fmt.Fprintf(tw, "Completions:\t%s\n", humanize.Comma(int64(s.Completions)))
	fmt.Fprintf(tw, "Timeouts:\t%s\n", humanize.Comma(int64(s.Timeouts)))
	fmt.Fprintf(tw, "Abandoned:\t%s\n", humanize.Comma(int64(s.Abandoned)))
	fmt.Fprintf(tw, "Best score:\t%d\n", s.BestScore)

	if len(r.Levels) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "LEVEL\tCLEARED\tBEST\tFEWEST MOVES\tLAST PLAYED")
		for _, lp := range r.Levels {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n",
				lp.Level, humanize.Comma(int64(lp.CompletedCount)), lp.BestScore, lp.BestMoves, relTime(lp.LastPlayedTS, now))
		}
	}
	if len(r.Recent) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "RUN\tLEVEL\tOUTCOME\tMOVES\tSCORE\tSTARTED")
		for _, run := range r.Recent {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%s\n",
				run.ID, run.Level, run.Outcome, run.Moves, run.Score, relTime(run.StartTS, now))
		}
	}
	return tw.Flush()
}

func relTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
