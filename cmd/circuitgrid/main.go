package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"circuitgrid/internal/app"
	"circuitgrid/internal/devtools"
	"circuitgrid/internal/levels"
	"circuitgrid/internal/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	dataDir   string
	levelsDir string
	logPath   string
	logLevel  string
	style     string
	ascii     bool
	timeLimit time.Duration
}

func (g *globalFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&g.dataDir, "data-dir", "", "directory for progress and run history")
	flags.StringVar(&g.levelsDir, "levels-dir", "", "load level files from this directory instead of the builtin set")
	flags.StringVar(&g.logPath, "log-path", "", "write JSON logs to this file")
	flags.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&g.style, "style", "", "ui style (neon, cozy, retro)")
	flags.BoolVar(&g.ascii, "ascii", false, "draw the board with ASCII only")
	flags.DurationVar(&g.timeLimit, "time-limit", 0, "time allowed per level")
}

// config layers explicitly set flags over the environment.
func (g *globalFlags) config(flags *pflag.FlagSet) (app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, err
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = g.dataDir
	}
	if flags.Changed("levels-dir") {
		cfg.LevelsDir = g.levelsDir
	}
	if flags.Changed("log-path") {
		cfg.LogPath = g.logPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if flags.Changed("style") {
		cfg.Style = g.style
	}
	if flags.Changed("ascii") {
		cfg.ASCIIOnly = g.ascii
	}
	if flags.Changed("time-limit") {
		cfg.TimeLimit = g.timeLimit
	}
	if err := cfg.Validate(); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func (g *globalFlags) withApp(cmd *cobra.Command, fn func(*app.App) error) error {
	cfg, err := g.config(cmd.Flags())
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "circuitgrid",
		Short:         "Rotate the nodes until every computer is online",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.register(root.PersistentFlags())

	root.AddCommand(
		newPlayCmd(g),
		newProgressCmd(g),
		newResetCmd(g),
		newStatsCmd(g),
		newLevelsCmd(),
		newDemoCmd(g),
	)
	return root
}

func newPlayCmd(g *globalFlags) *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play from the last level reached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if level < 0 || level > levels.MaxLevel {
				return fmt.Errorf("level must be between 1 and %d", levels.MaxLevel)
			}
			return g.withApp(cmd, func(a *app.App) error {
				return a.Play(cmd.Context(), level)
			})
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "start at this unlocked level instead of resuming")
	return cmd
}

func newProgressCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show saved progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				return app.WriteProgress(cmd.OutOrStdout(), a.Progress())
			})
		},
	}
}

func newResetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Wipe all saved progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				if err := a.ResetProgress(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Progress reset.")
				return nil
			})
		},
	}
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				rep, err := a.Stats(cmd.Context(), recent)
				if err != nil {
					return err
				}
				return app.WriteStats(cmd.OutOrStdout(), rep, time.Now())
			})
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent runs to list")
	return cmd
}

func newLevelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Inspect level files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [dir]",
		Short: "Check every level file and report all problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fsys fs.FS = levels.BuiltinFS()
			source := "builtin levels"
			if len(args) == 1 {
				fsys = os.DirFS(args[0])
				source = args[0]
			}
			return validateLevels(cmd, fsys, source)
		},
	})
	return cmd
}

func validateLevels(cmd *cobra.Command, fsys fs.FS, source string) error {
	reports, err := levels.CheckAll(fsys)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		return fmt.Errorf("no level files in %s", source)
	}
	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range reports {
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", r.File, r.Err)
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", r.File)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d level files invalid", failed, len(reports))
	}
	return nil
}

func newDemoCmd(g *globalFlags) *cobra.Command {
	var cols, rows int
	var list bool
	cmd := &cobra.Command{
		Use:   "demo [scenario]",
		Short: "Print a canned screen without touching saved progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config(cmd.Flags())
			if err != nil {
				return err
			}
			var catalog levels.Catalog = levels.NewEmbeddedCatalog()
			if cfg.LevelsDir != "" {
				catalog = levels.NewDirCatalog(cfg.LevelsDir)
			}
			m := devtools.NewManager(catalog, cfg.TimeLimit)
			out := cmd.OutOrStdout()
			if list {
				for _, name := range m.Names() {
					fmt.Fprintln(out, name)
				}
				return nil
			}
			name := "playing"
			if len(args) == 1 {
				name = args[0]
			}
			screen, err := m.Render(cmd.Context(), name, cols, rows, ui.Options{ASCIIOnly: cfg.ASCIIOnly, Style: cfg.Style})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, screen)
			return nil
		},
	}
	cmd.Flags().IntVar(&cols, "width", 100, "terminal columns to render at")
	cmd.Flags().IntVar(&rows, "height", 30, "terminal rows to render at")
	cmd.Flags().BoolVar(&list, "list", false, "list scenario names")
	return cmd
}
