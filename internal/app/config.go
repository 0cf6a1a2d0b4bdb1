package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"

	"circuitgrid/internal/ui"
)

// Config controls runtime behavior. Values come from CIRCUITGRID_* variables
// and may be overridden by command-line flags before Validate.
type Config struct {
	DataDir      string        `env:"CIRCUITGRID_DATA_DIR"`
	LevelsDir    string        `env:"CIRCUITGRID_LEVELS_DIR"`
	TimeLimit    time.Duration `env:"CIRCUITGRID_TIME_LIMIT" envDefault:"120s"`
	TickInterval time.Duration `env:"CIRCUITGRID_TICK_INTERVAL" envDefault:"100ms"`
	ClickDelay   time.Duration `env:"CIRCUITGRID_CLICK_DELAY" envDefault:"0s"`
	LogPath      string        `env:"CIRCUITGRID_LOG_PATH"`
	LogLevel     string        `env:"CIRCUITGRID_LOG_LEVEL" envDefault:"info"`
	ASCIIOnly    bool          `env:"CIRCUITGRID_ASCII"`
	Style        string        `env:"CIRCUITGRID_STYLE" envDefault:"neon"`
}

func DefaultConfig() Config {
	return Config{
		TimeLimit:    120 * time.Second,
		TickInterval: 100 * time.Millisecond,
		LogLevel:     "info",
		Style:        ui.StyleNeon,
	}
}

// LoadConfig reads the environment on top of the defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TimeLimit <= 0 {
		return fmt.Errorf("invalid time limit %s", c.TimeLimit)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("invalid tick interval %s", c.TickInterval)
	}
	if c.TickInterval > c.TimeLimit {
		return fmt.Errorf("tick interval %s exceeds time limit %s", c.TickInterval, c.TimeLimit)
	}
	if c.ClickDelay < 0 {
		return fmt.Errorf("invalid click delay %s", c.ClickDelay)
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}

	if c.Style == "" {
		c.Style = ui.StyleNeon
	}
	if !ui.ValidStyle(c.Style) {
		return fmt.Errorf("invalid ui style %q", c.Style)
	}

	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.New("cannot resolve user home directory")
		}
		c.DataDir = filepath.Join(home, ".local", "share", "circuitgrid")
	}
	return nil
}

func (c Config) ProgressPath() string { return filepath.Join(c.DataDir, "progress.json") }
func (c Config) HistoryPath() string  { return filepath.Join(c.DataDir, "history.db") }
