package levels

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// FSCatalog reads level-<N>.yaml files from a filesystem and caches what it parsed.
type FSCatalog struct {
	fsys fs.FS

	mu    sync.Mutex
	cache map[int]*Definition
}

func NewFSCatalog(fsys fs.FS) *FSCatalog {
	return &FSCatalog{fsys: fsys, cache: map[int]*Definition{}}
}

// NewDirCatalog serves levels from a directory on disk.
func NewDirCatalog(dir string) *FSCatalog {
	return NewFSCatalog(os.DirFS(dir))
}

// NewEmbeddedCatalog serves the levels compiled into the binary.
func NewEmbeddedCatalog() *FSCatalog {
	return NewFSCatalog(BuiltinFS())
}

func FileName(level int) string {
	return fmt.Sprintf("level-%d.yaml", level)
}

func (c *FSCatalog) Get(ctx context.Context, level int) (*Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if def, ok := c.cache[level]; ok {
		c.mu.Unlock()
		return def, nil
	}
	c.mu.Unlock()

	name := FileName(level)
	if _, err := fs.Stat(c.fsys, name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	def, err := loadLevelFile(c.fsys, name)
	if err != nil {
		return nil, err
	}
	if def.Name != Address(level) {
		return nil, fmt.Errorf("level name mismatch for %s: want %q, file has %q", name, Address(level), def.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.cache[level]; ok {
		return cached, nil
	}
	c.cache[level] = def
	return def, nil
}

func loadLevelFile(fsys fs.FS, name string) (*Definition, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	var def Definition
	if err := yaml.Unmarshal(b, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	def.Path = name
	if err := def.validateHeader(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", name, err)
	}
	applyLevelDefaults(&def)
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", name, err)
	}
	return &def, nil
}

func applyLevelDefaults(def *Definition) {
	if def.GridType == "" {
		def.GridType = GridSquare
	}
	if def.NodeSize <= 0 {
		def.NodeSize = 100
	}
	if def.Spacing <= 0 {
		def.Spacing = 5
	}
}

// Report is the outcome of checking one level file.
type Report struct {
	File  string
	Level int
	Err   error
}

// CheckAll parses and validates every level-<N>.yaml in fsys, in level order.
func CheckAll(fsys fs.FS) ([]Report, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		level, ok := levelFromFileName(e.Name())
		if !ok {
			continue
		}
		r := Report{File: e.Name(), Level: level}
		def, err := loadLevelFile(fsys, e.Name())
		switch {
		case err != nil:
			r.Err = err
		case def.Name != Address(level):
			r.Err = fmt.Errorf("name %q does not match %q", def.Name, Address(level))
		}
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Level < reports[j].Level })
	return reports, nil
}

func levelFromFileName(name string) (int, bool) {
	if path.Ext(name) != ".yaml" {
		return 0, false
	}
	raw, ok := strings.CutPrefix(strings.TrimSuffix(name, ".yaml"), "level-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// BuiltinFS exposes the embedded level files.
func BuiltinFS() fs.FS {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		panic(err)
	}
	return sub
}
