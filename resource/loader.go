package resource

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/norne/arenanav/game/geom"
)

// ArenaLayout is a known arena floor plan. Each layout cell stands for a
// Scale x Scale block of grid cells, so a coarse drawing can describe a fine
// grid.
//
// Obstacles may be given as a coordinate list, as text rows ('#' marks an
// obstacle, anything else is free), or both.
type ArenaLayout struct {
	ID        string   `json:"id"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Scale     int      `json:"scale"`
	Obstacles [][2]int `json:"obstacles"`
	Rows      []string `json:"rows"`
}

// Size returns the grid size after scaling.
func (l *ArenaLayout) Size() (width, height int) {
	s := l.scale()
	return l.Width * s, l.Height * s
}

func (l *ArenaLayout) scale() int {
	if l.Scale <= 0 {
		return 1
	}
	return l.Scale
}

// ObstacleCells expands the layout obstacles into grid cells.
func (l *ArenaLayout) ObstacleCells() []geom.Cell {
	s := l.scale()
	coarse := make([]geom.Cell, 0, len(l.Obstacles))
	for _, o := range l.Obstacles {
		coarse = append(coarse, geom.Cell{X: o[0], Y: o[1]})
	}
	for y, row := range l.Rows {
		for x, ch := range row {
			if ch == '#' {
				coarse = append(coarse, geom.Cell{X: x, Y: y})
			}
		}
	}
	out := make([]geom.Cell, 0, len(coarse)*s*s)
	for _, c := range coarse {
		for dy := 0; dy < s; dy++ {
			for dx := 0; dx < s; dx++ {
				out = append(out, geom.Cell{X: c.X*s + dx, Y: c.Y*s + dy})
			}
		}
	}
	return out
}

// Validate checks the layout dimensions and that every obstacle is on it.
func (l *ArenaLayout) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("resource: layout without id")
	}
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("resource: layout %q: non-positive size %dx%d", l.ID, l.Width, l.Height)
	}
	for _, o := range l.Obstacles {
		if o[0] < 0 || o[0] >= l.Width || o[1] < 0 || o[1] >= l.Height {
			return fmt.Errorf("resource: layout %q: obstacle (%d,%d) outside %dx%d", l.ID, o[0], o[1], l.Width, l.Height)
		}
	}
	if len(l.Rows) > l.Height {
		return fmt.Errorf("resource: layout %q: %d rows for height %d", l.ID, len(l.Rows), l.Height)
	}
	for y, row := range l.Rows {
		if len(row) > l.Width {
			return fmt.Errorf("resource: layout %q: row %d longer than width %d", l.ID, y, l.Width)
		}
	}
	return nil
}

// Loader reads arena layouts from a directory of *.json files.
type Loader struct {
	Dir     string
	Layouts map[string]*ArenaLayout
}

// NewLoader creates a Loader for the given layout directory.
func NewLoader(dir string) *Loader {
	return &Loader{
		Dir:     dir,
		Layouts: make(map[string]*ArenaLayout),
	}
}

// Load reads and validates every layout file in the directory. A missing
// directory is not an error: the service then only hosts blank arenas.
func (rl *Loader) Load() error {
	if rl.Dir == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(rl.Dir, "*.json"))
	if err != nil {
		return fmt.Errorf("resource: glob %s: %w", rl.Dir, err)
	}
	sort.Strings(files)
	for _, f := range files {
		l := &ArenaLayout{}
		if err := loadJSONObject(f, l); err != nil {
			return err
		}
		if l.ID == "" {
			l.ID = strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		}
		if err := l.Validate(); err != nil {
			return err
		}
		if _, dup := rl.Layouts[l.ID]; dup {
			return fmt.Errorf("resource: duplicate layout id %q in %s", l.ID, f)
		}
		rl.Layouts[l.ID] = l
	}
	return nil
}

// Layout returns the layout with the given id, or nil.
func (rl *Loader) Layout(id string) *ArenaLayout {
	return rl.Layouts[id]
}

// IDs returns the ids of every loaded layout, sorted.
func (rl *Loader) IDs() []string {
	ids := make([]string, 0, len(rl.Layouts))
	for id := range rl.Layouts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func loadJSONObject[T any](path string, out *T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("resource: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("resource: parse %s: %w", path, err)
	}
	return nil
}
