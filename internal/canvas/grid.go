package canvas

import (
	"slices"
	"sync"
	"time"
)

// Board dimensions used until the first snapshot arrives.
const (
	DefaultWidth  = 5
	DefaultHeight = 9
)

// Point is a cell coordinate.
type Point struct {
	X, Y int
}

// Meta is the session metadata reported by the latest snapshot.
type Meta struct {
	SessionID string
	Started   bool
	Width     int
	Height    int
	CreatedAt time.Time
	Users     []string
}

// Grid is the sparse canvas: cell colors plus session metadata.
//
// Grid is safe for concurrent use. Writers are expected to be the sync
// engine's consumer loop and the local paint path; any number of readers may
// render concurrently.
type Grid struct {
	mu      sync.RWMutex
	cells   map[Point]Color
	meta    Meta
	version uint64
}

// NewGrid returns an empty grid with the default dimensions.
func NewGrid() *Grid {
	return &Grid{
		cells: make(map[Point]Color),
		meta: Meta{
			Width:  DefaultWidth,
			Height: DefaultHeight,
			Users:  []string{},
		},
	}
}

// Set stores the color of a cell. Coordinates outside the declared
// dimensions are stored as well; how they render is up to the renderer.
func (g *Grid) Set(x, y int, c Color) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cells[Point{X: x, Y: y}] = c
	g.version++
}

// At returns the color of a cell, or Background if it was never set.
func (g *Grid) At(x, y int) Color {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if c, ok := g.cells[Point{X: x, Y: y}]; ok {
		return c
	}
	return Background
}

// Lookup returns the stored color of a cell and whether one was stored.
func (g *Grid) Lookup(x, y int) (Color, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.cells[Point{X: x, Y: y}]
	return c, ok
}

// SetMeta replaces the session metadata, dimensions included. Cells are
// left untouched.
func (g *Grid) SetMeta(m Meta) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m.Users = slices.Clone(m.Users)
	if m.Users == nil {
		m.Users = []string{}
	}
	g.meta = m
	g.version++
}

// Meta returns a copy of the session metadata.
func (g *Grid) Meta() Meta {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m := g.meta
	m.Users = slices.Clone(m.Users)
	return m
}

// Dimensions returns the declared width and height.
func (g *Grid) Dimensions() (width, height int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.meta.Width, g.meta.Height
}

// InBounds reports whether (x, y) lies inside the declared dimensions.
func (g *Grid) InBounds(x, y int) bool {
	w, h := g.Dimensions()
	return x >= 0 && y >= 0 && x < w && y < h
}

// Cells returns a copy of every stored cell.
func (g *Grid) Cells() map[Point]Color {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[Point]Color, len(g.cells))
	for p, c := range g.cells {
		out[p] = c
	}
	return out
}

// Len returns the number of stored cells.
func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cells)
}

// Version increases on every mutation.
func (g *Grid) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// Reset forgets every cell and restores the default metadata.
func (g *Grid) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cells = make(map[Point]Color)
	g.meta = Meta{Width: DefaultWidth, Height: DefaultHeight, Users: []string{}}
	g.version++
}
