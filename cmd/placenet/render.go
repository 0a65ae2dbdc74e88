package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/luciancaetano/placenet/internal/canvas"
	"github.com/luciancaetano/placenet/internal/protocol"
)

const (
	ansiReset = "\033[0m"
	ansiClear = "\033[H\033[2J"
)

// screen is the terminal view of one game session.
type screen struct {
	grid        *canvas.Grid
	interactive bool
	clear       bool

	mu        sync.Mutex
	chosen    canvas.Color
	lastPixel string
	lastError string
}

func newScreen(grid *canvas.Grid, interactive, clear bool) *screen {
	return &screen{
		grid:        grid,
		interactive: interactive,
		clear:       clear,
		chosen:      canvas.Palette[0],
	}
}

func (s *screen) choose(c canvas.Color) {
	s.mu.Lock()
	s.chosen = c
	s.mu.Unlock()
}

func (s *screen) color() canvas.Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chosen
}

func (s *screen) pixel(px protocol.ColorPixel) {
	who := px.User
	if who == "" {
		who = "?"
	}
	s.mu.Lock()
	s.lastPixel = fmt.Sprintf("%s painted (%d,%d) %s", who, px.X, px.Y, px.Color)
	s.mu.Unlock()
}

func (s *screen) fail(e protocol.Error) {
	s.mu.Lock()
	s.lastError = e.Where + ": " + e.Err
	s.mu.Unlock()
}

func (s *screen) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

// render draws the board and status lines. Cells outside the declared
// dimensions are not drawn.
func (s *screen) render(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	if s.clear {
		b.WriteString(ansiClear)
	}

	meta := s.grid.Meta()
	fmt.Fprintf(&b, "session %q  started=%v  players=%s\n", meta.SessionID, meta.Started, strings.Join(meta.Users, ","))

	b.WriteString("   ")
	for x := 0; x < meta.Width; x++ {
		fmt.Fprintf(&b, "%-2d", x%100)
	}
	b.WriteByte('\n')
	for y := 0; y < meta.Height; y++ {
		fmt.Fprintf(&b, "%2d ", y%100)
		for x := 0; x < meta.Width; x++ {
			b.WriteString(swatch(s.grid.At(x, y)))
		}
		b.WriteByte('\n')
	}

	if s.interactive {
		fmt.Fprintf(&b, "color %s %s   palette:", swatch(s.chosen), s.chosen.Hex())
		for i, c := range canvas.Palette {
			fmt.Fprintf(&b, " %d%s", i+1, swatch(c))
		}
		b.WriteByte('\n')
	}
	if s.lastPixel != "" {
		fmt.Fprintf(&b, "last: %s\n", s.lastPixel)
	}
	if s.lastError != "" {
		fmt.Fprintf(&b, "\033[31merror: %s%s\n", s.lastError, ansiReset)
	}
	if s.interactive {
		b.WriteString("> x y [color] | color <c> | q\n")
	}

	io.WriteString(w, b.String())
}

// swatch renders one cell as two spaces on a 24-bit background.
func swatch(c canvas.Color) string {
	return fmt.Sprintf("\033[48;2;%d;%d;%dm  %s", c.R, c.G, c.B, ansiReset)
}

// parseColor accepts a 1-based palette index or a hex color.
func parseColor(arg string) (canvas.Color, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(canvas.Palette) {
			return canvas.Color{}, fmt.Errorf("palette index %d out of range 1-%d", n, len(canvas.Palette))
		}
		return canvas.Palette[n-1], nil
	}
	if !strings.HasPrefix(arg, "#") {
		arg = "#" + arg
	}
	c, ok := canvas.ParseHex(arg)
	if !ok {
		return canvas.Color{}, fmt.Errorf("invalid color %q", arg)
	}
	return c, nil
}

// command is one parsed line of play input.
type command struct {
	quit   bool
	paint  bool
	x, y   int
	color  canvas.Color
	choose bool
}

func parseCommand(line string, current canvas.Color) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}

	switch fields[0] {
	case "q", "quit", "exit":
		return command{quit: true}, nil
	case "color", "c":
		if len(fields) != 2 {
			return command{}, fmt.Errorf("usage: color <index|#RRGGBB>")
		}
		c, err := parseColor(fields[1])
		if err != nil {
			return command{}, err
		}
		return command{choose: true, color: c}, nil
	}

	if len(fields) < 2 || len(fields) > 3 {
		return command{}, fmt.Errorf("usage: x y [color]")
	}
	x, errX := strconv.Atoi(fields[0])
	y, errY := strconv.Atoi(fields[1])
	if errX != nil || errY != nil || x < 0 || y < 0 {
		return command{}, fmt.Errorf("coordinates must be non-negative integers")
	}

	cmd := command{paint: true, x: x, y: y, color: current}
	if len(fields) == 3 {
		c, err := parseColor(fields[2])
		if err != nil {
			return command{}, err
		}
		cmd.color = c
	}
	return cmd, nil
}
