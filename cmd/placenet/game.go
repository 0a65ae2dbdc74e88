package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/placenet"
	"github.com/luciancaetano/placenet/internal/canvas"
	"github.com/luciancaetano/placenet/internal/engine"
	"github.com/luciancaetano/placenet/internal/protocol"
)

func watchCmd(opts *globalOptions) *cobra.Command {
	var noClear bool

	cmd := &cobra.Command{
		Use:   "watch <session>",
		Short: "Render a session's board as it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := opts.start(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return runGame(cmd.Context(), a, opts.session(args[0]), nil, os.Stdout, !noClear)
		},
	}

	cmd.Flags().BoolVar(&noClear, "no-clear", false, "Append frames instead of redrawing the screen")

	return cmd
}

func playCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <session>",
		Short: "Join a session's board and paint from the keyboard",
		Long: `Connect to a session, render its board and read paint
commands from standard input.

Commands:
  x y [color]   paint cell (x,y) with color or the chosen one
  color <c>     choose a color: palette index 1-5 or #RRGGBB
  q             leave the session`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := opts.start(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return runGame(cmd.Context(), a, opts.session(args[0]), os.Stdin, os.Stdout, true)
		},
	}

	return cmd
}

// runGame connects to a session and keeps the board rendered until ctx is
// done or, when in is set, the player quits.
func runGame(ctx context.Context, a *app, sess placenet.Session, in io.Reader, out io.Writer, clear bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grid := canvas.NewGrid()
	scr := newScreen(grid, in != nil, clear)
	eng := engine.New(engine.Config{
		Grid:    grid,
		Sender:  a.mgr,
		Logger:  a.logger,
		Metrics: a.mgr.Metrics(),
		OnApply: func(o engine.Outcome) {
			if o != engine.Ignored {
				scr.render(out)
			}
		},
		OnPixel: scr.pixel,
		OnError: scr.fail,
	})

	sub := a.mgr.Subscribe()
	defer sub.Close()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, sub) }()

	a.logger.Info("joining session", "session", sess.ID, "host", sess.HostPort, "user", sess.UserID)
	a.mgr.ConnectGame(ctx, sess.ID)
	scr.render(out)

	if in != nil {
		go func() {
			readCommands(in, eng, scr, out)
			cancel()
		}()
	}

	<-ctx.Done()
	a.mgr.Disconnect()
	<-done
	return nil
}

// readCommands applies play input line by line until EOF or quit.
func readCommands(in io.Reader, eng *engine.Engine, scr *screen, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd, err := parseCommand(scanner.Text(), scr.color())
		switch {
		case err != nil:
			scr.setError(err.Error())
		case cmd.quit:
			return
		case cmd.choose:
			scr.choose(cmd.color)
		case cmd.paint:
			if err := eng.Paint(cmd.x, cmd.y, cmd.color); err != nil {
				scr.setError(err.Error())
			}
		}
		scr.render(out)
	}
}

func paintCmd(opts *globalOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "paint <session> <x> <y> <color>",
		Short: "Paint a single cell and wait for the server to confirm it",
		Long: `Paint a single cell. Color is a palette index 1-5 or #RRGGBB.

Examples:
  placenet paint my-room 2 3 1
  placenet paint my-room 0 0 '#00FF00'`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cell, err := parseCommand(args[1]+" "+args[2]+" "+args[3], canvas.Palette[0])
			if err != nil {
				return err
			}
			if !cell.paint {
				return fmt.Errorf("usage: %s", cmd.Use)
			}

			a, cleanup, err := opts.start(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := paintOnce(cmd.Context(), a, opts.session(args[0]), cell.x, cell.y, cell.color, timeout); err != nil {
				return err
			}
			success("Painted (%d,%d) %s in %s", cell.x, cell.y, cell.color.Hex(), args[0])
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the server echo")

	return cmd
}

var errNoEcho = errors.New("server did not confirm the pixel")

// paintOnce connects, sends one pixel and waits until the server echoes it.
// Error envelopes of other connections are ignored.
func paintOnce(ctx context.Context, a *app, sess placenet.Session, x, y int, c canvas.Color, timeout time.Duration) error {
	sub := a.mgr.Subscribe()
	defer sub.Close()

	where := sess.Target().Label()
	a.mgr.ConnectGame(ctx, sess.ID)
	defer a.mgr.Disconnect()

	if a.mgr.State() != placenet.StateConnected {
		return connectFailure(sub)
	}

	hex := c.Opaque().Hex()
	if err := a.mgr.SendPixel(x, y, hex); err != nil {
		return err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errNoEcho
		case frame, ok := <-sub.Frames():
			if !ok {
				return errNoEcho
			}
			if px, ok := protocol.DecodePixel(frame); ok && px.X == x && px.Y == y && px.Color == hex {
				return nil
			}
			if e, ok := protocol.DecodeError(frame); ok && e.Where == where {
				return fmt.Errorf("%s: %s", e.Where, e.Err)
			}
		}
	}
}

// connectFailure extracts the synthesized error of a failed connect.
func connectFailure(sub placenet.Subscription) error {
	for {
		select {
		case frame := <-sub.Frames():
			if e, ok := protocol.DecodeError(frame); ok {
				return fmt.Errorf("%s: %s", e.Where, e.Err)
			}
		default:
			return placenet.ErrNotConnected
		}
	}
}
