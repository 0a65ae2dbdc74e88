package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func lobbyCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lobby",
		Short: "Announce presence in the lobby and print every frame",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := opts.start(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			sub := a.mgr.Subscribe()
			defer sub.Close()

			a.mgr.ConnectLobby(ctx)
			info("In the lobby as %s, Ctrl-C to leave", opts.userID())

			for {
				select {
				case <-ctx.Done():
					a.mgr.Disconnect()
					return nil
				case frame, ok := <-sub.Frames():
					if !ok {
						return nil
					}
					fmt.Fprintf(os.Stdout, "%s %s\n", time.Now().Format("15:04:05"), frame)
				}
			}
		},
	}

	return cmd
}
