package main

import (
	"os"

	"github.com/spf13/cobra"
)

func createCmd(opts *globalOptions) *cobra.Command {
	var noPlay bool

	cmd := &cobra.Command{
		Use:   "create <session>",
		Short: "Create a session and start playing in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := opts.start(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			name := args[0]
			if err := opts.apiClient(a.logger).CreateSession(ctx, name, opts.userID()); err != nil {
				errorMsg("Failed to create session")
				return err
			}
			success("Created session %s as %s", name, opts.userID())

			if noPlay {
				return nil
			}
			return runGame(ctx, a, opts.session(name), os.Stdin, os.Stdout, true)
		},
	}

	cmd.Flags().BoolVar(&noPlay, "no-play", false, "Only create the session")

	return cmd
}

func joinCmd(opts *globalOptions) *cobra.Command {
	var noPlay bool

	cmd := &cobra.Command{
		Use:   "join <session>",
		Short: "Join an existing session and start playing in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := opts.start(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			name := args[0]
			if err := opts.apiClient(a.logger).JoinSession(ctx, name, opts.userID()); err != nil {
				errorMsg("Failed to join session")
				return err
			}
			success("Joined session %s as %s", name, opts.userID())

			if noPlay {
				return nil
			}
			return runGame(ctx, a, opts.session(name), os.Stdin, os.Stdout, true)
		},
	}

	cmd.Flags().BoolVar(&noPlay, "no-play", false, "Only join the session")

	return cmd
}
