package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"postpilot/internal/app"
	"postpilot/internal/tui"
	logx "postpilot/pkg/logx"
)

func runCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the job from the config file until it finishes",
		Long: `Run arms the job section of the config file and drives it.

Without --watch the process exits when the job is done: right after an
immediate post, after a one-shot fires, or when an interval job stops.
With --watch it keeps running, reloads the config file when it changes
and re-arms the job. It notifies systemd when started under a unit with
Type=notify.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx, app.RunOptions{Watch: watch})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and reload the config file on change")
	return cmd
}

func composeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compose",
		Short: "Open the interactive compose screen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// The screen owns the terminal, so logs go to the file sink only.
			a, err := opts.open(true)
			if err != nil {
				return err
			}
			defer a.Close()
			p, err := a.Pipeline(ctx)
			if err != nil {
				return err
			}
			return tui.Run(tui.Deps{
				Ctx:        ctx,
				Dispatcher: p,
				Scheduler:  a.Scheduler(),
				Store:      a.Store(),
				Bus:        a.Bus(),
				Location:   a.Location(),
				Log:        a.Log().With(logx.String("comp", "tui")),
			})
		},
	}
}
