package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"postpilot/internal/app"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// rootOptions carries the persistent flags to every subcommand.
type rootOptions struct {
	configPath string
	envPath    string
	level      string
}

func (o *rootOptions) open(quiet bool) (*app.App, error) {
	return app.New(app.Options{
		ConfigPath: o.configPath,
		EnvPath:    o.envPath,
		Level:      o.level,
		Quiet:      quiet,
	})
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "postpilot",
		Short: "Compose, schedule and publish posts with script-filled placeholders",
		Long: `postpilot publishes short text posts to X/Twitter, Bluesky or a Telegram channel.

Post text may contain {name} placeholders. Each placeholder is filled by
running a script whose output becomes the value. A post goes out right away,
repeatedly on an interval, or once at a date and time.

Examples:
  postpilot post "hello"                               # post now
  postpilot post "BTC is {price}" --var price=btc.py   # fill {price} from btc.py
  postpilot schedule "tick" --minutes 30               # every 30 minutes
  postpilot schedule "launch" --at "2030-01-01 09:00"  # once
  postpilot run --watch                                # daemon for the configured job
  postpilot compose                                    # interactive editor`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, args []string) error { return cmd.Help() },
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default "+app.DefaultConfigPath+" when present)")
	root.PersistentFlags().StringVar(&opts.envPath, "env", "", "credentials .env file (default .env)")
	root.PersistentFlags().StringVar(&opts.level, "log-level", "", "override logging.level")

	root.AddCommand(postCmd(opts, false))
	root.AddCommand(postCmd(opts, true))
	root.AddCommand(runCmd(opts))
	root.AddCommand(composeCmd(opts))
	root.AddCommand(loginCmd(opts))
	root.AddCommand(scriptCmd())
	root.AddCommand(historyCmd(opts))
	return root
}

// printError writes err and its hints, one per line.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, "error:", err)
	if hints := errors.FlattenHints(err); hints != "" {
		for _, h := range strings.Split(hints, "\n") {
			if strings.TrimSpace(h) != "" {
				fmt.Fprintln(w, "hint:", h)
			}
		}
	}
}
