package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"postpilot/internal/app"
	"postpilot/internal/draft"
	"postpilot/internal/eventbus"
	"postpilot/internal/pipeline"
	"postpilot/internal/scheduler"
	logx "postpilot/pkg/logx"
)

var errNoSchedule = errors.WithHint(
	errors.New("schedule needs an interval or a date"),
	"pass --seconds, --minutes, --hours, --days or --at; use `postpilot post` to publish now",
)

type postFlags struct {
	text    string
	vars    []string
	seconds string
	minutes string
	hours   string
	days    string
	at      string
	restore bool
	save    bool
}

// postCmd builds `post` and, with deferred set, `schedule`. Both accept the
// same flags; schedule refuses to publish immediately.
func postCmd(opts *rootOptions, deferred bool) *cobra.Command {
	f := &postFlags{}
	cmd := &cobra.Command{
		Use:   "post [text]",
		Short: "Publish a post now, or on the given interval or date",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(cmd, opts, f, args, deferred)
		},
	}
	if deferred {
		cmd.Use = "schedule [text]"
		cmd.Short = "Arm a post on an interval or date and wait for it"
	}
	fs := cmd.Flags()
	fs.StringVarP(&f.text, "text", "t", "", "post text; \"-\" reads standard input")
	fs.StringArrayVar(&f.vars, "var", nil, "placeholder binding as name=script (repeatable)")
	fs.StringVar(&f.seconds, "seconds", "", "interval seconds (0-59)")
	fs.StringVar(&f.minutes, "minutes", "", "interval minutes (0-59)")
	fs.StringVar(&f.hours, "hours", "", "interval hours (0-23)")
	fs.StringVar(&f.days, "days", "", "interval days (1-365)")
	fs.StringVar(&f.at, "at", "", "one-shot date and time, \"YYYY-MM-DD HH:MM\"")
	fs.BoolVar(&f.restore, "restore", false, "start from the saved draft")
	fs.BoolVar(&f.save, "save", false, "save the result as the draft")
	return cmd
}

func runPost(cmd *cobra.Command, opts *rootOptions, f *postFlags, args []string, deferred bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()

	a, err := opts.open(false)
	if err != nil {
		return err
	}
	defer a.Close()

	d := draft.Draft{}
	if f.restore || f.save {
		st, err := a.RequireStore()
		if err != nil {
			return err
		}
		if f.restore {
			saved, ok, err := draft.Load(ctx, st)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "no saved draft")
			}
			d = saved
		}
	}
	if err := f.apply(cmd, args, &d); err != nil {
		return err
	}
	if f.save {
		st, _ := a.RequireStore()
		if err := draft.Save(ctx, st, d); err != nil {
			return err
		}
	}

	settings, err := d.Settings(a.Location(), nil)
	if err != nil {
		return err
	}
	if deferred && !settings.Deferred() {
		return errNoSchedule
	}
	p, err := a.Pipeline(ctx)
	if err != nil {
		return err
	}
	res, err := p.Dispatch(ctx, d.Submission(), settings, a.Scheduler())
	if err != nil {
		return err
	}
	if !res.Deferred() {
		printPosted(out, res.Outcome.Response.URL, res.Outcome.Record.ID)
		return nil
	}
	return waitJob(ctx, out, a, res.Job)
}

// apply folds args and explicitly set flags into d. Flags left unset keep
// the draft's values.
func (f *postFlags) apply(cmd *cobra.Command, args []string, d *draft.Draft) error {
	text := f.text
	if len(args) == 1 {
		if text != "" {
			return errors.New("give the text either as an argument or with --text")
		}
		text = args[0]
	}
	if text == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return errors.Wrap(err, "read text")
		}
		text = strings.TrimRight(string(b), "\n")
	}
	if text != "" {
		d.Text = text
	}

	fs := cmd.Flags()
	for _, v := range []struct {
		name string
		src  string
		dst  *string
	}{
		{"seconds", f.seconds, &d.Seconds},
		{"minutes", f.minutes, &d.Minutes},
		{"hours", f.hours, &d.Hours},
		{"days", f.days, &d.Days},
		{"at", f.at, &d.At},
	} {
		if fs.Changed(v.name) {
			*v.dst = v.src
		}
	}

	if fs.Changed("var") {
		vars, err := parseVars(f.vars)
		if err != nil {
			return err
		}
		d.Variables = vars
	}
	return nil
}

// parseVars reads name=script pairs. Validation of names and duplicates is
// left to the pipeline.
func parseVars(raw []string) ([]pipeline.VariableSource, error) {
	out := make([]pipeline.VariableSource, 0, len(raw))
	for _, r := range raw {
		name, script, ok := strings.Cut(r, "=")
		if !ok {
			return nil, errors.WithHint(errors.Newf("bad --var %q", r), "use name=path/to/script.py")
		}
		out = append(out, pipeline.VariableSource{
			Name:   strings.TrimSpace(name),
			Script: strings.TrimSpace(script),
		})
	}
	return out, nil
}

// waitJob drives the armed job in the foreground until it ends or the user
// interrupts, printing each post as it happens.
func waitJob(ctx context.Context, out io.Writer, a *app.App, job *scheduler.Job) error {
	fmt.Fprintf(out, "armed job %s: %s\n", job.ID(), job.Settings())
	if at, ok := job.Settings().At(); ok {
		fmt.Fprintf(out, "posting %s (%s)\n", humanize.Time(at), at.Format("2006-01-02 15:04 MST"))
	}

	every, err := a.Config().Scheduler.TickEvery()
	if err != nil {
		return err
	}
	ticker := scheduler.NewCronTicker(every, a.Location(), a.Log().With(logx.String("comp", "ticker")))

	events, unsub := a.Bus().Subscribe(8, eventbus.PostSent, eventbus.PostFailed, eventbus.JobExpired)
	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(out, events)
	}()

	err = a.Scheduler().Run(ctx, ticker)
	// Closing the subscription lets printEvents drain what the last fire
	// published; out is ours again once it returns.
	unsub()
	<-done

	if errors.Is(err, context.Canceled) {
		if serr := a.Scheduler().Stop(); serr == nil {
			fmt.Fprintln(out, "job stopped")
		}
		return nil
	}
	return err
}

// printEvents writes one line per job event until events is closed.
func printEvents(out io.Writer, events <-chan eventbus.Event) {
	for ev := range events {
		switch ev.Type {
		case eventbus.PostSent:
			if pe, ok := ev.Data.(pipeline.PostEvent); ok {
				printPosted(out, pe.URL, pe.RecordID)
			}
		case eventbus.PostFailed:
			if pe, ok := ev.Data.(pipeline.PostEvent); ok {
				fmt.Fprintln(out, "post failed:", pe.Err)
			}
		case eventbus.JobExpired:
			fmt.Fprintln(out, "job expired before it could fire")
		}
	}
}

func printPosted(w io.Writer, url, id string) {
	switch {
	case url != "":
		fmt.Fprintln(w, "posted:", url)
	case id != "":
		fmt.Fprintln(w, "posted, record", id)
	default:
		fmt.Fprintln(w, "posted")
	}
}
