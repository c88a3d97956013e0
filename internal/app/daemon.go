package app

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"postpilot/internal/config"
	"postpilot/internal/eventbus"
	"postpilot/internal/scheduler"
	"postpilot/internal/supervisor"
	logx "postpilot/pkg/logx"
	"postpilot/pkg/systemd"
)

// StopReason is logged when the daemon exits.
type StopReason string

const (
	StopSignal    StopReason = "signal"
	StopJobDone   StopReason = "job_done"
	StopFatal     StopReason = "fatal_error"
	StopPostedNow StopReason = "posted_immediately"
)

type RunOptions struct {
	// Watch reloads the config file on change and keeps running after the
	// job finishes, waiting for a new one.
	Watch bool
	// Ticker overrides the cron ticker. Tests use it.
	Ticker scheduler.Ticker
}

// Run arms the configured job and drives it until ctx ends or, without
// Watch, until the job terminates.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	defer sup.Cancel()
	runCtx := sup.Context()

	d, err := a.DispatchJob(runCtx, a.cfg.Job)
	if err != nil {
		return err
	}
	if !d.Deferred() && !opts.Watch {
		a.log.Info("stopping", logx.String("reason", string(StopPostedNow)))
		return nil
	}

	a.logEvents(sup)

	rearmed := make(chan struct{}, 1)
	if opts.Watch {
		sup.Go("config.watch", a.cfgm.Watch)
		sub := a.cfgm.Subscribe(4)
		sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.applyReloads(c, sub, rearmed)
			return nil
		})
	}

	ticker := opts.Ticker
	if ticker == nil {
		every, err := a.cfg.Scheduler.TickEvery()
		if err != nil {
			return err
		}
		ticker = scheduler.NewCronTicker(every, a.loc, a.log.With(logx.String("comp", "ticker")))
	}
	if err := ticker.Start(func(now time.Time) { a.sched.Poll(runCtx, now) }); err != nil {
		sup.Cancel()
		return errors.Wrap(err, "start ticker")
	}

	sd := systemd.NewNotifier(a.log.With(logx.String("comp", "systemd")))
	sd.Ready()
	if job := a.sched.Active(); job != nil {
		sd.Status("job " + job.Settings().String())
	}
	if sd.WatchdogInterval() > 0 {
		sup.Go("systemd.watchdog", sd.RunWatchdog)
	}
	a.log.Info("daemon started", logx.Bool("watch", opts.Watch))

	reason := a.wait(sup, opts.Watch, rearmed)

	sd.Stopping()
	a.log.Info("stopping", logx.String("reason", string(reason)))
	ticker.Stop()
	if err := a.sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotStarted) {
		a.log.Warn("stop job", logx.Err(err))
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// wait blocks until the daemon should stop and says why.
func (a *App) wait(sup *supervisor.Supervisor, watch bool, rearmed <-chan struct{}) StopReason {
	for {
		var done <-chan struct{}
		if job := a.sched.Active(); job != nil && !job.State().Terminal() {
			done = job.Done()
		} else if !watch {
			return StopJobDone
		}
		select {
		case <-sup.Context().Done():
			if sup.Err() != nil {
				return StopFatal
			}
			return StopSignal
		case <-done:
			if !watch {
				return StopJobDone
			}
			a.log.Info("job finished; waiting for a config change")
		case <-rearmed:
		}
	}
}

// applyReloads re-applies logging and re-arms the job when the config file
// changes. Other sections need a restart.
func (a *App) applyReloads(ctx context.Context, sub <-chan *config.Config, rearmed chan<- struct{}) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			sections, attrs := config.SummarizeChange(last, next)
			if len(sections) == 0 {
				continue
			}
			a.log.Info("config change", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
			last = next
			for _, s := range sections {
				switch s {
				case config.SectionLogging:
					a.logs.Apply(logConfig(next, Options{}))
				case config.SectionJob:
					a.rearm(ctx, next.Job)
					select {
					case rearmed <- struct{}{}:
					default:
					}
				default:
					a.log.Warn("section changed; restart required for it to take effect", logx.String("section", s))
				}
			}
		}
	}
}

func (a *App) rearm(ctx context.Context, jc *config.JobConfig) {
	if jc == nil {
		if err := a.sched.Stop(); err == nil {
			a.log.Info("job removed from config; stopped")
		}
		return
	}
	d, err := a.DispatchJob(ctx, jc)
	if err != nil {
		a.log.Warn("job not re-armed", logx.Err(err))
		return
	}
	if !d.Deferred() {
		a.log.Info("job posted immediately after reload", logx.String("url", d.Outcome.Record.URL))
	}
}

// logEvents mirrors job and post events into the log.
func (a *App) logEvents(sup *supervisor.Supervisor) {
	events, unsub := a.bus.Subscribe(64)
	sup.Go("events.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				fields := []logx.Field{logx.String("type", e.Type)}
				if jev, ok := e.Data.(scheduler.JobEvent); ok {
					fields = append(fields, logx.String("job", jev.JobID), logx.String("state", jev.State))
				}
				switch e.Type {
				case eventbus.JobExpired, eventbus.PostFailed:
					a.log.Info("event", fields...)
				default:
					a.log.Debug("event", fields...)
				}
			}
		}
	})
}
