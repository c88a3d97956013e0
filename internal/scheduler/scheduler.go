// Package scheduler decides when a queued post fires.
//
// A Scheduler holds at most one armed Job. A host loop calls Poll once per
// tick (every second by default): the bubbletea compose screen does it from its
// own event loop, the CLI and daemon use CronTicker. Arming a new job replaces
// the previous one.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"postpilot/internal/eventbus"
	"postpilot/internal/schedule"
	logx "postpilot/pkg/logx"
)

// ErrNotStarted is returned by Stop when no job is armed. Callers show it as a notice.
var ErrNotStarted = errors.WithHint(errors.New("scheduler not started"), "arm a job with an interval or a date and time first")

// ErrNothingToSchedule is returned by Arm for settings without interval or date-time.
var ErrNothingToSchedule = errors.New("settings hold neither an interval nor a date-time")

// JobEvent is the payload of job.* events.
type JobEvent struct {
	JobID    string `json:"job_id"`
	Schedule string `json:"schedule"`
	State    string `json:"state"`
	Fires    int    `json:"fires"`
	Err      string `json:"err,omitempty"`
}

type Scheduler struct {
	log logx.Logger
	bus eventbus.Bus
	loc *time.Location

	mu  sync.Mutex
	job *Job
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(s *Scheduler) { s.bus = bus } }

// WithTimezone sets the zone jobs evaluate the current time in.
func WithTimezone(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{loc: time.Local}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.bus == nil {
		s.bus = eventbus.Nop{}
	}
	return s
}

func (s *Scheduler) Location() *time.Location { return s.loc }

// Arm creates a job for settings and makes it the active one. Any previously
// armed job is cancelled.
func (s *Scheduler) Arm(settings schedule.Settings, fire FireFunc) (*Job, error) {
	if !settings.Deferred() {
		return nil, ErrNothingToSchedule
	}
	job := NewJob(settings, fire, WithLocation(s.loc))

	s.mu.Lock()
	prev := s.job
	s.job = job
	s.mu.Unlock()

	if prev != nil && prev.Stop() == nil {
		s.log.Info("previous job replaced", logx.String("job", prev.ID()))
		s.publish(eventbus.JobCancelled, prev, nil)
	}
	s.log.Info("job armed", logx.String("job", job.ID()), logx.String("schedule", settings.String()))
	s.publish(eventbus.JobArmed, job, nil)
	return job, nil
}

// Active returns the armed job, or nil.
func (s *Scheduler) Active() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// Poll runs one tick against the active job.
func (s *Scheduler) Poll(ctx context.Context, now time.Time) {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()
	if job == nil {
		return
	}

	fired, err := job.Poll(ctx, now)
	if fired {
		if err != nil {
			s.log.Warn("job fire failed", logx.String("job", job.ID()), logx.Err(err))
		} else {
			s.log.Info("job fired", logx.String("job", job.ID()), logx.Int("fires", job.Fires()))
		}
		s.publish(eventbus.JobFired, job, err)
	}

	st := job.State()
	if !st.Terminal() || !s.release(job) {
		return
	}
	switch st {
	case StateExpired:
		s.log.Warn("one-shot job expired without firing", logx.String("job", job.ID()), logx.String("schedule", job.Settings().String()))
		s.publish(eventbus.JobExpired, job, nil)
	case StateCancelled:
		s.publish(eventbus.JobCancelled, job, nil)
	}
}

// Stop cancels the active job. Without one it returns ErrNotStarted.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()
	if job == nil {
		s.log.Info("stop requested but no job is armed")
		return ErrNotStarted
	}
	if err := job.Stop(); err != nil {
		s.release(job)
		s.log.Info("stop requested but job is not armed", logx.String("job", job.ID()), logx.String("state", job.State().String()))
		return errors.WithSecondaryError(ErrNotStarted, err)
	}
	if job.State() == StateCancelled && s.release(job) {
		s.publish(eventbus.JobCancelled, job, nil)
	}
	s.log.Info("job stopped", logx.String("job", job.ID()))
	return nil
}

// Run drives Poll from ticker until ctx ends or the active job terminates.
func (s *Scheduler) Run(ctx context.Context, ticker Ticker) error {
	job := s.Active()
	if job == nil {
		return ErrNotStarted
	}
	if err := ticker.Start(func(now time.Time) { s.Poll(ctx, now) }); err != nil {
		return errors.Wrap(err, "start ticker")
	}
	defer ticker.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-job.Done():
		return nil
	}
}

// release drops job if it is still the active one and reports whether it was.
func (s *Scheduler) release(job *Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job != job {
		return false
	}
	s.job = nil
	return true
}

func (s *Scheduler) publish(topic string, job *Job, err error) {
	ev := JobEvent{
		JobID:    job.ID(),
		Schedule: job.Settings().String(),
		State:    job.State().String(),
		Fires:    job.Fires(),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: topic, Data: ev})
}
