package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"postpilot/internal/schedule"
)

// State is the lifecycle state of a Job.
type State int

const (
	StateArmed State = iota
	StateFiring
	// StateFired is terminal: a one-shot job that has fired.
	StateFired
	// StateCancelled is terminal: stopped by the user.
	StateCancelled
	// StateExpired is terminal: a one-shot job whose minute passed without a poll.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateFiring:
		return "firing"
	case StateFired:
		return "fired"
	case StateCancelled:
		return "cancelled"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further fires can happen.
func (s State) Terminal() bool { return s >= StateFired }

// FireFunc is the action a job triggers. Errors are recorded; for interval
// jobs they never stop the job.
type FireFunc func(ctx context.Context) error

type jobIDKey struct{}

// JobIDFrom returns the id of the job whose fire action received ctx.
func JobIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

// ErrNotArmed is returned by Job.Stop when the job already reached a terminal state.
var ErrNotArmed = errors.New("job is not armed")

// Job owns one Settings value and a reference to the fire action.
type Job struct {
	id       string
	settings schedule.Settings
	fire     FireFunc
	loc      *time.Location
	armedAt  time.Time

	mu            sync.Mutex
	state         State
	stopRequested bool
	lastFire      time.Time
	fires         int
	lastErr       error
	done          chan struct{}
}

type JobOption func(*Job)

// WithLocation sets the zone the current time is broken down in. Default: time.Local.
func WithLocation(loc *time.Location) JobOption {
	return func(j *Job) {
		if loc != nil {
			j.loc = loc
		}
	}
}

// WithJobID overrides the generated job id.
func WithJobID(id string) JobOption {
	return func(j *Job) {
		if id != "" {
			j.id = id
		}
	}
}

func NewJob(settings schedule.Settings, fire FireFunc, opts ...JobOption) *Job {
	j := &Job{
		id:       uuid.NewString(),
		settings: settings,
		fire:     fire,
		loc:      time.Local,
		armedAt:  time.Now(),
		state:    StateArmed,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

func (j *Job) ID() string                  { return j.id }
func (j *Job) Settings() schedule.Settings { return j.settings }
func (j *Job) ArmedAt() time.Time          { return j.armedAt }

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Fires returns how many times the fire action ran.
func (j *Job) Fires() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fires
}

// LastErr returns the error of the most recent fire, if any.
func (j *Job) LastErr() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// Due reports whether now satisfies the schedule. It does not look at state.
//
// A one-shot schedule matches on calendar date, hour and minute; seconds are
// ignored. An interval schedule requires every non-zero field to divide the
// matching component of now (day of year, hour, minute, second). A field set
// to 0 never gates. When both kinds are set, only the one-shot is evaluated.
func (j *Job) Due(now time.Time) bool {
	now = now.In(j.loc)
	if at, ok := j.settings.At(); ok {
		at = at.In(j.loc)
		return sameMinute(now, at)
	}
	if !j.settings.IsInterval() {
		return false
	}
	checks := []struct {
		get func() (int, bool)
		cur int
	}{
		{j.settings.Days, now.YearDay()},
		{j.settings.Hours, now.Hour()},
		{j.settings.Minutes, now.Minute()},
		{j.settings.Seconds, now.Second()},
	}
	for _, c := range checks {
		v, set := c.get()
		if !set || v == 0 {
			continue
		}
		if c.cur%v != 0 {
			return false
		}
	}
	return true
}

func sameMinute(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd && a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

// Poll evaluates the job at now and runs the fire action when due.
// The fire action runs without the job lock held, so it may call Stop.
func (j *Job) Poll(ctx context.Context, now time.Time) (fired bool, err error) {
	j.mu.Lock()
	if j.state != StateArmed {
		j.mu.Unlock()
		return false, nil
	}

	_, oneShot := j.settings.At()
	if oneShot && j.expired(now) {
		j.finishLocked(StateExpired)
		j.mu.Unlock()
		return false, nil
	}
	if !j.Due(now) {
		j.mu.Unlock()
		return false, nil
	}
	sec := now.Truncate(time.Second)
	if !oneShot && !j.lastFire.IsZero() && sec.Equal(j.lastFire) {
		// Two polls inside the same wall-clock second fire once.
		j.mu.Unlock()
		return false, nil
	}
	j.state = StateFiring
	j.lastFire = sec
	fire := j.fire
	j.mu.Unlock()

	if fire != nil {
		err = fire(context.WithValue(ctx, jobIDKey{}, j.id))
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.fires++
	j.lastErr = err
	switch {
	case oneShot:
		j.finishLocked(StateFired)
	case j.stopRequested:
		j.finishLocked(StateCancelled)
	default:
		j.state = StateArmed
	}
	return true, err
}

// expired reports whether the one-shot minute is already over.
func (j *Job) expired(now time.Time) bool {
	at, _ := j.settings.At()
	end := at.In(j.loc).Truncate(time.Minute).Add(time.Minute)
	return !now.Before(end)
}

// Stop cancels an armed job. A job that is firing is cancelled as soon as the
// running fire returns.
func (j *Job) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.state {
	case StateArmed:
		j.finishLocked(StateCancelled)
		return nil
	case StateFiring:
		j.stopRequested = true
		return nil
	default:
		return errors.Wrapf(ErrNotArmed, "job %s is %s", j.id, j.state)
	}
}

func (j *Job) finishLocked(s State) {
	j.state = s
	select {
	case <-j.done:
	default:
		close(j.done)
	}
}
