package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	logx "postpilot/pkg/logx"
)

// Ticker calls fn once per tick until stopped.
type Ticker interface {
	Start(fn func(now time.Time)) error
	Stop()
}

// DefaultTick is the poll cadence.
const DefaultTick = time.Second

// CronTicker ticks on wall-clock boundaries using robfig/cron. A tick that is
// still running (a slow post) makes the next one skip instead of overlapping.
type CronTicker struct {
	every time.Duration
	loc   *time.Location
	log   logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func NewCronTicker(every time.Duration, loc *time.Location, log logx.Logger) *CronTicker {
	if every <= 0 {
		every = DefaultTick
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CronTicker{every: every, loc: loc, log: log}
}

// spec returns a seconds-aware cron spec for the tick cadence.
func (t *CronTicker) spec() string {
	if t.every == time.Second {
		return "* * * * * *"
	}
	return fmt.Sprintf("@every %s", t.every)
}

func (t *CronTicker) Start(fn func(now time.Time)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return errors.New("ticker already started")
	}
	cl := cronLogger{log: t.log}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(t.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	loc := t.loc
	if _, err := c.AddFunc(t.spec(), func() { fn(time.Now().In(loc)) }); err != nil {
		return errors.Wrapf(err, "register tick %q", t.spec())
	}
	c.Start()
	t.c = c
	t.log.Debug("ticker started", logx.String("spec", t.spec()), logx.String("tz", loc.String()))
	return nil
}

func (t *CronTicker) Stop() {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	t.log.Debug("ticker stopped")
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
