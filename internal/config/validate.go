package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"postpilot/internal/schedule"
	logx "postpilot/pkg/logx"
)

var ErrInvalid = errors.New("invalid config")

func invalidf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalid)
}

// Validate checks everything that can be checked without credentials or
// network access. It is also the hot-reload validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return invalidf("config is empty")
	}
	switch cfg.Transport.NormalizedKind() {
	case KindTwitter, KindBluesky, KindTelegram:
	default:
		return errors.WithHint(
			invalidf("transport.kind: unknown transport %q", cfg.Transport.Kind),
			"use twitter, bluesky or telegram",
		)
	}
	if cfg.Transport.RatePerMin < 0 {
		return invalidf("transport.rate_per_min must be >= 0")
	}
	if cfg.Transport.NormalizedKind() == KindBluesky && strings.TrimSpace(cfg.Transport.Bluesky.Handle) == "" {
		return invalidf("transport.bluesky.handle is required")
	}
	if cfg.Transport.NormalizedKind() == KindTelegram && cfg.Transport.Telegram.ChatID == 0 {
		return invalidf("transport.telegram.chat_id is required")
	}

	durations := []struct{ path, raw string }{
		{"transport.timeout", cfg.Transport.Timeout},
		{"scheduler.tick", cfg.Scheduler.Tick},
		{"scripts.timeout", cfg.Scripts.Timeout},
		{"post.dedup_window", cfg.Post.DedupWindow},
	}
	if cfg.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return errors.Mark(err, ErrInvalid)
		}
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "memory":
		case "file", "sqlite", "bolt":
			if strings.TrimSpace(cfg.Storage.Path) == "" {
				return invalidf("storage.path is required for driver %q", cfg.Storage.Driver)
			}
		default:
			return invalidf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
	}
	if cfg.Job != nil {
		// The date-time is checked against the clock at arm time, not here,
		// so only the interval fields and the date format are verified.
		if _, err := cfg.Job.settings(loc, nil, false); err != nil {
			return errors.Wrap(err, "job")
		}
	}
	return nil
}

// TickEvery returns the poll period, defaulting to one second.
func (s SchedulerConfig) TickEvery() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.tick", s.Tick, time.Second)
}

// Location loads the scheduler timezone; empty means the local zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "scheduler.timezone %q", tz), ErrInvalid)
	}
	return loc, nil
}

// Settings validates the job's schedule fields against now.
func (j JobConfig) Settings(loc *time.Location, now func() time.Time) (schedule.Settings, error) {
	return j.settings(loc, now, true)
}

func (j JobConfig) settings(loc *time.Location, now func() time.Time, checkPast bool) (schedule.Settings, error) {
	var opts []schedule.Option
	if now != nil {
		opts = append(opts, schedule.WithClock(now))
	}
	s := schedule.New(opts...)
	if iv := j.Interval; iv != nil {
		steps := []struct {
			add func(int) error
			v   *int
		}{
			{s.AddSeconds, iv.Seconds},
			{s.AddMinutes, iv.Minutes},
			{s.AddHours, iv.Hours},
			{s.AddDays, iv.Days},
		}
		for _, st := range steps {
			if st.v == nil {
				continue
			}
			if err := st.add(*st.v); err != nil {
				return schedule.Settings{}, err
			}
		}
	}
	if strings.TrimSpace(j.At) != "" {
		if checkPast {
			if err := s.AddDateTimeText(j.At, loc); err != nil {
				return schedule.Settings{}, err
			}
		} else if _, err := schedule.ParseDateTime(j.At, loc); err != nil {
			return schedule.Settings{}, err
		}
	}
	return *s, nil
}

// LogConfig converts the logging section for logx.Service.
func (l LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Remote: logx.RemoteConfig{
			Enabled:    l.Remote.Enabled,
			MinLevel:   l.Remote.MinLevel,
			RatePerSec: l.Remote.RatePerSec,
		},
	}
}
