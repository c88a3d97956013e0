// Package schedule holds the validated schedule a post submission is armed with:
// either a recurring interval (seconds/minutes/hours/days, all of which must
// divide the current time component) or a one-shot date and time.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Field identifies one schedule input.
type Field string

const (
	FieldSeconds  Field = "seconds"
	FieldMinutes  Field = "minutes"
	FieldHours    Field = "hours"
	FieldDays     Field = "days"
	FieldDateTime Field = "date_time"
)

type bound struct{ min, max int }

var bounds = map[Field]bound{
	FieldSeconds: {0, 59},
	FieldMinutes: {0, 59},
	FieldHours:   {0, 23},
	FieldDays:    {1, 365},
}

// Bounds returns the inclusive range accepted for an interval field.
func Bounds(f Field) (lo, hi int, ok bool) {
	b, ok := bounds[f]
	return b.min, b.max, ok
}

// BoundsHint formats Bounds as "lo-hi", or "" for fields without bounds.
func BoundsHint(f Field) string {
	lo, hi, ok := Bounds(f)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

// DateTimeLayout is the textual form accepted by ParseDateTime and AddDateTimeText.
const DateTimeLayout = "2006-01-02 15:04"

// ErrInvalidSetting matches every InvalidSettingError via errors.Is.
var ErrInvalidSetting = errors.New("invalid schedule setting")

// InvalidSettingError reports a rejected schedule value.
type InvalidSettingError struct {
	Field Field
	Range string
	Value string
}

func (e *InvalidSettingError) Error() string {
	return fmt.Sprintf("invalid %s %q: must be %s", e.Field, e.Value, e.Range)
}

func (e *InvalidSettingError) Is(target error) bool { return target == ErrInvalidSetting }

type slot struct {
	v   int
	set bool
}

// Settings is built fresh per submission. Copies are independent, so a value
// handed to the scheduler cannot be changed by later setter calls.
type Settings struct {
	seconds slot
	minutes slot
	hours   slot
	days    slot

	at    time.Time
	hasAt bool

	now func() time.Time
}

type Option func(*Settings)

// WithClock overrides the clock used to reject past date-times.
func WithClock(now func() time.Time) Option {
	return func(s *Settings) { s.now = now }
}

func New(opts ...Option) *Settings {
	s := &Settings{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Settings) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *Settings) AddSeconds(v int) error { return s.addInterval(FieldSeconds, &s.seconds, v) }
func (s *Settings) AddMinutes(v int) error { return s.addInterval(FieldMinutes, &s.minutes, v) }
func (s *Settings) AddHours(v int) error   { return s.addInterval(FieldHours, &s.hours, v) }
func (s *Settings) AddDays(v int) error    { return s.addInterval(FieldDays, &s.days, v) }

// AddSecondsText parses raw form input. Blank input leaves the field unset;
// anything that is not an integer is an InvalidSettingError.
func (s *Settings) AddSecondsText(raw string) error {
	return s.addIntervalText(FieldSeconds, &s.seconds, raw)
}
func (s *Settings) AddMinutesText(raw string) error {
	return s.addIntervalText(FieldMinutes, &s.minutes, raw)
}
func (s *Settings) AddHoursText(raw string) error {
	return s.addIntervalText(FieldHours, &s.hours, raw)
}
func (s *Settings) AddDaysText(raw string) error {
	return s.addIntervalText(FieldDays, &s.days, raw)
}

func (s *Settings) addIntervalText(f Field, dst *slot, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return &InvalidSettingError{Field: f, Range: rangeText(f), Value: raw}
	}
	return s.addInterval(f, dst, v)
}

func (s *Settings) addInterval(f Field, dst *slot, v int) error {
	b := bounds[f]
	if v < b.min || v > b.max {
		return &InvalidSettingError{Field: f, Range: rangeText(f), Value: strconv.Itoa(v)}
	}
	*dst = slot{v: v, set: true}
	return nil
}

func rangeText(f Field) string {
	b := bounds[f]
	return fmt.Sprintf("an integer between %d and %d", b.min, b.max)
}

// AddDateTime sets the one-shot instant. It must be strictly after the
// settings clock at the time of the call.
func (s *Settings) AddDateTime(at time.Time) error {
	if at.IsZero() || !at.After(s.clock()) {
		return &InvalidSettingError{Field: FieldDateTime, Range: "a date and time in the future", Value: formatInstant(at)}
	}
	s.at = at
	s.hasAt = true
	return nil
}

// AddDateTimeText parses raw ("YYYY-MM-DD HH:MM") in loc and sets it.
// Blank input leaves the schedule unset.
func (s *Settings) AddDateTimeText(raw string, loc *time.Location) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	at, err := ParseDateTime(raw, loc)
	if err != nil {
		return err
	}
	return s.AddDateTime(at)
}

// ParseDateTime accepts DateTimeLayout and RFC 3339.
func ParseDateTime(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	raw = strings.TrimSpace(raw)
	if t, err := time.ParseInLocation(DateTimeLayout, raw, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, &InvalidSettingError{Field: FieldDateTime, Range: "formatted as YYYY-MM-DD HH:MM", Value: raw}
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateTimeLayout)
}

// IsInterval reports whether any interval field was set (zero included).
func (s Settings) IsInterval() bool {
	return s.seconds.set || s.minutes.set || s.hours.set || s.days.set
}

// IsScheduled reports whether a one-shot date-time was set.
func (s Settings) IsScheduled() bool { return s.hasAt }

// Deferred reports whether a submission with these settings is armed rather than posted.
func (s Settings) Deferred() bool { return s.IsInterval() || s.IsScheduled() }

func (s Settings) Seconds() (int, bool) { return s.seconds.v, s.seconds.set }
func (s Settings) Minutes() (int, bool) { return s.minutes.v, s.minutes.set }
func (s Settings) Hours() (int, bool)   { return s.hours.v, s.hours.set }
func (s Settings) Days() (int, bool)    { return s.days.v, s.days.set }

// At returns the one-shot instant.
func (s Settings) At() (time.Time, bool) { return s.at, s.hasAt }

// Interval is a plain view of the interval fields; zero means unset or zero.
type Interval struct {
	Seconds int `json:"seconds,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Days    int `json:"days,omitempty"`
}

func (s Settings) Interval() Interval {
	return Interval{Seconds: s.seconds.v, Minutes: s.minutes.v, Hours: s.hours.v, Days: s.days.v}
}

func (s Settings) String() string {
	if s.hasAt {
		return "at " + s.at.Format(DateTimeLayout)
	}
	if !s.IsInterval() {
		return "immediate"
	}
	parts := make([]string, 0, 4)
	add := func(name string, sl slot) {
		if sl.set {
			parts = append(parts, fmt.Sprintf("%s%%%d", name, sl.v))
		}
	}
	add("day", s.days)
	add("hour", s.hours)
	add("minute", s.minutes)
	add("second", s.seconds)
	return "every " + strings.Join(parts, " ")
}
