package schedule

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newFixed() *Settings {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func requireInvalid(t *testing.T, err error, field Field) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSetting))
	var ise *InvalidSettingError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, field, ise.Field)
	assert.NotEmpty(t, ise.Range)
}

func TestIntervalBounds(t *testing.T) {
	tests := []struct {
		field  Field
		add    func(*Settings, int) error
		get    func(Settings) (int, bool)
		ok     []int
		reject []int
	}{
		{FieldSeconds, (*Settings).AddSeconds, Settings.Seconds, []int{0, 1, 59}, []int{-1, 60}},
		{FieldMinutes, (*Settings).AddMinutes, Settings.Minutes, []int{0, 30, 59}, []int{-1, 60}},
		{FieldHours, (*Settings).AddHours, Settings.Hours, []int{0, 23}, []int{-1, 24}},
		{FieldDays, (*Settings).AddDays, Settings.Days, []int{1, 365}, []int{0, 366}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.field), func(t *testing.T) {
			for _, v := range tt.ok {
				s := newFixed()
				require.NoError(t, tt.add(s, v))
				got, set := tt.get(*s)
				assert.True(t, set)
				assert.Equal(t, v, got)
				assert.True(t, s.IsInterval())
			}
			for _, v := range tt.reject {
				s := newFixed()
				requireInvalid(t, tt.add(s, v), tt.field)
				_, set := tt.get(*s)
				assert.False(t, set, "rejected value %d must not be applied", v)
				assert.False(t, s.IsInterval())
			}
		})
	}
}

func TestBoundsHint(t *testing.T) {
	assert.Equal(t, "0-59", BoundsHint(FieldSeconds))
	assert.Equal(t, "0-23", BoundsHint(FieldHours))
	assert.Equal(t, "1-365", BoundsHint(FieldDays))
	assert.Empty(t, BoundsHint(FieldDateTime))

	lo, hi, ok := Bounds(FieldDays)
	require.True(t, ok)
	s := newFixed()
	require.NoError(t, s.AddDays(lo))
	require.NoError(t, s.AddDays(hi))
	requireInvalid(t, s.AddDays(lo-1), FieldDays)
}

func TestRejectedValueKeepsPreviousValue(t *testing.T) {
	s := newFixed()
	require.NoError(t, s.AddSeconds(20))
	requireInvalid(t, s.AddSeconds(60), FieldSeconds)
	v, set := s.Seconds()
	assert.True(t, set)
	assert.Equal(t, 20, v)
}

func TestTextInput(t *testing.T) {
	s := newFixed()
	require.NoError(t, s.AddSecondsText(""))
	require.NoError(t, s.AddMinutesText("   "))
	assert.False(t, s.IsInterval(), "blank input means not set")

	require.NoError(t, s.AddHoursText(" 6 "))
	v, _ := s.Hours()
	assert.Equal(t, 6, v)

	requireInvalid(t, s.AddDaysText("four"), FieldDays)
	requireInvalid(t, s.AddSecondsText("1.5"), FieldSeconds)
	requireInvalid(t, s.AddMinutesText("99"), FieldMinutes)
}

func TestAddDateTime(t *testing.T) {
	s := newFixed()
	requireInvalid(t, s.AddDateTime(fixedNow.Add(-time.Second)), FieldDateTime)
	requireInvalid(t, s.AddDateTime(fixedNow), FieldDateTime)
	requireInvalid(t, s.AddDateTime(time.Time{}), FieldDateTime)
	assert.False(t, s.IsScheduled())

	at := fixedNow.Add(time.Hour)
	require.NoError(t, s.AddDateTime(at))
	assert.True(t, s.IsScheduled())
	got, ok := s.At()
	assert.True(t, ok)
	assert.True(t, got.Equal(at))
}

func TestAddDateTimeText(t *testing.T) {
	s := newFixed()
	require.NoError(t, s.AddDateTimeText("", time.UTC))
	assert.False(t, s.IsScheduled())

	require.NoError(t, s.AddDateTimeText("2024-01-01 10:30", time.UTC))
	at, _ := s.At()
	assert.Equal(t, time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC), at)

	requireInvalid(t, s.AddDateTimeText("tomorrow", time.UTC), FieldDateTime)
	requireInvalid(t, s.AddDateTimeText("2023-12-31 23:59", time.UTC), FieldDateTime)
}

func TestParseDateTimeRFC3339(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	got, err := ParseDateTime("2024-01-01T08:30:00Z", loc)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Hour())
	assert.Equal(t, loc, got.Location())
}

func TestCopiesAreIndependent(t *testing.T) {
	s := newFixed()
	require.NoError(t, s.AddSeconds(20))
	snapshot := *s
	require.NoError(t, s.AddSeconds(30))
	v, _ := snapshot.Seconds()
	assert.Equal(t, 20, v)
}

func TestBothKindsCanBeStored(t *testing.T) {
	s := newFixed()
	require.NoError(t, s.AddMinutes(5))
	require.NoError(t, s.AddDateTime(fixedNow.Add(time.Minute)))
	assert.True(t, s.IsInterval())
	assert.True(t, s.IsScheduled())
	assert.True(t, s.Deferred())
}

func TestString(t *testing.T) {
	assert.Equal(t, "immediate", newFixed().String())

	s := newFixed()
	require.NoError(t, s.AddSeconds(20))
	require.NoError(t, s.AddDays(4))
	assert.Equal(t, "every day%4 second%20", s.String())

	s = newFixed()
	require.NoError(t, s.AddDateTime(fixedNow.Add(30*time.Minute)))
	assert.Equal(t, "at 2024-01-01 10:30", s.String())
}
