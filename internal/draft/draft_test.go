package draft

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/pipeline"
	"postpilot/internal/schedule"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)

	_, ok, err := Load(ctx, st)
	require.NoError(t, err)
	assert.False(t, ok)

	in := Draft{
		Text:      "BTC {btc}",
		Seconds:   "20",
		Days:      "4",
		At:        "not a date",
		Variables: []pipeline.VariableSource{{Name: "btc", Script: "btc.py"}},
	}
	require.NoError(t, Save(ctx, st, in))

	out, ok, err := Load(ctx, st)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in.Text, out.Text)
	assert.Equal(t, "not a date", out.At, "raw values are kept even when invalid")
	assert.Equal(t, in.Variables, out.Variables)
	assert.False(t, out.SavedAt.IsZero())
}

func TestSettings(t *testing.T) {
	now := func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }

	s, err := Draft{Seconds: "20", Days: "4"}.Settings(time.UTC, now)
	require.NoError(t, err)
	assert.True(t, s.IsInterval())
	assert.False(t, s.IsScheduled())

	s, err = Draft{At: "2024-01-01 10:30"}.Settings(time.UTC, now)
	require.NoError(t, err)
	assert.True(t, s.IsScheduled())

	s, err = Draft{}.Settings(time.UTC, now)
	require.NoError(t, err)
	assert.False(t, s.Deferred())

	_, err = Draft{Seconds: "20", Minutes: "60"}.Settings(time.UTC, now)
	var ise *schedule.InvalidSettingError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, schedule.FieldMinutes, ise.Field)
}

func TestSubmissionSkipsBlankRows(t *testing.T) {
	d := Draft{
		Text: "x",
		Variables: []pipeline.VariableSource{
			{Name: " btc ", Script: " btc.py "},
			{},
			{Name: "eth"},
		},
	}
	sub := d.Submission()
	assert.Equal(t, []pipeline.VariableSource{{Name: "btc", Script: "btc.py"}, {Name: "eth"}}, sub.Variables)
}
