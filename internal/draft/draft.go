// Package draft saves and restores the compose form between sessions.
package draft

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"postpilot/internal/pipeline"
	"postpilot/internal/schedule"
)

// StateKey is the storage key holding the draft.
const StateKey = "draft"

// Draft holds form values as typed. Interval fields and At stay raw so that
// what the user entered comes back unchanged, valid or not.
type Draft struct {
	Text      string                    `json:"text"`
	Seconds   string                    `json:"seconds,omitempty"`
	Minutes   string                    `json:"minutes,omitempty"`
	Hours     string                    `json:"hours,omitempty"`
	Days      string                    `json:"days,omitempty"`
	At        string                    `json:"at,omitempty"`
	Variables []pipeline.VariableSource `json:"variables,omitempty"`
	SavedAt   time.Time                 `json:"saved_at"`
}

type KV interface {
	PutState(ctx context.Context, key string, value []byte) error
	GetState(ctx context.Context, key string) ([]byte, bool, error)
}

// Load returns the saved draft. ok is false when nothing was saved.
func Load(ctx context.Context, kv KV) (d Draft, ok bool, err error) {
	raw, ok, err := kv.GetState(ctx, StateKey)
	if err != nil || !ok {
		return Draft{}, false, err
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return Draft{}, false, errors.Wrap(err, "decode draft")
	}
	return d, true, nil
}

func Save(ctx context.Context, kv KV, d Draft) error {
	if d.SavedAt.IsZero() {
		d.SavedAt = time.Now().UTC()
	}
	b, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode draft")
	}
	return kv.PutState(ctx, StateKey, b)
}

// Settings validates the schedule fields. The first invalid field aborts
// with its *schedule.InvalidSettingError; nothing is partially applied.
func (d Draft) Settings(loc *time.Location, now func() time.Time) (schedule.Settings, error) {
	var opts []schedule.Option
	if now != nil {
		opts = append(opts, schedule.WithClock(now))
	}
	s := schedule.New(opts...)
	steps := []struct {
		add func(string) error
		raw string
	}{
		{s.AddSecondsText, d.Seconds},
		{s.AddMinutesText, d.Minutes},
		{s.AddHoursText, d.Hours},
		{s.AddDaysText, d.Days},
		{func(raw string) error { return s.AddDateTimeText(raw, loc) }, d.At},
	}
	for _, st := range steps {
		if err := st.add(st.raw); err != nil {
			return schedule.Settings{}, err
		}
	}
	return *s, nil
}

// Submission returns the text and the variables with a name.
func (d Draft) Submission() pipeline.Submission {
	sub := pipeline.Submission{Text: d.Text}
	for _, v := range d.Variables {
		if strings.TrimSpace(v.Name) == "" && strings.TrimSpace(v.Script) == "" {
			continue
		}
		sub.Variables = append(sub.Variables, pipeline.VariableSource{
			Name:   strings.TrimSpace(v.Name),
			Script: strings.TrimSpace(v.Script),
		})
	}
	return sub
}
