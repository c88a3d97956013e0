// Package pipeline turns a submission into a published post.
//
// A submission is raw text with {name} placeholders plus the scripts that
// produce each name's value. Prepare runs the scripts and resolves the text,
// Deliver hands the result to the transport and classifies the answer, and
// Dispatch decides once per submission whether that happens now or on a
// schedule.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"postpilot/internal/eventbus"
	"postpilot/internal/schedule"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	"postpilot/internal/template"
	"postpilot/internal/transport"
	logx "postpilot/pkg/logx"
)

// VariableSource names a placeholder and the script producing its value.
type VariableSource struct {
	Name   string `json:"name" yaml:"name" toml:"name"`
	Script string `json:"script" yaml:"script" toml:"script"`
}

type Submission struct {
	Text      string
	Variables []VariableSource
}

// Outcome describes one successful delivery.
type Outcome struct {
	Text     string
	Response transport.Response
	Record   storage.PostRecord
}

// ScriptRunner produces a variable's value from a script path.
type ScriptRunner interface {
	Run(ctx context.Context, path string) (string, error)
}

// Armer queues a fire action on a schedule.
type Armer interface {
	Arm(settings schedule.Settings, fire scheduler.FireFunc) (*scheduler.Job, error)
}

// PostEvent is the payload of post.* events.
type PostEvent struct {
	RecordID  string `json:"record_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Transport string `json:"transport"`
	Text      string `json:"text"`
	Code      int    `json:"code,omitempty"`
	URL       string `json:"url,omitempty"`
	Err       string `json:"err,omitempty"`
}

type Deps struct {
	Runner ScriptRunner
	Poster transport.Poster
	// Store is optional. Without it there is no history and no dedup guard.
	Store storage.Store
	Bus   eventbus.Bus
	Log   logx.Logger
	// DedupWindow enables the local duplicate guard when positive.
	DedupWindow time.Duration
	Now         func() time.Time
}

type Pipeline struct {
	d Deps
}

func New(d Deps) (*Pipeline, error) {
	if d.Poster == nil {
		return nil, errors.New("pipeline: poster is required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Pipeline{d: d}, nil
}

// Preflight checks what can be checked without running scripts: variable
// names, that the raw text is not empty, and that every placeholder has a
// declared variable.
func (p *Pipeline) Preflight(sub Submission) error {
	if err := checkVariables(sub.Variables); err != nil {
		return err
	}
	if strings.TrimSpace(sub.Text) == "" {
		return ErrEmptyContent
	}
	declared := make(map[string]bool, len(sub.Variables))
	for _, v := range sub.Variables {
		declared[v.Name] = true
	}
	var missing []string
	for _, name := range template.Placeholders(sub.Text) {
		if !declared[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &TemplateUnresolvedError{Missing: missing}
	}
	return nil
}

func checkVariables(vars []VariableSource) error {
	seen := make(map[string]bool, len(vars))
	for _, v := range vars {
		if !template.ValidName(v.Name) {
			return errors.Wrapf(ErrInvalidVariable, "name %q", v.Name)
		}
		if strings.TrimSpace(v.Script) == "" {
			return errors.Wrapf(ErrInvalidVariable, "variable %q has no script", v.Name)
		}
		if seen[v.Name] {
			return errors.Wrapf(ErrDuplicateVariable, "%q", v.Name)
		}
		seen[v.Name] = true
	}
	return nil
}

// Prepare gathers every variable and resolves the text. Any script failure
// aborts the whole submission, and so does a variable the text never uses.
func (p *Pipeline) Prepare(ctx context.Context, sub Submission) (string, error) {
	if err := checkVariables(sub.Variables); err != nil {
		return "", err
	}
	b := template.NewBindings()
	if len(sub.Variables) > 0 && p.d.Runner == nil {
		return "", errors.New("pipeline: submission has variables but no script runner")
	}
	for _, v := range sub.Variables {
		val, err := p.d.Runner.Run(ctx, v.Script)
		if err != nil {
			return "", &ScriptBindingError{Name: v.Name, Script: v.Script, Err: err}
		}
		if err := b.Set(v.Name, val); err != nil {
			return "", errors.Wrapf(ErrDuplicateVariable, "%v", err)
		}
		p.d.Log.Debug("variable bound", logx.String("name", v.Name), logx.String("script", v.Script))
	}

	res := template.Resolve(sub.Text, b)
	if len(res.Missing) > 0 {
		if len(res.Unused) > 0 {
			p.d.Log.Warn("variables not referenced by the text", logx.Strings("names", res.Unused))
		}
		return "", &TemplateUnresolvedError{Missing: res.Missing}
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", ErrEmptyContent
	}
	return res.Text, nil
}

// Deliver posts text and records the attempt. jobID may be empty.
func (p *Pipeline) Deliver(ctx context.Context, text, jobID string) (Outcome, error) {
	now := p.d.Now()
	rec := storage.PostRecord{
		At:        now.UTC(),
		Transport: p.d.Poster.Name(),
		JobID:     jobID,
		Text:      text,
	}
	key := p.dedupKey(text)

	if dup, err := p.seenRecently(ctx, key, now); err != nil {
		p.d.Log.Warn("dedup lookup failed", logx.Err(err))
	} else if dup {
		rec.Status = storage.StatusDuplicate
		return p.fail(ctx, rec, ErrDuplicateContent)
	}

	resp, err := p.d.Poster.Post(ctx, transport.Content{Text: text})
	if err != nil {
		if !errors.Is(err, ErrTransportUnavailable) {
			err = transport.Unavailable(err, "%s", p.d.Poster.Name())
		}
		rec.Status = storage.StatusUnavailable
		return p.fail(ctx, rec, err)
	}
	rec.Code, rec.Body = resp.StatusCode, resp.Body
	if !resp.Accepted() {
		rec.Status = storage.StatusRejected
		return p.fail(ctx, rec, &PostRejectedError{Code: resp.StatusCode, Body: resp.Body})
	}

	rec.Status = storage.StatusSent
	rec.PostID, rec.URL = resp.ID, resp.URL
	if key != "" {
		if err := p.d.Store.PutDedup(ctx, key, now.Add(p.d.DedupWindow)); err != nil {
			p.d.Log.Warn("dedup update failed", logx.Err(err))
		}
	}
	rec = p.record(ctx, rec)
	p.d.Log.Info("post published",
		logx.String("transport", rec.Transport),
		logx.String("job", jobID),
		logx.String("url", rec.URL),
	)
	p.publish(eventbus.PostSent, rec, nil)
	return Outcome{Text: text, Response: resp, Record: rec}, nil
}

// Submit prepares and delivers sub right away. When called from a job's
// fire action the job id is recorded with the post.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (Outcome, error) {
	text, err := p.Prepare(ctx, sub)
	if err != nil {
		p.d.Log.Warn("submission aborted", logx.Err(err))
		return Outcome{}, err
	}
	return p.Deliver(ctx, text, scheduler.JobIDFrom(ctx))
}

// Dispatched tells the caller what Dispatch did.
type Dispatched struct {
	// Job is set when the submission was queued.
	Job *scheduler.Job
	// Outcome is set when the submission was posted immediately.
	Outcome Outcome
}

func (d Dispatched) Deferred() bool { return d.Job != nil }

// Dispatch posts sub now, or arms it on sched when settings ask for a
// deferred post. The decision is made before any script runs; deferred
// submissions only pass Preflight here and run their scripts at fire time.
func (p *Pipeline) Dispatch(ctx context.Context, sub Submission, settings schedule.Settings, sched Armer) (Dispatched, error) {
	if !settings.Deferred() {
		out, err := p.Submit(ctx, sub)
		return Dispatched{Outcome: out}, err
	}
	if sched == nil {
		return Dispatched{}, errors.New("pipeline: deferred submission without a scheduler")
	}
	if err := p.Preflight(sub); err != nil {
		return Dispatched{}, err
	}
	job, err := sched.Arm(settings, func(ctx context.Context) error {
		_, err := p.Submit(ctx, sub)
		return err
	})
	if err != nil {
		return Dispatched{}, err
	}
	return Dispatched{Job: job}, nil
}

func (p *Pipeline) dedupKey(text string) string {
	if p.d.Store == nil || p.d.DedupWindow <= 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(p.d.Poster.Name() + "\x00" + text))
	return "post:" + hex.EncodeToString(sum[:])
}

func (p *Pipeline) seenRecently(ctx context.Context, key string, now time.Time) (bool, error) {
	if key == "" {
		return false, nil
	}
	until, ok, err := p.d.Store.GetDedup(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return now.Before(until), nil
}

func (p *Pipeline) fail(ctx context.Context, rec storage.PostRecord, err error) (Outcome, error) {
	rec.Error = err.Error()
	rec = p.record(ctx, rec)
	p.d.Log.Warn("post failed",
		logx.String("transport", rec.Transport),
		logx.String("status", rec.Status),
		logx.Int("code", rec.Code),
		logx.Err(err),
	)
	p.publish(eventbus.PostFailed, rec, err)
	return Outcome{Text: rec.Text, Record: rec}, err
}

func (p *Pipeline) record(ctx context.Context, rec storage.PostRecord) storage.PostRecord {
	if p.d.Store == nil {
		return rec
	}
	stored, err := p.d.Store.AppendPost(ctx, rec)
	if err != nil {
		p.d.Log.Warn("post history append failed", logx.Err(err))
		return rec
	}
	return stored
}

func (p *Pipeline) publish(topic string, rec storage.PostRecord, err error) {
	ev := PostEvent{
		RecordID:  rec.ID,
		JobID:     rec.JobID,
		Transport: rec.Transport,
		Text:      rec.Text,
		Code:      rec.Code,
		URL:       rec.URL,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	p.d.Bus.Publish(eventbus.Event{Type: topic, Time: rec.At, Data: ev})
}
