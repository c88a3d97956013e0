// Package tui is the interactive compose screen: post text, interval or
// date-time, and the scripts that fill the text's placeholders.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"

	"postpilot/internal/draft"
	"postpilot/internal/eventbus"
	"postpilot/internal/pipeline"
	"postpilot/internal/schedule"
	"postpilot/internal/scheduler"
	logx "postpilot/pkg/logx"
)

// Dispatcher is the part of the pipeline the screen drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub pipeline.Submission, settings schedule.Settings, sched pipeline.Armer) (pipeline.Dispatched, error)
}

type Deps struct {
	Ctx        context.Context
	Dispatcher Dispatcher
	Scheduler  *scheduler.Scheduler
	// Store keeps the draft between sessions. Nil disables drafts.
	Store    draft.KV
	Bus      eventbus.Bus
	Location *time.Location
	Now      func() time.Time
	Log      logx.Logger
}

// Run shows the compose screen until the user quits.
func Run(d Deps) error {
	m := newModel(d)
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return errors.Wrap(err, "compose screen")
	}
	return nil
}

type field int

const (
	fieldText field = iota
	fieldSeconds
	fieldMinutes
	fieldHours
	fieldDays
	fieldAt
	fieldVars // first variable input; each row has a name and a script
)

type varRow struct {
	name   textinput.Model
	script textinput.Model
}

type (
	tickMsg     time.Time
	pollDoneMsg struct{}
	dispatchMsg struct {
		res pipeline.Dispatched
		err error
	}
	eventMsg eventbus.Event
)

type model struct {
	d Deps

	text     textarea.Model
	schedule [5]textinput.Model // seconds, minutes, hours, days, at
	vars     []varRow
	focus    field

	events <-chan eventbus.Event
	unsub  func()

	busy     bool
	polling  bool
	status   string
	statusOK bool
	lastPost time.Time
	width    int
}

func newModel(d Deps) *model {
	if d.Ctx == nil {
		d.Ctx = context.Background()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}

	text := textarea.New()
	text.Placeholder = "Post text. Use {name} for values produced by scripts."
	text.ShowLineNumbers = false
	text.CharLimit = 0
	text.SetHeight(5)

	m := &model{d: d, text: text, statusOK: true}
	placeholders := []string{
		schedule.BoundsHint(schedule.FieldSeconds),
		schedule.BoundsHint(schedule.FieldMinutes),
		schedule.BoundsHint(schedule.FieldHours),
		schedule.BoundsHint(schedule.FieldDays),
		schedule.DateTimeLayout,
	}
	for i, ph := range placeholders {
		in := textinput.New()
		in.Prompt = ""
		in.Placeholder = ph
		in.CharLimit = 16
		m.schedule[i] = in
	}
	m.events, m.unsub = d.Bus.Subscribe(16,
		eventbus.JobArmed, eventbus.JobFired, eventbus.JobCancelled, eventbus.JobExpired,
		eventbus.PostSent, eventbus.PostFailed,
	)
	m.loadDraft()
	if len(m.vars) == 0 {
		m.addVar()
	}
	m.setFocus(fieldText)
	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.nextTick(), m.waitEvent())
}

func (m *model) nextTick() tea.Cmd {
	return tea.Every(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) waitEvent() tea.Cmd {
	ch := m.events
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.text.SetWidth(max(20, min(msg.Width-4, 100)))
		return m, nil
	case tickMsg:
		cmds := []tea.Cmd{m.nextTick()}
		if c := m.pollCmd(time.Time(msg)); c != nil {
			cmds = append(cmds, c)
		}
		return m, tea.Batch(cmds...)
	case pollDoneMsg:
		m.polling = false
		return m, nil
	case dispatchMsg:
		m.busy = false
		m.onDispatched(msg.res, msg.err)
		return m, nil
	case eventMsg:
		m.onEvent(eventbus.Event(msg))
		return m, m.waitEvent()
	case tea.KeyMsg:
		if cmd, handled := m.onKey(msg); handled {
			return m, cmd
		}
	}
	return m, m.updateFocused(msg)
}

func (m *model) onKey(k tea.KeyMsg) (tea.Cmd, bool) {
	switch k.String() {
	case "ctrl+c", "esc":
		m.saveDraft()
		m.unsub()
		return tea.Quit, true
	case "tab":
		m.setFocus(m.focus + 1)
	case "shift+tab":
		m.setFocus(m.focus - 1)
	case "ctrl+s":
		return m.submit(), true
	case "ctrl+x":
		m.stop()
	case "ctrl+w":
		if m.saveDraft() {
			m.setInfo("draft saved")
		}
	case "ctrl+n":
		m.addVar()
		m.setFocus(m.lastField() - 2)
	case "ctrl+d":
		m.removeFocusedVar()
	default:
		return nil, false
	}
	return nil, true
}

func (m *model) updateFocused(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch {
	case m.focus == fieldText:
		m.text, cmd = m.text.Update(msg)
	case m.focus < fieldVars:
		i := int(m.focus - fieldSeconds)
		m.schedule[i], cmd = m.schedule[i].Update(msg)
	default:
		row, col := m.varPos(m.focus)
		if col == 0 {
			m.vars[row].name, cmd = m.vars[row].name.Update(msg)
		} else {
			m.vars[row].script, cmd = m.vars[row].script.Update(msg)
		}
	}
	return cmd
}

func (m *model) lastField() field { return fieldVars + field(2*len(m.vars)) }

func (m *model) varPos(f field) (row, col int) {
	off := int(f - fieldVars)
	return off / 2, off % 2
}

func (m *model) setFocus(f field) {
	n := m.lastField()
	f = ((f % n) + n) % n
	m.focus = f
	m.text.Blur()
	for i := range m.schedule {
		m.schedule[i].Blur()
	}
	for i := range m.vars {
		m.vars[i].name.Blur()
		m.vars[i].script.Blur()
	}
	switch {
	case f == fieldText:
		m.text.Focus()
	case f < fieldVars:
		m.schedule[f-fieldSeconds].Focus()
	default:
		row, col := m.varPos(f)
		if col == 0 {
			m.vars[row].name.Focus()
		} else {
			m.vars[row].script.Focus()
		}
	}
}

func (m *model) addVar() {
	name := textinput.New()
	name.Prompt = ""
	name.Placeholder = "name"
	name.CharLimit = 64
	script := textinput.New()
	script.Prompt = ""
	script.Placeholder = "path/to/script.py"
	script.CharLimit = 512
	m.vars = append(m.vars, varRow{name: name, script: script})
}

func (m *model) removeFocusedVar() {
	if m.focus < fieldVars {
		return
	}
	row, _ := m.varPos(m.focus)
	m.vars = append(m.vars[:row], m.vars[row+1:]...)
	if len(m.vars) == 0 {
		m.addVar()
	}
	m.setFocus(min(m.focus, m.lastField()-1))
}

// form collects the screen into a draft.
func (m *model) form() draft.Draft {
	d := draft.Draft{
		Text:    m.text.Value(),
		Seconds: m.schedule[0].Value(),
		Minutes: m.schedule[1].Value(),
		Hours:   m.schedule[2].Value(),
		Days:    m.schedule[3].Value(),
		At:      m.schedule[4].Value(),
	}
	for _, v := range m.vars {
		d.Variables = append(d.Variables, pipeline.VariableSource{Name: v.name.Value(), Script: v.script.Value()})
	}
	return d
}

func (m *model) loadDraft() {
	if m.d.Store == nil {
		return
	}
	d, ok, err := draft.Load(m.d.Ctx, m.d.Store)
	if err != nil {
		m.d.Log.Warn("draft not restored", logx.Err(err))
		return
	}
	if !ok {
		return
	}
	m.text.SetValue(d.Text)
	for i, v := range []string{d.Seconds, d.Minutes, d.Hours, d.Days, d.At} {
		m.schedule[i].SetValue(v)
	}
	for _, v := range d.Variables {
		m.addVar()
		m.vars[len(m.vars)-1].name.SetValue(v.Name)
		m.vars[len(m.vars)-1].script.SetValue(v.Script)
	}
}

func (m *model) saveDraft() bool {
	if m.d.Store == nil {
		return false
	}
	if err := draft.Save(m.d.Ctx, m.d.Store, m.form()); err != nil {
		m.setError(errors.Wrap(err, "save draft"))
		return false
	}
	return true
}

// submit validates the form and dispatches it off the event loop.
func (m *model) submit() tea.Cmd {
	if m.busy {
		return nil
	}
	f := m.form()
	settings, err := f.Settings(m.d.Location, m.d.Now)
	if err != nil {
		m.setError(err)
		return nil
	}
	sub := f.Submission()
	m.busy = true
	if settings.Deferred() {
		m.setInfo("arming job")
	} else {
		m.setInfo("posting")
	}
	ctx, disp, sched := m.d.Ctx, m.d.Dispatcher, m.d.Scheduler
	return func() tea.Msg {
		res, err := disp.Dispatch(ctx, sub, settings, sched)
		return dispatchMsg{res: res, err: err}
	}
}

func (m *model) onDispatched(res pipeline.Dispatched, err error) {
	switch {
	case err != nil:
		m.setError(err)
	case res.Deferred():
		m.setInfo(fmt.Sprintf("job %s armed: %s", shortID(res.Job.ID()), res.Job.Settings().String()))
		m.saveDraft()
	default:
		m.lastPost = m.d.Now()
		msg := "posted"
		if u := res.Outcome.Record.URL; u != "" {
			msg += ": " + u
		}
		m.setInfo(msg)
	}
}

func (m *model) stop() {
	if m.d.Scheduler == nil {
		return
	}
	if err := m.d.Scheduler.Stop(); err != nil {
		if errors.Is(err, scheduler.ErrNotStarted) {
			m.setInfo("scheduler not started")
			return
		}
		m.setError(err)
		return
	}
	m.setInfo("job stopped")
}

// pollCmd runs one scheduler poll unless one is still running.
func (m *model) pollCmd(now time.Time) tea.Cmd {
	if m.polling || m.d.Scheduler == nil || m.d.Scheduler.Active() == nil {
		return nil
	}
	m.polling = true
	ctx, sched := m.d.Ctx, m.d.Scheduler
	return func() tea.Msg {
		sched.Poll(ctx, now)
		return pollDoneMsg{}
	}
}

func (m *model) onEvent(e eventbus.Event) {
	switch data := e.Data.(type) {
	case pipeline.PostEvent:
		if e.Type == eventbus.PostSent {
			m.lastPost = e.Time
			if data.JobID != "" {
				m.setInfo("job " + shortID(data.JobID) + " posted: " + data.URL)
			}
			return
		}
		if data.JobID != "" {
			m.status, m.statusOK = "job "+shortID(data.JobID)+" post failed: "+data.Err, false
		}
	case scheduler.JobEvent:
		switch e.Type {
		case eventbus.JobExpired:
			m.status, m.statusOK = "job "+shortID(data.JobID)+" expired: its minute passed", false
		case eventbus.JobFired:
			if data.Err != "" {
				m.status, m.statusOK = "job "+shortID(data.JobID)+" failed: "+data.Err, false
			}
		}
	}
}

func (m *model) setInfo(s string) { m.status, m.statusOK = s, true }

func (m *model) setError(err error) {
	msg := err.Error()
	if h := errors.FlattenHints(err); h != "" {
		msg += " (" + strings.ReplaceAll(h, "\n", "; ") + ")"
	}
	m.status, m.statusOK = msg, false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
