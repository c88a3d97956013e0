package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle  = lipgloss.NewStyle().Faint(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("postpilot"))
	b.WriteString("\n\n")
	b.WriteString(m.text.View())
	b.WriteString("\n\n")

	names := []string{"seconds", "minutes", "hours", "days"}
	var row []string
	for i, n := range names {
		row = append(row, labelStyle.Render(n)+m.schedule[i].View())
	}
	b.WriteString(lipgloss.JoinVertical(lipgloss.Left, row...))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("at") + m.schedule[4].View())
	b.WriteString("\n\n")

	var vars []string
	for _, v := range m.vars {
		vars = append(vars, fmt.Sprintf("{%s} <- %s", v.name.View(), v.script.View()))
	}
	b.WriteString(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, vars...)))
	b.WriteString("\n")
	b.WriteString(m.jobLine())
	b.WriteString("\n")
	if m.status != "" {
		style := okStyle
		if !m.statusOK {
			style = errStyle
		}
		b.WriteString(style.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("ctrl+s post/arm | ctrl+x stop | ctrl+n add variable | ctrl+d drop variable | ctrl+w save draft | tab next | esc quit"))
	b.WriteString("\n")
	return b.String()
}

func (m *model) jobLine() string {
	var parts []string
	if m.d.Scheduler != nil {
		if job := m.d.Scheduler.Active(); job != nil {
			parts = append(parts, fmt.Sprintf("job %s %s (%s, fired %d, armed %s)",
				shortID(job.ID()), job.Settings().String(), job.State(), job.Fires(), humanize.Time(job.ArmedAt())))
		} else {
			parts = append(parts, "no job armed")
		}
	}
	if !m.lastPost.IsZero() {
		parts = append(parts, "last post "+humanize.Time(m.lastPost))
	}
	return strings.Join(parts, " | ")
}
