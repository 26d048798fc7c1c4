package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
)

func (m model) renderSessionRows() string {
	cursorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	normalStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	if len(m.sessions) == 0 {
		return normalStyle.Render("(no live sessions)")
	}
	lines := make([]string, 0, len(m.sessions)*2)
	for i, s := range m.sessions {
		pref := "  "
		if i == m.cursor {
			pref = "> "
		}
		row := fmt.Sprintf("%s%s  %s  %s", pref, shortID(s.ID), s.State, trimText(s.TargetURL, 48))
		if i == m.cursor {
			row = cursorStyle.Render(row)
		}
		lines = append(lines, zone.Mark("session-"+s.ID, row))
		lines = append(lines, fmt.Sprintf("    %s %s  started %s", s.Transport, s.RemoteAddr, timeAgo(s.StartedAt)))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderSelectionRows() string {
	normalStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tagStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	if m.peekedID == "" {
		return normalStyle.Render("(select a session)")
	}
	if len(m.peeked) == 0 {
		return normalStyle.Render("(nothing picked yet)")
	}
	lines := make([]string, 0, len(m.peeked))
	for i, el := range m.peeked {
		text := strings.Join(strings.Fields(el.Text), " ")
		lines = append(lines, fmt.Sprintf("%2d %s %s", i+1, tagStyle.Render(el.Tag), trimText(text, 60)))
	}
	return strings.Join(lines, "\n")
}

func (m model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	normalStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	if m.mode == settingsMode {
		return zone.Scan(m.settingsView(titleStyle, normalStyle))
	}

	focusStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	leftTitle := normalStyle.Render("Live Sessions")
	rightTitle := normalStyle.Render("Current Selection")
	if m.focus == sessionsPanel {
		leftTitle = focusStyle.Render("Live Sessions")
	} else {
		rightTitle = focusStyle.Render("Current Selection")
	}
	if m.peekedID != "" {
		rightTitle += normalStyle.Render(" " + shortID(m.peekedID))
	}

	paneStyle := lipgloss.NewStyle().Width(max(40, m.width/2-2)).Border(lipgloss.RoundedBorder()).Padding(0, 1)
	leftPane := paneStyle.Render(leftTitle + "\n" + m.sessionVP.View())
	rightPane := paneStyle.Render(rightTitle + "\n" + m.selectionVP.View())

	card := lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.RoundedBorder())
	cards := lipgloss.JoinHorizontal(
		lipgloss.Top,
		card.Render(fmt.Sprintf("Live\n%d", int(math.Round(m.animLive)))),
		card.Render(fmt.Sprintf("Delivered\n%d", int(math.Round(m.animDone)))),
		card.Render(fmt.Sprintf("Cancelled\n%d", m.stats.Cancelled)),
		card.Render(fmt.Sprintf("Failed\n%d", m.stats.Failed)),
		card.Render(fmt.Sprintf("Updated\n%s", lastUpdatedText(m.lastUpdated))),
	)
	chartPanel := lipgloss.JoinHorizontal(lipgloss.Top,
		card.Render("Live Sessions\n"+m.chartLive.View()),
		card.Render("Finished per Refresh\n"+m.chartDone.View()),
	)

	help := normalStyle.Render("mouse: click row | tab panel | j/k move | pgup/pgdown scroll | n new capture | x cancel | r refresh | c settings | q quit")
	activity := fmt.Sprintf("%s refreshing", m.spin.View())
	if m.running > 0 {
		activity = fmt.Sprintf("%s %d capture(s) waiting on the browser", m.spin.View(), m.running)
	}
	proc := normalStyle.Render(strings.TrimSpace(m.summary + " | " + activity))
	status := titleStyle.Render("status: ") + m.status

	parts := []string{
		titleStyle.Render("pickscrape sessions"),
		cards,
		chartPanel,
		lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane),
	}
	if m.mode == promptMode {
		parts = append(parts, m.prompt.View())
	}
	parts = append(parts, proc, status, help)
	return zone.Scan(strings.Join(parts, "\n"))
}

func (m model) settingsView(titleStyle, normalStyle lipgloss.Style) string {
	cursorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)

	lines := []string{titleStyle.Render("Settings") + normalStyle.Render("  "+m.settings.Path)}
	for i, f := range settingFields {
		prefix := "  "
		if i == m.settingsCursor {
			prefix = cursorStyle.Render("> ")
		}
		lines = append(lines, fmt.Sprintf("%s%s = %s", prefix, f.name, m.form[i]))
	}

	editLine := normalStyle.Render("select a field, press e or enter to edit")
	if m.editingSetting {
		editLine = keyStyle.Render("editing") + " " + settingFields[m.settingsCursor].name + "\n" + m.editor.View()
	}

	help := normalStyle.Render("j/k move | e/enter edit+apply | s save | r reload | c/esc back")
	status := titleStyle.Render("status: ") + m.status
	box := lipgloss.NewStyle().Width(max(80, m.width-2)).Border(lipgloss.RoundedBorder()).Padding(0, 1).Render(strings.Join(lines, "\n"))
	return strings.Join([]string{box, editLine, status, help}, "\n")
}

func shortID(s string) string {
	if len(s) <= 10 {
		return s
	}
	return "…" + s[len(s)-9:]
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String() + " ago"
}

func trimText(s string, n int) string {
	r := []rune(s)
	if n < 4 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func lastUpdatedText(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.Kitchen)
}
