package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

var (
	colorGood   = lipgloss.Color("#22C55E")
	colorWarn   = lipgloss.Color("#EAB308")
	colorBad    = lipgloss.Color("#EF4444")
	colorMuted  = lipgloss.Color("#6B7280")
	colorAccent = lipgloss.Color("#7C3AED")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle   = lipgloss.NewStyle().Foreground(colorBad)
	spinnerStyle = lipgloss.NewStyle().Foreground(colorAccent)
	buttonStyle  = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent)
	frameStyle = lipgloss.NewStyle().Padding(1, 2)
)

// StateColor is the color a state is rendered in.
func StateColor(s quality.ConnectivityState) lipgloss.Color {
	switch s {
	case quality.StateSatisfied:
		return colorGood
	case quality.StateRequiresConnection:
		return colorWarn
	case quality.StateUnsatisfied:
		return colorBad
	default:
		return colorMuted
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("netpulse"))
	b.WriteString(mutedStyle.Render("  " + m.snap.State.String()))
	b.WriteString("\n\n")

	status := lipgloss.NewStyle().Bold(true).Foreground(StateColor(m.snap.State)).Render(m.snap.Display)
	if m.snap.Probing {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(status)
	b.WriteString("\n")

	if line := detailLine(m.snap.Sample); line != "" {
		b.WriteString(mutedStyle.Render(line))
		b.WriteString("\n")
	}
	if !m.snap.LastProbeAt.IsZero() {
		b.WriteString(mutedStyle.Render(agoLine(m.now, m.snap.LastProbeAt)))
		b.WriteString("\n")
	}
	if m.snap.LastError != "" {
		b.WriteString(errorStyle.Render("last error: " + m.snap.LastError))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	buttons := lipgloss.JoinHorizontal(lipgloss.Top,
		m.zones.Mark(zoneRefresh, buttonStyle.Render("refresh")),
		" ",
		m.zones.Mark(zoneQuit, buttonStyle.Render("quit")),
	)
	b.WriteString(buttons)
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))

	return m.zones.Scan(frameStyle.Render(b.String()))
}

// detailLine spells out the sample with binary units. It is empty when
// there is no sample.
func detailLine(s *quality.SpeedSample) string {
	if s == nil {
		return ""
	}
	line := fmt.Sprintf("↑ %s/s ↓ %s/s",
		humanize.IBytes(nonNegative(s.UploadBps)),
		humanize.IBytes(nonNegative(s.DownloadBps)))
	if s.HasPing {
		line += fmt.Sprintf(" · ping %d ms", s.PingMS)
	}
	return line
}

// agoLine renders the age of the last probe, coarsened to one unit.
func agoLine(now, at time.Time) string {
	d := now.Sub(at)
	if d < time.Second {
		return "⌛ just now"
	}
	return "⌛ " + durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(1).String() + " ago"
}

func nonNegative(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}
