// Package tui is a small bubbletea front end for the monitor: the status
// line, the sample details and a refresh button.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	zone "github.com/lrstanley/bubblezone"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

// TickInterval drives the "updated ... ago" line.
const TickInterval = time.Second

const (
	zoneRefresh = "refresh"
	zoneQuit    = "quit"
)

// Source is the part of the monitor the TUI reads from.
type Source interface {
	Current() quality.Snapshot
	Subscribe() *quality.Subscription
	Refresh()
}

type snapshotMsg quality.Snapshot

// closedMsg is sent when the subscription channel closes.
type closedMsg struct{}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForSnapshot blocks on the next published snapshot.
func waitForSnapshot(sub *quality.Subscription) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-sub.C()
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

// Model is the bubbletea model.
type Model struct {
	source Source
	sub    *quality.Subscription
	zones  *zone.Manager

	snap    quality.Snapshot
	now     time.Time
	width   int
	keys    keyMap
	help    help.Model
	spinner spinner.Model

	refreshes int
	quitting  bool
}

// New builds a model that follows source. The subscription is taken here so
// no snapshot published between New and Init is lost.
func New(source Source) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = spinnerStyle

	return Model{
		source:  source,
		sub:     source.Subscribe(),
		zones:   zone.New(),
		snap:    source.Current(),
		now:     time.Now(),
		keys:    defaultKeyMap(),
		help:    help.New(),
		spinner: sp,
	}
}

// Snapshot returns the snapshot currently shown.
func (m Model) Snapshot() quality.Snapshot { return m.snap }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.sub), tickCmd(), m.spinner.Tick)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case snapshotMsg:
		m.snap = quality.Snapshot(msg)
		return m, waitForSnapshot(m.sub)

	case closedMsg:
		return m.quit()

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m.quit()
		case key.Matches(msg, m.keys.Refresh):
			return m.refresh(), nil
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil

	case tea.MouseMsg:
		if msg.Action != tea.MouseActionRelease || msg.Button != tea.MouseButtonLeft {
			return m, nil
		}
		switch {
		case m.inZone(zoneRefresh, msg):
			return m.refresh(), nil
		case m.inZone(zoneQuit, msg):
			return m.quit()
		}
	}
	return m, nil
}

func (m Model) refresh() Model {
	m.source.Refresh()
	m.refreshes++
	return m
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.sub.Close()
	return m, tea.Quit
}

func (m Model) inZone(id string, msg tea.MouseMsg) bool {
	z := m.zones.Get(id)
	if z == nil {
		return false
	}
	return z.InBounds(msg)
}

// Run starts the program on the alternate screen with mouse support. It
// returns nil when the user quits or ctx is cancelled.
func Run(ctx context.Context, source Source) error {
	p := tea.NewProgram(New(source),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
