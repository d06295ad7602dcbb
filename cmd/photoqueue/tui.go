package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/openmined/photoqueue/internal/queue"
)

const (
	refreshInterval = 200 * time.Millisecond
	maxRows         = 8
	txtHelp         = "p pause/resume · q quit"
)

var (
	titleStyle = cyan.Bold(true)
	helpStyle  = gray
)

type eventMsg struct{ ev *queue.Event }
type eventsClosedMsg struct{}
type refreshMsg time.Time

// uploadModel renders the batch while the queue works through it. It quits
// once the queue stops running without being paused from the keyboard.
type uploadModel struct {
	queue  *queue.Queue
	events <-chan *queue.Event
	album  string

	items   []queue.Item
	stats   queue.Stats
	bar     progress.Model
	spinner spinner.Model

	paused  bool
	aborted bool
	done    bool
	width   int
}

func newUploadModel(q *queue.Queue, events <-chan *queue.Event, album string) uploadModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = cyan

	return uploadModel{
		queue:   q,
		events:  events,
		album:   album,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner: s,
		items:   q.Items(),
		stats:   q.Stats(),
	}
}

func waitForEvent(events <-chan *queue.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m uploadModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events), refresh())
}

func (m uploadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.aborted = true
			return m, tea.Quit
		case "p":
			if m.paused {
				m.queue.ResumeAll()
				m.resumePaused()
			} else {
				m.queue.PauseAll()
			}
			m.paused = !m.paused
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(60, msg.Width-30))
		return m, nil

	case eventMsg:
		if msg.ev.Type == queue.EventBatchComplete {
			return m.finish()
		}
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		return m.finish()

	case refreshMsg:
		m.items = m.queue.Items()
		m.stats = m.queue.Stats()
		// events can be dropped when the view falls behind, the running flag cannot
		if !m.paused && !m.stats.Running {
			return m.finish()
		}
		return m, refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// resumePaused moves every item paused by the keyboard back to pending.
func (m uploadModel) resumePaused() {
	for _, item := range m.queue.Items() {
		if item.Status == queue.StatusPaused {
			m.queue.ResumeItem(item.ID)
		}
	}
}

func (m uploadModel) finish() (tea.Model, tea.Cmd) {
	m.items = m.queue.Items()
	m.stats = m.queue.Stats()
	m.done = true
	return m, tea.Quit
}

func (m uploadModel) View() string {
	if m.done || m.aborted {
		return ""
	}

	var b strings.Builder

	title := fmt.Sprintf("Uploading %d photos", m.stats.Total)
	if m.album != "" {
		title += fmt.Sprintf(" to %q", m.album)
	}
	b.WriteString(titleStyle.Render(title))
	if m.paused {
		b.WriteString(" " + yellow.Render("(paused)"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.bar.ViewAs(m.stats.OverallProgress / 100))
	b.WriteString("  " + m.statsLine() + "\n\n")

	rows := 0
	for _, item := range m.items {
		if item.Status == queue.StatusSuccess || rows >= maxRows {
			continue
		}
		b.WriteString(m.itemLine(item) + "\n")
		rows++
	}
	if hidden := m.stats.Total - m.stats.Completed - rows; hidden > 0 {
		b.WriteString(gray.Render(fmt.Sprintf("  … %d more", hidden)) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render(txtHelp) + "\n")
	return b.String()
}

func (m uploadModel) statsLine() string {
	parts := []string{fmt.Sprintf("%d/%d", m.stats.Completed, m.stats.Total)}
	if m.stats.Failed > 0 {
		parts = append(parts, red.Render(fmt.Sprintf("%d failed", m.stats.Failed)))
	}
	if m.stats.TotalSpeed > 0 {
		parts = append(parts, humanize.IBytes(uint64(m.stats.TotalSpeed))+"/s")
	}
	if m.stats.EstimatedTimeRemaining > 0 {
		parts = append(parts, "ETA "+m.stats.EstimatedTimeRemaining.Round(time.Second).String())
	}
	return strings.Join(parts, " · ")
}

func (m uploadModel) itemLine(item queue.Item) string {
	name := assetName(item)
	switch item.Status {
	case queue.StatusUploading:
		line := fmt.Sprintf("%s %s %3.0f%%", m.spinner.View(), name, item.Progress)
		if item.Speed > 0 {
			line += gray.Render(" " + humanize.IBytes(uint64(item.Speed)) + "/s")
		}
		return line
	case queue.StatusError:
		if !item.NextRetryAt.IsZero() {
			return yellow.Render(fmt.Sprintf("↻ %s retry %d in %s", name, item.RetryCount,
				time.Until(item.NextRetryAt).Round(100*time.Millisecond)))
		}
		return red.Render("✗ "+name) + gray.Render(" "+item.Error)
	case queue.StatusPaused:
		return yellow.Render("‖ " + name)
	case queue.StatusCancelled:
		return gray.Render("⊘ " + name + " cancelled")
	default:
		return gray.Render("· " + name)
	}
}
