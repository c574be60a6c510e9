package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/devstack/pkg/state"
)

type SnapshotMsg struct {
	Snapshot Snapshot
	// Scheduled is set for refreshes driven by the poll loop; only those
	// schedule the next poll.
	Scheduled bool
}

type tickMsg struct{}

type Model struct {
	repoRoot  string
	interval  time.Duration
	tailLines int
	read      func(repoRoot string) Snapshot
	theme     Theme

	width  int
	height int

	snap     *Snapshot
	selected int
	vp       viewport.Model
}

func NewModel(repoRoot string, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{
		repoRoot:  repoRoot,
		interval:  interval,
		tailLines: 200,
		read:      ReadSnapshot,
		theme:     DefaultTheme(),
		width:     80,
		height:    24,
		vp:        viewport.New(78, 8),
	}
}

func (m Model) Init() tea.Cmd { return m.refresh(true) }

func (m Model) refresh(scheduled bool) tea.Cmd {
	read, root := m.read, m.repoRoot
	return func() tea.Msg {
		return SnapshotMsg{Snapshot: read(root), Scheduled: scheduled}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = v.Width, v.Height
		m = m.resize()
		return m, nil
	case tea.KeyMsg:
		switch v.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m = m.loadTail()
			}
			return m, nil
		case "down", "j":
			if m.snap != nil && m.selected < len(m.snap.Services)-1 {
				m.selected++
				m = m.loadTail()
			}
			return m, nil
		case "r":
			return m, m.refresh(false)
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	case tickMsg:
		return m, m.refresh(true)
	case SnapshotMsg:
		s := v.Snapshot
		m.snap = &s
		if m.selected >= len(s.Services) {
			m.selected = max(len(s.Services)-1, 0)
		}
		m = m.resize()
		m = m.loadTail()
		if !v.Scheduled {
			return m, nil
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
	}
	return m, nil
}

func (m Model) Selected() (ServiceRow, bool) {
	if m.snap == nil || m.selected >= len(m.snap.Services) {
		return ServiceRow{}, false
	}
	return m.snap.Services[m.selected], true
}

func (m Model) resize() Model {
	rows := 0
	if m.snap != nil {
		rows = len(m.snap.Services)
	}
	h := m.height - rows - 8
	if h < 3 {
		h = 3
	}
	w := m.width - 2
	if w < 20 {
		w = 20
	}
	m.vp.Width, m.vp.Height = w, h
	return m
}

func (m Model) loadTail() Model {
	row, ok := m.Selected()
	if !ok || row.StderrLog == "" {
		m.vp.SetContent("")
		return m
	}
	lines, err := state.TailLines(row.StderrLog, m.tailLines, 2<<20)
	if err != nil {
		m.vp.SetContent(m.theme.Muted.Render(err.Error()))
		return m
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	m.vp.GotoBottom()
	return m
}

func (m Model) View() string {
	var b strings.Builder
	if m.snap == nil {
		return "Loading state...\n"
	}
	s := m.snap

	title := "devstack"
	if s.Project != "" {
		title += " " + s.Project
	}
	b.WriteString(m.theme.Title.Render(title))
	b.WriteString(m.theme.Muted.Render(fmt.Sprintf("  updated %s", s.At.Format("15:04:05"))))
	b.WriteString("\n\n")

	switch {
	case !s.Exists:
		b.WriteString("Stopped (no state)\n")
	case s.Error != "":
		b.WriteString(m.theme.Unhealthy.Render(s.Error) + "\n")
	default:
		b.WriteString(m.theme.Muted.Render(fmt.Sprintf("  %-16s %-8s %-6s %-10s %-7s %s", "SERVICE", "PID", "ALIVE", "HEALTH", "STREAK", "MEM")))
		b.WriteString("\n")
		for i, row := range s.Services {
			alive := "yes"
			if !row.Alive {
				alive = m.theme.Dead.Render("no ")
			}
			mem := "-"
			if row.MemoryMB > 0 {
				mem = fmt.Sprintf("%dMB", row.MemoryMB)
			}
			line := fmt.Sprintf("%-16s %-8d %-6s %s %-7d %s",
				row.Name, row.PID, alive,
				m.theme.HealthStyle(row.Health).Render(fmt.Sprintf("%-10s", row.Health)),
				row.Streak, mem)
			if i == m.selected {
				b.WriteString(m.theme.Selected.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		if row, ok := m.Selected(); ok {
			b.WriteString("\n")
			header := "stderr: " + row.Name
			if row.Output != "" && row.Health != "healthy" {
				header += "  (" + firstLine(row.Output) + ")"
			}
			b.WriteString(m.theme.Title.Render(header) + "\n")
			b.WriteString(m.theme.Border.Render(m.vp.View()))
			b.WriteString("\n")
		}
	}

	b.WriteString(m.theme.Key.Render("j/k") + m.theme.Muted.Render(" select  "))
	b.WriteString(m.theme.Key.Render("r") + m.theme.Muted.Render(" refresh  "))
	b.WriteString(m.theme.Key.Render("q") + m.theme.Muted.Render(" quit"))
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
