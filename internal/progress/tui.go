package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/tilepull/internal/work"
)

// --- Styles ---
var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle = lipgloss.NewStyle().Padding(0, 1)
	headerStyle      = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	tileStatusStyle  = map[string]lipgloss.Style{
		"Queued":     lipgloss.NewStyle().Foreground(lipgloss.Color("248")),
		"Fetching":   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"Extracting": lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		"Complete":   lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		"Skipped":    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		"Error":      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// --- Messages ---

// TileMsg updates the display line for one tile.
type TileMsg struct {
	Key     string
	Status  string
	ErrMsg  string
	Elapsed time.Duration
}

// FinishedMsg signals the end of the pass.
type FinishedMsg struct {
	Err error
}

// TileProgress is the display state for one tile line.
type TileProgress struct {
	Key     string
	Status  string
	ErrMsg  string
	Start   time.Time
	Elapsed time.Duration
}

// Model is the live terminal display for one pass. Worker goroutines feed it
// through Msgs; a cancel function wired by the caller stops the pipeline
// when the user quits.
type Model struct {
	TaskTag string
	Total   int
	Msgs    chan tea.Msg
	Cancel  func()

	spinner spinner.Model
	bar     progress.Model

	mu        sync.RWMutex
	tiles     map[string]*TileProgress
	tileOrder []string
	current   int

	finished bool
	finalErr error
	quitting bool

	termWidth  int
	termHeight int
}

// NewModel builds the display for a pass over total items. cancel is invoked
// when the user quits mid-pass; it may be nil.
func NewModel(taskTag string, total int, cancel func()) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &Model{
		TaskTag: taskTag,
		Total:   total,
		Msgs:    make(chan tea.Msg, 64),
		Cancel:  cancel,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient()),
		tiles:   make(map[string]*TileProgress),
	}
}

// Publish translates a pipeline outcome into display messages. Safe to call
// from any goroutine.
func (m *Model) Publish(oc work.Outcome) {
	status := "Complete"
	errMsg := ""
	switch oc.Status {
	case work.StatusSkipped:
		status = "Skipped"
	case work.StatusFailed:
		status = "Error"
		if oc.Err != nil {
			errMsg = oc.Err.Error()
		}
	}
	m.Msgs <- TileMsg{Key: oc.Item.Key.String(), Status: status, ErrMsg: errMsg, Elapsed: oc.Elapsed}
}

// PublishStage marks a tile as entering a stage ("Fetching", "Extracting").
func (m *Model) PublishStage(key, stage string) {
	m.Msgs <- TileMsg{Key: key, Status: stage}
}

// Finish signals the end of the pass. Call exactly once, after the last
// Publish.
func (m *Model) Finish(err error) {
	m.Msgs <- FinishedMsg{Err: err}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForActivity())
}

func (m *Model) waitForActivity() tea.Cmd {
	return func() tea.Msg {
		return <-m.Msgs
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			if m.Cancel != nil {
				m.Cancel()
			}
			if m.finished {
				return m, tea.Quit
			}
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.bar.Width = max(0, m.termWidth-12)
	case TileMsg:
		m.applyTileMsg(msg)
		var percent float64
		if m.Total > 0 {
			percent = float64(m.current) / float64(m.Total)
		}
		cmds = append(cmds, m.bar.SetPercent(percent), m.waitForActivity())
	case FinishedMsg:
		m.finished = true
		m.finalErr = msg.Err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case progress.FrameMsg:
		barModel, cmd := m.bar.Update(msg)
		if newBar, ok := barModel.(progress.Model); ok {
			m.bar = newBar
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) applyTileMsg(msg TileMsg) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, exists := m.tiles[msg.Key]
	if !exists {
		tp = &TileProgress{Key: msg.Key, Status: "Queued", Start: time.Now()}
		m.tiles[msg.Key] = tp
		m.tileOrder = append(m.tileOrder, msg.Key)
	}
	tp.Status = msg.Status
	tp.ErrMsg = msg.ErrMsg
	if msg.Elapsed > 0 {
		tp.Elapsed = msg.Elapsed
	}
	if terminalStatus(msg.Status) {
		m.current++
		if tp.Elapsed == 0 {
			tp.Elapsed = time.Since(tp.Start)
		}
	}
}

func terminalStatus(status string) bool {
	return status == "Complete" || status == "Skipped" || status == "Error"
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("--- tilepull ---"))
	b.WriteString("\n\n")

	if m.quitting && !m.finished {
		b.WriteString(infoStyle.Render("Stopping... waiting for in-flight tiles to finish."))
		b.WriteString("\n\n")
	}

	m.mu.RLock()
	b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), m.TaskTag))
	b.WriteString(progressBarStyle.Render(m.bar.View()))
	b.WriteString(fmt.Sprintf(" (%d/%d)\n\n", m.current, m.Total))

	maxLines := m.termHeight - 10
	if maxLines < 1 {
		maxLines = 1
	}
	startIdx := 0
	if len(m.tileOrder) > maxLines {
		startIdx = len(m.tileOrder) - maxLines
	}

	if len(m.tileOrder) > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-12s | %-12s | %s", "Tile", "Status", "Elapsed")))
		b.WriteString("\n")
		for i := startIdx; i < len(m.tileOrder); i++ {
			tp := m.tiles[m.tileOrder[i]]
			if tp == nil {
				continue
			}
			style, ok := tileStatusStyle[tp.Status]
			if !ok {
				style = infoStyle
			}
			elapsedStr := ""
			if tp.Elapsed > 0 {
				elapsedStr = tp.Elapsed.Round(time.Millisecond).String()
			} else if !terminalStatus(tp.Status) && tp.Status != "Queued" {
				elapsedStr = time.Since(tp.Start).Round(time.Second).String() + "..."
			}
			b.WriteString(fmt.Sprintf("%-12s | %-12s | %s", tp.Key, style.Render(tp.Status), elapsedStr))
			if tp.Status == "Error" && tp.ErrMsg != "" {
				b.WriteString("\n")
				errMsg := "  -> " + tp.ErrMsg
				if m.termWidth > 0 && len(errMsg) >= m.termWidth {
					errMsg = errMsg[:m.termWidth-1]
				}
				b.WriteString(errorStyle.Render(errMsg))
			}
			b.WriteString("\n")
		}
	}
	m.mu.RUnlock()

	b.WriteString("\n")
	b.WriteString(infoStyle.Render("'q' or Ctrl+C to stop."))
	b.WriteString("\n")
	return b.String()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
