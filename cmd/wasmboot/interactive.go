package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-bootstrap/artifact"
	"github.com/wippyai/wasm-bootstrap/bootstrap"
	"github.com/wippyai/wasm-bootstrap/config"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	outputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#666666")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateEditPath modelState = iota
	stateRunning
	stateShowResult
)

// lockedBuffer collects guest output written from the bootstrap goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type interactiveModel struct {
	err     error
	outcome *bootstrap.Outcome
	stages  <-chan bootstrap.Stage
	reports []string
	seen    []bootstrap.Stage
	stdout  string
	stderr  string
	cfg     config.Config
	input   textinput.Model
	spinner spinner.Model
	started time.Time
	state   modelState
}

type stageMsg bootstrap.Stage

type finishedMsg struct {
	err     error
	outcome *bootstrap.Outcome
	reports []string
	stdout  string
	stderr  string
}

func newInteractiveModel(cfg config.Config) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "artifact: "
	ti.Placeholder = artifact.DefaultPath
	ti.SetValue(cfg.Artifact)
	ti.Width = 60
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = stageStyle

	return &interactiveModel{
		cfg:     cfg,
		input:   ti,
		spinner: sp,
		state:   stateEditPath,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

// launch starts one bootstrap run with the edited artifact path. Each run
// gets a fresh loader and load hook.
func (m *interactiveModel) launch() tea.Cmd {
	cfg := m.cfg
	cfg.Artifact = strings.TrimSpace(m.input.Value())

	stages := make(chan bootstrap.Stage, 16)
	m.stages = stages
	m.seen = nil
	m.outcome = nil
	m.reports = nil
	m.err = nil
	m.started = time.Now()
	m.state = stateRunning

	exec := func() tea.Msg {
		defer close(stages)

		var stdout, stderr lockedBuffer
		rec := &bootstrap.Recorder{}
		out, err := run(context.Background(), cfg, runEnv{
			sink:     rec,
			observer: func(s bootstrap.Stage) { stages <- s },
			stdin:    strings.NewReader(""),
			stdout:   &stdout,
			stderr:   &stderr,
		})

		msg := finishedMsg{
			err:     err,
			outcome: out,
			stdout:  stdout.String(),
			stderr:  stderr.String(),
		}
		for _, r := range rec.Reports() {
			msg.reports = append(msg.reports, r.Error())
		}
		return msg
	}

	return tea.Batch(exec, m.spinner.Tick, waitForStage(stages))
}

func waitForStage(ch <-chan bootstrap.Stage) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return stageMsg(s)
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateEditPath {
				return m, tea.Quit
			}

		case "enter":
			switch m.state {
			case stateEditPath:
				if strings.TrimSpace(m.input.Value()) == "" {
					return m, nil
				}
				m.input.Blur()
				return m, m.launch()

			case stateShowResult:
				m.state = stateEditPath
				m.input.Focus()
				return m, textinput.Blink
			}

		case "esc":
			if m.state == stateEditPath {
				return m, tea.Quit
			}
		}

	case stageMsg:
		m.seen = append(m.seen, bootstrap.Stage(msg))
		return m, waitForStage(m.stages)

	case finishedMsg:
		m.err = msg.err
		m.outcome = msg.outcome
		m.reports = msg.reports
		m.stdout = msg.stdout
		m.stderr = msg.stderr
		m.state = stateShowResult
		return m, nil

	case spinner.TickMsg:
		if m.state != stateRunning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.state == stateEditPath {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Bootstrap"))
	if m.cfg.Base != "" {
		b.WriteString(" ")
		b.WriteString(m.cfg.Base)
	}
	b.WriteString("\n\n")

	switch m.state {
	case stateEditPath:
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter load • esc quit"))

	case stateRunning:
		b.WriteString(m.spinner.View())
		b.WriteString(" loading ")
		b.WriteString(m.input.Value())
		b.WriteString("\n\n")
		b.WriteString(m.stageList())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render(fmt.Sprintf("%s elapsed • q quit", time.Since(m.started).Round(time.Millisecond))))

	case stateShowResult:
		b.WriteString(m.stageList())
		b.WriteString("\n")
		switch {
		case m.err != nil:
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		case m.outcome != nil && m.outcome.OK():
			b.WriteString(doneStyle.Render(fmt.Sprintf("%s returned in %s", m.cfg.Entry, m.outcome.Duration.Round(time.Microsecond))))
		default:
			for _, r := range m.reports {
				b.WriteString(errorStyle.Render(r))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")

		if m.stdout != "" {
			b.WriteString("\nstdout\n")
			b.WriteString(outputStyle.Render(strings.TrimRight(m.stdout, "\n")))
			b.WriteString("\n")
		}
		if m.stderr != "" {
			b.WriteString("\nstderr\n")
			b.WriteString(outputStyle.Render(strings.TrimRight(m.stderr, "\n")))
			b.WriteString("\n")
		}

		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter load again • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) stageList() string {
	var b strings.Builder
	for _, s := range m.seen {
		style := stageStyle
		switch s {
		case bootstrap.StageDone:
			style = doneStyle
		case bootstrap.StageFailed:
			style = errorStyle
		}
		b.WriteString("  ")
		b.WriteString(style.Render(s.String()))
		b.WriteString("\n")
	}
	return b.String()
}

func runInteractive(cfg config.Config) error {
	p := tea.NewProgram(newInteractiveModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
