package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/livebook-dev/pythonx"
	"github.com/livebook-dev/pythonx/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#3572A5")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCCCCC"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	bindingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// replEntry is one finished evaluation in the transcript.
type replEntry struct {
	source string
	output string
	result string
	errMsg string
}

type replModel struct {
	cfg      runtime.Config
	rt       *runtime.Runtime
	err      error
	input    textinput.Model
	entries  []replEntry
	globals  map[string]*runtime.Object
	busy     bool
	loadedOK bool
}

// captureDevice buffers evaluation output for the transcript.
type captureDevice struct {
	mu sync.Mutex
	b  strings.Builder
}

func (d *captureDevice) WriteOutput(stream pythonx.Stream, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if stream == pythonx.Stderr {
		d.b.WriteString(errorStyle.Render(text))
		return
	}
	d.b.WriteString(text)
}

func (d *captureDevice) contents() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.b.String()
}

func newReplModel(cfg runtime.Config) *replModel {
	ti := textinput.New()
	ti.Prompt = ">>> "
	ti.PromptStyle = promptStyle
	ti.Width = 72
	ti.Focus()

	return &replModel{
		cfg:     cfg,
		input:   ti,
		globals: make(map[string]*runtime.Object),
	}
}

type initDoneMsg struct {
	rt  *runtime.Runtime
	err error
}

type evalDoneMsg struct {
	entry   replEntry
	globals map[string]*runtime.Object
}

func (m *replModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.initRuntime)
}

func (m *replModel) initRuntime() tea.Msg {
	rt, err := runtime.Init(context.Background(), m.cfg)
	return initDoneMsg{rt: rt, err: err}
}

func (m *replModel) evalCmd(source string) tea.Cmd {
	rt := m.rt
	globals := make(map[string]any, len(m.globals))
	for name, obj := range m.globals {
		globals[name] = obj
	}

	return func() tea.Msg {
		out := &captureDevice{}
		entry := replEntry{source: source}

		result, err := rt.Eval(context.Background(), source, runtime.EvalOptions{
			Globals: globals,
			Stdout:  out,
			Stderr:  out,
		})
		entry.output = out.contents()
		if err != nil {
			if pyErr, ok := err.(*runtime.PyErr); ok && pyErr.Traceback != "" {
				entry.errMsg = strings.TrimRight(pyErr.Traceback, "\n")
			} else {
				entry.errMsg = err.Error()
			}
			return evalDoneMsg{entry: entry}
		}

		if result.Value != nil {
			if repr, reprErr := result.Value.Repr(); reprErr == nil {
				entry.result = repr
			}
			result.Value.Release()
		}
		return evalDoneMsg{entry: entry, globals: result.Globals}
	}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			m.shutdown()
			return m, tea.Quit

		case "enter":
			if m.busy || !m.loadedOK {
				return m, nil
			}
			source := strings.TrimSpace(m.input.Value())
			if source == "" {
				return m, nil
			}
			m.input.SetValue("")
			m.busy = true
			return m, m.evalCmd(source)
		}

	case initDoneMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.loadedOK = true

	case evalDoneMsg:
		m.busy = false
		m.entries = append(m.entries, msg.entry)
		if msg.globals != nil {
			// new bindings replace old ones; drop replaced handles
			for name, obj := range msg.globals {
				if old, ok := m.globals[name]; ok {
					old.Release()
				}
				m.globals[name] = obj
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *replModel) shutdown() {
	for _, obj := range m.globals {
		obj.Release()
	}
	if m.rt != nil {
		m.rt.Close(context.Background())
	}
}

func (m *replModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("pythonx"))
	b.WriteString(" interactive interpreter\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("ctrl+c quit"))
		return b.String()
	}
	if !m.loadedOK {
		b.WriteString("Loading interpreter...\n")
		return b.String()
	}

	for _, entry := range m.entries {
		b.WriteString(promptStyle.Render(">>> "))
		b.WriteString(entry.source)
		b.WriteString("\n")
		if entry.output != "" {
			b.WriteString(outputStyle.Render(entry.output))
			if !strings.HasSuffix(entry.output, "\n") {
				b.WriteString("\n")
			}
		}
		if entry.errMsg != "" {
			b.WriteString(errorStyle.Render(entry.errMsg))
			b.WriteString("\n")
		}
		if entry.result != "" {
			b.WriteString(resultStyle.Render(entry.result))
			b.WriteString("\n")
		}
	}

	if m.busy {
		b.WriteString("running...\n")
	} else {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	if len(m.globals) > 0 {
		names := make([]string, 0, len(m.globals))
		for name := range m.globals {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\n")
		b.WriteString(bindingStyle.Render("bindings: " + strings.Join(names, ", ")))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter evaluate • ctrl+c quit"))
	return b.String()
}

func runInteractive(cfg runtime.Config) error {
	p := tea.NewProgram(newReplModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
