package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-bridge/bridge"
	"github.com/wippyai/lua-bridge/config"
	"github.com/wippyai/lua-bridge/value"
)

const maxEntries = 200

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	codeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type replEntry struct {
	code   string
	output string
	failed bool
}

type replState int

const (
	stateLoading replState = iota
	stateReady
	stateRunning
)

type replModel struct {
	ctx     context.Context
	err     error
	bridge  *bridge.Bridge
	open    func(context.Context) (*bridge.Bridge, error)
	entries []replEntry
	history []string
	input   textinput.Model
	histIdx int
	state   replState
}

func newREPLModel(ctx context.Context, open func(context.Context) (*bridge.Bridge, error)) *replModel {
	ti := textinput.New()
	ti.Prompt = "lua> "
	ti.Placeholder = "expression or statement"
	ti.Width = 72
	ti.Focus()

	return &replModel{
		ctx:   ctx,
		open:  open,
		input: ti,
		state: stateLoading,
	}
}

type openedMsg struct {
	err    error
	bridge *bridge.Bridge
}

type evalMsg struct {
	err  error
	code string
	out  []value.Value
}

func (m *replModel) Init() tea.Cmd {
	return tea.Batch(m.openBridge, textinput.Blink)
}

func (m *replModel) openBridge() tea.Msg {
	b, err := m.open(m.ctx)
	return openedMsg{bridge: b, err: err}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d", "esc":
			m.close()
			return m, tea.Quit

		case "ctrl+l":
			m.entries = nil
			return m, nil

		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			return m, nil

		case "enter":
			if m.state != stateReady {
				return m, nil
			}
			code := strings.TrimSpace(m.input.Value())
			if code == "" {
				return m, nil
			}
			m.history = append(m.history, code)
			m.histIdx = len(m.history)
			m.input.SetValue("")
			m.state = stateRunning
			return m, m.eval(code)
		}

	case openedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.bridge = msg.bridge
		m.state = stateReady

	case evalMsg:
		m.state = stateReady
		entry := replEntry{code: msg.code}
		if msg.err != nil {
			entry.output = msg.err.Error()
			entry.failed = true
		} else {
			entry.output = formatResults(msg.out)
		}
		m.entries = append(m.entries, entry)
		if len(m.entries) > maxEntries {
			m.entries = m.entries[len(m.entries)-maxEntries:]
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *replModel) eval(code string) tea.Cmd {
	b := m.bridge
	return func() tea.Msg {
		out, err := evalLine(m.ctx, b, code)
		return evalMsg{code: code, out: out, err: err}
	}
}

func (m *replModel) close() {
	if m.bridge != nil {
		_ = m.bridge.Close()
		m.bridge = nil
	}
}

func (m *replModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.err))
	}
	if m.state == stateLoading {
		return "Starting Lua..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Lua REPL"))
	b.WriteString("\n\n")

	for _, e := range m.entries {
		b.WriteString(codeStyle.Render("> " + e.code))
		b.WriteString("\n")
		switch {
		case e.failed:
			b.WriteString(errorStyle.Render(e.output))
			b.WriteString("\n")
		case e.output != "":
			b.WriteString(resultStyle.Render(e.output))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.state == stateRunning {
		b.WriteString(helpStyle.Render("running..."))
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter run • ↑/↓ history • ctrl+l clear • esc quit"))

	return b.String()
}

// evalLine runs a REPL line as an expression first, so "1 + 1" prints 2,
// and falls back to running it as a statement when that does not parse.
func evalLine(ctx context.Context, b *bridge.Bridge, line string) ([]value.Value, error) {
	out, err := b.Execute(ctx, "return "+line)
	var apiErr *lua.ApiError
	if err != nil && stderrors.As(err, &apiErr) && apiErr.Type == lua.ApiErrorSyntax {
		return b.Execute(ctx, line)
	}
	return out, err
}

func runInteractive(ctx context.Context, cfg config.Config, opts []bridge.Option) error {
	m := newREPLModel(ctx, func(ctx context.Context) (*bridge.Bridge, error) {
		return cfg.Create(ctx, opts...)
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	m.close()
	return err
}
