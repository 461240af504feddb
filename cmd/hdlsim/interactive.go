package main

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/runtime"
)

// interactive.go is a terminal front panel over a running Core: a list of
// input variables to poke, single-step/tick2 controls, and a live watch
// list of outputs. Grounded on cmd/run/interactive.go's bubbletea model,
// adapted from "pick a component export and call it once" to "drive a
// running simulation instance continuously".

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type panelState int

const (
	stateWatch panelState = iota
	statePoke
)

type panelModel struct {
	mod     *ir.ModuleDef
	log     *zap.Logger
	core    *runtime.Core
	err     error
	inputs  []string
	outputs []string
	state   panelState
	selected int
	edit    textinput.Model
}

func newPanelModel(mod *ir.ModuleDef, log *zap.Logger) *panelModel {
	m := &panelModel{mod: mod, log: log}
	for _, name := range mod.VarOrder {
		v := mod.VarDefs[name]
		if v.IsInput {
			m.inputs = append(m.inputs, name)
		} else if v.IsOutput {
			m.outputs = append(m.outputs, name)
		}
	}
	return m
}

type readyMsg struct {
	core *runtime.Core
	err  error
}

func (m *panelModel) Init() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		core, err := runtime.New(m.mod, nil, runtime.Options{Logger: m.log})
		if err != nil {
			return readyMsg{err: err}
		}
		if err := core.Init(ctx); err != nil {
			return readyMsg{err: err}
		}
		if err := core.Powercycle(ctx); err != nil {
			return readyMsg{err: err}
		}
		return readyMsg{core: core}
	}
}

func (m *panelModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case readyMsg:
		m.core = msg.core
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		if m.core == nil {
			return m, nil
		}
		if m.state == statePoke {
			return m.updatePoke(msg)
		}
		return m.updateWatch(msg)
	}
	return m, nil
}

func (m *panelModel) updateWatch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx := context.Background()
	switch msg.String() {
	case "ctrl+c", "q":
		if m.core != nil {
			m.core.Dispose(ctx)
		}
		return m, tea.Quit
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.inputs)-1 {
			m.selected++
		}
	case "t":
		m.err = m.core.Tick(ctx)
	case "T":
		m.err = m.core.Tick2(ctx, 60)
	case "p":
		m.err = m.core.Powercycle(ctx)
	case "r":
		m.err = m.core.Reset(ctx)
	case "enter":
		if len(m.inputs) == 0 {
			return m, nil
		}
		name := m.inputs[m.selected]
		cur, err := m.core.State().Get(name)
		m.err = err
		ti := textinput.New()
		ti.Prompt = name + " = "
		ti.SetValue(formatPanelValue(cur))
		ti.Focus()
		m.edit = ti
		m.state = statePoke
	}
	return m, nil
}

func (m *panelModel) updatePoke(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state = stateWatch
		return m, nil
	case "enter":
		name := m.inputs[m.selected]
		v, err := parsePanelValue(m.edit.Value())
		if err != nil {
			m.err = err
		} else {
			m.err = m.core.State().Set(name, v)
		}
		m.state = stateWatch
		return m, nil
	}
	var cmd tea.Cmd
	m.edit, cmd = m.edit.Update(msg)
	return m, cmd
}

func (m *panelModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("hdlsim front panel"))
	b.WriteString(" ")
	b.WriteString(m.mod.Name)
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n\n")
	}
	if m.core == nil {
		b.WriteString("loading...\n")
		return b.String()
	}

	b.WriteString("Inputs:\n")
	for i, name := range m.inputs {
		cursor := "  "
		line := name
		if v, err := m.core.State().Get(name); err == nil {
			line = name + " = " + formatPanelValue(v)
		}
		if i == m.selected && m.state == stateWatch {
			cursor = "> "
			b.WriteString(selectedStyle.Render(cursor + inputStyle.Render(line)))
		} else {
			b.WriteString(cursor + inputStyle.Render(line))
		}
		b.WriteString("\n")
	}

	if m.state == statePoke {
		b.WriteString("\n" + m.edit.View() + "\n")
	}

	b.WriteString("\nOutputs:\n")
	for _, name := range m.outputs {
		v, err := m.core.State().Get(name)
		if err != nil {
			continue
		}
		b.WriteString("  " + outputStyle.Render(name+" = "+formatPanelValue(v)) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("t tick • T tick2(60) • p powercycle • r reset • enter poke • esc cancel • q quit"))
	return b.String()
}

func formatPanelValue(v any) string {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case []byte:
		return fmt.Sprintf("% x", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func parsePanelValue(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}

func runInteractive(mod *ir.ModuleDef, log *zap.Logger) error {
	p := tea.NewProgram(newPanelModel(mod, log), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
