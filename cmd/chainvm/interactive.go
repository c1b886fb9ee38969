package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/native"
	"github.com/wippyai/chainvm/paramspec"
	"github.com/wippyai/chainvm/rpc"
	"github.com/wippyai/chainvm/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newInteractiveCmd(a *app) *cobra.Command {
	var f codeFlags
	cmd := &cobra.Command{
		Use:         "interactive <file>",
		Short:       "Deploy a contract and call it from a terminal UI",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{quietAnnotation: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("interactive mode needs a terminal")
			}
			d, err := f.load(args[0])
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			m := newInteractiveModel(cmd.Context(), rt, args[0], d)
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	f.register(cmd)
	return cmd
}

// target is a contract the user can call.
type target struct {
	name     string
	addr     common.Address
	kind     string
	encoding string
}

type modelState int

const (
	stateSelectTarget modelState = iota
	stateInputCall
	stateShowReceipt
)

// Input fields of the call form.
const (
	fieldMethod = iota
	fieldParams
	fieldSender
	fieldCount
)

type interactiveModel struct {
	ctx      context.Context
	err      error
	rt       *runtime.Runtime
	code     *contract.DeployCode
	receipt  *rpc.ReceiptReply
	filename string
	targets  []target
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

func newInteractiveModel(ctx context.Context, rt *runtime.Runtime, filename string, d *contract.DeployCode) *interactiveModel {
	return &interactiveModel{
		ctx:      ctx,
		rt:       rt,
		code:     d,
		filename: filename,
		state:    stateSelectTarget,
	}
}

type deployedMsg struct {
	err     error
	targets []target
}

type receiptMsg struct {
	err     error
	receipt *rpc.ReceiptReply
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.deploy
}

func (m *interactiveModel) deploy() tea.Msg {
	addr, err := deploy(m.ctx, m.rt, m.code)
	if err != nil {
		return deployedMsg{err: err}
	}
	return deployedMsg{targets: []target{
		{name: m.filename, addr: addr, kind: m.code.VMType.String(), encoding: encodingFor(m.code.VMType)},
		{name: "ledger", addr: native.LedgerAddress, kind: "native", encoding: paramspec.EncodingFramed},
	}}
}

func encodingFor(vm contract.VMType) string {
	if vm == contract.VMLegacy {
		return paramspec.EncodingCrossVM
	}
	return paramspec.EncodingNative
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputCall {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectTarget && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectTarget && m.selected < len(m.targets)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectTarget:
				if len(m.targets) > 0 {
					m.prepareInputs()
					m.state = stateInputCall
				}
				return m, textinput.Blink

			case stateInputCall:
				return m, m.call

			case stateShowReceipt:
				m.state = stateInputCall
				m.receipt = nil
				m.err = nil
				return m, nil
			}

		case "tab", "shift+tab":
			if m.state == stateInputCall {
				step := 1
				if msg.String() == "shift+tab" {
					step = fieldCount - 1
				}
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + step) % fieldCount
				return m, m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputCall:
				m.state = stateSelectTarget
				m.inputs = nil
			case stateShowReceipt:
				m.state = stateInputCall
				m.receipt = nil
				m.err = nil
			}
			return m, nil
		}

	case deployedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.targets = msg.targets

	case receiptMsg:
		m.receipt = msg.receipt
		m.err = msg.err
		m.state = stateShowReceipt
		return m, nil
	}

	if m.state == stateInputCall {
		var cmd tea.Cmd
		m.inputs[m.focusIdx], cmd = m.inputs[m.focusIdx].Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	m.inputs = make([]textinput.Model, fieldCount)
	for i := range m.inputs {
		ti := textinput.New()
		ti.Width = 48
		m.inputs[i] = ti
	}
	m.inputs[fieldMethod].Prompt = "method: "
	m.inputs[fieldMethod].Placeholder = "add"
	m.inputs[fieldParams].Prompt = "params: "
	m.inputs[fieldParams].Placeholder = "u64:1,u64:2"
	m.inputs[fieldSender].Prompt = "sender: "
	m.inputs[fieldSender].Placeholder = "base58 or hex address"
	m.inputs[fieldMethod].Focus()
	m.focusIdx = fieldMethod
}

func (m *interactiveModel) call() tea.Msg {
	t := m.targets[m.selected]
	input, err := paramspec.ParseInput(t.encoding,
		strings.TrimSpace(m.inputs[fieldMethod].Value()),
		m.inputs[fieldParams].Value())
	if err != nil {
		return receiptMsg{err: err}
	}
	tx := &runtime.Transaction{
		Contract:  t.addr,
		Input:     input,
		Timestamp: uint64(time.Now().Unix()),
	}
	if s := strings.TrimSpace(m.inputs[fieldSender].Value()); s != "" {
		if tx.Sender, err = common.ParseAddress(s); err != nil {
			return receiptMsg{err: fmt.Errorf("sender: %w", err)}
		}
	}
	rec, err := m.rt.Execute(m.ctx, tx)
	if err != nil {
		return receiptMsg{err: err}
	}
	reply := rpc.ToReceiptReply(rec)
	return receiptMsg{receipt: &reply}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowReceipt {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if len(m.targets) == 0 {
		return "Deploying contract..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("chainvm"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectTarget:
		b.WriteString("Select a contract to call:\n\n")
		for i, t := range m.targets {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + t.name + "  " + t.addr.String()))
			} else {
				b.WriteString("  " + formatTarget(t))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputCall:
		t := m.targets[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", formatTarget(t)))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowReceipt:
		t := m.targets[m.selected]
		b.WriteString(fmt.Sprintf("Receipt of %s.%s:\n\n",
			nameStyle.Render(t.name), nameStyle.Render(m.inputs[fieldMethod].Value())))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(formatReceipt(m.receipt))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call again • esc back • q quit"))
	}
	return b.String()
}

func formatTarget(t target) string {
	return nameStyle.Render(t.name) + " " + typeStyle.Render(t.kind+"/"+t.encoding) + " " + t.addr.String()
}

func formatReceipt(r *rpc.ReceiptReply) string {
	style := resultStyle
	if r.State != runtime.Applied.String() {
		style = errorStyle
	}
	var b strings.Builder
	b.WriteString(style.Render(r.State))
	if r.Kind != "" {
		b.WriteString(" " + typeStyle.Render(r.Kind))
	}
	fmt.Fprintf(&b, "\noutput: %s\ngas:    %d\nsteps:  %d\n", orNone(r.Output), r.GasUsed, r.ExecSteps)
	for _, n := range r.Notifications {
		fmt.Fprintf(&b, "notify: %s %s\n", n.Contract, n.Data)
	}
	if r.Error != "" {
		b.WriteString(errorStyle.Render(r.Error))
	}
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
