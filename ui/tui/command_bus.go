package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// busCommand is one line of commands.jsonl.
type busCommand struct {
	Version int    `json:"version"`
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Keys    string `json:"keys,omitempty"`
	Source  string `json:"source,omitempty"` // cli|tui|system
}

// initCommandBus creates the bus file if needed. Commands written before
// startup are skipped.
func initCommandBus(path string) int64 {
	if strings.TrimSpace(path) == "" {
		return 0
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	st, err := os.Stat(path)
	if err != nil {
		_ = os.WriteFile(path, []byte{}, 0o644)
		return 0
	}
	return st.Size()
}

func (m appModel) consumeCommandBus() (appModel, tea.Cmd) {
	if strings.TrimSpace(m.commandBusPath) == "" {
		return m, nil
	}
	cmds, newOffset := readBusCommands(m.commandBusPath, m.commandBusOffset)
	m.commandBusOffset = newOffset
	var outCmds []tea.Cmd
	for _, c := range cmds {
		var cmd tea.Cmd
		m, cmd = m.applyBusCommand(c)
		if cmd != nil {
			outCmds = append(outCmds, cmd)
		}
		if m.quitRequested {
			break
		}
	}
	if len(outCmds) == 0 {
		return m, nil
	}
	return m, tea.Batch(outCmds...)
}

func readBusCommands(path string, offset int64) ([]busCommand, int64) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset
	}
	defer f.Close()

	st, err := f.Stat()
	if err == nil && offset > st.Size() {
		// Truncated or replaced; start over.
		offset = 0
	}

	if offset > 0 {
		if _, err := f.Seek(offset, 0); err != nil {
			return nil, offset
		}
	}

	var cmds []busCommand
	reader := bufio.NewReader(f)
	cur := offset
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A partial trailing line is picked up on the next read.
			break
		}
		cur += int64(len(line))
		txt := strings.TrimSpace(line)
		if txt == "" {
			continue
		}
		var c busCommand
		if json.Unmarshal([]byte(txt), &c) == nil && c.Version == 1 && strings.TrimSpace(c.Type) != "" {
			cmds = append(cmds, c)
		}
	}
	return cmds, cur
}

func (m appModel) applyBusCommand(c busCommand) (appModel, tea.Cmd) {
	src := strings.TrimSpace(c.Source)
	if src == "" {
		src = "cli"
	}
	prevSource := m.actionSource
	m.actionSource = src
	m, cmd := m.dispatchBusCommand(c, src)
	m.actionSource = prevSource
	return m, cmd
}

func (m appModel) dispatchBusCommand(c busCommand, src string) (appModel, tea.Cmd) {
	text := strings.TrimSpace(c.Text)
	switch strings.TrimSpace(strings.ToLower(c.Type)) {
	case "stop":
		m.systemAlert(alertInfo, "session.stop", "Stop requested", map[string]any{"source": src})
		m = m.closeAllOverlays()
		m.quitRequested = true
		return m, tea.Quit
	case "key":
		keys := splitKeys(c.Keys)
		var cmds []tea.Cmd
		for _, k := range keys {
			if m.quitRequested {
				break
			}
			var cmd tea.Cmd
			m, cmd = m.applySyntheticKey(k)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
		if len(cmds) == 0 {
			return m, nil
		}
		return m, tea.Batch(cmds...)
	case "switch":
		if text == "" {
			return m.rejectBusCommand(c, "missing model id")
		}
		return m.switchModel(text)
	case "clear-cooldown":
		if text == "" {
			return m.rejectBusCommand(c, "missing profile id")
		}
		return m.clearCooldown(text)
	case "restart":
		return m.restartGateway()
	case "verbose":
		want := !m.verbose
		switch strings.ToLower(text) {
		case "on", "true", "1":
			want = true
		case "off", "false", "0":
			want = false
		}
		if want != m.verbose {
			m = m.toggleVerbose()
		}
		return m, nil
	case "refresh":
		m.recordCommand("refresh", "", newCorrelationID())
		return m.startRefresh()
	case "remove-provider":
		if text == "" {
			return m.rejectBusCommand(c, "missing provider id")
		}
		return m.removeProvider(text)
	default:
		m.systemAlert(alertWarn, "command.unknown", "Unknown bus command type", map[string]any{"type": c.Type})
		return m, nil
	}
}

func (m appModel) rejectBusCommand(c busCommand, reason string) (appModel, tea.Cmd) {
	m.systemAlert(alertWarn, "command.invalid", "Invalid bus command: "+reason, map[string]any{"type": c.Type})
	return m, nil
}

func splitKeys(keys string) []string {
	raw := strings.FieldsFunc(keys, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		s := strings.TrimSpace(t)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// syntheticKeys maps bus key names to key types. Anything else is sent as
// runes.
var syntheticKeys = map[string]tea.KeyType{
	"enter":     tea.KeyEnter,
	"esc":       tea.KeyEscape,
	"escape":    tea.KeyEscape,
	"up":        tea.KeyUp,
	"down":      tea.KeyDown,
	"tab":       tea.KeyTab,
	"shift+tab": tea.KeyShiftTab,
	"backspace": tea.KeyBackspace,
	"end":       tea.KeyEnd,
	"pgup":      tea.KeyPgUp,
	"pgdown":    tea.KeyPgDown,
	"ctrl+s":    tea.KeyCtrlS,
	"ctrl+r":    tea.KeyCtrlR,
	"ctrl+c":    tea.KeyCtrlC,
	"ctrl+v":    tea.KeyCtrlV,
	"ctrl+p":    tea.KeyCtrlP,
	"ctrl+u":    tea.KeyCtrlU,
	"ctrl+n":    tea.KeyCtrlN,
	"ctrl+d":    tea.KeyCtrlD,
	"ctrl+q":    tea.KeyCtrlQ,
}

func (m appModel) applySyntheticKey(token string) (appModel, tea.Cmd) {
	t := strings.TrimSpace(token)
	if t == "" {
		return m, nil
	}
	msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(t)}
	if kt, ok := syntheticKeys[strings.ToLower(t)]; ok {
		msg = tea.KeyMsg{Type: kt}
	} else if strings.EqualFold(t, "space") {
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}

	next, cmd := m.Update(msg)
	if am, ok := next.(appModel); ok {
		m = am
	}
	return m, cmd
}
