package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"clawdash/internal/providers"
)

type wizardKind int

const (
	wizardAPIKey wizardKind = iota
	wizardOAuth
	wizardCustom
)

var wizardKinds = []struct {
	name string
	desc string
}{
	{"API Key", "Groq, OpenCode, custom endpoints"},
	{"OAuth", "Google, Qwen browser-based login"},
	{"Custom", "New OpenAI-compatible endpoint"},
}

var wizardConfirmOptions = []string{
	"Add and include in rotation",
	"Add without adding to rotation",
	"Cancel",
}

const (
	fieldName = iota
	fieldURL
	fieldKey
)

// wizardState is the add-provider flow: type select, form, confirm.
type wizardState struct {
	step          int
	typeCursor    int
	kind          wizardKind
	inputs        [3]textinput.Model
	focus         int
	confirmCursor int
	err           string
}

func newWizardState() wizardState {
	return wizardState{
		step: 1,
		inputs: [3]textinput.Model{
			newFormInput("groq", false),
			newFormInput("https://api.groq.com/openai/v1", false),
			newFormInput("sk-...", true),
		},
	}
}

func (w wizardState) reset() wizardState { return newWizardState() }

func (w wizardState) value(field int) string {
	return strings.TrimSpace(w.inputs[field].Value())
}

func (w wizardState) newProvider(addToRotation bool) providers.NewProvider {
	return providers.NewProvider{
		Name:          w.value(fieldName),
		BaseURL:       w.value(fieldURL),
		APIKey:        w.value(fieldKey),
		AddToRotation: addToRotation,
	}
}

func (w wizardState) focusField(i int) (wizardState, tea.Cmd) {
	for j := range w.inputs {
		w.inputs[j].Blur()
	}
	w.focus = (i + len(w.inputs)) % len(w.inputs)
	return w, w.inputs[w.focus].Focus()
}

func (m appModel) openWizard() (tea.Model, tea.Cmd) {
	m.wiz = newWizardState()
	return m.openOverlay(overlayAddProvider), nil
}

func (m appModel) updateWizard(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.wiz.step {
	case 1:
		return m.updateWizardType(k)
	case 2:
		if m.wiz.kind == wizardOAuth {
			return m, nil
		}
		return m.updateWizardForm(k)
	default:
		return m.updateWizardConfirm(k)
	}
}

func (m appModel) updateWizardType(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.Type {
	case tea.KeyUp:
		m.wiz.typeCursor = max(0, m.wiz.typeCursor-1)
	case tea.KeyDown:
		m.wiz.typeCursor = clamp(m.wiz.typeCursor+1, 0, len(wizardKinds)-1)
	case tea.KeyEnter:
		m.wiz.kind = wizardKind(m.wiz.typeCursor)
		m.wiz.step = 2
		if m.wiz.kind == wizardOAuth {
			return m.startOAuthLogin()
		}
		if m.wiz.kind == wizardCustom {
			m.wiz.inputs[fieldName].Placeholder = "my-provider"
			m.wiz.inputs[fieldURL].Placeholder = "http://localhost:8080/v1"
		}
		var cmd tea.Cmd
		m.wiz, cmd = m.wiz.focusField(fieldName)
		return m, cmd
	}
	return m, nil
}

func (m appModel) startOAuthLogin() (tea.Model, tea.Cmd) {
	gw := m.deps.gateway
	if gw == nil {
		m.systemAlert(alertError, "gateway.unavailable", "No gateway client configured", nil)
		return m.closeOverlay(), nil
	}
	next, cmd := m.runAction(actionAuthLogin, "", func(ctx context.Context) error {
		return gw.AuthLogin(ctx)
	})
	if cmd == nil {
		return next.closeOverlay(), nil
	}
	return next, cmd
}

func (m appModel) updateWizardForm(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch k.Type {
	case tea.KeyTab, tea.KeyDown:
		m.wiz, cmd = m.wiz.focusField(m.wiz.focus + 1)
		return m, cmd
	case tea.KeyShiftTab, tea.KeyUp:
		m.wiz, cmd = m.wiz.focusField(m.wiz.focus - 1)
		return m, cmd
	case tea.KeyEnter:
		name, url := m.wiz.value(fieldName), m.wiz.value(fieldURL)
		switch {
		case name == "" || url == "":
			m.wiz.err = "name and base URL are required"
			return m, nil
		case strings.Contains(name, "/"):
			m.wiz.err = "name must not contain '/'"
			return m, nil
		}
		m.wiz.err = ""
		for j := range m.wiz.inputs {
			m.wiz.inputs[j].Blur()
		}
		m.wiz.step = 3
		m.wiz.confirmCursor = 0
		return m, nil
	}
	m.wiz.inputs[m.wiz.focus], cmd = m.wiz.inputs[m.wiz.focus].Update(k)
	return m, cmd
}

// updateWizardInputs forwards non-key messages such as cursor blinks.
func (m appModel) updateWizardInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.wiz.step != 2 || m.wiz.kind == wizardOAuth {
		return m, nil
	}
	var cmd tea.Cmd
	m.wiz.inputs[m.wiz.focus], cmd = m.wiz.inputs[m.wiz.focus].Update(msg)
	return m, cmd
}

func (m appModel) updateWizardConfirm(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.Type {
	case tea.KeyUp:
		m.wiz.confirmCursor = max(0, m.wiz.confirmCursor-1)
	case tea.KeyDown:
		m.wiz.confirmCursor = clamp(m.wiz.confirmCursor+1, 0, len(wizardConfirmOptions)-1)
	case tea.KeyEnter:
		if m.wiz.confirmCursor == len(wizardConfirmOptions)-1 {
			return m.closeOverlay(), nil
		}
		np := m.wiz.newProvider(m.wiz.confirmCursor == 0)
		m = m.closeOverlay()
		return m.addProvider(np)
	}
	return m, nil
}

func (m appModel) addProvider(np providers.NewProvider) (appModel, tea.Cmd) {
	reg := m.deps.providers
	if reg == nil {
		m.systemAlert(alertError, "providers.unavailable", "No gateway config configured", nil)
		return m, nil
	}
	return m.runAction(actionAddProvider, np.Name, func(context.Context) error {
		return reg.Add(np)
	})
}

func (m appModel) viewWizard() string {
	th := m.th
	w := m.wiz
	var lines []string
	switch {
	case w.step == 1:
		lines = append(lines, th.Header.Render(" ADD PROVIDER  (1/3)"), "", th.Muted.Render("  Select provider type"), "")
		for i, k := range wizardKinds {
			if i == w.typeCursor {
				lines = append(lines, th.Accent.Render("► ")+th.Selected.Render(fmt.Sprintf("%-12s  %s", k.name, k.desc)))
			} else {
				lines = append(lines, th.Muted.Render(fmt.Sprintf("   %-12s  %s", k.name, k.desc)))
			}
		}
		lines = append(lines, "", th.Muted.Render(" Up/Down  Enter:select  Esc:cancel"))
	case w.step == 2 && w.kind == wizardOAuth:
		lines = append(lines,
			th.Header.Render(" ADD PROVIDER  (2/3) OAuth"),
			"",
			"  Launching browser auth...",
			th.Muted.Render("  (Paste URL in browser if it does not open)"),
			"",
			"  Run manually:",
			th.Accent.Render("  openclaw models auth login"),
			"",
			"  "+m.spinner.View()+th.Muted.Render(" Waiting for browser callback..."),
			"",
			th.Muted.Render(" Esc:close (login keeps running)"),
		)
	case w.step == 2:
		title, nameLabel, keyLabel := " ADD PROVIDER  (2/3) API Key", "Provider name", "API Key"
		if w.kind == wizardCustom {
			title, nameLabel, keyLabel = " ADD PROVIDER  (2/3) Custom", "Provider ID", "API Key (optional)"
		}
		lines = append(lines, th.Header.Render(title), "")
		for i, label := range []string{nameLabel, "Base URL", keyLabel} {
			style := th.Muted
			if i == w.focus {
				style = th.Accent
			}
			lines = append(lines, style.Render("  "+label), "  "+w.inputs[i].View())
		}
		if w.err != "" {
			lines = append(lines, "", th.Danger.Render("  "+w.err))
		}
		lines = append(lines, "", th.Muted.Render(" Tab:next  Shift+Tab:prev  Enter:confirm  Esc:cancel"))
	default:
		lines = append(lines,
			th.Header.Render(" ADD PROVIDER  (3/3) Confirm"),
			"",
			"  Provider   "+w.value(fieldName),
			th.Muted.Render("  Base URL   "+w.value(fieldURL)),
		)
		if key := w.value(fieldKey); key != "" {
			lines = append(lines, th.Alert.Render("  API Key    "+keyPreview(key)))
		}
		lines = append(lines, "")
		for i, opt := range wizardConfirmOptions {
			if i == w.confirmCursor {
				lines = append(lines, th.Accent.Render("► ")+th.Selected.Render(opt))
			} else {
				lines = append(lines, th.Muted.Render("   "+opt))
			}
		}
		lines = append(lines, "", th.Muted.Render(" Up/Down  Enter:confirm  Esc:cancel"))
	}
	return th.OverlayBox.Render(strings.Join(lines, "\n"))
}

// keyPreview never shows more than the first six characters of a key.
func keyPreview(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:6] + "****"
}
