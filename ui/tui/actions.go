package main

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"clawdash/internal/authstore"
	"clawdash/internal/display"
	"clawdash/internal/gateway"
)

const (
	actionSwitch         = "switch"
	actionRestart        = "restart"
	actionClearCooldown  = "clear-cooldown"
	actionAddProvider    = "add-provider"
	actionRemoveProvider = "remove-provider"
	actionAuthLogin      = "auth-login"
)

func (m appModel) updateDashboard(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "s", "ctrl+s":
		return m.openSwitchModel(), nil
	case "r", "ctrl+r":
		m.restartCursor = 0
		return m.openOverlay(overlayRestartConfirm), nil
	case "c", "ctrl+c":
		m.cooldownCursor = 0
		return m.openOverlay(overlayClearCooldown), nil
	case "v", "ctrl+v":
		return m.toggleVerbose(), nil
	case "p", "ctrl+p":
		return m.openProviders(), nil
	case "u", "ctrl+u":
		m.recordCommand("refresh", "", newCorrelationID())
		return m.startRefresh()
	case "q", "ctrl+q":
		m.recordCommand("quit", "", newCorrelationID())
		m.quitRequested = true
		return m, tea.Quit
	case "up", "k":
		m.logView.LineUp(1)
		m.logFollow = false
	case "down", "j":
		m.logView.LineDown(1)
		m.logFollow = m.logView.AtBottom()
	case "pgup":
		m.logView.LineUp(max(1, m.logView.Height/2))
		m.logFollow = false
	case "pgdown":
		m.logView.LineDown(max(1, m.logView.Height/2))
		m.logFollow = m.logView.AtBottom()
	case "end", "G":
		m.logView.GotoBottom()
		m.logFollow = true
	}
	return m, nil
}

func (m appModel) toggleVerbose() appModel {
	m.verbose = !m.verbose
	m.recordCommand("verbose", map[bool]string{true: "on", false: "off"}[m.verbose], newCorrelationID())
	return m
}

func (m appModel) openProviders() appModel {
	m = m.reloadProviders()
	if m.currentScreen() == screenProviders {
		return m
	}
	return m.pushScreen(screenProviders)
}

func (m appModel) openSwitchModel() appModel {
	m.switchFilter = ""
	m.switchCursor = 0
	return m.openOverlay(overlaySwitchModel)
}

// filteredRotation matches the switch filter against display labels,
// case-insensitively.
func (m appModel) filteredRotation() []gateway.RotationEntry {
	rot := m.snap.Status.Rotation
	if m.switchFilter == "" {
		return rot
	}
	var out []gateway.RotationEntry
	for _, e := range rot {
		if containsFold(e.Label, m.switchFilter) {
			out = append(out, e)
		}
	}
	return out
}

func (m appModel) updateSwitchModel(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	entries := m.filteredRotation()
	switch k.Type {
	case tea.KeyUp:
		m.switchCursor = max(0, m.switchCursor-1)
		return m, nil
	case tea.KeyDown:
		m.switchCursor = clamp(m.switchCursor+1, 0, max(0, len(entries)-1))
		return m, nil
	case tea.KeyEnter:
		if len(entries) == 0 {
			return m, nil
		}
		target := entries[clamp(m.switchCursor, 0, len(entries)-1)].ModelID
		m = m.closeOverlay()
		return m.switchModel(target)
	case tea.KeyBackspace:
		if m.switchFilter != "" {
			r := []rune(m.switchFilter)
			m.switchFilter = string(r[:len(r)-1])
			m.switchCursor = 0
		}
		return m, nil
	case tea.KeySpace:
		m.switchFilter += " "
		m.switchCursor = 0
		return m, nil
	case tea.KeyRunes:
		s := string(k.Runes)
		if s == "/" {
			m.switchFilter = ""
		} else {
			m.switchFilter += s
		}
		m.switchCursor = 0
		return m, nil
	}
	return m, nil
}

func (m appModel) switchModel(modelID string) (appModel, tea.Cmd) {
	gw := m.deps.gateway
	if gw == nil {
		m.systemAlert(alertError, "gateway.unavailable", "No gateway client configured", nil)
		return m, nil
	}
	return m.runAction(actionSwitch, modelID, func(ctx context.Context) error {
		return gw.SetModel(ctx, modelID)
	})
}

func (m appModel) updateRestartConfirm(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.Type {
	case tea.KeyUp, tea.KeyDown, tea.KeyTab:
		m.restartCursor = 1 - m.restartCursor
		return m, nil
	case tea.KeyEnter:
		confirmed := m.restartCursor == 0
		m = m.closeOverlay()
		if !confirmed {
			return m, nil
		}
		return m.restartGateway()
	case tea.KeyRunes:
		switch strings.ToLower(string(k.Runes)) {
		case "y":
			m = m.closeOverlay()
			return m.restartGateway()
		case "n":
			m = m.closeOverlay()
		}
	}
	return m, nil
}

func (m appModel) restartGateway() (appModel, tea.Cmd) {
	gw := m.deps.gateway
	if gw == nil {
		m.systemAlert(alertError, "gateway.unavailable", "No gateway client configured", nil)
		return m, nil
	}
	return m.runAction(actionRestart, "", gw.RestartGateway)
}

func (m appModel) cooldownProfiles() []authstore.Profile {
	return authstore.InCooldown(m.snap.Profiles)
}

func (m appModel) updateClearCooldown(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	profiles := m.cooldownProfiles()
	switch k.Type {
	case tea.KeyUp:
		m.cooldownCursor = max(0, m.cooldownCursor-1)
	case tea.KeyDown:
		m.cooldownCursor = clamp(m.cooldownCursor+1, 0, max(0, len(profiles)-1))
	case tea.KeyEnter:
		if len(profiles) == 0 {
			return m.closeOverlay(), nil
		}
		id := profiles[clamp(m.cooldownCursor, 0, len(profiles)-1)].ProfileID
		m = m.closeOverlay()
		return m.clearCooldown(id)
	}
	return m, nil
}

func (m appModel) clearCooldown(profileID string) (appModel, tea.Cmd) {
	store := m.deps.cooldowns
	if store == nil {
		m.systemAlert(alertError, "authstore.unavailable", "No credential store configured", nil)
		return m, nil
	}
	return m.runAction(actionClearCooldown, profileID, func(context.Context) error {
		return store.ClearCooldown(profileID)
	})
}

func (m appModel) updateProviders(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "up", "k":
		m.providerCursor = max(0, m.providerCursor-1)
	case "down", "j":
		m.providerCursor = clamp(m.providerCursor+1, 0, max(0, len(m.providerList)-1))
	case "n", "ctrl+n", "a":
		return m.openWizard()
	case "enter":
		if len(m.providerList) == 0 {
			return m.openWizard()
		}
	case "d", "ctrl+d":
		if len(m.providerList) == 0 {
			return m, nil
		}
		return m.removeProvider(m.providerList[clamp(m.providerCursor, 0, len(m.providerList)-1)].ID)
	case "q", "ctrl+q":
		return m.popScreen(), nil
	}
	return m, nil
}

func (m appModel) removeProvider(id string) (appModel, tea.Cmd) {
	reg := m.deps.providers
	if reg == nil {
		m.systemAlert(alertError, "providers.unavailable", "No gateway config configured", nil)
		return m, nil
	}
	return m.runAction(actionRemoveProvider, id, func(context.Context) error {
		return reg.Remove(id)
	})
}

func (m appModel) updateQuitConfirm(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.Type {
	case tea.KeyEnter:
		m.recordCommand("quit.confirm", "", newCorrelationID())
		m.quitRequested = true
		return m, tea.Quit
	case tea.KeyRunes:
		switch string(k.Runes) {
		case "y", "Y":
			m.recordCommand("quit.y", "", newCorrelationID())
			m.quitRequested = true
			return m, tea.Quit
		case "n", "N":
			m.recordCommand("quit.n", "", newCorrelationID())
			return m.closeOverlay(), nil
		}
	}
	return m, nil
}

// cooldownLabel is the countdown shown in the clear-cooldown list.
func cooldownLabel(p authstore.Profile) string {
	return display.Countdown(p.CooldownRemainingMs)
}
