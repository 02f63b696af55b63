package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"clawdash/internal/authstore"
	"clawdash/internal/datalayer"
	"clawdash/internal/display"
	"clawdash/internal/gateway"
	"clawdash/internal/logtail"
	"clawdash/internal/providers"
)

const (
	minWidth     = 40
	minHeight    = 12
	headerHeight = 5
)

var _ tea.Model = appModel{}

func (m appModel) View() string {
	w, h := m.effectiveSize()
	// Render a stable hint instead of a broken layout.
	if w < minWidth || h < minHeight {
		return m.viewTooSmall(w, h)
	}

	var base string
	switch m.currentScreen() {
	case screenProviders:
		base = m.viewProviders()
	default:
		base = m.viewDashboard()
	}

	switch m.currentOverlay() {
	case overlaySwitchModel:
		return renderOverlay(m.th, base, m.viewSwitchModel(), h)
	case overlayRestartConfirm:
		return renderOverlay(m.th, base, m.viewRestartConfirm(), h)
	case overlayClearCooldown:
		return renderOverlay(m.th, base, m.viewClearCooldown(), h)
	case overlayAddProvider:
		return renderOverlay(m.th, base, m.viewWizard(), h)
	case overlayQuitConfirm:
		return renderOverlay(m.th, base, m.viewQuitConfirm(), h)
	}
	return base
}

// layout splits the terminal height between the panels and the log pane.
func (m appModel) layout() (mainH, logH int) {
	_, h := m.effectiveSize()
	mainH = clamp(h*45/100, 6, max(6, h-headerHeight-6))
	logH = max(2, h-headerHeight-mainH-2)
	return mainH, logH
}

func (m appModel) viewDashboard() string {
	w, _ := m.effectiveSize()
	mainH, logH := m.layout()

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(max(20, w-24)).Render(m.viewBanner()),
		m.viewGatewayStatus(),
	)

	leftW := clamp(w*55/100, 30, w-20)
	rightW := w - leftW
	models := m.th.Panel.Width(leftW - 2).Render(fitLines(m.modelPanelLines(leftW-4), mainH-2))
	auth := m.th.Panel.Width(rightW - 2).Render(fitLines(m.authPanelLines(rightW-4), mainH-2))
	row := lipgloss.JoinHorizontal(lipgloss.Top, models, auth)

	lv := m.logView
	lv.Width = w
	lv.Height = logH
	if m.logFollow {
		lv.GotoBottom()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		row,
		m.viewLogHeader(),
		lv.View(),
		m.viewFooter(" ^S:switch  ^R:restart  ^C:clear-cooldown  ^V:verbose  ^P:providers  ^U:refresh  ^Q:quit"),
	)
}

func (m appModel) viewBanner() string {
	def := m.snap.Status.DefaultModel
	status := m.th.Muted.Render("waiting for gateway…")
	switch {
	case m.snap.Stale():
		status = m.th.Alert.Render("STALE  last good " + snapshotAge(m.snap, m.now))
	case m.snap.HasStatus:
		status = m.th.Success.Render("live") + m.th.Muted.Render(fmt.Sprintf("  %d models in rotation", len(m.snap.Status.Rotation)))
	}
	if m.busy != "" {
		status = m.spinner.View() + " " + m.th.Accent.Render(m.busy+"…")
	}
	lines := []string{
		m.th.Header.Render("CLAWDASH") + m.th.Muted.Render("  openclaw gateway monitor"),
		m.th.Muted.Render("default  ") + m.th.Accent.Render(nonEmpty(display.ShortenModelID(def), "---")),
		status,
		fmt.Sprintf("%s %d  %s %d",
			m.th.Muted.Render("profiles"), len(m.snap.Profiles),
			m.th.Muted.Render("cooling down"), len(authstore.InCooldown(m.snap.Profiles))),
		m.viewLastAlert(),
	}
	return strings.Join(lines, "\n")
}

func (m appModel) viewLastAlert() string {
	a, ok := m.lastAlert()
	if !ok {
		return ""
	}
	style := m.th.Muted
	switch a.Severity {
	case alertWarn:
		style = m.th.Alert
	case alertError:
		style = m.th.Danger
	}
	return style.Render(display.Truncate(a.Message, 60))
}

func (m appModel) viewGatewayStatus() string {
	lines := gatewayStatusLines(m.snap.Health, m.snap.HasHealth)
	state := m.th.Danger
	if m.snap.HasHealth && m.snap.Health.State == gateway.StateRun {
		state = m.th.Success
	}
	out := []string{
		m.th.Muted.Render(lines[0]),
		"gateway: " + state.Render(lines[1]),
	}
	for _, l := range lines[2:] {
		k, v, _ := strings.Cut(l, ": ")
		out = append(out, k+": "+m.th.Muted.Render(v))
	}
	return lipgloss.NewStyle().Width(24).Render(strings.Join(out, "\n"))
}

// gatewayStatusLines is version, state, pid, sessions, agents.
func gatewayStatusLines(h gateway.Health, known bool) []string {
	state := "---"
	if known {
		state = string(h.State)
	}
	return []string{
		nonEmpty(h.Version, "?"),
		state,
		"pid: " + nonEmpty(h.PID, "---"),
		"sessions: " + intOrUnknown(h.Sessions),
		"agents: " + intOrUnknown(h.Agents),
	}
}

func intOrUnknown(v *int) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprint(*v)
}

func (m appModel) modelPanelLines(width int) []string {
	title := m.th.PanelTitle.Render(" MODEL ROTATION")
	switch {
	case !m.snap.HasStatus:
		title += "  " + m.th.Muted.Render("waiting for gateway…")
	case m.snap.Stale():
		title += "  " + m.th.Alert.Render("STALE "+snapshotAge(m.snap, m.now))
	}
	nameW := max(10, width-6-10-2)
	lines := []string{title, m.th.Muted.Render(fmt.Sprintf("%-*s %6s %-10s", nameW, "NAME", "CTX", "STATUS"))}
	for _, e := range m.snap.Status.Rotation {
		name := "  " + e.Label
		nameStyle := m.th.Muted
		if e.IsActive() {
			name = "► " + e.Label
			nameStyle = m.th.Accent.Bold(true)
		} else if e.IsLocal() {
			nameStyle = m.th.Success
		}
		if e.Alias != "" {
			name += " (" + e.Alias + ")"
		}
		status, t := rotationStatus(e)
		lines = append(lines, nameStyle.Render(fmt.Sprintf("%-*s", nameW, display.Truncate(name, nameW)))+
			" "+m.th.Muted.Render(fmt.Sprintf("%6s", display.ContextLabel(e.ModelID, 0)))+
			" "+m.statusStyle(t).Render(status))
	}
	return lines
}

type tone int

const (
	toneMuted tone = iota
	toneAccent
	toneSuccess
	toneAlert
	toneDanger
)

func (m appModel) statusStyle(t tone) lipgloss.Style {
	switch t {
	case toneAccent:
		return m.th.Accent.Bold(true)
	case toneSuccess:
		return m.th.Success.Bold(true)
	case toneAlert:
		return m.th.Alert
	case toneDanger:
		return m.th.Danger
	default:
		return m.th.Muted
	}
}

func bandTone(b display.Band) tone {
	switch b {
	case display.BandHealthy:
		return toneSuccess
	case display.BandWarning:
		return toneAlert
	default:
		return toneDanger
	}
}

func rotationStatus(e gateway.RotationEntry) (string, tone) {
	switch {
	case e.IsActive():
		return "[ACTIVE]", toneAccent
	case e.IsLocal():
		return "[LOCAL]", toneSuccess
	default:
		return string(e.Status), toneMuted
	}
}

// profileView is one auth panel entry, independent of styling.
type profileView struct {
	label  string
	detail string
	bar    string
	extra  string
	tone   tone
}

func describeProfile(p authstore.Profile, now time.Time) profileView {
	v := profileView{
		label: display.ShortProvider(p.Provider, 14) + ":" + display.Truncate(p.Account(), 22),
	}
	switch {
	case p.InCooldown:
		v.tone = toneDanger
		v.detail = "COOLDOWN  " + display.Countdown(p.CooldownRemainingMs) + " remaining"
		v.bar = display.Bar(1, display.DefaultBarWidth) + "  100%"
	case p.AuthType == authstore.AuthAPIKey:
		v.tone = toneAlert
		v.detail = "API KEY  " + nonEmpty(p.APIKeyHint, "key set")
		v.bar = display.Bar(0, display.DefaultBarWidth) + "  no exp"
	case p.ExpiresAtMs != nil:
		frac, rem := display.ExpiryFraction(*p.ExpiresAtMs, now)
		v.tone = bandTone(display.BandFor(frac))
		if rem <= 0 {
			v.detail = "expires  EXPIRED"
		} else {
			v.detail = "expires  " + display.Countdown(rem)
		}
		v.bar = fmt.Sprintf("%s  %d%%", display.Bar(frac, display.DefaultBarWidth), display.Percent(frac))
	default:
		v.tone = toneAccent
		v.detail = "OAuth  no expiry data"
	}

	var extra []string
	if p.Email != "" && p.Email != p.Account() {
		extra = append(extra, p.Email)
	}
	if p.ErrorCount > 0 {
		extra = append(extra, fmt.Sprintf("errors %d", p.ErrorCount))
	}
	if p.LastUsedMs != nil {
		extra = append(extra, "used "+humanize.RelTime(time.UnixMilli(*p.LastUsedMs), now, "ago", "from now"))
	}
	v.extra = strings.Join(extra, "  ")
	return v
}

func (m appModel) authPanelLines(width int) []string {
	lines := []string{m.th.PanelTitle.Render(" AUTH ACCOUNTS")}
	if len(m.snap.Profiles) == 0 {
		return append(lines, "", m.th.Muted.Render("  no auth profiles"))
	}
	for _, p := range m.snap.Profiles {
		v := describeProfile(p, m.now)
		style := m.statusStyle(v.tone)
		lines = append(lines, "", style.Render("  "+display.Truncate(v.label, width-2)))
		lines = append(lines, m.th.Muted.Render("  "+v.detail))
		if v.bar != "" {
			lines = append(lines, style.Render("  "+v.bar))
		}
		if v.extra != "" {
			lines = append(lines, m.th.Muted.Render("  "+display.Truncate(v.extra, width-2)))
		}
	}
	return lines
}

func (m appModel) viewLogHeader() string {
	mode := "[FILTERED]"
	if m.verbose {
		mode = "[VERBOSE]"
	}
	line := m.th.PanelTitle.Render(" LOG  "+mode) + m.th.Muted.Render("  tailer "+m.tailerState())
	if m.deps.data != nil {
		if n := m.deps.data.Dropped(); n > 0 {
			line += m.th.Alert.Render(fmt.Sprintf("  dropped %s", humanize.Comma(int64(n))))
		}
	}
	return line
}

func (m appModel) tailerState() string {
	if m.deps.data == nil {
		return logtail.StateStopped.String()
	}
	return m.deps.data.TailerState().String()
}

func (m appModel) renderLogLines() string {
	lines := make([]string, 0, len(m.logLines))
	for _, ev := range m.logLines {
		lines = append(lines, m.renderLogLine(ev))
	}
	return strings.Join(lines, "\n")
}

func (m appModel) renderLogLine(ev logtail.Event) string {
	return m.th.Muted.Render(logClock(ev.Time)) + "  " +
		m.th.logStyle(ev.Level, ev.Subsystem).Render(fmt.Sprintf("%-12s", ev.Subsystem)) + " " +
		display.Truncate(ev.Message, 80)
}

// logClock is the HH:MM:SS part of a normalized event time.
func logClock(ts string) string {
	if len(ts) >= 19 {
		return ts[11:19]
	}
	return ts
}

func (m appModel) viewFooter(keys string) string {
	return m.th.Muted.Render(keys)
}

func (m appModel) viewProviders() string {
	w, h := m.effectiveSize()
	bodyH := max(4, h-3)
	header := m.th.Header.Render(" PROVIDER MANAGER") + m.th.Muted.Render("           ^N:new  ^D:remove  Esc:back")

	listW := clamp(w*45/100, 30, w-20)
	detailW := w - listW
	list := m.th.Panel.Width(listW - 2).Render(fitLines(m.providerListLines(), bodyH-2))
	detail := m.th.Panel.Width(detailW - 2).Render(fitLines(m.providerDetailLines(detailW-4), bodyH-2))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, list, detail),
		m.viewLastAlert(),
	)
}

func (m appModel) providerListLines() []string {
	lines := []string{m.th.PanelTitle.Render(" PROVIDERS")}
	for i, p := range m.providerList {
		tag := "[" + p.Tag.String() + "]"
		if i == m.providerCursor {
			lines = append(lines, m.th.Accent.Bold(true).Render("►")+
				m.th.Selected.Render(fmt.Sprintf(" %-22s", p.ID))+" "+
				m.th.tag(p.Tag).Bold(true).Render(tag))
			continue
		}
		lines = append(lines, m.th.Muted.Render(fmt.Sprintf("  %-22s", p.ID))+" "+m.th.tag(p.Tag).Render(tag))
	}
	lines = append(lines, "", m.th.Accent.Render("  + Add new provider"))
	return lines
}

func (m appModel) providerDetailLines(width int) []string {
	if len(m.providerList) == 0 {
		return []string{"", m.th.Muted.Render("  No providers configured")}
	}
	p := m.providerList[clamp(m.providerCursor, 0, len(m.providerList)-1)]
	lines := []string{
		"",
		m.th.PanelTitle.Render("  DETAILS  " + p.ID),
		"",
		"  provider    " + p.ID,
		m.th.Muted.Render("  base url    " + display.Truncate(p.BaseURL, max(10, width-14))),
	}
	if p.HasRealKey() {
		lines = append(lines, m.th.Alert.Render("  api key     "+display.MaskSecret(p.APIKey, 8, "...")))
	}
	if p.API != "" {
		lines = append(lines, m.th.Muted.Render("  api         "+p.API))
	}
	if len(p.Models) > 0 {
		lines = append(lines, "", m.th.PanelTitle.Render("  models in rotation"))
		for _, md := range p.Models {
			lines = append(lines, m.th.Muted.Render(fmt.Sprintf("    %-30s %s", nonEmpty(md.ID, "?"), providerModelContext(p, md))))
		}
	}
	return lines
}

func providerModelContext(p providers.Provider, md providers.Model) string {
	return display.ContextLabel(p.ID+"/"+md.ID, md.ContextWindow)
}

func (m appModel) viewSwitchModel() string {
	lines := []string{
		m.th.Header.Render(" SWITCH MODEL"),
		m.th.Muted.Render(" Up/Down navigate   /: filter   Enter: select"),
		m.th.Input.Render(" filter: " + m.switchFilter + "▏"),
		"",
	}
	entries := m.filteredRotation()
	if len(entries) == 0 {
		lines = append(lines, m.th.Muted.Render("  no matching models"))
	}
	for i, e := range entries {
		status, t := rotationStatus(e)
		tag := m.statusStyle(t).Render(fmt.Sprintf(" %-8s ", status))
		if i == m.switchCursor {
			lines = append(lines, m.th.Accent.Bold(true).Render("►")+tag+m.th.Selected.Render(e.Label))
			continue
		}
		labelStyle := m.th.Muted
		if e.IsLocal() {
			labelStyle = m.th.Success
		}
		lines = append(lines, " "+tag+labelStyle.Render(e.Label))
	}
	lines = append(lines, "", m.th.Muted.Render(" Esc: cancel"))
	return m.th.OverlayBox.Render(strings.Join(lines, "\n"))
}

func (m appModel) viewRestartConfirm() string {
	lines := []string{
		m.th.Danger.Render(" RESTART GATEWAY"),
		"",
		"  Restart the openclaw-gateway service?",
		"  Active sessions will be interrupted.",
		"",
	}
	for i, opt := range []string{"Confirm restart", "Cancel"} {
		if i == m.restartCursor {
			lines = append(lines, m.th.Accent.Bold(true).Render("► ")+m.th.Selected.Render(opt))
		} else {
			lines = append(lines, m.th.Muted.Render("   "+opt))
		}
	}
	lines = append(lines, "", m.th.Muted.Render(" Up/Down  Enter  y/n  Esc: cancel"))
	return m.th.OverlayBox.Render(strings.Join(lines, "\n"))
}

func (m appModel) viewClearCooldown() string {
	lines := []string{
		m.th.Header.Render(" CLEAR COOLDOWN"),
		m.th.Muted.Render(" Select account to clear"),
		"",
	}
	profiles := m.cooldownProfiles()
	if len(profiles) == 0 {
		lines = append(lines, m.th.Success.Render("  No accounts in cooldown"))
	}
	for i, p := range profiles {
		row := fmt.Sprintf("%-30s %s", p.ProfileID, cooldownLabel(p))
		if i == m.cooldownCursor {
			lines = append(lines, m.th.Accent.Bold(true).Render("► ")+m.th.Danger.Background(lipgloss.Color("#1A2A3A")).Bold(true).Render(row))
		} else {
			lines = append(lines, m.th.Danger.Render("   "+row))
		}
	}
	lines = append(lines, "", m.th.Muted.Render(" Up/Down  Enter: clear  Esc: cancel"))
	return m.th.OverlayBox.Render(strings.Join(lines, "\n"))
}

func (m appModel) viewQuitConfirm() string {
	lines := []string{
		m.th.Danger.Render("QUIT CLAWDASH?"),
		m.th.Muted.Render("Enter/y: quit    Esc/n: cancel"),
	}
	return m.th.OverlayBox.Render(strings.Join(lines, "\n"))
}

// renderOverlay dims the base view and appends the overlay below it, keeping
// the combined output within height.
func renderOverlay(th theme, base string, overlay string, height int) string {
	room := max(0, height-lipgloss.Height(overlay)-2)
	lines := strings.Split(base, "\n")
	if len(lines) > room {
		lines = lines[:room]
	}
	dim := th.Overlay.Render(strings.Join(lines, "\n"))
	return dim + "\n\n" + overlay
}

func (m appModel) viewTooSmall(w, h int) string {
	lines := []string{
		m.th.Header.Render("CLAWDASH"),
		m.th.Alert.Render("Terminal too small"),
		m.th.Muted.Render(fmt.Sprintf("Minimum: %dx%d. Current: %dx%d", minWidth, minHeight, w, h)),
		m.th.Muted.Render("Tip: resize the terminal window."),
	}
	return strings.Join(lines, "\n")
}

// fitLines pads or cuts lines to exactly n rows.
func fitLines(lines []string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(lines) > n {
		lines = append(lines[:n-1:n-1], "…")
	}
	for len(lines) < n {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func snapshotAge(s datalayer.Snapshot, now time.Time) string {
	if s.LastSuccess.IsZero() {
		return "never"
	}
	return humanize.RelTime(s.LastSuccess, now, "ago", "from now")
}
