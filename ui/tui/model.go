package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"clawdash/internal/datalayer"
	"clawdash/internal/gateway"
	"clawdash/internal/logtail"
	"clawdash/internal/providers"
)

type screen int

const (
	screenDashboard screen = iota
	screenProviders
)

func (s screen) String() string {
	switch s {
	case screenDashboard:
		return "dashboard"
	case screenProviders:
		return "providers"
	default:
		return "unknown"
	}
}

type overlay int

const (
	overlayNone overlay = iota
	overlaySwitchModel
	overlayRestartConfirm
	overlayClearCooldown
	overlayAddProvider
	overlayQuitConfirm
)

func (o overlay) String() string {
	switch o {
	case overlayNone:
		return "none"
	case overlaySwitchModel:
		return "switch_model"
	case overlayRestartConfirm:
		return "restart_confirm"
	case overlayClearCooldown:
		return "clear_cooldown"
	case overlayAddProvider:
		return "add_provider"
	case overlayQuitConfirm:
		return "quit_confirm"
	default:
		return "unknown"
	}
}

// gatewayControl is the subset of the gateway client the UI drives.
type gatewayControl interface {
	SetModel(ctx context.Context, modelID string) error
	AuthLogin(ctx context.Context) error
	RestartGateway(ctx context.Context) error
}

type cooldownClearer interface {
	ClearCooldown(profileID string) error
}

type providerRegistry interface {
	Load() []providers.Provider
	Add(np providers.NewProvider) error
	Remove(id string) error
}

type appDeps struct {
	data      *datalayer.DataLayer
	gateway   gatewayControl
	cooldowns cooldownClearer
	providers providerRegistry
	// changes delivers paths of externally edited files; nil disables watching.
	changes <-chan string
}

type appConfig struct {
	stateDir        string
	commandsPath    string
	refreshInterval time.Duration
	healthInterval  time.Duration
	drainInterval   time.Duration
	logLines        int
	verbose         bool
	// now overrides the wall clock for smoke runs and tests.
	now func() time.Time
}

type appModel struct {
	cfg  appConfig
	deps appDeps
	th   theme

	width  int
	height int
	now    time.Time

	screens  []screen
	overlays []overlay

	snap           datalayer.Snapshot
	refreshing     bool
	healthInFlight bool
	lastRefresh    time.Time
	lastHealth     time.Time
	statusFailing  bool

	verbose   bool
	logLines  []logtail.Event
	logView   viewport.Model
	logFollow bool

	spinner  spinner.Model
	spinning bool
	busy     string

	switchFilter   string
	switchCursor   int
	restartCursor  int
	cooldownCursor int

	providerList   []providers.Provider
	providerCursor int

	wiz wizardState

	alerts         []systemAlert
	recentCommands []string
	events         *eventLogger
	actionSource   string

	commandBusPath   string
	commandBusOffset int64
	quitRequested    bool
}

type tickMsg time.Time

type refreshDoneMsg struct {
	snap datalayer.Snapshot
	err  error
}

type healthDoneMsg struct {
	health gateway.Health
}

type actionDoneMsg struct {
	action        string
	target        string
	correlationID string
	err           error
}

type fileChangedMsg struct {
	path string
}

func newAppModel(cfg appConfig, deps appDeps) appModel {
	if cfg.refreshInterval <= 0 {
		cfg.refreshInterval = 2 * time.Second
	}
	if cfg.healthInterval <= 0 {
		cfg.healthInterval = 30 * time.Second
	}
	if cfg.drainInterval <= 0 {
		cfg.drainInterval = 500 * time.Millisecond
	}
	if cfg.logLines <= 0 {
		cfg.logLines = 200
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot

	m := appModel{
		cfg:            cfg,
		deps:           deps,
		th:             defaultTheme(),
		now:            cfg.now(),
		screens:        []screen{screenDashboard},
		verbose:        cfg.verbose,
		logView:        viewport.New(80, 7),
		logFollow:      true,
		spinner:        sp,
		wiz:            newWizardState(),
		alerts:         []systemAlert{},
		recentCommands: []string{},
		events:         newEventLogger(cfg.stateDir),
		actionSource:   "tui",
		commandBusPath: cfg.commandsPath,
	}
	m.spinner.Style = m.th.Accent
	m.commandBusOffset = initCommandBus(cfg.commandsPath)
	if deps.data != nil {
		m.snap = deps.data.Snapshot()
	}
	m.systemAlert(alertInfo, "dashboard.started", "Dashboard started", nil)
	return m
}

func (m appModel) Init() tea.Cmd {
	first := func() tea.Msg { return tickMsg(m.cfg.now()) }
	return tea.Batch(first, waitForChange(m.deps.changes))
}

func (m appModel) tickCmd() tea.Cmd {
	now := m.cfg.now
	return tea.Tick(m.cfg.drainInterval, func(time.Time) tea.Msg { return tickMsg(now()) })
}

// waitForChange blocks on the watcher channel and re-arms after each delivery.
func waitForChange(ch <-chan string) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		path, ok := <-ch
		if !ok {
			return nil
		}
		return fileChangedMsg{path: path}
	}
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch t := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = t.Width
		m.height = t.Height
		_, logH := m.layout()
		m.logView.Width = m.width
		m.logView.Height = logH
		if m.logFollow {
			m.logView.GotoBottom()
		}
		return m, nil
	case tickMsg:
		return m.onTick(time.Time(t))
	case refreshDoneMsg:
		return m.onRefreshDone(t), nil
	case healthDoneMsg:
		m.healthInFlight = false
		m.snap.Health = t.health
		m.snap.HasHealth = true
		return m, nil
	case actionDoneMsg:
		return m.onActionDone(t)
	case fileChangedMsg:
		m.emitEvent("file.changed", "system", map[string]any{"path": t.path}, "", "")
		if m.currentScreen() == screenProviders {
			m = m.reloadProviders()
		}
		var cmd tea.Cmd
		m, cmd = m.startRefresh()
		return m, tea.Batch(cmd, waitForChange(m.deps.changes))
	case spinner.TickMsg:
		if m.busy == "" {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(t)
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(t)
	}
	if m.currentOverlay() == overlayAddProvider {
		return m.updateWizardInputs(msg)
	}
	return m, nil
}

func (m appModel) handleKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	if k.Type == tea.KeyEsc {
		return m.handleEsc()
	}
	switch m.currentOverlay() {
	case overlaySwitchModel:
		return m.updateSwitchModel(k)
	case overlayRestartConfirm:
		return m.updateRestartConfirm(k)
	case overlayClearCooldown:
		return m.updateClearCooldown(k)
	case overlayAddProvider:
		return m.updateWizard(k)
	case overlayQuitConfirm:
		return m.updateQuitConfirm(k)
	}
	switch m.currentScreen() {
	case screenProviders:
		return m.updateProviders(k)
	default:
		return m.updateDashboard(k)
	}
}

func (m appModel) onTick(now time.Time) (tea.Model, tea.Cmd) {
	m.now = now
	if m.deps.data != nil {
		m = m.appendLogs(m.deps.data.DrainLogs())
	}

	var busCmd tea.Cmd
	m, busCmd = m.consumeCommandBus()
	if m.quitRequested {
		return m, tea.Quit
	}

	cmds := []tea.Cmd{m.tickCmd(), busCmd}
	if !m.refreshing && now.Sub(m.lastRefresh) >= m.cfg.refreshInterval {
		var cmd tea.Cmd
		m, cmd = m.startRefresh()
		cmds = append(cmds, cmd)
	}
	if !m.healthInFlight && now.Sub(m.lastHealth) >= m.cfg.healthInterval {
		var cmd tea.Cmd
		m, cmd = m.startHealth()
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// startRefresh runs the status fetch off the update loop. At most one is in
// flight.
func (m appModel) startRefresh() (appModel, tea.Cmd) {
	if m.deps.data == nil || m.refreshing {
		return m, nil
	}
	m.refreshing = true
	m.lastRefresh = m.now
	data := m.deps.data
	return m, func() tea.Msg {
		err := data.Refresh(context.Background())
		return refreshDoneMsg{snap: data.Snapshot(), err: err}
	}
}

func (m appModel) startHealth() (appModel, tea.Cmd) {
	if m.deps.data == nil || m.healthInFlight {
		return m, nil
	}
	m.healthInFlight = true
	m.lastHealth = m.now
	data := m.deps.data
	return m, func() tea.Msg {
		return healthDoneMsg{health: data.RefreshHealth(context.Background())}
	}
}

func (m appModel) onRefreshDone(t refreshDoneMsg) appModel {
	m.refreshing = false
	health, hasHealth := m.snap.Health, m.snap.HasHealth
	m.snap = t.snap
	if !m.snap.HasHealth && hasHealth {
		m.snap.Health, m.snap.HasHealth = health, true
	}
	switch {
	case t.err != nil && !m.statusFailing:
		m.statusFailing = true
		m.systemAlert(alertWarn, "status.fetch_failed", "Model status unavailable", map[string]any{"error": t.err.Error()})
	case t.err == nil && m.statusFailing:
		m.statusFailing = false
		m.systemAlert(alertInfo, "status.recovered", "Model status recovered", nil)
	}
	m.switchCursor = clamp(m.switchCursor, 0, max(0, len(m.filteredRotation())-1))
	return m
}

// appendLogs adds drained events to the log pane. Filtered mode keeps only
// important subsystems.
func (m appModel) appendLogs(evs []logtail.Event) appModel {
	added := false
	for _, ev := range evs {
		if !m.verbose && !ev.Important {
			continue
		}
		m.logLines = append(m.logLines, ev)
		added = true
	}
	if !added {
		return m
	}
	if over := len(m.logLines) - m.cfg.logLines; over > 0 {
		m.logLines = append([]logtail.Event(nil), m.logLines[over:]...)
	}
	m.logView.SetContent(m.renderLogLines())
	if m.logFollow {
		m.logView.GotoBottom()
	}
	return m
}

// runAction executes fn off the update loop. One operator action runs at a
// time.
func (m appModel) runAction(action, target string, fn func(ctx context.Context) error) (appModel, tea.Cmd) {
	if m.busy != "" {
		m.systemAlert(alertWarn, "action.busy", fmt.Sprintf("Still running %s", m.busy), map[string]any{"action": action})
		return m, nil
	}
	cid := newCorrelationID()
	m.busy = action
	m.recordCommand(action, target, cid)

	run := func() tea.Msg {
		return actionDoneMsg{action: action, target: target, correlationID: cid, err: fn(context.Background())}
	}
	if m.spinning {
		return m, run
	}
	m.spinning = true
	return m, tea.Batch(run, m.spinner.Tick)
}

func (m *appModel) recordCommand(action, target, cid string) {
	text := action
	if target != "" {
		text += " " + target
	}
	m.recentCommands = append(m.recentCommands, text)
	if len(m.recentCommands) > 50 {
		m.recentCommands = m.recentCommands[len(m.recentCommands)-50:]
	}
	m.emitEvent("command.submitted", m.actionSource, map[string]any{"action": action, "target": target}, cid, "")
}

func (m appModel) onActionDone(t actionDoneMsg) (tea.Model, tea.Cmd) {
	m.busy = ""
	ctx := map[string]any{"action": t.action}
	if t.target != "" {
		ctx["target"] = t.target
	}
	if t.err != nil {
		ctx["error"] = t.err.Error()
		m.systemAlert(alertError, "action.failed", fmt.Sprintf("%s failed", t.action), ctx)
		m.emitEvent("command.failed", "system", ctx, t.correlationID, t.correlationID)
	} else {
		m.systemAlert(alertInfo, "action.done", actionDoneText(t), ctx)
		m.emitEvent("command.completed", "system", ctx, t.correlationID, t.correlationID)
	}

	switch t.action {
	case actionAddProvider, actionRemoveProvider, actionAuthLogin:
		m = m.reloadProviders()
		if t.action == actionAuthLogin && m.currentOverlay() == overlayAddProvider {
			m = m.closeOverlay()
		}
	}

	cmds := []tea.Cmd{}
	var cmd tea.Cmd
	m, cmd = m.startRefresh()
	if cmd == nil {
		// A refresh is already in flight; poll again on the next tick.
		m.lastRefresh = time.Time{}
	}
	cmds = append(cmds, cmd)
	if t.action == actionRestart {
		m.healthInFlight = false
		m, cmd = m.startHealth()
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func actionDoneText(t actionDoneMsg) string {
	switch t.action {
	case actionSwitch:
		return "Switched to " + t.target
	case actionRestart:
		return "Gateway restarted"
	case actionClearCooldown:
		return "Cleared cooldown for " + t.target
	case actionAddProvider:
		return "Added provider " + t.target
	case actionRemoveProvider:
		return "Removed provider " + t.target
	case actionAuthLogin:
		return "OAuth login finished"
	default:
		return t.action + " done"
	}
}

func (m appModel) reloadProviders() appModel {
	if m.deps.providers == nil {
		m.providerList = nil
		return m
	}
	m.providerList = m.deps.providers.Load()
	m.providerCursor = clamp(m.providerCursor, 0, max(0, len(m.providerList)-1))
	return m
}

func (m appModel) currentScreen() screen {
	if len(m.screens) == 0 {
		return screenDashboard
	}
	return m.screens[len(m.screens)-1]
}

func (m appModel) pushScreen(s screen) appModel {
	m.screens = append(m.screens, s)
	m.emitEvent("ui.nav.push", m.actionSource, map[string]any{"screen": s.String(), "depth": len(m.screens)}, "", "")
	return m
}

func (m appModel) popScreen() appModel {
	if len(m.screens) <= 1 {
		return m
	}
	popped := m.screens[len(m.screens)-1]
	m.screens = m.screens[:len(m.screens)-1]
	m.emitEvent("ui.nav.pop", m.actionSource, map[string]any{"screen": popped.String(), "depth": len(m.screens)}, "", "")
	return m
}

func (m appModel) currentOverlay() overlay {
	if len(m.overlays) == 0 {
		return overlayNone
	}
	return m.overlays[len(m.overlays)-1]
}

func (m appModel) openOverlay(o overlay) appModel {
	m.overlays = append(m.overlays, o)
	m.emitEvent("ui.overlay.open", m.actionSource, map[string]any{"overlay": o.String(), "depth": len(m.overlays)}, "", "")
	return m
}

func (m appModel) closeOverlay() appModel {
	if len(m.overlays) == 0 {
		return m
	}
	popped := m.overlays[len(m.overlays)-1]
	m.overlays = m.overlays[:len(m.overlays)-1]
	m.emitEvent("ui.overlay.close", m.actionSource, map[string]any{"overlay": popped.String(), "depth": len(m.overlays)}, "", "")
	if popped == overlayAddProvider {
		m.wiz = m.wiz.reset()
	}
	return m
}

func (m appModel) closeAllOverlays() appModel {
	for len(m.overlays) > 0 {
		m = m.closeOverlay()
	}
	return m
}

func (m appModel) handleEsc() (tea.Model, tea.Cmd) {
	// Priority:
	// 1) Close top overlay
	// 2) Pop screen stack
	// 3) Dashboard root -> quit confirmation
	if m.currentOverlay() != overlayNone {
		m = m.closeOverlay()
		return m, nil
	}
	if m.currentScreen() != screenDashboard {
		m = m.popScreen()
		return m, nil
	}
	m = m.openOverlay(overlayQuitConfirm)
	return m, nil
}

func (m appModel) emitEvent(eventType string, source string, payload any, correlationID string, causationID string) {
	if m.events == nil {
		return
	}
	m.events.Append(source, eventType, payload, correlationID, causationID)
}

func (m *appModel) systemAlert(sev alertSeverity, code string, message string, context map[string]any) {
	cid := newCorrelationID()
	a := systemAlert{
		At:            m.cfg.now().UTC().Format(time.RFC3339Nano),
		Severity:      sev,
		Code:          code,
		Message:       message,
		Context:       context,
		CorrelationID: cid,
	}
	m.alerts = append(m.alerts, a)
	if len(m.alerts) > 50 {
		m.alerts = m.alerts[len(m.alerts)-50:]
	}
	m.emitEvent("system.alert", "system", map[string]any{
		"severity":       string(sev),
		"code":           code,
		"message":        message,
		"context":        context,
		"correlation_id": cid,
	}, cid, "")
}

func (m appModel) lastAlert() (systemAlert, bool) {
	if len(m.alerts) == 0 {
		return systemAlert{}, false
	}
	return m.alerts[len(m.alerts)-1], true
}

func (m appModel) effectiveSize() (int, int) {
	w := m.width
	h := m.height
	// Headless runs may not deliver a WindowSizeMsg; assume a sane default.
	if w <= 0 {
		w = 80
	}
	if h <= 0 {
		h = 24
	}
	return w, h
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonEmpty(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// newFormInput builds one wizard text field.
func newFormInput(placeholder string, secret bool) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 256
	ti.Prompt = "› "
	if secret {
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
	}
	return ti
}
