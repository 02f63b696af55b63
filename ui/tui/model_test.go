package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawdash/internal/authstore"
	"clawdash/internal/datalayer"
	"clawdash/internal/gateway"
	"clawdash/internal/logtail"
	"clawdash/internal/providers"
)

const testStatusDoc = `{
  "defaultModel": "google-gemini-cli/gemini-3-pro",
  "fallbacks": ["groq/llama-3.3-70b", "ollama/qwen3:8b"],
  "aliases": {"fast": "groq/llama-3.3-70b"}
}`

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type stubStatus struct {
	mu  sync.Mutex
	st  gateway.ModelStatus
	err error
}

func (s *stubStatus) FetchModelStatus(context.Context) (gateway.ModelStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, s.err
}

func (s *stubStatus) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// fakeAuth is both the profile reader and the cooldown clearer.
type fakeAuth struct {
	mu       sync.Mutex
	profiles []authstore.Profile
	cleared  []string
}

func (f *fakeAuth) Read(time.Time) []authstore.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]authstore.Profile(nil), f.profiles...)
}

func (f *fakeAuth) ClearCooldown(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, id)
	for i := range f.profiles {
		if f.profiles[i].ProfileID == id {
			f.profiles[i].InCooldown = false
			f.profiles[i].CooldownRemainingMs = 0
		}
	}
	return nil
}

type fakeGateway struct {
	mu       sync.Mutex
	status   *stubStatus
	set      []string
	restarts int
	logins   int
	err      error
}

func (f *fakeGateway) SetModel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.set = append(f.set, id)
	if f.status != nil {
		f.status.mu.Lock()
		f.status.st.DefaultModel = id
		f.status.mu.Unlock()
	}
	return nil
}

func (f *fakeGateway) AuthLogin(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return f.err
}

func (f *fakeGateway) RestartGateway(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return f.err
}

type fakeRegistry struct {
	list    []providers.Provider
	added   []providers.NewProvider
	removed []string
}

func (f *fakeRegistry) Load() []providers.Provider {
	return append([]providers.Provider(nil), f.list...)
}

func (f *fakeRegistry) Add(np providers.NewProvider) error {
	f.added = append(f.added, np)
	f.list = append(f.list, providers.Provider{ID: np.Name, BaseURL: np.BaseURL})
	return nil
}

func (f *fakeRegistry) Remove(id string) error {
	f.removed = append(f.removed, id)
	out := f.list[:0]
	for _, p := range f.list {
		if p.ID != id {
			out = append(out, p)
		}
	}
	f.list = out
	return nil
}

type harness struct {
	status   *stubStatus
	auth     *fakeAuth
	gateway  *fakeGateway
	registry *fakeRegistry
	queue    *logtail.Queue
	data     *datalayer.DataLayer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := gateway.ParseModelStatus([]byte(testStatusDoc))
	require.NoError(t, err)

	h := &harness{
		status: &stubStatus{st: st},
		auth: &fakeAuth{profiles: []authstore.Profile{
			{ProfileID: "groq:default", Provider: "groq", AuthType: authstore.AuthAPIKey, APIKeyHint: "gsk_abcd...", InCooldown: true, CooldownRemainingMs: 90_000, ErrorCount: 3},
			{ProfileID: "google-gemini-cli:me@example.com", Provider: "google-gemini-cli", AuthType: authstore.AuthOAuth, Email: "me@example.com"},
		}},
		registry: &fakeRegistry{list: []providers.Provider{
			{ID: "groq", BaseURL: "https://api.groq.com/openai/v1", APIKey: "gsk_secret_value"},
			{ID: "ollama", BaseURL: "http://127.0.0.1:11434/v1"},
		}},
		queue: logtail.NewQueue(16),
	}
	h.gateway = &fakeGateway{status: h.status}
	h.data = datalayer.New(datalayer.Options{
		Status:   h.status,
		Health:   h,
		Profiles: h.auth,
		Queue:    h.queue,
		Now:      func() time.Time { return testNow },
	})
	return h
}

func (h *harness) FetchGatewayHealth(context.Context) gateway.Health {
	return gateway.ParseHealth("Gateway: running (pid 48213)\nSession store: x (4 entries)\n")
}

func (h *harness) model(t *testing.T) appModel {
	t.Helper()
	m := newAppModel(appConfig{
		stateDir:      t.TempDir(),
		drainInterval: time.Hour,
		now:           func() time.Time { return testNow },
	}, appDeps{
		data:      h.data,
		gateway:   h.gateway,
		cooldowns: h.auth,
		providers: h.registry,
	})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(appModel)
}

// loaded returns a model that has seen one successful refresh.
func (h *harness) loaded(t *testing.T) appModel {
	t.Helper()
	m := h.model(t)
	m, cmd := m.startRefresh()
	require.NotNil(t, cmd)
	return pump(m, cmd).(appModel)
}

func press(t *testing.T, m appModel, keys ...string) appModel {
	t.Helper()
	for _, k := range keys {
		m, _ = m.applySyntheticKey(k)
	}
	return m
}

func pressAndSettle(t *testing.T, m appModel, key string) appModel {
	t.Helper()
	m, cmd := m.applySyntheticKey(key)
	return pump(m, cmd).(appModel)
}

func typeText(t *testing.T, m appModel, s string) appModel {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return next.(appModel)
}

func TestEscPriority(t *testing.T) {
	m := newHarness(t).loaded(t)

	m = press(t, m, "ctrl+s")
	require.Equal(t, overlaySwitchModel, m.currentOverlay())
	m = press(t, m, "esc")
	assert.Equal(t, overlayNone, m.currentOverlay())
	assert.Equal(t, screenDashboard, m.currentScreen())

	m = press(t, m, "ctrl+p")
	require.Equal(t, screenProviders, m.currentScreen())
	m = press(t, m, "esc")
	assert.Equal(t, screenDashboard, m.currentScreen())

	m = press(t, m, "esc")
	require.Equal(t, overlayQuitConfirm, m.currentOverlay())
	m = press(t, m, "n")
	assert.Equal(t, overlayNone, m.currentOverlay())
	assert.False(t, m.quitRequested)
}

func TestQuitConfirmYes(t *testing.T) {
	m := newHarness(t).loaded(t)
	m = press(t, m, "esc")
	next, cmd := m.applySyntheticKey("y")
	assert.True(t, next.quitRequested)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestSwitchModel_FilterAndSelect(t *testing.T) {
	h := newHarness(t)
	m := h.loaded(t)
	require.Len(t, m.snap.Status.Rotation, 3)

	m = press(t, m, "ctrl+s", "g", "r", "o", "q")
	assert.Equal(t, "groq", m.switchFilter)
	require.Len(t, m.filteredRotation(), 1)

	m = pressAndSettle(t, m, "enter")
	assert.Equal(t, []string{"groq/llama-3.3-70b"}, h.gateway.set)
	assert.Equal(t, overlayNone, m.currentOverlay())
	assert.Empty(t, m.busy)
	assert.Equal(t, "groq/llama-3.3-70b", m.snap.Status.DefaultModel)
	assert.Contains(t, m.recentCommands, "switch groq/llama-3.3-70b")

	a, ok := m.lastAlert()
	require.True(t, ok)
	assert.Equal(t, "action.done", a.Code)
}

func TestSwitchModel_SlashClearsFilterAndEmptyEnterIsNoop(t *testing.T) {
	h := newHarness(t)
	m := h.loaded(t)

	m = press(t, m, "ctrl+s", "z", "z")
	assert.Empty(t, m.filteredRotation())
	next, cmd := m.applySyntheticKey("enter")
	assert.Nil(t, cmd)
	assert.Equal(t, overlaySwitchModel, next.currentOverlay())

	m = press(t, next, "/")
	assert.Empty(t, m.switchFilter)
	assert.Len(t, m.filteredRotation(), 3)
}

func TestRestartConfirm(t *testing.T) {
	h := newHarness(t)
	m := h.loaded(t)

	m = press(t, m, "ctrl+r", "n")
	assert.Equal(t, overlayNone, m.currentOverlay())
	assert.Zero(t, h.gateway.restarts)

	m = press(t, m, "ctrl+r", "tab")
	m = pressAndSettle(t, m, "enter")
	assert.Zero(t, h.gateway.restarts, "cursor on cancel")

	m = press(t, m, "ctrl+r")
	m = pressAndSettle(t, m, "y")
	assert.Equal(t, 1, h.gateway.restarts)
	assert.True(t, m.snap.HasHealth)
	assert.Equal(t, "48213", m.snap.Health.PID)
}

func TestClearCooldown(t *testing.T) {
	h := newHarness(t)
	m := h.loaded(t)
	require.Len(t, m.cooldownProfiles(), 1)

	m = press(t, m, "ctrl+c")
	require.Equal(t, overlayClearCooldown, m.currentOverlay())
	m = pressAndSettle(t, m, "enter")

	assert.Equal(t, []string{"groq:default"}, h.auth.cleared)
	assert.Empty(t, m.cooldownProfiles())

	m = press(t, m, "ctrl+c")
	next, cmd := m.applySyntheticKey("enter")
	assert.Nil(t, cmd)
	assert.Equal(t, overlayNone, next.currentOverlay())
}

func TestOneActionAtATime(t *testing.T) {
	h := newHarness(t)
	m := h.loaded(t)

	m, cmd := m.switchModel("groq/llama-3.3-70b")
	require.NotNil(t, cmd)
	assert.Equal(t, actionSwitch, m.busy)

	m, cmd = m.restartGateway()
	assert.Nil(t, cmd)
	a, ok := m.lastAlert()
	require.True(t, ok)
	assert.Equal(t, "action.busy", a.Code)
}

func TestActionFailureRaisesAlert(t *testing.T) {
	h := newHarness(t)
	h.gateway.err = errors.New("exit status 1: unknown model")
	m := h.loaded(t)

	m = press(t, m, "ctrl+s")
	m = pressAndSettle(t, m, "enter")

	a, ok := m.lastAlert()
	require.True(t, ok)
	assert.Equal(t, alertError, a.Severity)
	assert.Equal(t, "action.failed", a.Code)
	assert.Empty(t, m.busy)
}

func TestProviders_RemoveClampsCursor(t *testing.T) {
	h := newHarness(t)
	m := h.loaded(t)

	m = press(t, m, "ctrl+p", "down")
	require.Equal(t, 1, m.providerCursor)
	m = pressAndSettle(t, m, "d")

	assert.Equal(t, []string{"ollama"}, h.registry.removed)
	require.Len(t, m.providerList, 1)
	assert.Equal(t, 0, m.providerCursor)
	assert.Equal(t, screenProviders, m.currentScreen())
}

func TestWizard_AddProvider(t *testing.T) {
	h := newHarness(t)
	m := h.loaded(t)

	m = press(t, m, "ctrl+p", "n")
	require.Equal(t, overlayAddProvider, m.currentOverlay())
	m = press(t, m, "enter")
	require.Equal(t, 2, m.wiz.step)

	m = typeText(t, m, "mirror")
	m = press(t, m, "tab")
	m = typeText(t, m, "https://llm.example.net/v1")
	m = press(t, m, "tab")
	m = typeText(t, m, "sk-live-abcdef123456")
	m = press(t, m, "enter")
	require.Equal(t, 3, m.wiz.step)
	assert.NotContains(t, m.View(), "sk-live-abcdef123456")

	m = press(t, m, "down")
	m = pressAndSettle(t, m, "enter")

	require.Len(t, h.registry.added, 1)
	assert.Equal(t, providers.NewProvider{
		Name:          "mirror",
		BaseURL:       "https://llm.example.net/v1",
		APIKey:        "sk-live-abcdef123456",
		AddToRotation: false,
	}, h.registry.added[0])
	assert.Equal(t, overlayNone, m.currentOverlay())
	assert.Len(t, m.providerList, 3)
}

func TestWizard_Validation(t *testing.T) {
	m := newHarness(t).loaded(t)
	m = press(t, m, "ctrl+p", "n", "enter")

	m = press(t, m, "enter")
	assert.Equal(t, 2, m.wiz.step)
	assert.NotEmpty(t, m.wiz.err)

	m = typeText(t, m, "a/b")
	m = press(t, m, "tab")
	m = typeText(t, m, "http://x")
	m = press(t, m, "enter")
	assert.Equal(t, 2, m.wiz.step)
	assert.Contains(t, m.wiz.err, "/")
}

func TestWizard_OAuthRunsLogin(t *testing.T) {
	h := newHarness(t)
	m := h.loaded(t)
	m = press(t, m, "ctrl+p", "n", "down")
	m = pressAndSettle(t, m, "enter")

	assert.Equal(t, 1, h.gateway.logins)
	assert.Equal(t, overlayNone, m.currentOverlay())
}

func TestAppendLogs_FilteredAndCapped(t *testing.T) {
	h := newHarness(t)
	m := h.model(t)
	m.cfg.logLines = 3

	evs := []logtail.Event{
		{Subsystem: "model", Message: "a", Level: "INFO", Important: true},
		{Subsystem: "heartbeat", Message: "b", Level: "DEBUG"},
		{Subsystem: "ratelimit", Message: "c", Level: "WARN", Important: true},
	}
	m = m.appendLogs(evs)
	require.Len(t, m.logLines, 2)

	m = press(t, m, "ctrl+v")
	require.True(t, m.verbose)
	m = m.appendLogs(evs)
	require.Len(t, m.logLines, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{m.logLines[0].Message, m.logLines[1].Message, m.logLines[2].Message})
}

func TestTickDrainsQueue(t *testing.T) {
	h := newHarness(t)
	m := h.model(t)
	m.verbose = true
	h.queue.Push(logtail.Event{Subsystem: "heartbeat", Message: "tick"})

	next, cmd := m.Update(tickMsg(testNow))
	require.NotNil(t, cmd)
	am := next.(appModel)
	require.Len(t, am.logLines, 1)
	assert.True(t, am.refreshing)
	assert.True(t, am.healthInFlight)
}

func TestRefreshAlertsOnTransitionsOnly(t *testing.T) {
	h := newHarness(t)
	m := h.loaded(t)
	alerts := len(m.alerts)

	h.status.fail(errors.New("gateway down"))
	for i := 0; i < 3; i++ {
		var cmd tea.Cmd
		m, cmd = m.startRefresh()
		m = pump(m, cmd).(appModel)
	}
	assert.Len(t, m.alerts, alerts+1)
	assert.True(t, m.snap.Stale())
	assert.Len(t, m.snap.Status.Rotation, 3, "previous snapshot kept")

	h.status.fail(nil)
	m, cmd := m.startRefresh()
	m = pump(m, cmd).(appModel)
	a, ok := m.lastAlert()
	require.True(t, ok)
	assert.Equal(t, "status.recovered", a.Code)
	assert.False(t, m.snap.Stale())
}

func TestView_WaitingThenStale(t *testing.T) {
	h := newHarness(t)
	m := h.model(t)
	assert.Contains(t, m.View(), "waiting for gateway")

	m = h.loaded(t)
	v := m.View()
	assert.Contains(t, v, "MODEL ROTATION")
	assert.Contains(t, v, "AUTH ACCOUNTS")
	assert.Contains(t, v, "groq/llama-3.3-70b")
	assert.NotContains(t, v, "STALE")

	h.status.fail(errors.New("timeout"))
	m, cmd := m.startRefresh()
	m = pump(m, cmd).(appModel)
	assert.Contains(t, m.View(), "STALE")
}

func TestView_TooSmall(t *testing.T) {
	m := newHarness(t).model(t)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 30, Height: 8})
	assert.Contains(t, next.(appModel).View(), "Terminal too small")
}

func TestFitLines(t *testing.T) {
	assert.Equal(t, "a\n\n", fitLines([]string{"a"}, 3))
	assert.Equal(t, "a\n…", fitLines([]string{"a", "b", "c", "d"}, 2))
	assert.Empty(t, fitLines([]string{"a"}, 0))
}

func TestKeyPreviewNeverShowsShortKeys(t *testing.T) {
	assert.Equal(t, "sk-liv****", keyPreview("sk-live-abcdef"))
	assert.NotContains(t, keyPreview("abc"), "abc")
}
