package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"clawdash/internal/config"
	"clawdash/internal/gateway"
	"clawdash/internal/logtail"
)

const smokeOpenClawConfig = `{
  "models": {
    "providers": {
      "groq": {"baseUrl": "https://api.groq.com/openai/v1", "apiKey": "gsk_smoke_0123456789", "models": [{"id": "llama-3.3-70b", "contextWindow": 128000}]},
      "ollama": {"baseUrl": "http://127.0.0.1:11434/v1", "apiKey": "from-auth-profiles", "models": ["qwen3:8b"]},
      "google-gemini-cli": {"baseUrl": "https://cloudcode-pa.googleapis.com", "apiKey": "from-auth-profiles", "models": []}
    }
  },
  "agents": {"defaults": {"model": {"primary": "google-gemini-cli/gemini-3-pro", "fallbacks": ["groq/llama-3.3-70b", "ollama/qwen3:8b"]}}}
}
`

const smokeLogLines = `{"1":"switched to google-gemini-cli/gemini-3-pro","_meta":{"logLevelName":"INFO","name":"{\"subsystem\":\"gateway/model\"}"},"time":"2026-01-01T12:00:00Z"}
{"1":"tick","_meta":{"logLevelName":"DEBUG","name":{"subsystem":"heartbeat"}},"time":"2026-01-01T12:00:01Z"}
{"1":"429 from groq, cooling down","_meta":{"logLevelName":"WARN","name":{"subsystem":"ratelimit"}},"time":"2026-01-01T12:00:02Z"}
`

// smokeClock is the fixed instant the smoke run renders against.
var smokeClock = time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC)

// smokeRunner answers the gateway CLI from memory. `models set` updates the
// default it reports afterwards.
type smokeRunner struct {
	mu           sync.Mutex
	defaultModel string
	fallbacks    []string
	calls        []string
}

func newSmokeRunner() *smokeRunner {
	return &smokeRunner{
		defaultModel: "google-gemini-cli/gemini-3-pro",
		fallbacks:    []string{"groq/llama-3.3-70b", "ollama/qwen3:8b"},
	}
}

func (r *smokeRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) (gateway.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	argv := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, argv)

	switch {
	case strings.HasSuffix(argv, "models status --json"):
		doc := map[string]any{
			"defaultModel": r.defaultModel,
			"fallbacks":    r.fallbacks,
			"aliases":      map[string]string{"pro": "google-gemini-cli/gemini-3-pro", "fast": "groq/llama-3.3-70b"},
		}
		b, _ := json.Marshal(doc)
		return gateway.Output{Stdout: append([]byte("Gateway: local\n"), b...)}, nil
	case strings.HasSuffix(argv, " health"):
		return gateway.Output{Stdout: []byte("Gateway: running (pid 48213)\nSession store: ~/.openclaw/sessions (3 entries)\nAgents: main, ops\n")}, nil
	case strings.HasSuffix(argv, " --version"):
		return gateway.Output{Stdout: []byte("2026.1.5\n")}, nil
	case len(args) == 3 && args[0] == "models" && args[1] == "set":
		r.defaultModel = args[2]
		return gateway.Output{}, nil
	default:
		return gateway.Output{}, nil
	}
}

type smokeReport struct {
	view  string
	json  string
	final appModel
}

func smokeMain(base *config.Config) int {
	outDir := strings.TrimSpace(os.Getenv("CLAWDASH_SMOKE_OUT_DIR"))
	if outDir == "" {
		outDir = filepath.Join(base.Paths.StateDir, "verify", "smoke", fmt.Sprintf("run_%d", time.Now().UnixMilli()))
	}
	report, err := runSmoke(outDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	_ = os.WriteFile(filepath.Join(outDir, "view.txt"), []byte(report.view+"\n"), 0o644)
	_ = os.WriteFile(filepath.Join(outDir, "smoke.json"), []byte(report.json+"\n"), 0o644)
	writeSessionSummary(report.final)
	fmt.Println("clawdash-smoke-ok")
	return 0
}

// smokeConfig points every path into dir and seeds the gateway's files.
func smokeConfig(dir string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Paths.Home = dir
	cfg.Paths.OpenClawConfig = filepath.Join(dir, "openclaw", "openclaw.json")
	cfg.Paths.AuthProfiles = filepath.Join(dir, "openclaw", "auth-profiles.json")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Paths.StateDir = dir
	cfg.UI.WatchFiles = false

	cooldownUntil := smokeClock.Add(90 * time.Second).UnixMilli()
	expires := smokeClock.Add(3 * time.Hour).UnixMilli()
	auth := fmt.Sprintf(`{
  "version": 1,
  "profiles": {
    "google-gemini-cli:ops@example.com": {"type": "oauth", "provider": "google-gemini-cli", "email": "ops@example.com", "expires": %d},
    "groq:default": {"type": "apiKey", "provider": "groq", "apiKey": "gsk_smoke_0123456789"}
  },
  "usageStats": {
    "groq:default": {"cooldownUntil": %d, "errorCount": 2}
  }
}
`, expires, cooldownUntil)

	if err := writeFixture(cfg.Paths.OpenClawConfig, smokeOpenClawConfig); err != nil {
		return nil, err
	}
	if err := writeFixture(cfg.Paths.AuthProfiles, auth); err != nil {
		return nil, err
	}
	if err := writeFixture(logtail.PathFor(cfg.Paths.LogDir, smokeClock), smokeLogLines); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeFixture(path, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("smoke fixture: %w", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("smoke fixture: %w", err)
	}
	return nil
}

// runSmoke drives the dashboard through its main flows against an in-memory
// gateway and fixture files under outDir.
func runSmoke(outDir string) (smokeReport, error) {
	cfg, err := smokeConfig(outDir)
	if err != nil {
		return smokeReport{}, err
	}
	runner := newSmokeRunner()
	w := wireWithRunner(cfg, runner, func() time.Time { return smokeClock })
	defer w.close()

	for _, line := range strings.Split(strings.TrimSpace(smokeLogLines), "\n") {
		if ev, ok := logtail.ParseLine(line); ok {
			w.queue.Push(ev)
		}
	}

	m := newAppModel(appConfig{
		stateDir: outDir,
		logLines: cfg.UI.LogLines,
		now:      func() time.Time { return smokeClock },
	}, w.deps())

	ctx := context.Background()
	var model tea.Model = m
	model, _ = model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	refreshErr := w.data.Refresh(ctx)
	model, _ = model.Update(refreshDoneMsg{snap: w.data.Snapshot(), err: refreshErr})
	model, _ = model.Update(healthDoneMsg{health: w.data.RefreshHealth(ctx)})
	if am, ok := model.(appModel); ok {
		model = am.appendLogs(w.data.DrainLogs())
	}

	key := func(s string) {
		next, _ := model.(appModel).applySyntheticKey(s)
		model = next
	}
	act := func(s string) {
		next, cmd := model.(appModel).applySyntheticKey(s)
		model = pump(next, cmd)
	}
	current := func() appModel { return model.(appModel) }

	filteredLogLines := len(current().logLines)

	// Switch model through the filtered list.
	key("ctrl+s")
	switchOpened := current().currentOverlay() == overlaySwitchModel
	for _, r := range "groq" {
		key(string(r))
	}
	switchMatches := len(current().filteredRotation())
	act("enter")
	switched := current().snap.Status.DefaultModel == "groq/llama-3.3-70b"

	// Restart confirm, moved to Cancel.
	key("ctrl+r")
	restartOpened := current().currentOverlay() == overlayRestartConfirm
	key("tab")
	act("enter")
	restartCancelled := current().currentOverlay() == overlayNone && !containsCall(runner, "systemctl")

	// Clear the one cooldown.
	key("ctrl+c")
	cooldownsListed := len(current().cooldownProfiles())
	act("enter")
	cooldownCleared := len(current().cooldownProfiles()) == 0

	key("ctrl+v")
	verboseOn := current().verbose

	// Providers screen and the add-provider wizard.
	key("ctrl+p")
	providersOpened := current().currentScreen() == screenProviders
	providersBefore := len(current().providerList)
	key("n")
	wizardOpened := current().currentOverlay() == overlayAddProvider
	key("enter")
	for _, s := range []string{"smoke", "tab", "http://127.0.0.1:9000/v1", "tab", "sk-smoke-0123456789"} {
		if s == "tab" {
			key(s)
			continue
		}
		next, _ := current().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
		model = next
	}
	key("enter")
	wizardConfirm := current().wiz.step == 3
	act("enter")
	providerAdded := len(current().providerList) == providersBefore+1
	key("esc")
	backToDashboard := current().currentScreen() == screenDashboard

	key("esc")
	quitConfirmOpened := current().currentOverlay() == overlayQuitConfirm
	key("n")

	final := current()
	ok := switchOpened && switchMatches == 1 && switched && restartOpened && restartCancelled &&
		cooldownsListed == 1 && cooldownCleared && verboseOn && providersOpened && wizardOpened &&
		wizardConfirm && providerAdded && backToDashboard && quitConfirmOpened
	summary := map[string]any{
		"version":           1,
		"ok":                ok,
		"screen":            final.currentScreen().String(),
		"overlay":           final.currentOverlay().String(),
		"defaultModel":      final.snap.Status.DefaultModel,
		"filteredLogLines":  filteredLogLines,
		"switchOpened":      switchOpened,
		"switchMatches":     switchMatches,
		"switched":          switched,
		"restartOpened":     restartOpened,
		"restartCancelled":  restartCancelled,
		"cooldownsListed":   cooldownsListed,
		"cooldownCleared":   cooldownCleared,
		"verboseOn":         verboseOn,
		"providersOpened":   providersOpened,
		"wizardOpened":      wizardOpened,
		"wizardConfirm":     wizardConfirm,
		"providerAdded":     providerAdded,
		"backToDashboard":   backToDashboard,
		"quitConfirmOpened": quitConfirmOpened,
		"gatewayCalls":      len(runner.calls),
	}
	b, _ := json.Marshal(summary)
	if !ok {
		log.Warn().RawJSON("summary", b).Msg("smoke checks failed")
		return smokeReport{}, fmt.Errorf("smoke checks failed: %s", b)
	}
	return smokeReport{view: final.View(), json: string(b), final: final}, nil
}

// pump runs cmd to completion and feeds the data and action results back
// into the model. Timers, spinner frames and cursor blinks are dropped.
func pump(model tea.Model, cmd tea.Cmd) tea.Model {
	if cmd == nil {
		return model
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			model = pump(model, c)
		}
	case refreshDoneMsg, healthDoneMsg, actionDoneMsg:
		next, follow := model.Update(msg)
		model = pump(next, follow)
	}
	return model
}

func containsCall(r *smokeRunner, prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
