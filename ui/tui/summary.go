package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

func sessionSummary(m appModel) map[string]any {
	alerts := m.alerts
	if len(alerts) > 10 {
		alerts = alerts[len(alerts)-10:]
	}
	cmds := m.recentCommands
	if len(cmds) > 10 {
		cmds = cmds[len(cmds)-10:]
	}
	out := map[string]any{
		"version":        1,
		"updatedAt":      time.Now().UTC().Format(time.RFC3339Nano),
		"screen":         m.currentScreen().String(),
		"overlay":        m.currentOverlay().String(),
		"verbose":        m.verbose,
		"defaultModel":   m.snap.Status.DefaultModel,
		"rotationSize":   len(m.snap.Status.Rotation),
		"stale":          m.snap.Stale(),
		"profiles":       len(m.snap.Profiles),
		"logLines":       len(m.logLines),
		"recentAlerts":   alerts,
		"recentCommands": cmds,
	}
	if m.cfg.stateDir != "" {
		out["eventsPath"] = filepath.Join(m.cfg.stateDir, "events.jsonl")
	}
	return out
}

func writeSessionSummary(m appModel) {
	if m.cfg.stateDir == "" {
		return
	}
	if err := os.MkdirAll(m.cfg.stateDir, 0o755); err != nil {
		log.Warn().Err(err).Str("path", m.cfg.stateDir).Msg("session summary")
		return
	}
	b, err := json.MarshalIndent(sessionSummary(m), "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(m.cfg.stateDir, "summary.json")
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("session summary")
	}
}
