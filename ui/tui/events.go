package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// eventLogger appends operator actions and alerts to events.jsonl.
type eventLogger struct {
	path string
	mu   sync.Mutex
	seq  uint64
}

type eventRecord struct {
	Timestamp     string `json:"timestamp"`
	Seq           uint64 `json:"seq"`
	Source        string `json:"source"`
	Type          string `json:"type"`
	Payload       any    `json:"payload"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
}

func newEventLogger(stateDir string) *eventLogger {
	if stateDir == "" {
		return nil
	}
	return &eventLogger{path: filepath.Join(stateDir, "events.jsonl")}
}

func (l *eventLogger) Append(source string, eventType string, payload any, correlationID string, causationID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	rec := eventRecord{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Seq:           l.seq,
		Source:        source,
		Type:          eventType,
		Payload:       payload,
		CorrelationID: correlationID,
		CausationID:   causationID,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		log.Debug().Err(err).Str("path", l.path).Msg("journal dir")
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Debug().Err(err).Str("path", l.path).Msg("journal open")
		return
	}
	_, _ = f.Write(append(b, '\n'))
	_ = f.Close()
}

type alertSeverity string

const (
	alertInfo  alertSeverity = "INFO"
	alertWarn  alertSeverity = "WARN"
	alertError alertSeverity = "ERROR"
)

type systemAlert struct {
	At            string         `json:"at"`
	Severity      alertSeverity  `json:"severity"`
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	Context       map[string]any `json:"context,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}

func newCorrelationID() string {
	return uuid.NewString()
}
