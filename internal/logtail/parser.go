// Package logtail follows the gateway's daily JSONL log and turns each line
// into an Event for the dashboard's log pane.
package logtail

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Event is one parsed gateway log line.
type Event struct {
	Time      string `json:"time"`
	Subsystem string `json:"subsystem"`
	Message   string `json:"message"`
	Level     string `json:"level"`
	Important bool   `json:"important"`
}

var importantSubsystems = map[string]bool{
	"model":     true,
	"ratelimit": true,
	"fallback":  true,
	"error":     true,
	"reload":    true,
}

// IsImportantSubsystem reports whether events from subsystem are shown in
// filtered mode regardless of level.
func IsImportantSubsystem(subsystem string) bool {
	return importantSubsystems[subsystem]
}

// ParseLine converts one raw log line into an Event. It returns false for
// anything that is not a JSON object carrying a message field.
func ParseLine(raw string) (Event, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return Event{}, false
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return Event{}, false
	}
	msg := doc.Get("1")
	if !msg.Exists() {
		return Event{}, false
	}

	ev := Event{
		Subsystem: subsystemOf(doc.Get("_meta.name")),
		Level:     "INFO",
	}
	if msg.Type == gjson.String {
		ev.Message = msg.String()
	} else {
		ev.Message = msg.Raw
	}
	if lvl := doc.Get("_meta.logLevelName"); lvl.Exists() {
		ev.Level = strings.ToUpper(lvl.String())
	}
	ev.Time = normalizeTime(doc.Get("time").String())
	ev.Important = IsImportantSubsystem(ev.Subsystem) || ev.Level == "ERROR"
	return ev, true
}

// subsystemOf reads the subsystem out of the metadata name field, which the
// gateway writes either as an object or as a JSON-encoded string.
func subsystemOf(name gjson.Result) string {
	if !name.Exists() {
		return "unknown"
	}
	inner := name
	if name.Type == gjson.String {
		s := name.String()
		if !gjson.Valid(s) {
			return s
		}
		inner = gjson.Parse(s)
	}
	if !inner.IsObject() {
		return name.String()
	}
	sub := inner.Get("subsystem")
	if !sub.Exists() {
		return "unknown"
	}
	return strings.TrimPrefix(sub.String(), "gateway/")
}

func normalizeTime(ts string) string {
	if len(ts) > 19 {
		ts = ts[:19]
	}
	return strings.Replace(ts, "T", " ", 1)
}
