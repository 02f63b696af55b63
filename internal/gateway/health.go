package gateway

import (
	"regexp"
	"strconv"
	"strings"
)

type HealthState string

const (
	StateRun HealthState = "RUN"
	StateErr HealthState = "ERR"
)

// Health is a best-effort reading of `health` output. Unset fields were not
// found in the text.
type Health struct {
	State    HealthState `json:"state"`
	PID      string      `json:"pid,omitempty"`
	Sessions *int        `json:"sessions,omitempty"`
	Agents   *int        `json:"agents,omitempty"`
	Version  string      `json:"version,omitempty"`
}

var (
	pidPattern      = regexp.MustCompile(`(\d{4,})`)
	sessionsPattern = regexp.MustCompile(`\((\d+) entries\)`)
)

// ParseHealth scans health text line by line. It never fails.
func ParseHealth(text string) Health {
	h := Health{State: StateRun}
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.Contains(line, "PID") || strings.Contains(line, "pid"):
			if m := pidPattern.FindStringSubmatch(line); m != nil {
				h.PID = m[1]
			}
		case strings.Contains(line, "Session store"):
			if m := sessionsPattern.FindStringSubmatch(line); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					h.Sessions = &n
				}
			}
		case strings.HasPrefix(strings.TrimSpace(line), "Agents:"):
			_, list, _ := strings.Cut(line, ":")
			n := 0
			if list = strings.TrimSpace(list); list != "" {
				n = len(strings.Split(list, ","))
			}
			h.Agents = &n
		}
	}
	return h
}
