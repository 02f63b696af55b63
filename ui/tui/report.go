package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"clawdash/internal/datalayer"
	"clawdash/internal/display"
)

var errNoSnapshot = errors.New("no model status could be fetched")

// runOnce refreshes once and prints a plain-text report. It fails only when
// no status snapshot is available.
func runOnce(ctx context.Context, d *datalayer.DataLayer, w io.Writer, now func() time.Time) error {
	refreshErr := d.Refresh(ctx)
	d.RefreshHealth(ctx)
	snap := d.Snapshot()
	writeReport(w, snap, now())
	if !snap.HasStatus {
		if refreshErr != nil {
			return fmt.Errorf("%w: %w", errNoSnapshot, refreshErr)
		}
		return errNoSnapshot
	}
	return nil
}

func writeReport(w io.Writer, s datalayer.Snapshot, now time.Time) {
	var b strings.Builder

	fmt.Fprintf(&b, "CLAWDASH  %s\n\n", now.Format("2006-01-02 15:04:05"))

	b.WriteString("GATEWAY\n")
	g := gatewayStatusLines(s.Health, s.HasHealth)
	fmt.Fprintf(&b, "  version: %s\n  gateway: %s\n", g[0], g[1])
	for _, l := range g[2:] {
		fmt.Fprintf(&b, "  %s\n", l)
	}

	b.WriteString("\nMODEL ROTATION")
	switch {
	case !s.HasStatus:
		b.WriteString("  (unavailable)")
	case s.Stale():
		fmt.Fprintf(&b, "  STALE %s", snapshotAge(s, now))
	}
	b.WriteString("\n")
	for _, e := range s.Status.Rotation {
		marker := " "
		if e.IsActive() {
			marker = "►"
		}
		status, _ := rotationStatus(e)
		fmt.Fprintf(&b, "  %s %-40s %6s  %s\n", marker, e.Label, display.ContextLabel(e.ModelID, 0), status)
	}

	b.WriteString("\nAUTH ACCOUNTS\n")
	if len(s.Profiles) == 0 {
		b.WriteString("  none\n")
	}
	for _, p := range s.Profiles {
		v := describeProfile(p, now)
		fmt.Fprintf(&b, "  %-38s %s", v.label, v.detail)
		if v.bar != "" {
			fmt.Fprintf(&b, "  %s", v.bar)
		}
		if v.extra != "" {
			fmt.Fprintf(&b, "  (%s)", v.extra)
		}
		b.WriteString("\n")
	}
	if s.LastErr != nil {
		fmt.Fprintf(&b, "\nlast error: %v\n", s.LastErr)
	}

	_, _ = io.WriteString(w, b.String())
}
