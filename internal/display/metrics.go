// Package display holds the small derived values the dashboard shows:
// progress bars, severity bands, context-window labels and countdowns.
package display

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Band is the colour class of a remaining-fraction bar.
type Band int

const (
	BandCritical Band = iota
	BandWarning
	BandHealthy
)

func (b Band) String() string {
	switch b {
	case BandHealthy:
		return "healthy"
	case BandWarning:
		return "warning"
	default:
		return "critical"
	}
}

// BandFor classifies fraction: above 0.5 healthy, above 0.2 warning.
func BandFor(fraction float64) Band {
	switch {
	case fraction > 0.5:
		return BandHealthy
	case fraction > 0.2:
		return BandWarning
	default:
		return BandCritical
	}
}

// DefaultBarWidth matches the auth panel's bar.
const DefaultBarWidth = 18

// Clamp01 limits f to [0, 1]. NaN counts as 0.
func Clamp01(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Bar renders ▕████░░░░▏ with round(fraction*width) filled cells.
func Bar(fraction float64, width int) string {
	if width < 0 {
		width = 0
	}
	filled := int(math.Round(Clamp01(fraction) * float64(width)))
	if filled > width {
		filled = width
	}
	return "▕" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "▏"
}

// Percent is the integer percentage shown next to a bar.
func Percent(fraction float64) int {
	return int(Clamp01(fraction) * 100)
}

var providerContext = map[string]string{
	"google-gemini-cli":  "1024k",
	"google-antigravity": "1024k",
	"groq":               "128k",
	"qwen-portal":        "125k",
	"opencode":           "256k",
	"ollama":             "125k",
}

// ContextLabel describes a model's context window. An explicit raw value wins;
// otherwise the provider table applies, with per-model overrides.
func ContextLabel(modelID string, raw int) string {
	if raw > 0 {
		if raw >= 1000 {
			return fmt.Sprintf("%dk", raw/1000)
		}
		return strconv.Itoa(raw)
	}
	switch {
	case strings.Contains(modelID, "deepseek"):
		return "16k"
	case strings.Contains(modelID, "gemma2-9b"):
		return "8k"
	case strings.Contains(modelID, "sonnet"), strings.Contains(modelID, "claude"):
		return "195k"
	}
	provider, _, _ := strings.Cut(modelID, "/")
	if label, ok := providerContext[provider]; ok {
		return label
	}
	return "???"
}

// ShortenModelID drops the "google-" vendor prefix from the provider segment
// of a two-segment provider/model id. Control operations always use the full id.
func ShortenModelID(id string) string {
	parts := strings.Split(id, "/")
	if len(parts) != 2 {
		return id
	}
	return strings.TrimPrefix(parts[0], "google-") + "/" + parts[1]
}

// ShortProvider trims the vendor prefix and caps the length for narrow columns.
func ShortProvider(provider string, n int) string {
	return Truncate(strings.TrimPrefix(provider, "google-"), n)
}

// Countdown formats a remaining duration as "Xm YYs".
func Countdown(remainingMs int64) string {
	if remainingMs < 0 {
		remainingMs = 0
	}
	s := remainingMs / 1000
	return fmt.Sprintf("%dm %02ds", s/60, s%60)
}

// TokenLifetime is the nominal OAuth access-token lifetime used to scale
// expiry bars.
const TokenLifetime = time.Hour

// ExpiryFraction is the share of TokenLifetime left before expiresAtMs.
func ExpiryFraction(expiresAtMs int64, now time.Time) (fraction float64, remainingMs int64) {
	remainingMs = expiresAtMs - now.UnixMilli()
	if remainingMs <= 0 {
		return 0, 0
	}
	return Clamp01(float64(remainingMs) / float64(TokenLifetime.Milliseconds())), remainingMs
}

// MaskSecret keeps the first n characters of a secret followed by suffix.
func MaskSecret(secret string, n int, suffix string) string {
	if len(secret) <= n {
		return secret
	}
	return secret[:n] + suffix
}

// Truncate caps s at n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
