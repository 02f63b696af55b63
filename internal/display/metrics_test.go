package display

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBar(t *testing.T) {
	assert.Equal(t, "▕░░░░▏", Bar(0, 4))
	assert.Equal(t, "▕████▏", Bar(1, 4))
	assert.Equal(t, "▕██░░▏", Bar(0.5, 4))
	// round half away from zero: 0.3*5 = 1.5 -> 2
	assert.Equal(t, "▕██░░░▏", Bar(0.3, 5))
	assert.Equal(t, "▕████▏", Bar(7, 4))
	assert.Equal(t, "▕░░░░▏", Bar(-3, 4))
	assert.Equal(t, "▕░░░░▏", Bar(math.NaN(), 4))
	assert.Equal(t, "▕▏", Bar(0.5, 0))
}

func TestBandFor(t *testing.T) {
	assert.Equal(t, BandHealthy, BandFor(0.51))
	assert.Equal(t, BandWarning, BandFor(0.5))
	assert.Equal(t, BandWarning, BandFor(0.21))
	assert.Equal(t, BandCritical, BandFor(0.2))
	assert.Equal(t, BandCritical, BandFor(0))
	assert.Equal(t, "healthy", BandHealthy.String())
}

func TestContextLabel(t *testing.T) {
	assert.Equal(t, "1048k", ContextLabel("anything/x", 1_048_576))
	assert.Equal(t, "128k", ContextLabel("anything/x", 128_000))
	assert.Equal(t, "512", ContextLabel("anything/x", 512))

	assert.Equal(t, "1024k", ContextLabel("google-gemini-cli/gemini-3-pro", 0))
	assert.Equal(t, "16k", ContextLabel("groq/deepseek-r1-distill", 0))
	assert.Equal(t, "8k", ContextLabel("groq/gemma2-9b-it", 0))
	assert.Equal(t, "195k", ContextLabel("opencode/claude-sonnet-4", 0))
	assert.Equal(t, "128k", ContextLabel("groq/llama-3.3-70b", 0))
	assert.Equal(t, "???", ContextLabel("mystery/model", 0))
}

func TestShortenModelID(t *testing.T) {
	assert.Equal(t, "gemini-cli/gemini-3-flash", ShortenModelID("google-gemini-cli/gemini-3-flash"))
	assert.Equal(t, "groq/llama", ShortenModelID("groq/llama"))
	assert.Equal(t, "google-a/b/c", ShortenModelID("google-a/b/c"))
	assert.Equal(t, "plain", ShortenModelID("plain"))
}

func TestCountdown(t *testing.T) {
	assert.Equal(t, "0m 05s", Countdown(5000))
	assert.Equal(t, "2m 03s", Countdown(123_999))
	assert.Equal(t, "0m 00s", Countdown(-10))
}

func TestExpiryFraction(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	f, rem := ExpiryFraction(now.UnixMilli()+30*60*1000, now)
	assert.InDelta(t, 0.5, f, 1e-9)
	assert.Equal(t, int64(30*60*1000), rem)

	f, _ = ExpiryFraction(now.UnixMilli()+3*time.Hour.Milliseconds(), now)
	assert.Equal(t, 1.0, f)

	f, rem = ExpiryFraction(now.UnixMilli()-1, now)
	assert.Zero(t, f)
	assert.Zero(t, rem)
}

func TestMaskAndTruncate(t *testing.T) {
	assert.Equal(t, "sk-abcde...", MaskSecret("sk-abcdefghijkl", 8, "..."))
	assert.Equal(t, "short", MaskSecret("short", 8, "..."))
	assert.Equal(t, "gemini-cli", ShortProvider("google-gemini-cli", 14))
	assert.Equal(t, "héllo", Truncate("héllo world", 5))
}
