package authstore

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"clawdash/internal/jsonpatch"
)

const storeDoc = `{
  "version": 1,
  "profiles": {
    "google-gemini-cli:me@example.com": {"type": "oauth", "provider": "google-gemini-cli", "email": "me@example.com", "expires": 1700003600000},
    "groq:default": {"type": "apiKey", "apiKey": "gsk_abcdefghijklmnop"},
    "qwen-portal:x": {"type": "token", "provider": "qwen-portal"},
    "mystery": {}
  },
  "usageStats": {
    "google-gemini-cli:me@example.com": {"cooldownUntil": 1700000005000, "errorCount": 4, "lastUsed": 1699999990000},
    "groq:default": {"cooldownUntil": 1600000000000, "errorCount": 1}
  }
}`

func TestParseProfiles_DocumentOrderAndDerivedFields(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	profiles, err := ParseProfiles([]byte(storeDoc), now)
	require.NoError(t, err)
	require.Len(t, profiles, 4)

	ids := make([]string, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ProfileID
	}
	assert.Equal(t, []string{"google-gemini-cli:me@example.com", "groq:default", "qwen-portal:x", "mystery"}, ids)

	gem := profiles[0]
	assert.Equal(t, AuthOAuth, gem.AuthType)
	assert.Equal(t, "me@example.com", gem.Email)
	assert.Equal(t, "me@example.com", gem.Account())
	require.NotNil(t, gem.ExpiresAtMs)
	assert.Equal(t, int64(1_700_003_600_000), *gem.ExpiresAtMs)
	assert.True(t, gem.InCooldown)
	assert.Equal(t, int64(5000), gem.CooldownRemainingMs)
	assert.Equal(t, 4, gem.ErrorCount)
	require.NotNil(t, gem.LastUsedMs)

	groq := profiles[1]
	assert.Equal(t, "groq", groq.Provider)
	assert.Equal(t, AuthAPIKey, groq.AuthType)
	assert.Equal(t, "gsk_abcd...", groq.APIKeyHint)
	assert.False(t, groq.InCooldown, "cooldown in the past")
	assert.Zero(t, groq.CooldownRemainingMs)
	assert.Equal(t, 1, groq.ErrorCount)

	assert.Equal(t, AuthType("token"), profiles[2].AuthType)
	assert.Equal(t, AuthUnknown, profiles[3].AuthType)
	assert.Equal(t, "mystery", profiles[3].Provider)
	assert.Nil(t, profiles[3].ExpiresAtMs)
}

func TestParseProfiles_CooldownTracksClock(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	profiles, err := ParseProfiles([]byte(storeDoc), now)
	require.NoError(t, err)
	assert.True(t, profiles[0].InCooldown)

	later, err := ParseProfiles([]byte(storeDoc), now.Add(6*time.Second))
	require.NoError(t, err)
	assert.False(t, later[0].InCooldown)
	assert.Zero(t, later[0].CooldownRemainingMs)

	assert.Len(t, InCooldown(profiles), 1)
	assert.Empty(t, InCooldown(later))
}

func TestParseProfiles_ShortKeyStillMasked(t *testing.T) {
	profiles, err := ParseProfiles([]byte(`{"profiles":{"a:b":{"type":"apiKey","apiKey":"abc"}}}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "abc...", profiles[0].APIKeyHint)
}

func TestParseProfiles_Invalid(t *testing.T) {
	_, err := ParseProfiles([]byte("not json"), time.Now())
	assert.Error(t, err)
	_, err = ParseProfiles([]byte(`[1,2]`), time.Now())
	assert.Error(t, err)

	profiles, err := ParseProfiles([]byte(`{}`), time.Now())
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestEmailFromJWT(t *testing.T) {
	enc := base64.RawURLEncoding.EncodeToString
	tok := "h." + enc([]byte(`{"https://api.openai.com/profile":{"email":" nested@x.io "}}`)) + ".s"
	assert.Equal(t, "nested@x.io", emailFromJWT(tok))

	tok = "h." + enc([]byte(`{"email":"flat@x.io"}`)) + ".s"
	assert.Equal(t, "flat@x.io", emailFromJWT(tok))

	assert.Empty(t, emailFromJWT("garbage"))
	assert.Empty(t, emailFromJWT("a.!!!.c"))

	doc := `{"profiles":{"openai-codex:p":{"type":"oauth","access":"` + tok + `"}}}`
	profiles, err := ParseProfiles([]byte(doc), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "flat@x.io", profiles[0].Email)
}

func TestStore_ReadNeverFails(t *testing.T) {
	dir := t.TempDir()
	assert.Nil(t, NewStore(filepath.Join(dir, "missing.json")).Read(time.Now()))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	assert.Nil(t, NewStore(bad).Read(time.Now()))
}

func TestStore_ClearCooldown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth-profiles.json")
	require.NoError(t, os.WriteFile(path, []byte(storeDoc), 0o600))
	store := NewStore(path)

	require.NoError(t, store.ClearCooldown("google-gemini-cli:me@example.com"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	stats := gjson.GetBytes(raw, jsonpatch.Path("usageStats", "google-gemini-cli:me@example.com"))
	assert.False(t, stats.Get("cooldownUntil").Exists())
	assert.Equal(t, int64(0), stats.Get("errorCount").Int())
	assert.Equal(t, int64(1_699_999_990_000), stats.Get("lastUsed").Int())
	assert.Equal(t, int64(1), gjson.GetBytes(raw, "usageStats.groq:default.errorCount").Int())

	profiles := store.Read(time.UnixMilli(1_700_000_000_000))
	require.NotEmpty(t, profiles)
	assert.False(t, profiles[0].InCooldown)
	assert.Zero(t, profiles[0].ErrorCount)
}

func TestStore_ClearCooldownUnknownProfileIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth-profiles.json")
	require.NoError(t, os.WriteFile(path, []byte(storeDoc), 0o600))

	require.NoError(t, NewStore(path).ClearCooldown("qwen-portal:x"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, storeDoc, string(raw))
}

func TestOAuthCount(t *testing.T) {
	profiles, err := ParseProfiles([]byte(storeDoc), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, OAuthCount(profiles, "google-gemini-cli"))
	assert.Zero(t, OAuthCount(profiles, "groq"))
}
