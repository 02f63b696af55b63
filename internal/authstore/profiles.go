// Package authstore reads the gateway's credential store and derives each
// profile's cooldown and expiry state against an explicit clock.
package authstore

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"clawdash/internal/jsonpatch"
)

// AuthType is the profile's credential kind. Types the store uses beyond
// these are carried through verbatim.
type AuthType string

const (
	AuthOAuth   AuthType = "oauth"
	AuthAPIKey  AuthType = "apiKey"
	AuthUnknown AuthType = "unknown"
)

// Profile is one credential as of a single read. Nothing here is cached
// between reads.
type Profile struct {
	ProfileID           string   `json:"profileId"`
	Provider            string   `json:"provider"`
	AuthType            AuthType `json:"authType"`
	Email               string   `json:"email,omitempty"`
	APIKeyHint          string   `json:"apiKeyHint,omitempty"`
	ExpiresAtMs         *int64   `json:"expiresAtMs,omitempty"`
	InCooldown          bool     `json:"inCooldown"`
	CooldownRemainingMs int64    `json:"cooldownRemainingMs"`
	ErrorCount          int      `json:"errorCount"`
	LastUsedMs          *int64   `json:"lastUsedMs,omitempty"`
}

// Account is the part of the profile id after the provider.
func (p Profile) Account() string {
	if i := strings.LastIndex(p.ProfileID, ":"); i >= 0 {
		return p.ProfileID[i+1:]
	}
	return p.ProfileID
}

var errInvalidStore = errors.New("credential store is not a JSON object")

// ParseProfiles derives every profile in doc, in document order. All
// profiles share the single now passed in.
func ParseProfiles(doc []byte, now time.Time) ([]Profile, error) {
	if !gjson.ValidBytes(doc) {
		return nil, errInvalidStore
	}
	root := gjson.ParseBytes(doc)
	if !root.IsObject() {
		return nil, errInvalidStore
	}
	nowMs := now.UnixMilli()
	usage := root.Get("usageStats")

	var out []Profile
	root.Get("profiles").ForEach(func(key, p gjson.Result) bool {
		id := key.String()
		stats := usage.Get(jsonpatch.Key(id))

		prof := Profile{
			ProfileID:  id,
			Provider:   p.Get("provider").String(),
			AuthType:   AuthUnknown,
			Email:      p.Get("email").String(),
			ErrorCount: int(stats.Get("errorCount").Int()),
		}
		if prof.Provider == "" {
			prof.Provider, _, _ = strings.Cut(id, ":")
		}
		if t := p.Get("type").String(); t != "" {
			prof.AuthType = AuthType(t)
		}
		if prof.Email == "" {
			prof.Email = emailFromJWT(p.Get("access").String())
		}
		if key := p.Get("apiKey").String(); key != "" {
			prof.APIKeyHint = maskKey(key)
		}
		if exp := p.Get("expires"); exp.Type == gjson.Number {
			v := exp.Int()
			prof.ExpiresAtMs = &v
		}
		if lu := stats.Get("lastUsed"); lu.Type == gjson.Number {
			v := lu.Int()
			prof.LastUsedMs = &v
		}
		if until := stats.Get("cooldownUntil").Int(); until > nowMs {
			prof.InCooldown = true
			prof.CooldownRemainingMs = until - nowMs
		}
		out = append(out, prof)
		return true
	})
	return out, nil
}

// maskKey keeps an 8-character prefix; the full secret never leaves here.
func maskKey(key string) string {
	if len(key) > 8 {
		key = key[:8]
	}
	return key + "..."
}

// Store is the on-disk credential store.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Read returns the profiles as of now, or nothing if the file is missing or
// malformed.
func (s *Store) Read(now time.Time) []Profile {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", s.path).Msg("reading auth profiles")
		}
		return nil
	}
	profiles, err := ParseProfiles(raw, now)
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("parsing auth profiles")
		return nil
	}
	return profiles
}

// ClearCooldown removes cooldownUntil from the profile's usage stats and
// resets its error count. Profiles without usage stats are left alone.
func (s *Store) ClearCooldown(profileID string) error {
	return jsonpatch.Update(s.path, func(doc []byte) ([]byte, error) {
		base := jsonpatch.Path("usageStats", profileID)
		if !gjson.GetBytes(doc, base).IsObject() {
			return nil, jsonpatch.ErrNoChange
		}
		doc, err := sjson.DeleteBytes(doc, base+".cooldownUntil")
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(doc, base+".errorCount", 0)
	})
}

// OAuthCount is how many oauth profiles belong to provider.
func OAuthCount(profiles []Profile, provider string) int {
	n := 0
	for _, p := range profiles {
		if p.Provider == provider && p.AuthType == AuthOAuth {
			n++
		}
	}
	return n
}

// InCooldown filters profiles down to those currently cooling down.
func InCooldown(profiles []Profile) []Profile {
	var out []Profile
	for _, p := range profiles {
		if p.InCooldown {
			out = append(out, p)
		}
	}
	return out
}
