package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"clawdash/internal/display"
)

var (
	// ErrNoJSON means stdout had no line starting with '{'.
	ErrNoJSON = errors.New("no JSON document in output")
	// ErrInvalidJSON means the document after the preamble did not parse.
	ErrInvalidJSON = errors.New("invalid JSON document")
	// ErrEmptyRotation means the document named no default model.
	ErrEmptyRotation = errors.New("status has no default model")
)

// RotationStatus is ACTIVE for position 0 and "#n" for fallback n.
type RotationStatus string

const StatusActive RotationStatus = "ACTIVE"

func ordinal(i int) RotationStatus {
	if i == 0 {
		return StatusActive
	}
	return RotationStatus(fmt.Sprintf("#%d", i))
}

// RotationEntry is one model in the fallback chain.
type RotationEntry struct {
	ModelID  string         `json:"model"`
	Label    string         `json:"label"`
	Status   RotationStatus `json:"status"`
	Position int            `json:"position"`
	Alias    string         `json:"alias,omitempty"`
}

// Provider is the segment before the first '/'.
func (e RotationEntry) Provider() string {
	p, _, _ := strings.Cut(e.ModelID, "/")
	return p
}

func (e RotationEntry) IsActive() bool { return e.Status == StatusActive }

// IsLocal reports models served by a local ollama instance.
func (e RotationEntry) IsLocal() bool { return e.Provider() == "ollama" }

// OAuthProfileSummary is the gateway's own view of an OAuth profile.
type OAuthProfileSummary struct {
	ProfileID   string `json:"profileId"`
	Provider    string `json:"provider"`
	Status      string `json:"status"`
	ExpiresAt   *int64 `json:"expiresAt,omitempty"`
	RemainingMs int64  `json:"remainingMs"`
}

// ModelStatus is one successful `models status --json` result.
type ModelStatus struct {
	DefaultModel  string                `json:"defaultModel"`
	Rotation      []RotationEntry       `json:"rotation"`
	OAuthProfiles []OAuthProfileSummary `json:"oauthProfiles"`
	Aliases       map[string]string     `json:"aliases"`
}

// ParseModelStatus extracts the status document from CLI stdout, skipping
// any preamble lines the CLI prints before it.
func ParseModelStatus(stdout []byte) (ModelStatus, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	start := -1
	for i, l := range lines {
		if strings.HasPrefix(l, "{") {
			start = i
			break
		}
	}
	if start < 0 {
		return ModelStatus{}, ErrNoJSON
	}
	return DecodeModelStatus(strings.Join(lines[start:], "\n"))
}

// DecodeModelStatus builds the rotation from defaultModel followed by the
// fallbacks, in that order.
func DecodeModelStatus(doc string) (ModelStatus, error) {
	if !gjson.Valid(doc) {
		return ModelStatus{}, ErrInvalidJSON
	}
	root := gjson.Parse(doc)
	if !root.IsObject() {
		return ModelStatus{}, ErrInvalidJSON
	}

	def := root.Get("defaultModel").String()
	if def == "" {
		return ModelStatus{}, ErrEmptyRotation
	}

	aliases := map[string]string{}
	byModel := map[string]string{}
	root.Get("aliases").ForEach(func(k, v gjson.Result) bool {
		alias, model := k.String(), v.String()
		aliases[alias] = model
		if prev, ok := byModel[model]; !ok || alias < prev {
			byModel[model] = alias
		}
		return true
	})

	chain := []string{def}
	for _, fb := range root.Get("fallbacks").Array() {
		chain = append(chain, fb.String())
	}

	st := ModelStatus{
		DefaultModel:  def,
		Rotation:      make([]RotationEntry, 0, len(chain)),
		OAuthProfiles: []OAuthProfileSummary{},
		Aliases:       aliases,
	}
	for i, model := range chain {
		st.Rotation = append(st.Rotation, RotationEntry{
			ModelID:  model,
			Label:    display.ShortenModelID(model),
			Status:   ordinal(i),
			Position: i,
			Alias:    byModel[model],
		})
	}

	for _, p := range root.Get("auth.oauth.profiles").Array() {
		s := OAuthProfileSummary{
			ProfileID:   p.Get("profileId").String(),
			Provider:    p.Get("provider").String(),
			Status:      p.Get("status").String(),
			RemainingMs: p.Get("remainingMs").Int(),
		}
		if exp := p.Get("expiresAt"); exp.Type == gjson.Number {
			v := exp.Int()
			s.ExpiresAt = &v
		}
		st.OAuthProfiles = append(st.OAuthProfiles, s)
	}
	return st, nil
}
