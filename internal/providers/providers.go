// Package providers loads and edits the upstream providers configured in the
// gateway's main config (models.providers) and their place in the fallback
// chain (agents.defaults.model.fallbacks).
package providers

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"clawdash/internal/authstore"
	"clawdash/internal/jsonpatch"
)

// PlaceholderKey marks a provider whose credentials live in the auth store.
const PlaceholderKey = "from-auth-profiles"

// DefaultAPI is the wire dialect written for new providers.
const DefaultAPI = "openai-completions"

var (
	ErrInvalidName = errors.New("provider name must be non-empty and contain no '/'")
	ErrExists      = errors.New("provider already configured")
	ErrNotFound    = errors.New("provider not configured")
)

type TagKind int

const (
	TagCustom TagKind = iota
	TagLocal
	TagAPIKey
	TagOAuth
)

// AuthTag is how a provider authenticates, as shown in the provider list.
type AuthTag struct {
	Kind       TagKind
	OAuthCount int
}

func (t AuthTag) String() string {
	switch t.Kind {
	case TagOAuth:
		return fmt.Sprintf("OAUTH %d", t.OAuthCount)
	case TagAPIKey:
		return "API KEY"
	case TagLocal:
		return "LOCAL"
	default:
		return "CUSTOM"
	}
}

type Model struct {
	ID            string `json:"id"`
	ContextWindow int    `json:"contextWindow,omitempty"`
}

type Provider struct {
	ID      string  `json:"id"`
	BaseURL string  `json:"baseUrl"`
	APIKey  string  `json:"apiKey,omitempty"`
	API     string  `json:"api,omitempty"`
	Models  []Model `json:"models"`
	Tag     AuthTag `json:"-"`
}

// HasRealKey reports whether the provider carries its own key rather than the
// auth-store placeholder.
func (p Provider) HasRealKey() bool {
	return p.APIKey != "" && p.APIKey != PlaceholderKey
}

// TagFor applies the tag precedence: oauth profiles, then a real key, then a
// loopback base URL.
func TagFor(p Provider, oauthCount int) AuthTag {
	switch {
	case oauthCount > 0:
		return AuthTag{Kind: TagOAuth, OAuthCount: oauthCount}
	case p.HasRealKey():
		return AuthTag{Kind: TagAPIKey}
	case strings.HasPrefix(p.BaseURL, "http://127") || strings.HasPrefix(p.BaseURL, "http://localhost"):
		return AuthTag{Kind: TagLocal}
	default:
		return AuthTag{Kind: TagCustom}
	}
}

// NewProvider is what the add-provider flow collects.
type NewProvider struct {
	Name          string
	BaseURL       string
	APIKey        string
	AddToRotation bool
}

// Registry reads providers from the gateway config and cross-references the
// auth store for tags.
type Registry struct {
	ConfigPath string
	Auth       *authstore.Store
	Now        func() time.Time
}

func NewRegistry(configPath string, auth *authstore.Store) *Registry {
	return &Registry{ConfigPath: configPath, Auth: auth, Now: time.Now}
}

// Load returns the configured providers sorted by id. A missing or malformed
// config yields no providers.
func (r *Registry) Load() []Provider {
	raw, err := os.ReadFile(r.ConfigPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", r.ConfigPath).Msg("reading gateway config")
		}
		return nil
	}
	var profiles []authstore.Profile
	if r.Auth != nil {
		profiles = r.Auth.Read(r.Now())
	}
	return ParseProviders(raw, profiles)
}

// ParseProviders decodes models.providers and tags each entry.
func ParseProviders(doc []byte, profiles []authstore.Profile) []Provider {
	if !gjson.ValidBytes(doc) {
		return nil
	}
	var out []Provider
	gjson.GetBytes(doc, "models.providers").ForEach(func(key, v gjson.Result) bool {
		p := Provider{
			ID:      key.String(),
			BaseURL: v.Get("baseUrl").String(),
			APIKey:  v.Get("apiKey").String(),
			API:     v.Get("api").String(),
		}
		v.Get("models").ForEach(func(_, m gjson.Result) bool {
			id := m.Get("id").String()
			if id == "" {
				id = m.String()
			}
			p.Models = append(p.Models, Model{ID: id, ContextWindow: int(m.Get("contextWindow").Int())})
			return true
		})
		p.Tag = TagFor(p, authstore.OAuthCount(profiles, p.ID))
		out = append(out, p)
		return true
	})
	return out
}

// fallbacks returns the configured fallback chain.
func (r *Registry) fallbacks() []string {
	raw, err := os.ReadFile(r.ConfigPath)
	if err != nil {
		return nil
	}
	var out []string
	gjson.GetBytes(raw, "agents.defaults.model.fallbacks").ForEach(func(_, v gjson.Result) bool {
		out = append(out, v.String())
		return true
	})
	return out
}

// Add writes a new provider entry and, if requested, appends
// "<name>/default" to the fallback chain. Missing parent objects are created.
func (r *Registry) Add(np NewProvider) error {
	name := strings.TrimSpace(np.Name)
	if name == "" || strings.Contains(name, "/") {
		return ErrInvalidName
	}
	key := strings.TrimSpace(np.APIKey)
	if key == "" {
		key = PlaceholderKey
	}
	entry := map[string]any{
		"baseUrl": strings.TrimSpace(np.BaseURL),
		"apiKey":  key,
		"api":     DefaultAPI,
		"models":  []any{},
	}
	return jsonpatch.Update(r.ConfigPath, func(doc []byte) ([]byte, error) {
		path := jsonpatch.Path("models", "providers", name)
		if gjson.GetBytes(doc, path).Exists() {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
		doc, err := sjson.SetBytes(doc, path, entry)
		if err != nil {
			return nil, err
		}
		if !np.AddToRotation {
			return doc, nil
		}
		const fallbacks = "agents.defaults.model.fallbacks"
		var chain []string
		gjson.GetBytes(doc, fallbacks).ForEach(func(_, v gjson.Result) bool {
			chain = append(chain, v.String())
			return true
		})
		chain = append(chain, name+"/default")
		return sjson.SetBytes(doc, fallbacks, chain)
	})
}

// Remove deletes the provider entry. Fallback references to it are kept.
func (r *Registry) Remove(id string) error {
	return jsonpatch.Update(r.ConfigPath, func(doc []byte) ([]byte, error) {
		path := jsonpatch.Path("models", "providers", id)
		if !gjson.GetBytes(doc, path).Exists() {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return sjson.DeleteBytes(doc, path)
	})
}
