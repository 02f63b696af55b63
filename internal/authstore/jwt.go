package authstore

import (
	"encoding/base64"
	"strings"

	"github.com/tidwall/gjson"
)

// emailFromJWT reads the email claim from an unverified access token. It is
// display-only; the signature is never checked.
func emailFromJWT(token string) string {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 || parts[1] == "" {
		return ""
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil || !gjson.ValidBytes(raw) {
		return ""
	}
	claims := gjson.ParseBytes(raw)
	for _, path := range []string{`https://api\.openai\.com/profile.email`, "email"} {
		if email := strings.TrimSpace(claims.Get(path).String()); email != "" {
			return email
		}
	}
	return ""
}
