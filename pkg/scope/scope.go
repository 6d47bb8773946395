// Package scope maps OAuth2 scopes and group memberships to Open Badges API
// access rights.
package scope

import (
	"strings"

	"github.com/samber/lo"
)

// ScopePrefix is the IRI prefix shared by every Open Badges 3.0 scope.
const ScopePrefix = "https://purl.imsglobal.org/spec/ob/v3p0/scope/"

// Open Badges 3.0 scopes.
const (
	CredentialReadonly = ScopePrefix + "credential.readonly"
	CredentialUpsert   = ScopePrefix + "credential.upsert"
	ProfileReadonly    = ScopePrefix + "profile.readonly"
	ProfileUpdate      = ScopePrefix + "profile.update"
)

// All returns every Open Badges scope in a stable order.
func All() []string {
	return []string{CredentialReadonly, CredentialUpsert, ProfileReadonly, ProfileUpdate}
}

// Expand turns a short scope name such as "credential.readonly" into its IRI.
// Full IRIs are returned unchanged.
func Expand(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "://") {
		return s
	}
	return ScopePrefix + s
}

// User is an authenticated principal.
type User struct {
	ID     string   `json:"id"`
	Email  string   `json:"email,omitempty"`
	Name   string   `json:"name,omitempty"`
	Groups []string `json:"groups"`

	// Claims holds the raw access token claims. Nil for users not backed by a token.
	Claims map[string]interface{} `json:"-"`
}

// Scopes returns the scopes granted directly by the user's token.
func (u *User) Scopes() []string {
	if u == nil {
		return nil
	}
	return ExtractScopes(u.Claims)
}

// ExtractScopes collects scopes from the scp and scope claims (space separated)
// and the roles claim (array). Duplicates are removed, first occurrence wins.
func ExtractScopes(claims map[string]interface{}) []string {
	var scopes []string
	for _, name := range []string{"scp", "scope"} {
		scopes = append(scopes, splitClaim(claims[name])...)
	}
	scopes = append(scopes, StringSlice(claims["roles"])...)
	return lo.Uniq(scopes)
}

// StringSlice returns the string elements of an array claim.
// Non-string elements and non-array values are ignored.
func StringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func splitClaim(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return strings.Fields(t)
	case []interface{}, []string:
		// Some providers emit scp as an array
		return StringSlice(t)
	default:
		return nil
	}
}
