package scope

import (
	"fmt"
	"os"
	"strings"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Group names used by the default mapping.
const (
	GroupIssuers     = "Issuers"
	GroupBadgeAdmins = "Badge Admins"
	GroupUsers       = "Users"
)

// Mapper decides access from scopes, falling back to group membership.
type Mapper struct {
	// GroupsByScope lists, per scope IRI, the groups that imply it.
	GroupsByScope map[string][]string `yaml:"scopes"`

	// AdminGroups grant administrative access. Empty grants it to nobody.
	AdminGroups []string `yaml:"admin_groups"`

	// IssuerGroups grant issuance. Empty grants it to nobody.
	IssuerGroups []string `yaml:"issuer_groups"`
}

// DefaultMapping returns the stock scope to group table.
func DefaultMapping() *Mapper {
	return &Mapper{
		GroupsByScope: map[string][]string{
			CredentialReadonly: {GroupIssuers, GroupBadgeAdmins},
			CredentialUpsert:   {GroupIssuers, GroupBadgeAdmins},
			ProfileReadonly:    {GroupIssuers, GroupBadgeAdmins, GroupUsers},
			ProfileUpdate:      {GroupIssuers, GroupBadgeAdmins},
		},
		IssuerGroups: []string{GroupIssuers},
	}
}

// LoadMapping reads a YAML mapping file. Scope keys may be short names
// ("credential.readonly") or full IRIs.
func LoadMapping(path string) (*Mapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, badge.WrapError(badge.ErrCodeConfiguration, "failed to read scope mapping", err)
	}
	return ParseMapping(data)
}

// ParseMapping decodes a YAML mapping document.
func ParseMapping(data []byte) (*Mapper, error) {
	var raw Mapper
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, badge.WrapError(badge.ErrCodeConfiguration, "failed to parse scope mapping", err)
	}

	m := &Mapper{
		GroupsByScope: make(map[string][]string, len(raw.GroupsByScope)),
		AdminGroups:   CleanGroups(raw.AdminGroups),
		IssuerGroups:  CleanGroups(raw.IssuerGroups),
	}
	for s, groups := range raw.GroupsByScope {
		iri := Expand(s)
		if !strings.HasPrefix(iri, "http") {
			return nil, badge.NewError(badge.ErrCodeConfiguration, fmt.Sprintf("invalid scope %q in mapping", s))
		}
		m.GroupsByScope[iri] = append(m.GroupsByScope[iri], CleanGroups(groups)...)
	}
	return m, nil
}

// ParseGroupList splits a comma separated group list, dropping blanks.
func ParseGroupList(s string) []string {
	return CleanGroups(strings.Split(s, ","))
}

// CleanGroups trims names and drops blanks and duplicates.
func CleanGroups(groups []string) []string {
	out := lo.Map(groups, func(g string, _ int) string { return strings.TrimSpace(g) })
	return lo.Uniq(lo.Compact(out))
}

// HasScope reports whether user holds required, directly or through a group.
func (m *Mapper) HasScope(user *User, required string) bool {
	if user == nil {
		return false
	}
	if lo.Contains(user.Scopes(), required) {
		return true
	}
	return intersects(user.Groups, m.GroupsByScope[required])
}

// RequireScope returns a Forbidden error unless user holds required.
func (m *Mapper) RequireScope(user *User, required string) error {
	if m.HasScope(user, required) {
		return nil
	}
	return badge.NewError(badge.ErrCodeForbidden, "Insufficient permissions. Required scope: "+required)
}

// IsAdmin reports whether user belongs to an admin group.
func (m *Mapper) IsAdmin(user *User) bool {
	return user != nil && intersects(user.Groups, m.AdminGroups)
}

// IsIssuer reports whether user belongs to an issuer group.
func (m *Mapper) IsIssuer(user *User) bool {
	return user != nil && intersects(user.Groups, m.IssuerGroups)
}

// RequireAdmin returns a Forbidden error unless user is an admin.
func (m *Mapper) RequireAdmin(user *User) error {
	if m.IsAdmin(user) {
		return nil
	}
	return badge.NewError(badge.ErrCodeForbidden, "Admin access required. User must be in one of the admin groups.")
}

// RequireIssuer returns a Forbidden error unless user may issue credentials.
func (m *Mapper) RequireIssuer(user *User) error {
	if m.IsIssuer(user) {
		return nil
	}
	return badge.NewError(badge.ErrCodeForbidden, "Issuer access required. User must be in one of the issuer groups.")
}

func intersects(have, want []string) bool {
	if len(want) == 0 {
		return false
	}
	return len(lo.Intersect(have, want)) > 0
}
