// Package group manages the authorization groups users belong to.
// Group display names are what the scope mapper matches against.
package group

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultIssuersGroup is seeded at startup and grants issuance rights.
const DefaultIssuersGroup = "Issuers"

// ErrDuplicate is returned when creating a group whose display name is taken.
var ErrDuplicate = errors.New("group already exists")

// Group is a named set of user ids.
type Group struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Description string    `json:"description,omitempty"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Repository is the interface for group persistence.
type Repository interface {
	// Create adds a group. The display name must be unique.
	Create(ctx context.Context, displayName, description string) (*Group, error)

	// Get retrieves a group by id, or badge.ErrNotFound.
	Get(ctx context.Context, id string) (*Group, error)

	// List returns groups ordered by display name. A non-empty filter keeps
	// only groups whose display name contains it, case-insensitively.
	List(ctx context.Context, filterDisplayName string) ([]*Group, error)

	// Delete removes a group and its memberships.
	Delete(ctx context.Context, id string) error

	// AddMember adds userID to the group. Adding an existing member is a no-op.
	AddMember(ctx context.Context, id, userID string) error

	// RemoveMember removes userID from the group.
	RemoveMember(ctx context.Context, id, userID string) error

	// GroupsForUser returns the display names of the groups userID belongs to.
	GroupsForUser(ctx context.Context, userID string) ([]string, error)

	// EnsureGroup returns the group with displayName, creating it if needed.
	EnsureGroup(ctx context.Context, displayName string) (*Group, error)
}

// NormalizeName trims a display name for storage and comparison.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// MatchesFilter reports whether displayName contains filter, ignoring case.
func MatchesFilter(displayName, filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(displayName), strings.ToLower(strings.TrimSpace(filter)))
}
