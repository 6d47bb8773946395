// Package profile stores the OB 3.0 Profile of each authenticated entity.
// Profiles are keyed by the email the access token carries.
package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
)

// Repository is the interface for profile persistence.
type Repository interface {
	// Get returns the profile stored for email, or a NOT_FOUND error.
	Get(ctx context.Context, email string) (*badge.Profile, error)

	// Put stores p for email, replacing any previous profile. created is true
	// when no profile existed.
	Put(ctx context.Context, email string, p *badge.Profile) (created bool, err error)
}

// NormalizeEmail lower-cases and trims an email for use as a key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Prepare validates p and fills an empty email from the owner's.
func Prepare(email string, p *badge.Profile) error {
	if NormalizeEmail(email) == "" {
		return badge.NewError(badge.ErrCodeSchemaViolation, "profile owner email is required")
	}
	if err := badge.ValidateProfile(p); err != nil {
		return err
	}
	if p.Email == "" {
		p.Email = strings.TrimSpace(email)
	}
	return nil
}

// NotFound is the error returned for an email without a profile.
func NotFound(email string) error {
	return badge.NewError(badge.ErrCodeNotFound, fmt.Sprintf("profile not found for %s", email))
}
