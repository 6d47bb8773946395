package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/profile"
	"github.com/pkg/errors"
)

// ProfileRepository is a profile.Repository backed by the profiles table.
// Each profile is stored as its JSON document.
type ProfileRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ profile.Repository = (*ProfileRepository)(nil)

// NewProfileRepository creates a ProfileRepository on db.
func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db, now: time.Now}
}

// Get returns the profile stored for email.
func (r *ProfileRepository) Get(ctx context.Context, email string) (*badge.Profile, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT document FROM profiles WHERE email = ?`, profile.NormalizeEmail(email)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profile.NotFound(email)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query profile")
	}

	var p badge.Profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, errors.Wrap(err, "decode profile")
	}
	return &p, nil
}

// Put inserts the profile for email, or replaces the stored document.
func (r *ProfileRepository) Put(ctx context.Context, email string, p *badge.Profile) (bool, error) {
	if err := profile.Prepare(email, p); err != nil {
		return false, err
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return false, errors.Wrap(err, "encode profile")
	}

	key := profile.NormalizeEmail(email)
	now := r.now().UTC().UnixNano()

	const insert = `INSERT INTO profiles (email, document, created_at, updated_at) VALUES (?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, insert, key, string(doc), now, now)
	if err == nil {
		return true, nil
	}
	if !isUniqueViolation(err) {
		return false, errors.Wrap(err, "insert profile")
	}

	const update = `UPDATE profiles SET document = ?, updated_at = ? WHERE email = ?`
	if _, err := r.db.ExecContext(ctx, update, string(doc), now, key); err != nil {
		return false, errors.Wrap(err, "update profile")
	}
	return false, nil
}
