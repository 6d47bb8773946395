package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/store"
	"github.com/pkg/errors"
)

// CredentialRepository is a store.Store backed by the credentials table.
type CredentialRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*CredentialRepository)(nil)

// NewCredentialRepository creates a CredentialRepository on db.
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db, now: time.Now}
}

// SetClock overrides the time source recorded as created_at (for testing).
func (r *CredentialRepository) SetClock(now func() time.Time) {
	r.now = now
}

// Put inserts a credential. An existing id is never overwritten.
func (r *CredentialRepository) Put(ctx context.Context, id, token string) error {
	if id == "" {
		return badge.NewError(badge.ErrCodeSchemaViolation, "credential id is required")
	}

	const q = `INSERT INTO credentials (id, token, created_at) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, id, token, r.now().UTC().UnixNano()); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrAlreadyExists, id)
		}
		return errors.Wrap(err, "insert credential")
	}
	return nil
}

// Get returns the token stored under id.
func (r *CredentialRepository) Get(ctx context.Context, id string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, `SELECT token FROM credentials WHERE id = ?`, id).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", badge.NewError(badge.ErrCodeNotFound, fmt.Sprintf("credential %s not found", id))
	}
	if err != nil {
		return "", errors.Wrap(err, "query credential")
	}
	return token, nil
}

// List returns credentials newest first. Rows stored in the same instant keep
// reverse insertion order.
func (r *CredentialRepository) List(ctx context.Context, opts store.ListOptions) (*store.Page, error) {
	opts = opts.Normalize()

	var since int64
	if !opts.Since.IsZero() {
		since = opts.Since.UTC().UnixNano()
	}

	page := &store.Page{}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials WHERE created_at >= ?`, since).Scan(&page.Total); err != nil {
		return nil, errors.Wrap(err, "count credentials")
	}

	const q = `
		SELECT id, token, created_at
		FROM credentials
		WHERE created_at >= ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, q, since, opts.Limit, opts.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "query credentials")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec       store.Record
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Token, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan credential")
		}
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows err")
	}
	return page, nil
}
