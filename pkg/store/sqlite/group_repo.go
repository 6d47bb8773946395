package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/group"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// GroupRepository is a group.Repository backed by the user_groups and group_members tables.
type GroupRepository struct {
	db *sql.DB
}

var _ group.Repository = (*GroupRepository)(nil)

// NewGroupRepository creates a GroupRepository on db.
func NewGroupRepository(db *sql.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create inserts a group with a fresh id.
func (r *GroupRepository) Create(ctx context.Context, displayName, description string) (*group.Group, error) {
	name := group.NormalizeName(displayName)
	if name == "" {
		return nil, badge.NewError(badge.ErrCodeSchemaViolation, "displayName is required")
	}

	g := &group.Group{
		ID:          uuid.New().String(),
		DisplayName: name,
		Description: description,
		Members:     []string{},
		CreatedAt:   time.Now().UTC(),
	}

	const q = `INSERT INTO user_groups (id, display_name, description, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, g.ID, g.DisplayName, g.Description, g.CreatedAt.UnixNano()); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", group.ErrDuplicate, name)
		}
		return nil, errors.Wrap(err, "insert group")
	}
	return g, nil
}

// Get returns a group with its members.
func (r *GroupRepository) Get(ctx context.Context, id string) (*group.Group, error) {
	g, err := r.scanOne(ctx, `SELECT id, display_name, description, created_at FROM user_groups WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, notFound(id)
	}
	if err := r.loadMembers(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// List returns groups ordered by display name.
func (r *GroupRepository) List(ctx context.Context, filterDisplayName string) ([]*group.Group, error) {
	const q = `
		SELECT id, display_name, description, created_at
		FROM user_groups
		WHERE ? = '' OR instr(lower(display_name), lower(?)) > 0
		ORDER BY display_name
	`
	filter := group.NormalizeName(filterDisplayName)
	rows, err := r.db.QueryContext(ctx, q, filter, filter)
	if err != nil {
		return nil, errors.Wrap(err, "query groups")
	}

	var out []*group.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "rows err")
	}
	// Close before issuing member queries: :memory: databases have a single connection
	rows.Close()

	for _, g := range out {
		if err := r.loadMembers(ctx, g); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Delete removes a group. Memberships go with it through ON DELETE CASCADE.
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_groups WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete group")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// AddMember adds userID to the group.
func (r *GroupRepository) AddMember(ctx context.Context, id, userID string) error {
	if err := r.requireGroup(ctx, id); err != nil {
		return err
	}
	const q = `INSERT OR IGNORE INTO group_members (group_id, user_id, created_at) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, id, userID, time.Now().UTC().UnixNano()); err != nil {
		return errors.Wrap(err, "insert member")
	}
	return nil
}

// RemoveMember removes userID from the group.
func (r *GroupRepository) RemoveMember(ctx context.Context, id, userID string) error {
	if err := r.requireGroup(ctx, id); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, id, userID); err != nil {
		return errors.Wrap(err, "delete member")
	}
	return nil
}

// GroupsForUser returns the display names of userID's groups, sorted.
func (r *GroupRepository) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	const q = `
		SELECT g.display_name
		FROM group_members m
		JOIN user_groups g ON g.id = m.group_id
		WHERE m.user_id = ?
		ORDER BY g.display_name
	`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query user groups")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan group name")
		}
		names = append(names, name)
	}
	return names, errors.Wrap(rows.Err(), "rows err")
}

// EnsureGroup returns the group named displayName, creating it when absent.
func (r *GroupRepository) EnsureGroup(ctx context.Context, displayName string) (*group.Group, error) {
	name := group.NormalizeName(displayName)
	if name == "" {
		return nil, badge.NewError(badge.ErrCodeSchemaViolation, "displayName is required")
	}

	const byName = `SELECT id, display_name, description, created_at FROM user_groups WHERE display_name = ?`
	g, err := r.scanOne(ctx, byName, name)
	if err != nil {
		return nil, err
	}
	if g != nil {
		return g, r.loadMembers(ctx, g)
	}

	g, err = r.Create(ctx, name, "")
	if errors.Is(err, group.ErrDuplicate) {
		// Created concurrently
		g, err = r.scanOne(ctx, byName, name)
		if err == nil && g == nil {
			err = notFound(name)
		}
		if err == nil {
			err = r.loadMembers(ctx, g)
		}
	}
	return g, err
}

func (r *GroupRepository) requireGroup(ctx context.Context, id string) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM user_groups WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	return errors.Wrap(err, "lookup group")
}

// scanOne returns nil, nil when no row matches.
func (r *GroupRepository) scanOne(ctx context.Context, q string, args ...interface{}) (*group.Group, error) {
	g, err := scanGroup(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

func (r *GroupRepository) loadMembers(ctx context.Context, g *group.Group) error {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM group_members WHERE group_id = ? ORDER BY created_at, user_id`, g.ID)
	if err != nil {
		return errors.Wrap(err, "query members")
	}
	defer rows.Close()

	g.Members = []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return errors.Wrap(err, "scan member")
		}
		g.Members = append(g.Members, userID)
	}
	return errors.Wrap(rows.Err(), "rows err")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGroup(row rowScanner) (*group.Group, error) {
	var (
		g         group.Group
		createdAt int64
	)
	if err := row.Scan(&g.ID, &g.DisplayName, &g.Description, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan group")
	}
	g.CreatedAt = time.Unix(0, createdAt).UTC()
	return &g, nil
}

func notFound(id string) error {
	return badge.NewError(badge.ErrCodeNotFound, fmt.Sprintf("group %s not found", id))
}
