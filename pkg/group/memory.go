package group

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MemoryRepository is a Repository kept in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	groups map[string]*Group
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{groups: make(map[string]*Group)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, displayName, description string) (*Group, error) {
	name := NormalizeName(displayName)
	if name == "" {
		return nil, badge.NewError(badge.ErrCodeSchemaViolation, "displayName is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findByName(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	return clone(r.insert(name, description)), nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(g), nil
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context, filterDisplayName string) ([]*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		if MatchesFilter(g.DisplayName, filterDisplayName) {
			out = append(out, clone(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[id]; !ok {
		return notFound(id)
	}
	delete(r.groups, id)
	return nil
}

// AddMember implements Repository.
func (r *MemoryRepository) AddMember(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return notFound(id)
	}
	if !lo.Contains(g.Members, userID) {
		g.Members = append(g.Members, userID)
	}
	return nil
}

// RemoveMember implements Repository.
func (r *MemoryRepository) RemoveMember(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return notFound(id)
	}
	g.Members = lo.Without(g.Members, userID)
	return nil
}

// GroupsForUser implements Repository.
func (r *MemoryRepository) GroupsForUser(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, g := range r.groups {
		if lo.Contains(g.Members, userID) {
			names = append(names, g.DisplayName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// EnsureGroup implements Repository.
func (r *MemoryRepository) EnsureGroup(_ context.Context, displayName string) (*Group, error) {
	name := NormalizeName(displayName)
	if name == "" {
		return nil, badge.NewError(badge.ErrCodeSchemaViolation, "displayName is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if g := r.findByName(name); g != nil {
		return clone(g), nil
	}
	return clone(r.insert(name, "")), nil
}

// insert requires r.mu held for writing.
func (r *MemoryRepository) insert(name, description string) *Group {
	g := &Group{
		ID:          uuid.New().String(),
		DisplayName: name,
		Description: description,
		Members:     []string{},
		CreatedAt:   time.Now().UTC(),
	}
	r.groups[g.ID] = g
	return g
}

func (r *MemoryRepository) findByName(name string) *Group {
	for _, g := range r.groups {
		if g.DisplayName == name {
			return g
		}
	}
	return nil
}

func clone(g *Group) *Group {
	c := *g
	c.Members = append([]string{}, g.Members...)
	return &c
}

func notFound(id string) error {
	return badge.NewError(badge.ErrCodeNotFound, fmt.Sprintf("group %s not found", id))
}
