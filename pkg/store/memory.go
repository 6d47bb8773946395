package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
)

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	seq     map[string]int
	next    int
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		seq:     make(map[string]int),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for CreatedAt (for testing).
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, id, token string) error {
	if id == "" {
		return badge.NewError(badge.ErrCodeSchemaViolation, "credential id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	s.records[id] = Record{ID: id, Token: token, CreatedAt: s.now().UTC()}
	s.seq[id] = s.next
	s.next++
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return "", badge.NewError(badge.ErrCodeNotFound, fmt.Sprintf("credential %s not found", id))
	}
	return r.Token, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, opts ListOptions) (*Page, error) {
	opts = opts.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if !opts.Since.IsZero() && r.CreatedAt.Before(opts.Since) {
			continue
		}
		matched = append(matched, r)
	}

	// Newest first; insertion order breaks ties
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return s.seq[matched[i].ID] > s.seq[matched[j].ID]
	})

	page := &Page{Total: len(matched)}
	if opts.Offset < len(matched) {
		end := opts.Offset + opts.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Records = matched[opts.Offset:end]
	}
	return page, nil
}
