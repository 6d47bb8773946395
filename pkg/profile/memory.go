package profile

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
)

// MemoryRepository is a Repository kept in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[string][]byte
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{profiles: make(map[string][]byte)}
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, email string) (*badge.Profile, error) {
	r.mu.RLock()
	data, ok := r.profiles[NormalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, NotFound(email)
	}

	var p badge.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Put implements Repository. Profiles are held encoded so callers never share
// nested values with the repository.
func (r *MemoryRepository) Put(_ context.Context, email string, p *badge.Profile) (bool, error) {
	if err := Prepare(email, p); err != nil {
		return false, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return false, err
	}

	key := NormalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.profiles[key]
	r.profiles[key] = data
	return !existed, nil
}
