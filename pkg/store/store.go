// Package store persists signed VC-JWTs by credential uuid.
package store

import (
	"context"
	"errors"
	"time"
)

// DefaultListLimit is the page size used when ListOptions.Limit is zero.
const DefaultListLimit = 100

// ErrAlreadyExists is returned by Put when the id is already stored.
var ErrAlreadyExists = errors.New("credential already exists")

// Store is the interface for a credential store.
type Store interface {
	// Put stores token under id. Entries are never updated in place.
	Put(ctx context.Context, id, token string) error

	// Get retrieves the token stored under id, or badge.ErrNotFound.
	Get(ctx context.Context, id string) (string, error)

	// List returns a page of stored credentials, newest first.
	List(ctx context.Context, opts ListOptions) (*Page, error)
}

// ListOptions selects a page of credentials.
type ListOptions struct {
	Limit  int
	Offset int

	// Since, when non-zero, excludes credentials stored before it.
	Since time.Time
}

// Normalize applies defaults and clamps negative values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Record is a stored credential.
type Record struct {
	ID        string
	Token     string
	CreatedAt time.Time
}

// Page is one window of a listing. Total counts every match, not only this page.
type Page struct {
	Records []Record
	Total   int
}

// Tokens returns the compact JWS strings of the page in order.
func (p *Page) Tokens() []string {
	out := make([]string, 0, len(p.Records))
	for _, r := range p.Records {
		out = append(out, r.Token)
	}
	return out
}
