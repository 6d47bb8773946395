// Package profiletest provides a behavioral test suite for profile.Repository implementations.
package profiletest

import (
	"context"
	"testing"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SampleProfile returns a valid profile with nested values.
func SampleProfile() *badge.Profile {
	return &badge.Profile{
		ID:          "https://badges.example.edu/profiles/alice",
		Type:        []string{badge.TypeProfile},
		Name:        "Alice Example",
		GivenName:   "Alice",
		FamilyName:  "Example",
		DateOfBirth: "1990-04-01",
		Image:       &badge.Image{ID: "https://cdn.example.edu/alice.png", Type: "Image"},
		Address:     &badge.Address{Type: []string{"Address"}, AddressLocality: "Springfield", AddressCountryCode: "US"},
	}
}

// RunRepositoryTests exercises repo constructors against the Repository contract.
// newRepo must return an empty repository on every call.
func RunRepositoryTests(t *testing.T, newRepo func(t *testing.T) profile.Repository) {
	t.Run("put and get", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		created, err := repo.Put(ctx, "alice@example.edu", SampleProfile())
		require.NoError(t, err)
		assert.True(t, created)

		got, err := repo.Get(ctx, "alice@example.edu")
		require.NoError(t, err)
		want := SampleProfile()
		want.Email = "alice@example.edu"
		assert.Equal(t, want, got)
	})

	t.Run("email key ignores case and space", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		_, err := repo.Put(ctx, " Alice@Example.edu ", SampleProfile())
		require.NoError(t, err)
		got, err := repo.Get(ctx, "alice@example.edu")
		require.NoError(t, err)
		assert.Equal(t, "Alice Example", got.Name)
	})

	t.Run("put replaces", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		_, err := repo.Put(ctx, "alice@example.edu", SampleProfile())
		require.NoError(t, err)

		updated := SampleProfile()
		updated.Name = "Alice Renamed"
		updated.Address = nil
		updated.Email = "alice.work@example.edu"
		created, err := repo.Put(ctx, "alice@example.edu", updated)
		require.NoError(t, err)
		assert.False(t, created)

		got, err := repo.Get(ctx, "alice@example.edu")
		require.NoError(t, err)
		assert.Equal(t, "Alice Renamed", got.Name)
		assert.Nil(t, got.Address)
		assert.Equal(t, "alice.work@example.edu", got.Email)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := newRepo(t).Get(context.Background(), "nobody@example.edu")
		assert.ErrorIs(t, err, badge.ErrNotFound)
	})

	t.Run("invalid profiles", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		noID := SampleProfile()
		noID.ID = ""
		noType := SampleProfile()
		noType.Type = []string{"Person"}
		badDate := SampleProfile()
		badDate.DateOfBirth = "April 1st"

		for _, p := range []*badge.Profile{noID, noType, badDate, nil} {
			_, err := repo.Put(ctx, "alice@example.edu", p)
			assert.ErrorIs(t, err, badge.ErrSchemaViolation)
		}
		_, err := repo.Put(ctx, " ", SampleProfile())
		assert.ErrorIs(t, err, badge.ErrSchemaViolation)

		_, err = repo.Get(ctx, "alice@example.edu")
		assert.ErrorIs(t, err, badge.ErrNotFound)
	})

	t.Run("returns copies", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		p := SampleProfile()
		_, err := repo.Put(ctx, "alice@example.edu", p)
		require.NoError(t, err)
		p.Address.AddressLocality = "mutated"

		got, err := repo.Get(ctx, "alice@example.edu")
		require.NoError(t, err)
		got.Type[0] = "mutated"

		again, err := repo.Get(ctx, "alice@example.edu")
		require.NoError(t, err)
		assert.Equal(t, "Springfield", again.Address.AddressLocality)
		assert.Equal(t, []string{badge.TypeProfile}, again.Type)
	})
}
