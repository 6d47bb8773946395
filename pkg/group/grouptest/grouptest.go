// Package grouptest provides a behavioral test suite for group.Repository implementations.
package grouptest

import (
	"context"
	"testing"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/group"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRepositoryTests exercises repo constructors against the Repository contract.
// newRepo must return an empty repository on every call.
func RunRepositoryTests(t *testing.T, newRepo func(t *testing.T) group.Repository) {
	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		g, err := repo.Create(ctx, "  Badge Admins ", "admins")
		require.NoError(t, err)
		assert.NotEmpty(t, g.ID)
		assert.Equal(t, "Badge Admins", g.DisplayName)
		assert.Empty(t, g.Members)

		got, err := repo.Get(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, g.DisplayName, got.DisplayName)
		assert.Equal(t, "admins", got.Description)
	})

	t.Run("duplicate display name", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		_, err := repo.Create(ctx, "Issuers", "")
		require.NoError(t, err)
		_, err = repo.Create(ctx, "Issuers", "")
		assert.ErrorIs(t, err, group.ErrDuplicate)
	})

	t.Run("empty display name", func(t *testing.T) {
		_, err := newRepo(t).Create(context.Background(), " ", "")
		assert.ErrorIs(t, err, badge.ErrSchemaViolation)
	})

	t.Run("unknown group", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		_, err := repo.Get(ctx, "nope")
		assert.ErrorIs(t, err, badge.ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, "nope"), badge.ErrNotFound)
		assert.ErrorIs(t, repo.AddMember(ctx, "nope", "u1"), badge.ErrNotFound)
		assert.ErrorIs(t, repo.RemoveMember(ctx, "nope", "u1"), badge.ErrNotFound)
	})

	t.Run("list with filter", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		for _, name := range []string{"Users", "Issuers", "Badge Admins"} {
			_, err := repo.Create(ctx, name, "")
			require.NoError(t, err)
		}

		all, err := repo.List(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "Badge Admins", all[0].DisplayName)
		assert.Equal(t, "Issuers", all[1].DisplayName)

		filtered, err := repo.List(ctx, "ISSU")
		require.NoError(t, err)
		require.Len(t, filtered, 1)
		assert.Equal(t, "Issuers", filtered[0].DisplayName)
	})

	t.Run("membership", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		issuers, err := repo.Create(ctx, "Issuers", "")
		require.NoError(t, err)
		admins, err := repo.Create(ctx, "Badge Admins", "")
		require.NoError(t, err)

		require.NoError(t, repo.AddMember(ctx, issuers.ID, "u1"))
		require.NoError(t, repo.AddMember(ctx, issuers.ID, "u1"))
		require.NoError(t, repo.AddMember(ctx, admins.ID, "u1"))
		require.NoError(t, repo.AddMember(ctx, issuers.ID, "u2"))

		got, err := repo.Get(ctx, issuers.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"u1", "u2"}, got.Members)

		names, err := repo.GroupsForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"Badge Admins", "Issuers"}, names)

		require.NoError(t, repo.RemoveMember(ctx, issuers.ID, "u1"))
		names, err = repo.GroupsForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"Badge Admins"}, names)

		names, err = repo.GroupsForUser(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("delete drops memberships", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		g, err := repo.Create(ctx, "Temp", "")
		require.NoError(t, err)
		require.NoError(t, repo.AddMember(ctx, g.ID, "u1"))
		require.NoError(t, repo.Delete(ctx, g.ID))

		_, err = repo.Get(ctx, g.ID)
		assert.ErrorIs(t, err, badge.ErrNotFound)
		names, err := repo.GroupsForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("ensure group is idempotent", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		first, err := repo.EnsureGroup(ctx, group.DefaultIssuersGroup)
		require.NoError(t, err)
		second, err := repo.EnsureGroup(ctx, group.DefaultIssuersGroup)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		all, err := repo.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}
