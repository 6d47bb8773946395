package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/badgeengine/badgeengine-core/pkg/group"
	"github.com/badgeengine/badgeengine-core/pkg/group/grouptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupRepository(t *testing.T) {
	grouptest.RunRepositoryTests(t, func(t *testing.T) group.Repository {
		return NewGroupRepository(newTestDB(t))
	})
}

func TestGroupRepository_FileBacked(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, filepath.Join(t.TempDir(), "groups.db"))
	require.NoError(t, err)
	defer CloseDB(db)

	repo := NewGroupRepository(db)
	g, err := repo.EnsureGroup(ctx, group.DefaultIssuersGroup)
	require.NoError(t, err)
	require.NoError(t, repo.AddMember(ctx, g.ID, "u1"))

	groups, err := repo.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"u1"}, groups[0].Members)
}
