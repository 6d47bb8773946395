package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/badgeengine/badgeengine-core/pkg/api"
	"github.com/badgeengine/badgeengine-core/pkg/group"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupAdministration(t *testing.T) {
	f := newFixture(t)

	var created group.Group

	t.Run("create", func(t *testing.T) {
		rr := f.doJSON(t, http.MethodPost, "/api/admin/groups", adminToken,
			api.CreateGroupRequest{DisplayName: "Registrars", Description: "Registrar office"})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "Registrars", created.DisplayName)
	})

	t.Run("duplicate", func(t *testing.T) {
		rr := f.doJSON(t, http.MethodPost, "/api/admin/groups", adminToken, api.CreateGroupRequest{DisplayName: "Registrars"})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("empty name", func(t *testing.T) {
		rr := f.doJSON(t, http.MethodPost, "/api/admin/groups", adminToken, api.CreateGroupRequest{})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("list with filter", func(t *testing.T) {
		_, err := f.groups.EnsureGroup(context.Background(), group.DefaultIssuersGroup)
		require.NoError(t, err)

		rr := f.do(t, http.MethodGet, "/api/admin/groups?filter=regis", adminToken, "", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp api.GroupsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Total)
		assert.Equal(t, "Registrars", resp.Groups[0].DisplayName)

		rr = f.do(t, http.MethodGet, "/api/admin/groups?filter=none-such", adminToken, "", nil)
		assert.JSONEq(t, `{"groups":[],"total":0}`, rr.Body.String())
	})

	t.Run("membership", func(t *testing.T) {
		rr := f.doJSON(t, http.MethodPost, "/api/admin/groups/"+created.ID+"/members", adminToken, api.AddMemberRequest{UserID: "user-7"})
		require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

		names, err := f.groups.GroupsForUser(context.Background(), "user-7")
		require.NoError(t, err)
		assert.Equal(t, []string{"Registrars"}, names)

		rr = f.do(t, http.MethodGet, "/api/admin/groups/"+created.ID, adminToken, "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var g group.Group
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &g))
		assert.Equal(t, []string{"user-7"}, g.Members)

		rr = f.doJSON(t, http.MethodPost, "/api/admin/groups/"+created.ID+"/members", adminToken, api.AddMemberRequest{})
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = f.do(t, http.MethodDelete, "/api/admin/groups/"+created.ID+"/members/user-7", adminToken, "", nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		names, err = f.groups.GroupsForUser(context.Background(), "user-7")
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("unknown group", func(t *testing.T) {
		rr := f.doJSON(t, http.MethodPost, "/api/admin/groups/missing/members", adminToken, api.AddMemberRequest{UserID: "user-7"})
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, api.MinorNotFound, minor(t, rr))
	})

	t.Run("delete", func(t *testing.T) {
		rr := f.do(t, http.MethodDelete, "/api/admin/groups/"+created.ID, adminToken, "", nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = f.do(t, http.MethodGet, "/api/admin/groups/"+created.ID, adminToken, "", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("audit log", func(t *testing.T) {
		var actions []string
		for _, e := range f.hook.AllEntries() {
			if e.Data["actor"] == "u-admin" {
				actions = append(actions, e.Message)
			}
		}
		assert.Equal(t, []string{"group created", "group member added", "group member removed", "group deleted"}, actions)
	})
}

func TestGroupAdministration_RequiresAdmin(t *testing.T) {
	f := newFixture(t)

	for _, token := range []string{issuerToken, outsiderToken} {
		rr := f.do(t, http.MethodGet, "/api/admin/groups", token, "", nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, api.MinorForbidden, minor(t, rr))
	}
}
