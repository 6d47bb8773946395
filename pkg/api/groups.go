package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/group"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	idPathParam     = "id"
	userIDPathParam = "userID"

	filterQueryParam = "filter"
)

// GroupsResponse lists groups.
type GroupsResponse struct {
	Groups []*group.Group `json:"groups"`
	Total  int            `json:"total"`
}

// CreateGroupRequest is the body of a group creation.
type CreateGroupRequest struct {
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
}

// AddMemberRequest is the body of a membership addition.
type AddMemberRequest struct {
	UserID string `json:"userId"`
}

// requireAdmin writes a 403 and returns false unless the caller is an admin.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if err := s.mapper.RequireAdmin(currentUser(r)); err != nil {
		WriteError(w, err)
		return false
	}
	return true
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	groups, err := s.groups.List(r.Context(), r.URL.Query().Get(filterQueryParam))
	if err != nil {
		s.logFailure(r, err, "failed to list groups")
		WriteError(w, err)
		return
	}
	if groups == nil {
		groups = []*group.Group{}
	}

	writeJSON(w, http.StatusOK, &GroupsResponse{Groups: groups, Total: len(groups)})
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var req CreateGroupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCredentialBody)).Decode(&req); err != nil {
		WriteError(w, badge.WrapError(badge.ErrCodeMalformedInput, "invalid request body", err))
		return
	}

	g, err := s.groups.Create(r.Context(), req.DisplayName, req.Description)
	if err != nil {
		s.logFailure(r, err, "failed to create group")
		WriteError(w, err)
		return
	}

	s.audit(r, "group created", logrus.Fields{"group_id": g.ID, "group": g.DisplayName})
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	g, err := s.groups.Get(r.Context(), mux.Vars(r)[idPathParam])
	if err != nil {
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, g)
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	id := mux.Vars(r)[idPathParam]
	if err := s.groups.Delete(r.Context(), id); err != nil {
		s.logFailure(r, err, "failed to delete group")
		WriteError(w, err)
		return
	}

	s.audit(r, "group deleted", logrus.Fields{"group_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addGroupMember(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var req AddMemberRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCredentialBody)).Decode(&req); err != nil {
		WriteError(w, badge.WrapError(badge.ErrCodeMalformedInput, "invalid request body", err))
		return
	}
	if req.UserID == "" {
		WriteError(w, badge.NewError(badge.ErrCodeSchemaViolation, "userId is required"))
		return
	}

	id := mux.Vars(r)[idPathParam]
	if err := s.groups.AddMember(r.Context(), id, req.UserID); err != nil {
		s.logFailure(r, err, "failed to add group member")
		WriteError(w, err)
		return
	}

	s.audit(r, "group member added", logrus.Fields{"group_id": id, "member": req.UserID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	vars := mux.Vars(r)
	if err := s.groups.RemoveMember(r.Context(), vars[idPathParam], vars[userIDPathParam]); err != nil {
		s.logFailure(r, err, "failed to remove group member")
		WriteError(w, err)
		return
	}

	s.audit(r, "group member removed", logrus.Fields{"group_id": vars[idPathParam], "member": vars[userIDPathParam]})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) audit(r *http.Request, msg string, fields logrus.Fields) {
	if user := currentUser(r); user != nil {
		fields["actor"] = user.ID
	}
	s.log.WithFields(fields).Info(msg)
}
