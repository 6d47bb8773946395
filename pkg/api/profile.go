package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/badgeengine/badgeengine-core/pkg/auth"
	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/scope"
	"github.com/sirupsen/logrus"
)

const maxProfileBody = 1 << 20

// profileOwner returns the caller's email once they hold required.
func (s *Server) profileOwner(w http.ResponseWriter, r *http.Request, required string) (string, bool) {
	user := currentUser(r)
	if err := s.mapper.RequireScope(user, required); err != nil {
		WriteError(w, err)
		return "", false
	}
	if user.Email == "" {
		WriteError(w, fmt.Errorf("%w: user email not found in token", auth.ErrUnauthenticated))
		return "", false
	}
	return user.Email, true
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	email, ok := s.profileOwner(w, r, scope.ProfileReadonly)
	if !ok {
		return
	}

	p, err := s.profiles.Get(r.Context(), email)
	if err != nil {
		s.logFailure(r, err, "failed to get profile")
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	email, ok := s.profileOwner(w, r, scope.ProfileUpdate)
	if !ok {
		return
	}

	var p badge.Profile
	if err := json.NewDecoder(io.LimitReader(r.Body, maxProfileBody)).Decode(&p); err != nil {
		WriteError(w, badge.WrapError(badge.ErrCodeMalformedInput, "invalid profile body", err))
		return
	}

	created, err := s.profiles.Put(r.Context(), email, &p)
	if err != nil {
		s.logFailure(r, err, "failed to store profile")
		WriteError(w, err)
		return
	}

	s.log.WithFields(logrus.Fields{
		"user_id":    currentUser(r).ID,
		"profile_id": p.ID,
		"created":    created,
	}).Info("profile updated")

	writeJSON(w, http.StatusOK, &p)
}
