package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/bake"
	"github.com/badgeengine/badgeengine-core/pkg/scope"
	"github.com/badgeengine/badgeengine-core/pkg/store"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	uuidPathParam = "uuid"

	limitQueryParam  = "limit"
	offsetQueryParam = "offset"
	sinceQueryParam  = "since"

	maxCredentialBody = 1 << 20
)

// CredentialsResponse is the OB 3.0 GetOpenBadgeCredentialsResponse.
type CredentialsResponse struct {
	Credential       []*badge.AchievementCredential `json:"credential"`
	CompactJWSString []string                       `json:"compactJwsString"`
}

func (s *Server) issueCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.mapper.RequireIssuer(currentUser(r)); err != nil {
		WriteError(w, err)
		return
	}

	var req badge.IssueRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCredentialBody)).Decode(&req); err != nil {
		WriteError(w, badge.WrapError(badge.ErrCodeMalformedInput, "invalid request body", err))
		return
	}

	resp, err := s.issuer.Issue(r.Context(), req)
	if err != nil {
		s.logFailure(r, err, "failed to issue credential")
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) getCredential(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)[uuidPathParam]

	token, err := s.issuer.Credential(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, token)
}

func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	if err := s.mapper.RequireScope(currentUser(r), scope.CredentialReadonly); err != nil {
		WriteError(w, err)
		return
	}

	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		writeStatus(w, http.StatusBadRequest, NewStatusInfo(MinorInvalidQueryParameter, err.Error()))
		return
	}

	page, err := s.credentials.List(r.Context(), opts)
	if err != nil {
		s.logFailure(r, err, "failed to list credentials")
		WriteError(w, err)
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(page.Total))
	w.Header().Set("Link", strings.Join(paginationLinks(s.requestURL(r), opts.Offset, opts.Limit, page.Total), ", "))

	writeJSON(w, http.StatusOK, &CredentialsResponse{
		Credential:       []*badge.AchievementCredential{},
		CompactJWSString: page.Tokens(),
	})
}

// parseListOptions reads limit (>= 1), offset (>= 0) and since (RFC 3339).
func parseListOptions(q url.Values) (store.ListOptions, error) {
	opts := store.ListOptions{Limit: store.DefaultListLimit}

	if v := q.Get(limitQueryParam); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return opts, fmt.Errorf("invalid '%s' parameter: must be an integer >= 1", limitQueryParam)
		}
		opts.Limit = limit
	}

	if v := q.Get(offsetQueryParam); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return opts, fmt.Errorf("invalid '%s' parameter: must be an integer >= 0", offsetQueryParam)
		}
		opts.Offset = offset
	}

	if v := q.Get(sinceQueryParam); v != "" {
		since, err := parseSince(v)
		if err != nil {
			return opts, fmt.Errorf("invalid '%s' parameter: must be an ISO 8601 date-time", sinceQueryParam)
		}
		opts.Since = since
	}

	return opts, nil
}

// parseSince accepts RFC 3339 or a zone-less YYYY-MM-DDThh:mm:ss read as UTC.
func parseSince(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", v)
}

// paginationLinks builds RFC 8288 link values for a listing of total items.
func paginationLinks(base string, offset, limit, total int) []string {
	link := func(off int, rel string) string {
		return fmt.Sprintf(`<%s?limit=%d&offset=%d>; rel="%s"`, base, limit, off, rel)
	}

	last := 0
	if total > 0 {
		last = ((total - 1) / limit) * limit
	}

	links := []string{link(0, "first"), link(last, "last")}
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		links = append(links, link(prev, "prev"))
	}
	if offset+limit < total {
		links = append(links, link(offset+limit, "next"))
	}
	return links
}

func (s *Server) upsertCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.mapper.RequireScope(currentUser(r), scope.CredentialUpsert); err != nil {
		WriteError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCredentialBody))
	if err != nil {
		WriteError(w, badge.WrapError(badge.ErrCodeMalformedInput, "failed to read request body", err))
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/plain":
		s.upsertCompactJWS(w, r, strings.TrimSpace(string(body)))
	case "application/json":
		s.upsertJSON(w, body)
	default:
		writeStatus(w, http.StatusBadRequest, NewStatusInfo(MinorInvalidData,
			"Unsupported content type. Must be 'application/json' or 'text/plain'"))
	}
}

// upsertCompactJWS verifies a VC-JWT and stores it under its credential uuid.
// Re-posting the stored token answers 200; a different token for the same id conflicts.
func (s *Server) upsertCompactJWS(w http.ResponseWriter, r *http.Request, token string) {
	if !bake.IsCompactJWS(token) {
		WriteError(w, badge.NewError(badge.ErrCodeMalformedInput,
			"Invalid Compact JWS format. Must match pattern: ^[a-zA-Z0-9_-]+\\.[a-zA-Z0-9_-]*\\.[a-zA-Z0-9_-]+$"))
		return
	}

	verified, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		WriteError(w, err)
		return
	}

	id := badge.CredentialUUID(verified.Credential.ID)
	status := http.StatusCreated

	if err := s.credentials.Put(r.Context(), id, token); err != nil {
		if !errors.Is(err, store.ErrAlreadyExists) {
			s.logFailure(r, err, "failed to store credential")
			WriteError(w, err)
			return
		}

		existing, getErr := s.credentials.Get(r.Context(), id)
		if getErr != nil || existing != token {
			WriteError(w, err)
			return
		}
		status = http.StatusOK
	}

	s.log.WithFields(logrus.Fields{
		"credential_id": verified.Credential.ID,
		"issuer":        verified.Claims.Iss,
	}).Info("credential upserted")

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, token)
}

// upsertJSON validates an unsigned credential document and echoes it back.
func (s *Server) upsertJSON(w http.ResponseWriter, body []byte) {
	var cred badge.AchievementCredential
	if err := json.Unmarshal(body, &cred); err != nil {
		WriteError(w, badge.WrapError(badge.ErrCodeMalformedInput, "Invalid JSON", err))
		return
	}
	if err := badge.ValidateCredential(&cred); err != nil {
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, &cred)
}

// requestURL is the absolute URL of r without its query.
func (s *Server) requestURL(r *http.Request) string {
	return s.origin(r) + r.URL.Path
}

func (s *Server) logFailure(r *http.Request, err error, msg string) {
	entry := s.log.WithError(err).WithField("path", r.URL.Path)
	if status, _ := StatusFor(err); status >= http.StatusInternalServerError {
		entry.Error(msg)
		return
	}
	entry.Warn(msg)
}
