package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/badgeengine/badgeengine-core/pkg/auth"
	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/group"
	"github.com/badgeengine/badgeengine-core/pkg/store"
)

// imsx code minor values.
const (
	MinorForbidden             = "forbidden"
	MinorInternalServerError   = "internal_server_error"
	MinorInvalidData           = "invalid_data"
	MinorInvalidQueryParameter = "invalid_query_parameter"
	MinorNotAllowed            = "not_allowed"
	MinorNotFound              = "not_found"
	MinorUnauthorizedRequest   = "unauthorizedrequest"
)

// StatusInfo is the IMS imsx_StatusInfo error body.
type StatusInfo struct {
	CodeMajor   string     `json:"imsx_codeMajor"`
	Severity    string     `json:"imsx_severity"`
	Description string     `json:"imsx_description,omitempty"`
	CodeMinor   *CodeMinor `json:"imsx_codeMinor,omitempty"`
}

// CodeMinor holds the code minor fields of a StatusInfo.
type CodeMinor struct {
	Fields []CodeMinorField `json:"imsx_codeMinorField"`
}

// CodeMinorField is one reported code minor status.
type CodeMinorField struct {
	Name  string `json:"imsx_codeMinorFieldName"`
	Value string `json:"imsx_codeMinorFieldValue"`
}

// NewStatusInfo returns a failure StatusInfo reported by "system".
func NewStatusInfo(minor, description string) *StatusInfo {
	return &StatusInfo{
		CodeMajor:   "failure",
		Severity:    "error",
		Description: description,
		CodeMinor: &CodeMinor{Fields: []CodeMinorField{
			{Name: "system", Value: minor},
		}},
	}
}

// StatusFor maps an error to the HTTP status and imsx code minor it renders as.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, MinorUnauthorizedRequest
	case errors.Is(err, store.ErrAlreadyExists), errors.Is(err, group.ErrDuplicate):
		return http.StatusConflict, MinorInvalidData
	}

	switch badge.GetErrorCode(err) {
	case badge.ErrCodeSchemaViolation, badge.ErrCodeMalformedInput,
		badge.ErrCodeSignatureInvalid, badge.ErrCodeKeyUntrusted,
		badge.ErrCodeExpired, badge.ErrCodeNotYetValid:
		return http.StatusBadRequest, MinorInvalidData
	case badge.ErrCodeAlreadyBaked:
		return http.StatusConflict, MinorInvalidData
	case badge.ErrCodeForbidden:
		return http.StatusForbidden, MinorForbidden
	case badge.ErrCodeNotFound:
		return http.StatusNotFound, MinorNotFound
	default:
		return http.StatusInternalServerError, MinorInternalServerError
	}
}

// WriteError renders err as imsx_StatusInfo. Internal errors do not leak
// their cause to the client.
func WriteError(w http.ResponseWriter, err error) {
	status, minor := StatusFor(err)

	description := err.Error()
	if e, ok := badge.AsError(err); ok {
		description = e.Message
	}
	if status == http.StatusInternalServerError {
		description = "An internal server error occurred."
	}

	writeStatus(w, status, NewStatusInfo(minor, description))
}

// authError satisfies auth.ErrorWriter.
func authError(w http.ResponseWriter, _ *http.Request, _ error) {
	writeStatus(w, http.StatusUnauthorized, NewStatusInfo(MinorUnauthorizedRequest,
		"The request has not been applied because it lacks valid authentication credentials for the target resource."))
}

func writeStatus(w http.ResponseWriter, status int, info *StatusInfo) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(info)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
