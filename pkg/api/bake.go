package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/bake"
)

const (
	imageFormField      = "image"
	credentialFormField = "credential"

	overwriteQueryParam = "overwrite"
	formatQueryParam    = "format"

	maxImageSize = 10 << 20
)

// ExtractResponse reports the credential embedded in an image.
type ExtractResponse struct {
	Found      bool   `json:"found"`
	Credential string `json:"credential,omitempty"`
}

func (s *Server) bakeBadge(w http.ResponseWriter, r *http.Request) {
	overwrite := false
	if v := r.URL.Query().Get(overwriteQueryParam); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeStatus(w, http.StatusBadRequest, NewStatusInfo(MinorInvalidQueryParameter,
				"invalid 'overwrite' parameter: must be a boolean"))
			return
		}
		overwrite = b
	}

	r.Body = http.MaxBytesReader(w, r.Body, 2*maxImageSize)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		WriteError(w, badge.WrapError(badge.ErrCodeMalformedInput, "expected a multipart form with image and credential fields", err))
		return
	}

	image, err := formFile(r, imageFormField)
	if err != nil {
		WriteError(w, err)
		return
	}

	raw := []byte(r.FormValue(credentialFormField))
	if len(raw) == 0 {
		// the credential may also be uploaded as a file
		if raw, err = formFile(r, credentialFormField); err != nil {
			WriteError(w, err)
			return
		}
	}

	payload, err := bake.PreparePayload(raw)
	if err != nil {
		WriteError(w, err)
		return
	}

	baker, err := bake.Select(r.URL.Query().Get(formatQueryParam), image)
	if err != nil {
		WriteError(w, err)
		return
	}

	baked, err := baker.Bake(image, payload, overwrite)
	if err != nil {
		s.logFailure(r, err, "failed to bake badge")
		WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", baker.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="badge.`+string(baker.Format())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(baked)
}

func (s *Server) extractBadge(w http.ResponseWriter, r *http.Request) {
	image, err := io.ReadAll(io.LimitReader(r.Body, maxImageSize+1))
	if err != nil {
		WriteError(w, badge.WrapError(badge.ErrCodeMalformedInput, "failed to read image", err))
		return
	}
	if len(image) > maxImageSize {
		WriteError(w, badge.NewError(badge.ErrCodeMalformedInput, "image exceeds the maximum upload size"))
		return
	}

	baker, err := bake.Detect(image)
	if err != nil {
		WriteError(w, err)
		return
	}

	payload, found, err := baker.Extract(image)
	if err != nil {
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &ExtractResponse{Found: found, Credential: payload})
}

func formFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, badge.WrapError(badge.ErrCodeMalformedInput, "missing form field "+field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, badge.WrapError(badge.ErrCodeMalformedInput, "failed to read form field "+field, err)
	}
	return data, nil
}
