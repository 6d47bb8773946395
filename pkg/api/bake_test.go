package api_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/badgeengine/badgeengine-core/pkg/api"
	"github.com/badgeengine/badgeengine-core/pkg/bake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 RGBA PNG: IHDR, IDAT, IEND.
const samplePNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="

const sampleSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10"/></svg>`

func samplePNG(t *testing.T) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(samplePNGBase64)
	require.NoError(t, err)
	return data
}

func (f *fixture) bake(t *testing.T, query string, image []byte, credential string) *bakeResult {
	t.Helper()
	body, contentType := multipartBody(t, image, credential)
	rr := f.do(t, http.MethodPost, "/api/badges/bake"+query, issuerToken, contentType, body)
	return &bakeResult{code: rr.Code, contentType: rr.Header().Get("Content-Type"), body: rr.Body.Bytes()}
}

type bakeResult struct {
	code        int
	contentType string
	body        []byte
}

func (f *fixture) extract(t *testing.T, image []byte) (int, *api.ExtractResponse) {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/badges/extract", issuerToken, "application/octet-stream", bytes.NewReader(image))
	if rr.Code != http.StatusOK {
		return rr.Code, nil
	}
	var resp api.ExtractResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return rr.Code, &resp
}

func TestBakeAndExtract_PNG(t *testing.T) {
	f := newFixture(t)
	token := f.issue(t).BadgeJWT

	baked := f.bake(t, "", samplePNG(t), token)
	require.Equal(t, http.StatusOK, baked.code, string(baked.body))
	assert.Equal(t, "image/png", baked.contentType)
	assert.True(t, bake.IsPNG(baked.body))

	code, resp := f.extract(t, baked.body)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Found)
	assert.Equal(t, token, resp.Credential)

	t.Run("already baked", func(t *testing.T) {
		again := f.bake(t, "", baked.body, token)
		assert.Equal(t, http.StatusConflict, again.code)
	})

	t.Run("overwrite", func(t *testing.T) {
		replaced := f.bake(t, "?overwrite=true", baked.body, `{"id":"urn:uuid:1","type":["VerifiableCredential"]}`)
		require.Equal(t, http.StatusOK, replaced.code, string(replaced.body))

		_, resp := f.extract(t, replaced.body)
		assert.Equal(t, `{"id":"urn:uuid:1","type":["VerifiableCredential"]}`, resp.Credential)
	})
}

func TestBakeAndExtract_SVG(t *testing.T) {
	f := newFixture(t)

	baked := f.bake(t, "?format=svg", []byte(sampleSVG), `{"b":1,"a":2}`)
	require.Equal(t, http.StatusOK, baked.code, string(baked.body))
	assert.Equal(t, "image/svg+xml", baked.contentType)
	assert.Contains(t, string(baked.body), "openbadges:credential")

	code, resp := f.extract(t, baked.body)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Found)
	assert.Equal(t, `{"a":2,"b":1}`, resp.Credential, "JSON payloads are canonicalized")
}

func TestBake_Rejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		query      string
		image      []byte
		credential string
		wantStatus int
	}{
		{"unknown image", "", []byte("GIF89a"), `{"a":1}`, http.StatusBadRequest},
		{"unknown format", "?format=gif", samplePNG(t), `{"a":1}`, http.StatusBadRequest},
		{"format mismatch", "?format=svg", samplePNG(t), `{"a":1}`, http.StatusBadRequest},
		{"bad overwrite", "?overwrite=maybe", samplePNG(t), `{"a":1}`, http.StatusBadRequest},
		{"invalid credential", "", samplePNG(t), "plain words", http.StatusBadRequest},
		{"missing credential", "", samplePNG(t), "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.bake(t, tt.query, tt.image, tt.credential)
			assert.Equal(t, tt.wantStatus, res.code, string(res.body))
		})
	}
}

func TestBake_RequiresMultipart(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/badges/bake", issuerToken, "application/json", strings.NewReader("{}"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, api.MinorInvalidData, minor(t, rr))
}

func TestBake_RequiresAuthentication(t *testing.T) {
	f := newFixture(t)

	body, contentType := multipartBody(t, samplePNG(t), `{"a":1}`)
	rr := f.do(t, http.MethodPost, "/api/badges/bake", "", contentType, body)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestExtract_NotBaked(t *testing.T) {
	f := newFixture(t)

	code, resp := f.extract(t, samplePNG(t))
	require.Equal(t, http.StatusOK, code)
	assert.False(t, resp.Found)
	assert.Empty(t, resp.Credential)

	code, _ = f.extract(t, []byte("not an image"))
	assert.Equal(t, http.StatusBadRequest, code)
}
