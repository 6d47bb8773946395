package api_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/badgeengine/badgeengine-core/pkg/api"
	"github.com/badgeengine/badgeengine-core/pkg/auth"
	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/crypto"
	"github.com/badgeengine/badgeengine-core/pkg/group"
	"github.com/badgeengine/badgeengine-core/pkg/profile"
	"github.com/badgeengine/badgeengine-core/pkg/scope"
	"github.com/badgeengine/badgeengine-core/pkg/store"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	issuerToken   = "issuer-token"
	adminToken    = "admin-token"
	readerToken   = "reader-token"
	outsiderToken = "outsider-token"
	ownerToken    = "owner-token"
	viewerToken   = "viewer-token"
)

var (
	keyOnce sync.Once
	rsaKey  *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		rsaKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return rsaKey
}

// bearerAuthenticator maps fixed bearer tokens to users.
type bearerAuthenticator map[string]*scope.User

func (a bearerAuthenticator) Authenticate(_ context.Context, bearer string) (*scope.User, error) {
	if user, ok := a[bearer]; ok {
		return user, nil
	}
	return nil, auth.ErrUnauthenticated
}

func testUsers() bearerAuthenticator {
	return bearerAuthenticator{
		issuerToken: {ID: "u-issuer", Groups: []string{scope.GroupIssuers}},
		adminToken:  {ID: "u-admin", Groups: []string{scope.GroupBadgeAdmins}},
		readerToken: {ID: "u-reader", Claims: map[string]interface{}{
			"scp": "https://purl.imsglobal.org/spec/ob/v3p0/scope/credential.readonly",
		}},
		outsiderToken: {ID: "u-outsider", Groups: []string{scope.GroupUsers}},
		ownerToken:    {ID: "u-owner", Email: "Owner@Example.edu", Groups: []string{scope.GroupIssuers}},
		viewerToken:   {ID: "u-viewer", Email: "viewer@example.edu", Groups: []string{scope.GroupUsers}},
	}
}

type fixture struct {
	handler  http.Handler
	builder  *badge.Builder
	store    *store.MemoryStore
	groups   *group.MemoryRepository
	profiles *profile.MemoryRepository
	hook     *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	builder, err := badge.NewBuilder(badge.BuilderConfig{Domain: "https://badges.example.edu"})
	require.NoError(t, err)

	credentials := store.NewMemoryStore()
	logger, hook := test.NewNullLogger()

	issuer, err := badge.NewService(badge.ServiceConfig{
		Builder: builder,
		Keys:    crypto.NewStaticKeyManager(signingKey(t)),
		Store:   credentials,
		HostURL: "https://api.example.edu",
		Logger:  logger,
	})
	require.NoError(t, err)

	mapper := scope.DefaultMapping()
	mapper.AdminGroups = []string{scope.GroupBadgeAdmins}

	groups := group.NewMemoryRepository()
	profiles := profile.NewMemoryRepository()

	srv, err := api.New(&api.Config{
		Issuer:        issuer,
		Credentials:   credentials,
		Verifier:      badge.NewVerifier(badge.VerifyOptions{}),
		Groups:        groups,
		Profiles:      profiles,
		Mapper:        mapper,
		Authenticator: testUsers(),
		Discovery:     api.DiscoveryConfig{Title: "Test Badges", ImageURL: "https://cdn.example.edu/logo.png"},
		Logger:        logger,
	})
	require.NoError(t, err)

	return &fixture{handler: srv.Router(), builder: builder, store: credentials, groups: groups, profiles: profiles, hook: hook}
}

func (f *fixture) do(t *testing.T, method, path, token, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) doJSON(t *testing.T, method, path, token string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return f.do(t, method, path, token, "application/json", bytes.NewReader(data))
}

func (f *fixture) issue(t *testing.T) *badge.IssueResponse {
	t.Helper()
	rr := f.doJSON(t, http.MethodPost, "/api/achievements/credentials", issuerToken, issueRequest())
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp badge.IssueResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return &resp
}

func issueRequest() badge.IssueRequest {
	return badge.IssueRequest{
		OrganizationID:   "org1",
		OrganizationName: "Acme U",
		AchievementName:  "Python Badge",
		AchievementType:  "Badge",
		Narrative:        "Completed course",
		Description:      "Proficiency badge",
		AchievementID:    "ach-1",
	}
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) *api.StatusInfo {
	t.Helper()
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var info api.StatusInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info), rr.Body.String())
	assert.Equal(t, "failure", info.CodeMajor)
	assert.Equal(t, "error", info.Severity)
	require.NotNil(t, info.CodeMinor)
	require.Len(t, info.CodeMinor.Fields, 1)
	assert.Equal(t, "system", info.CodeMinor.Fields[0].Name)
	return &info
}

func minor(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeStatus(t, rr).CodeMinor.Fields[0].Value
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := api.New(&api.Config{})
	assert.ErrorIs(t, err, badge.ErrConfiguration)

	_, err = api.New(nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rr.Body.String())
}

func TestAccessLog(t *testing.T) {
	f := newFixture(t)
	f.hook.Reset()

	f.do(t, http.MethodGet, "/health", "", "", nil)

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "request", entry.Message)
	assert.Equal(t, http.MethodGet, entry.Data["method"])
	assert.Equal(t, "/health", entry.Data["path"])
	assert.Equal(t, http.StatusOK, entry.Data["status"])
	assert.Contains(t, entry.Data, "duration")
}

func TestDiscovery(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/ims/ob/v3p0/discovery", "", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.1", doc["openapi"])

	info := doc["info"].(map[string]interface{})
	assert.Equal(t, "Test Badges", info["title"])
	assert.Equal(t, "3.0", info["version"])
	assert.Equal(t, "http://example.com/terms", info["termsOfService"])
	assert.Equal(t, "http://example.com/privacy", info["x-imssf-privacyPolicyUrl"])
	assert.Equal(t, "https://cdn.example.edu/logo.png", info["x-imssf-image"])

	acg := doc["components"].(map[string]interface{})["securitySchemes"].(map[string]interface{})["OAuth2ACG"].(map[string]interface{})
	assert.Equal(t, "oauth2", acg["type"])
	assert.Equal(t, "http://example.com/register", acg["x-imssf-registrationUrl"])

	scopes := acg["flows"].(map[string]interface{})["authorizationCode"].(map[string]interface{})["scopes"].(map[string]interface{})
	assert.Len(t, scopes, 4)
	assert.Contains(t, scopes, scope.CredentialUpsert)
}

func TestIssueAndRetrieve(t *testing.T) {
	f := newFixture(t)

	resp := f.issue(t)
	assert.Equal(t, "Credential issued successfully", resp.Message)
	assert.Equal(t, "https://api.example.edu/api/achievements/credentials/"+resp.BadgeUUID, resp.CredentialURL)

	// retrieval is public
	rr := f.do(t, http.MethodGet, "/api/achievements/credentials/"+resp.BadgeUUID, "", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
	assert.Equal(t, resp.BadgeJWT, rr.Body.String())

	rr = f.do(t, http.MethodGet, "/api/achievements/credentials/00000000-0000-0000-0000-000000000000", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, api.MinorNotFound, minor(t, rr))
}

func TestIssue_Authorization(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		token      string
		wantStatus int
		wantMinor  string
	}{
		{"no token", "", http.StatusUnauthorized, api.MinorUnauthorizedRequest},
		{"unknown token", "bogus", http.StatusUnauthorized, api.MinorUnauthorizedRequest},
		{"not an issuer", outsiderToken, http.StatusForbidden, api.MinorForbidden},
		{"admin only", adminToken, http.StatusForbidden, api.MinorForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.doJSON(t, http.MethodPost, "/api/achievements/credentials", tt.token, issueRequest())
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantMinor, minor(t, rr))
		})
	}
}

func TestIssue_InvalidRequest(t *testing.T) {
	f := newFixture(t)

	req := issueRequest()
	req.AchievementName = ""
	rr := f.doJSON(t, http.MethodPost, "/api/achievements/credentials", issuerToken, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, api.MinorInvalidData, minor(t, rr))

	rr = f.do(t, http.MethodPost, "/api/achievements/credentials", issuerToken, "application/json", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListCredentials(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.issue(t)
	}

	t.Run("first page", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/ims/ob/v3p0/credentials?limit=2", readerToken, "", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "3", rr.Header().Get("X-Total-Count"))

		var resp api.CredentialsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Empty(t, resp.Credential)
		assert.Len(t, resp.CompactJWSString, 2)

		link := rr.Header().Get("Link")
		assert.Contains(t, link, `<http://example.com/ims/ob/v3p0/credentials?limit=2&offset=0>; rel="first"`)
		assert.Contains(t, link, `<http://example.com/ims/ob/v3p0/credentials?limit=2&offset=2>; rel="last"`)
		assert.Contains(t, link, `<http://example.com/ims/ob/v3p0/credentials?limit=2&offset=2>; rel="next"`)
		assert.NotContains(t, link, `rel="prev"`)
	})

	t.Run("last page", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/ims/ob/v3p0/credentials?limit=2&offset=2", readerToken, "", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp api.CredentialsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Len(t, resp.CompactJWSString, 1)

		link := rr.Header().Get("Link")
		assert.Contains(t, link, `offset=0>; rel="prev"`)
		assert.NotContains(t, link, `rel="next"`)
	})

	t.Run("default limit", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/ims/ob/v3p0/credentials", readerToken, "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Header().Get("Link"), "limit=100&offset=0")
	})

	t.Run("since in the future", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/ims/ob/v3p0/credentials?since=2999-01-01T00:00:00Z", readerToken, "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "0", rr.Header().Get("X-Total-Count"))
		assert.Contains(t, rr.Header().Get("Link"), `offset=0>; rel="last"`)
	})

	t.Run("granted through group", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/ims/ob/v3p0/credentials", issuerToken, "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	for _, query := range []string{"limit=0", "limit=x", "offset=-1", "since=yesterday"} {
		t.Run("invalid "+query, func(t *testing.T) {
			rr := f.do(t, http.MethodGet, "/ims/ob/v3p0/credentials?"+query, readerToken, "", nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, api.MinorInvalidQueryParameter, minor(t, rr))
		})
	}

	t.Run("missing scope", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/ims/ob/v3p0/credentials", outsiderToken, "", nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Contains(t, decodeStatus(t, rr).Description, scope.CredentialReadonly)
	})
}

func TestUpsertCredential_CompactJWS(t *testing.T) {
	f := newFixture(t)

	cred, err := f.builder.Build(issueRequest())
	require.NoError(t, err)
	token, err := badge.SignCredential(cred, signingKey(t))
	require.NoError(t, err)

	rr := f.do(t, http.MethodPost, "/ims/ob/v3p0/credentials", issuerToken, "text/plain", strings.NewReader(token))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, token, rr.Body.String())

	stored, err := f.store.Get(context.Background(), badge.CredentialUUID(cred.ID))
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	// the same token again replaces nothing
	rr = f.do(t, http.MethodPost, "/ims/ob/v3p0/credentials", issuerToken, "text/plain; charset=utf-8", strings.NewReader(token))
	assert.Equal(t, http.StatusOK, rr.Code)

	t.Run("conflicting token", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		resigned, err := badge.SignCredential(cred, other)
		require.NoError(t, err)

		rr := f.do(t, http.MethodPost, "/ims/ob/v3p0/credentials", issuerToken, "text/plain", strings.NewReader(resigned))
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("invalid format", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/ims/ob/v3p0/credentials", issuerToken, "text/plain", strings.NewReader("not a jws"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeStatus(t, rr).Description, "Invalid Compact JWS format")
	})

	t.Run("bad signature", func(t *testing.T) {
		parts := strings.Split(token, ".")
		parts[2] = base64.RawURLEncoding.EncodeToString([]byte("forged"))
		rr := f.do(t, http.MethodPost, "/ims/ob/v3p0/credentials", issuerToken, "text/plain", strings.NewReader(strings.Join(parts, ".")))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, api.MinorInvalidData, minor(t, rr))
	})

	t.Run("missing scope", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/ims/ob/v3p0/credentials", readerToken, "text/plain", strings.NewReader(token))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestUpsertCredential_JSON(t *testing.T) {
	f := newFixture(t)

	cred, err := f.builder.Build(issueRequest())
	require.NoError(t, err)

	rr := f.doJSON(t, http.MethodPost, "/ims/ob/v3p0/credentials", issuerToken, cred)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var echoed badge.AchievementCredential
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &echoed))
	assert.Equal(t, cred.ID, echoed.ID)

	cred.Context = []string{"https://example.org/wrong"}
	rr = f.doJSON(t, http.MethodPost, "/ims/ob/v3p0/credentials", issuerToken, cred)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/ims/ob/v3p0/credentials", issuerToken, "application/json", strings.NewReader("[1,2"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/ims/ob/v3p0/credentials", issuerToken, "application/xml", strings.NewReader("<x/>"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeStatus(t, rr).Description, "Unsupported content type")
}

func TestMe(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/auth/me", adminToken, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":"u-admin","groups":["Badge Admins"],"scopes":[],"is_admin":true,"is_issuer":false}`, rr.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/nope", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, api.MinorNotFound, minor(t, rr))

	rr = f.do(t, http.MethodPut, "/health", "", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, api.MinorNotAllowed, minor(t, rr))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/ims/ob/v3p0/credentials", nil)
	req.Header.Set("Origin", "https://wallet.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	assert.Less(t, rr.Code, 300)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantMinor  string
	}{
		{badge.ErrSchemaViolation, http.StatusBadRequest, api.MinorInvalidData},
		{badge.ErrMalformedInput, http.StatusBadRequest, api.MinorInvalidData},
		{badge.ErrAlreadyBaked, http.StatusConflict, api.MinorInvalidData},
		{badge.ErrForbidden, http.StatusForbidden, api.MinorForbidden},
		{badge.ErrNotFound, http.StatusNotFound, api.MinorNotFound},
		{auth.ErrUnauthenticated, http.StatusUnauthorized, api.MinorUnauthorizedRequest},
		{store.ErrAlreadyExists, http.StatusConflict, api.MinorInvalidData},
		{group.ErrDuplicate, http.StatusConflict, api.MinorInvalidData},
		{badge.ErrConfiguration, http.StatusInternalServerError, api.MinorInternalServerError},
		{io.EOF, http.StatusInternalServerError, api.MinorInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, minor := api.StatusFor(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantMinor, minor)
		})
	}
}

func TestWriteError_HidesInternalCause(t *testing.T) {
	rr := httptest.NewRecorder()
	api.WriteError(rr, badge.WrapError(badge.ErrCodeConfiguration, "key file unreadable", io.ErrUnexpectedEOF))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "key file")
}

// multipartBody builds a bake request form.
func multipartBody(t *testing.T, image []byte, credential string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("image", "badge.img")
	require.NoError(t, err)
	_, err = part.Write(image)
	require.NoError(t, err)

	if credential != "" {
		require.NoError(t, w.WriteField("credential", credential))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}
