package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempKey(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys", "private.pem")
	require.NoError(t, WritePrivateKeyPEM(path, key))
	return path
}

func TestLoadPrivateKey_PKCS8(t *testing.T) {
	key, err := GenerateKey(2048)
	require.NoError(t, err)
	path := writeTempKey(t, key)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadPrivateKey(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

func TestLoadPrivateKey_PKCS1(t *testing.T) {
	key, err := GenerateKey(2048)
	require.NoError(t, err)

	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	loaded, err := ParsePrivateKeyPEM(data)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

func TestLoadPrivateKey_Errors(t *testing.T) {
	small, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	smallDER, err := x509.MarshalPKCS8PrivateKey(small)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"not pem", []byte("hello")},
		{"encrypted", pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: []byte{1, 2, 3}})},
		{"wrong block", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1, 2, 3}})},
		{"garbage pkcs8", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}})},
		{"too small", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: smallDER})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePrivateKeyPEM(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, badge.ErrConfiguration)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPrivateKey(filepath.Join(t.TempDir(), "nope.pem"))
		assert.True(t, IsConfigurationError(err))
	})
}

func TestGenerateKey_RejectsSmallKeys(t *testing.T) {
	_, err := GenerateKey(1024)
	assert.ErrorIs(t, err, badge.ErrConfiguration)
}

func TestPublicJWK_MatchesGoJose(t *testing.T) {
	key, err := GenerateKey(2048)
	require.NoError(t, err)

	jwk := PublicJWK(&key.PublicKey)
	assert.Equal(t, "RSA", jwk.Kty)
	assert.Equal(t, "AQAB", jwk.E)

	raw, err := json.Marshal(jose.JSONWebKey{Key: &key.PublicKey})
	require.NoError(t, err)
	var ref map[string]string
	require.NoError(t, json.Unmarshal(raw, &ref))
	assert.Equal(t, ref["n"], jwk.N)
	assert.Equal(t, ref["e"], jwk.E)

	n, err := base64.RawURLEncoding.DecodeString(jwk.N)
	require.NoError(t, err)
	assert.Equal(t, 0, new(big.Int).SetBytes(n).Cmp(key.N))
	assert.NotEqual(t, byte(0), n[0], "modulus must not carry a leading zero byte")
}

func TestJWSHeader(t *testing.T) {
	key, err := GenerateKey(2048)
	require.NoError(t, err)

	h := JWSHeader(&key.PublicKey)
	assert.Equal(t, "RS256", h.Alg)
	assert.Equal(t, "JWT", h.Typ)
	assert.Equal(t, PublicJWK(&key.PublicKey), h.JWK)
}

func TestKeyManager_CachesKey(t *testing.T) {
	key, err := GenerateKey(2048)
	require.NoError(t, err)
	path := writeTempKey(t, key)

	m := NewKeyManager(path)
	first, err := m.PrivateKey()
	require.NoError(t, err)

	// Removing the file must not matter once the key is cached
	require.NoError(t, os.Remove(path))

	second, err := m.PrivateKey()
	require.NoError(t, err)
	assert.Same(t, first, second)

	jwk, err := m.PublicJWK()
	require.NoError(t, err)
	assert.Equal(t, PublicJWK(&key.PublicKey), jwk)
}

func TestKeyManager_MissingKeyIsConfigurationError(t *testing.T) {
	m := NewKeyManager(filepath.Join(t.TempDir(), "missing.pem"))
	_, err := m.PrivateKey()
	assert.ErrorIs(t, err, badge.ErrConfiguration)

	_, err = NewKeyManager("").PrivateKey()
	assert.ErrorIs(t, err, badge.ErrConfiguration)
}
