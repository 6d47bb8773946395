package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
)

// DefaultKeyBits is the modulus size used by GenerateKey when none is given.
const DefaultKeyBits = 2048

// JWK is the public RSA key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Header is the protected JWS header of a VC-JWT.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	JWK JWK    `json:"jwk"`
}

// LoadPrivateKey reads an unencrypted PEM RSA private key from path.
// PKCS#8 is expected; PKCS#1 is also accepted.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, badge.WrapError(badge.ErrCodeConfiguration, fmt.Sprintf("failed to read private key %s", path), err)
	}
	return ParsePrivateKeyPEM(data)
}

// ParsePrivateKeyPEM parses an unencrypted PEM RSA private key.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, badge.NewError(badge.ErrCodeConfiguration, "no PEM block found in private key")
	}
	if block.Type == "ENCRYPTED PRIVATE KEY" || block.Headers["Proc-Type"] != "" {
		return nil, badge.NewError(badge.ErrCodeConfiguration, "encrypted private keys are not supported")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, badge.WrapError(badge.ErrCodeConfiguration, "failed to parse PKCS#8 private key", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, badge.NewError(badge.ErrCodeConfiguration, fmt.Sprintf("private key is %T, not RSA", parsed))
		}
		key = rsaKey
	case "RSA PRIVATE KEY":
		rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, badge.WrapError(badge.ErrCodeConfiguration, "failed to parse PKCS#1 private key", err)
		}
		key = rsaKey
	default:
		return nil, badge.NewError(badge.ErrCodeConfiguration, fmt.Sprintf("unsupported PEM block type %q", block.Type))
	}

	if key.N.BitLen() < badge.MinRSAKeyBits {
		return nil, badge.NewError(badge.ErrCodeConfiguration, fmt.Sprintf("RSA key is %d bits, need at least %d", key.N.BitLen(), badge.MinRSAKeyBits))
	}
	return key, nil
}

// PublicJWK returns the JWK form of pub. n and e are big-endian with no
// leading zero bytes, base64url encoded without padding.
func PublicJWK(pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// JWSHeader returns the VC-JWT header for pub.
func JWSHeader(pub *rsa.PublicKey) Header {
	return Header{
		Alg: "RS256",
		Typ: "JWT",
		JWK: PublicJWK(pub),
	}
}

// GenerateKey creates a new RSA private key. bits below the minimum are rejected.
func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	if bits < badge.MinRSAKeyBits {
		return nil, badge.NewError(badge.ErrCodeConfiguration, fmt.Sprintf("RSA key must be at least %d bits", badge.MinRSAKeyBits))
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// MarshalPrivateKeyPEM encodes key as an unencrypted PKCS#8 PEM block.
func MarshalPrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// WritePrivateKeyPEM writes key to path as PKCS#8 PEM with mode 0600.
func WritePrivateKeyPEM(path string, key *rsa.PrivateKey) error {
	data, err := MarshalPrivateKeyPEM(key)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

// KeyManager loads the issuer key from disk on first use and caches it for
// the lifetime of the process.
type KeyManager struct {
	path string

	mu  sync.RWMutex
	key *rsa.PrivateKey
}

// NewKeyManager creates a KeyManager for the PEM file at path.
func NewKeyManager(path string) *KeyManager {
	return &KeyManager{path: path}
}

// NewStaticKeyManager wraps an already parsed key.
func NewStaticKeyManager(key *rsa.PrivateKey) *KeyManager {
	return &KeyManager{key: key}
}

// PrivateKey returns the cached key, loading it on the first call.
// A failed load is not cached, so a fixed key file is picked up on retry.
func (m *KeyManager) PrivateKey() (*rsa.PrivateKey, error) {
	m.mu.RLock()
	if m.key != nil {
		defer m.mu.RUnlock()
		return m.key, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if m.key != nil {
		return m.key, nil
	}
	if m.path == "" {
		return nil, badge.NewError(badge.ErrCodeConfiguration, "private key path is not configured")
	}

	key, err := LoadPrivateKey(m.path)
	if err != nil {
		return nil, err
	}
	m.key = key
	return key, nil
}

// PublicJWK returns the JWK of the managed key.
func (m *KeyManager) PublicJWK() (JWK, error) {
	key, err := m.PrivateKey()
	if err != nil {
		return JWK{}, err
	}
	return PublicJWK(&key.PublicKey), nil
}

// IsConfigurationError reports whether err is a key configuration failure.
func IsConfigurationError(err error) bool {
	return errors.Is(err, badge.ErrConfiguration)
}
