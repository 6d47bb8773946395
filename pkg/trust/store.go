// Package trust pins issuer signing keys so self-asserted VC-JWT keys can be
// tied to the issuer they claim to belong to.
package trust

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"github.com/samber/lo"
)

// Common errors returned by this package.
var (
	ErrKeyNotFound    = errors.New("key not found in trust store")
	ErrIssuerNotFound = errors.New("issuer not found in trust store")
	ErrInvalidKey     = errors.New("invalid key format")
)

var thumbprintPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

// Store is the interface for a trust store.
type Store interface {
	// Add stores the public part of key and returns its thumbprint.
	Add(key jose.JSONWebKey) (string, error)

	// Get retrieves a key by thumbprint.
	Get(thumbprint string) (*jose.JSONWebKey, error)

	// KeysForIssuer returns the keys pinned for an issuer IRI.
	KeysForIssuer(issuer string) ([]jose.JSONWebKey, error)

	// List returns all keys in the store.
	List() ([]jose.JSONWebKey, error)

	// Remove deletes a key and every pin referencing it.
	Remove(thumbprint string) error

	// Pin maps an issuer IRI to a stored key.
	Pin(issuer, thumbprint string) error

	// Unpin removes one issuer to key mapping.
	Unpin(issuer, thumbprint string) error

	// Issuers returns the issuer to thumbprints mapping.
	Issuers() (map[string][]string, error)

	// IsPinned reports whether key is pinned for issuer.
	IsPinned(issuer string, key *jose.JSONWebKey) (bool, error)
}

// Thumbprint returns the base64url RFC 7638 SHA-256 thumbprint of key.
func Thumbprint(key *jose.JSONWebKey) (string, error) {
	tp, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// FileStore implements Store using the filesystem: one {thumbprint}.jwk file
// per key plus an issuers.json mapping.
// Default location: ~/.badgeengine/trust/
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// DefaultTrustDir returns the default trust store directory.
func DefaultTrustDir() string {
	if envPath := os.Getenv("BADGE_TRUST_PATH"); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".badgeengine/trust"
	}
	return filepath.Join(home, ".badgeengine", "trust")
}

// NewFileStore creates a new file-based trust store.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultTrustDir()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create trust directory: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) keyPath(thumbprint string) string {
	return filepath.Join(s.dir, thumbprint+".jwk")
}

func (s *FileStore) issuersPath() string {
	return filepath.Join(s.dir, "issuers.json")
}

// Add stores the public part of key.
func (s *FileStore) Add(key jose.JSONWebKey) (string, error) {
	if key.Key == nil {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	pub := key.Public()
	if !pub.Valid() {
		return "", fmt.Errorf("%w: not an asymmetric key", ErrInvalidKey)
	}

	tp, err := Thumbprint(&pub)
	if err != nil {
		return "", err
	}
	if pub.KeyID == "" {
		pub.KeyID = tp
	}

	data, err := json.MarshalIndent(pub, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.keyPath(tp), data, 0600); err != nil {
		return "", fmt.Errorf("failed to write key: %w", err)
	}
	return tp, nil
}

// Get retrieves a key by thumbprint.
func (s *FileStore) Get(thumbprint string) (*jose.JSONWebKey, error) {
	if !thumbprintPattern.MatchString(thumbprint) {
		return nil, ErrKeyNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readKey(thumbprint)
}

// KeysForIssuer returns the keys pinned for issuer. Pins to deleted or
// unreadable key files are skipped.
func (s *FileStore) KeysForIssuer(issuer string) ([]jose.JSONWebKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issuers, err := s.loadIssuers()
	if err != nil {
		return nil, err
	}

	thumbprints := issuers[issuer]
	if len(thumbprints) == 0 {
		return nil, ErrIssuerNotFound
	}

	var keys []jose.JSONWebKey
	for _, tp := range thumbprints {
		key, err := s.readKey(tp)
		if err != nil {
			continue
		}
		keys = append(keys, *key)
	}

	if len(keys) == 0 {
		return nil, ErrKeyNotFound
	}
	return keys, nil
}

// List returns all keys in the store.
func (s *FileStore) List() ([]jose.JSONWebKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust directory: %w", err)
	}

	var keys []jose.JSONWebKey
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jwk" {
			continue
		}
		key, err := s.readKey(entry.Name()[:len(entry.Name())-len(".jwk")])
		if err != nil {
			continue
		}
		keys = append(keys, *key)
	}
	return keys, nil
}

// Remove deletes a key and its pins.
func (s *FileStore) Remove(thumbprint string) error {
	if !thumbprintPattern.MatchString(thumbprint) {
		return ErrKeyNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.keyPath(thumbprint)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrKeyNotFound
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove key: %w", err)
	}

	issuers, err := s.loadIssuers()
	if err != nil {
		return err
	}
	for issuer, tps := range issuers {
		if rest := lo.Without(tps, thumbprint); len(rest) > 0 {
			issuers[issuer] = rest
		} else {
			delete(issuers, issuer)
		}
	}
	return s.saveIssuers(issuers)
}

// Pin maps issuer to a stored key.
func (s *FileStore) Pin(issuer, thumbprint string) error {
	if issuer == "" {
		return errors.New("issuer is required")
	}
	if !thumbprintPattern.MatchString(thumbprint) {
		return ErrKeyNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.keyPath(thumbprint)); os.IsNotExist(err) {
		return ErrKeyNotFound
	}

	issuers, err := s.loadIssuers()
	if err != nil {
		return err
	}
	if lo.Contains(issuers[issuer], thumbprint) {
		return nil
	}
	issuers[issuer] = append(issuers[issuer], thumbprint)
	return s.saveIssuers(issuers)
}

// Unpin removes the issuer to key mapping.
func (s *FileStore) Unpin(issuer, thumbprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	issuers, err := s.loadIssuers()
	if err != nil {
		return err
	}
	if !lo.Contains(issuers[issuer], thumbprint) {
		return ErrIssuerNotFound
	}
	if rest := lo.Without(issuers[issuer], thumbprint); len(rest) > 0 {
		issuers[issuer] = rest
	} else {
		delete(issuers, issuer)
	}
	return s.saveIssuers(issuers)
}

// Issuers returns the issuer mapping with thumbprints sorted.
func (s *FileStore) Issuers() (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issuers, err := s.loadIssuers()
	if err != nil {
		return nil, err
	}
	for _, tps := range issuers {
		sort.Strings(tps)
	}
	return issuers, nil
}

// IsPinned reports whether key is pinned for issuer. It satisfies
// badge.KeyPinner.
func (s *FileStore) IsPinned(issuer string, key *jose.JSONWebKey) (bool, error) {
	if key == nil {
		return false, nil
	}
	pub := key.Public()
	tp, err := Thumbprint(&pub)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	issuers, err := s.loadIssuers()
	if err != nil {
		return false, err
	}
	if !lo.Contains(issuers[issuer], tp) {
		return false, nil
	}
	// The key file must still exist
	_, err = os.Stat(s.keyPath(tp))
	return err == nil, nil
}

// AddFromJWKS stores every key of jwks and, if issuer is set, pins them to it.
func (s *FileStore) AddFromJWKS(jwks *jose.JSONWebKeySet, issuer string) ([]string, error) {
	var thumbprints []string
	for _, key := range jwks.Keys {
		tp, err := s.Add(key)
		if err != nil {
			return thumbprints, fmt.Errorf("failed to add key %s: %w", key.KeyID, err)
		}
		if issuer != "" {
			if err := s.Pin(issuer, tp); err != nil {
				return thumbprints, fmt.Errorf("failed to pin key %s: %w", tp, err)
			}
		}
		thumbprints = append(thumbprints, tp)
	}
	return thumbprints, nil
}

// readKey requires s.mu held.
func (s *FileStore) readKey(thumbprint string) (*jose.JSONWebKey, error) {
	data, err := os.ReadFile(s.keyPath(thumbprint))
	if os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	var key jose.JSONWebKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("failed to parse key: %w", err)
	}
	return &key, nil
}

// loadIssuers returns an empty mapping when the file does not exist yet.
func (s *FileStore) loadIssuers() (map[string][]string, error) {
	data, err := os.ReadFile(s.issuersPath())
	if os.IsNotExist(err) {
		return make(map[string][]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read issuers file: %w", err)
	}

	issuers := make(map[string][]string)
	if err := json.Unmarshal(data, &issuers); err != nil {
		return nil, fmt.Errorf("failed to parse issuers file: %w", err)
	}
	return issuers, nil
}

func (s *FileStore) saveIssuers(issuers map[string][]string) error {
	data, err := json.MarshalIndent(issuers, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal issuers: %w", err)
	}

	if err := os.WriteFile(s.issuersPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write issuers file: %w", err)
	}
	return nil
}
