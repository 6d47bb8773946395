package badge

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// KeyProvider supplies the issuer signing key.
type KeyProvider interface {
	PrivateKey() (*rsa.PrivateKey, error)
}

// Repository persists signed credentials by credential uuid.
type Repository interface {
	Put(ctx context.Context, id, token string) error
	Get(ctx context.Context, id string) (string, error)
}

// IssueResponse is returned to the caller after a successful issuance.
type IssueResponse struct {
	Message       string `json:"message"`
	BadgeJWT      string `json:"badge_jwt"`
	BadgeUUID     string `json:"badge_uuid"`
	CredentialURL string `json:"credential_url"`
}

// ServiceConfig wires the issuance pipeline.
type ServiceConfig struct {
	Builder *Builder
	Keys    KeyProvider
	Store   Repository

	// HostURL is the public base URL the retrieval endpoint is served under.
	HostURL string

	Logger logrus.FieldLogger
}

// Service runs build, sign and persist for issuance requests.
type Service struct {
	builder *Builder
	keys    KeyProvider
	store   Repository
	hostURL string
	log     logrus.FieldLogger
}

// NewService creates an issuance Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Builder == nil || cfg.Keys == nil || cfg.Store == nil {
		return nil, NewError(ErrCodeConfiguration, "builder, key provider and store are required")
	}

	hostURL := strings.TrimSuffix(cfg.HostURL, "/")
	if hostURL == "" {
		hostURL = cfg.Builder.Domain()
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Service{
		builder: cfg.Builder,
		keys:    cfg.Keys,
		store:   cfg.Store,
		hostURL: hostURL,
		log:     log.WithField("component", "issuer"),
	}, nil
}

// Issue builds, signs and stores a credential for req.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResponse, error) {
	cred, err := s.builder.Build(req)
	if err != nil {
		return nil, err
	}

	key, err := s.keys.PrivateKey()
	if err != nil {
		return nil, err
	}

	token, err := SignCredential(cred, key)
	if err != nil {
		return nil, err
	}

	id := CredentialUUID(cred.ID)
	if err := s.store.Put(ctx, id, token); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"credential_id": cred.ID,
		"issuer":        cred.Issuer.ID(),
		"achievement":   cred.CredentialSubject.Achievement.ID,
	}).Info("credential issued")

	return &IssueResponse{
		Message:       "Credential issued successfully",
		BadgeJWT:      token,
		BadgeUUID:     id,
		CredentialURL: s.CredentialURL(id),
	}, nil
}

// Credential returns the stored VC-JWT for a credential uuid.
func (s *Service) Credential(ctx context.Context, id string) (string, error) {
	return s.store.Get(ctx, id)
}

// CredentialURL returns the public retrieval URL for a credential uuid.
func (s *Service) CredentialURL(id string) string {
	return fmt.Sprintf("%s/api/achievements/credentials/%s", s.hostURL, id)
}

// CredentialUUID returns the trailing path segment of a credential IRI.
func CredentialUUID(iri string) string {
	if i := strings.LastIndex(iri, "/"); i >= 0 {
		return iri[i+1:]
	}
	return iri
}
