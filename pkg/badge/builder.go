package badge

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultValidity is the credential lifetime applied when the builder is not configured.
const DefaultValidity = 365 * 24 * time.Hour

// IssueRequest is the issuance payload accepted from the calling layer.
type IssueRequest struct {
	RecipientID      *string `json:"recipient_id,omitempty"`
	OrganizationName string  `json:"organization_name"`
	OrganizationID   string  `json:"organization_id"`
	AchievementName  string  `json:"achievement_name"`
	AchievementType  string  `json:"achievement_type"`
	Narrative        string  `json:"narrative"`
	Description      string  `json:"description"`
	AchievementID    string  `json:"achievement_id"`
}

// BuilderConfig configures credential construction.
type BuilderConfig struct {
	// Domain is the base IRI credentials, issuers and achievements are minted under.
	Domain string

	// Validity is added to validFrom to compute validUntil. Zero means DefaultValidity.
	Validity time.Duration

	// Now overrides the current time (for testing).
	Now func() time.Time

	// NewID overrides the credential id generator (for testing).
	NewID func() string
}

// Builder assembles OpenBadgeCredential documents from issuance requests.
type Builder struct {
	domain   string
	validity time.Duration
	now      func() time.Time
	newID    func() string
}

// NewBuilder creates a Builder. The domain is required.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	domain := strings.TrimSuffix(strings.TrimSpace(cfg.Domain), "/")
	if domain == "" {
		return nil, NewError(ErrCodeConfiguration, "credential domain is required")
	}
	if cfg.Validity < 0 {
		return nil, NewError(ErrCodeConfiguration, "credential validity must not be negative")
	}

	b := &Builder{
		domain:   domain,
		validity: cfg.Validity,
		now:      cfg.Now,
		newID:    cfg.NewID,
	}
	if b.validity == 0 {
		b.validity = DefaultValidity
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newID == nil {
		b.newID = func() string { return uuid.New().String() }
	}
	return b, nil
}

// Domain returns the configured base IRI.
func (b *Builder) Domain() string {
	return b.domain
}

// Build validates req and assembles the credential document.
func (b *Builder) Build(req IssueRequest) (*AchievementCredential, error) {
	// 1. Validate required fields
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// 2. Compute identifiers and validity window
	credentialID := b.newID()
	validFrom := b.now().UTC().Truncate(time.Second)
	validUntil := validFrom.Add(b.validity)

	// 3. Assemble the document
	cred := &AchievementCredential{
		Context: DefaultContext(),
		ID:      b.CredentialIRI(credentialID),
		Type:    DefaultCredentialType(),
		Name:    req.AchievementName,
		Issuer: InlineProfile(&Profile{
			ID:   fmt.Sprintf("%s/issuers/%s", b.domain, req.OrganizationID),
			Type: []string{TypeProfile},
			Name: req.OrganizationName,
		}),
		ValidFrom:  validFrom.Format(TimeLayout),
		ValidUntil: validUntil.Format(TimeLayout),
		CredentialSubject: AchievementSubject{
			Type: []string{TypeAchievementSubject},
			Achievement: &Achievement{
				ID:              fmt.Sprintf("%s/achievements/%s", b.domain, req.AchievementID),
				Type:            []string{TypeAchievement},
				AchievementType: AchievementType(req.AchievementType),
				Name:            req.AchievementName,
				Description:     req.Description,
				Criteria: Criteria{
					Narrative: req.Narrative,
				},
			},
		},
	}
	if req.RecipientID != nil {
		cred.CredentialSubject.ID = *req.RecipientID
	}

	// 4. Enforce structural invariants before anything can sign it
	if err := ValidateCredential(cred); err != nil {
		return nil, err
	}

	return cred, nil
}

// CredentialIRI returns {domain}/credentials/{id}.
func (b *Builder) CredentialIRI(id string) string {
	return fmt.Sprintf("%s/credentials/%s", b.domain, id)
}

func validateRequest(req IssueRequest) error {
	required := []struct {
		name  string
		value string
	}{
		{"organization_id", req.OrganizationID},
		{"organization_name", req.OrganizationName},
		{"achievement_name", req.AchievementName},
		{"achievement_type", req.AchievementType},
		{"narrative", req.Narrative},
		{"description", req.Description},
		{"achievement_id", req.AchievementID},
	}

	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return NewError(ErrCodeSchemaViolation, "missing required fields: "+strings.Join(missing, ", "))
	}

	if !AchievementType(req.AchievementType).Valid() {
		return NewError(ErrCodeSchemaViolation, fmt.Sprintf("unknown achievement_type %q", req.AchievementType))
	}
	return nil
}
