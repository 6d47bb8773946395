package badge

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// JSON-LD contexts. Consumers compare these positionally, so order matters.
const (
	// ContextVC is the W3C Verifiable Credentials v2 context; always at index 0.
	ContextVC = "https://www.w3.org/ns/credentials/v2"

	// ContextOBv3 is the Open Badges 3.0.3 context; always at index 1.
	ContextOBv3 = "https://purl.imsglobal.org/spec/ob/v3p0/context-3.0.3.json"
)

// Credential and object type IRIs.
const (
	TypeVerifiableCredential  = "VerifiableCredential"
	TypeAchievementCredential = "AchievementCredential"
	TypeOpenBadgeCredential   = "OpenBadgeCredential"
	TypeEndorsementCredential = "EndorsementCredential"
	TypeAchievementSubject    = "AchievementSubject"
	TypeAchievement           = "Achievement"
	TypeProfile               = "Profile"
	TypeDataIntegrityProof    = "DataIntegrityProof"
)

// TimeLayout is the credential timestamp format: RFC3339, UTC, second precision.
const TimeLayout = "2006-01-02T15:04:05Z"

// CryptosuiteEdDSARDFC2022 is the cryptosuite declared by Data Integrity proof configs.
const CryptosuiteEdDSARDFC2022 = "eddsa-rdfc-2022"

// AchievementType is a term from the Open Badges AchievementType vocabulary.
type AchievementType string

// Achievement types defined by Open Badges 3.0.
const (
	AchievementTypeAchievement                 AchievementType = "Achievement"
	AchievementTypeApprenticeshipCertificate   AchievementType = "ApprenticeshipCertificate"
	AchievementTypeAssessment                  AchievementType = "Assessment"
	AchievementTypeAssignment                  AchievementType = "Assignment"
	AchievementTypeAssociateDegree             AchievementType = "AssociateDegree"
	AchievementTypeAward                       AchievementType = "Award"
	AchievementTypeBadge                       AchievementType = "Badge"
	AchievementTypeBachelorDegree              AchievementType = "BachelorDegree"
	AchievementTypeCertificate                 AchievementType = "Certificate"
	AchievementTypeCertificateOfCompletion     AchievementType = "CertificateOfCompletion"
	AchievementTypeCertification               AchievementType = "Certification"
	AchievementTypeCommunityService            AchievementType = "CommunityService"
	AchievementTypeCompetency                  AchievementType = "Competency"
	AchievementTypeCoCurricular                AchievementType = "CoCurricular"
	AchievementTypeDegree                      AchievementType = "Degree"
	AchievementTypeDiploma                     AchievementType = "Diploma"
	AchievementTypeDoctoralDegree              AchievementType = "DoctoralDegree"
	AchievementTypeFieldwork                   AchievementType = "Fieldwork"
	AchievementTypeGeneralEducationDevelopment AchievementType = "GeneralEducationDevelopment"
	AchievementTypeJourneymanCertificate       AchievementType = "JourneymanCertificate"
	AchievementTypeLearningProgram             AchievementType = "LearningProgram"
	AchievementTypeLicense                     AchievementType = "License"
	AchievementTypeMembership                  AchievementType = "Membership"
	AchievementTypeProfessionalDoctorate       AchievementType = "ProfessionalDoctorate"
	AchievementTypeQualityAssuranceCredential  AchievementType = "QualityAssuranceCredential"
	AchievementTypeMasterCertificate           AchievementType = "MasterCertificate"
	AchievementTypeMasterDegree                AchievementType = "MasterDegree"
	AchievementTypeMicroCredential             AchievementType = "MicroCredential"
	AchievementTypeResearchDoctorate           AchievementType = "ResearchDoctorate"
	AchievementTypeSecondarySchoolDiploma      AchievementType = "SecondarySchoolDiploma"
	AchievementTypeEventAttendance             AchievementType = "ext:EventAttendance"
)

var achievementTypes = map[AchievementType]struct{}{
	AchievementTypeAchievement:                 {},
	AchievementTypeApprenticeshipCertificate:   {},
	AchievementTypeAssessment:                  {},
	AchievementTypeAssignment:                  {},
	AchievementTypeAssociateDegree:             {},
	AchievementTypeAward:                       {},
	AchievementTypeBadge:                       {},
	AchievementTypeBachelorDegree:              {},
	AchievementTypeCertificate:                 {},
	AchievementTypeCertificateOfCompletion:     {},
	AchievementTypeCertification:               {},
	AchievementTypeCommunityService:            {},
	AchievementTypeCompetency:                  {},
	AchievementTypeCoCurricular:                {},
	AchievementTypeDegree:                      {},
	AchievementTypeDiploma:                     {},
	AchievementTypeDoctoralDegree:              {},
	AchievementTypeFieldwork:                   {},
	AchievementTypeGeneralEducationDevelopment: {},
	AchievementTypeJourneymanCertificate:       {},
	AchievementTypeLearningProgram:             {},
	AchievementTypeLicense:                     {},
	AchievementTypeMembership:                  {},
	AchievementTypeProfessionalDoctorate:       {},
	AchievementTypeQualityAssuranceCredential:  {},
	AchievementTypeMasterCertificate:           {},
	AchievementTypeMasterDegree:                {},
	AchievementTypeMicroCredential:             {},
	AchievementTypeResearchDoctorate:           {},
	AchievementTypeSecondarySchoolDiploma:      {},
}

// Valid reports whether t is a vocabulary term or an "ext:" extension term.
func (t AchievementType) Valid() bool {
	if _, ok := achievementTypes[t]; ok {
		return true
	}
	return strings.HasPrefix(string(t), "ext:") && len(t) > len("ext:")
}

// DefaultContext returns a fresh copy of the required context list.
func DefaultContext() []string {
	return []string{ContextVC, ContextOBv3}
}

// DefaultCredentialType returns a fresh copy of the default credential type list.
func DefaultCredentialType() []string {
	return []string{TypeVerifiableCredential, TypeOpenBadgeCredential}
}

// NewDataIntegrityProofConfig returns the proof options for an eddsa-rdfc-2022 proof.
// Only the configuration is produced; the proof value is left for a Data Integrity signer.
func NewDataIntegrityProofConfig(created time.Time, verificationMethod string) Proof {
	return Proof{
		Type:               TypeDataIntegrityProof,
		Cryptosuite:        CryptosuiteEdDSARDFC2022,
		Created:            created.UTC().Format(TimeLayout),
		ProofPurpose:       "assertionMethod",
		VerificationMethod: verificationMethod,
	}
}

// ValidateCredential checks the structural invariants a credential must satisfy
// before it may be signed.
func ValidateCredential(c *AchievementCredential) error {
	if c == nil {
		return NewError(ErrCodeSchemaViolation, "credential is nil")
	}

	if err := validateContext(c.Context); err != nil {
		return err
	}
	if err := validateType(c.Type); err != nil {
		return err
	}

	if c.ID == "" {
		return NewError(ErrCodeSchemaViolation, "credential id is required")
	}

	if c.Issuer.ID() == "" {
		return NewError(ErrCodeSchemaViolation, "issuer must have an IRI")
	}
	if p := c.Issuer.Profile; p != nil && !lo.Contains(p.Type, TypeProfile) {
		return NewError(ErrCodeSchemaViolation, "issuer type must include Profile")
	}

	if err := validateTimestamp("validFrom", c.ValidFrom, true); err != nil {
		return err
	}
	if err := validateTimestamp("validUntil", c.ValidUntil, false); err != nil {
		return err
	}

	subject := c.CredentialSubject
	if !lo.Contains(subject.Type, TypeAchievementSubject) {
		return NewError(ErrCodeSchemaViolation, "credentialSubject type must include AchievementSubject")
	}
	if subject.Achievement == nil {
		return NewError(ErrCodeSchemaViolation, "credentialSubject.achievement is required")
	}

	return validateAchievement(subject.Achievement)
}

func validateContext(ctx []string) error {
	if len(ctx) < 2 {
		return NewError(ErrCodeSchemaViolation, "@context must contain at least two entries")
	}
	if ctx[0] != ContextVC {
		return NewError(ErrCodeSchemaViolation, fmt.Sprintf("@context[0] must be %s", ContextVC))
	}
	if ctx[1] != ContextOBv3 {
		return NewError(ErrCodeSchemaViolation, fmt.Sprintf("@context[1] must be %s", ContextOBv3))
	}
	return nil
}

func validateType(types []string) error {
	if !lo.Contains(types, TypeVerifiableCredential) {
		return NewError(ErrCodeSchemaViolation, "type must include VerifiableCredential")
	}
	if !lo.Contains(types, TypeAchievementCredential) && !lo.Contains(types, TypeOpenBadgeCredential) {
		return NewError(ErrCodeSchemaViolation, "type must include AchievementCredential or OpenBadgeCredential")
	}
	return nil
}

func validateAchievement(a *Achievement) error {
	if a.ID == "" {
		return NewError(ErrCodeSchemaViolation, "achievement id is required")
	}
	if !lo.Contains(a.Type, TypeAchievement) {
		return NewError(ErrCodeSchemaViolation, "achievement type must include Achievement")
	}
	if a.Name == "" {
		return NewError(ErrCodeSchemaViolation, "achievement name is required")
	}
	if a.Description == "" {
		return NewError(ErrCodeSchemaViolation, "achievement description is required")
	}
	if a.AchievementType != "" && !a.AchievementType.Valid() {
		return NewError(ErrCodeSchemaViolation, fmt.Sprintf("unknown achievementType %q", a.AchievementType))
	}
	if a.Criteria.ID == "" && a.Criteria.Narrative == "" {
		return NewError(ErrCodeSchemaViolation, "criteria requires id or narrative")
	}
	return nil
}

func validateTimestamp(field, value string, required bool) error {
	if value == "" {
		if required {
			return NewError(ErrCodeSchemaViolation, field+" is required")
		}
		return nil
	}
	if _, err := time.Parse(time.RFC3339, value); err != nil {
		return WrapError(ErrCodeSchemaViolation, field+" must be an RFC3339 timestamp", err)
	}
	return nil
}

// ValidateProfile checks a Profile submitted for storage.
func ValidateProfile(p *Profile) error {
	if p == nil {
		return NewError(ErrCodeSchemaViolation, "profile is nil")
	}
	if p.ID == "" {
		return NewError(ErrCodeSchemaViolation, "profile id is required")
	}
	if !lo.Contains(p.Type, TypeProfile) {
		return NewError(ErrCodeSchemaViolation, "profile type must include Profile")
	}
	if p.DateOfBirth != "" {
		if _, err := time.Parse("2006-01-02", p.DateOfBirth); err != nil {
			return WrapError(ErrCodeSchemaViolation, "dateOfBirth must be a YYYY-MM-DD date", err)
		}
	}
	return nil
}
