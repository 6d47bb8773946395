package badge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AchievementCredential is an Open Badges 3.0 OpenBadgeCredential.
// It is also the VC-JWT payload, with the registered claims added by the signer.
type AchievementCredential struct {
	// Context is the ordered JSON-LD context list; see ContextVC and ContextOBv3.
	Context []string `json:"@context"`

	// ID is the credential IRI, {domain}/credentials/{uuid}.
	ID string `json:"id"`

	// Type contains VerifiableCredential and AchievementCredential or OpenBadgeCredential.
	Type []string `json:"type"`

	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Image       *Image `json:"image,omitempty"`

	// Issuer is either an IRI or an inline Profile.
	Issuer ProfileRef `json:"issuer"`

	// ValidFrom is an RFC3339 UTC timestamp (YYYY-MM-DDTHH:MM:SSZ).
	ValidFrom string `json:"validFrom"`

	// ValidUntil is an RFC3339 UTC timestamp, optional.
	ValidUntil string `json:"validUntil,omitempty"`

	AwardedDate string `json:"awardedDate,omitempty"`

	CredentialSubject AchievementSubject `json:"credentialSubject"`

	Endorsement    []EndorsementCredential `json:"endorsement,omitempty"`
	EndorsementJWT []string                `json:"endorsementJwt,omitempty"`
	Evidence       []Evidence              `json:"evidence,omitempty"`

	// CredentialStatus is passed through untouched; revocation is handled elsewhere.
	CredentialStatus *CredentialStatus `json:"credentialStatus,omitempty"`
	CredentialSchema []CredentialSchema `json:"credentialSchema,omitempty"`
	RefreshService   *RefreshService    `json:"refreshService,omitempty"`
	TermsOfUse       []TermsOfUse       `json:"termsOfUse,omitempty"`
	Proof            []Proof            `json:"proof,omitempty"`
}

// EndorsementCredential is a third-party endorsement of a profile, achievement or credential.
type EndorsementCredential struct {
	Context           []string           `json:"@context"`
	ID                string             `json:"id"`
	Type              []string           `json:"type"`
	Name              string             `json:"name"`
	Description       string             `json:"description,omitempty"`
	Issuer            ProfileRef         `json:"issuer"`
	ValidFrom         string             `json:"validFrom"`
	ValidUntil        string             `json:"validUntil,omitempty"`
	AwardedDate       string             `json:"awardedDate,omitempty"`
	CredentialSubject EndorsementSubject `json:"credentialSubject"`
	CredentialStatus  *CredentialStatus  `json:"credentialStatus,omitempty"`
	Proof             []Proof            `json:"proof,omitempty"`
}

// EndorsementSubject identifies the endorsed entity.
type EndorsementSubject struct {
	ID                 string   `json:"id"`
	Type               []string `json:"type"`
	EndorsementComment string   `json:"endorsementComment,omitempty"`
}

// AchievementSubject is the recipient of the credential and the achievement awarded.
type AchievementSubject struct {
	// ID identifies the recipient. Omitted for anonymous awards.
	ID                string           `json:"id,omitempty"`
	Type              []string         `json:"type"`
	ActivityStartDate string           `json:"activityStartDate,omitempty"`
	ActivityEndDate   string           `json:"activityEndDate,omitempty"`
	CreditsEarned     *float64         `json:"creditsEarned,omitempty"`
	Achievement       *Achievement     `json:"achievement"`
	Identifier        []IdentityObject `json:"identifier,omitempty"`
	Image             *Image           `json:"image,omitempty"`
	LicenseNumber     string           `json:"licenseNumber,omitempty"`
	Narrative         string           `json:"narrative,omitempty"`
	Result            []Result         `json:"result,omitempty"`
	Role              string           `json:"role,omitempty"`
	Source            *Profile         `json:"source,omitempty"`
	Term              string           `json:"term,omitempty"`
}

// Achievement describes what was accomplished.
type Achievement struct {
	ID                string                  `json:"id"`
	Type              []string                `json:"type"`
	AchievementType   AchievementType         `json:"achievementType,omitempty"`
	Alignment         []Alignment             `json:"alignment,omitempty"`
	Creator           *Profile                `json:"creator,omitempty"`
	CreditsAvailable  *float64                `json:"creditsAvailable,omitempty"`
	Criteria          Criteria                `json:"criteria"`
	Description       string                  `json:"description"`
	Endorsement       []EndorsementCredential `json:"endorsement,omitempty"`
	EndorsementJWT    []string                `json:"endorsementJwt,omitempty"`
	FieldOfStudy      string                  `json:"fieldOfStudy,omitempty"`
	HumanCode         string                  `json:"humanCode,omitempty"`
	Image             *Image                  `json:"image,omitempty"`
	InLanguage        string                  `json:"inLanguage,omitempty"`
	Name              string                  `json:"name"`
	ResultDescription []ResultDescription     `json:"resultDescription,omitempty"`
	Specialization    string                  `json:"specialization,omitempty"`
	Tag               []string                `json:"tag,omitempty"`
	Version           string                  `json:"version,omitempty"`
}

// Criteria describes how the achievement is earned. At least one field is required.
type Criteria struct {
	ID        string `json:"id,omitempty"`
	Narrative string `json:"narrative,omitempty"`
}

// Alignment points at an external framework node the achievement aligns with.
type Alignment struct {
	Type              []string `json:"type"`
	TargetCode        string   `json:"targetCode,omitempty"`
	TargetDescription string   `json:"targetDescription,omitempty"`
	TargetName        string   `json:"targetName"`
	TargetFramework   string   `json:"targetFramework,omitempty"`
	TargetType        string   `json:"targetType,omitempty"`
	TargetURL         string   `json:"targetUrl"`
}

// ResultDescription describes a possible result for the achievement.
type ResultDescription struct {
	ID            string   `json:"id"`
	Type          []string `json:"type"`
	AllowedValue  []string `json:"allowedValue,omitempty"`
	Name          string   `json:"name"`
	RequiredLevel string   `json:"requiredLevel,omitempty"`
	RequiredValue string   `json:"requiredValue,omitempty"`
	ResultType    string   `json:"resultType"`
	ValueMax      string   `json:"valueMax,omitempty"`
	ValueMin      string   `json:"valueMin,omitempty"`
}

// Result is the recipient's result against a ResultDescription.
type Result struct {
	Type              []string `json:"type"`
	AchievedLevel     string   `json:"achievedLevel,omitempty"`
	ResultDescription string   `json:"resultDescription,omitempty"`
	Status            string   `json:"status,omitempty"`
	Value             string   `json:"value,omitempty"`
}

// IdentityObject identifies a recipient by a (possibly hashed) identifier.
type IdentityObject struct {
	Type         string `json:"type"`
	Hashed       bool   `json:"hashed"`
	IdentityHash string `json:"identityHash"`
	IdentityType string `json:"identityType"`
	Salt         string `json:"salt,omitempty"`
}

// Profile describes an issuer, creator or other organization or person.
type Profile struct {
	ID              string                  `json:"id"`
	Type            []string                `json:"type"`
	Name            string                  `json:"name,omitempty"`
	URL             string                  `json:"url,omitempty"`
	Phone           string                  `json:"phone,omitempty"`
	Description     string                  `json:"description,omitempty"`
	Endorsement     []EndorsementCredential `json:"endorsement,omitempty"`
	EndorsementJWT  []string                `json:"endorsementJwt,omitempty"`
	Image           *Image                  `json:"image,omitempty"`
	Email           string                  `json:"email,omitempty"`
	Address         *Address                `json:"address,omitempty"`
	Official        string                  `json:"official,omitempty"`
	ParentOrg       *Profile                `json:"parentOrg,omitempty"`
	FamilyName      string                  `json:"familyName,omitempty"`
	GivenName       string                  `json:"givenName,omitempty"`
	AdditionalName  string                  `json:"additionalName,omitempty"`
	HonorificPrefix string                  `json:"honorificPrefix,omitempty"`
	HonorificSuffix string                  `json:"honorificSuffix,omitempty"`
	DateOfBirth     string                  `json:"dateOfBirth,omitempty"`
}

// Address is a postal address.
type Address struct {
	Type                []string        `json:"type"`
	AddressCountry      string          `json:"addressCountry,omitempty"`
	AddressCountryCode  string          `json:"addressCountryCode,omitempty"`
	AddressRegion       string          `json:"addressRegion,omitempty"`
	AddressLocality     string          `json:"addressLocality,omitempty"`
	StreetAddress       string          `json:"streetAddress,omitempty"`
	PostOfficeBoxNumber string          `json:"postOfficeBoxNumber,omitempty"`
	PostalCode          string          `json:"postalCode,omitempty"`
	Geo                 *GeoCoordinates `json:"geo,omitempty"`
}

// GeoCoordinates is a latitude/longitude pair.
type GeoCoordinates struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Image is a badge or profile image reference.
type Image struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Caption string `json:"caption,omitempty"`
}

// Evidence describes work that supports the award.
type Evidence struct {
	ID          string   `json:"id,omitempty"`
	Type        []string `json:"type"`
	Narrative   string   `json:"narrative,omitempty"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Genre       string   `json:"genre,omitempty"`
	Audience    string   `json:"audience,omitempty"`
}

// CredentialStatus points at a status list or revocation service.
type CredentialStatus struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// CredentialSchema references a JSON schema the credential conforms to.
type CredentialSchema struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// RefreshService references a service that can refresh the credential.
type RefreshService struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// TermsOfUse is a policy under which the credential was issued.
type TermsOfUse struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
}

// Proof is an embedded Data Integrity proof. Credentials secured as VC-JWT carry none.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created,omitempty"`
	Cryptosuite        string `json:"cryptosuite,omitempty"`
	Challenge          string `json:"challenge,omitempty"`
	Domain             string `json:"domain,omitempty"`
	Nonce              string `json:"nonce,omitempty"`
	ProofPurpose       string `json:"proofPurpose,omitempty"`
	ProofValue         string `json:"proofValue,omitempty"`
	VerificationMethod string `json:"verificationMethod,omitempty"`
}

// ProfileRef is either an IRI string or an inline Profile object.
// Exactly one of IRI or Profile is set after unmarshaling.
type ProfileRef struct {
	IRI     string
	Profile *Profile
}

// IssuerRef returns a ProfileRef holding only an IRI.
func IssuerRef(iri string) ProfileRef {
	return ProfileRef{IRI: iri}
}

// InlineProfile returns a ProfileRef holding an embedded profile.
func InlineProfile(p *Profile) ProfileRef {
	return ProfileRef{Profile: p}
}

// ID returns the IRI of the referenced profile.
func (r ProfileRef) ID() string {
	if r.Profile != nil {
		return r.Profile.ID
	}
	return r.IRI
}

// MarshalJSON implements json.Marshaler.
func (r ProfileRef) MarshalJSON() ([]byte, error) {
	if r.Profile != nil {
		return json.Marshal(r.Profile)
	}
	return json.Marshal(r.IRI)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ProfileRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty profile reference")
	}

	switch data[0] {
	case '"':
		var iri string
		if err := json.Unmarshal(data, &iri); err != nil {
			return err
		}
		*r = ProfileRef{IRI: iri}
		return nil
	case '{':
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*r = ProfileRef{Profile: &p}
		return nil
	default:
		return fmt.Errorf("profile reference must be a string or object")
	}
}
