package badge

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// MinRSAKeyBits is the smallest RSA modulus accepted for signing.
const MinRSAKeyBits = 2048

// Claims is the VC-JWT payload: the credential document at the top level
// plus registered JWT claims duplicated from it for generic JWT tooling.
type Claims struct {
	*AchievementCredential

	// Iss is the issuer IRI.
	Iss string `json:"iss"`

	// Sub is the recipient id; omitted for credentials without a recipient.
	Sub string `json:"sub,omitempty"`

	// JTI is the credential id.
	JTI string `json:"jti"`

	// NotBefore mirrors validFrom (Unix timestamp).
	NotBefore int64 `json:"nbf,omitempty"`

	// Expiry mirrors validUntil (Unix timestamp).
	Expiry int64 `json:"exp,omitempty"`
}

// NewClaims derives the VC-JWT claims for a credential.
func NewClaims(c *AchievementCredential) (*Claims, error) {
	claims := &Claims{
		AchievementCredential: c,
		Iss:                   c.Issuer.ID(),
		Sub:                   c.CredentialSubject.ID,
		JTI:                   c.ID,
	}

	nbf, err := time.Parse(time.RFC3339, c.ValidFrom)
	if err != nil {
		return nil, WrapError(ErrCodeSchemaViolation, "invalid validFrom", err)
	}
	claims.NotBefore = nbf.Unix()

	if c.ValidUntil != "" {
		exp, err := time.Parse(time.RFC3339, c.ValidUntil)
		if err != nil {
			return nil, WrapError(ErrCodeSchemaViolation, "invalid validUntil", err)
		}
		claims.Expiry = exp.Unix()
	}

	return claims, nil
}

// SignCredential signs the credential as a compact VC-JWT using RS256.
// The public key is embedded in the protected header as a JWK.
func SignCredential(c *AchievementCredential, privateKey *rsa.PrivateKey) (string, error) {
	// 1. Check key material
	if privateKey == nil {
		return "", NewError(ErrCodeConfiguration, "signing key is not configured")
	}
	if privateKey.N == nil || privateKey.N.BitLen() < MinRSAKeyBits {
		return "", NewError(ErrCodeConfiguration, fmt.Sprintf("RSA key must be at least %d bits", MinRSAKeyBits))
	}

	// 2. Refuse non-conformant documents
	if err := ValidateCredential(c); err != nil {
		return "", err
	}

	// 3. Build Claims
	claims, err := NewClaims(c)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", WrapError(ErrCodeSchemaViolation, "failed to marshal claims", err)
	}

	// 4. Create Signer
	opts := (&jose.SignerOptions{EmbedJWK: true}).WithType("JWT")
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: privateKey}, opts)
	if err != nil {
		return "", WrapError(ErrCodeConfiguration, "failed to create signer", err)
	}

	// 5. Sign
	jwsObj, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}

	// 6. Serialize to Compact JWS
	token, err := jwsObj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWS: %w", err)
	}

	return token, nil
}
