package badge

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// KeyPinner confirms that a self-asserted signing key belongs to the claimed issuer.
type KeyPinner interface {
	IsPinned(issuer string, key *jose.JSONWebKey) (bool, error)
}

// VerifyOptions configures VC-JWT verification behavior.
type VerifyOptions struct {
	// Pinner, when set, requires the embedded JWK to be pinned for the issuer.
	Pinner KeyPinner

	// SkipTimeChecks disables nbf/exp checks (for inspecting historical credentials).
	SkipTimeChecks bool

	// Now overrides the current time (for testing).
	Now func() time.Time
}

// VerifiedCredential is the result of a successful verification.
type VerifiedCredential struct {
	// Credential is the verified credential document.
	Credential *AchievementCredential

	// Claims holds the registered JWT claims.
	Claims *Claims

	// Key is the embedded public key the signature was checked against.
	Key *jose.JSONWebKey

	// Pinned is true when a KeyPinner confirmed the key.
	Pinned bool
}

// Verifier validates VC-JWTs produced by SignCredential.
type Verifier struct {
	defaults VerifyOptions
}

// NewVerifier creates a Verifier with default options applied to every call.
func NewVerifier(defaults VerifyOptions) *Verifier {
	return &Verifier{defaults: defaults}
}

// Verify checks a VC-JWT using the verifier defaults.
func (v *Verifier) Verify(ctx context.Context, token string) (*VerifiedCredential, error) {
	return v.VerifyWithOptions(ctx, token, v.defaults)
}

// VerifyWithOptions checks the signature against the embedded JWK, then the
// credential structure and validity window.
func (v *Verifier) VerifyWithOptions(_ context.Context, token string, opts VerifyOptions) (*VerifiedCredential, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	// Step 1: Parse JWS
	jwsObj, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, WrapError(ErrCodeMalformedInput, "failed to parse JWS", err)
	}
	if len(jwsObj.Signatures) != 1 {
		return nil, NewError(ErrCodeMalformedInput, "expected exactly one signature")
	}

	// Step 2: Extract the embedded key
	header := jwsObj.Signatures[0].Header
	jwk := header.JSONWebKey
	if jwk == nil {
		return nil, NewError(ErrCodeMalformedInput, "header has no embedded jwk")
	}
	pub, ok := jwk.Key.(*rsa.PublicKey)
	if !ok || !jwk.IsPublic() {
		return nil, NewError(ErrCodeMalformedInput, "embedded jwk is not an RSA public key")
	}
	if pub.N.BitLen() < MinRSAKeyBits {
		return nil, NewError(ErrCodeSignatureInvalid, fmt.Sprintf("embedded key is smaller than %d bits", MinRSAKeyBits))
	}

	// Step 3: Verify Signature
	payload, err := jwsObj.Verify(pub)
	if err != nil {
		return nil, WrapError(ErrCodeSignatureInvalid, "signature verification failed", err)
	}

	// Step 4: Decode verified payload
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, WrapError(ErrCodeMalformedInput, "failed to unmarshal claims", err)
	}
	if claims.AchievementCredential == nil {
		return nil, NewError(ErrCodeSchemaViolation, "payload carries no credential")
	}

	// Step 5: Validate credential structure and claim consistency
	if err := ValidateCredential(claims.AchievementCredential); err != nil {
		return nil, err
	}
	if err := validateRegisteredClaims(&claims); err != nil {
		return nil, err
	}

	// Step 6: Validity window
	if !opts.SkipTimeChecks {
		if err := validateWindow(&claims, now()); err != nil {
			return nil, err
		}
	}

	result := &VerifiedCredential{
		Credential: claims.AchievementCredential,
		Claims:     &claims,
		Key:        jwk,
	}

	// Step 7: Key pinning
	if opts.Pinner != nil {
		pinned, err := opts.Pinner.IsPinned(claims.Iss, jwk)
		if err != nil {
			return nil, WrapError(ErrCodeKeyUntrusted, "failed to check key pinning", err)
		}
		if !pinned {
			return nil, NewError(ErrCodeKeyUntrusted, fmt.Sprintf("key is not pinned for issuer %s", claims.Iss))
		}
		result.Pinned = true
	}

	return result, nil
}

func validateRegisteredClaims(claims *Claims) error {
	c := claims.AchievementCredential
	if claims.Iss != c.Issuer.ID() {
		return NewError(ErrCodeSchemaViolation, "iss does not match issuer.id")
	}
	if claims.JTI != c.ID {
		return NewError(ErrCodeSchemaViolation, "jti does not match credential id")
	}
	if claims.Sub != c.CredentialSubject.ID {
		return NewError(ErrCodeSchemaViolation, "sub does not match credentialSubject.id")
	}
	return nil
}

func validateWindow(claims *Claims, now time.Time) error {
	nowUnix := now.Unix()

	if claims.NotBefore != 0 && claims.NotBefore > nowUnix {
		return NewError(ErrCodeNotYetValid, fmt.Sprintf("credential not valid until %s", time.Unix(claims.NotBefore, 0).UTC().Format(time.RFC3339)))
	}
	if claims.Expiry != 0 && claims.Expiry <= nowUnix {
		return NewError(ErrCodeExpired, fmt.Sprintf("credential expired at %s", time.Unix(claims.Expiry, 0).UTC().Format(time.RFC3339)))
	}
	return nil
}

// DecodeUnverified returns the header and claims of a VC-JWT without checking the signature.
func DecodeUnverified(token string) (*jose.Header, *Claims, error) {
	jwsObj, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, nil, WrapError(ErrCodeMalformedInput, "failed to parse JWS", err)
	}
	if len(jwsObj.Signatures) == 0 {
		return nil, nil, NewError(ErrCodeMalformedInput, "no signatures present")
	}

	var claims Claims
	if err := json.Unmarshal(jwsObj.UnsafePayloadWithoutVerification(), &claims); err != nil {
		return nil, nil, WrapError(ErrCodeMalformedInput, "failed to unmarshal claims", err)
	}

	header := jwsObj.Signatures[0].Header
	return &header, &claims, nil
}
