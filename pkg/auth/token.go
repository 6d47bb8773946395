package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/badgeengine/badgeengine-core/pkg/group"
	"github.com/badgeengine/badgeengine-core/pkg/scope"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// KeySource resolves token signing keys by kid.
type KeySource interface {
	Key(ctx context.Context, url, kid string) (*jose.JSONWebKey, error)
}

// TokenConfig configures a TokenAuthenticator.
type TokenConfig struct {
	// JWKSURL is where the identity provider publishes its signing keys.
	JWKSURL string

	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string

	Keys KeySource

	// Groups, when set, supplies memberships for tokens without group claims.
	Groups group.Repository

	Logger logrus.FieldLogger
}

// TokenAuthenticator verifies RS256 access tokens against a JWKS.
type TokenAuthenticator struct {
	cfg    TokenConfig
	parser *jwt.Parser
	log    logrus.FieldLogger
}

// NewTokenAuthenticator creates a TokenAuthenticator.
func NewTokenAuthenticator(cfg TokenConfig) (*TokenAuthenticator, error) {
	if cfg.JWKSURL == "" || cfg.Keys == nil {
		return nil, errors.New("JWKS URL and key source are required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &TokenAuthenticator{
		cfg:    cfg,
		parser: jwt.NewParser(opts...),
		log:    log.WithField("component", "auth"),
	}, nil
}

// Authenticate verifies bearer and maps its claims to a user.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, bearer string) (*scope.User, error) {
	if bearer == "" {
		return nil, ErrUnauthenticated
	}

	claims := jwt.MapClaims{}
	token, err := a.parser.ParseWithClaims(bearer, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid")
		}
		jwk, err := a.cfg.Keys.Key(ctx, a.cfg.JWKSURL, kid)
		if err != nil {
			return nil, err
		}
		return jwk.Public().Key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is invalid", ErrUnauthenticated)
	}

	user := UserFromClaims(claims)
	if user.ID == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	if len(user.Groups) == 0 && a.cfg.Groups != nil {
		groups, err := a.cfg.Groups.GroupsForUser(ctx, user.ID)
		if err != nil {
			// Membership lookup failing leaves the user without groups
			a.log.WithError(err).WithField("user_id", user.ID).Warn("group lookup failed")
		} else {
			user.Groups = groups
		}
	}
	return user, nil
}

// UserFromClaims maps token claims to a user. The id comes from oid, else sub;
// groups are the union of the groups and roles claims.
func UserFromClaims(claims map[string]interface{}) *scope.User {
	str := func(name string) string {
		s, _ := claims[name].(string)
		return s
	}

	user := &scope.User{
		ID:     lo.Ternary(str("oid") != "", str("oid"), str("sub")),
		Email:  lo.Ternary(str("preferred_username") != "", str("preferred_username"), str("email")),
		Name:   str("name"),
		Claims: claims,
	}
	groups := append(scope.StringSlice(claims["groups"]), scope.StringSlice(claims["roles"])...)
	user.Groups = lo.Uniq(groups)
	return user
}
