package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/badgeengine/badgeengine-core/pkg/auth"
	"github.com/go-jose/go-jose/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const mockJWKSURL = "https://login.example.com/discovery/keys"

// MockKeySource is a mock implementation of auth.KeySource.
type MockKeySource struct {
	mock.Mock
}

func (m *MockKeySource) Key(ctx context.Context, url, kid string) (*jose.JSONWebKey, error) {
	args := m.Called(ctx, url, kid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jose.JSONWebKey), args.Error(1)
}

func newMockedAuthenticator(t *testing.T, keys *MockKeySource) *auth.TokenAuthenticator {
	t.Helper()
	logger, _ := test.NewNullLogger()
	a, err := auth.NewTokenAuthenticator(auth.TokenConfig{
		JWKSURL: mockJWKSURL,
		Keys:    keys,
		Logger:  logger,
	})
	require.NoError(t, err)
	return a
}

func TestTokenAuthenticator_LooksUpKeyByKid(t *testing.T) {
	keys := new(MockKeySource)
	jwk := &jose.JSONWebKey{Key: &identityProviderKey(t).PublicKey, KeyID: "rotated-2", Algorithm: string(jose.RS256)}
	keys.On("Key", mock.Anything, mockJWKSURL, "rotated-2").Return(jwk, nil).Once()

	user, err := newMockedAuthenticator(t, keys).Authenticate(context.Background(), signToken(t, "rotated-2", baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, "object-1", user.ID)

	keys.AssertExpectations(t)
}

func TestTokenAuthenticator_KeySourceFailure(t *testing.T) {
	keys := new(MockKeySource)
	keys.On("Key", mock.Anything, mockJWKSURL, "k1").Return(nil, errors.New("identity provider unreachable"))

	_, err := newMockedAuthenticator(t, keys).Authenticate(context.Background(), signToken(t, "k1", baseClaims()))
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	assert.Contains(t, err.Error(), "identity provider unreachable")

	keys.AssertExpectations(t)
}

func TestTokenAuthenticator_MissingKidSkipsLookup(t *testing.T) {
	keys := new(MockKeySource)

	_, err := newMockedAuthenticator(t, keys).Authenticate(context.Background(), signToken(t, "", baseClaims()))
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	keys.AssertNotCalled(t, "Key", mock.Anything, mock.Anything, mock.Anything)
}
