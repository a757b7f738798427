package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mediconnect/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

func newManager(t *testing.T, revoked RevocationList) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(TokenConfig{
		Secret: "test-secret",
		Issuer: "medi-connect-api",
		Expiry: time.Hour,
	}, revoked, zap.NewNop())
	require.NoError(t, err)
	return m
}

func testIdentity(role models.Role) Identity {
	return Identity{ID: bson.NewObjectID().Hex(), Role: role, Email: string(role) + "@example.com"}
}

func tokenCode(t *testing.T, err error) string {
	t.Helper()
	var te *TokenError
	require.ErrorAs(t, err, &te)
	return te.Code
}

func TestIssueAndVerify(t *testing.T) {
	m := newManager(t, nil)
	user := testIdentity(models.RoleDoctor)

	token, issued, err := m.Issue(user)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)
	assert.Equal(t, jwt.ClaimStrings{"doctor"}, issued.Audience)

	claims, err := m.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user, claims.User)
	assert.Equal(t, "medi-connect-api", claims.Issuer)
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := newManager(t, nil)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := m.Issue(testIdentity(models.RolePatient))
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Verify(context.Background(), token)
	assert.Equal(t, CodeTokenExpired, tokenCode(t, err))
}

func TestVerifyRejectsMalformedAndForeign(t *testing.T) {
	m := newManager(t, nil)

	_, err := m.Verify(context.Background(), "not-a-jwt")
	assert.Equal(t, CodeMalformedToken, tokenCode(t, err))

	other, err := NewTokenManager(TokenConfig{Secret: "other", Issuer: "medi-connect-api"}, nil, zap.NewNop())
	require.NoError(t, err)
	token, _, err := other.Issue(testIdentity(models.RolePatient))
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), token)
	assert.Equal(t, CodeInvalidToken, tokenCode(t, err))

	wrongIssuer, err := NewTokenManager(TokenConfig{Secret: "test-secret", Issuer: "someone-else"}, nil, zap.NewNop())
	require.NoError(t, err)
	token, _, err = wrongIssuer.Issue(testIdentity(models.RolePatient))
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), token)
	assert.Equal(t, CodeInvalidToken, tokenCode(t, err))
}

func TestVerifyRejectsBadPayload(t *testing.T) {
	m := newManager(t, nil)
	sign := func(c *Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		return s
	}
	base := func(user Identity, aud ...string) *Claims {
		return &Claims{
			User: user,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "medi-connect-api",
				Audience:  aud,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}

	user := testIdentity(models.RolePatient)

	_, err := m.Verify(context.Background(), sign(base(Identity{Role: models.RolePatient}, "patient")))
	assert.Equal(t, CodeInvalidTokenFormat, tokenCode(t, err))

	_, err = m.Verify(context.Background(), sign(base(Identity{ID: "42", Role: models.RolePatient}, "patient")))
	assert.Equal(t, CodeInvalidTokenFormat, tokenCode(t, err))

	_, err = m.Verify(context.Background(), sign(base(user, "admin")))
	assert.Equal(t, CodeInvalidTokenFormat, tokenCode(t, err))

	noRole := user
	noRole.Role = ""
	_, err = m.Verify(context.Background(), sign(base(noRole, "patient")))
	assert.Equal(t, CodeInvalidTokenFormat, tokenCode(t, err))
}

func TestRevoke(t *testing.T) {
	revoked := NewMemoryRevocationList()
	m := newManager(t, revoked)

	token, _, err := m.Issue(testIdentity(models.RolePatient))
	require.NoError(t, err)
	claims, err := m.Verify(context.Background(), token)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background(), claims))
	_, err = m.Verify(context.Background(), token)
	assert.Equal(t, CodeTokenRevoked, tokenCode(t, err))

	other, _, err := m.Issue(testIdentity(models.RolePatient))
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), other)
	assert.NoError(t, err)
}

func TestMemoryRevocationListExpires(t *testing.T) {
	l := NewMemoryRevocationList()
	now := time.Now()
	l.now = func() time.Time { return now }
	require.NoError(t, l.Revoke(context.Background(), "jti-1", time.Minute))

	ok, _ := l.IsRevoked(context.Background(), "jti-1")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = l.IsRevoked(context.Background(), "jti-1")
	assert.False(t, ok)
}

func TestVerifyWithKeySet(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := keyfunc.NewGiven(map[string]keyfunc.GivenKey{
		"idp-key": keyfunc.NewGivenRSA(&key.PublicKey, keyfunc.GivenKeyOptions{Algorithm: "RS256"}),
	})
	m := newManager(t, nil).WithKeySet(jwks)

	user := testIdentity(models.RoleAdmin)
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, &Claims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "medi-connect-api",
			Audience:  jwt.ClaimStrings{"admin"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	tok.Header["kid"] = "idp-key"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	claims, err := m.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, user, claims.User)

	tok.Header["kid"] = "unknown"
	signed, err = tok.SignedString(key)
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), signed)
	assert.Equal(t, CodeInvalidToken, tokenCode(t, err))
}

func TestPredicates(t *testing.T) {
	patient := testIdentity(models.RolePatient)
	owner, err := patient.ObjectID()
	require.NoError(t, err)
	other := bson.NewObjectID()

	assert.True(t, IsRole(patient, models.RolePatient))
	assert.True(t, IsRole(patient, models.RoleDoctor, models.RolePatient))
	assert.False(t, IsRole(patient, models.RoleAdmin))

	assert.True(t, IsOwner(patient, owner))
	assert.False(t, IsOwner(patient, other))
	assert.False(t, IsOwner(patient, bson.ObjectID{}))

	assert.True(t, IsOwnerOrRole(patient, owner, models.RoleAdmin))
	assert.False(t, IsOwnerOrRole(patient, other, models.RoleAdmin))
	assert.True(t, IsOwnerOrRole(testIdentity(models.RoleAdmin), other, models.RoleAdmin))

	_, err = Identity{ID: "nope"}.ObjectID()
	assert.Error(t, err)
}
