package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Codes returned to clients when a token is rejected.
const (
	CodeNoToken            = "NO_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeMalformedToken     = "MALFORMED_TOKEN"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeInvalidTokenFormat = "INVALID_TOKEN_FORMAT"
	CodeTokenRevoked       = "TOKEN_REVOKED"
)

type TokenError struct {
	Code    string
	Message string
	Err     error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TokenError) Unwrap() error { return e.Err }

// TokenConfig is injected at startup.
type TokenConfig struct {
	Secret  string
	Issuer  string
	Expiry  time.Duration
	JWKSURL string
}

type Claims struct {
	User Identity `json:"user"`
	jwt.RegisteredClaims
}

// RevocationList tracks logged-out token ids until they expire.
type RevocationList interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type TokenManager struct {
	config  TokenConfig
	secret  []byte
	jwks    *keyfunc.JWKS
	revoked RevocationList
	logger  *zap.Logger
	now     func() time.Time
}

// NewTokenManager verifies HS256 tokens signed with the configured secret
// and, when a JWKS URL is configured, tokens signed by keys in that set.
func NewTokenManager(cfg TokenConfig, revoked RevocationList, logger *zap.Logger) (*TokenManager, error) {
	if cfg.Secret == "" && cfg.JWKSURL == "" {
		return nil, errors.New("token manager needs a secret or a JWKS URL")
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 7 * 24 * time.Hour
	}
	m := &TokenManager{
		config:  cfg,
		secret:  []byte(cfg.Secret),
		revoked: revoked,
		logger:  logger,
		now:     time.Now,
	}
	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.Warn("failed to refresh JWKS", zap.Error(err))
			},
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to load JWKS")
		}
		m.jwks = jwks
	}
	return m, nil
}

// WithKeySet replaces the remote key set, mainly for tests.
func (m *TokenManager) WithKeySet(jwks *keyfunc.JWKS) *TokenManager {
	m.jwks = jwks
	return m
}

func (m *TokenManager) Close() {
	if m.jwks != nil {
		m.jwks.EndBackground()
	}
}

func (m *TokenManager) Expiry() time.Duration { return m.config.Expiry }

// Issue signs an HS256 token for user. The audience is the user's role.
func (m *TokenManager) Issue(user Identity) (string, *Claims, error) {
	if len(m.secret) == 0 {
		return "", nil, errors.New("token issuing requires a shared secret")
	}
	now := m.now()
	claims := &Claims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    m.config.Issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{string(user.Role)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.Expiry)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to sign token")
	}
	return signed, claims, nil
}

func (m *TokenManager) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(m.secret) == 0 {
			return nil, errors.New("shared-secret tokens are not accepted")
		}
		return m.secret, nil
	default:
		if m.jwks == nil {
			return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
		}
		return m.jwks.Keyfunc(token)
	}
}

// Verify parses and validates token and returns its claims. Failures are
// always *TokenError.
func (m *TokenManager) Verify(ctx context.Context, token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, m.keyFunc, opts...); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, &TokenError{Code: CodeTokenExpired, Message: "Token has expired", Err: err}
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, &TokenError{Code: CodeMalformedToken, Message: "Malformed token", Err: err}
		default:
			return nil, &TokenError{Code: CodeInvalidToken, Message: "Invalid token", Err: err}
		}
	}

	if claims.User.ID == "" || !claims.User.Role.Valid() {
		return nil, &TokenError{Code: CodeInvalidTokenFormat, Message: "Token payload is missing user identity"}
	}
	if _, err := bson.ObjectIDFromHex(claims.User.ID); err != nil {
		return nil, &TokenError{Code: CodeInvalidTokenFormat, Message: "Token user id is malformed"}
	}
	if !audienceContains(claims.Audience, string(claims.User.Role)) {
		return nil, &TokenError{Code: CodeInvalidTokenFormat, Message: "Token audience does not match role"}
	}

	if m.revoked != nil && claims.ID != "" {
		revoked, err := m.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			// Fail open when the revocation store is unreachable.
			m.logger.Warn("failed to check token revocation",
				zap.Error(err),
				zap.String("jti", claims.ID))
		} else if revoked {
			return nil, &TokenError{Code: CodeTokenRevoked, Message: "Token has been revoked"}
		}
	}
	return claims, nil
}

// Revoke blocks the token until its natural expiry.
func (m *TokenManager) Revoke(ctx context.Context, claims *Claims) error {
	if m.revoked == nil || claims.ID == "" {
		return nil
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Sub(m.now()); remaining > 0 {
			ttl = remaining
		}
	}
	return m.revoked.Revoke(ctx, claims.ID, ttl)
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
