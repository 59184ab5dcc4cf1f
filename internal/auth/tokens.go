package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"peopledesk.org/internal/ids"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess = "access"
)

// TokenService mints, verifies and retires credentials. Access tokens are
// signed JWTs; refresh tokens are opaque "id.secret" strings whose secret is
// stored only as a sha256 hash.
type TokenService struct {
	creds CredentialStore
	now   func() time.Time

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// TokenPair is the result of issuing or rotating credentials.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AccessClaims are the JWT claims carried by access tokens.
type AccessClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures the absolute refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService constructs a TokenService signing with the given HS256
// secret and persisting refresh tokens through creds.
func NewTokenService(creds CredentialStore, secret string, opts ...TokenOption) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if creds == nil {
		return nil, errors.New("auth: credential store is required")
	}
	svc := &TokenService{
		creds:      creds,
		now:        time.Now,
		secret:     []byte(secret),
		issuer:     "peopledesk-gateway",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueTokenPair signs a fresh access token for the user and persists one new
// refresh token row.
func (s *TokenService) IssueTokenPair(ctx context.Context, userID string) (TokenPair, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TokenPair{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	accessToken, accessExp, err := s.signAccessToken(userID, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, record, err := s.generateRefreshToken(userID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.creds.CreateRefreshToken(ctx, record); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		ExpiresIn:        int64(s.accessTTL / time.Second),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// VerifyAccessToken checks the signature and claims of an access token and
// returns the subject user id. Pure computation, no store access.
func (s *TokenService) VerifyAccessToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.TokenType != tokenTypeAccess {
		return "", ErrInvalidToken
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return "", ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}

// RotateRefreshToken exchanges a presented refresh token for a new pair.
// Rotation is single-use: the presented token is revoked before its
// replacement is issued, so a second presentation fails with ErrInvalidToken.
// A hash mismatch on a live record also revokes it, since it signals a forged
// or replayed secret.
func (s *TokenService) RotateRefreshToken(ctx context.Context, presented string) (TokenPair, error) {
	tokenID, secret, err := splitRefreshToken(presented)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	record, err := s.creds.FindRefreshToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	if !record.Valid(s.now().UTC()) {
		return TokenPair{}, ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		_ = s.creds.RevokeRefreshToken(ctx, record.ID)
		return TokenPair{}, ErrInvalidToken
	}

	user, err := s.creds.FindUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	if !user.Active {
		return TokenPair{}, ErrAccountInactive
	}

	if err := s.creds.RevokeRefreshToken(ctx, record.ID); err != nil {
		return TokenPair{}, err
	}
	return s.IssueTokenPair(ctx, user.ID)
}

// Revoke marks one refresh token revoked. Revoking an unknown, malformed or
// already-revoked token is not an error.
func (s *TokenService) Revoke(ctx context.Context, presented string) error {
	tokenID, _, err := splitRefreshToken(presented)
	if err != nil {
		return nil
	}
	if err := s.creds.RevokeRefreshToken(ctx, tokenID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// RevokeAll marks every live refresh token of the user revoked. Used on
// logout-all and password change.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.creds.RevokeAllUserRefreshTokens(ctx, userID)
}

// PurgeExpired deletes refresh token rows that expired before now.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.creds.DeleteExpiredRefreshTokens(ctx, s.now().UTC())
}

func (s *TokenService) signAccessToken(userID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

func (s *TokenService) generateRefreshToken(userID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	record := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
	}
	return tokenID + "." + secret, record, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || id == "" || secret == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return id, secret, nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
