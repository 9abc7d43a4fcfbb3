// Package token mints and verifies the two credential kinds: signed,
// self-contained access tokens (JWT, HS256) and opaque random refresh
// tokens whose lifecycle lives in the refresh token store.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verification failures, ordered by the checks that produce them:
// presence, structure, signature, expiry. These exist for diagnostics and
// logging; the HTTP layer collapses all of them into one 401 body.
var (
	ErrMissing          = errors.New("token missing")
	ErrMalformed        = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
)

// refreshTokenBytes is the entropy of an opaque refresh token value.
// 32 bytes = 256 bits.
const refreshTokenBytes = 32

// Claims are the access token claims. Subject carries the user ID; ID (jti)
// identifies this token for the optional denylist.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID returns the identity the token asserts.
func (c *Claims) UserID() string {
	return c.Subject
}

// Manager issues and verifies access tokens and generates refresh token values.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewManager creates a token manager with the given signing secret and TTLs.
func NewManager(secret string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessTTL returns the validity window of minted access tokens.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the validity window of minted refresh tokens.
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// IssueAccess creates a signed access token asserting the given user ID.
func (m *Manager) IssueAccess(userID string) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			Issuer:    "auth-service",
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// NewRefreshValue generates a cryptographically random opaque refresh token.
// Uniqueness across sessions is enforced by the store's unique index on the
// token hash, not here.
func (m *Manager) NewRefreshValue() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// VerifyAccess checks an access token in fixed order: presence, structural
// well-formedness, signature, expiry. The first failure short-circuits and
// no partial trust is granted.
func (m *Manager) VerifyAccess(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissing
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, ErrMalformed
		}
	}

	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrMalformed
	}

	return claims, nil
}

// Hash returns the SHA-256 hex digest of a refresh token value. Only hashes
// are stored, so a leaked store cannot be replayed.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
