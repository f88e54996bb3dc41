package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	shop "github.com/eugener/goshop/internal"
)

// TokenKind distinguishes access from refresh tokens. Each kind is signed
// with its own secret, so one can never be replayed as the other.
type TokenKind string

const (
	Access  TokenKind = "access"
	Refresh TokenKind = "refresh"
)

// Claims are the JWT claims of both token kinds. The subject is the user ID.
type Claims struct {
	Kind TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the numeric subject.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad subject", shop.ErrUnauthorized)
	}
	return id, nil
}

// TokenConfig configures token issuing.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Tokens issues and verifies HS256 access and refresh tokens.
type Tokens struct {
	secrets map[TokenKind][]byte
	ttls    map[TokenKind]time.Duration
	issuer  string
	now     func() time.Time
}

// NewTokens validates cfg and returns a Tokens.
func NewTokens(cfg TokenConfig) (*Tokens, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token ttls must be positive")
	}
	return &Tokens{
		secrets: map[TokenKind][]byte{
			Access:  []byte(cfg.AccessSecret),
			Refresh: []byte(cfg.RefreshSecret),
		},
		ttls: map[TokenKind]time.Duration{
			Access:  cfg.AccessTTL,
			Refresh: cfg.RefreshTTL,
		},
		issuer: cfg.Issuer,
		now:    time.Now,
	}, nil
}

// TTL returns the lifetime of tokens of kind.
func (t *Tokens) TTL(kind TokenKind) time.Duration { return t.ttls[kind] }

// Issue signs a token of kind for userID.
func (t *Tokens) Issue(kind TokenKind, userID int64) (string, error) {
	secret, ok := t.secrets[kind]
	if !ok {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}
	now := t.now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttls[kind])),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Parse verifies raw as a token of kind. Expired tokens fail with
// shop.ErrTokenExpired, every other defect with shop.ErrUnauthorized.
func (t *Tokens) Parse(raw string, kind TokenKind) (*Claims, error) {
	secret, ok := t.secrets[kind]
	if !ok || raw == "" {
		return nil, shop.ErrUnauthorized
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, shop.ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", shop.ErrUnauthorized, err)
	case claims.Kind != kind:
		return nil, fmt.Errorf("%w: not a %s token", shop.ErrUnauthorized, kind)
	}
	return claims, nil
}

// HashToken returns the hex SHA-256 of a token for storage. Only hashes of
// refresh and verification tokens are persisted.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
