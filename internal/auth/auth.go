// Package auth verifies the bearer tokens clients present in their auth
// frame and mints tokens for operator tooling.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tnnl/coordinator/internal/domain"
)

// DefaultAudience is the audience claim tokens must carry.
const DefaultAudience = "authenticated"

// Identity is the verified owner of a connection.
type Identity struct {
	UserID string
	Email  string
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Claims is the token payload: registered claims plus an optional email.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Error reports why a token was rejected. It matches
// [domain.ErrInvalidToken] under errors.Is.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return "invalid token: " + e.Reason
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrInvalidToken}
	}
	return []error{domain.ErrInvalidToken, e.Err}
}

// JWTVerifier checks HS256 signatures, expiry and audience.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret, audience string) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if audience == "" {
		audience = DefaultAudience
	}
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}, nil
}

func (v *JWTVerifier) Verify(token string) (Identity, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, &Error{Reason: rejectReason(err), Err: err}
	}
	return IdentityFromClaims(claims)
}

// IdentityFromClaims requires the subject to be a UUID and returns it in
// canonical form.
func IdentityFromClaims(c *Claims) (Identity, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, &Error{Reason: "invalid subject", Err: err}
	}
	return Identity{UserID: id.String(), Email: c.Email}, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience mismatch"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing claim"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "not valid yet"
	}
	return "unverifiable"
}

// IssueToken signs an HS256 token for subject valid for ttl from now.
func IssueToken(secret, audience, subject, email string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret is empty")
	}
	if _, err := uuid.Parse(subject); err != nil {
		return "", fmt.Errorf("subject must be a uuid: %w", err)
	}
	if audience == "" {
		audience = DefaultAudience
	}
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// GenerateSecret returns a random URL-safe signing secret.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
