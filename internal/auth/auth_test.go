package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tnnl/coordinator/internal/domain"
)

const testSecret = "test-secret"
const testSubject = "3f1e8a52-7c7d-4b71-9a53-0c1c5e0f6a11"

func TestVerifyValidToken(t *testing.T) {
	t.Parallel()

	tok, err := IssueToken(testSecret, "", testSubject, "dev@example.com", time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewJWTVerifier(testSecret, DefaultAudience)
	if err != nil {
		t.Fatal(err)
	}
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != testSubject || id.Email != "dev@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestVerifyCanonicalizesSubject(t *testing.T) {
	t.Parallel()

	tok, err := IssueToken(testSecret, "", strings.ToUpper(testSubject), "", time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	v, _ := NewJWTVerifier(testSecret, "")
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != testSubject {
		t.Fatalf("expected canonical uuid, got %q", id.UserID)
	}
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	v, err := NewJWTVerifier(testSecret, DefaultAudience)
	if err != nil {
		t.Fatal(err)
	}

	sign := func(method jwt.SigningMethod, key any, c Claims) string {
		s, err := jwt.NewWithClaims(method, c).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	now := time.Now()
	valid := func() Claims {
		return Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testSubject,
			Audience:  jwt.ClaimStrings{DefaultAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
	wrongAud := valid()
	wrongAud.Audience = jwt.ClaimStrings{"anon"}
	badSub := valid()
	badSub.Subject = "not-a-uuid"
	noExp := valid()
	noExp.ExpiresAt = nil

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"bad signature", sign(jwt.SigningMethodHS256, []byte("other"), valid()), "bad signature"},
		{"expired", sign(jwt.SigningMethodHS256, []byte(testSecret), expired), "expired"},
		{"audience mismatch", sign(jwt.SigningMethodHS256, []byte(testSecret), wrongAud), "audience mismatch"},
		{"unparsable subject", sign(jwt.SigningMethodHS256, []byte(testSecret), badSub), "invalid subject"},
		{"missing expiry", sign(jwt.SigningMethodHS256, []byte(testSecret), noExp), "missing claim"},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, []byte(testSecret), valid()), "bad signature"},
		{"garbage", "not.a.jwt", "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := v.Verify(tt.token)
			if !errors.Is(err, domain.ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
			var authErr *Error
			if !errors.As(err, &authErr) || authErr.Reason != tt.reason {
				t.Fatalf("expected reason %q, got %v", tt.reason, err)
			}
		})
	}
}

func TestNewJWTVerifierRequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewJWTVerifier("  ", ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := IssueToken(testSecret, "", "nope", "", time.Hour, time.Now()); err == nil {
		t.Fatal("expected error for non-uuid subject")
	}
}

func TestGenerateSecret(t *testing.T) {
	t.Parallel()

	a, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateSecret()
	if a == b || len(a) < 40 {
		t.Fatalf("unexpected secrets %q %q", a, b)
	}
}
