package token

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-value-not-for-production"

func sign(t *testing.T, claims *Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestVerifyRoundTrip(t *testing.T) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Sub:        "u-123",
		Username:   "alice",
		ProfilePic: base64.StdEncoding.EncodeToString([]byte("avatar-bytes")),
	}
	raw := sign(t, claims)

	v := NewVerifier([]byte(testSecret))
	id, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "u-123" || id.Username != "alice" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if string(id.ProfilePic) != "avatar-bytes" {
		t.Fatalf("profile pic not decoded: %q", id.ProfilePic)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		},
		Sub:      "u-1",
		Username: "bob",
	}
	raw := sign(t, claims)

	v := NewVerifier([]byte(testSecret))
	if _, err := v.Verify(raw); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Sub:      "u-1",
		Username: "bob",
	}
	raw := sign(t, claims)

	v := NewVerifier([]byte("a-completely-different-secret"))
	if _, err := v.Verify(raw); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestVerifyRejectsFutureNotBefore(t *testing.T) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			NotBefore: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Sub:      "u-1",
		Username: "bob",
	}
	raw := sign(t, claims)

	v := NewVerifier([]byte(testSecret))
	if _, err := v.Verify(raw); err == nil {
		t.Fatal("expected error for not-yet-valid token")
	}
}

func TestVerifyRejectsMissingUsername(t *testing.T) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Sub: "u-1",
	}
	raw := sign(t, claims)

	v := NewVerifier([]byte(testSecret))
	if _, err := v.Verify(raw); err == nil {
		t.Fatal("expected error for missing username claim")
	}
}

func TestVerifyErrorTextUsableInWireFrame(t *testing.T) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
		Sub:      "u-1",
		Username: "bob",
	}
	raw := sign(t, claims)

	v := NewVerifier([]byte(testSecret))
	_, err := v.Verify(raw)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() == "" {
		t.Fatal("expected non-empty error text for wire frame")
	}
}
