// Package token verifies the HS256 bearer tokens presented as the first
// frame after a connection is accepted. Token issuance lives outside this
// module; this package only validates.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the set of fields the core reads off a verified token.
// ProfilePic arrives base64-encoded on the wire and is decoded to an opaque
// blob; the core never interprets its contents.
type Claims struct {
	jwt.RegisteredClaims

	Sub        string   `json:"sub"`
	Username   string   `json:"username"`
	ProfilePic string   `json:"profile_pic"`
	DeviceID   string   `json:"device_id,omitempty"`
	AllowedIPs []string `json:"allowed_ips,omitempty"`
}

// Identity is what a verified token resolves to.
type Identity struct {
	UserID     string
	Username   string
	ProfilePic []byte
	DeviceID   string
	AllowedIPs []string
}

// Error wraps a verification failure. Its Error() text is used verbatim in
// the wire-level "ERROR :Authentication failed: <reason>" frame, so keep it
// short and free of internal details.
type Error struct {
	reason string
}

func (e *Error) Error() string { return e.reason }

func authErr(reason string) *Error { return &Error{reason: reason} }

// Verifier validates HS256 bearer tokens against a server-wide secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier bound to secret. The secret is not copied
// defensively; callers should not mutate the slice they pass in.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates raw, returning the resolved Identity on
// success. Every failure path returns an *Error, never a bare library error,
// so callers can format the wire-level ERROR line directly from err.Error().
func (v *Verifier) Verify(raw string) (*Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, authErr("token expired")
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, authErr("token not yet valid")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, authErr("bad signature")
		default:
			return nil, authErr("malformed token")
		}
	}
	if !parsed.Valid {
		return nil, authErr("invalid token")
	}

	if claims.Sub == "" {
		return nil, authErr("missing sub claim")
	}
	if claims.Username == "" {
		return nil, authErr("missing username claim")
	}
	if claims.ExpiresAt == nil {
		return nil, authErr("missing exp claim")
	}
	now := time.Now()
	if !claims.ExpiresAt.After(now) {
		return nil, authErr("token expired")
	}
	if claims.NotBefore != nil && !claims.NotBefore.Before(now) {
		return nil, authErr("token not yet valid")
	}

	var profilePic []byte
	if claims.ProfilePic != "" {
		decoded, err := base64.StdEncoding.DecodeString(claims.ProfilePic)
		if err != nil {
			return nil, authErr("bad profile_pic encoding")
		}
		profilePic = decoded
	}

	return &Identity{
		UserID:     claims.Sub,
		Username:   claims.Username,
		ProfilePic: profilePic,
		DeviceID:   claims.DeviceID,
		AllowedIPs: claims.AllowedIPs,
	}, nil
}
