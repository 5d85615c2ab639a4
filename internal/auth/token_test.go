package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")

	tok, err := v.Sign(AuthContext{UserID: "u1", Email: "a@example.com", Role: "admin"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ac, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ac.UserID != "u1" || ac.Role != "admin" || ac.Email != "a@example.com" {
		t.Errorf("got %+v", ac)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("test-secret")

	expired, _ := v.Sign(AuthContext{UserID: "u1"}, -time.Minute)
	wrongKey, _ := NewVerifier("other").Sign(AuthContext{UserID: "u1"}, time.Hour)
	noSubject, _ := v.Sign(AuthContext{}, time.Hour)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}).SignedString([]byte("test-secret"))
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"expired":    expired,
		"wrong key":  wrongKey,
		"no subject": noSubject,
		"no expiry":  noExpiry,
		"alg none":   none,
		"garbage":    "not.a.token",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(tok); err == nil {
				t.Error("expected error")
			}
		})
	}
}
