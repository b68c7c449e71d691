package usertoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func TestVerifyReturnsIdentityAndRefreshesOnUnknownKid(t *testing.T) {
	key1 := mustRSAKey(t)
	key2 := mustRSAKey(t)

	active := "kid-1"
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		pub := key1.PublicKey
		if active == "kid-2" {
			pub = key2.PublicKey
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK(active, pub)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(context.Background(), Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	signed1 := signToken(t, key1, "kid-1", userClaims{
		RegisteredClaims: validClaims("user-a", "issuer-a", "aud-a"),
		Email:            "a@example.com",
		Role:             "user",
	})
	id, err := v.Verify(context.Background(), signed1)
	if err != nil {
		t.Fatalf("verify token1: %v", err)
	}
	if id.UserID != "user-a" || id.Email != "a@example.com" || id.Role != "user" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	// Rotate to kid-2; verifier should refresh JWKS on unknown kid and pass.
	active = "kid-2"
	signed2 := signToken(t, key2, "kid-2", userClaims{RegisteredClaims: validClaims("user-b", "issuer-a", "aud-a")})
	id, err = v.Verify(context.Background(), signed2)
	if err != nil || id.UserID != "user-b" {
		t.Fatalf("verify token2 failed: id=%+v err=%v", id, err)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	key := mustRSAKey(t)
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(context.Background(), Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "aud-a", Leeway: 5 * time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	futureIat := validClaims("user-1", "issuer-a", "aud-a")
	futureIat.IssuedAt = jwt.NewNumericDate(time.Now().Add(2 * time.Minute))
	wrongAudience := validClaims("user-1", "issuer-a", "other")
	noSubject := validClaims("", "issuer-a", "aud-a")

	cases := map[string]string{
		"future iat":     signToken(t, key, "kid-1", userClaims{RegisteredClaims: futureIat}),
		"wrong audience": signToken(t, key, "kid-1", userClaims{RegisteredClaims: wrongAudience}),
		"no subject":     signToken(t, key, "kid-1", userClaims{RegisteredClaims: noSubject}),
		"garbage":        "not-a-jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestParseCacheMaxAge(t *testing.T) {
	if got := parseCacheMaxAge("public, max-age=120"); got != 2*time.Minute {
		t.Fatalf("max-age = %v", got)
	}
	if got := parseCacheMaxAge("no-store"); got != 0 {
		t.Fatalf("expected 0 for missing max-age, got %v", got)
	}
}

func mustRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func validClaims(subject, issuer, audience string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims userClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
