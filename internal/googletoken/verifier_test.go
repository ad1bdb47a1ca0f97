package googletoken

import (
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

const testClientID = "client-123.apps.googleusercontent.com"

func newJWKSServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=300")
		resp := map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, kid string, claims idTokenClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return signed
}

func googleClaims(email, picture string) idTokenClaims {
	return idTokenClaims{
		Email:         email,
		EmailVerified: true,
		Picture:       picture,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://accounts.google.com",
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
}

func TestNewVerifierRequiresClientID(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing client id to fail")
	}
}

func TestVerifyExtractsEmailAndPicture(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, "kid-1", &key.PublicKey)
	defer srv.Close()

	v, err := NewVerifier(Config{ClientID: testClientID, JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token := signIDToken(t, key, "kid-1", googleClaims("u@example.com", "https://lh3.example/p.png"))
	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Email != "u@example.com" || id.Picture != "https://lh3.example/p.png" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, "kid-1", &key.PublicKey)
	defer srv.Close()

	v, err := NewVerifier(Config{ClientID: testClientID, JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	claims := googleClaims("u@example.com", "")
	claims.Audience = jwt.ClaimStrings{"someone-else"}
	if _, err := v.Verify(signIDToken(t, key, "kid-1", claims)); !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected ErrInvalidIdentityToken, got %v", err)
	}
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, "kid-1", &key.PublicKey)
	defer srv.Close()

	v, err := NewVerifier(Config{ClientID: testClientID, JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	claims := googleClaims("u@example.com", "")
	claims.Issuer = "https://evil.example"
	if _, err := v.Verify(signIDToken(t, key, "kid-1", claims)); !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected ErrInvalidIdentityToken, got %v", err)
	}
}

func TestVerifyRejectsUnverifiedEmail(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, "kid-1", &key.PublicKey)
	defer srv.Close()

	v, err := NewVerifier(Config{ClientID: testClientID, JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	claims := googleClaims("u@example.com", "")
	claims.EmailVerified = false
	if _, err := v.Verify(signIDToken(t, key, "kid-1", claims)); !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected ErrInvalidIdentityToken, got %v", err)
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	foreign, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate foreign key: %v", err)
	}
	srv := newJWKSServer(t, "kid-1", &key.PublicKey)
	defer srv.Close()

	v, err := NewVerifier(Config{ClientID: testClientID, JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := v.Verify(signIDToken(t, foreign, "kid-1", googleClaims("u@example.com", ""))); !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected ErrInvalidIdentityToken, got %v", err)
	}
}
