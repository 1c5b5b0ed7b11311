package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSigningSecret = "secret"
	testIssuer        = "canvas-auth"
	testUserID        = "user-123"
)

func fixedTestClock() time.Time {
	return time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	validator, err := NewValidator(ValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Clock:         fixedTestClock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signClaims(t *testing.T, claims CredentialClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestValidatorAcceptsIssuedCredential(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Hour,
		Clock:         fixedTestClock,
	})
	if err != nil {
		t.Fatalf("unexpected issuer error: %v", err)
	}
	token, expiresAt, err := issuer.IssueCredential(context.Background(), testUserID, "Ada")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if !expiresAt.Equal(fixedTestClock().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	claims, err := newTestValidator(t).ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testUserID || claims.UserDisplayName != "Ada" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
}

func TestValidatorRejectsExpiredCredential(t *testing.T) {
	now := fixedTestClock()
	token := signClaims(t, CredentialClaims{
		UserID: testUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   testUserID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	}, testSigningSecret)

	_, err := newTestValidator(t).ValidateToken(token)
	if !errors.Is(err, ErrExpiredCredential) || !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired credential error, got %v", err)
	}
}

func TestValidatorRejectsForeignCredentials(t *testing.T) {
	now := fixedTestClock()
	valid := jwt.RegisteredClaims{
		Issuer:    testIssuer,
		Subject:   testUserID,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	otherIssuer := valid
	otherIssuer.Issuer = "someone-else"

	cases := map[string]string{
		"wrong secret": signClaims(t, CredentialClaims{UserID: testUserID, RegisteredClaims: valid}, "other"),
		"wrong issuer": signClaims(t, CredentialClaims{UserID: testUserID, RegisteredClaims: otherIssuer}, testSigningSecret),
		"garbage":      "not-a-jwt",
	}
	validator := newTestValidator(t)
	for name, token := range cases {
		if _, err := validator.ValidateToken(token); !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("%s: expected invalid credential, got %v", name, err)
		}
	}

	missingUser := signClaims(t, CredentialClaims{RegisteredClaims: valid}, testSigningSecret)
	if _, err := validator.ValidateToken(missingUser); !errors.Is(err, ErrMissingCredentialSub) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
	if _, err := validator.ValidateToken("  "); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing credential error, got %v", err)
	}
}

func TestValidatorValidateRequestUsesBearerHeader(t *testing.T) {
	now := fixedTestClock()
	token := signClaims(t, CredentialClaims{
		UserID: testUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   testUserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}, testSigningSecret)

	request := httptest.NewRequest(http.MethodGet, "/rooms/r1/document", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+token)

	validator := newTestValidator(t)
	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.UserID != testUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}

	request.Header.Set("Authorization", "Basic abc")
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing credential for non-bearer header, got %v", err)
	}
}

func TestNewTokenIssuerRequiresSecretAndIssuer(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{Issuer: testIssuer}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if _, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("s")}); err == nil {
		t.Fatalf("expected missing issuer error")
	}
}
