package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestResolveStripsProviderPrefix(t *testing.T) {
	service, db := newTestService(t)

	claims := auth.CredentialClaims{
		UserID:          "google:12345",
		UserDisplayName: "Example User",
	}
	principal, err := service.Resolve(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if principal.UserID != "12345" || principal.DisplayName != "Example User" {
		t.Fatalf("unexpected principal %#v", principal)
	}

	principal, err = service.Resolve(context.Background(), claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if principal.UserID != "12345" {
		t.Fatalf("expected canonical user id to remain stable, got %q", principal.UserID)
	}

	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single identity record, got %d", count)
	}
}

func TestResolveUpdatesDisplayName(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Resolve(ctx, auth.CredentialClaims{UserID: "u-1"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	principal, err := service.Resolve(ctx, auth.CredentialClaims{UserID: "u-1", UserDisplayName: "Grace"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if principal.DisplayName != "Grace" {
		t.Fatalf("expected display name update, got %q", principal.DisplayName)
	}
}

func TestResolveRejectsEmptyClaims(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.Resolve(context.Background(), auth.CredentialClaims{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestCredentialVerifierResolvesIssuedCredential(t *testing.T) {
	service, _ := newTestService(t)
	validator, err := auth.NewValidator(auth.ValidatorConfig{SigningSecret: []byte("secret"), Issuer: "canvas-auth"})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: "canvas-auth"})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	verifier, err := NewCredentialVerifier(validator, service)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	token, _, err := issuer.IssueCredential(context.Background(), "ada", "Ada")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	principal, err := verifier.VerifyCredential(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if principal.UserID != "ada" || principal.DisplayName != "Ada" {
		t.Fatalf("unexpected principal %#v", principal)
	}

	if _, err := verifier.VerifyCredential(context.Background(), token+"x"); !errors.Is(err, auth.ErrInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
}
