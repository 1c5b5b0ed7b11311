package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Resolve returns the principal for the provided credential claims, creating
// the identity mapping when the provider+subject pair has not been seen before.
func (s *Service) Resolve(ctx context.Context, claims auth.CredentialClaims) (Principal, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return Principal{}, ErrInvalidIdentity
	}
	displayName := normalize(claims.UserDisplayName)

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if principal, ok := cached.(Principal); ok && (displayName == "" || displayName == principal.DisplayName) {
			return principal, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			DisplayName: displayName,
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return Principal{}, err
		}
	} else if err != nil {
		return Principal{}, err
	} else {
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if displayName != "" && displayName != identity.DisplayName {
			updates["user_display_name"] = displayName
			identity.DisplayName = displayName
		}
		_ = s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error
	}

	principal := Principal{UserID: identity.UserID, DisplayName: identity.DisplayName}
	if principal.DisplayName == "" {
		principal.DisplayName = principal.UserID
	}
	s.cache.Store(cacheKey, principal)
	return principal, nil
}

func deriveProviderSubject(claims auth.CredentialClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}
	return provider, subject
}

// CredentialVerifier validates a credential and resolves it to a principal.
type CredentialVerifier struct {
	validator *auth.Validator
	service   *Service
}

// NewCredentialVerifier combines a validator and identity service.
func NewCredentialVerifier(validator *auth.Validator, service *Service) (*CredentialVerifier, error) {
	if validator == nil {
		return nil, errors.New("users: credential validator required")
	}
	if service == nil {
		return nil, errors.New("users: identity service required")
	}
	return &CredentialVerifier{validator: validator, service: service}, nil
}

// VerifyCredential returns the principal for a valid credential.
func (v *CredentialVerifier) VerifyCredential(ctx context.Context, token string) (Principal, error) {
	claims, err := v.validator.ValidateToken(token)
	if err != nil {
		return Principal{}, err
	}
	return v.service.Resolve(ctx, claims)
}
