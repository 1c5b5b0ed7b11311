package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

var (
	ErrMissingSigningKey    = errors.New("credential validator: signing key required")
	ErrMissingIssuer        = errors.New("credential validator: issuer required")
	ErrMissingCredential    = errors.New("credential validator: credential required")
	ErrInvalidCredential    = errors.New("credential validator: invalid credential")
	ErrExpiredCredential    = errors.New("credential validator: credential expired")
	ErrMissingCredentialSub = errors.New("credential validator: subject required")
)

// CredentialClaims is the JWT payload carried by a client credential.
type CredentialClaims struct {
	UserID          string `json:"user_id"`
	UserDisplayName string `json:"user_display_name,omitempty"`
	jwt.RegisteredClaims
}

// ValidatorConfig describes how to validate client credentials.
type ValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// Validator validates HS256 credentials.
type Validator struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewValidator constructs a validator with the provided configuration.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Validator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *Validator) ValidateToken(tokenString string) (CredentialClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return CredentialClaims{}, ErrMissingCredential
	}

	claims := &CredentialClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidCredential, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return CredentialClaims{}, fmt.Errorf("%w: %w", ErrExpiredCredential, err)
		}
		return CredentialClaims{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if parsed == nil || !parsed.Valid {
		return CredentialClaims{}, ErrInvalidCredential
	}
	if claims.Issuer != v.issuer {
		return CredentialClaims{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidCredential, claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.UserID) == "" {
		return CredentialClaims{}, ErrMissingCredentialSub
	}
	return *claims, nil
}

// ValidateRequest extracts the Bearer credential from the request and validates it.
func (v *Validator) ValidateRequest(r *http.Request) (CredentialClaims, error) {
	if r == nil {
		return CredentialClaims{}, ErrMissingCredential
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return CredentialClaims{}, ErrMissingCredential
	}
	return v.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
}
