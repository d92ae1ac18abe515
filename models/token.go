package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrMissingClaim is returned when a required claim is missing
var ErrMissingClaim = errors.New("missing required claim")

// TokenPair holds the backend-issued credential pair. The access token is
// short-lived and attached to every request; the refresh token is long-lived
// and used only against the refresh endpoint. RefreshToken may be empty on a
// refresh response when the backend chose not to rotate it.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Claims is the raw JWT claim set carried by a Huddle access token
type Claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// AccessClaims is the parsed, typed view of an access token's claims
type AccessClaims struct {
	UserID    uuid.UUID
	OrgID     uuid.UUID
	Email     string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token's exp claim is in the past
func (c *AccessClaims) Expired() bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(c.ExpiresAt)
}

// ExtractClaims parses an access token's claims without verifying its
// signature. The backend remains the authority on token validity; this is a
// client-side peek used for expiry checks and the current org scope.
func ExtractClaims(tokenString string) (*AccessClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &Claims{}
	_, _, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return parseClaims(claims)
}

// parseClaims converts Claims to AccessClaims with proper type conversions
func parseClaims(claims *Claims) (*AccessClaims, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	sub, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid sub UUID: %w", err)
	}

	if claims.OrgID == "" {
		return nil, fmt.Errorf("%w: org_id", ErrMissingClaim)
	}
	orgID, err := uuid.Parse(claims.OrgID)
	if err != nil {
		return nil, fmt.Errorf("invalid org_id UUID: %w", err)
	}

	parsed := &AccessClaims{
		UserID: sub,
		OrgID:  orgID,
		Email:  claims.Email,
		Role:   Role(claims.Role),
	}

	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}

	return parsed, nil
}
