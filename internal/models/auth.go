package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorRole limits what a token holder may do over HTTP.
type OperatorRole string

const (
	// RoleAdmin may run repairs.
	RoleAdmin OperatorRole = "admin"
	// RoleViewer may only list jobs and diagnoses.
	RoleViewer OperatorRole = "viewer"
)

// Valid reports whether the role is known.
func (r OperatorRole) Valid() bool {
	return r == RoleAdmin || r == RoleViewer
}

// TokenRequest describes an operator token to mint.
type TokenRequest struct {
	Subject string        `json:"subject" validate:"required,max=100"`
	Role    OperatorRole  `json:"role" validate:"required,oneof=admin viewer"`
	TTL     time.Duration `json:"ttl" validate:"gte=0"`
}

// TokenResponse returns a signed operator token.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	IssuedAt    time.Time `json:"issued_at"`
}

// JWTClaims represents the JWT payload for operator tokens.
type JWTClaims struct {
	Role OperatorRole `json:"role"`
	jwt.RegisteredClaims
}
