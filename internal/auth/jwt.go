// Package auth provides authentication mechanisms for the Controller.
// This file implements JSON Web Token issuance and validation for the
// Agent and Scanner surfaces, using HMAC-SHA256 signing.
//
// TOKEN LIFECYCLE:
//
// 1. An agent registers by sending a heartbeat.
// 2. Every heartbeat response carries a freshly minted signed JWT with the
//    agent's id and a token rotation epoch, whether or not an admin has
//    authorized the agent yet.
// 3. The agent includes the token in every subsequent request's
//    Authorization header: "Bearer <token>".
// 4. middleware.RequireAgentToken validates the signature, expiration, and
//    that the token's rotation epoch still matches the agent row's
//    token_rotation column, without needing a revocation list. No
//    Controller endpoint changes that column.
//
// SECURITY:
//   - HMAC-SHA256 signing prevents token tampering.
//   - Algorithm is pinned to HS256 on parse; a token claiming any other
//     algorithm (including "none") is rejected before its claims are read.
//   - The signing key must be at least 256 bits, loaded from environment
//     configuration — never hardcoded.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds signing configuration for both the Agent and Scanner
// surfaces. A single secret key and issuer cover both surfaces; they are
// distinguished by the Surface claim on the token itself.
type JWTConfig struct {
	// SecretKey is the HMAC signing key. Must be cryptographically random
	// and at least 32 bytes. Load from JWT_SECRET, never hardcode.
	SecretKey string

	// Issuer identifies the Controller instance that minted the token.
	Issuer string

	// TokenDuration is how long a minted token remains valid before the
	// agent must re-authenticate via heartbeat to obtain a fresh one.
	TokenDuration time.Duration
}

// Surface distinguishes which trust domain a token was minted for.
type Surface string

const (
	SurfaceAgent   Surface = "agent"
	SurfaceScanner Surface = "scanner"
)

// Claims carries the identity and rotation epoch needed to validate an
// Agent or Scanner surface token. Deliberately minimal: no PII, no roles.
type Claims struct {
	AgentID  string  `json:"agent_id,omitempty"`
	Rotation int     `json:"rot"`
	Surface  Surface `json:"surface"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates tokens for both surfaces.
type JWTManager struct {
	config *JWTConfig
}

// NewJWTManager constructs a JWTManager. TokenDuration defaults to 24
// hours and Issuer to "sentryscan-controller" if left zero-valued.
func NewJWTManager(config *JWTConfig) *JWTManager {
	if config.TokenDuration == 0 {
		config.TokenDuration = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "sentryscan-controller"
	}
	return &JWTManager{config: config}
}

// GenerateAgentToken mints a token for the Agent surface, binding it to
// the agent's current rotation epoch so a later rotate/revoke invalidates
// every token issued before the bump.
func (m *JWTManager) GenerateAgentToken(agentID string, rotation int) (string, error) {
	return m.generate(agentID, rotation, SurfaceAgent)
}

// GenerateScannerToken mints an optional token for the Scanner surface
// (the upstream manager that creates scans). Scanner tokens carry no
// agent_id and are not subject to rotation invalidation.
func (m *JWTManager) GenerateScannerToken() (string, error) {
	return m.generate("", 0, SurfaceScanner)
}

func (m *JWTManager) generate(agentID string, rotation int, surface Surface) (string, error) {
	now := time.Now()
	claims := &Claims{
		AgentID:  agentID,
		Rotation: rotation,
		Surface:  surface,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TokenDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token's signature, expiration, and
// issuer, rejecting any signing method other than HMAC-SHA256.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.config.SecretKey), nil
	}, jwt.WithIssuer(m.config.Issuer))

	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

// GetTokenDuration returns the configured token lifetime.
func (m *JWTManager) GetTokenDuration() time.Duration {
	return m.config.TokenDuration
}
