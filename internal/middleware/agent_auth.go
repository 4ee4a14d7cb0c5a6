// Package middleware provides HTTP middleware for the Controller's three
// route groups.
//
// This file implements the Agent surface's authentication: a bearer JWT
// bound to the agent's current token-rotation epoch, with mutual-TLS
// accepted as an alternative when a client CA is configured. It protects
// the job/result endpoints (`/api/v1/agents/jobs...`); the heartbeat
// endpoint is deliberately left unauthenticated at this layer since it is
// the agent's first point of contact and must accept an agent_id the
// Controller has never seen before (spec: register_or_refresh creates an
// unauthorized record for an unknown agent rather than rejecting it).
//
// AUTHENTICATION FLOW:
//
//  1. If the connection presents a client certificate (mTLS) and a CA pool
//     was configured at startup, the certificate's Common Name is taken as
//     the agent_id. TLS already verified the chain; this layer only checks
//     the named agent has not been tombstoned.
//  2. Otherwise, the request must carry "Authorization: Bearer <token>" and
//     "X-Agent-ID: <id>" matching the token's agent_id claim.
//  3. The token's rotation epoch (`rot` claim) must match the agent's
//     current token_rotation column — a rotated or revoked token is
//     rejected even before its expiry.
//
// This layer deliberately does NOT reject a merely-unauthorized (not yet
// admin-approved) agent — only a tombstoned one. An unauthorized agent
// still needs to authenticate to reach GET /jobs and receive the empty
// job list it's entitled to (spec: claim() never reveals queued work to
// an unauthorized agent); that gate lives in the Jobs handler, not here.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentryscan/controller/internal/auth"
)

// AgentIdentity is the subset of the registry needed to authenticate an
// agent's bearer token or certificate without this package depending on
// the full registry type (avoids an import cycle with handlers/registry).
type AgentIdentity interface {
	TokenRotation(ctx context.Context, agentID string) (rotation int, authorized bool, tombstoned bool, err error)
}

// AgentAuth authenticates the Agent surface.
type AgentAuth struct {
	jwtManager *auth.JWTManager
	identity   AgentIdentity
}

// NewAgentAuth constructs an AgentAuth.
func NewAgentAuth(jwtManager *auth.JWTManager, identity AgentIdentity) *AgentAuth {
	return &AgentAuth{jwtManager: jwtManager, identity: identity}
}

// RequireAgentToken authenticates via mTLS first, falling back to the
// bearer JWT when no client certificate is presented.
func (a *AgentAuth) RequireAgentToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.TLS != nil && len(c.Request.TLS.PeerCertificates) > 0 {
			a.authenticateByCertificate(c)
			return
		}
		a.authenticateByToken(c)
	}
}

func (a *AgentAuth) authenticateByCertificate(c *gin.Context) {
	cert := c.Request.TLS.PeerCertificates[0]
	agentID := cert.Subject.CommonName
	if agentID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "client certificate Common Name must be the agent_id"})
		c.Abort()
		return
	}

	_, _, tombstoned, err := a.identity.TokenRotation(c.Request.Context(), agentID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "agent not known to controller"})
		c.Abort()
		return
	}
	if tombstoned {
		c.JSON(http.StatusForbidden, gin.H{"error": "agent has been deregistered"})
		c.Abort()
		return
	}

	c.Set("agent_id", agentID)
	c.Set("auth_method", "mtls")
	c.Next()
}

func (a *AgentAuth) authenticateByToken(c *gin.Context) {
	tokenString, ok := bearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing client certificate or Authorization header"})
		c.Abort()
		return
	}

	claims, err := a.jwtManager.ValidateToken(tokenString)
	if err != nil || claims.Surface != auth.SurfaceAgent {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired agent token"})
		c.Abort()
		return
	}

	headerAgentID := c.GetHeader("X-Agent-ID")
	if headerAgentID == "" || headerAgentID != claims.AgentID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "X-Agent-ID header does not match token"})
		c.Abort()
		return
	}

	rotation, _, tombstoned, err := a.identity.TokenRotation(c.Request.Context(), claims.AgentID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "agent not known to controller"})
		c.Abort()
		return
	}
	if tombstoned {
		c.JSON(http.StatusForbidden, gin.H{"error": "agent has been deregistered"})
		c.Abort()
		return
	}
	if rotation != claims.Rotation {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token has been rotated"})
		c.Abort()
		return
	}

	c.Set("agent_id", claims.AgentID)
	c.Set("auth_method", "bearer_token")
	c.Set("claims", claims)
	c.Next()
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}
