// Package auth provides authentication mechanisms for the Controller.
// This file implements gin middleware for the Admin and Scanner surfaces.
// The Agent surface's middleware lives in internal/middleware/agent_auth.go
// instead, since it needs mTLS-or-token fallback and its own registry
// dependency — the same split the teacher draws between its JWT-based
// user auth (here) and its separate agent API-key middleware.
//
// CONTEXT KEYS:
//   - "claims": *Claims set by OptionalScannerToken when a token is present
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OptionalScannerToken validates a bearer JWT for the Scanner surface when
// present, but allows the request through unauthenticated when absent,
// per the surface's optional-auth requirement.
func OptionalScannerToken(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil || claims.Surface != SurfaceScanner {
			c.Next()
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func abortUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": message})
	c.Abort()
}

// AdminKeyStore holds the Admin surface's single static API key, bcrypt
// hashed at rest (cost 12, the BcryptCost used by HashAPIKey in
// agent_apikey.go — admin calls are low-frequency so the slower hash is
// affordable). RawKeyHash, when set, is a SHA-256 hex digest of the raw
// key. RequireAdminKey compares it in constant time first and admits the
// request on a match without running the bcrypt check; only a key whose
// digest does not match goes on to the bcrypt comparison.
type AdminKeyStore struct {
	BcryptHash string
	RawKeyHash string
}

// RequireAdminKey validates the Admin surface's static API key, supplied
// as "Authorization: Bearer <key>" or "X-API-Key: <key>".
func RequireAdminKey(store *AdminKeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			if tok, ok := bearerToken(c); ok {
				key = tok
			}
		}
		if key == "" {
			abortUnauthorized(c, "missing API key")
			return
		}

		if store.RawKeyHash != "" {
			digest := sha256.Sum256([]byte(key))
			provided := hex.EncodeToString(digest[:])
			if subtle.ConstantTimeCompare([]byte(provided), []byte(store.RawKeyHash)) == 1 {
				c.Next()
				return
			}
		}

		if !CompareAPIKey(key, store.BcryptHash) {
			abortUnauthorized(c, "invalid API key")
			return
		}
		c.Next()
	}
}
