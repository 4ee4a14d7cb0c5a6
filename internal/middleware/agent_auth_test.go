package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentryscan/controller/internal/auth"
)

type fakeIdentity struct {
	rotation   int
	authorized bool
	tombstoned bool
	err        error
}

func (f *fakeIdentity) TokenRotation(ctx context.Context, agentID string) (int, bool, bool, error) {
	if f.err != nil {
		return 0, false, false, f.err
	}
	return f.rotation, f.authorized, f.tombstoned, nil
}

func newTestManager() *auth.JWTManager {
	return auth.NewJWTManager(&auth.JWTConfig{SecretKey: "test-secret-key-at-least-32-bytes!!", TokenDuration: time.Hour})
}

func runRequireAgentToken(t *testing.T, identity AgentIdentity, token, agentIDHeader string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	manager := newTestManager()
	authMw := NewAgentAuth(manager, identity)

	router := gin.New()
	router.GET("/jobs", authMw.RequireAgentToken(), func(c *gin.Context) {
		agentID, _ := c.Get("agent_id")
		c.JSON(http.StatusOK, gin.H{"agent_id": agentID})
	})

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if agentIDHeader != "" {
		req.Header.Set("X-Agent-ID", agentIDHeader)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequireAgentToken_MissingCredentials(t *testing.T) {
	w := runRequireAgentToken(t, &fakeIdentity{}, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAgentToken_HeaderMismatch(t *testing.T) {
	manager := newTestManager()
	token, err := manager.GenerateAgentToken("agent-1", 0)
	require.NoError(t, err)

	w := runRequireAgentToken(t, &fakeIdentity{authorized: true}, token, "agent-2")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// An unauthorized (not yet admin-approved) agent still authenticates here
// — it just never sees real jobs. That gate lives in the Jobs handler,
// which checks authorization after this middleware has already let the
// request through, so claim() can return an empty list instead of 403.
func TestRequireAgentToken_UnauthorizedAgentAccepted(t *testing.T) {
	manager := newTestManager()
	token, err := manager.GenerateAgentToken("agent-1", 0)
	require.NoError(t, err)

	w := runRequireAgentToken(t, &fakeIdentity{authorized: false}, token, "agent-1")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAgentToken_TombstonedAgentRejected(t *testing.T) {
	manager := newTestManager()
	token, err := manager.GenerateAgentToken("agent-1", 0)
	require.NoError(t, err)

	w := runRequireAgentToken(t, &fakeIdentity{authorized: true, tombstoned: true}, token, "agent-1")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireAgentToken_RotatedTokenRejected(t *testing.T) {
	manager := newTestManager()
	token, err := manager.GenerateAgentToken("agent-1", 0)
	require.NoError(t, err)

	w := runRequireAgentToken(t, &fakeIdentity{authorized: true, rotation: 1}, token, "agent-1")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAgentToken_ValidTokenAccepted(t *testing.T) {
	manager := newTestManager()
	token, err := manager.GenerateAgentToken("agent-1", 2)
	require.NoError(t, err)

	w := runRequireAgentToken(t, &fakeIdentity{authorized: true, rotation: 2}, token, "agent-1")
	assert.Equal(t, http.StatusOK, w.Code)
}
