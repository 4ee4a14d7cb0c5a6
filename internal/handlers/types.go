// Package handlers implements the three HTTP surfaces the Controller
// exposes: Scanner (scan lifecycle), Admin (fleet management), and Agent
// (heartbeat, job claim, result submission).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/sentryscan/controller/internal/errors"
	"github.com/sentryscan/controller/internal/middleware"
)

// respondError writes an AppError as the standard error envelope, stamping
// whatever request ID the RequestID middleware attached.
func respondError(c *gin.Context, err error) {
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		appErr = apperrors.InternalError(err.Error())
	}
	c.JSON(appErr.StatusCode, appErr.ToEnvelope(middleware.GetRequestID(c)))
}

// requireAgentID pulls the authenticated agent identity set by
// middleware.AgentAuth. Handlers on the Agent surface call this first;
// its absence indicates a middleware wiring bug, not a client error.
func requireAgentID(c *gin.Context) (string, bool) {
	v, exists := c.Get("agent_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, apperrors.Unauthorized("missing agent identity").ToEnvelope(middleware.GetRequestID(c)))
		return "", false
	}
	agentID, ok := v.(string)
	if !ok || agentID == "" {
		c.JSON(http.StatusUnauthorized, apperrors.Unauthorized("missing agent identity").ToEnvelope(middleware.GetRequestID(c)))
		return "", false
	}
	return agentID, true
}
