package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentryscan/controller/internal/auth"
	"github.com/sentryscan/controller/internal/configsvc"
	"github.com/sentryscan/controller/internal/dispatcher"
	apperrors "github.com/sentryscan/controller/internal/errors"
	"github.com/sentryscan/controller/internal/ingestor"
	"github.com/sentryscan/controller/internal/logger"
	"github.com/sentryscan/controller/internal/models"
	"github.com/sentryscan/controller/internal/registry"
	"github.com/sentryscan/controller/internal/validator"
)

// AgentHandler implements the Agent surface: unauthenticated heartbeat,
// then token-gated job claim and result submission.
type AgentHandler struct {
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	ingestor   *ingestor.Ingestor
	config     *configsvc.Service
	jwtManager *auth.JWTManager
}

// NewAgentHandler wires the Agent surface to its collaborators.
func NewAgentHandler(reg *registry.Registry, disp *dispatcher.Dispatcher, ing *ingestor.Ingestor, cfg *configsvc.Service, jwtManager *auth.JWTManager) *AgentHandler {
	return &AgentHandler{registry: reg, dispatcher: disp, ingestor: ing, config: cfg, jwtManager: jwtManager}
}

// Heartbeat handles POST /api/v1/agents/heartbeat. It is intentionally
// unauthenticated: an agent's first heartbeat IS its registration, and
// every subsequent one proves liveness. The response always carries a
// bearer token for the Agent surface's token-gated endpoints — nothing
// else in the protocol hands the agent its credential, and an
// unauthorized agent still needs one to reach GET /jobs and receive the
// empty `{jobs: []}` response it's entitled to (Jobs gates the claim
// result on authorization, not the token check). Authorization only ever
// changes what the token is good for, never whether one is issued.
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	agentID := c.GetHeader("X-Agent-ID")
	if agentID == "" {
		respondError(c, apperrors.InvalidRequest("X-Agent-ID header is required"))
		return
	}

	var req models.HeartbeatRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	agent, err := h.registry.RegisterOrRefresh(c.Request.Context(), agentID, req.DeclaredAttrs)
	if err != nil {
		respondError(c, err)
		return
	}

	snapshot, err := h.config.SnapshotFor(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	intervalSeconds, _ := h.config.EffectiveHeartbeatPolicy(c.Request.Context(), agentID)

	resp := models.HeartbeatResponse{
		Status:                 "accepted",
		ConfigUpdated:          agent.ConfigVersionSeen < snapshot.Version,
		NextHeartbeatInSeconds: intervalSeconds,
		Authorized:             agent.Authorized,
	}

	body := gin.H{
		"status":                    resp.Status,
		"config_updated":            resp.ConfigUpdated,
		"next_heartbeat_in_seconds": resp.NextHeartbeatInSeconds,
		"authorized":                resp.Authorized,
	}
	token, err := h.jwtManager.GenerateAgentToken(agentID, agent.TokenRotation)
	if err != nil {
		logger.HTTP().Error().Err(err).Str("agent_id", agentID).Msg("failed to mint agent token")
	} else {
		body["token"] = token
	}
	c.JSON(http.StatusOK, body)
}

// Jobs handles GET /api/v1/agents/jobs: claim up to DefaultJobClaimLimit
// queued jobs for the authenticated agent. An agent that has a valid
// token but hasn't been authorized by an admin yet always gets back an
// empty job list — it never learns whether work is queued for it.
func (h *AgentHandler) Jobs(c *gin.Context) {
	agentID, ok := requireAgentID(c)
	if !ok {
		return
	}

	_, authorized, _, err := h.registry.TokenRotation(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !authorized {
		c.JSON(http.StatusOK, models.JobsResponse{Jobs: []models.JobView{}})
		return
	}

	jobs, err := h.dispatcher.Claim(c.Request.Context(), agentID, DefaultJobClaimLimit)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]models.JobView, 0, len(jobs))
	for _, job := range jobs {
		view := models.JobView{
			JobID:      job.ID,
			ScanID:     job.ScanID,
			ConfigBlob: job.ConfigBlob,
		}
		if job.DeadlineAt != nil {
			view.DeadlineAt = job.DeadlineAt.Format("2006-01-02T15:04:05Z07:00")
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, models.JobsResponse{Jobs: views})
}

// SubmitResults handles POST /api/v1/agents/jobs/{id}/results.
func (h *AgentHandler) SubmitResults(c *gin.Context) {
	agentID, ok := requireAgentID(c)
	if !ok {
		return
	}
	jobID := c.Param("id")

	var req models.SubmitResultsRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	if err := h.ingestor.Submit(c.Request.Context(), jobID, agentID, req.BatchSequence, req.Results); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "count": len(req.Results)})
}

// CompleteJob handles POST /api/v1/agents/jobs/{id}/complete.
func (h *AgentHandler) CompleteJob(c *gin.Context) {
	agentID, ok := requireAgentID(c)
	if !ok {
		return
	}
	jobID := c.Param("id")

	var req models.JobCompleteRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	if err := h.ingestor.Finalize(c.Request.Context(), jobID, agentID, req.Outcome, req.Summary); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Config handles GET /api/v1/agents/config: the agent's current effective
// configuration snapshot, layering any per-agent override on the global
// version.
func (h *AgentHandler) Config(c *gin.Context) {
	agentID, ok := requireAgentID(c)
	if !ok {
		return
	}
	snapshot, err := h.config.SnapshotFor(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
