package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sentryscan/controller/internal/configsvc"
	apperrors "github.com/sentryscan/controller/internal/errors"
	"github.com/sentryscan/controller/internal/models"
	"github.com/sentryscan/controller/internal/registry"
	"github.com/sentryscan/controller/internal/validator"
)

// AdminHandler implements the Admin surface: fleet visibility, agent
// authorization/bulk update, soft-delete, and global scan-agent config.
type AdminHandler struct {
	registry *registry.Registry
	config   *configsvc.Service
}

// NewAdminHandler wires the Admin surface to its collaborators.
func NewAdminHandler(reg *registry.Registry, cfg *configsvc.Service) *AdminHandler {
	return &AdminHandler{registry: reg, config: cfg}
}

// ListAgents handles GET /api/v1/admin/agents.
func (h *AdminHandler) ListAgents(c *gin.Context) {
	filter := models.AgentListFilter{
		Liveness:       c.Query("liveness"),
		HostnamePrefix: c.Query("hostnamePrefix"),
		Page:           1,
		PageSize:       DefaultAgentPageSize,
	}
	if v := c.Query("authorized"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, apperrors.InvalidRequest("authorized must be true or false"))
			return
		}
		filter.Authorized = &b
	}
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Page = n
		}
	}
	if v := c.Query("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= MaxAgentPageSize {
			filter.PageSize = n
		}
	}

	agents, total, err := h.registry.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agents":   agents,
		"total":    total,
		"page":     filter.Page,
		"pageSize": filter.PageSize,
	})
}

// UpdateAgents handles PATCH /api/v1/admin/agents: a bulk partial update
// over {authorized, update_to_latest}.
func (h *AdminHandler) UpdateAgents(c *gin.Context) {
	var patch models.AgentPatch
	if !validator.BindAndValidate(c, &patch) {
		return
	}
	if len(patch.AgentIDs) == 0 {
		respondError(c, apperrors.InvalidRequest("agentIds must be non-empty"))
		return
	}

	if err := h.registry.Update(c.Request.Context(), patch); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(patch.AgentIDs)})
}

// DeleteAgents handles POST /api/v1/admin/agents/delete: a bulk soft
// delete. Modeled as a POST rather than DELETE-with-body since the batch
// of target IDs is the request payload.
func (h *AdminHandler) DeleteAgents(c *gin.Context) {
	var req models.AgentDeleteRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if len(req.AgentIDs) == 0 {
		respondError(c, apperrors.InvalidRequest("agentIds must be non-empty"))
		return
	}

	if err := h.registry.Delete(c.Request.Context(), req.AgentIDs); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": len(req.AgentIDs)})
}

// GetConfig handles GET /api/v1/admin/scan-agent-config.
func (h *AdminHandler) GetConfig(c *gin.Context) {
	current, err := h.config.Current(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, current)
}

// PutConfig handles PUT /api/v1/admin/scan-agent-config. When the request
// carries an agentId it writes a per-agent override instead of bumping the
// global version.
func (h *AdminHandler) PutConfig(c *gin.Context) {
	var req models.ConfigPutRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	if req.AgentID != "" {
		if err := h.config.PutOverride(c.Request.Context(), req.AgentID, req.Payload); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"agentId": req.AgentID, "status": "ok"})
		return
	}

	cfg, err := h.config.Put(c.Request.Context(), req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
