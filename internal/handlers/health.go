package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentryscan/controller/internal/cache"
	"github.com/sentryscan/controller/internal/db"
)

// HealthHandler implements the three Kubernetes-style probes: alive, ready,
// and started. Grounded on the teacher's liveness/readiness split — alive
// never touches a dependency, ready and started both confirm Postgres (and
// Redis, when enabled) are reachable.
type HealthHandler struct {
	db        *db.Database
	cache     *cache.Cache
	startedAt time.Time
}

// NewHealthHandler wires the health probes to their dependencies.
func NewHealthHandler(database *db.Database, c *cache.Cache) *HealthHandler {
	return &HealthHandler{db: database, cache: c, startedAt: time.Now()}
}

// Alive handles GET /health/alive: the process is scheduling goroutines.
func (h *HealthHandler) Alive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Ready handles GET /health/ready: dependencies the Controller needs to
// serve correct responses are reachable.
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": "database unreachable"})
		return
	}
	if h.cache != nil && h.cache.IsEnabled() {
		if _, err := h.cache.GetStats(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": "cache unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Started handles GET /health/started: the process has completed its
// startup sequence (migrations run, listeners bound). Used as a one-shot
// probe by orchestrators with a slow-start grace period.
func (h *HealthHandler) Started(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "uptime_seconds": int(time.Since(h.startedAt).Seconds())})
}
