package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/norne/arenanav/game/world"
	"github.com/norne/arenanav/scheduler"
)

// HealthHandler reports service liveness and a few counters.
type HealthHandler struct {
	arenas *world.Registry
	sched  *scheduler.Scheduler
}

// NewHealthHandler creates a HealthHandler. sched may be nil.
func NewHealthHandler(arenas *world.Registry, sched *scheduler.Scheduler) *HealthHandler {
	return &HealthHandler{arenas: arenas, sched: sched}
}

// Health returns server health counters.
// GET /api/health
func (h *HealthHandler) Health(c *gin.Context) {
	tasks := []string{}
	if h.sched != nil {
		tasks = h.sched.ListTickers()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_arenas":   h.arenas.Count(),
		"scheduler_tasks": tasks,
	})
}
