package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bankfeed/internal/queue"
)

// StatusHandler reports queue depth per queue and the dead set, the
// observability read side of the job store.
type StatusHandler struct {
	Store  queue.Store
	Queues []string
}

func (h *StatusHandler) Register(api *gin.RouterGroup) {
	api.GET("/queues", h.list)
	api.GET("/queues/:name/dead", h.dead)
}

func (h *StatusHandler) list(c *gin.Context) {
	out := make([]queue.Stats, 0, len(h.Queues))
	for _, name := range h.Queues {
		stats, err := h.Store.Stats(c.Request.Context(), name)
		if err != nil {
			Error(c, http.StatusInternalServerError, "stats failed", map[string]any{"queue": name})
			return
		}
		out = append(out, stats)
	}
	Ok(c, out, nil)
}

func (h *StatusHandler) dead(c *gin.Context) {
	name := c.Param("name")
	known := false
	for _, q := range h.Queues {
		if q == name {
			known = true
			break
		}
	}
	if !known {
		Error(c, http.StatusNotFound, "unknown queue", nil)
		return
	}
	jobs, err := h.Store.DeadJobs(c.Request.Context(), name, 100)
	if err != nil {
		Error(c, http.StatusInternalServerError, "dead jobs failed", nil)
		return
	}
	Ok(c, jobs, map[string]any{"count": len(jobs)})
}
