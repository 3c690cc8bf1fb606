package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bankfeed/internal/queue"
	"bankfeed/internal/scheduler"
)

// TriggerHandler exposes the two enqueue-only entry points: the external
// scheduler's periodic tick and the per-connection manual trigger.
type TriggerHandler struct {
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
	SyncToken string
}

func (h *TriggerHandler) Register(api *gin.RouterGroup) {
	api.POST("/sync/run", RequireSyncToken(h.SyncToken), h.runDue)
	api.POST("/connections/:id/sync", h.manualSync)
}

func (h *TriggerHandler) runDue(c *gin.Context) {
	summary, err := h.Scheduler.RunDue(c.Request.Context())
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("scheduled trigger failed", zap.Error(err))
		}
		Error(c, http.StatusInternalServerError, "scheduler run failed", nil)
		return
	}
	Ok(c, summary, nil)
}

type manualSyncRequest struct {
	Priority *int `json:"priority"`
}

func (h *TriggerHandler) manualSync(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid connection id", nil)
		return
	}

	var req manualSyncRequest
	_ = c.ShouldBindJSON(&req)
	priority := queue.PriorityManual
	if req.Priority != nil {
		priority = *req.Priority
	}

	jobID, err := h.Scheduler.EnqueueSync(c.Request.Context(), uint(id), priority)
	if errors.Is(err, scheduler.ErrConnectionNotSyncable) {
		Error(c, http.StatusNotFound, "connection not found or disconnected", nil)
		return
	}
	if err != nil {
		Error(c, http.StatusInternalServerError, "enqueue failed", nil)
		return
	}
	Accepted(c, gin.H{"job_id": jobID})
}
