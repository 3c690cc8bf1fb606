package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bankfeed/internal/models"
	"bankfeed/internal/queue"
	"bankfeed/internal/repository"
	"bankfeed/internal/scheduler"
)

// ConnectionHandler is the thin management surface around connection records:
// listing with sync freshness, explicit reconnect/disconnect, and the read
// side of merged transactions.
type ConnectionHandler struct {
	Repo      repository.Repository
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
	Staleness time.Duration
}

func (h *ConnectionHandler) Register(api *gin.RouterGroup) {
	api.GET("/connections", h.list)
	api.GET("/connections/:id", h.get)
	api.POST("/connections/:id/reconnect", h.reconnect)
	api.DELETE("/connections/:id", h.disconnect)
	api.GET("/connections/:id/transactions", h.transactions)
}

type connectionView struct {
	models.Connection
	FreshnessSeconds *int64 `json:"freshness_seconds,omitempty"`
	Stale            bool   `json:"stale"`
}

func (h *ConnectionHandler) view(conn models.Connection) connectionView {
	v := connectionView{Connection: conn}
	if conn.LastSyncAt != nil {
		age := int64(time.Since(*conn.LastSyncAt).Seconds())
		v.FreshnessSeconds = &age
		v.Stale = h.Staleness > 0 && time.Since(*conn.LastSyncAt) > h.Staleness
	} else {
		v.Stale = true
	}
	return v
}

func (h *ConnectionHandler) list(c *gin.Context) {
	conns, err := h.Repo.ListConnections(c.Request.Context(), nil)
	if err != nil {
		Error(c, http.StatusInternalServerError, "list connections failed", nil)
		return
	}
	out := make([]connectionView, 0, len(conns))
	for _, conn := range conns {
		out = append(out, h.view(conn))
	}
	Ok(c, out, map[string]any{"count": len(out)})
}

func (h *ConnectionHandler) load(c *gin.Context) *models.Connection {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid connection id", nil)
		return nil
	}
	conn, err := h.Repo.GetConnection(c.Request.Context(), uint(id))
	if err != nil {
		Error(c, http.StatusInternalServerError, "load connection failed", nil)
		return nil
	}
	if conn == nil {
		Error(c, http.StatusNotFound, "connection not found", nil)
		return nil
	}
	return conn
}

func (h *ConnectionHandler) get(c *gin.Context) {
	conn := h.load(c)
	if conn == nil {
		return
	}
	Ok(c, h.view(*conn), nil)
}

// reconnect clears the action-required state after the user refreshed their
// credentials at the provider, then kicks off an immediate sync.
func (h *ConnectionHandler) reconnect(c *gin.Context) {
	conn := h.load(c)
	if conn == nil {
		return
	}
	err := h.Repo.UpdateConnectionStatus(c.Request.Context(), conn.ID, models.ConnectionConnected, nil, nil)
	if err != nil {
		Error(c, http.StatusInternalServerError, "reconnect failed", nil)
		return
	}
	jobID := ""
	if h.Scheduler != nil {
		jobID, err = h.Scheduler.EnqueueSync(c.Request.Context(), conn.ID, queue.PriorityManual)
		if err != nil && h.Logger != nil {
			h.Logger.Warn("post-reconnect sync enqueue failed", zap.Uint("connection_id", conn.ID), zap.Error(err))
		}
	}
	Ok(c, gin.H{"status": models.ConnectionConnected, "job_id": jobID}, nil)
}

func (h *ConnectionHandler) disconnect(c *gin.Context) {
	conn := h.load(c)
	if conn == nil {
		return
	}
	err := h.Repo.UpdateConnectionStatus(c.Request.Context(), conn.ID, models.ConnectionDisconnected, nil, nil)
	if err != nil {
		Error(c, http.StatusInternalServerError, "disconnect failed", nil)
		return
	}
	Ok(c, gin.H{"status": models.ConnectionDisconnected}, nil)
}

func (h *ConnectionHandler) transactions(c *gin.Context) {
	conn := h.load(c)
	if conn == nil {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	params := repository.ListTransactionsParams{
		ConnectionID:   conn.ID,
		IncludeRemoved: c.Query("include_removed") == "true",
		Limit:          limit,
		Offset:         offset,
	}
	items, err := h.Repo.ListTransactions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusInternalServerError, "list transactions failed", nil)
		return
	}
	total, err := h.Repo.CountTransactions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusInternalServerError, "count transactions failed", nil)
		return
	}
	Ok(c, items, map[string]any{"total": total, "limit": limit, "offset": offset})
}
