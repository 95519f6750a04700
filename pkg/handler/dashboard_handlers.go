// Dashboard HTTP handlers: the REST surface operators and UI clients use to
// drive sessions, plans, and execution.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/HavartiBard/chiffon-sub001/pkg/orchestrator"
	"github.com/HavartiBard/chiffon-sub001/pkg/service"
	"github.com/gin-gonic/gin"
)

// PollIntervalMS is advertised to polling clients via the X-Poll-Interval
// response header.
const PollIntervalMS = "2000"

// DashboardHandler handles dashboard REST requests.
type DashboardHandler struct {
	service *service.DashboardService
	logger  *slog.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(svc *service.DashboardService, logger *slog.Logger) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardHandler{
		service: svc,
		logger:  logger.With("component", "dashboard_handler"),
	}
}

// RegisterRoutes registers the dashboard routes.
func (h *DashboardHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/session", h.CreateSession)
	r.GET("/session/:id", h.GetSession)
	r.POST("/chat", h.Chat)

	plans := r.Group("/plan")
	{
		plans.GET("/:id", h.GetPlan)
		plans.POST("/:id/approve", h.Approve)
		plans.POST("/:id/reject", h.Reject)
		plans.POST("/:id/modify", h.Modify)
		plans.GET("/:id/status", h.Status)
		plans.GET("/:id/poll", h.Poll)
		plans.POST("/:id/abort", h.Abort)
	}

	r.POST("/events", h.IngestEvent)
}

// CreateSession creates a new chat session.
// POST /api/dashboard/session
func (h *DashboardHandler) CreateSession(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.service.CreateSession(req.UserID))
}

// GetSession returns a session snapshot.
// GET /api/dashboard/session/:id
func (h *DashboardHandler) GetSession(c *gin.Context) {
	sess, err := h.service.GetSession(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// Chat submits one user turn and returns the exchange plus the plan view.
// POST /api/dashboard/chat
func (h *DashboardHandler) Chat(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Message   string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Chat(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetPlan returns the formatted plan view.
// GET /api/dashboard/plan/:id
func (h *DashboardHandler) GetPlan(c *gin.Context) {
	view, err := h.service.PlanView(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Approve confirms a pending plan.
// POST /api/dashboard/plan/:id/approve
func (h *DashboardHandler) Approve(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.service.Approve(c.Request.Context(), c.Param("id"), req.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// Reject declines a pending plan.
// POST /api/dashboard/plan/:id/reject
func (h *DashboardHandler) Reject(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.service.Reject(c.Request.Context(), c.Param("id"), req.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// Modify requests changes to an existing plan.
// POST /api/dashboard/plan/:id/modify
func (h *DashboardHandler) Modify(c *gin.Context) {
	var req struct {
		PlanID      string `json:"plan_id"`
		SessionID   string `json:"session_id" binding:"required"`
		UserMessage string `json:"user_message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	planID := c.Param("id")
	if req.PlanID != "" {
		planID = req.PlanID
	}

	result, err := h.service.Modify(c.Request.Context(), planID, req.SessionID, req.UserMessage)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"new_plan": result.Plan, "messages": result.Messages})
}

// Status returns the reshaped execution status.
// GET /api/dashboard/plan/:id/status
func (h *DashboardHandler) Status(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      status.Status,
		"steps":       status.Steps,
		"last_update": status.LastUpdate,
	})
}

// Poll is Status plus a client polling-interval hint.
// GET /api/dashboard/plan/:id/poll
func (h *DashboardHandler) Poll(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("X-Poll-Interval", PollIntervalMS)
	c.JSON(http.StatusOK, gin.H{
		"overall_status": status.Status,
		"steps":          status.Steps,
		"last_update":    status.LastUpdate,
	})
}

// Abort cancels the session's active tasks.
// POST /api/dashboard/plan/:id/abort
func (h *DashboardHandler) Abort(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.service.Abort(c.Request.Context(), c.Param("id"), req.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// IngestEvent fans an externally-produced plan event out to subscribers.
// POST /api/dashboard/events
func (h *DashboardHandler) IngestEvent(c *gin.Context) {
	var req struct {
		PlanID            string         `json:"plan_id" binding:"required"`
		Event             string         `json:"event" binding:"required"`
		Data              map[string]any `json:"data"`
		OnlySubscriptions []string       `json:"only_subscriptions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.service.Broadcast(req.PlanID, req.Event, req.Data, req.OnlySubscriptions...)
	c.JSON(http.StatusOK, gin.H{"delivered": true})
}

// respondError maps service errors onto the HTTP surface: client mistakes are
// 4xx, an unreachable orchestrator is 502, and orchestrator-side rejections
// pass through with the upstream status and body.
func (h *DashboardHandler) respondError(c *gin.Context, err error) {
	var rejected *orchestrator.RejectedError
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case errors.Is(err, service.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message must not be empty"})
	case errors.Is(err, service.ErrNoActiveTasks):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No active tasks to abort"})
	case errors.As(err, &rejected):
		if len(rejected.Body) > 0 {
			c.Data(rejected.StatusCode, "application/json", rejected.Body)
		} else {
			c.JSON(rejected.StatusCode, gin.H{"error": "Orchestrator rejected request"})
		}
	case errors.Is(err, orchestrator.ErrUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Orchestrator unavailable"})
	default:
		h.logger.Error("unhandled dashboard error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
