package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"socialpulse.app/autopilot/internal/engine"
	"socialpulse.app/autopilot/internal/model"
	"socialpulse.app/autopilot/internal/store"
)

type AutomationHandler struct {
	scheduler   *engine.Scheduler
	processed   store.ProcessedCommentStore
	activity    store.ActivityLogStore
	adminAPIKey string
}

func NewAutomationHandler(
	scheduler *engine.Scheduler,
	processed store.ProcessedCommentStore,
	activity store.ActivityLogStore,
	adminAPIKey string,
) *AutomationHandler {
	return &AutomationHandler{
		scheduler:   scheduler,
		processed:   processed,
		activity:    activity,
		adminAPIKey: adminAPIKey,
	}
}

// Start launches the poll loop
func (h *AutomationHandler) Start(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.scheduler.Start(ctx); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "automation is already running"})
			return
		}
		slog.ErrorContext(ctx, "failed to start automation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start automation"})
		return
	}

	c.JSON(http.StatusOK, toStatusResponse(h.scheduler.Status()))
}

// Stop halts the poll loop, waiting out any in-flight cycle. Idempotent.
func (h *AutomationHandler) Stop(c *gin.Context) {
	ctx := c.Request.Context()
	h.scheduler.Stop(ctx)
	c.JSON(http.StatusOK, toStatusResponse(h.scheduler.Status()))
}

type statusResponse struct {
	Running        bool           `json:"running"`
	LastCheckTime  *string        `json:"last_check_time,omitempty"`
	Stats          model.Stats    `json:"stats"`
	Config         configResponse `json:"config"`
	PendingCount   int            `json:"pending_count"`
	ProcessedCount int            `json:"processed_count"`
	IsProcessing   bool           `json:"is_processing"`
}

type configResponse struct {
	Tone                string   `json:"tone"`
	PollIntervalSeconds int      `json:"poll_interval_seconds"`
	MonitorAll          bool     `json:"monitor_all"`
	SelectedPostIDs     []string `json:"selected_post_ids"`
	MaxCommentsPerCycle int      `json:"max_comments_per_cycle"`
}

// Status reports the live automation state
func (h *AutomationHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, toStatusResponse(h.scheduler.Status()))
}

type updateConfigRequest struct {
	Tone                *string   `json:"tone"`
	PollIntervalSeconds *int      `json:"poll_interval_seconds"`
	MonitorAll          *bool     `json:"monitor_all"`
	SelectedPostIDs     *[]string `json:"selected_post_ids"`
	MaxCommentsPerCycle *int      `json:"max_comments_per_cycle"`
}

// UpdateConfig applies a partial config change. Omitted fields keep their
// current values; changes take effect from the next cycle.
func (h *AutomationHandler) UpdateConfig(c *gin.Context) {
	ctx := c.Request.Context()

	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.PollIntervalSeconds != nil && *req.PollIntervalSeconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "poll_interval_seconds must be positive"})
		return
	}
	if req.MaxCommentsPerCycle != nil && *req.MaxCommentsPerCycle <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_comments_per_cycle must be positive"})
		return
	}

	cfg := h.scheduler.UpdateConfig(ctx, func(cfg *model.AutomationConfig) {
		if req.Tone != nil {
			cfg.Tone = *req.Tone
		}
		if req.PollIntervalSeconds != nil {
			cfg.PollInterval = time.Duration(*req.PollIntervalSeconds) * time.Second
		}
		if req.MonitorAll != nil {
			cfg.MonitorAll = *req.MonitorAll
		}
		if req.SelectedPostIDs != nil {
			cfg.SelectedPostIDs = *req.SelectedPostIDs
		}
		if req.MaxCommentsPerCycle != nil {
			cfg.MaxCommentsPerCycle = *req.MaxCommentsPerCycle
		}
	})

	c.JSON(http.StatusOK, toConfigResponse(cfg))
}

// ResetStats zeroes the engine counters (admin only)
func (h *AutomationHandler) ResetStats(c *gin.Context) {
	ctx := c.Request.Context()
	h.scheduler.ResetStats(ctx)
	c.JSON(http.StatusOK, gin.H{"stats": h.scheduler.Status().Stats})
}

type activityEntryResponse struct {
	ID        int64   `json:"id"`
	Type      string  `json:"type"`
	CommentID *string `json:"comment_id,omitempty"`
	PostID    *string `json:"post_id,omitempty"`
	Message   string  `json:"message"`
	CreatedAt string  `json:"created_at"`
}

// Activity lists the most recent activity-log entries, newest first
func (h *AutomationHandler) Activity(c *gin.Context) {
	ctx := c.Request.Context()

	limit := queryLimit(c, 50, 200)
	entries, err := h.activity.ListRecent(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list activity", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list activity"})
		return
	}

	resp := make([]activityEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = activityEntryResponse{
			ID:        e.ID,
			Type:      string(e.Type),
			CommentID: e.CommentID,
			PostID:    e.PostID,
			Message:   e.Message,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, gin.H{"activity": resp})
}

type processedCommentResponse struct {
	CommentID   string  `json:"comment_id"`
	PostID      string  `json:"post_id"`
	Username    string  `json:"username"`
	Text        string  `json:"text"`
	Reply       string  `json:"reply,omitempty"`
	ReplyID     *string `json:"reply_id,omitempty"`
	Delivery    *string `json:"delivery,omitempty"`
	Status      string  `json:"status"`
	ProcessedAt string  `json:"processed_at"`
}

// Replies lists the most recently handled comments, newest first
func (h *AutomationHandler) Replies(c *gin.Context) {
	ctx := c.Request.Context()

	limit := queryLimit(c, 50, 200)
	comments, err := h.processed.ListRecent(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list processed comments", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list replies"})
		return
	}

	total, err := h.processed.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count processed comments", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list replies"})
		return
	}

	resp := make([]processedCommentResponse, len(comments))
	for i, pc := range comments {
		resp[i] = processedCommentResponse{
			CommentID:   pc.CommentID,
			PostID:      pc.PostID,
			Username:    pc.Username,
			Text:        pc.Text,
			Reply:       pc.Reply,
			ReplyID:     pc.ReplyID,
			Delivery:    (*string)(pc.Delivery),
			Status:      string(pc.Status),
			ProcessedAt: pc.ProcessedAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, gin.H{"replies": resp, "total": total})
}

// RequireAdminAPIKey middleware checks for valid admin API key
func (h *AutomationHandler) RequireAdminAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.adminAPIKey == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin API not configured"})
			c.Abort()
			return
		}

		apiKey := c.GetHeader("X-Admin-API-Key")
		if apiKey == "" {
			apiKey = c.GetHeader("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}

		if apiKey != h.adminAPIKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func toStatusResponse(s *model.AutomationStatus) statusResponse {
	resp := statusResponse{
		Running:        s.Running,
		Stats:          s.Stats,
		Config:         toConfigResponse(s.Config),
		PendingCount:   s.PendingCount,
		ProcessedCount: s.ProcessedCount,
		IsProcessing:   s.IsProcessing,
	}
	if s.LastCheckTime != nil {
		t := s.LastCheckTime.Format(time.RFC3339)
		resp.LastCheckTime = &t
	}
	return resp
}

func toConfigResponse(cfg model.AutomationConfig) configResponse {
	selected := cfg.SelectedPostIDs
	if selected == nil {
		selected = []string{}
	}
	return configResponse{
		Tone:                cfg.Tone,
		PollIntervalSeconds: int(cfg.PollInterval / time.Second),
		MonitorAll:          cfg.MonitorAll,
		SelectedPostIDs:     selected,
		MaxCommentsPerCycle: cfg.MaxCommentsPerCycle,
	}
}

func queryLimit(c *gin.Context, def, max int32) int32 {
	limit := def
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 32); err == nil && parsed > 0 {
			limit = int32(parsed)
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
