package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/carebridge/notify/internal/auth"
	"github.com/carebridge/notify/internal/delivery"
	"github.com/carebridge/notify/internal/dispatch"
	apierrors "github.com/carebridge/notify/internal/errors"
	"github.com/carebridge/notify/internal/logger"
	"github.com/carebridge/notify/internal/notify"
	"github.com/carebridge/notify/internal/oplog"
	"github.com/carebridge/notify/internal/registry"
	"github.com/carebridge/notify/internal/store"
	"github.com/gin-gonic/gin"
)

// Handler exposes the pipeline over HTTP and WebSocket.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	store      store.NotificationStore
	tracker    *delivery.Tracker
	registry   *registry.Registry
	ops        *oplog.Log
	logger     *logger.Logger

	heartbeatInterval time.Duration
}

// NewHandler wires the API surface.
func NewHandler(
	dispatcher *dispatch.Dispatcher,
	st store.NotificationStore,
	tracker *delivery.Tracker,
	reg *registry.Registry,
	ops *oplog.Log,
	log *logger.Logger,
	heartbeatInterval time.Duration,
) *Handler {
	return &Handler{
		dispatcher:        dispatcher,
		store:             st,
		tracker:           tracker,
		registry:          reg,
		ops:               ops,
		logger:            log,
		heartbeatInterval: heartbeatInterval,
	}
}

// ListNotifications handles GET /api/v1/notifications.
func (h *Handler) ListNotifications(c *gin.Context) {
	recipientID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apierrors.NewAPIError("not authenticated", nil))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	notifications, err := h.store.ListNotifications(c.Request.Context(), recipientID, limit)
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "failed to list notifications")
		c.JSON(http.StatusInternalServerError, apierrors.NewAPIError("failed to list notifications", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// UnreadCount handles GET /api/v1/notifications/unread-count. This is the
// reconciliation fetch clients use after any reconnect.
func (h *Handler) UnreadCount(c *gin.Context) {
	recipientID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apierrors.NewAPIError("not authenticated", nil))
		return
	}

	count, err := h.store.UnreadCount(c.Request.Context(), recipientID)
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "failed to count unread notifications")
		c.JSON(http.StatusInternalServerError, apierrors.NewAPIError("failed to count unread notifications", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkRead handles POST /api/v1/notifications/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	recipientID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apierrors.NewAPIError("not authenticated", nil))
		return
	}

	if err := h.dispatcher.MarkRead(c.Request.Context(), c.Param("id"), recipientID); err != nil {
		h.logger.LogError(c.Request.Context(), err, "failed to mark notification read")
		c.JSON(http.StatusInternalServerError, apierrors.NewAPIError("failed to mark notification read", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// MarkAllRead handles POST /api/v1/notifications/read-all.
func (h *Handler) MarkAllRead(c *gin.Context) {
	recipientID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apierrors.NewAPIError("not authenticated", nil))
		return
	}

	if err := h.dispatcher.MarkAllRead(c.Request.Context(), recipientID); err != nil {
		h.logger.LogError(c.Request.Context(), err, "failed to mark all notifications read")
		c.JSON(http.StatusInternalServerError, apierrors.NewAPIError("failed to mark all notifications read", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type dispatchRequest struct {
	RecipientID string               `json:"recipient_id" binding:"required"`
	Type        notify.Type          `json:"type" binding:"required"`
	Content     notify.Content       `json:"content" binding:"required"`
	Email       *notify.EmailContext `json:"email,omitempty"`
}

// Dispatch handles POST /api/v1/dispatch, the entry point the rest of the
// application calls when a domain event occurs.
func (h *Handler) Dispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierrors.NewAPIError("invalid request body", map[string]interface{}{"reason": err.Error()}))
		return
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), req.RecipientID, req.Type, req.Content, req.Email)
	if err != nil {
		// Persist failure is the only fatal path; the result still carries
		// the error detail.
		c.JSON(http.StatusInternalServerError, result)
		return
	}

	c.JSON(http.StatusOK, result)
}

type bulkDispatchRequest struct {
	RecipientIDs []string       `json:"recipient_ids" binding:"required"`
	Type         notify.Type    `json:"type" binding:"required"`
	Content      notify.Content `json:"content" binding:"required"`
}

// DispatchBulk handles POST /api/v1/dispatch/bulk.
func (h *Handler) DispatchBulk(c *gin.Context) {
	var req bulkDispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierrors.NewAPIError("invalid request body", map[string]interface{}{"reason": err.Error()}))
		return
	}

	result := h.dispatcher.DispatchBulk(c.Request.Context(), req.RecipientIDs, req.Type, req.Content)
	c.JSON(http.StatusOK, result)
}

type familyDispatchRequest struct {
	FamilyID   string               `json:"family_id" binding:"required"`
	Type       notify.Type          `json:"type" binding:"required"`
	Content    notify.Content       `json:"content" binding:"required"`
	Email      *notify.EmailContext `json:"email,omitempty"`
	ExcludeIDs []string             `json:"exclude_ids,omitempty"`
}

// DispatchFamily handles POST /api/v1/dispatch/family.
func (h *Handler) DispatchFamily(c *gin.Context) {
	var req familyDispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierrors.NewAPIError("invalid request body", map[string]interface{}{"reason": err.Error()}))
		return
	}

	result, err := h.dispatcher.DispatchFamily(c.Request.Context(), req.FamilyID, req.Type, req.Content, req.Email,
		dispatch.ExcludeOptions{ExcludeIDs: req.ExcludeIDs})
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "family dispatch failed")
		c.JSON(http.StatusInternalServerError, apierrors.NewAPIError("family dispatch failed", nil))
		return
	}

	c.JSON(http.StatusOK, result)
}

// OpsEvents handles GET /api/v1/ops/events: the observability ring buffer.
func (h *Handler) OpsEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": h.ops.Snapshot()})
}

// OpsDeliveryLogs handles GET /api/v1/ops/delivery-logs with optional
// notification_id, recipient_id or status filters.
func (h *Handler) OpsDeliveryLogs(c *gin.Context) {
	ctx := c.Request.Context()
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	var (
		logs []*delivery.Log
		err  error
	)
	switch {
	case c.Query("notification_id") != "":
		logs, err = h.tracker.ByNotification(ctx, c.Query("notification_id"))
	case c.Query("recipient_id") != "":
		logs, err = h.tracker.ByRecipient(ctx, c.Query("recipient_id"), limit)
	case c.Query("status") != "":
		logs, err = h.tracker.ByStatus(ctx, delivery.Status(c.Query("status")), limit)
	default:
		c.JSON(http.StatusBadRequest, apierrors.NewAPIError("one of notification_id, recipient_id or status is required", nil))
		return
	}
	if err != nil {
		h.logger.LogError(ctx, err, "failed to list delivery logs")
		c.JSON(http.StatusInternalServerError, apierrors.NewAPIError("failed to list delivery logs", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{"delivery_logs": logs})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.registry.Count(),
	})
}
