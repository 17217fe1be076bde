package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"driftsync.app/core/internal/bus"
	"driftsync.app/core/internal/health"
	"driftsync.app/core/internal/http/dto"
	"driftsync.app/core/internal/inbox"
	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/queue"
	"driftsync.app/core/internal/store"
)

// DashboardHandler serves the read model of the core: queue depth and
// health, inbox and bus statistics, alerts, and dead letters.
type DashboardHandler struct {
	queue   *queue.Service
	inbox   *inbox.Service
	monitor *health.Monitor
	bus     *bus.Bus
	stores  store.StoreProvider
}

func NewDashboardHandler(queueSvc *queue.Service, inboxSvc *inbox.Service, monitor *health.Monitor, eventBus *bus.Bus, stores store.StoreProvider) *DashboardHandler {
	return &DashboardHandler{
		queue:   queueSvc,
		inbox:   inboxSvc,
		monitor: monitor,
		bus:     eventBus,
		stores:  stores,
	}
}

func (h *DashboardHandler) QueueDepth(c *gin.Context) {
	depth, err := h.queue.Depth(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue depth"})
		return
	}
	c.JSON(http.StatusOK, newDepthResponse(depth))
}

func (h *DashboardHandler) QueueHealth(c *gin.Context) {
	report, err := h.queue.CheckHealth(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check queue health"})
		return
	}

	issues := make([]dto.HealthIssueResponse, 0, len(report.Issues))
	for _, issue := range report.Issues {
		issues = append(issues, dto.HealthIssueResponse{
			Check:     issue.Check,
			Severity:  string(issue.Severity),
			Message:   issue.Message,
			Value:     issue.Value,
			Threshold: issue.Threshold,
		})
	}

	c.JSON(http.StatusOK, dto.QueueHealthResponse{
		Status:                string(report.Status),
		Issues:                issues,
		Depth:                 newDepthResponse(report.Depth),
		UnresolvedDeadLetters: report.UnresolvedDeadLetters,
		StaleProcessing:       report.StaleProcessing,
		CheckedAt:             report.CheckedAt,
	})
}

func (h *DashboardHandler) InboxStats(c *gin.Context) {
	stats, err := h.inbox.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read inbox stats"})
		return
	}
	c.JSON(http.StatusOK, dto.NewInboxStatsResponse(stats))
}

func (h *DashboardHandler) BusStats(c *gin.Context) {
	stats := h.bus.Stats()
	c.JSON(http.StatusOK, dto.BusStatsResponse{
		TotalPublished:  stats.TotalPublished,
		HandlerFailures: stats.HandlerFailures,
		PerType:         stats.PerType,
		Subscriptions:   stats.Subscriptions,
		HistorySize:     stats.HistorySize,
	})
}

func (h *DashboardHandler) BusHistory(c *gin.Context) {
	limit := parseLimit(c, 50)
	events := h.bus.History(int(limit))

	resp := make([]dto.BusEventResponse, 0, len(events))
	for _, evt := range events {
		resp = append(resp, dto.BusEventResponse{
			EventID:       evt.EventID,
			EventType:     evt.EventType,
			Timestamp:     evt.Timestamp,
			Module:        evt.Module,
			Data:          evt.Data,
			CorrelationID: evt.CorrelationID,
			AggregateID:   evt.AggregateID,
			AggregateType: evt.AggregateType,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": resp})
}

func (h *DashboardHandler) ListAlerts(c *gin.Context) {
	openOnly := c.Query("open") == "true"
	alerts, err := h.monitor.ListAlerts(c.Request.Context(), parseLimit(c, 100), openOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}

	resp := make([]dto.AlertResponse, 0, len(alerts))
	for _, alert := range alerts {
		resp = append(resp, dto.NewAlertResponse(alert))
	}
	c.JSON(http.StatusOK, gin.H{"alerts": resp})
}

func (h *DashboardHandler) AcknowledgeAlert(c *gin.Context) {
	alertID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.monitor.Acknowledge(c.Request.Context(), alertID); err != nil {
		respondStoreError(c, err, "failed to acknowledge alert")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

func (h *DashboardHandler) ResolveAlert(c *gin.Context) {
	alertID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.monitor.Resolve(c.Request.Context(), alertID); err != nil {
		respondStoreError(c, err, "failed to resolve alert")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (h *DashboardHandler) ListDeadLetters(c *gin.Context) {
	entries, err := h.stores.DeadLetters().ListUnresolved(c.Request.Context(), parseLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}

	resp := make([]dto.DeadLetterResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.NewDeadLetterResponse(entry))
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": resp})
}

func (h *DashboardHandler) ResolveDeadLetter(c *gin.Context) {
	entryID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.stores.DeadLetters().Resolve(c.Request.Context(), entryID); err != nil {
		respondStoreError(c, err, "failed to resolve dead letter")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func newDepthResponse(depth map[model.EntryStatus]int64) dto.QueueDepthResponse {
	return dto.QueueDepthResponse{
		Pending:    depth[model.StatusPending],
		Processing: depth[model.StatusProcessing],
		Completed:  depth[model.StatusCompleted],
		Retry:      depth[model.StatusRetry],
		DeadLetter: depth[model.StatusDeadLetter],
	}
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func parseLimit(c *gin.Context, fallback int32) int32 {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || limit <= 0 {
		return fallback
	}
	return int32(limit)
}

func respondStoreError(c *gin.Context, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
