package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"driftsync.app/core/internal/http/dto"
	"driftsync.app/core/internal/inbox"
)

// WebhookHandler is the single ingress for external sync events. The
// source system is a path parameter so one deployment can receive from
// several systems on distinct URLs.
type WebhookHandler struct {
	ingest          *inbox.Service
	verifier        *SignatureVerifier
	signatureHeader string
	traceHeader     string
}

func NewWebhookHandler(ingest *inbox.Service, verifier *SignatureVerifier, signatureHeader, traceHeader string) *WebhookHandler {
	return &WebhookHandler{
		ingest:          ingest,
		verifier:        verifier,
		signatureHeader: signatureHeader,
		traceHeader:     traceHeader,
	}
}

// HandleEvent stores one webhook delivery.
//
//	202 stored (valid or invalid payloads both land in the inbox)
//	200 duplicate delivery, already stored
//	400 payload the inbox cannot identify at all
func (h *WebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()
	sourceType := c.Param("source")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	verified := false
	if h.verifier != nil {
		verified = h.verifier.Verify(body, c.GetHeader(h.signatureHeader))
		if !verified {
			slog.WarnContext(ctx, "webhook signature verification failed",
				"source", sourceType, "client_ip", c.ClientIP())
		}
	}

	headers := make(map[string]string)
	for key, values := range c.Request.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	result, err := h.ingest.Ingest(ctx, inbox.IngestParams{
		SourceType:        sourceType,
		Payload:           body,
		Headers:           headers,
		ClientIP:          c.ClientIP(),
		SignatureVerified: verified,
		TraceID:           c.GetHeader(h.traceHeader),
	})
	if err != nil {
		if errors.Is(err, inbox.ErrMalformedPayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "webhook ingestion failed", "source", sourceType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store event"})
		return
	}

	resp := dto.WebhookResponse{
		InboxEventID:     result.Event.ID,
		Duplicated:       result.Duplicated,
		Valid:            result.Event.IsValid,
		Enqueued:         result.Enqueued,
		ValidationErrors: result.Event.ValidationErrors,
	}
	if result.Entry != nil {
		resp.QueueEntryID = result.Entry.ID
	}

	if result.Duplicated {
		resp.Status = "duplicate"
		c.JSON(http.StatusOK, resp)
		return
	}

	resp.Status = "stored"
	c.JSON(http.StatusAccepted, resp)
}
