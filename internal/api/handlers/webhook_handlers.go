package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/castarena/castarena_service/internal/domain/entities"
	"github.com/castarena/castarena_service/pkg/logger"
	"github.com/castarena/castarena_service/pkg/webhook"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Castarena-Signature"

// MentionService defines operations for processing inbound hub events
type MentionService interface {
	HandleMention(ctx context.Context, event *entities.MentionEvent) *entities.MentionOutcome
	RecordTopUp(address string)
}

// WebhookHandler handles Farcaster hub webhook notifications
type WebhookHandler struct {
	service       MentionService
	logger        *logger.Logger
	webhookSecret string
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service MentionService, logger *logger.Logger, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{
		service:       service,
		logger:        logger,
		webhookSecret: webhookSecret,
	}
}

// WebhookPayload represents the hub webhook payload structure
type WebhookPayload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CastEvent represents a cast mentioning the bot
type CastEvent struct {
	Hash          string `json:"hash"`
	AuthorHandle  string `json:"author_handle"`
	AuthorAddress string `json:"author_address"`
	Text          string `json:"text"`
}

// TopUpEvent represents a wallet funding notification
type TopUpEvent struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	TxHash  string `json:"tx_hash"`
}

// HandleWebhook handles all hub webhook events
// POST /webhooks/farcaster
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to read webhook body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	if h.webhookSecret != "" {
		signature := c.GetHeader(SignatureHeader)
		if !webhook.VerifySignature(rawBody, signature, h.webhookSecret) {
			h.logger.Warn("Invalid webhook signature")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		h.logger.Error("Failed to parse webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	switch payload.Type {
	case "cast.created", "cast.mention":
		h.handleCastMention(c, payload)
	case "wallet.topup":
		h.handleTopUp(c, payload)
	default:
		h.logger.Info("Unhandled webhook event type", "event_type", payload.Type)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

func (h *WebhookHandler) handleCastMention(c *gin.Context, payload WebhookPayload) {
	var cast CastEvent
	if err := json.Unmarshal(payload.Data, &cast); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cast payload"})
		return
	}
	if cast.AuthorAddress == "" || cast.Hash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing author address or cast hash"})
		return
	}

	h.logger.Info("Received cast mention",
		"cast_hash", cast.Hash,
		"author", cast.AuthorHandle,
		"address", cast.AuthorAddress)

	outcome := h.service.HandleMention(c.Request.Context(), &entities.MentionEvent{
		Address: cast.AuthorAddress,
		EventID: cast.Hash,
		Content: cast.Text,
		Author:  cast.AuthorHandle,
	})

	c.JSON(statusFor(outcome.Result), outcome)
}

func (h *WebhookHandler) handleTopUp(c *gin.Context, payload WebhookPayload) {
	var topUp TopUpEvent
	if err := json.Unmarshal(payload.Data, &topUp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid topup payload"})
		return
	}
	if topUp.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing address"})
		return
	}

	h.service.RecordTopUp(topUp.Address)
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// statusFor maps a processing result onto an HTTP status the hub's delivery
// layer understands: retriable outcomes get 5xx so it redelivers, terminal
// outcomes get 2xx so it stops.
func statusFor(result *entities.ProcessingResult) int {
	if result == nil {
		return http.StatusInternalServerError
	}
	switch result.Code {
	case entities.ResultQueueFull, entities.ResultTimeout, entities.ResultError:
		return http.StatusServiceUnavailable
	case entities.ResultRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}
