package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vigneshprince/expensetracker/internal/api/middleware"
	"github.com/vigneshprince/expensetracker/internal/store"
)

// SMSAccountKey is the shared pseudo-account all SMS items are staged under.
// SMS forwarders do not carry a mailbox identity, so the queue is global.
const SMSAccountKey = "sms"

// transactionKeywords gates which forwarded messages are worth staging.
// Matching is case-insensitive substring; OTPs and promos fall through.
var transactionKeywords = []string{
	"debited",
	"credited",
	"spent",
	"withdrawn",
	"purchase",
	"payment",
	"txn",
	"transaction",
	"rs.",
	"inr",
}

// SMSHandler ingests transaction SMS forwarded by a phone-side relay.
type SMSHandler struct {
	staging store.StagingStore
	log     zerolog.Logger
	now     func() time.Time
}

// NewSMSHandler creates a new SMS webhook handler.
func NewSMSHandler(staging store.StagingStore, log zerolog.Logger) *SMSHandler {
	return &SMSHandler{staging: staging, log: log, now: time.Now}
}

type smsRequest struct {
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp,omitempty"` // epoch milliseconds
}

// Webhook handles POST /webhooks/sms. Messages without transaction keywords
// are acknowledged but not staged, so the relay can forward everything and
// filtering stays server-side.
func (h *SMSHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req smsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}
	if req.Sender == "" || req.Body == "" {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "sender and body are required",
		})
		return
	}

	if !looksLikeTransaction(req.Body) {
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"staged":  false,
			"message": "No transaction detected",
		})
		return
	}

	receivedAt := h.now()
	if req.Timestamp > 0 {
		receivedAt = time.UnixMilli(req.Timestamp)
	}

	item := &store.StagingItem{
		ID:         "sms-" + uuid.New().String(),
		Source:     store.SourceSMS,
		AccountKey: SMSAccountKey,
		Sender:     req.Sender,
		ReceivedAt: receivedAt,
		RawContent: req.Body,
		Status:     store.StatusPending,
		CreatedAt:  h.now(),
	}

	if _, err := h.staging.Upsert(r.Context(), item); err != nil {
		h.log.Error().Err(err).Str("sender", req.Sender).Msg("Failed to stage SMS")
		middleware.WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to stage message",
		})
		return
	}

	h.log.Info().Str("sender", req.Sender).Str("item", item.ID).Msg("SMS staged")
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"staged":  true,
		"message": "Transaction staged for review",
		"id":      item.ID,
	})
}

func looksLikeTransaction(body string) bool {
	lower := strings.ToLower(body)
	for _, kw := range transactionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
