package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/vigneshprince/expensetracker/internal/api/middleware"
	"github.com/vigneshprince/expensetracker/internal/extract"
	"github.com/vigneshprince/expensetracker/internal/mailbox"
	"github.com/vigneshprince/expensetracker/internal/review"
	"github.com/vigneshprince/expensetracker/internal/store"
	"github.com/vigneshprince/expensetracker/internal/trigger"
)

// AuthHandler handles the OAuth consent flow.
type AuthHandler struct {
	auth *mailbox.Authenticator
	log  zerolog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(auth *mailbox.Authenticator, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log}
}

// AuthURL handles GET /api/auth/url
func (h *AuthHandler) AuthURL(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"url": h.auth.AuthorizationURL(),
	})
}

// Callback handles GET /api/auth/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	account, err := h.auth.CompleteAuthorization(r.Context(), code)
	if err != nil {
		h.log.Error().Err(err).Msg("Authorization exchange failed")
		if errors.Is(err, mailbox.ErrNoRefreshToken) {
			middleware.WriteError(w, http.StatusBadRequest, "Provider returned no refresh token, retry consent")
			return
		}
		middleware.WriteError(w, http.StatusInternalServerError, "Authorization failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"account": account,
	})
}

// PipelineHandler handles the sync and process triggers.
type PipelineHandler struct {
	auth    *mailbox.Authenticator
	fetcher *mailbox.Fetcher
	worker  *extract.Worker
	limiter *trigger.Limiter
	log     zerolog.Logger
}

// NewPipelineHandler creates a new pipeline handler.
func NewPipelineHandler(auth *mailbox.Authenticator, fetcher *mailbox.Fetcher, worker *extract.Worker, limiter *trigger.Limiter, log zerolog.Logger) *PipelineHandler {
	return &PipelineHandler{
		auth:    auth,
		fetcher: fetcher,
		worker:  worker,
		limiter: limiter,
		log:     log,
	}
}

type triggerRequest struct {
	Account string `json:"account"`
	Auto    bool   `json:"auto"`
}

// Sync handles POST /api/sync: fetch new mail into staging, then run one
// extraction batch. Automatic calls are subject to the sync cooldown; manual
// calls bypass it and restart both cooldown windows.
func (h *PipelineHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Account == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account is required")
		return
	}

	ctx := r.Context()

	if req.Auto {
		allowed, err := h.limiter.AllowAutoSync(ctx, req.Account)
		if err != nil {
			h.log.Error().Err(err).Msg("Trigger check failed")
			middleware.WriteError(w, http.StatusInternalServerError, "Trigger check failed")
			return
		}
		if !allowed {
			middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"skipped": true,
				"message": "Sync cooldown active",
			})
			return
		}
	}

	ts, err := h.auth.TokenSource(ctx, req.Account)
	if err != nil {
		h.log.Error().Err(err).Str("account", req.Account).Msg("No usable credentials")
		middleware.WriteError(w, http.StatusUnauthorized, "Account is not connected")
		return
	}
	client, err := mailbox.NewGmailClient(ctx, ts)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create mailbox client")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to reach mailbox")
		return
	}

	staged, err := h.fetcher.FetchNew(ctx, req.Account, client)
	if err != nil {
		h.log.Error().Err(err).Str("account", req.Account).Msg("Sync failed")
		switch {
		case errors.Is(err, mailbox.ErrTokenRefreshFailed), errors.Is(err, mailbox.ErrCredentialsMissing):
			middleware.WriteError(w, http.StatusUnauthorized, "Mailbox authorization expired, reconnect the account")
		case errors.Is(err, mailbox.ErrProviderFetch):
			middleware.WriteError(w, http.StatusBadGateway, "Mailbox provider unavailable")
		default:
			middleware.WriteError(w, http.StatusInternalServerError, "Sync failed")
		}
		return
	}

	processed, err := h.worker.ProcessPending(ctx, req.Account)
	if err != nil {
		// Staging succeeded; extraction can catch up on the next trigger.
		h.log.Warn().Err(err).Str("account", req.Account).Msg("Extraction after sync failed")
	}

	if !req.Auto {
		if err := h.limiter.ResetForManual(ctx, req.Account); err != nil {
			h.log.Warn().Err(err).Msg("Cooldown reset failed")
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"staged":    staged,
		"processed": processed,
	})
}

// Process handles POST /api/process: run one extraction batch over pending
// staging items. Automatic calls are subject to the process cooldown.
func (h *PipelineHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Account == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account is required")
		return
	}

	ctx := r.Context()

	if req.Auto {
		allowed, err := h.limiter.AllowAutoProcess(ctx, req.Account)
		if err != nil {
			h.log.Error().Err(err).Msg("Trigger check failed")
			middleware.WriteError(w, http.StatusInternalServerError, "Trigger check failed")
			return
		}
		if !allowed {
			middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"skipped": true,
				"message": "Process cooldown active",
			})
			return
		}
	}

	processed, err := h.worker.ProcessPending(ctx, req.Account)
	if err != nil {
		h.log.Error().Err(err).Str("account", req.Account).Msg("Extraction run failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Extraction run failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"processed": processed,
	})
}

// StagingHandler handles review-queue endpoints.
type StagingHandler struct {
	staging  store.StagingStore
	workflow *review.Workflow
	log      zerolog.Logger
}

// NewStagingHandler creates a new staging handler.
func NewStagingHandler(staging store.StagingStore, workflow *review.Workflow, log zerolog.Logger) *StagingHandler {
	return &StagingHandler{staging: staging, workflow: workflow, log: log}
}

// List handles GET /api/staging
func (h *StagingHandler) List(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account is required")
		return
	}
	status := store.Status(r.URL.Query().Get("status"))

	items, err := h.staging.List(r.Context(), account, status)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list staging items")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list staging items")
		return
	}

	if items == nil {
		items = []*store.StagingItem{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// Promote handles POST /api/staging/{id}/promote
func (h *StagingHandler) Promote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.workflow.Promote(r.Context(), id); err != nil {
		h.log.Error().Err(err).Str("item", id).Msg("Promotion failed")
		if errors.Is(err, store.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Staging item not found")
			return
		}
		middleware.WriteError(w, http.StatusConflict, err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// Retry handles POST /api/staging/{id}/retry
func (h *StagingHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.workflow.Retry(r.Context(), id); err != nil {
		h.log.Error().Err(err).Str("item", id).Msg("Retry failed")
		if errors.Is(err, store.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Staging item not found")
			return
		}
		middleware.WriteError(w, http.StatusConflict, err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// Delete handles DELETE /api/staging/{id}
func (h *StagingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.workflow.Remove(r.Context(), id); err != nil {
		h.log.Error().Err(err).Str("item", id).Msg("Delete failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to delete staging item")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
