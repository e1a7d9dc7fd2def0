// Package api provides the HTTP and websocket transport over the
// settlement core. Money amounts on the wire are integer minor units.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alexbotov/casino-core/internal/auth"
	"github.com/alexbotov/casino-core/internal/control"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/game"
	"github.com/alexbotov/casino-core/internal/poker"
	"github.com/alexbotov/casino-core/internal/rng"
	"github.com/alexbotov/casino-core/internal/session"
	"github.com/alexbotov/casino-core/internal/wallet"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Services are the collaborators the handlers call into. RNG, Control and
// Tables are optional.
type Services struct {
	Auth     *auth.Service
	Sessions *session.Manager
	Wallet   *wallet.Service
	Registry *game.Registry
	Control  *control.Service
	Tables   *poker.TableManager
	RNG      *rng.Service
}

// Handler contains all HTTP handlers
type Handler struct {
	auth     *auth.Service
	sessions *session.Manager
	wallet   *wallet.Service
	registry *game.Registry
	control  *control.Service
	tables   *poker.TableManager
	rng      *rng.Service
	logger   *zap.Logger
}

// New creates a new API handler
func New(svc Services, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		auth:     svc.Auth,
		sessions: svc.Sessions,
		wallet:   svc.Wallet,
		registry: svc.Registry,
		control:  svc.Control,
		tables:   svc.Tables,
		rng:      svc.RNG,
		logger:   logger.Named("api"),
	}
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// errorStatus maps core errors to a status and code
func errorStatus(err error) (int, string) {
	var serr *domain.SettlementError
	switch {
	case errors.As(err, &serr):
		return http.StatusAccepted, "SETTLEMENT_PENDING"
	case errors.Is(err, domain.ErrInvalidWager):
		return http.StatusBadRequest, "INVALID_WAGER"
	case errors.Is(err, domain.ErrInvalidAction):
		return http.StatusBadRequest, "INVALID_ACTION"
	case errors.Is(err, domain.ErrReferenceConflict):
		return http.StatusConflict, "REFERENCE_CONFLICT"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, "ACCOUNT_NOT_FOUND"
	case errors.Is(err, domain.ErrAccountArchived):
		return http.StatusForbidden, "ACCOUNT_ARCHIVED"
	case errors.Is(err, domain.ErrGameNotFound):
		return http.StatusNotFound, "GAME_NOT_FOUND"
	case errors.Is(err, domain.ErrGamingDisabled):
		return http.StatusServiceUnavailable, "GAMING_DISABLED"
	case errors.Is(err, domain.ErrGameDisabled):
		return http.StatusServiceUnavailable, "GAME_DISABLED"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, domain.ErrSessionOpen):
		return http.StatusConflict, "SESSION_ALREADY_OPEN"
	case errors.Is(err, domain.ErrSessionSettled):
		return http.StatusConflict, "SESSION_SETTLED"
	case errors.Is(err, domain.ErrSessionAbandoned):
		return http.StatusGone, "SESSION_ABANDONED"
	case errors.Is(err, domain.ErrSessionInPlay):
		return http.StatusConflict, "SESSION_IN_PLAY"
	case errors.Is(err, domain.ErrSettlementPending):
		return http.StatusAccepted, "SETTLEMENT_PENDING"
	case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable, "RETRY_LATER"
	case errors.Is(err, domain.ErrEntropyUnavailable):
		return http.StatusServiceUnavailable, "RNG_UNAVAILABLE"
	case errors.Is(err, poker.ErrTableNotFound):
		return http.StatusNotFound, "TABLE_NOT_FOUND"
	case errors.Is(err, poker.ErrSeatTaken), errors.Is(err, poker.ErrAlreadySeated):
		return http.StatusConflict, "SEAT_UNAVAILABLE"
	case errors.Is(err, poker.ErrHandInPlay):
		return http.StatusConflict, "HAND_IN_PLAY"
	case errors.Is(err, poker.ErrNoHand):
		return http.StatusConflict, "NO_HAND"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = "Internal server error"
	}
	respondError(w, status, code, message)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// === Health & Info ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "healthy"}
	if h.rng != nil {
		// GLI-19 §3.3.3
		rngHealth, err := h.rng.HealthCheck()
		body["rng_status"] = rngHealth
		if err != nil || !rngHealth.Healthy {
			body["status"] = "degraded"
			respondJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	respondJSON(w, http.StatusOK, body)
}

// ServerInfo handles GET /
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "casino-core",
		"version":     "1.0.0",
		"description": "Casino game settlement core - GLI-19 Compliant",
	})
}

// SystemStatus handles GET /api/v1/system/status
func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	if h.control == nil {
		respondJSON(w, http.StatusOK, &domain.GamingSystemStatus{GamingEnabled: true})
		return
	}
	status, err := h.control.GetSystemStatus(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// === Games ===

// GetGames handles GET /api/v1/games
func (h *Handler) GetGames(w http.ResponseWriter, r *http.Request) {
	games := h.registry.Games()
	if h.control != nil {
		for _, g := range games {
			g.Enabled = g.Enabled && h.control.CheckAccess(r.Context(), g.ID) == nil
		}
	}
	respondJSON(w, http.StatusOK, games)
}

// === Sessions ===

type openSessionRequest struct {
	GameType domain.GameType `json:"game_type"`
	Wager    int64           `json:"wager"`
	Params   json.RawMessage `json:"params,omitempty"`
}

type actionRequest struct {
	ActionID string          `json:"action_id,omitempty"`
	Action   string          `json:"action"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// OpenSession handles POST /api/v1/sessions
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	res, err := h.sessions.Open(r.Context(), session.OpenRequest{
		AccountID: accountFrom(r),
		GameType:  req.GameType,
		Wager:     req.Wager,
		Params:    req.Params,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// ApplyAction handles POST /api/v1/sessions/{id}/actions
func (h *Handler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	sessionID := mux.Vars(r)["id"]
	if !h.ownsSession(w, r, sessionID) {
		return
	}

	res, err := h.sessions.Apply(r.Context(), session.ActionRequest{
		SessionID: sessionID,
		ActionID:  req.ActionID,
		Action:    req.Action,
		Params:    req.Params,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.sessions.View(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if res.AccountID != accountFrom(r) {
		respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Game session not found")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// GetResult handles GET /api/v1/sessions/{id}/result
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if !h.ownsSession(w, r, sessionID) {
		return
	}

	outcome, err := h.sessions.Result(r.Context(), sessionID)
	if errors.Is(err, domain.ErrSettlementPending) {
		respondJSON(w, http.StatusAccepted, outcome)
		return
	}
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

// AbandonSession handles DELETE /api/v1/sessions/{id}
func (h *Handler) AbandonSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if !h.ownsSession(w, r, sessionID) {
		return
	}
	if err := h.sessions.Abandon(r.Context(), sessionID, "player request"); err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"status":     domain.SessionAbandoned,
	})
}

// ownsSession answers 404 for sessions of other accounts
func (h *Handler) ownsSession(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	res, err := h.sessions.View(r.Context(), sessionID)
	if err != nil {
		h.respondErr(w, r, err)
		return false
	}
	if res.AccountID != accountFrom(r) {
		respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Game session not found")
		return false
	}
	return true
}

// === Wallet ===

// GetBalance handles GET /api/v1/wallet/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.wallet.Balance(r.Context(), accountFrom(r))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountFrom(r),
		"amount":     balance.Amount,
		"currency":   balance.Currency,
	})
}

// GetEntries handles GET /api/v1/wallet/entries
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := h.wallet.Entries(r.Context(), accountFrom(r), limit)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
