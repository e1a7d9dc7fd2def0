// Package api - Poker table handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/poker"
	"github.com/gorilla/mux"
)

type createTableRequest struct {
	Size int   `json:"size"`
	Ante int64 `json:"ante"`
}

type joinTableRequest struct {
	Seat int `json:"seat"`
}

func (h *Handler) tablesEnabled(w http.ResponseWriter) bool {
	if h.tables == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Poker tables are not enabled")
		return false
	}
	return true
}

// seatParam reads {seat} and checks the caller sits there
func (h *Handler) seatParam(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	vars := mux.Vars(r)
	seat, err := strconv.Atoi(vars["seat"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_SEAT", "Seat must be a number")
		return "", 0, false
	}
	view, err := h.tables.Table(vars["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return "", 0, false
	}
	for _, s := range view.Seats {
		if s.Number == seat && s.AccountID == accountFrom(r) {
			return vars["id"], seat, true
		}
	}
	respondError(w, http.StatusForbidden, "NOT_YOUR_SEAT", "Seat is not held by this account")
	return "", 0, false
}

// ListTables handles GET /api/v1/tables
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	if !h.tablesEnabled(w) {
		return
	}
	respondJSON(w, http.StatusOK, h.tables.Tables())
}

// CreateTable handles POST /api/v1/tables
func (h *Handler) CreateTable(w http.ResponseWriter, r *http.Request) {
	if !h.tablesEnabled(w) {
		return
	}
	var req createTableRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if h.control != nil {
		if err := h.control.CheckAccess(r.Context(), string(domain.GamePoker)); err != nil {
			h.respondErr(w, r, err)
			return
		}
	}
	view, err := h.tables.Create(r.Context(), poker.TableConfig{Size: req.Size, Ante: req.Ante})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

// GetTable handles GET /api/v1/tables/{id}
func (h *Handler) GetTable(w http.ResponseWriter, r *http.Request) {
	if !h.tablesEnabled(w) {
		return
	}
	view, err := h.tables.Table(mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// JoinTable handles POST /api/v1/tables/{id}/seats
func (h *Handler) JoinTable(w http.ResponseWriter, r *http.Request) {
	if !h.tablesEnabled(w) {
		return
	}
	var req joinTableRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	tableID := mux.Vars(r)["id"]
	if err := h.tables.Join(r.Context(), tableID, accountFrom(r), req.Seat); err != nil {
		h.respondErr(w, r, err)
		return
	}
	view, err := h.tables.Table(tableID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

// LeaveTable handles DELETE /api/v1/tables/{id}/seats/{seat}
func (h *Handler) LeaveTable(w http.ResponseWriter, r *http.Request) {
	if !h.tablesEnabled(w) {
		return
	}
	tableID, seat, ok := h.seatParam(w, r)
	if !ok {
		return
	}
	if err := h.tables.Leave(r.Context(), tableID, seat); err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"table_id": tableID, "seat": seat})
}

// StartHand handles POST /api/v1/tables/{id}/hands
func (h *Handler) StartHand(w http.ResponseWriter, r *http.Request) {
	if !h.tablesEnabled(w) {
		return
	}
	handID, err := h.tables.StartHand(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"hand_id": handID})
}

// HoleCards handles GET /api/v1/tables/{id}/seats/{seat}/hole
func (h *Handler) HoleCards(w http.ResponseWriter, r *http.Request) {
	if !h.tablesEnabled(w) {
		return
	}
	tableID, seat, ok := h.seatParam(w, r)
	if !ok {
		return
	}
	hole, err := h.tables.Hole(tableID, seat)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, hole)
}

// Fold handles POST /api/v1/tables/{id}/seats/{seat}/fold
func (h *Handler) Fold(w http.ResponseWriter, r *http.Request) {
	if !h.tablesEnabled(w) {
		return
	}
	tableID, seat, ok := h.seatParam(w, r)
	if !ok {
		return
	}
	result, err := h.tables.Fold(r.Context(), tableID, seat)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

// Showdown handles POST /api/v1/tables/{id}/showdown
func (h *Handler) Showdown(w http.ResponseWriter, r *http.Request) {
	if !h.tablesEnabled(w) {
		return
	}
	result, err := h.tables.Showdown(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
