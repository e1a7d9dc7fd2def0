// Package api - Router setup
package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the HTTP router. metrics serves
// /metrics when not nil.
func (h *Handler) SetupRouter(corsOrigins []string, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	// Apply global middleware
	r.Use(h.RecoveryMiddleware)
	r.Use(CORSMiddleware(corsOrigins))
	r.Use(h.LoggingMiddleware)

	// preflight requests must match a route for the CORS middleware to run
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	// Public routes
	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	// Protected API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(h.AuthMiddleware)

	api.HandleFunc("/system/status", h.SystemStatus).Methods("GET")
	api.HandleFunc("/games", h.GetGames).Methods("GET")

	// Sessions
	api.HandleFunc("/sessions", h.OpenSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.AbandonSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/actions", h.ApplyAction).Methods("POST")
	api.HandleFunc("/sessions/{id}/result", h.GetResult).Methods("GET")

	// Wallet
	api.HandleFunc("/wallet/balance", h.GetBalance).Methods("GET")
	api.HandleFunc("/wallet/entries", h.GetEntries).Methods("GET")

	// Poker tables
	api.HandleFunc("/tables", h.ListTables).Methods("GET")
	api.HandleFunc("/tables", h.CreateTable).Methods("POST")
	api.HandleFunc("/tables/{id}", h.GetTable).Methods("GET")
	api.HandleFunc("/tables/{id}/seats", h.JoinTable).Methods("POST")
	api.HandleFunc("/tables/{id}/seats/{seat}", h.LeaveTable).Methods("DELETE")
	api.HandleFunc("/tables/{id}/seats/{seat}/hole", h.HoleCards).Methods("GET")
	api.HandleFunc("/tables/{id}/seats/{seat}/fold", h.Fold).Methods("POST")
	api.HandleFunc("/tables/{id}/hands", h.StartHand).Methods("POST")
	api.HandleFunc("/tables/{id}/showdown", h.Showdown).Methods("POST")

	// WebSocket play channel
	api.HandleFunc("/ws/sessions/{id}", h.HandleWebSocket).Methods("GET")

	return r
}
