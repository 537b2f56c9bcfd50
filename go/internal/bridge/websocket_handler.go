package bridge

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/numguess/go/internal/sync/engine"
)

// ViewSource is where observers read engine state from.
type ViewSource interface {
	View() engine.View
	Subscribe() (<-chan engine.View, func())
}

// WebSocketHandler serves the observer endpoints
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	views             ViewSource
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, views ViewSource) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		views:             views,
	}
}

// HandleSyncConnection upgrades an observer and streams views and events to it
func (h *WebSocketHandler) HandleSyncConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.connectionManager.UpgradeConnection(w, r, h.views.View()); err != nil {
		// the upgrader has already written an HTTP error
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
	}
}

// HandleView returns the current view as JSON
func (h *WebSocketHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.views.View())
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int{"total_connections": h.connectionManager.ConnectionCount()})
}

// HandleCommand runs a single command over plain HTTP
func (h *WebSocketHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.connectionManager.commands == nil {
		http.Error(w, "commands are disabled", http.StatusForbidden)
		return
	}

	var cmd Command
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.connectionManager.config.MaxMessageSize)).Decode(&cmd); err != nil {
		http.Error(w, "malformed command", http.StatusBadRequest)
		return
	}
	res := Execute(r.Context(), h.connectionManager.commands, cmd)
	if !res.OK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(res)
		return
	}
	writeJSON(w, res)
}

// RegisterRoutes registers observer routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/sync", h.HandleSyncConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("/view", h.HandleView)
	mux.HandleFunc("/command", h.HandleCommand)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
