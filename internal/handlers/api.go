package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rtchat/backend/internal/auth"
	"rtchat/backend/internal/realtime"
)

// Stats exposes live presence counts for the health endpoint.
type Stats interface {
	OnlineUsers() int
}

type API struct {
	Summary  map[string]string
	Hub      *realtime.Hub
	Handler  realtime.Handler
	Upgrader *websocket.Upgrader
	Stats    Stats
	Logger   zerolog.Logger
}

func NewAPI(summary map[string]string, hub *realtime.Hub, handler realtime.Handler, upgrader *websocket.Upgrader, stats Stats, logger zerolog.Logger) *API {
	return &API{
		Summary:  summary,
		Hub:      hub,
		Handler:  handler,
		Upgrader: upgrader,
		Stats:    stats,
		Logger:   logger.With().Str("component", "API").Logger(),
	}
}

// Home lists the non-secret configuration the server is running with.
func (a *API) Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Summary)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"connections":  a.Hub.Connections(),
		"online_users": a.Stats.OnlineUsers(),
	})
}

// ChatHub upgrades an authenticated request to a hub connection.
func (a *API) ChatHub(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user.ID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	realtime.ServeWS(w, r, a.Upgrader, a.Hub, a.Handler, user.ID)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
