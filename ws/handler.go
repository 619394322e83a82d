package ws

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tcriess/lightspeed-meeting/auth"
	"github.com/tcriess/lightspeed-meeting/room"
)

// Handler upgrades meeting connections and serves the admin endpoints.
type Handler struct {
	hub      *Hub
	resolver *auth.Resolver
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, resolver *auth.Resolver) *Handler {
	return &Handler{
		hub:      hub,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes adds the meeting routes to router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/meeting", h.websocketHandler).Methods(http.MethodGet)
	router.HandleFunc("/health", h.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/rooms", h.statsHandler).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{room}", h.snapshotHandler).Methods(http.MethodGet)
}

// Handle incoming websockets
func (h *Handler) websocketHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := h.resolver.Resolve(r)
	if err != nil {
		h.hub.logger.Info("rejected connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	// Upgrade HTTP request to Websocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Error("websocket upgrade error", "error", err)
		return
	}

	c := NewClient(h.hub, conn, identity, h.hub.Cfg.SessionConfig.SendBuffer)
	h.hub.logger.Debug("connection established", "conn", c.Id(), "participant", identity.Id)
	go c.WriteLoop()
	c.ReadLoop()
	h.hub.logger.Debug("connection closed", "conn", c.Id(), "participant", identity.Id)
}

func (h *Handler) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) statsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		room.Stats
		RoomIds []string `json:"room_ids"`
	}{
		Stats:   h.hub.registry.Stats(),
		RoomIds: h.hub.registry.RoomIds(),
	})
}

func (h *Handler) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := h.hub.registry.Snapshot(mux.Vars(r)["room"])
	if errors.Is(err, room.ErrRoomNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
