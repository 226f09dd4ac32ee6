package handler

import (
	"encoding/json"
	"net/http"

	"feeder/internal/dto"
	"feeder/internal/logger"
	"feeder/internal/service/websocket"

	gorilla "github.com/gorilla/websocket"
)

// StatusSource provides the most recent control-loop status.
type StatusSource interface {
	Status() dto.Status
}

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = gorilla.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusHandler returns the last published status as JSON.
func StatusHandler(source StatusSource, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, source.Status())
	}
}

// StatusWebsocketHandler subscribes a client to the status broadcast. The
// connection is read only to notice when the client goes away.
func StatusWebsocketHandler(hub *websocket.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		hub.Register(connection)
		defer hub.Unregister(connection)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if !gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
					logger.Debug("Status client dropped: %v", err)
				}
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
