package route

import (
	"net/http"

	"feeder/internal/config"
	"feeder/internal/handler"
	"feeder/internal/logger"
	"feeder/internal/middleware"
	"feeder/internal/repository"
	"feeder/internal/service/websocket"
)

// SetupRoutes registers the status API and log endpoints and wraps the mux
// with the token middleware.
func SetupRoutes(status handler.StatusSource, hub *websocket.HubService, cfg *config.Config, logger *logger.Logger,
	recordings repository.RecordingRepository, feedEvents repository.FeedEventRepository) http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/status", handler.StatusHandler(status, logger))
	mux.HandleFunc("/api/status/ws", handler.StatusWebsocketHandler(hub, logger))
	mux.HandleFunc("/api/recordings", handler.RecordingsHandler(cfg, logger, recordings))
	mux.HandleFunc("/api/recordings/view", handler.RecordingFileHandler(cfg))
	mux.HandleFunc("/api/feeds", handler.FeedsHandler(logger, feedEvents))

	// Log endpoints
	for level, file := range handler.LogFiles {
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(cfg, file))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(logger, file))
	}

	return middleware.TokenMiddleware(cfg.StatusToken, mux)
}
