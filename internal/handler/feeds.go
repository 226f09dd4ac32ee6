package handler

import (
	"net/http"

	"feeder/internal/logger"
	"feeder/internal/model"
	"feeder/internal/repository"
)

const maxFeedEvents = 500

// FeedsHandler lists recent feeder commands, newest first, failures included.
func FeedsHandler(logger *logger.Logger, events repository.FeedEventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := atoiDefault(r.URL.Query().Get("limit"), 50)
		if limit > maxFeedEvents {
			limit = maxFeedEvents
		}

		list, err := events.GetRecent(limit)
		if err != nil {
			logger.Error("Error querying feed events: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []model.FeedEvent{}
		}
		writeJSON(w, logger, list)
	}
}
