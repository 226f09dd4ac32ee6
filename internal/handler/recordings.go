package handler

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"feeder/internal/config"
	"feeder/internal/dto"
	"feeder/internal/logger"
	"feeder/internal/model"
	"feeder/internal/repository"
)

// RecordingsHandler returns a page of the recordings catalogue, newest first.
// Query: page, limit, prefix (hourly_/original_), episode, after, before (RFC 3339 or 2006-01-02).
func RecordingsHandler(cfg *config.Config, logger *logger.Logger, recordings repository.RecordingRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &dto.RecordingFilter{
			Prefix:    q.Get("prefix"),
			EpisodeID: q.Get("episode"),
			After:     parseTime(q.Get("after")),
			Before:    parseTime(q.Get("before")),
			Limit:     limit,
			Offset:    (page - 1) * limit,
		}

		list, err := recordings.GetAll(filter)
		if err != nil {
			logger.Error("Error querying recordings: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := recordings.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting recordings: %v", err)
			totalCount = len(list)
		}

		totalSize, err := recordings.GetTotalSize(filter.Prefix)
		if err != nil {
			logger.Error("Error getting recordings size: %v", err)
			totalSize = 0
		}

		if list == nil {
			list = []model.Recording{}
		}
		writeJSON(w, logger, dto.RecordingsData{
			Recordings:  list,
			Directory:   cfg.RecordingsDirectory,
			Size:        totalSize,
			MaxSize:     sizeLimit(cfg, filter.Prefix),
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// RecordingFileHandler serves one recording named by the "name" query parameter.
func RecordingFileHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Query().Get("name"))
		if name == "." || name == "/" || !strings.HasSuffix(name, model.RecordingExt) {
			http.Error(w, "Recording name is required", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.RecordingsDirectory, name))
	}
}

func sizeLimit(cfg *config.Config, prefix string) int64 {
	switch prefix {
	case model.PrefixHourly:
		return cfg.HourlySizeLimit
	case model.PrefixOriginal:
		return cfg.OriginalSizeLimit
	}
	return cfg.HourlySizeLimit + cfg.OriginalSizeLimit
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseTime accepts RFC 3339 or a plain date; anything else is no bound.
func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if t, err := time.ParseInLocation("2006-01-02", v, time.Local); err == nil {
		return t
	}
	return time.Time{}
}
