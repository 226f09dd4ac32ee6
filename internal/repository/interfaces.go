package repository

import (
	"time"

	"feeder/internal/dto"
	"feeder/internal/model"
)

// RecordingRepository defines the interface for the recordings catalogue.
type RecordingRepository interface {
	// Create operations
	Insert(rec *model.Recording) (int64, error)

	// Update operations
	UpdateSize(path string, size int64, closedAt time.Time) error

	// Read operations
	GetAll(filter *dto.RecordingFilter) ([]model.Recording, error)
	GetTotalCount(filter *dto.RecordingFilter) (int, error)
	GetTotalSize(prefix string) (int64, error)

	// Delete operations
	DeleteByPath(path string) error
	DeleteAll() error
}

// FeedEventRepository defines the interface for the feeder command log.
type FeedEventRepository interface {
	Insert(ev *model.FeedEvent) (int64, error)
	GetRecent(limit int) ([]model.FeedEvent, error)
	CountSince(kind model.FeedEventKind, since time.Time) (int, error)
}
