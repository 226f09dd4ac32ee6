package sqlite

import (
	"fmt"
	"time"

	"feeder/internal/model"
)

// FeedEventRepository implements repository.FeedEventRepository for SQLite.
type FeedEventRepository struct {
	db *DB
}

func NewFeedEventRepository(db *DB) *FeedEventRepository {
	return &FeedEventRepository{db: db}
}

// Insert records a feeder command.
func (r *FeedEventRepository) Insert(ev *model.FeedEvent) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO feed_events (kind, reason, plate, episode_id, at, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(ev.Kind), ev.Reason, ev.Plate, ev.EpisodeID, ev.At, ev.Err)
	if err != nil {
		return 0, fmt.Errorf("failed to insert feed event: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		ev.ID = id
	}
	return id, err
}

// GetRecent returns up to limit events, newest first.
func (r *FeedEventRepository) GetRecent(limit int) ([]model.FeedEvent, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Conn().Query(`
		SELECT id, kind, reason, plate, episode_id, at, error
		FROM feed_events ORDER BY at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query feed events: %w", err)
	}
	defer rows.Close()

	var events []model.FeedEvent
	for rows.Next() {
		var ev model.FeedEvent
		var kind string
		if err := rows.Scan(&ev.ID, &kind, &ev.Reason, &ev.Plate, &ev.EpisodeID, &ev.At, &ev.Err); err != nil {
			return nil, fmt.Errorf("failed to scan feed event: %w", err)
		}
		ev.Kind = model.FeedEventKind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountSince counts events of kind at or after since.
func (r *FeedEventRepository) CountSince(kind model.FeedEventKind, since time.Time) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM feed_events WHERE kind = ? AND at >= ?`,
		string(kind), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count feed events: %w", err)
	}
	return count, nil
}
