package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"feeder/internal/dto"
	"feeder/internal/model"
)

// RecordingRepository implements repository.RecordingRepository for SQLite.
type RecordingRepository struct {
	db *DB
}

// NewRecordingRepository creates a new SQLite recording repository.
func NewRecordingRepository(db *DB) *RecordingRepository {
	return &RecordingRepository{db: db}
}

// Insert adds a recording; re-inserting a known path refreshes its row.
func (r *RecordingRepository) Insert(rec *model.Recording) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO recordings (filename, prefix, episode_id, filepath, filesize, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(filepath) DO UPDATE SET
			filesize = excluded.filesize,
			created_at = excluded.created_at
	`, rec.Filename, rec.Prefix, rec.EpisodeID, rec.FilePath, rec.FileSize, rec.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert recording: %w", err)
	}

	return result.LastInsertId()
}

// UpdateSize stores the final size of a closed recording.
func (r *RecordingRepository) UpdateSize(path string, size int64, closedAt time.Time) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`UPDATE recordings SET filesize = ?, closed_at = ? WHERE filepath = ?`,
		size, closedAt, path); err != nil {
		return fmt.Errorf("failed to update recording size: %w", err)
	}
	return nil
}

func whereRecordings(filter *dto.RecordingFilter) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}
	if filter == nil {
		return where, args
	}

	if filter.Prefix != "" {
		where += " AND prefix = ?"
		args = append(args, filter.Prefix)
	}
	if filter.EpisodeID != "" {
		where += " AND episode_id = ?"
		args = append(args, filter.EpisodeID)
	}
	if !filter.After.IsZero() {
		where += " AND created_at >= ?"
		args = append(args, filter.After)
	}
	if !filter.Before.IsZero() {
		where += " AND created_at <= ?"
		args = append(args, filter.Before)
	}
	return where, args
}

// GetAll retrieves recordings, newest first, based on filter criteria.
func (r *RecordingRepository) GetAll(filter *dto.RecordingFilter) ([]model.Recording, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereRecordings(filter)
	query := `SELECT id, filename, prefix, episode_id, filepath, filesize, created_at, closed_at FROM recordings` +
		where + " ORDER BY created_at DESC, id DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer rows.Close()

	var recordings []model.Recording
	for rows.Next() {
		var rec model.Recording
		var closedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.Prefix, &rec.EpisodeID, &rec.FilePath,
			&rec.FileSize, &rec.CreatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		if closedAt.Valid {
			rec.ClosedAt = closedAt.Time
		}
		recordings = append(recordings, rec)
	}

	return recordings, rows.Err()
}

// GetTotalCount returns the number of recordings matching the filter.
func (r *RecordingRepository) GetTotalCount(filter *dto.RecordingFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereRecordings(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM recordings`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recordings: %w", err)
	}
	return count, nil
}

// GetTotalSize sums catalogued sizes for a prefix; an empty prefix sums everything.
func (r *RecordingRepository) GetTotalSize(prefix string) (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var size int64
	err := r.db.Conn().QueryRow(`
		SELECT COALESCE(SUM(filesize), 0) FROM recordings WHERE ? = '' OR prefix = ?
	`, prefix, prefix).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("failed to sum recording sizes: %w", err)
	}
	return size, nil
}

// DeleteByPath removes a recording row; unknown paths are not an error.
func (r *RecordingRepository) DeleteByPath(path string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM recordings WHERE filepath = ?`, path); err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	return nil
}

// DeleteAll empties the catalogue; used when re-indexing.
func (r *RecordingRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM recordings`); err != nil {
		return fmt.Errorf("failed to delete recordings: %w", err)
	}
	return nil
}
