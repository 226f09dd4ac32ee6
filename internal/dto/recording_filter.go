// RecordingFilter narrows the recordings list.
package dto

import "time"

type RecordingFilter struct {
	Prefix    string
	EpisodeID string
	After     time.Time
	Before    time.Time
	Limit     int
	Offset    int
}
