// Status is the live state broadcast to status clients once per control tick.
package dto

import "time"

type Status struct {
	At              time.Time `json:"at"`
	Motion          bool      `json:"motion"`
	EpisodeID       string    `json:"episodeId,omitempty"`
	Feeding         bool      `json:"feeding"`
	FeedingSince    time.Time `json:"feedingSince,omitempty"`
	StartsInHour    int       `json:"startsInHour"`
	ActiveInHour    int       `json:"activeSecondsInHour"`
	Brightness      float64   `json:"brightness"`
	Torch           bool      `json:"torch"`
	StreamHealthy   bool      `json:"streamHealthy"`
	HourlyBytes     int64     `json:"hourlyBytes"`
	OriginalBytes   int64     `json:"originalBytes"`
	LastFeedError   string    `json:"lastFeedError,omitempty"`
	SnapshotSeq     uint64    `json:"snapshotSeq"`
	SnapshotAgeSecs float64   `json:"snapshotAgeSeconds"`
}
