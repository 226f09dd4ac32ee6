package model

import "time"

type FeedEventKind string

const (
	FeedStart FeedEventKind = "start"
	FeedStop  FeedEventKind = "stop"
)

// FeedEvent is one command sent to the feeder, successful or not.
type FeedEvent struct {
	ID        int64         `json:"id"`
	Kind      FeedEventKind `json:"kind"`
	Reason    string        `json:"reason"`
	Plate     int           `json:"plate"`
	EpisodeID string        `json:"episodeId,omitempty"`
	At        time.Time     `json:"at"`
	Err       string        `json:"error,omitempty"`
}

// Failed reports whether the feeder rejected or never received the command.
func (e FeedEvent) Failed() bool {
	return e.Err != ""
}
