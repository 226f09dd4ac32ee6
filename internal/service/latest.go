package service

import (
	"sync"
	"time"
)

// Snapshot is what the acquisition loop publishes once per sampled tick.
type Snapshot struct {
	Motion     bool
	WarmingUp  bool
	Seq        uint64
	At         time.Time
	Brightness float64
	EpisodeID  string
	Healthy    bool
}

// Latest is a single-slot mailbox between the acquisition loop (sole writer)
// and the control loop (sole reader). A new snapshot overwrites an unread one;
// the reader only ever sees the latest value, at most one tick old.
type Latest struct {
	mu       sync.Mutex
	snapshot Snapshot
	set      bool
	unread   bool

	// overwritten before the reader got to them
	drops uint64
}

func NewLatest() *Latest {
	return &Latest{}
}

// Put publishes s. It never blocks on the reader.
func (l *Latest) Put(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unread {
		l.drops++
	}
	l.snapshot = s
	l.set = true
	l.unread = true
}

// Get returns the latest snapshot and whether one was ever published.
func (l *Latest) Get() (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.unread = false
	return l.snapshot, l.set
}

// Drops is the number of snapshots replaced before they were read.
func (l *Latest) Drops() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drops
}
