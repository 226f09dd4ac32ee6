package feeding

import "time"

// SecondsPerHour is the ledger length: one slot per second of the rolling hour.
const SecondsPerHour = 3600

// Ledger tracks, per second of the last rolling hour, whether feeding was active
// and whether a feed was newly started. Both sums are kept incrementally.
type Ledger struct {
	active    []bool
	starts    []bool
	activeSum int
	startSum  int

	last    int64 // unix second of the newest slot
	started bool
}

// NewLedger creates an empty ledger with size one-second slots.
func NewLedger(size int) *Ledger {
	if size < 1 {
		size = SecondsPerHour
	}
	return &Ledger{
		active: make([]bool, size),
		starts: make([]bool, size),
	}
}

func (l *Ledger) slot(sec int64) int {
	n := int64(len(l.active))
	return int(((sec % n) + n) % n)
}

// Advance moves the ledger to now, evicting every slot that fell out of the
// window, including seconds that were skipped between ticks. Time going
// backwards leaves the ledger where it is.
func (l *Ledger) Advance(now time.Time) {
	sec := now.Unix()
	if !l.started {
		l.started = true
		l.last = sec
		return
	}
	if sec <= l.last {
		return
	}

	if sec-l.last >= int64(len(l.active)) {
		l.Reset()
		l.started = true
		l.last = sec
		return
	}
	for s := l.last + 1; s <= sec; s++ {
		l.evict(l.slot(s))
	}
	l.last = sec
}

func (l *Ledger) evict(i int) {
	if l.active[i] {
		l.active[i] = false
		l.activeSum--
	}
	if l.starts[i] {
		l.starts[i] = false
		l.startSum--
	}
}

// MarkActive records that feeding was active during the current second.
func (l *Ledger) MarkActive() {
	i := l.slot(l.last)
	if !l.active[i] {
		l.active[i] = true
		l.activeSum++
	}
}

// MarkStart records a newly issued feed during the current second.
func (l *Ledger) MarkStart() {
	l.markStart(l.last)
}

// MarkStartAt records a start at an earlier second still inside the window.
// Starts outside the window, or in the future, are ignored.
func (l *Ledger) MarkStartAt(t time.Time) {
	sec := t.Unix()
	if !l.started || sec > l.last || l.last-sec >= int64(len(l.starts)) {
		return
	}
	l.markStart(sec)
}

func (l *Ledger) markStart(sec int64) {
	i := l.slot(sec)
	if !l.starts[i] {
		l.starts[i] = true
		l.startSum++
	}
}

// ActiveSeconds is the number of seconds feeding was active in the window.
func (l *Ledger) ActiveSeconds() int { return l.activeSum }

// Starts is the number of feeds started in the window.
func (l *Ledger) Starts() int { return l.startSum }

// Len is the constant window length in seconds.
func (l *Ledger) Len() int { return len(l.active) }

// Reset empties the ledger.
func (l *Ledger) Reset() {
	for i := range l.active {
		l.active[i] = false
		l.starts[i] = false
	}
	l.activeSum = 0
	l.startSum = 0
	l.started = false
	l.last = 0
}
