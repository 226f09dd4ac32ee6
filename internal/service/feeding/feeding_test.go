package feeding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feeder/internal/logger"
	"feeder/internal/model"
	"feeder/internal/timeutil"
)

type fakeFeeder struct {
	mu     sync.Mutex
	starts []int
	stops  int
	err    error
}

func (f *fakeFeeder) FeedStart(ctx context.Context, plate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, plate)
	return f.err
}

func (f *fakeFeeder) FeedStop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.err
}

type memoryEvents struct {
	events []model.FeedEvent
}

func (m *memoryEvents) Insert(ev *model.FeedEvent) (int64, error) {
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, *ev)
	return ev.ID, nil
}

func (m *memoryEvents) GetRecent(limit int) ([]model.FeedEvent, error) {
	return m.events, nil
}

func (m *memoryEvents) CountSince(kind model.FeedEventKind, since time.Time) (int, error) {
	n := 0
	for _, ev := range m.events {
		if ev.Kind == kind && !ev.At.Before(since) {
			n++
		}
	}
	return n, nil
}

var epoch = time.Date(2025, 10, 5, 18, 0, 0, 0, time.UTC)

func newTestController(feeder *fakeFeeder, events *memoryEvents) *Controller {
	return NewController(DefaultOptions(2), feeder, events, timeutil.NewMockClock(epoch), logger.NewDiscard())
}

// ========================================
// Ledger
// ========================================

func TestLedger_EvictsAfterAnHour(t *testing.T) {
	l := NewLedger(SecondsPerHour)
	l.Advance(epoch)
	l.MarkStart()
	l.MarkActive()

	l.Advance(epoch.Add(SecondsPerHour*time.Second - time.Second))
	if l.Starts() != 1 || l.ActiveSeconds() != 1 {
		t.Fatalf("Marks should survive 3599s, got starts=%d active=%d", l.Starts(), l.ActiveSeconds())
	}

	l.Advance(epoch.Add(SecondsPerHour * time.Second))
	if l.Starts() != 0 || l.ActiveSeconds() != 0 {
		t.Errorf("Marks should be evicted after an hour, got starts=%d active=%d", l.Starts(), l.ActiveSeconds())
	}
	if l.Len() != SecondsPerHour {
		t.Errorf("Ledger length changed to %d", l.Len())
	}
}

func TestLedger_SkippedSecondsAreEvicted(t *testing.T) {
	l := NewLedger(10)
	for i := 0; i < 5; i++ {
		l.Advance(epoch.Add(time.Duration(i) * time.Second))
		l.MarkActive()
	}

	// jump over slots 5..11; slots 0 and 1 fall out of the window
	l.Advance(epoch.Add(11 * time.Second))
	if l.ActiveSeconds() != 3 {
		t.Errorf("Expected 3 active seconds, got %d", l.ActiveSeconds())
	}

	l.Advance(epoch.Add(time.Hour))
	if l.ActiveSeconds() != 0 {
		t.Errorf("A gap longer than the window should clear it, got %d", l.ActiveSeconds())
	}
}

func TestLedger_MarkIsIdempotentWithinASecond(t *testing.T) {
	l := NewLedger(SecondsPerHour)
	l.Advance(epoch)
	l.MarkActive()
	l.MarkActive()
	l.Advance(epoch.Add(-time.Second))
	l.MarkActive()

	if l.ActiveSeconds() != 1 {
		t.Errorf("Expected 1 active second, got %d", l.ActiveSeconds())
	}
}

func TestLedger_MarkStartAt(t *testing.T) {
	l := NewLedger(SecondsPerHour)
	l.Advance(epoch)
	l.MarkStartAt(epoch.Add(-10 * time.Minute))
	l.MarkStartAt(epoch.Add(-2 * time.Hour))
	l.MarkStartAt(epoch.Add(time.Minute))

	if l.Starts() != 1 {
		t.Errorf("Only the start inside the window should count, got %d", l.Starts())
	}
}

// ========================================
// Controller
// ========================================

func TestController_InitClosesAndSettles(t *testing.T) {
	feeder := &fakeFeeder{}
	events := &memoryEvents{}
	clock := timeutil.NewMockClock(epoch)
	c := NewController(DefaultOptions(1), feeder, events, clock, logger.NewDiscard())

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if feeder.stops != 1 {
		t.Errorf("Expected one stop on init, got %d", feeder.stops)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != SettleDelay {
		t.Errorf("Expected a %s settle delay, got %v", SettleDelay, sleeps)
	}
	if len(events.events) != 1 || events.events[0].Reason != ReasonStartup {
		t.Errorf("Expected a startup stop event, got %+v", events.events)
	}
}

func TestController_StartsOnMotion(t *testing.T) {
	feeder := &fakeFeeder{}
	c := newTestController(feeder, &memoryEvents{})

	d := c.Tick(context.Background(), true, epoch)
	if d.Action != Started {
		t.Fatalf("Expected Started, got %+v", d)
	}
	if len(feeder.starts) != 1 || feeder.starts[0] != 2 {
		t.Errorf("Expected one start on plate 2, got %v", feeder.starts)
	}
	if !c.Feeding() || c.Ledger().Starts() != 1 || c.Ledger().ActiveSeconds() != 1 {
		t.Errorf("Unexpected state: feeding=%v starts=%d active=%d", c.Feeding(), c.Ledger().Starts(), c.Ledger().ActiveSeconds())
	}

	d = c.Tick(context.Background(), true, epoch.Add(time.Second))
	if d.Action != None || len(feeder.starts) != 1 {
		t.Errorf("Continued motion must not re-issue a start")
	}
}

func TestController_StopsAtActiveBoundary(t *testing.T) {
	feeder := &fakeFeeder{}
	c := newTestController(feeder, &memoryEvents{})
	ctx := context.Background()

	now := epoch
	c.Tick(ctx, true, now)
	for i := 1; i < 600; i++ {
		now = epoch.Add(time.Duration(i) * time.Second)
		if d := c.Tick(ctx, true, now); d.Action != None {
			t.Fatalf("Tick %d: unexpected %+v", i, d)
		}
	}
	if c.Ledger().ActiveSeconds() != 600 {
		t.Fatalf("Expected exactly 600 active marks, got %d", c.Ledger().ActiveSeconds())
	}

	d := c.Tick(ctx, true, epoch.Add(600*time.Second))
	if d.Action != Stopped || d.Reason != ReasonFreshness {
		t.Fatalf("Expected freshness stop on the tick after the 600th mark, got %+v", d)
	}
	if c.Feeding() || feeder.stops != 1 {
		t.Errorf("Expected plate closed with one stop, got feeding=%v stops=%d", c.Feeding(), feeder.stops)
	}

	// only the start cap blocks a start, so continued motion reopens the plate
	d = c.Tick(ctx, true, epoch.Add(601*time.Second))
	if d.Action != Started || !c.Feeding() {
		t.Fatalf("Expected the plate reopened with 1 of %d starts used, got %+v", MaxStartsPerHour, d)
	}
	if len(feeder.starts) != 2 || c.Ledger().Starts() != 2 {
		t.Errorf("Expected 2 starts, got %d calls / %d marks", len(feeder.starts), c.Ledger().Starts())
	}

	// the active sum is still over the cap, so the next motion tick closes it again
	d = c.Tick(ctx, true, epoch.Add(602*time.Second))
	if d.Action != Stopped || d.Reason != ReasonFreshness {
		t.Errorf("Expected freshness stop while over the active cap, got %+v", d)
	}
}

func TestController_StartCap(t *testing.T) {
	feeder := &fakeFeeder{}
	c := newTestController(feeder, &memoryEvents{})
	ctx := context.Background()

	c.Ledger().Advance(epoch)
	for i := 0; i < MaxStartsPerHour; i++ {
		c.Ledger().MarkStartAt(epoch.Add(-time.Duration(i+1) * time.Minute))
	}
	if c.Ledger().Starts() != 10 {
		t.Fatalf("Expected 10 start marks, got %d", c.Ledger().Starts())
	}

	d := c.Tick(ctx, true, epoch.Add(time.Second))
	if d.Action != None || c.Feeding() || len(feeder.starts) != 0 {
		t.Errorf("Start cap ignored: %+v feeding=%v starts=%d", d, c.Feeding(), len(feeder.starts))
	}

	// the oldest mark leaves the window 50 minutes later
	d = c.Tick(ctx, true, epoch.Add(50*time.Minute+time.Second))
	if d.Action != Started {
		t.Errorf("Expected a start once the cap frees up, got %+v", d)
	}
}

func TestController_LingerStopsAfterThirtySeconds(t *testing.T) {
	feeder := &fakeFeeder{}
	c := newTestController(feeder, &memoryEvents{})
	ctx := context.Background()

	c.Tick(ctx, true, epoch)
	stops := 0
	for i := 1; i <= 30; i++ {
		d := c.Tick(ctx, false, epoch.Add(time.Duration(i)*time.Second))
		if d.Action == Stopped {
			stops++
			if i != 30 {
				t.Errorf("Stopped early at tick %d", i)
			}
			if d.Reason != ReasonLinger {
				t.Errorf("Expected linger reason, got %s", d.Reason)
			}
		}
	}
	if stops != 1 || feeder.stops != 1 {
		t.Errorf("Expected exactly one stop, got %d (feeder %d)", stops, feeder.stops)
	}
	if c.Feeding() {
		t.Error("Expected feeding=false after linger")
	}

	// further quiet ticks do nothing
	c.Tick(ctx, false, epoch.Add(31*time.Second))
	if feeder.stops != 1 {
		t.Errorf("Expected no further stops, got %d", feeder.stops)
	}
}

func TestController_MotionResumingCancelsLinger(t *testing.T) {
	feeder := &fakeFeeder{}
	c := newTestController(feeder, &memoryEvents{})
	ctx := context.Background()

	c.Tick(ctx, true, epoch)
	for i := 1; i < 29; i++ {
		c.Tick(ctx, false, epoch.Add(time.Duration(i)*time.Second))
	}
	c.Tick(ctx, true, epoch.Add(29*time.Second))

	if feeder.stops != 0 || !c.Feeding() {
		t.Fatalf("Expected zero stops and feeding=true, got stops=%d feeding=%v", feeder.stops, c.Feeding())
	}

	// the linger restarts from the last motion tick
	for i := 30; i < 59; i++ {
		if d := c.Tick(ctx, false, epoch.Add(time.Duration(i)*time.Second)); d.Action == Stopped {
			t.Fatalf("Stopped at %d, linger should restart at 29", i)
		}
	}
	if d := c.Tick(ctx, false, epoch.Add(59*time.Second)); d.Action != Stopped {
		t.Errorf("Expected stop 30s after the resumed motion, got %+v", d)
	}
}

func TestController_FailOpen(t *testing.T) {
	feeder := &fakeFeeder{err: errors.New("network unreachable")}
	events := &memoryEvents{}
	c := newTestController(feeder, events)
	ctx := context.Background()

	d := c.Tick(ctx, true, epoch)
	if d.Action != Started || d.Err == nil {
		t.Fatalf("Expected a failed start to still report Started, got %+v", d)
	}
	if !c.Feeding() {
		t.Error("Local state must advance as if the command succeeded")
	}
	if c.LastError() == nil {
		t.Error("Expected the failure to be kept for status")
	}

	for i := 1; i <= 30; i++ {
		c.Tick(ctx, false, epoch.Add(time.Duration(i)*time.Second))
	}
	if c.Feeding() {
		t.Error("Failed stop must still clear feeding")
	}

	if len(events.events) != 2 || !events.events[0].Failed() || !events.events[1].Failed() {
		t.Errorf("Expected two failed events, got %+v", events.events)
	}
}

func TestController_EventsCarryEpisode(t *testing.T) {
	feeder := &fakeFeeder{}
	events := &memoryEvents{}
	c := newTestController(feeder, events)

	c.SetEpisode("ep-42")
	c.Tick(context.Background(), true, epoch)

	if len(events.events) != 1 || events.events[0].EpisodeID != "ep-42" || events.events[0].Plate != 2 {
		t.Errorf("Unexpected event: %+v", events.events)
	}
}

func TestController_RestoreAndShutdown(t *testing.T) {
	feeder := &fakeFeeder{}
	events := &memoryEvents{}
	c := newTestController(feeder, events)

	history := []model.FeedEvent{
		{Kind: model.FeedStart, At: epoch.Add(-30 * time.Minute)},
		{Kind: model.FeedStop, At: epoch.Add(-29 * time.Minute)},
		{Kind: model.FeedStart, At: epoch.Add(-3 * time.Hour)},
	}
	c.Restore(history, epoch)
	if c.Ledger().Starts() != 1 {
		t.Errorf("Expected 1 restored start, got %d", c.Ledger().Starts())
	}

	c.Tick(context.Background(), true, epoch)
	c.Shutdown(context.Background())
	if c.Feeding() || feeder.stops != 1 {
		t.Errorf("Shutdown should close the plate, got feeding=%v stops=%d", c.Feeding(), feeder.stops)
	}
	last := events.events[len(events.events)-1]
	if last.Reason != ReasonShutdown {
		t.Errorf("Expected shutdown event, got %+v", last)
	}
}
