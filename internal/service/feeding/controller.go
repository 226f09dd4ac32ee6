package feeding

import (
	"context"
	"sync"
	"time"

	"feeder/internal/logger"
	"feeder/internal/model"
	"feeder/internal/repository"
	"feeder/internal/timeutil"
)

const (
	// MaxStartsPerHour caps how many feeds may start in any rolling hour.
	MaxStartsPerHour = 10
	// MaxActivePerHour caps how long food may sit out in any rolling hour.
	MaxActivePerHour = 600 * time.Second
	// Linger is how long the plate stays open after the last motion.
	Linger = 30 * time.Second
	// SettleDelay gives the plate time to close before frames are trusted again.
	SettleDelay = 3 * time.Second
)

// Stop reasons recorded on feed events.
const (
	ReasonMotion    = "motion"
	ReasonLinger    = "linger"
	ReasonFreshness = "freshness"
	ReasonStartup   = "startup"
	ReasonShutdown  = "shutdown"
)

// FeederClient opens and closes the feeder plate.
type FeederClient interface {
	FeedStart(ctx context.Context, plate int) error
	FeedStop(ctx context.Context) error
}

type Action int

const (
	None Action = iota
	Started
	Stopped
)

func (a Action) String() string {
	switch a {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	}
	return "none"
}

// Decision is what one Tick did.
type Decision struct {
	Action Action
	Reason string
	Err    error
}

type Options struct {
	Plate            int
	MaxStartsPerHour int
	MaxActivePerHour time.Duration
	Linger           time.Duration
	SettleDelay      time.Duration
}

func DefaultOptions(plate int) Options {
	return Options{
		Plate:            plate,
		MaxStartsPerHour: MaxStartsPerHour,
		MaxActivePerHour: MaxActivePerHour,
		Linger:           Linger,
		SettleDelay:      SettleDelay,
	}
}

// Controller turns the per-second motion signal into feeder commands.
// Tick, Init and Shutdown are called from the control loop only; the status
// accessors may be read from other goroutines.
type Controller struct {
	opts   Options
	client FeederClient
	events repository.FeedEventRepository
	clock  timeutil.Clock
	logger *logger.Logger
	ledger *Ledger

	mu           sync.RWMutex
	feeding      bool
	startedAt    time.Time
	lastMotionAt time.Time
	episodeID    string
	capped       bool
	lastErr      error
}

// NewController creates a Controller. events may be nil.
func NewController(opts Options, client FeederClient, events repository.FeedEventRepository,
	clock timeutil.Clock, logger *logger.Logger) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{
		opts:   opts,
		client: client,
		events: events,
		clock:  clock,
		logger: logger,
		ledger: NewLedger(SecondsPerHour),
	}
}

// Init closes the plate unconditionally and waits for it to settle, so the
// background model learns a closed plate.
func (c *Controller) Init(ctx context.Context) error {
	now := c.clock.Now()
	c.logger.Info("🍽️ Closing feeder plate before start-up")
	err := c.client.FeedStop(ctx)
	if err != nil {
		c.failOpen(model.FeedStop, ReasonStartup, now, err)
	}
	c.record(model.FeedStop, ReasonStartup, now, err)

	if c.opts.SettleDelay > 0 {
		return c.clock.Sleep(ctx, c.opts.SettleDelay)
	}
	return ctx.Err()
}

// Restore replays feed starts from the event log so a restart does not reset
// the hourly start cap.
func (c *Controller) Restore(events []model.FeedEvent, now time.Time) {
	c.ledger.Advance(now)
	restored := 0
	for _, ev := range events {
		if ev.Kind != model.FeedStart || now.Sub(ev.At) >= time.Hour || ev.At.After(now) {
			continue
		}
		c.ledger.MarkStartAt(ev.At)
		restored++
	}
	if restored > 0 {
		c.logger.Info("Restored %d feed start(s) from the last hour", restored)
	}
}

// SetEpisode tags subsequent feed events with the current motion episode.
func (c *Controller) SetEpisode(id string) {
	c.mu.Lock()
	c.episodeID = id
	c.mu.Unlock()
}

// Tick applies the feeding policy for one second.
func (c *Controller) Tick(ctx context.Context, motion bool, now time.Time) Decision {
	c.ledger.Advance(now)

	c.mu.RLock()
	feeding := c.feeding
	c.mu.RUnlock()

	var decision Decision
	maxActive := int(c.opts.MaxActivePerHour / time.Second)

	switch {
	case motion && !feeding:
		if c.ledger.Starts() >= c.opts.MaxStartsPerHour {
			if !c.capped {
				c.logger.Warning("Motion ignored, hourly start cap reached (%d starts)", c.ledger.Starts())
				c.capped = true
			}
			break
		}
		c.capped = false
		decision = c.start(ctx, now)

	case motion && feeding:
		c.mu.Lock()
		c.lastMotionAt = now
		c.mu.Unlock()
		if c.ledger.ActiveSeconds() >= maxActive {
			decision = c.stop(ctx, ReasonFreshness, now)
		}

	case !motion && feeding:
		c.mu.RLock()
		idle := now.Sub(c.lastMotionAt)
		c.mu.RUnlock()
		if idle >= c.opts.Linger {
			decision = c.stop(ctx, ReasonLinger, now)
		}

	default:
		c.capped = false
	}

	if c.Feeding() {
		c.ledger.MarkActive()
	}
	return decision
}

func (c *Controller) start(ctx context.Context, now time.Time) Decision {
	c.logger.Info("🍽️ Opening plate %d at %s", c.opts.Plate, now.Format("15:04:05"))
	err := c.client.FeedStart(ctx, c.opts.Plate)
	if err != nil {
		c.failOpen(model.FeedStart, ReasonMotion, now, err)
	}
	c.record(model.FeedStart, ReasonMotion, now, err)

	c.mu.Lock()
	c.feeding = true
	c.startedAt = now
	c.lastMotionAt = now
	c.mu.Unlock()
	c.ledger.MarkStart()

	return Decision{Action: Started, Reason: ReasonMotion, Err: err}
}

func (c *Controller) stop(ctx context.Context, reason string, now time.Time) Decision {
	c.mu.RLock()
	open := now.Sub(c.startedAt).Round(time.Second)
	c.mu.RUnlock()

	c.logger.Info("🍽️ Closing plate (%s) after %s", reason, open)
	err := c.client.FeedStop(ctx)
	if err != nil {
		c.failOpen(model.FeedStop, reason, now, err)
	}
	c.record(model.FeedStop, reason, now, err)

	c.mu.Lock()
	c.feeding = false
	c.startedAt = time.Time{}
	c.mu.Unlock()

	return Decision{Action: Stopped, Reason: reason, Err: err}
}

// failOpen handles a failed feeder command: the error is logged and kept for
// status, and the caller still advances local state as if the command had
// succeeded.
func (c *Controller) failOpen(kind model.FeedEventKind, reason string, now time.Time, err error) {
	c.logger.Error("Feeder command %s (%s) failed at %s, continuing: %v",
		kind, reason, now.Format("2006-01-02 15:04:05"), err)
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Controller) record(kind model.FeedEventKind, reason string, now time.Time, err error) {
	if c.events == nil {
		return
	}

	c.mu.RLock()
	ev := &model.FeedEvent{
		Kind:      kind,
		Reason:    reason,
		Plate:     c.opts.Plate,
		EpisodeID: c.episodeID,
		At:        now,
	}
	c.mu.RUnlock()
	if err != nil {
		ev.Err = err.Error()
	}

	if _, err := c.events.Insert(ev); err != nil {
		c.logger.Warning("Failed to record feed event: %v", err)
	}
}

// Shutdown leaves the plate closed. It is best effort and always sends the stop.
func (c *Controller) Shutdown(ctx context.Context) {
	now := c.clock.Now()
	err := c.client.FeedStop(ctx)
	if err != nil {
		c.failOpen(model.FeedStop, ReasonShutdown, now, err)
	}
	c.record(model.FeedStop, ReasonShutdown, now, err)

	c.mu.Lock()
	c.feeding = false
	c.mu.Unlock()
}

func (c *Controller) Feeding() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feeding
}

func (c *Controller) StartedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startedAt
}

// LastError is the most recent feeder failure, nil if none.
func (c *Controller) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Ledger exposes the rolling hour; only the control loop may use it.
func (c *Controller) Ledger() *Ledger {
	return c.ledger
}
