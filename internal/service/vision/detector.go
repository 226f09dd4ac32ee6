package vision

import (
	"fmt"
	"image"
	"time"

	"feeder/internal/logger"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

const (
	// WindowSize is the number of background frames averaged into the reference.
	WindowSize = 10
	// MotionRatio is the minimum changed-region area, as a fraction of the frame,
	// that counts as motion. It is sized to the feeding plate (~0.011 of the frame).
	MotionRatio = 0.015
	// StableRatio is the much tighter fraction used to decide a frame did not change at all.
	StableRatio = 0.001
	// MaxStableTicks is how many unchanged sampled frames an episode tolerates before
	// it is treated as a frozen stream.
	MaxStableTicks = 30
	// MaxEpisode caps a single motion episode.
	MaxEpisode = 20 * time.Minute
)

type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

type Transition int

const (
	NoTransition Transition = iota
	Started
	Ended
	Reset
)

func (t Transition) String() string {
	switch t {
	case Started:
		return "started"
	case Ended:
		return "ended"
	case Reset:
		return "reset"
	default:
		return "none"
	}
}

const (
	ReasonStable  = "stable"
	ReasonTimeout = "timeout"
	ReasonResize  = "resize"
)

// Options tunes the detector; DefaultOptions holds the production values.
type Options struct {
	WindowSize     int
	MotionRatio    float64
	StableRatio    float64
	MaxStableTicks int
	MaxEpisode     time.Duration
	DrawRegions    bool
}

func DefaultOptions() Options {
	return Options{
		WindowSize:     WindowSize,
		MotionRatio:    MotionRatio,
		StableRatio:    StableRatio,
		MaxStableTicks: MaxStableTicks,
		MaxEpisode:     MaxEpisode,
		DrawRegions:    true,
	}
}

// Result describes what one sampled tick did.
type Result struct {
	Motion     bool
	WarmingUp  bool
	Appended   bool
	Transition Transition
	Reason     string
	EpisodeID  string
	Regions    []image.Rectangle
}

// Detector classifies sampled frames against a rolling background average.
// It is driven from a single goroutine and is not safe for concurrent use.
type Detector struct {
	opts   Options
	window *ReferenceWindow
	logger *logger.Logger

	state       State
	activeSince time.Time
	episodeID   string

	lastGray    gocv.Mat
	hasLast     bool
	stableTicks int
}

// NewDetector creates an idle detector with an empty reference window.
func NewDetector(opts Options, logger *logger.Logger) *Detector {
	return &Detector{
		opts:     opts,
		window:   NewReferenceWindow(opts.WindowSize),
		logger:   logger,
		lastGray: gocv.NewMat(),
	}
}

func (d *Detector) State() State           { return d.state }
func (d *Detector) EpisodeID() string      { return d.episodeID }
func (d *Detector) ActiveSince() time.Time { return d.activeSince }
func (d *Detector) WindowLen() int         { return d.window.Len() }
func (d *Detector) StableTicks() int       { return d.stableTicks }

// Process classifies one sampled frame. When regions are found and drawing is
// enabled they are outlined on frame.
func (d *Detector) Process(frame *gocv.Mat, now time.Time) (Result, error) {
	gray, err := Gray(*frame)
	if err != nil {
		return Result{}, err
	}
	defer gray.Close()

	// a reconnect may bring the stream back at another resolution
	if !d.window.Fits(gray) {
		return d.restart(gray, now), nil
	}

	if !d.window.Full() {
		d.window.Push(gray)
		return Result{WarmingUp: true, Appended: true}, nil
	}

	reference := d.window.Mean()
	defer reference.Close()

	cmp, err := Compare(reference, gray, d.opts.MotionRatio)
	if err != nil {
		return Result{}, fmt.Errorf("failed to compare against reference: %w", err)
	}
	if d.opts.DrawRegions && cmp.Changed {
		if err := DrawRegions(frame, cmp.Regions); err != nil {
			d.logger.Warning("Failed to draw motion regions: %v", err)
		}
	}

	result := Result{Motion: cmp.Changed, Regions: cmp.Regions}

	switch {
	case cmp.Changed && d.state == Idle:
		d.state = Active
		d.activeSince = now
		d.episodeID = uuid.New().String()
		d.stableTicks = 0
		result.Transition = Started
		d.logger.Debug("Motion started at %s (largest region %.0f px)", now.Format("2006-01-02 15:04:05"), cmp.LargestArea)
	case !cmp.Changed && d.state == Active:
		d.logger.Debug("Motion ended at %s after %s", now.Format("2006-01-02 15:04:05"), now.Sub(d.activeSince).Round(time.Second))
		result.EpisodeID = d.episodeID
		d.state = Idle
		d.activeSince = time.Time{}
		d.episodeID = ""
		d.stableTicks = 0
		result.Transition = Ended
	}

	// the reference is frozen during motion so the subject never becomes background
	if !cmp.Changed {
		d.window.Push(gray)
		result.Appended = true
	}

	if d.hasLast && cmp.Changed {
		stable, err := Compare(d.lastGray, gray, d.opts.StableRatio)
		if err != nil {
			return result, fmt.Errorf("failed to compare against previous frame: %w", err)
		}
		if stable.Changed {
			d.stableTicks = 0
		} else {
			d.stableTicks++
		}
		if d.stableTicks > d.opts.MaxStableTicks {
			d.logger.Debug("Stable frames cause motion soft reboot at %s", now.Format("2006-01-02 15:04:05"))
			d.reset(&result, ReasonStable)
		}
	}

	d.lastGray.Close()
	d.lastGray = gray.Clone()
	d.hasLast = true

	if d.state == Active && now.Sub(d.activeSince) > d.opts.MaxEpisode {
		d.logger.Debug("Motion soft reboot at %s", now.Format("2006-01-02 15:04:05"))
		d.reset(&result, ReasonTimeout)
	}

	if result.EpisodeID == "" {
		result.EpisodeID = d.episodeID
	}
	return result, nil
}

// reset treats the current episode as spurious and restarts background learning.
func (d *Detector) reset(result *Result, reason string) {
	result.EpisodeID = d.episodeID
	result.Motion = false
	result.Transition = Reset
	result.Reason = reason

	d.state = Idle
	d.activeSince = time.Time{}
	d.episodeID = ""
	d.stableTicks = 0
	d.window.Clear()
}

// restart drops everything learned at the previous frame size and seeds the
// window with gray. An open episode is reported as a Reset.
func (d *Detector) restart(gray gocv.Mat, now time.Time) Result {
	d.logger.Warning("Frame size changed to %dx%d at %s, relearning background",
		gray.Cols(), gray.Rows(), now.Format("2006-01-02 15:04:05"))

	result := Result{WarmingUp: true}
	if d.state == Active {
		d.reset(&result, ReasonResize)
	} else {
		d.window.Clear()
	}
	d.lastGray.Close()
	d.lastGray = gocv.NewMat()
	d.hasLast = false
	d.stableTicks = 0

	d.window.Push(gray)
	result.Appended = true
	return result
}

// Close releases native memory.
func (d *Detector) Close() {
	d.window.Close()
	d.lastGray.Close()
}
