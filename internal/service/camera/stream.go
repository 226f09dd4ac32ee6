package camera

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"feeder/internal/logger"
	"feeder/internal/timeutil"

	"gocv.io/x/gocv"
)

// ErrStreamFailure is reported when frames cannot be read from the camera.
var ErrStreamFailure = errors.New("stream failure")

const (
	// RetryInterval is the wait between failed reads.
	RetryInterval = time.Second
	// ReconnectAfter is how long reads may fail before the capture is reopened.
	ReconnectAfter = 60 * time.Second
)

// Capture is the subset of gocv.VideoCapture used by Stream.
type Capture interface {
	Read(m *gocv.Mat) bool
	Get(prop gocv.VideoCaptureProperties) float64
	IsOpened() bool
	Close() error
}

// Opener opens a capture for url.
type Opener func(url string) (Capture, error)

// OpenCapture opens url with gocv.
func OpenCapture(url string) (Capture, error) {
	c, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return nil, err
	}
	if !c.IsOpened() {
		c.Close()
		return nil, fmt.Errorf("capture did not open")
	}
	return c, nil
}

// Stream reads frames from the camera, riding out failures: a failed read is
// retried every RetryInterval, and after ReconnectAfter of continuous failure
// the capture is reopened against the same URL. Read is called from a single
// goroutine.
type Stream struct {
	url    string
	open   Opener
	clock  timeutil.Clock
	logger *logger.Logger

	capture Capture

	failing       bool
	failingSince  time.Time
	lastReconnect time.Time
	reconnects    int

	healthy atomic.Bool
}

// NewStream creates a Stream; call Open before Read.
func NewStream(url string, open Opener, clock timeutil.Clock, logger *logger.Logger) *Stream {
	if open == nil {
		open = OpenCapture
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Stream{url: url, open: open, clock: clock, logger: logger}
}

// Open connects to the camera. Failing here is fatal to the caller: without a
// frame source at start-up there is nothing to run.
func (s *Stream) Open() error {
	c, err := s.open(s.url)
	if err != nil {
		return fmt.Errorf("%w: failed to open camera stream: %v", ErrStreamFailure, err)
	}
	s.capture = c
	s.healthy.Store(true)
	return nil
}

// Read fills frame with the next frame. It only returns an error when ctx is done.
func (s *Stream) Read(ctx context.Context, frame *gocv.Mat) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.capture != nil && s.capture.Read(frame) && !frame.Empty() {
			if s.failing {
				s.logger.Info("📷 Camera stream recovered after %s (%d reconnect(s))",
					s.clock.Now().Sub(s.failingSince).Round(time.Second), s.reconnects)
				s.failing = false
				s.reconnects = 0
				s.healthy.Store(true)
			}
			return nil
		}

		now := s.clock.Now()
		if !s.failing {
			s.failing = true
			s.failingSince = now
			s.lastReconnect = now
			s.healthy.Store(false)
			s.logger.Error("%v: failed to read frame at %s, retrying", ErrStreamFailure, now.Format("2006-01-02 15:04:05"))
		}

		if now.Sub(s.lastReconnect) >= ReconnectAfter {
			s.reconnect()
			s.lastReconnect = now
		}

		if err := s.clock.Sleep(ctx, RetryInterval); err != nil {
			return err
		}
	}
}

func (s *Stream) reconnect() {
	s.reconnects++
	s.logger.Debug("Reopening camera stream (attempt %d)", s.reconnects)
	if s.capture != nil {
		s.capture.Close()
		s.capture = nil
	}
	c, err := s.open(s.url)
	if err != nil {
		s.logger.Debug("Reopen failed: %v", err)
		return
	}
	s.capture = c
}

// Healthy reports whether the last read succeeded. Safe for concurrent use.
func (s *Stream) Healthy() bool {
	return s.healthy.Load()
}

// Size is the frame size reported by the capture.
func (s *Stream) Size() (width, height int) {
	if s.capture == nil {
		return 0, 0
	}
	return int(s.capture.Get(gocv.VideoCaptureFrameWidth)), int(s.capture.Get(gocv.VideoCaptureFrameHeight))
}

// Close releases the capture.
func (s *Stream) Close() error {
	if s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	return err
}
