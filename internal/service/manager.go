package service

import (
	"context"
	"errors"
	"time"

	"feeder/internal/logger"
	"feeder/internal/service/recorder"
	"feeder/internal/service/vision"
	"feeder/internal/timeutil"

	"gocv.io/x/gocv"
)

// SampleInterval is how often a frame is classified and archived.
const SampleInterval = time.Second

// FrameSource delivers camera frames; Read blocks until a frame or ctx is done.
type FrameSource interface {
	Read(ctx context.Context, frame *gocv.Mat) error
	Healthy() bool
}

// Manager runs the acquisition loop: every frame goes to the open event clip,
// and one frame per SampleInterval is classified, archived and published.
// It never makes network calls, so it keeps pace with the camera.
type Manager struct {
	source   FrameSource
	detector *vision.Detector
	recorder *recorder.Recorder
	latest   *Latest
	clock    timeutil.Clock
	logger   *logger.Logger

	lastSample time.Time
	seq        uint64
	warm       bool
}

func NewManager(source FrameSource, detector *vision.Detector, recorder *recorder.Recorder,
	latest *Latest, clock timeutil.Clock, logger *logger.Logger) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		source:   source,
		detector: detector,
		recorder: recorder,
		latest:   latest,
		clock:    clock,
		logger:   logger,
	}
}

// Run reads frames until ctx is done. Recording and classification errors are
// logged and do not stop the loop.
func (m *Manager) Run(ctx context.Context) error {
	frame := gocv.NewMat()
	defer frame.Close()

	m.logger.Info("🎬 Acquisition started, sampling every %s", SampleInterval)
	for {
		if err := m.source.Read(ctx, &frame); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				m.logger.Info("🎬 Acquisition stopped")
				return nil
			}
			return err
		}
		m.HandleFrame(&frame, m.clock.Now())
	}
}

// HandleFrame processes one camera frame captured at now.
// A sampled frame is classified before it is offered to the event clip, so the
// clip starts with the frame that triggered it.
func (m *Manager) HandleFrame(frame *gocv.Mat, now time.Time) {
	if m.lastSample.IsZero() || now.Sub(m.lastSample) >= SampleInterval {
		m.lastSample = now
		m.sample(frame, now)
	}

	if err := m.recorder.WriteFrame(*frame); err != nil {
		m.logger.Error("%v", err)
	}
}

func (m *Manager) sample(frame *gocv.Mat, now time.Time) {
	res, err := m.detector.Process(frame, now)
	if err != nil {
		m.logger.Error("Motion detection failed: %v", err)
		return
	}

	if res.WarmingUp {
		m.warm = false
	} else if !m.warm {
		m.warm = true
		m.logger.Info("Reference window ready, watching for motion")
	}

	switch res.Transition {
	case vision.Started:
		m.logger.Info("🐾 Motion started (episode %s)", res.EpisodeID)
		if err := m.recorder.StartEvent(now, res.EpisodeID); err != nil {
			m.logger.Error("Failed to start event recording: %v", err)
		}
	case vision.Ended:
		m.logger.Info("🐾 Motion ended (episode %s)", res.EpisodeID)
		if err := m.recorder.StopEvent(now); err != nil {
			m.logger.Error("Failed to stop event recording: %v", err)
		}
	case vision.Reset:
		m.logger.Warning("Motion episode %s reset (%s), relearning background", res.EpisodeID, res.Reason)
		if err := m.recorder.StopEvent(now); err != nil {
			m.logger.Error("Failed to stop event recording: %v", err)
		}
	}

	if err := m.recorder.WriteSample(*frame, now); err != nil {
		m.logger.Error("%v", err)
	}

	brightness, err := vision.Brightness(*frame)
	if err != nil {
		m.logger.Debug("Brightness unavailable: %v", err)
	}

	m.seq++
	episode := ""
	if res.Motion {
		episode = res.EpisodeID
	}
	m.latest.Put(Snapshot{
		Motion:     res.Motion,
		WarmingUp:  res.WarmingUp,
		Seq:        m.seq,
		At:         now,
		Brightness: brightness,
		EpisodeID:  episode,
		Healthy:    m.source.Healthy(),
	})
}
