package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"feeder/internal/logger"
	"feeder/internal/model"
	"feeder/internal/repository"

	"gocv.io/x/gocv"
)

const (
	// HourlyFPS is the rate of the archival stream: one sampled frame per second.
	HourlyFPS = 1.0
	// Codec is the fourcc used for every file.
	Codec = "avc1"
)

// VideoWriter is the subset of gocv.VideoWriter the recorder needs.
type VideoWriter interface {
	Write(img gocv.Mat) error
	Close() error
}

// WriterFunc opens a writer for a new file.
type WriterFunc func(path string, fps float64, width, height int) (VideoWriter, error)

// OpenFile opens an mp4 file with gocv.
func OpenFile(path string, fps float64, width, height int) (VideoWriter, error) {
	w, err := gocv.VideoWriterFile(path, Codec, fps, width, height, true)
	if err != nil {
		return nil, err
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("video writer for %s did not open", path)
	}
	return w, nil
}

type Options struct {
	Directory string
	Width     int
	Height    int
	FPS       float64 // native rate of the event clips
	NewWriter WriterFunc
}

type file struct {
	writer    VideoWriter
	path      string
	createdAt time.Time
	frames    int
}

// Recorder keeps the hourly archive and the per-episode clip. It is written
// to by the acquisition loop; Close may be called from anywhere.
type Recorder struct {
	opts       Options
	recordings repository.RecordingRepository
	logger     *logger.Logger

	mu        sync.Mutex
	hourly    *file
	hourKey   string
	event     *file
	episodeID string
	closed    bool
}

// New creates a Recorder; recordings may be nil.
func New(opts Options, recordings repository.RecordingRepository, logger *logger.Logger) *Recorder {
	if opts.NewWriter == nil {
		opts.NewWriter = OpenFile
	}
	return &Recorder{
		opts:       opts,
		recordings: recordings,
		logger:     logger,
	}
}

// FileName is the name of a recording of prefix started at t.
func FileName(prefix string, t time.Time) string {
	return prefix + t.Format(model.TimestampLayout) + model.RecordingExt
}

func (r *Recorder) open(prefix string, fps float64, now time.Time, episodeID string) (*file, error) {
	if err := os.MkdirAll(r.opts.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	name := FileName(prefix, now)
	path := filepath.Join(r.opts.Directory, name)
	w, err := r.opts.NewWriter(path, fps, r.opts.Width, r.opts.Height)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	if r.recordings != nil {
		if _, err := r.recordings.Insert(&model.Recording{
			Filename:  name,
			Prefix:    prefix,
			EpisodeID: episodeID,
			FilePath:  path,
			CreatedAt: now,
		}); err != nil {
			r.logger.Warning("Failed to catalogue %s: %v", name, err)
		}
	}

	r.logger.Info("🎥 Recording %s", name)
	return &file{writer: w, path: path, createdAt: now}, nil
}

func (r *Recorder) finish(f *file, now time.Time) error {
	err := f.writer.Close()

	var size int64
	if info, statErr := os.Stat(f.path); statErr == nil {
		size = info.Size()
	}
	if r.recordings != nil {
		if dbErr := r.recordings.UpdateSize(f.path, size, now); dbErr != nil {
			r.logger.Warning("Failed to update catalogue for %s: %v", filepath.Base(f.path), dbErr)
		}
	}

	r.logger.Debug("Closed %s: %d frame(s), %d bytes", filepath.Base(f.path), f.frames, size)
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(f.path), err)
	}
	return nil
}

// WriteSample appends a sampled frame to the hourly archive, rotating the file
// when the wall-clock hour changes.
func (r *Recorder) WriteSample(frame gocv.Mat, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	key := now.Format("2006-01-02T15")
	if r.hourly != nil && key != r.hourKey {
		if err := r.finish(r.hourly, now); err != nil {
			r.logger.Error("%v", err)
		}
		r.hourly = nil
	}
	if r.hourly == nil {
		f, err := r.open(model.PrefixHourly, HourlyFPS, now, "")
		if err != nil {
			return err
		}
		r.hourly = f
		r.hourKey = key
	}

	if err := r.hourly.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write hourly frame: %w", err)
	}
	r.hourly.frames++
	return nil
}

// StartEvent opens a clip for a new motion episode. An already open clip is
// closed first.
func (r *Recorder) StartEvent(now time.Time, episodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if r.event != nil {
		if err := r.finish(r.event, now); err != nil {
			r.logger.Error("%v", err)
		}
		r.event = nil
	}

	f, err := r.open(model.PrefixOriginal, r.opts.FPS, now, episodeID)
	if err != nil {
		return err
	}
	r.event = f
	r.episodeID = episodeID
	return nil
}

// WriteFrame appends a full-rate frame to the open clip, if any.
func (r *Recorder) WriteFrame(frame gocv.Mat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.event == nil {
		return nil
	}
	if err := r.event.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write event frame: %w", err)
	}
	r.event.frames++
	return nil
}

// StopEvent closes the open clip, if any.
func (r *Recorder) StopEvent(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.event == nil {
		return nil
	}
	f := r.event
	r.event = nil
	r.episodeID = ""
	return r.finish(f, now)
}

// EventOpen reports whether a clip is being recorded.
func (r *Recorder) EventOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.event != nil
}

// Close flushes and closes both writers. Later calls do nothing.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	now := time.Now()
	var errs []error
	if r.event != nil {
		errs = append(errs, r.finish(r.event, now))
		r.event = nil
	}
	if r.hourly != nil {
		errs = append(errs, r.finish(r.hourly, now))
		r.hourly = nil
	}
	return errors.Join(errs...)
}
