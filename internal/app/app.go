package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"feeder/internal/config"
	"feeder/internal/dto"
	"feeder/internal/logger"
	"feeder/internal/model"
	"feeder/internal/repository/sqlite"
	"feeder/internal/route"
	"feeder/internal/service"
	"feeder/internal/service/camera"
	"feeder/internal/service/feeding"
	"feeder/internal/service/petlibro"
	"feeder/internal/service/recorder"
	"feeder/internal/service/retention"
	"feeder/internal/service/vision"
	"feeder/internal/service/websocket"
	"feeder/internal/timeutil"

	"golang.org/x/sync/errgroup"
)

const (
	// ControlInterval is the cadence of the feeding decision loop.
	ControlInterval = time.Second
	// StaleAfter is how old the last sample may be before it no longer counts
	// as motion; a stalled stream must not hold the plate open.
	StaleAfter      = 5 * time.Second
	startupTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

type App struct {
	config *config.Config
	logger *logger.Logger
	clock  timeutil.Clock

	db         *sqlite.DB
	recordings *sqlite.RecordingRepository
	feedEvents *sqlite.FeedEventRepository

	control    *camera.Control
	stream     *camera.Stream
	torch      *camera.Torch
	feeder     *petlibro.Client
	controller *feeding.Controller
	detector   *vision.Detector
	recorder   *recorder.Recorder
	retention  *retention.Manager
	latest     *service.Latest
	manager    *service.Manager
	hubService *websocket.HubService

	statusMu sync.RWMutex
	status   dto.Status
}

// NewApp wires every component. Nothing touches the camera or the feeder
// until Run.
func NewApp(cfg *config.Config, logger *logger.Logger) (*App, error) {
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	recordings := sqlite.NewRecordingRepository(db)
	feedEvents := sqlite.NewFeedEventRepository(db)

	feeder, err := petlibro.New(petlibro.Options{
		Region:   cfg.PetlibroRegion,
		Timezone: cfg.PetlibroTimezone,
		Email:    cfg.PetlibroEmail,
		Password: cfg.PetlibroPassword,
	}, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	clock := timeutil.RealClock{}
	control := camera.NewControl(cfg.CameraBaseURL(), cfg.CameraUsername, cfg.CameraPassword)
	stream := camera.NewStream(cfg.StreamURL(), camera.OpenCapture, clock, logger)

	feedOpts := feeding.DefaultOptions(cfg.FeedPlate)
	feedOpts.SettleDelay = cfg.SettleDelay
	controller := feeding.NewController(feedOpts, feeder, feedEvents, clock, logger)

	detector := vision.NewDetector(vision.DefaultOptions(), logger)
	rec := recorder.New(recorder.Options{
		Directory: cfg.RecordingsDirectory,
		Width:     cfg.CameraWidth,
		Height:    cfg.CameraHeight,
		FPS:       cfg.CameraFPS,
	}, recordings, logger)

	latest := service.NewLatest()

	a := &App{
		config:     cfg,
		logger:     logger,
		clock:      clock,
		db:         db,
		recordings: recordings,
		feedEvents: feedEvents,
		control:    control,
		stream:     stream,
		feeder:     feeder,
		controller: controller,
		detector:   detector,
		recorder:   rec,
		retention:  retention.NewManager(cfg.RecordingsDirectory, Policies(cfg), recordings, logger),
		latest:     latest,
		manager:    service.NewManager(stream, detector, rec, latest, clock, logger),
		hubService: websocket.NewHubService(logger),
	}
	if cfg.TorchEnabled {
		a.torch = camera.NewTorch(control, logger)
	}
	return a, nil
}

// Policies are the two retention classes kept in the recordings directory.
func Policies(cfg *config.Config) []retention.Policy {
	return []retention.Policy{
		{Prefix: model.PrefixHourly, Suffix: model.RecordingExt, SizeLimit: cfg.HourlySizeLimit},
		{Prefix: model.PrefixOriginal, Suffix: model.RecordingExt, SizeLimit: cfg.OriginalSizeLimit},
	}
}

// startCamera requests the configured resolution and opens the stream. Any
// failure here is a configuration error.
func (a *App) startCamera(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if err := a.control.SetVideoSize(ctx, a.config.CameraWidth, a.config.CameraHeight); err != nil {
		return fmt.Errorf("%w: camera unreachable: %v", config.ErrConfiguration, err)
	}
	if err := a.stream.Open(); err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	if err := camera.VerifyResolution(a.stream, a.config.CameraWidth, a.config.CameraHeight); err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	return nil
}

// Run starts the service and blocks until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if err := a.startCamera(ctx); err != nil {
		return err
	}
	a.logger.Info("Camera streaming at %dx%d", a.config.CameraWidth, a.config.CameraHeight)

	if recent, err := a.feedEvents.GetRecent(200); err != nil {
		a.logger.Warning("Could not restore feeding history: %v", err)
	} else {
		a.controller.Restore(recent, a.clock.Now())
	}

	// The reference model must learn the scene with the feeder closed.
	if err := a.controller.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("🐾 Approach feeder\n")
	fmt.Printf("📷 Camera: %s\n", a.config.CameraAddress)
	fmt.Printf("🍽️  Plate: %d\n", a.config.FeedPlate)
	fmt.Printf("📁 Recordings: %s\n", a.config.RecordingsDirectory)
	if a.config.Port > 0 {
		fmt.Printf("📍 Status: http://localhost:%d/api/status\n", a.config.Port)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer func() {
			if err := a.recorder.Close(); err != nil {
				a.logger.Error("Failed to close recordings: %v", err)
			}
		}()
		return a.manager.Run(gctx)
	})
	g.Go(func() error {
		return a.controlLoop(gctx)
	})
	g.Go(func() error {
		a.hubService.Run(gctx)
		return nil
	})
	if a.config.Port > 0 {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.config.Port),
			Handler:           route.SetupRoutes(a, a.hubService, a.config, a.logger, a.recordings, a.feedEvents),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(sctx)
		})
	}

	err := g.Wait()
	a.Shutdown()
	return err
}

// Shutdown leaves the feeder closed. It uses its own context because the run
// context is already cancelled by the time it is called.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.controller.Shutdown(ctx)
	a.logger.Info("Shutdown complete")
}

func (a *App) close() {
	if err := a.stream.Close(); err != nil {
		a.logger.Warning("Failed to close stream: %v", err)
	}
	a.detector.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warning("Failed to close database: %v", err)
	}
}

func (a *App) controlLoop(ctx context.Context) error {
	ticker := time.NewTicker(ControlInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.controlTick(ctx, a.clock.Now())
		}
	}
}

// controlTick runs one decision: feeding, torch, retention, then the status
// broadcast. The network calls here never hold up frame acquisition.
func (a *App) controlTick(ctx context.Context, now time.Time) {
	snap, ok := a.latest.Get()
	motion := ok && snap.Motion && now.Sub(snap.At) <= StaleAfter

	a.controller.SetEpisode(snap.EpisodeID)
	decision := a.controller.Tick(ctx, motion, now)
	if decision.Action != feeding.None {
		a.logger.Debug("Feeding decision %v (%s)", decision.Action, decision.Reason)
	}

	if a.torch != nil && ok && !snap.WarmingUp {
		if _, err := a.torch.Update(ctx, snap.Brightness, now); err != nil {
			a.logger.Warning("Torch update failed: %v", err)
		}
	}

	results, err := a.retention.Run()
	if err != nil {
		a.logger.Error("Retention failed: %v", err)
	}

	status := a.buildStatus(snap, ok, motion, results, now)
	a.statusMu.Lock()
	a.status = status
	a.statusMu.Unlock()

	if err := a.hubService.BroadcastJSON(status); err != nil {
		a.logger.Error("Failed to encode status: %v", err)
	}
}

func (a *App) buildStatus(snap service.Snapshot, ok, motion bool, results []retention.Result, now time.Time) dto.Status {
	ledger := a.controller.Ledger()
	status := dto.Status{
		At:            now,
		Motion:        motion,
		EpisodeID:     snap.EpisodeID,
		Feeding:       a.controller.Feeding(),
		StartsInHour:  ledger.Starts(),
		ActiveInHour:  ledger.ActiveSeconds(),
		Brightness:    snap.Brightness,
		StreamHealthy: a.stream.Healthy(),
		SnapshotSeq:   snap.Seq,
	}
	if status.Feeding {
		status.FeedingSince = a.controller.StartedAt()
	}
	if a.torch != nil {
		status.Torch = a.torch.On()
	}
	if ok {
		status.SnapshotAgeSecs = now.Sub(snap.At).Seconds()
	}
	if err := a.controller.LastError(); err != nil {
		status.LastFeedError = err.Error()
	}
	for _, r := range results {
		switch r.Policy.Prefix {
		case model.PrefixHourly:
			status.HourlyBytes = r.Kept
		case model.PrefixOriginal:
			status.OriginalBytes = r.Kept
		}
	}
	return status
}

// Status returns the state published by the last control tick.
func (a *App) Status() dto.Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}
