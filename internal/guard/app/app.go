package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/attemptlog"
	"github.com/aussiebroadwan/faceguard/internal/guard/calibrate"
	"github.com/aussiebroadwan/faceguard/internal/guard/capture"
	"github.com/aussiebroadwan/faceguard/internal/guard/credential"
	"github.com/aussiebroadwan/faceguard/internal/guard/detect"
	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/embed"
	httpapi "github.com/aussiebroadwan/faceguard/internal/guard/http"
	"github.com/aussiebroadwan/faceguard/internal/guard/liveness"
	"github.com/aussiebroadwan/faceguard/internal/guard/notify"
	"github.com/aussiebroadwan/faceguard/internal/guard/service"
	"github.com/aussiebroadwan/faceguard/internal/guard/similarity"
	"github.com/aussiebroadwan/faceguard/internal/guard/store"
	"github.com/aussiebroadwan/faceguard/internal/guard/store/drivers/sqlite"
	"github.com/aussiebroadwan/faceguard/pkg/cryptox"
	"github.com/aussiebroadwan/faceguard/pkg/slogx"
	"github.com/aussiebroadwan/faceguard/pkg/vision"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application owns every long-lived dependency of the daemon.
type Application struct {
	cfg    Config
	logger *slog.Logger
	clock  clockwork.Clock

	db          store.Store
	backend     vision.Backend
	source      capture.Source
	credentials *credential.Store
	attempts    *attemptlog.Log
	dispatcher  *notify.Dispatcher
	mqtt        *notify.MQTTNotifier

	profiles     *service.ProfileService
	registration *service.RegistrationService
	coordinator  *service.Coordinator
	intrusion    *service.IntrusionMonitor
	housekeeping *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New initializes every dependency. Any failure here is fatal: partially
// opened resources are released and the error returned.
func New(cfg Config) (app *Application, err error) {
	app = &Application{
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		logger: slogx.New(slogx.Config{
			Service: "faceguard",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}
	defer func() {
		if err != nil {
			app.closeResources()
			app = nil
		}
	}()

	if err := app.initDirs(); err != nil {
		return nil, err
	}
	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initCredentials(); err != nil {
		return nil, err
	}
	if err := app.initCapture(); err != nil {
		return nil, err
	}
	if err := app.initAttemptLog(); err != nil {
		return nil, err
	}
	if err := app.initNotifiers(); err != nil {
		return nil, err
	}
	app.initServices()
	app.initHTTP()

	return app, nil
}

// Register enrolls name, replacing an existing profile of the same name.
// With replaceAll every existing profile is removed first.
func (app *Application) Register(ctx context.Context, name string, replaceAll bool) (domain.UserProfile, error) {
	removed, err := app.registration.Reset(ctx, name, replaceAll)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("failed to reset enrollment: %w", err)
	}
	if removed > 0 {
		app.logger.Info("previous enrollment removed", "profiles", removed)
	}

	app.logger.Info("starting registration, look at the camera", "name", name)
	p, err := app.registration.Register(ctx, name)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("registration failed: %w", err)
	}
	return p, nil
}

// Run blocks until the owner authenticates, a shutdown signal arrives or
// the status server fails.
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enrolled, err := app.profiles.HasEnrollment(ctx)
	if err != nil {
		return fmt.Errorf("failed to check enrollment: %w", err)
	}
	if !enrolled {
		app.logger.Error("no enrolled credential, every attempt will fail until a profile is registered")
	}

	app.housekeeping.Start()
	app.intrusion.Start(ctx)

	serverErrors := make(chan error, 1)
	if app.server != nil {
		go func() {
			serverErrors <- app.server.ListenAndServe()
		}()
	}

	app.logger.Info("faceguard starting", "status_addr", app.cfg.StatusAddr, "version", BuildVersion)

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- app.coordinator.Run(ctx)
	}()

	var runErr error
	select {
	case err := <-loopDone:
		if err == nil {
			app.logger.Info("owner authenticated, exiting")
		} else if !errors.Is(err, context.Canceled) {
			runErr = err
		}
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("status server failed: %w", err)
		}
	case <-ctx.Done():
		app.logger.Info("shutdown signal received")
	}

	stop()
	if err := app.Shutdown(); err != nil && runErr == nil {
		runErr = fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return runErr
}

// Shutdown stops background work and releases every resource.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down faceguard...")

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
		defer cancel()
		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("graceful server shutdown failed", "error", err)
			_ = app.server.Close()
		}
	}

	app.intrusion.Stop()
	app.housekeeping.Stop()
	app.dispatcher.Wait()

	err := app.closeResources()
	app.logger.Info("faceguard stopped")
	return err
}

// Close releases resources without starting or stopping services. It is
// for one-shot commands such as registration.
func (app *Application) Close() error {
	app.dispatcher.Wait()
	return app.closeResources()
}

func (app *Application) closeResources() error {
	var errs []error
	if app.source != nil {
		errs = append(errs, app.source.Close())
	}
	errs = append(errs, app.backend.Close())
	if app.mqtt != nil {
		errs = append(errs, app.mqtt.Close())
	}
	if app.attempts != nil {
		errs = append(errs, app.attempts.Close())
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		app.logger.Error("error releasing resources", "error", err)
		return err
	}
	return nil
}

func (app *Application) initDirs() error {
	for _, dir := range []string{app.cfg.DataDir, app.cfg.LogDir, app.intrusionDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (app *Application) intrusionDir() string {
	return filepath.Join(app.cfg.DataDir, "intrusions")
}

func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore("file:" + app.cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initCredentials() error {
	material, created, err := cryptox.LoadOrCreateKeyFile(app.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load credential key: %w", err)
	}
	if created {
		app.logger.Info("generated credential key", "path", app.cfg.KeyFile)
	}

	sealer, err := cryptox.NewSealer(material)
	if err != nil {
		return fmt.Errorf("failed to derive credential key: %w", err)
	}
	app.credentials = credential.NewStore(app.cfg.DataDir, sealer)
	return nil
}

func (app *Application) initCapture() error {
	backend, err := openBackend(app.cfg)
	if err != nil {
		return fmt.Errorf("vision backend unavailable: %w", err)
	}
	app.backend = backend

	source, err := openSource(app.cfg)
	if err != nil {
		return fmt.Errorf("frame source unavailable: %w", err)
	}
	app.source = source
	return nil
}

func (app *Application) initAttemptLog() error {
	l, err := attemptlog.Open(app.cfg.LogDir, app.cfg.Retention, app.db.Attempts(), app.logger)
	if err != nil {
		return err
	}
	app.attempts = l
	return nil
}

func (app *Application) initNotifiers() error {
	notifiers := []notify.Notifier{notify.LogNotifier{Logger: app.logger}}

	if app.cfg.MQTTBroker != "" {
		n, err := notify.DialMQTT(notify.MQTTConfig{
			Broker:   app.cfg.MQTTBroker,
			Topic:    app.cfg.MQTTTopic,
			Username: app.cfg.MQTTUsername,
			Password: app.cfg.MQTTPassword,
			QoS:      byte(app.cfg.MQTTQoS),
		})
		if err != nil {
			return err
		}
		app.mqtt = n
		notifiers = append(notifiers, n)
	}

	if app.cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(app.cfg.WebhookURL, []byte(app.cfg.WebhookSecret), "faceguard"))
	}

	var limiter *rate.Limiter
	if n := app.cfg.AlertsPerMinute; n > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}

	app.dispatcher = notify.NewDispatcher(app.logger, app.clock, limiter, notifiers...)
	return nil
}

func (app *Application) initServices() {
	detector := detect.NewService(app.backend, app.logger)
	extractor := embed.NewExtractor(app.backend.Inferencer, app.logger)
	calibrator := calibrate.New(app.db, app.credentials, app.logger, app.clock)

	app.profiles = &service.ProfileService{
		Store:              app.db,
		Credentials:        app.credentials,
		Extractor:          extractor,
		Scorer:             similarity.NewScorer(),
		Calibrator:         calibrator,
		Clock:              app.clock,
		Logger:             app.logger,
		ImageCorroboration: app.cfg.ImageCorroboration,
	}

	app.registration = &service.RegistrationService{
		Source:        app.source,
		Detector:      detector,
		Extractor:     extractor,
		Profiles:      app.profiles,
		Credentials:   app.credentials,
		Clock:         app.clock,
		Logger:        app.logger,
		MaxFrames:     app.cfg.RegisterMaxFrames,
		FrameInterval: service.DefaultRegisterFrameInterval,
	}

	app.intrusion = service.NewIntrusionMonitor(
		detector,
		app.profiles,
		app.attempts,
		app.dispatcher,
		app.intrusionDir(),
		app.clock,
		app.logger,
	)
	app.intrusion.SampleInterval = app.cfg.IntrusionSampleInterval
	app.intrusion.MotionThreshold = app.cfg.MotionThreshold

	c := service.NewCoordinator(service.CoordinatorConfig{
		Threshold:         app.cfg.Threshold,
		MaxFailedAttempts: app.cfg.MaxFailedAttempts,
		LockoutDuration:   app.cfg.LockoutDuration,
		Cooldown:          app.cfg.Cooldown,
		TickInterval:      app.cfg.TickInterval,
		LivenessEnabled:   app.cfg.LivenessEnabled,
		AdaptiveThreshold: app.cfg.AdaptiveThreshold,
	}, app.clock, app.logger)
	c.Source = app.source
	c.Detector = detector
	c.Liveness = liveness.NewDetector()
	c.Extractor = extractor
	c.Profiles = app.profiles
	c.Calibrator = calibrator
	c.Attempts = app.attempts
	c.Intrusion = app.intrusion
	c.Locker = capture.CommandLocker{Command: app.cfg.LockArgs()}
	app.coordinator = c

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.clock,
		app.cfg.HousekeepingInterval,
		app.cfg.Retention,
	)
	app.housekeeping.IntrusionDir = app.intrusionDir()
}

// initHTTP builds the status API. An empty status_addr disables it.
func (app *Application) initHTTP() {
	if app.cfg.StatusAddr == "" {
		return
	}

	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)
	router.Coordinator = app.coordinator
	router.Profiles = app.profiles
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              app.cfg.StatusAddr,
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
