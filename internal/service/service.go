// Package service wires a contention session into a long-running daemon:
// the HTTP API, telemetry and the optional snapshot archive.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lockgraph/internal/locks"
	"github.com/lockgraph/internal/repository"
	"github.com/lockgraph/internal/server"
	"github.com/lockgraph/internal/session"
	"github.com/lockgraph/internal/storage"
	"github.com/lockgraph/pkg/config"
	"github.com/lockgraph/pkg/telemetry"
	"github.com/lockgraph/pkg/utils"
)

const defaultShutdownTimeout = 10 * time.Second

// Service is the main application service.
type Service struct {
	config *config.Config
	logger utils.Logger
	clock  utils.Clock

	session  *session.Session
	db       *repository.Repositories
	storage  storage.Storage
	archiver *Archiver
	http     *server.Server

	version           string
	tracing           bool
	telemetryShutdown telemetry.ShutdownFunc

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	done    <-chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock of the session and the archiver.
func WithClock(clock utils.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithStorage replaces the configured archive storage.
func WithStorage(store storage.Storage) Option {
	return func(s *Service) { s.storage = store }
}

// WithVersion sets the version reported in telemetry resources.
func WithVersion(version string) Option {
	return func(s *Service) { s.version = version }
}

// New creates a new Service instance.
func New(cfg *config.Config, logger utils.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}
	s := &Service{
		config:            cfg,
		logger:            logger,
		clock:             utils.NewRealClock(),
		telemetryShutdown: func(context.Context) error { return nil },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SessionConfig converts the session section of cfg.
func SessionConfig(cfg config.SessionConfig) session.Config {
	return session.Config{
		Status: locks.Status{
			TimerCountsPerSecond: cfg.TimerCountsPerSecond,
			CollectTwoTimestamps: cfg.CollectTwoTimestamps,
			MonitorInfo:          cfg.MonitorInfo,
		},
		MinRefresh: cfg.MinRefresh,
		MaxRefresh: cfg.MaxRefresh,
		QueueLow:   cfg.QueueLow,
		QueueHigh:  cfg.QueueHigh,
	}
}

// TelemetryConfig converts the telemetry section of cfg and applies the
// OTEL_* environment overrides.
func TelemetryConfig(cfg config.TelemetryConfig, version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        cfg.Enabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Endpoint,
		Protocol:       cfg.Protocol,
		Insecure:       cfg.Insecure,
		Headers:        cfg.Headers,
		Sampler:        cfg.Sampler,
		SamplerRatio:   cfg.SamplerRatio,
		Attributes:     cfg.Attributes,
	}.WithEnv()
}

// Initialize initializes all service components.
func (s *Service) Initialize(ctx context.Context) error {
	s.logger.Info("Initializing service components...")

	tcfg := TelemetryConfig(s.config.Telemetry, s.version)
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		s.logger.Warn("Failed to initialize telemetry: %v", err)
	} else {
		s.telemetryShutdown = shutdown
		s.tracing = tcfg.Enabled
	}

	s.session = session.New(SessionConfig(s.config.Session), s.logger, session.WithClock(s.clock))

	var opts []server.Option
	if s.config.Archive.Enabled {
		if err := s.initDatabase(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := s.initStorage(); err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		archiver, err := NewArchiver(s.config.Archive, s.session, s.storage, s.db.Snapshots, s.clock, s.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize archiver: %w", err)
		}
		s.archiver = archiver
		opts = append(opts, server.WithHistory(s.db.Snapshots, s.db.Summary))
	}

	s.http = server.New(s.config.Server, s.session, s.logger.WithField("component", "http"), opts...)

	s.logger.Info("Service components initialized successfully")
	return nil
}

// initDatabase opens the archive database and migrates its schema.
func (s *Service) initDatabase(ctx context.Context) error {
	s.logger.Info("Connecting to database (%s)...", s.config.Database.Type)

	repos, err := repository.Open(ctx, &repository.DBConfig{
		Type:     s.config.Database.Type,
		Host:     s.config.Database.Host,
		Port:     s.config.Database.Port,
		Database: s.config.Database.Database,
		User:     s.config.Database.User,
		Password: s.config.Database.Password,
		MaxConns: s.config.Database.MaxConns,
		Tracing:  s.tracing,
	})
	if err != nil {
		return err
	}

	s.db = repos
	s.logger.Info("Database connection established")
	return nil
}

// initStorage initializes the object storage.
func (s *Service) initStorage() error {
	if s.storage != nil {
		return nil
	}
	s.logger.Info("Initializing storage (%s)...", s.config.Storage.Type)

	store, err := storage.NewStorage(&s.config.Storage)
	if err != nil {
		return err
	}

	s.storage = store
	s.logger.Info("Storage initialized")
	return nil
}

// Start runs the HTTP API and the archiver in the background.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return errors.New("service is not initialized")
	}
	if s.running {
		return errors.New("service already running")
	}

	s.logger.Info("Starting service...")
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(s.http.Start)
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})
	if s.archiver != nil {
		g.Go(func() error { return s.archiver.Run(gctx) })
	}

	s.cancel = cancel
	s.group = g
	s.done = gctx.Done()
	s.running = true
	s.logger.Info("Service started successfully")
	return nil
}

// Done is closed once the service stops on its own, for example because the
// HTTP listener failed. It is nil before Start.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stop stops the service gracefully and returns the first error of the
// background tasks.
func (s *Service) Stop() error {
	s.logger.Info("Stopping service...")

	s.mu.Lock()
	cancel, group := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.running = false
	s.mu.Unlock()

	var runErr error
	if cancel != nil {
		cancel()
		runErr = group.Wait()
	}

	if s.session != nil {
		s.session.Close()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection: %v", err)
		}
	}

	if err := s.telemetryShutdown(context.Background()); err != nil {
		s.logger.Error("Failed to shut down telemetry: %v", err)
	}

	s.logger.Info("Service stopped")
	return runErr
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Session returns the session served by the service.
func (s *Service) Session() *session.Session {
	return s.session
}

// Archiver returns the archiver, nil when archiving is disabled.
func (s *Service) Archiver() *Archiver {
	return s.archiver
}

// Server returns the HTTP API.
func (s *Service) Server() *server.Server {
	return s.http
}

// Stats returns service statistics.
func (s *Service) Stats() ServiceStats {
	stats := ServiceStats{Running: s.IsRunning()}
	if s.session != nil {
		st := s.session.Stats()
		stats.Session = &st
	}
	if s.archiver != nil {
		st := s.archiver.Stats()
		stats.Archive = &st
	}
	return stats
}

// HealthCheck performs a health check on the service.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.session != nil && s.session.Closed() {
		return errors.New("session closed")
	}
	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
	}
	return nil
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	Running bool           `json:"running"`
	Session *session.Stats `json:"session,omitempty"`
	Archive *ArchiverStats `json:"archive,omitempty"`
}
