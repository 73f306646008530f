// Package session ties one profiling session together: the contention
// builder, the frame dispatcher feeding it and the provider publishing trees
// built from its snapshots.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockgraph/internal/ingest"
	"github.com/lockgraph/internal/lockcct"
	"github.com/lockgraph/internal/locks"
	"github.com/lockgraph/internal/protocol"
	apperrors "github.com/lockgraph/pkg/errors"
	"github.com/lockgraph/pkg/utils"
)

// Config holds session configuration.
type Config struct {
	Status     locks.Status
	MinRefresh time.Duration
	MaxRefresh time.Duration
	QueueLow   int
	QueueHigh  int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Status:     locks.DefaultStatus(),
		MinRefresh: 900 * time.Millisecond,
		MaxRefresh: 1400 * time.Millisecond,
		QueueLow:   2,
		QueueHigh:  8,
	}
}

// Stats aggregates the counters of every session component.
type Stats struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Closed     bool          `json:"closed"`
	Builder    locks.Stats   `json:"builder"`
	Dispatcher ingest.Stats  `json:"dispatcher"`
	Provider   ProviderStats `json:"provider"`
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for snapshots and refresh throttling.
func WithClock(clock utils.Clock) Option {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Session is one live contention profiling session.
type Session struct {
	id        string
	cfg       Config
	logger    utils.Logger
	clock     utils.Clock
	startedAt time.Time

	builder    *locks.GraphBuilder
	dispatcher *ingest.Dispatcher
	provider   *Provider

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a session and makes its builder ready for events.
func New(cfg Config, logger utils.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		clock:  utils.NewRealClock(),
		stop:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.WithField("session", s.id)
	s.startedAt = s.clock.Now()

	s.builder = locks.NewGraphBuilder(
		locks.WithLogger(s.logger.WithField("component", "builder")),
		locks.WithClock(s.clock),
		locks.WithResetHook(s.onReset),
	)
	s.provider = NewProvider(s.builder, cfg.MinRefresh, s.clock, s.logger.WithField("component", "provider"))
	s.dispatcher = ingest.New(ingest.Config{
		QueueLow:  cfg.QueueLow,
		QueueHigh: cfg.QueueHigh,
		Decoder: protocol.Options{
			CollectTwoTimestamps: cfg.Status.CollectTwoTimestamps,
			MonitorInfo:          cfg.Status.MonitorInfo,
		},
	}, s.logger.WithField("component", "dispatcher"), ingest.WithFrameHook(s.onFrame))
	s.dispatcher.AddListener(s.builder)

	s.builder.Startup(cfg.Status)

	if cfg.MaxRefresh > 0 {
		s.wg.Add(1)
		go s.watchStaleness(cfg.MaxRefresh)
	}

	s.logger.Info("session started: %d timer counts/s, monitor info %v",
		cfg.Status.TimerCountsPerSecond, cfg.Status.MonitorInfo)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Status returns the session status.
func (s *Session) Status() locks.Status { return s.builder.Status() }

// Builder returns the contention builder of the session.
func (s *Session) Builder() *locks.GraphBuilder { return s.builder }

// Provider returns the tree provider of the session.
func (s *Session) Provider() *Provider { return s.provider }

// Dispatcher returns the frame dispatcher of the session.
func (s *Session) Dispatcher() *ingest.Dispatcher { return s.dispatcher }

// Submit queues one event frame.
func (s *Session) Submit(ctx context.Context, bucket string, frame []byte) error {
	if s.Closed() {
		return apperrors.ErrSessionClosed
	}
	return s.dispatcher.Submit(ctx, bucket, frame)
}

// Sync waits until every submitted frame has been applied.
func (s *Session) Sync(ctx context.Context) error {
	return s.dispatcher.Sync(ctx)
}

// ReplayFile feeds a frame recording into the session and waits for it.
func (s *Session) ReplayFile(ctx context.Context, bucket, path string) (int, error) {
	if s.Closed() {
		return 0, apperrors.ErrSessionClosed
	}
	n, err := ingest.ReplayFile(ctx, s.dispatcher, bucket, path)
	if err != nil {
		return n, err
	}
	s.logger.Info("replayed %d frames from %s", n, path)
	return n, nil
}

// Tree returns a tree over the current data. It always takes a fresh
// snapshot.
func (s *Session) Tree(ctx context.Context) *lockcct.RuntimeNode {
	return s.provider.Refresh(ctx, true)
}

// Reset discards the collected data. It returns false when the reset could
// not be applied because a batch was in progress.
func (s *Session) Reset() bool {
	if !s.builder.TryReset() {
		s.logger.Debug("reset refused: batch in progress")
		return false
	}
	return true
}

// ToDuration converts timer counts of this session into a duration.
func (s *Session) ToDuration(counts int64) time.Duration {
	return s.builder.Status().CountsToDuration(counts)
}

// Stats returns the counters of the session.
func (s *Session) Stats() Stats {
	return Stats{
		ID:         s.id,
		StartedAt:  s.startedAt,
		Closed:     s.Closed(),
		Builder:    s.builder.Stats(),
		Dispatcher: s.dispatcher.Stats(),
		Provider:   s.provider.Stats(),
	}
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Close drains the dispatcher, stops accepting events and tells listeners
// the data is gone. Calling it twice is a no-op.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		close(s.stop)
		s.wg.Wait()
		s.dispatcher.Close()
		s.builder.Shutdown()
		s.provider.NotifyReset()
		s.logger.Info("session closed")
	})
}

// onReset runs after every applied builder reset, whether requested through
// Reset or sent by the agent inside a frame.
func (s *Session) onReset() {
	s.logger.Debug("collected data reset")
	s.provider.NotifyReset()
}

func (s *Session) onFrame(bucket string, err error) {
	s.provider.MarkDirty()
	s.provider.Refresh(context.Background(), false)
}

// watchStaleness forces a refresh when frames arrived but none was published
// for maxAge.
func (s *Session) watchStaleness(maxAge time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.provider.Stale(maxAge) {
				s.provider.Refresh(context.Background(), true)
			}
		}
	}
}
