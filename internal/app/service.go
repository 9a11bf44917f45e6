// Package service wires the live-session engine together and implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/putmeon/internal/adapters/identity"
	changequeue "github.com/okian/putmeon/internal/adapters/mq/queue"
	workerpool "github.com/okian/putmeon/internal/adapters/mq/worker"
	"github.com/okian/putmeon/internal/adapters/pubsub"
	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/internal/domain/dedupe"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/favorites"
	"github.com/okian/putmeon/internal/domain/leaderboard"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/internal/domain/presence"
	"github.com/okian/putmeon/internal/domain/queue"
	"github.com/okian/putmeon/internal/domain/session"
	"github.com/okian/putmeon/internal/domain/users"
	"github.com/okian/putmeon/internal/domain/votes"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = fmt.Errorf("service not started: %w", errs.ErrTransport)

// Service is the live-session engine.
type Service struct {
	mu sync.RWMutex

	// Configuration
	storeDriver      string
	sqlitePath       string
	workerCount      int
	queueSize        int
	subscriberBuffer int
	txMaxAttempts    int
	leaderboardSize  int
	oneVotePerTrack  bool
	dedupeSize       int
	jwtSecret        []byte
	tokenTTL         time.Duration
	clock            clock.Clock

	// Core components
	store     repository.Store
	changes   *changequeue.InMemoryQueue
	pool      *workerpool.Pool
	hub       *pubsub.Hub
	stamp     *clock.Monotonic
	identity  identity.Provider
	users     *users.Service
	favorites *favorites.Store
	presence  *presence.Tracker
	queue     *queue.Manager
	session   *session.Session
	votes     *votes.Engine
	board     *leaderboard.Board

	// Live connections by uid
	partMu       sync.Mutex
	participants map[string]map[*Participant]struct{}

	// State
	started bool
	cancel  context.CancelFunc

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStoreDriver selects the state store backend. path is used by sqlite.
func WithStoreDriver(driver, path string) Option {
	return func(s *Service) {
		if driver != "" {
			s.storeDriver = driver
		}
		s.sqlitePath = path
	}
}

// WithWorkerCount sets the number of fan-out workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the change queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithSubscriberBuffer sets the per-subscription snapshot buffer.
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// WithTxMaxAttempts bounds the reputation transaction retries.
func WithTxMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.txMaxAttempts = n
		}
	}
}

// WithLeaderboardSize sets the length of the top view.
func WithLeaderboardSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.leaderboardSize = n
		}
	}
}

// WithOneVotePerTrack toggles the server-side duplicate grade guard.
func WithOneVotePerTrack(on bool) Option {
	return func(s *Service) { s.oneVotePerTrack = on }
}

// WithDedupeSize sets the size of the grader dedupe cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithJWTSecret sets the token signing secret.
func WithJWTSecret(secret string) Option {
	return func(s *Service) {
		if secret != "" {
			s.jwtSecret = []byte(secret)
		}
	}
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tokenTTL = d
		}
	}
}

// WithIdentityProvider replaces the built-in guest provider.
func WithIdentityProvider(p identity.Provider) Option {
	return func(s *Service) { s.identity = p }
}

// WithClock sets the base clock for server timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storeDriver:      DriverMemory,
		workerCount:      runtime.NumCPU(),
		queueSize:        4096,
		subscriberBuffer: 1,
		txMaxAttempts:    repository.DefaultTxMaxAttempts,
		leaderboardSize:  leaderboard.DefaultSize,
		oneVotePerTrack:  true,
		dedupeSize:       50000,
		tokenTTL:         24 * time.Hour,
		clock:            clock.System{},
		participants:     make(map[string]map[*Participant]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, starts the fan-out pipeline and restores session
// state.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting session service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stamp = clock.NewMonotonic(s.clock)

	s.changes = changequeue.NewInMemoryQueue(changequeue.WithCapacity(s.queueSize))
	hook := func(c model.Change) {
		if !s.changes.Enqueue(runCtx, c) {
			s.logger.Debug(runCtx, "change not queued", logger.String("path", c.Path))
		}
	}
	if err := s.openStore(ctx, hook); err != nil {
		cancel()
		return err
	}

	s.hub = pubsub.NewHub(s.store,
		pubsub.WithBufferSize(s.subscriberBuffer),
		pubsub.WithLogger(s.logger.Named("pubsub")),
	)
	s.pool = workerpool.NewPool(s.workerCount, s.changes, s.hub,
		workerpool.WithPoolLogger(s.logger.Named("fanout")),
	)
	s.pool.Start(runCtx)

	if s.identity == nil {
		secret := s.jwtSecret
		if len(secret) == 0 {
			s.logger.Warn(ctx, "no jwt secret configured; tokens will not survive a restart")
			secret = []byte(fmt.Sprintf("ephemeral-%d", time.Now().UnixNano()))
		}
		p, err := identity.NewGuestProvider(secret,
			identity.WithTTL(s.tokenTTL),
			identity.WithClock(s.clock),
			identity.WithLogger(s.logger.Named("identity")),
		)
		if err != nil {
			return s.abort(ctx, cancel, err)
		}
		s.identity = p
	}

	s.wireDomain()

	if err := s.board.Load(ctx); err != nil {
		return s.abort(ctx, cancel, fmt.Errorf("load leaderboard: %w", err))
	}
	if err := s.queue.Restore(ctx); err != nil {
		return s.abort(ctx, cancel, fmt.Errorf("restore queue: %w", err))
	}
	// Disconnect writes of a previous process go through the change hook,
	// so they run only once the fan-out pool drains it.
	if r, ok := s.store.(repository.Recoverer); ok {
		if _, err := r.Recover(ctx); err != nil {
			return s.abort(ctx, cancel, fmt.Errorf("recover disconnects: %w", err))
		}
	}
	if err := s.session.Restore(ctx); err != nil {
		return s.abort(ctx, cancel, fmt.Errorf("restore session: %w", err))
	}
	s.presence.Refresh(ctx)

	s.cancel = cancel
	s.started = true
	s.logger.Info(ctx, "session service started",
		logger.String("store", s.storeDriver),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Bool("oneVotePerTrack", s.oneVotePerTrack),
	)
	return nil
}

// abort unwinds a partial Start.
func (s *Service) abort(ctx context.Context, cancel context.CancelFunc, err error) error {
	_ = s.changes.Close()
	if s.pool != nil {
		_ = s.pool.Shutdown(ctx)
	}
	if s.hub != nil {
		s.hub.Close()
	}
	cancel()
	_ = s.store.Close()
	s.store = nil
	s.logger.Error(ctx, "session service failed to start", logger.Error(err))
	return err
}

func (s *Service) openStore(ctx context.Context, hook repository.ChangeHook) error {
	opts := []repository.Option{
		repository.WithChangeHook(hook),
		repository.WithClock(s.stamp),
		repository.WithLogger(s.logger.Named("store")),
	}
	switch s.storeDriver {
	case DriverMemory:
		s.store = repository.NewMemoryStore(opts...)
	case DriverSQLite:
		st, err := repository.OpenSQLite(ctx, s.sqlitePath, opts...)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		s.store = st
	default:
		return errs.Newf("service.start", errs.ErrValidation, "unknown store driver %q", s.storeDriver)
	}
	return nil
}

func (s *Service) wireDomain() {
	s.users = users.New(s.store,
		users.WithStamper(s.stamp),
		users.WithTxOptions(repository.WithMaxAttempts(s.txMaxAttempts)),
		users.WithLogger(s.logger.Named("users")),
	)
	s.favorites = favorites.New(s.store,
		favorites.WithStamper(s.stamp),
		favorites.WithLogger(s.logger.Named("favorites")),
	)
	s.presence = presence.New(s.store,
		presence.WithStamper(s.stamp),
		presence.WithLogger(s.logger.Named("presence")),
	)
	s.board = leaderboard.New(s.store,
		leaderboard.WithSize(s.leaderboardSize),
		leaderboard.WithStamper(s.stamp),
		leaderboard.WithLogger(s.logger.Named("leaderboard")),
	)
	s.session = session.New(s.store,
		session.WithCloseHook(s.recordTrack),
		session.WithLogger(s.logger.Named("session")),
	)
	s.queue = queue.New(s.store, s.session,
		queue.WithStamper(s.stamp),
		queue.WithLogger(s.logger.Named("queue")),
	)
	s.votes = votes.New(s.store, s.session, s.users,
		votes.WithOneVotePerTrack(s.oneVotePerTrack),
		votes.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))),
		votes.WithStamper(s.stamp),
		votes.WithLogger(s.logger.Named("votes")),
	)
}

// recordTrack is the grading-close hook: it scores the track from its votes.
func (s *Service) recordTrack(ctx context.Context, t model.Track) error {
	vs, err := s.votes.ForTrack(ctx, t.ID)
	if err != nil {
		return err
	}
	_, _, err = s.board.Record(ctx, t, vs)
	return err
}

// Stop drops every live connection, drains the fan-out pipeline and closes
// the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping session service...")

	for _, p := range s.allParticipants() {
		if err := p.Drop(ctx); err != nil {
			s.logger.Warn(ctx, "participant drop failed", logger.String("uid", p.Identity.UID), logger.Error(err))
		}
	}

	var errList []error
	_ = s.changes.Close()
	if err := s.pool.Shutdown(ctx); err != nil {
		errList = append(errList, err)
	}
	s.hub.Close()
	s.cancel()
	if err := s.store.Close(); err != nil {
		errList = append(errList, err)
	}

	s.store = nil
	s.started = false
	s.logger.Info(ctx, "session service stopped")
	return errors.Join(errList...)
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":         s.started,
		"store":           s.storeDriver,
		"workerCount":     s.workerCount,
		"queueSize":       s.queueSize,
		"oneVotePerTrack": s.oneVotePerTrack,
	}
	if !s.started {
		return stats
	}

	stats["phase"] = s.session.State().Phase.String()
	stats["fanoutBacklog"] = s.changes.Len()
	stats["subscribers"] = s.hub.Count()
	stats["leaderboardEntries"] = s.board.Count()
	if n, err := s.queue.Len(ctx); err == nil {
		stats["tracksQueued"] = n
	}
	if n, err := s.presence.Online(ctx); err == nil {
		stats["online"] = n
		metrics.UpdateOnlineParticipants(n)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics.UpdateSystemMemoryUsage(mem.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	return stats
}
