// Package engine is the client-side synchronization engine: it decides when to
// poll, merges server responses into the displayed state, shows the player's own
// actions before the server confirms them and recovers from sustained failures.
//
// All engine state is owned by the goroutine running Engine.Run. Timer ticks,
// HTTP completions and UI commands are marshaled onto it as closures, so nothing
// below needs a lock except the published View and the subscriber list.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/numguess/go/clients/game_api_client"
	"github.com/mcdev12/numguess/go/internal/models"
	"github.com/mcdev12/numguess/go/internal/sync/events"
	"github.com/mcdev12/numguess/go/internal/sync/health"
	"github.com/mcdev12/numguess/go/internal/sync/history"
	"github.com/mcdev12/numguess/go/internal/sync/ledger"
	"github.com/mcdev12/numguess/go/internal/sync/polling"
	"github.com/mcdev12/numguess/go/internal/sync/priority"
	"github.com/mcdev12/numguess/go/internal/sync/recovery"
	"github.com/mcdev12/numguess/go/internal/sync/snapshotstore"
)

// GameClient is the slice of the game HTTP API the engine consumes.
type GameClient interface {
	Join(ctx context.Context, req game_api_client.JoinRequest) (*game_api_client.JoinResponse, error)
	Status(ctx context.Context, roomID, playerID string) (*game_api_client.StatusResponse, error)
	QuickStatus(ctx context.Context, roomID, playerID string) (*game_api_client.QuickStatusResponse, error)
	SetSecret(ctx context.Context, req game_api_client.SetSecretRequest) (*game_api_client.ActionResponse, error)
	SelectDigits(ctx context.Context, req game_api_client.SelectDigitsRequest) (*game_api_client.ActionResponse, error)
	Guess(ctx context.Context, req game_api_client.GuessRequest) (*game_api_client.GuessResponse, error)
	History(ctx context.Context, roomID string) (*game_api_client.HistoryResponse, error)
	SkipTurn(ctx context.Context, roomID, playerID, clientActionID string) (*game_api_client.SkipTurnResponse, error)
	Leave(ctx context.Context, roomID, playerID string) error
	Health(ctx context.Context) error
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock injects a clock; tests pass a clockwork.FakeClock.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m health.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPublisher sets the sync event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithSnapshotStore persists last-known-good snapshots across restarts.
func WithSnapshotStore(s snapshotstore.Store) Option {
	return func(e *Engine) { e.store = s }
}

type Engine struct {
	cfg       Config
	client    GameClient
	clock     clockwork.Clock
	metrics   health.MetricsCollector
	publisher events.Publisher
	store     snapshotstore.Store

	// owned by the Run goroutine
	health   *health.Tracker
	sched    *polling.Scheduler
	ledger   *ledger.Ledger
	recon    *history.Reconciler
	recovery *recovery.Controller
	prio     *priority.Prioritizer

	runCtx        context.Context
	session       *models.RoomSession
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	epoch         uint64
	players       []models.Player
	winner        string
	snapshot      *models.SyncSnapshot
	stale         bool
	savedSig      history.Signature
	savedSession  models.RoomSession
	resumeTimer   clockwork.Timer

	quickInFlight bool
	fullInFlight  bool
	fullAgain     bool
	fullWaiters   []chan error

	lastNew     []models.HistoryEntry
	lastRebuild bool
	baselines   map[uuid.UUID]int
	absorbed    map[uuid.UUID]bool
	version     uint64

	quickTicks chan struct{}
	fullTicks  chan struct{}
	inbox      chan func(*Engine)
	done       chan struct{}
	running    atomic.Bool
	bg         sync.WaitGroup

	view   atomic.Pointer[View]
	subsMu sync.Mutex
	subs   map[int]chan View
	nextID int
}

// New builds an engine. Call Run before any other method.
func New(cfg Config, client GameClient, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		client:     client,
		clock:      clockwork.NewRealClock(),
		metrics:    &health.NoOpMetricsCollector{},
		publisher:  events.NoOpPublisher{},
		quickTicks: make(chan struct{}, 1),
		fullTicks:  make(chan struct{}, 1),
		inbox:      make(chan func(*Engine), 64),
		done:       make(chan struct{}),
		subs:       make(map[int]chan View),
		baselines:  make(map[uuid.UUID]int),
		absorbed:   make(map[uuid.UUID]bool),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.health = health.NewTracker(cfg.Quality, e.metrics)
	e.sched = polling.NewScheduler(e.clock, cfg.Polling, e.metrics)
	e.ledger = ledger.New(e.clock, cfg.LedgerRetention)
	e.recon = history.NewReconciler()
	e.recovery = recovery.NewController(cfg.Recovery, e.clock, e.metrics)
	e.prio = priority.New(e.clock, cfg.PriorityWindow)

	e.sched.OnTick(e.queueTick)

	v := e.buildView()
	e.view.Store(&v)
	return e, nil
}

// Run owns the engine state until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	e.runCtx = ctx

	purge := e.clock.NewTicker(e.cfg.PurgeInterval)
	defer purge.Stop()

	log.Info().Msg("sync engine started")
	for {
		select {
		case <-ctx.Done():
			e.endSession("engine stopped", true)
			close(e.done)
			e.bg.Wait()
			log.Info().Msg("sync engine stopped")
			return ctx.Err()

		case fn := <-e.inbox:
			fn(e)

		case <-e.quickTicks:
			e.onTick(polling.PathQuick)

		case <-e.fullTicks:
			e.onTick(polling.PathFull)

		case <-e.prio.WindowClosed():
			e.prio.Release()

		case <-e.resumeChan():
			e.onResumeDue()

		case <-purge.Chan():
			if n := e.ledger.Purge(); n > 0 {
				log.Debug().Int("purged", n).Msg("purged confirmed actions")
				e.publishView()
			}
		}
	}
}

// queueTick hands a scheduler tick to Run. Each path keeps at most one tick
// queued, so a backlog on one path never drops the other's.
func (e *Engine) queueTick(p polling.Path) {
	ticks := e.quickTicks
	if p == polling.PathFull {
		ticks = e.fullTicks
	}
	select {
	case ticks <- struct{}{}:
	default:
	}
}

// do runs fn on the engine goroutine.
func (e *Engine) do(ctx context.Context, fn func(*Engine)) error {
	select {
	case e.inbox <- fn:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands a completion back to the engine goroutine. It gives up once the
// engine has stopped.
func (e *Engine) post(fn func(*Engine)) {
	select {
	case e.inbox <- fn:
	case <-e.done:
	}
}

// spawn runs network work off the engine goroutine.
func (e *Engine) spawn(fn func()) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		fn()
	}()
}

func (e *Engine) resumeChan() <-chan time.Time {
	if e.resumeTimer == nil {
		return nil
	}
	return e.resumeTimer.Chan()
}

func (e *Engine) stopResumeTimer() {
	if e.resumeTimer == nil {
		return
	}
	if !e.resumeTimer.Stop() {
		select {
		case <-e.resumeTimer.Chan():
		default:
		}
	}
	e.resumeTimer = nil
}

// emit publishes a sync event without blocking the loop on the transport.
func (e *Engine) emit(t events.Type, payload interface{}) {
	roomID := ""
	if e.session != nil {
		roomID = e.session.RoomID
	}
	ev, err := events.New(t, roomID, e.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build sync event")
		return
	}
	pub := e.publisher
	e.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeouts.Quick)
		defer cancel()
		if err := pub.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("event_type", string(t)).Msg("failed to publish sync event")
			// Don't fail the operation, just log the error
		}
	})
}
