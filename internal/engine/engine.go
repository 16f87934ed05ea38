// Package engine is the authoritative game state machine. It owns the
// lifecycle of every game, its control points and timers, and emits the
// events that keep connected clients in sync.
//
// Locking: each game has a coarse RWMutex. Ticks, lifecycle transitions and
// structural control point changes take it exclusively. Capture, arm and
// disarm take it shared plus the mutex of the one control point they touch,
// so actions on unrelated control points never contend. Events are published
// while the relevant locks are held, which gives a total order per control
// point; Publisher implementations must not block.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/ernie/milsim/internal/domain"
)

// Repository persists games. The engine calls it synchronously for
// structural changes and asynchronously for timer checkpoints.
type Repository interface {
	CreateGame(ctx context.Context, g *domain.Game) error
	LoadGames(ctx context.Context) ([]domain.Game, error)
	CreateControlPoint(ctx context.Context, cp *domain.ControlPoint) error
	UpdateControlPoint(ctx context.Context, cp *domain.ControlPoint) error
	DeleteControlPoint(ctx context.Context, gameID, cpID int64) error
	SavePlayer(ctx context.Context, gameID int64, p domain.Player) error
	SaveCheckpoint(ctx context.Context, g domain.Game) error
}

// Publisher fans events out to the clients of a game. Publish must not block.
type Publisher interface {
	Publish(ev domain.Event)
}

// Options tune the engine
type Options struct {
	// TickInterval is the wall-clock length of one game second
	TickInterval time.Duration
	// CheckpointEvery persists timer state every N ticks
	CheckpointEvery int
	// PositionFreshness is how old a position may be and still count
	// towards a position challenge contest
	PositionFreshness time.Duration
	// PositionPointsPerTick is added to each team in range on every tick
	PositionPointsPerTick int
}

// DefaultOptions returns the production settings
func DefaultOptions() Options {
	return Options{
		TickInterval:          time.Second,
		CheckpointEvery:       10,
		PositionFreshness:     30 * time.Second,
		PositionPointsPerTick: 1,
	}
}

// Engine holds every game session of this process
type Engine struct {
	clk  clockwork.Clock
	repo Repository
	pub  Publisher
	opts Options

	mu       sync.RWMutex
	sessions map[int64]*session

	checkpoints *checkpointer
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Event) {}

// New creates an engine. pub may be nil.
func New(clk clockwork.Clock, repo Repository, pub Publisher, opts Options) *Engine {
	if pub == nil {
		pub = nopPublisher{}
	}
	def := DefaultOptions()
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = def.CheckpointEvery
	}
	if opts.PositionFreshness <= 0 {
		opts.PositionFreshness = def.PositionFreshness
	}
	if opts.PositionPointsPerTick <= 0 {
		opts.PositionPointsPerTick = def.PositionPointsPerTick
	}
	return &Engine{
		clk:         clk,
		repo:        repo,
		pub:         pub,
		opts:        opts,
		sessions:    make(map[int64]*session),
		checkpoints: newCheckpointer(repo),
	}
}

// Load restores every persisted game. Running games resume ticking from now:
// seconds during which the process was down are not credited.
func (e *Engine) Load(ctx context.Context) error {
	games, err := e.repo.LoadGames(ctx)
	if err != nil {
		return fmt.Errorf("loading games: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, g := range games {
		s := e.newSession(g)
		e.sessions[g.ID] = s
		if s.status != domain.StatusRunning {
			continue
		}
		s.mu.Lock()
		if s.exhausted() {
			e.finishLocked(s)
		} else {
			s.ticker.Start()
			log.Info().Int64("game_id", g.ID).Int("elapsed", s.timers.Elapsed()).Msg("resumed running game")
		}
		s.mu.Unlock()
	}
	log.Info().Int("games", len(games)).Msg("games loaded")
	return nil
}

// Close stops every game clock and writes a final checkpoint. Game status is
// left unchanged so running games resume on the next Load.
func (e *Engine) Close() {
	e.mu.RLock()
	for _, s := range e.sessions {
		s.mu.Lock()
		s.ticker.Pause()
		e.checkpoints.mark(s)
		s.mu.Unlock()
	}
	e.mu.RUnlock()
	e.checkpoints.close()
}

// CreateGame registers a new stopped game
func (e *Engine) CreateGame(ctx context.Context, name string, ownerID int64, totalTime int) (domain.Game, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Game{}, fmt.Errorf("%w: game name is required", domain.ErrInvalidInput)
	}
	if totalTime < 0 {
		return domain.Game{}, fmt.Errorf("%w: totalTime must not be negative", domain.ErrInvalidInput)
	}

	g := domain.Game{
		Name:      name,
		OwnerID:   ownerID,
		Status:    domain.StatusStopped,
		TotalTime: totalTime,
		CreatedAt: e.clk.Now().UTC(),
	}
	if err := e.repo.CreateGame(ctx, &g); err != nil {
		return domain.Game{}, fmt.Errorf("creating game: %w", err)
	}

	s := e.newSession(g)
	e.mu.Lock()
	e.sessions[g.ID] = s
	e.mu.Unlock()

	log.Info().Int64("game_id", g.ID).Int64("owner_id", ownerID).Str("name", name).Msg("game created")

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildGame(true), nil
}

// Games lists every game ordered by id
func (e *Engine) Games() []domain.GameSummary {
	e.mu.RLock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	out := make([]domain.GameSummary, 0, len(sessions))
	for _, s := range sessions {
		s.mu.RLock()
		sum := domain.GameSummary{
			ID:          s.id,
			Name:        s.name,
			OwnerID:     s.ownerID,
			Status:      s.status,
			TotalTime:   s.totalTime,
			ElapsedTime: s.timers.Elapsed(),
			CreatedAt:   s.createdAt,
		}
		s.mu.RUnlock()
		sum.Players = s.playerCount()
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OwnerOf returns the owner of a game
func (e *Engine) OwnerOf(gameID int64) (int64, error) {
	s, err := e.session(gameID)
	if err != nil {
		return 0, err
	}
	return s.ownerID, nil
}

// Game returns the full state of a game including challenge secrets
func (e *Engine) Game(gameID int64) (domain.Game, error) {
	s, err := e.session(gameID)
	if err != nil {
		return domain.Game{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildGame(true), nil
}

// Snapshot returns the state of a game safe to send to any player
func (e *Engine) Snapshot(gameID int64) (domain.Game, error) {
	s, err := e.session(gameID)
	if err != nil {
		return domain.Game{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildGame(false), nil
}

// SnapshotEvents returns the messages that bring a newly subscribed client
// to the authoritative state of a game. They carry the sequence number of
// the last event the snapshot includes.
func (e *Engine) SnapshotEvents(gameID int64) ([]domain.Event, error) {
	s, err := e.session(gameID)
	if err != nil {
		return nil, err
	}
	// exclusive so no action publishes while the state is read
	s.mu.Lock()
	defer s.mu.Unlock()
	now := e.clk.Now().UTC()
	seq := s.seq.Load()
	return []domain.Event{
		{Type: domain.EventGameUpdate, GameID: gameID, Timestamp: now, Data: s.buildGame(false), Seq: seq},
		{Type: domain.EventActiveBombTimers, GameID: gameID, Timestamp: now, Data: s.activeBombs(), Seq: seq},
	}, nil
}

// ActiveBombTimers returns every active bomb of a game
func (e *Engine) ActiveBombTimers(gameID int64) ([]domain.BombTimer, error) {
	s, err := e.session(gameID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeBombs(), nil
}

// ControlPointTimes returns the hold time of every control point of a game
func (e *Engine) ControlPointTimes(gameID int64) ([]domain.HoldTimeUpdate, error) {
	s, err := e.session(gameID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.HoldTimeUpdate
	s.registry.Each(func(ent *cpEntry) {
		ent.mu.Lock()
		out = append(out, s.holdUpdate(ent))
		ent.mu.Unlock()
	})
	return out, nil
}

// ControlPointData returns one control point. Secrets are included only
// when withSecrets is set.
func (e *Engine) ControlPointData(gameID, cpID int64, withSecrets bool) (domain.ControlPoint, error) {
	s, err := e.session(gameID)
	if err != nil {
		return domain.ControlPoint{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.registry.Get(cpID)
	if !ok {
		return domain.ControlPoint{}, fmt.Errorf("%w: control point %d", domain.ErrNotFound, cpID)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	cp := s.controlPoint(ent)
	if !withSecrets {
		cp = cp.Public()
	}
	return cp, nil
}

func (e *Engine) session(gameID int64) (*session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: game %d", domain.ErrNotFound, gameID)
	}
	return s, nil
}

// publish stamps an event with the next sequence number of s. Callers hold
// s.mu, shared or exclusive.
func (e *Engine) publish(s *session, typ string, data any) {
	e.pub.Publish(domain.Event{
		Type:      typ,
		GameID:    s.id,
		Timestamp: e.clk.Now().UTC(),
		Data:      data,
		Seq:       s.seq.Add(1),
	})
}

// checkpoint queues s for persistence. The state is read when the
// checkpoint is written, not when it is queued.
func (e *Engine) checkpoint(s *session) {
	e.checkpoints.mark(s)
}
