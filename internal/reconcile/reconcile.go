// Package reconcile keeps a client-side mirror of a game's timers. Local
// timers tick once per interval for smooth display between server messages;
// every authoritative value replaces the local one, even when it moves
// backwards.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/protocol"
)

// Kind is the counting behavior of a local timer
type Kind int

const (
	// GameClock counts elapsed game seconds up
	GameClock Kind = iota
	// Hold counts the hold time of an owned control point up
	Hold
	// Bomb counts an armed bomb down and stops at zero
	Bomb
)

func (k Kind) String() string {
	switch k {
	case GameClock:
		return "game"
	case Hold:
		return "hold"
	case Bomb:
		return "bomb"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type key struct {
	kind Kind
	id   int64
}

type localTimer struct {
	value  int
	total  int
	active bool
	team   *string

	cancel context.CancelFunc
	latest chan int
}

// HoldView is the displayed hold time of a control point
type HoldView struct {
	Team    *string
	Seconds int
}

// BombView is the displayed countdown of a bomb
type BombView struct {
	Remaining int
	Total     int
	Active    bool
}

// View is what a client should display right now
type View struct {
	Status     domain.GameStatus
	Elapsed    int
	Total      int
	Remaining  *int
	Holds      map[int64]HoldView
	Bombs      map[int64]BombView
	Contests   map[int64]map[string]int
	LastUpdate time.Time
}

// Options tune a Reconciler
type Options struct {
	// Interval is one local tick
	Interval time.Duration
	// StaleAfter is how long without an authoritative message before Stale
	// reports true
	StaleAfter time.Duration
}

// Reconciler is the local timer mirror of one game
type Reconciler struct {
	clk  clockwork.Clock
	opts Options
	ctx  context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	status   domain.GameStatus
	total    int
	timers   map[key]*localTimer
	contests map[int64]map[string]int
	lastMsg  time.Time
}

// New creates a reconciler whose local timers run until ctx is done or
// Close is called
func New(ctx context.Context, clk clockwork.Clock, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * opts.Interval
	}
	ctx, stop := context.WithCancel(ctx)
	return &Reconciler{
		clk:      clk,
		opts:     opts,
		ctx:      ctx,
		stop:     stop,
		status:   domain.StatusStopped,
		timers:   make(map[key]*localTimer),
		contests: make(map[int64]map[string]int),
	}
}

// Close stops every local timer
func (r *Reconciler) Close() {
	r.stop()
}

// Apply folds one server message into the mirror. Unknown message types
// are ignored.
func (r *Reconciler) Apply(env protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch env.Type {
	case domain.EventGameUpdate:
		err = decodeInto(env.Data, r.applyGame)
	case domain.EventGameTimeUpdate:
		err = decodeInto(env.Data, r.applyGameTime)
	case domain.EventControlPointTimeUpdate:
		err = decodeInto(env.Data, func(us []domain.HoldTimeUpdate) {
			for _, u := range us {
				r.setHold(u.ControlPointID, u.OwnedByTeam, u.CurrentHoldTime)
			}
		})
	case domain.EventBombTimeUpdate:
		err = decodeInto(env.Data, r.setBomb)
	case domain.EventActiveBombTimers:
		err = decodeInto(env.Data, r.applyActiveBombs)
	case domain.EventControlPointCreated, domain.EventControlPointUpdated:
		err = decodeInto(env.Data, r.applyControlPoint)
	case domain.EventControlPointDeleted:
		err = decodeInto(env.Data, func(d domain.ControlPointDeletedEvent) {
			r.removeTimer(key{Hold, d.ControlPointID})
			r.removeTimer(key{Bomb, d.ControlPointID})
			delete(r.contests, d.ControlPointID)
		})
	case domain.EventControlPointTeamAssigned:
		err = decodeInto(env.Data, func(d domain.ControlPointTeamAssignedEvent) {
			lt := r.timer(key{Hold, d.ControlPointID})
			lt.team = copyTeam(d.Team)
		})
	case domain.EventPositionChallengeUpdate:
		err = decodeInto(env.Data, func(d domain.PositionChallengeUpdate) {
			r.contests[d.ControlPointID] = d.TeamPoints
		})
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("applying %s: %w", env.Type, err)
	}

	r.lastMsg = r.clk.Now()
	r.syncLocked()
	return nil
}

// View returns the values to display
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{
		Status:     r.status,
		Total:      r.total,
		Holds:      make(map[int64]HoldView),
		Bombs:      make(map[int64]BombView),
		Contests:   make(map[int64]map[string]int),
		LastUpdate: r.lastMsg,
	}
	for k, lt := range r.timers {
		switch k.kind {
		case GameClock:
			v.Elapsed = lt.value
		case Hold:
			v.Holds[k.id] = HoldView{Team: copyTeam(lt.team), Seconds: lt.value}
		case Bomb:
			v.Bombs[k.id] = BombView{Remaining: lt.value, Total: lt.total, Active: lt.active}
		}
	}
	v.Remaining = domain.Remaining(v.Total, v.Elapsed)
	for id, pts := range r.contests {
		cp := make(map[string]int, len(pts))
		for t, n := range pts {
			cp[t] = n
		}
		v.Contests[id] = cp
	}
	return v
}

// Stale reports whether no authoritative message arrived for a while. The
// local timers keep running regardless.
func (r *Reconciler) Stale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastMsg.IsZero() || r.clk.Since(r.lastMsg) > r.opts.StaleAfter
}

func (r *Reconciler) applyGame(g domain.Game) {
	seen := make(map[key]bool)
	r.status = g.Status
	r.total = g.TotalTime
	r.replace(key{GameClock, 0}, g.ElapsedTime)
	seen[key{GameClock, 0}] = true

	r.contests = make(map[int64]map[string]int)
	for _, cp := range g.ControlPoints {
		r.setHold(cp.ID, cp.OwnedByTeam, cp.CurrentHoldTime)
		seen[key{Hold, cp.ID}] = true
		if cp.BombTimer != nil {
			r.setBomb(*cp.BombTimer)
			seen[key{Bomb, cp.ID}] = true
		}
		if len(cp.TeamPoints) > 0 {
			r.contests[cp.ID] = cp.TeamPoints
		}
	}
	for k := range r.timers {
		if !seen[k] {
			r.removeTimer(k)
		}
	}
}

func (r *Reconciler) applyGameTime(u domain.GameTimeUpdate) {
	r.status = u.Status
	r.total = u.TotalTime
	r.replace(key{GameClock, 0}, u.ElapsedTime)
}

func (r *Reconciler) applyControlPoint(cp domain.ControlPoint) {
	r.setHold(cp.ID, cp.OwnedByTeam, cp.CurrentHoldTime)
	if cp.BombTimer != nil {
		r.setBomb(*cp.BombTimer)
	} else {
		r.removeTimer(key{Bomb, cp.ID})
	}
}

// applyActiveBombs treats the list as the complete set of active bombs
func (r *Reconciler) applyActiveBombs(bombs []domain.BombTimer) {
	listed := make(map[int64]bool, len(bombs))
	for _, b := range bombs {
		listed[b.ControlPointID] = true
		r.setBomb(b)
	}
	for k, lt := range r.timers {
		if k.kind == Bomb && lt.active && !listed[k.id] {
			lt.active = false
		}
	}
}

func (r *Reconciler) setHold(cpID int64, team *string, seconds int) {
	r.timer(key{Hold, cpID}).team = copyTeam(team)
	r.replace(key{Hold, cpID}, seconds)
}

func (r *Reconciler) setBomb(b domain.BombTimer) {
	lt := r.timer(key{Bomb, b.ControlPointID})
	lt.total = b.TotalTime
	lt.active = b.IsActive && b.RemainingTime > 0
	r.replace(key{Bomb, b.ControlPointID}, b.RemainingTime)
}

// replace overwrites a local value with an authoritative one and restarts
// the tick phase of its timer
func (r *Reconciler) replace(k key, v int) {
	lt := r.timer(k)
	lt.value = v
	if lt.latest == nil {
		return
	}
	select {
	case <-lt.latest:
	default:
	}
	lt.latest <- v
}

func (r *Reconciler) timer(k key) *localTimer {
	lt, ok := r.timers[k]
	if !ok {
		lt = &localTimer{}
		r.timers[k] = lt
	}
	return lt
}

func (r *Reconciler) removeTimer(k key) {
	lt, ok := r.timers[k]
	if !ok {
		return
	}
	if lt.cancel != nil {
		lt.cancel()
	}
	delete(r.timers, k)
}

// syncLocked starts and stops local timers to match the game status. Paused
// games keep their values; stopped and finished games clear them.
func (r *Reconciler) syncLocked() {
	switch r.status {
	case domain.StatusStopped, domain.StatusFinished:
		for k := range r.timers {
			r.removeTimer(k)
		}
		r.contests = make(map[int64]map[string]int)
		return
	}

	for k, lt := range r.timers {
		want := r.status == domain.StatusRunning && ticks(k.kind, lt)
		switch {
		case want && lt.cancel == nil:
			ctx, cancel := context.WithCancel(r.ctx)
			lt.cancel = cancel
			lt.latest = make(chan int, 1)
			go r.run(ctx, k, lt, lt.latest)
		case !want && lt.cancel != nil:
			lt.cancel()
			lt.cancel = nil
			lt.latest = nil
		}
	}
}

func ticks(kind Kind, lt *localTimer) bool {
	switch kind {
	case GameClock:
		return true
	case Hold:
		return lt.team != nil
	case Bomb:
		return lt.active && lt.value > 0
	}
	return false
}

// run is the local ticker of one timer. An authoritative value arriving on
// latest restarts the one-interval wait so the display never double-steps
// right after a correction.
func (r *Reconciler) run(ctx context.Context, k key, lt *localTimer, latest <-chan int) {
	tk := r.clk.NewTicker(r.opts.Interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-latest:
			tk.Reset(r.opts.Interval)
		case <-tk.Chan():
			if !r.step(ctx, k, lt) {
				return
			}
		}
	}
}

func (r *Reconciler) step(ctx context.Context, k key, lt *localTimer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}

	switch k.kind {
	case GameClock:
		lt.value++
		if r.total > 0 && lt.value >= r.total {
			lt.value = r.total
		}
	case Hold:
		lt.value++
	case Bomb:
		lt.value = max(lt.value-1, 0)
		if lt.value == 0 {
			// predicted detonation; the server confirms it
			lt.active = false
			lt.cancel()
			lt.cancel = nil
			lt.latest = nil
			log.Debug().Int64("control_point_id", k.id).Msg("local bomb timer reached zero")
			return false
		}
	}
	return true
}

func decodeInto[T any](raw json.RawMessage, apply func(T)) error {
	v, err := protocol.DecodeData[T](raw)
	if err != nil {
		return err
	}
	apply(v)
	return nil
}

func copyTeam(t *string) *string {
	if t == nil {
		return nil
	}
	s := *t
	return &s
}
