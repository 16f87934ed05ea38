package engine

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ernie/milsim/internal/clock"
	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/timers"
)

// session is the live state of one game
type session struct {
	id        int64
	name      string
	ownerID   int64
	createdAt time.Time

	mu                   sync.RWMutex
	status               domain.GameStatus
	totalTime            int
	registry             *Registry
	timers               *timers.Store
	ticker               *clock.Ticker
	ticksSinceCheckpoint int
	seq                  atomic.Uint64

	playersMu sync.RWMutex
	players   map[int64]*domain.Player
}

func (e *Engine) newSession(g domain.Game) *session {
	s := &session{
		id:        g.ID,
		name:      g.Name,
		ownerID:   g.OwnerID,
		createdAt: g.CreatedAt,
		status:    g.Status,
		totalTime: g.TotalTime,
		registry:  newRegistry(),
		timers:    timers.New(),
		players:   make(map[int64]*domain.Player),
	}
	if !s.status.Valid() {
		s.status = domain.StatusStopped
	}
	for _, cp := range g.ControlPoints {
		s.registry.Add(cp)
		s.timers.Add(cp.ID, cp.CurrentHoldTime, cp.BombTimer)
	}
	s.timers.SetElapsed(g.ElapsedTime)
	s.timers.Delta()
	for _, p := range g.Players {
		p := p
		s.players[p.UserID] = &p
	}
	s.ticker = clock.New(e.clk, e.opts.TickInterval, func(gen uint64) {
		e.tick(s, gen, true)
	})
	return s
}

// controlPoint returns a copy of a control point with its timer values.
// Callers hold s.mu and ent.mu, or s.mu exclusively.
func (s *session) controlPoint(ent *cpEntry) domain.ControlPoint {
	cp := ent.cp
	if cp.OwnedByTeam != nil {
		t := *cp.OwnedByTeam
		cp.OwnedByTeam = &t
	}
	cp.CurrentHoldTime = s.timers.HoldTime(cp.ID)
	cp.BombTimer = s.timers.Bomb(cp.ID)
	if len(ent.teamPoints) > 0 {
		cp.TeamPoints = copyPoints(ent.teamPoints)
	}
	return cp
}

func (s *session) holdUpdate(ent *cpEntry) domain.HoldTimeUpdate {
	u := domain.HoldTimeUpdate{
		ControlPointID:  ent.cp.ID,
		CurrentHoldTime: s.timers.HoldTime(ent.cp.ID),
	}
	if ent.cp.OwnedByTeam != nil {
		t := *ent.cp.OwnedByTeam
		u.OwnedByTeam = &t
	}
	return u
}

// buildGame assembles the full game state. Callers hold s.mu (shared or
// exclusive) and no control point lock.
func (s *session) buildGame(withSecrets bool) domain.Game {
	g := domain.Game{
		ID:            s.id,
		Name:          s.name,
		OwnerID:       s.ownerID,
		Status:        s.status,
		TotalTime:     s.totalTime,
		ElapsedTime:   s.timers.Elapsed(),
		RemainingTime: domain.Remaining(s.totalTime, s.timers.Elapsed()),
		ControlPoints: make([]domain.ControlPoint, 0, s.registry.Len()),
		CreatedAt:     s.createdAt,
	}
	s.registry.Each(func(ent *cpEntry) {
		ent.mu.Lock()
		cp := s.controlPoint(ent)
		ent.mu.Unlock()
		if !withSecrets {
			cp = cp.Public()
		}
		g.ControlPoints = append(g.ControlPoints, cp)
	})
	g.Players = s.playerList()
	return g
}

// activeBombs lists active bombs. Callers hold s.mu and no control point lock.
func (s *session) activeBombs() []domain.BombTimer {
	out := []domain.BombTimer{}
	s.registry.Each(func(ent *cpEntry) {
		ent.mu.Lock()
		b := s.timers.Bomb(ent.cp.ID)
		ent.mu.Unlock()
		if b != nil && b.IsActive {
			out = append(out, *b)
		}
	})
	return out
}

func (s *session) player(userID int64) (domain.Player, bool) {
	s.playersMu.RLock()
	defer s.playersMu.RUnlock()
	p, ok := s.players[userID]
	if !ok {
		return domain.Player{}, false
	}
	cp := *p
	if p.Position != nil {
		pos := *p.Position
		cp.Position = &pos
	}
	return cp, true
}

func (s *session) playerList() []domain.Player {
	s.playersMu.RLock()
	defer s.playersMu.RUnlock()
	out := make([]domain.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *session) playerCount() int {
	s.playersMu.RLock()
	defer s.playersMu.RUnlock()
	return len(s.players)
}

func copyPoints(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
