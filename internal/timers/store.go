// Package timers holds the countdown and accumulator values of one game:
// elapsed game time, per-control-point hold time and per-control-point bomb
// timer.
//
// A Store does no locking of its own. The engine is its only writer: entries
// of different control points may be mutated concurrently, everything else
// (adding/removing entries, elapsed time, Delta, Snapshot, Clear) requires
// exclusive access to the whole store.
package timers

import (
	"sort"

	"github.com/ernie/milsim/internal/domain"
)

type entry struct {
	holdTime  int
	bomb      *domain.BombTimer
	holdDirty bool
	bombDirty bool
}

// Store is the timer state of a single game
type Store struct {
	elapsed      int
	elapsedDirty bool
	entries      map[int64]*entry
}

// Delta lists the values changed since the previous call to Delta
type Delta struct {
	Elapsed *int
	Holds   map[int64]int
	Bombs   []domain.BombTimer
}

// Empty reports whether nothing changed
func (d Delta) Empty() bool {
	return d.Elapsed == nil && len(d.Holds) == 0 && len(d.Bombs) == 0
}

// Snapshot holds every live timer value of a game
type Snapshot struct {
	Elapsed int
	Holds   map[int64]int
	Bombs   []domain.BombTimer
}

// New creates an empty store
func New() *Store {
	return &Store{entries: make(map[int64]*entry)}
}

// Add registers a control point with the given restored values
func (s *Store) Add(cpID int64, holdTime int, bomb *domain.BombTimer) {
	e := &entry{holdTime: holdTime}
	if bomb != nil {
		b := *bomb
		e.bomb = &b
	}
	s.entries[cpID] = e
}

// Remove forgets a control point
func (s *Store) Remove(cpID int64) {
	delete(s.entries, cpID)
}

// Elapsed returns the game's elapsed seconds
func (s *Store) Elapsed() int {
	return s.elapsed
}

// SetElapsed overwrites the elapsed seconds (restore, restart)
func (s *Store) SetElapsed(v int) {
	if s.elapsed != v {
		s.elapsed = v
		s.elapsedDirty = true
	}
}

// AdvanceElapsed adds one second of game time
func (s *Store) AdvanceElapsed() int {
	s.elapsed++
	s.elapsedDirty = true
	return s.elapsed
}

// HoldTime returns a control point's hold time
func (s *Store) HoldTime(cpID int64) int {
	if e, ok := s.entries[cpID]; ok {
		return e.holdTime
	}
	return 0
}

// ResetHold sets a control point's hold time to 0
func (s *Store) ResetHold(cpID int64) {
	e, ok := s.entries[cpID]
	if !ok {
		return
	}
	e.holdTime = 0
	e.holdDirty = true
}

// IncrementHold adds one second to a control point's hold time
func (s *Store) IncrementHold(cpID int64) int {
	e, ok := s.entries[cpID]
	if !ok {
		return 0
	}
	e.holdTime++
	e.holdDirty = true
	return e.holdTime
}

// Bomb returns a copy of a control point's bomb timer, nil if none
func (s *Store) Bomb(cpID int64) *domain.BombTimer {
	e, ok := s.entries[cpID]
	if !ok || e.bomb == nil {
		return nil
	}
	b := *e.bomb
	return &b
}

// ArmBomb replaces a control point's bomb timer with a fresh active one
func (s *Store) ArmBomb(cpID int64, bomb domain.BombTimer) {
	e, ok := s.entries[cpID]
	if !ok {
		return
	}
	bomb.ControlPointID = cpID
	e.bomb = &bomb
	e.bombDirty = true
}

// DisarmBomb deactivates a control point's bomb, freezing its remaining time
func (s *Store) DisarmBomb(cpID int64) *domain.BombTimer {
	e, ok := s.entries[cpID]
	if !ok || e.bomb == nil {
		return nil
	}
	e.bomb.IsActive = false
	e.bombDirty = true
	b := *e.bomb
	return &b
}

// ClearBomb drops a control point's bomb record
func (s *Store) ClearBomb(cpID int64) {
	e, ok := s.entries[cpID]
	if !ok || e.bomb == nil {
		return
	}
	e.bomb = nil
	e.bombDirty = true
}

// TickBombs counts every active bomb down by one second and returns the
// bombs that detonated on this tick
func (s *Store) TickBombs() []int64 {
	var detonated []int64
	for id, e := range s.entries {
		if e.bomb == nil || !e.bomb.IsActive {
			continue
		}
		e.bomb.RemainingTime = max(e.bomb.RemainingTime-1, 0)
		e.bomb.IsActive = e.bomb.RemainingTime > 0
		if !e.bomb.IsActive {
			e.bomb.Detonated = true
			detonated = append(detonated, id)
		}
		e.bombDirty = true
	}
	sort.Slice(detonated, func(i, j int) bool { return detonated[i] < detonated[j] })
	return detonated
}

// ActiveBombs returns every active bomb ordered by control point
func (s *Store) ActiveBombs() []domain.BombTimer {
	var out []domain.BombTimer
	for _, e := range s.entries {
		if e.bomb != nil && e.bomb.IsActive {
			out = append(out, *e.bomb)
		}
	}
	sortBombs(out)
	return out
}

// Delta returns the values changed since the last call and clears the
// change marks
func (s *Store) Delta() Delta {
	var d Delta
	if s.elapsedDirty {
		v := s.elapsed
		d.Elapsed = &v
		s.elapsedDirty = false
	}
	for id, e := range s.entries {
		if e.holdDirty {
			if d.Holds == nil {
				d.Holds = make(map[int64]int)
			}
			d.Holds[id] = e.holdTime
			e.holdDirty = false
		}
		if e.bombDirty {
			if e.bomb != nil {
				d.Bombs = append(d.Bombs, *e.bomb)
			}
			e.bombDirty = false
		}
	}
	sortBombs(d.Bombs)
	return d
}

// Snapshot returns every live timer value
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Elapsed: s.elapsed,
		Holds:   make(map[int64]int, len(s.entries)),
	}
	for id, e := range s.entries {
		snap.Holds[id] = e.holdTime
		if e.bomb != nil {
			snap.Bombs = append(snap.Bombs, *e.bomb)
		}
	}
	sortBombs(snap.Bombs)
	return snap
}

// ClearDerived drops all bomb timers (game finished or stopped)
func (s *Store) ClearDerived() {
	for _, e := range s.entries {
		if e.bomb != nil {
			e.bomb = nil
			e.bombDirty = true
		}
	}
}

// Clear resets elapsed time, hold times and bombs (game restart)
func (s *Store) Clear() {
	s.SetElapsed(0)
	for _, e := range s.entries {
		if e.holdTime != 0 {
			e.holdTime = 0
			e.holdDirty = true
		}
		if e.bomb != nil {
			e.bomb = nil
			e.bombDirty = true
		}
	}
}

func sortBombs(b []domain.BombTimer) {
	sort.Slice(b, func(i, j int) bool { return b[i].ControlPointID < b[j].ControlPointID })
}
