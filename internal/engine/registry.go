package engine

import (
	"sync"

	"github.com/ernie/milsim/internal/domain"
)

// cpEntry is one control point of a game. mu serializes capture, arm and
// disarm on this point only; cp.Type, the challenge configs and teamPoints
// change only while the game lock is held exclusively.
type cpEntry struct {
	mu         sync.Mutex
	cp         domain.ControlPoint
	teamPoints map[string]int
}

// Registry is the ordered set of control points of a game. Adding and
// removing entries requires the game lock held exclusively.
type Registry struct {
	order []int64
	byID  map[int64]*cpEntry
}

func newRegistry() *Registry {
	return &Registry{byID: make(map[int64]*cpEntry)}
}

// Add appends a control point. Derived timer fields on cp are ignored; they
// live in the game's timer store.
func (r *Registry) Add(cp domain.ControlPoint) *cpEntry {
	cp.CurrentHoldTime = 0
	cp.BombTimer = nil
	ent := &cpEntry{cp: cp}
	if len(cp.TeamPoints) > 0 {
		ent.teamPoints = make(map[string]int, len(cp.TeamPoints))
		for k, v := range cp.TeamPoints {
			ent.teamPoints[k] = v
		}
	}
	ent.cp.TeamPoints = nil
	r.byID[cp.ID] = ent
	r.order = append(r.order, cp.ID)
	return ent
}

// Get returns a control point entry
func (r *Registry) Get(id int64) (*cpEntry, bool) {
	ent, ok := r.byID[id]
	return ent, ok
}

// Remove deletes a control point
func (r *Registry) Remove(id int64) {
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Each visits entries in creation order
func (r *Registry) Each(fn func(ent *cpEntry)) {
	for _, id := range r.order {
		fn(r.byID[id])
	}
}

// Len returns the number of control points
func (r *Registry) Len() int {
	return len(r.order)
}

// SiteID returns the id of the game's site other than exclude, if any
func (r *Registry) SiteID(exclude int64) (int64, bool) {
	for _, id := range r.order {
		if id == exclude {
			continue
		}
		if r.byID[id].cp.Type == domain.TypeSite {
			return id, true
		}
	}
	return 0, false
}
