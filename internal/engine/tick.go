package engine

import (
	"github.com/rs/zerolog/log"

	"github.com/ernie/milsim/internal/domain"
)

// Tick applies one game second to a running game. It is what the game clock
// calls; ticks on a game that is not running are ignored.
func (e *Engine) Tick(gameID int64) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	e.tick(s, 0, false)
	return nil
}

// tick advances s by one second. fromClock ticks carry the generation of
// the clock run that produced them and are dropped once that run ended.
func (e *Engine) tick(s *session, gen uint64, fromClock bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusRunning {
		return
	}
	if fromClock && !s.ticker.Live(gen) {
		return
	}

	s.registry.Each(func(ent *cpEntry) {
		if ent.cp.OwnedByTeam != nil {
			s.timers.IncrementHold(ent.cp.ID)
		}
	})
	detonated := s.timers.TickBombs()
	contests := e.accumulatePositions(s)
	elapsed := s.timers.AdvanceElapsed()

	d := s.timers.Delta()
	if len(d.Holds) > 0 {
		holds := make([]domain.HoldTimeUpdate, 0, len(d.Holds))
		s.registry.Each(func(ent *cpEntry) {
			if _, ok := d.Holds[ent.cp.ID]; ok {
				holds = append(holds, s.holdUpdate(ent))
			}
		})
		e.publish(s, domain.EventControlPointTimeUpdate, holds)
	}
	for _, b := range d.Bombs {
		e.publish(s, domain.EventBombTimeUpdate, b)
	}
	for _, c := range contests {
		e.publish(s, domain.EventPositionChallengeUpdate, c)
	}
	for _, id := range detonated {
		log.Info().Int64("game_id", s.id).Int64("control_point_id", id).Msg("bomb detonated")
	}
	log.Debug().Int64("game_id", s.id).Int("elapsed", elapsed).Int("holds", len(d.Holds)).Int("bombs", len(d.Bombs)).Msg("tick")

	if s.totalTime > 0 && elapsed >= s.totalTime {
		e.finishLocked(s)
		return
	}
	e.publish(s, domain.EventGameTimeUpdate, s.timeUpdate())

	s.ticksSinceCheckpoint++
	if s.ticksSinceCheckpoint >= e.opts.CheckpointEvery {
		s.ticksSinceCheckpoint = 0
		e.checkpoint(s)
	}
}

// accumulatePositions credits every team with a fresh in-range player on
// each position-challenge control point. Callers hold s.mu exclusively.
func (e *Engine) accumulatePositions(s *session) []domain.PositionChallengeUpdate {
	now := e.clk.Now()

	var fixes []domain.Player
	s.playersMu.RLock()
	for _, p := range s.players {
		if p.Team == nil || p.Position == nil {
			continue
		}
		if now.Sub(p.Position.ReportedAt) > e.opts.PositionFreshness {
			continue
		}
		fix := *p
		pos := *p.Position
		fix.Position = &pos
		fixes = append(fixes, fix)
	}
	s.playersMu.RUnlock()
	if len(fixes) == 0 {
		return nil
	}

	var out []domain.PositionChallengeUpdate
	s.registry.Each(func(ent *cpEntry) {
		ch := ent.cp.Challenges.Position
		if ch == nil {
			return
		}
		teams := make(map[string]bool)
		for _, p := range fixes {
			if inRange(&ent.cp, ch, p.Position) {
				teams[*p.Team] = true
			}
		}
		if len(teams) == 0 {
			return
		}
		if ent.teamPoints == nil {
			ent.teamPoints = make(map[string]int)
		}
		for t := range teams {
			ent.teamPoints[t] += e.opts.PositionPointsPerTick
		}
		out = append(out, domain.PositionChallengeUpdate{
			ControlPointID: ent.cp.ID,
			TeamPoints:     copyPoints(ent.teamPoints),
		})
	})
	return out
}
