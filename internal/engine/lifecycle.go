package engine

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ernie/milsim/internal/domain"
)

// Start moves a stopped game to running and starts its clock
func (e *Engine) Start(gameID int64) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusStopped {
		return transitionError(domain.ActionStartGame, s.status)
	}
	s.status = domain.StatusRunning
	s.ticksSinceCheckpoint = 0
	s.ticker.Reset()
	s.ticker.Start()

	log.Info().Int64("game_id", gameID).Int("total_time", s.totalTime).Msg("game started")
	e.publishLifecycle(s)
	return nil
}

// Pause freezes a running game. Timer values are kept as they are.
func (e *Engine) Pause(gameID int64) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusRunning {
		return transitionError(domain.ActionPauseGame, s.status)
	}
	s.ticker.Pause()
	s.status = domain.StatusPaused

	log.Info().Int64("game_id", gameID).Int("elapsed", s.timers.Elapsed()).Msg("game paused")
	e.publishLifecycle(s)
	return nil
}

// Resume continues a paused game. The clock origin is reset to now so the
// paused interval is never credited.
func (e *Engine) Resume(gameID int64) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusPaused {
		return transitionError(domain.ActionResumeGame, s.status)
	}
	if s.exhausted() {
		e.finishLocked(s)
		return nil
	}
	pausedFor := e.clk.Since(s.ticker.PausedAt())
	s.status = domain.StatusRunning
	s.ticker.Resume()

	log.Info().Int64("game_id", gameID).Dur("paused_for", pausedFor).Msg("game resumed")
	e.publishLifecycle(s)
	return nil
}

// End finishes a running or paused game
func (e *Engine) End(gameID int64) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusRunning && s.status != domain.StatusPaused {
		return transitionError(domain.ActionEndGame, s.status)
	}
	e.finishLocked(s)
	return nil
}

// Restart returns a stopped or finished game to its initial stopped state:
// elapsed time, ownership, hold times, bombs and position contests are cleared.
func (e *Engine) Restart(gameID int64) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusStopped && s.status != domain.StatusFinished {
		return transitionError(domain.ActionRestartGame, s.status)
	}
	s.ticker.Stop()
	s.ticker.Reset()
	s.status = domain.StatusStopped
	s.timers.Clear()
	s.registry.Each(func(ent *cpEntry) {
		ent.cp.OwnedByTeam = nil
		ent.teamPoints = nil
	})
	s.timers.Delta()

	log.Info().Int64("game_id", gameID).Msg("game restarted")
	e.publishLifecycle(s)
	return nil
}

// AddTime extends (or with a negative value shortens) a bounded game.
// Unlimited games stay unlimited: the call is accepted and changes nothing.
func (e *Engine) AddTime(gameID int64, seconds int) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.StatusFinished {
		return transitionError(domain.ActionAddTime, s.status)
	}
	if s.totalTime == 0 {
		log.Debug().Int64("game_id", gameID).Int("seconds", seconds).Msg("addTime ignored on unlimited game")
		return nil
	}
	total := s.totalTime + seconds
	if total < 1 {
		return fmt.Errorf("%w: total time would drop to %d", domain.ErrInvalidInput, total)
	}
	e.setTotalTimeLocked(s, total)
	return nil
}

// UpdateGameTime sets the total game time. 0 makes the game unlimited.
func (e *Engine) UpdateGameTime(gameID int64, totalTime int) error {
	if totalTime < 0 {
		return fmt.Errorf("%w: timeInSeconds must not be negative", domain.ErrInvalidInput)
	}
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.StatusFinished {
		return transitionError(domain.ActionUpdateGameTime, s.status)
	}
	e.setTotalTimeLocked(s, totalTime)
	return nil
}

func (e *Engine) setTotalTimeLocked(s *session, total int) {
	s.totalTime = total
	log.Info().Int64("game_id", s.id).Int("total_time", total).Msg("game time updated")

	if (s.status == domain.StatusRunning || s.status == domain.StatusPaused) && s.exhausted() {
		e.finishLocked(s)
		return
	}
	e.publish(s, domain.EventGameTimeUpdate, s.timeUpdate())
	e.checkpoint(s)
}

// finishLocked stops the clock for good and drops bombs and position
// contests. Hold times and ownership stay for the final tally.
func (e *Engine) finishLocked(s *session) {
	s.ticker.Stop()
	s.status = domain.StatusFinished
	s.timers.ClearDerived()
	s.registry.Each(func(ent *cpEntry) {
		ent.teamPoints = nil
	})
	s.timers.Delta()

	log.Info().Int64("game_id", s.id).Int("elapsed", s.timers.Elapsed()).Msg("game finished")
	e.publishLifecycle(s)
}

// publishLifecycle broadcasts the full state after a status change and
// persists it. Callers hold s.mu exclusively.
func (e *Engine) publishLifecycle(s *session) {
	e.publish(s, domain.EventGameUpdate, s.buildGame(false))
	e.publish(s, domain.EventGameTimeUpdate, s.timeUpdate())
	s.ticksSinceCheckpoint = 0
	e.checkpoint(s)
}

// exhausted reports whether a bounded game has used up its time
func (s *session) exhausted() bool {
	return s.totalTime > 0 && s.timers.Elapsed() >= s.totalTime
}

func (s *session) timeUpdate() domain.GameTimeUpdate {
	return domain.GameTimeUpdate{
		Status:        s.status,
		ElapsedTime:   s.timers.Elapsed(),
		TotalTime:     s.totalTime,
		RemainingTime: domain.Remaining(s.totalTime, s.timers.Elapsed()),
	}
}

func transitionError(action string, status domain.GameStatus) error {
	return fmt.Errorf("%w: cannot %s while %s", domain.ErrInvalidStateTransition, action, status)
}
