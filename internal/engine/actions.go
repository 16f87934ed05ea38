package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ernie/milsim/internal/domain"
)

// Actor is the authenticated user performing an action
type Actor struct {
	UserID   int64
	Username string
	IsAdmin  bool
}

// Join adds a player to a game or updates their team. A nil team keeps the
// team of a returning player.
func (e *Engine) Join(ctx context.Context, gameID int64, actor Actor, team *string) (domain.Player, error) {
	s, err := e.session(gameID)
	if err != nil {
		return domain.Player{}, err
	}
	if team != nil {
		team = domain.StringPtr(strings.TrimSpace(*team))
	}

	s.playersMu.Lock()
	p, ok := s.players[actor.UserID]
	if !ok {
		p = &domain.Player{UserID: actor.UserID, Username: actor.Username}
		s.players[actor.UserID] = p
	}
	if team != nil {
		p.Team = team
	}
	if actor.Username != "" {
		p.Username = actor.Username
	}
	joined := *p
	joined.Position = nil
	s.playersMu.Unlock()

	if err := e.repo.SavePlayer(ctx, gameID, joined); err != nil {
		return domain.Player{}, fmt.Errorf("saving player: %w", err)
	}
	log.Info().Int64("game_id", gameID).Int64("user_id", actor.UserID).Str("team", joined.TeamName()).Bool("returning", ok).Msg("player joined")
	return joined, nil
}

// PositionUpdate records the last GPS fix of a player
func (e *Engine) PositionUpdate(gameID int64, actor Actor, data domain.PositionUpdateData) error {
	if data.Lat < -90 || data.Lat > 90 || data.Lng < -180 || data.Lng > 180 || data.Accuracy < 0 ||
		math.IsNaN(data.Lat) || math.IsNaN(data.Lng) || math.IsNaN(data.Accuracy) {
		return fmt.Errorf("%w: position out of range", domain.ErrInvalidInput)
	}
	s, err := e.session(gameID)
	if err != nil {
		return err
	}

	s.playersMu.Lock()
	defer s.playersMu.Unlock()
	p, ok := s.players[actor.UserID]
	if !ok {
		return notJoined(gameID, actor.UserID)
	}
	p.Position = &domain.Position{
		Lat:        data.Lat,
		Lng:        data.Lng,
		Accuracy:   data.Accuracy,
		ReportedAt: e.clk.Now(),
	}
	return nil
}

// TakeControlPoint captures a control point for the actor's team. Recapture
// by the owning team is allowed and resets the hold time.
func (e *Engine) TakeControlPoint(gameID int64, actor Actor, data domain.TakeControlPointData) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status != domain.StatusRunning {
		return transitionError(domain.ActionTakeControlPoint, s.status)
	}
	ent, err := s.entry(data.ControlPointID)
	if err != nil {
		return err
	}
	p, ok := s.player(actor.UserID)
	if !ok {
		return notJoined(gameID, actor.UserID)
	}
	if p.Team == nil {
		return fmt.Errorf("%w: user %d", domain.ErrTeamRequired, actor.UserID)
	}

	err = func() error {
		ent.mu.Lock()
		defer ent.mu.Unlock()

		ch := ent.cp.Challenges
		if ch.Code != nil {
			if data.Code == nil || *data.Code != ch.Code.Code {
				return fmt.Errorf("%w: control point %d", domain.ErrInvalidCode, ent.cp.ID)
			}
		}
		if ch.Position != nil && !inRange(&ent.cp, ch.Position, p.Position) {
			return fmt.Errorf("%w: control point %d", domain.ErrPositionChallengeFailed, ent.cp.ID)
		}

		previous := ent.cp.OwnedByTeam
		e.setOwnerLocked(s, ent, p.Team)

		log.Info().
			Int64("game_id", gameID).
			Int64("control_point_id", ent.cp.ID).
			Int64("user_id", actor.UserID).
			Str("team", *p.Team).
			Bool("recapture", previous != nil && *previous == *p.Team).
			Msg("control point taken")

		e.publish(s, domain.EventControlPointUpdated, s.controlPoint(ent).Public())
		e.publish(s, domain.EventControlPointTimeUpdate, []domain.HoldTimeUpdate{s.holdUpdate(ent)})
		return nil
	}()
	if err != nil {
		return err
	}

	e.checkpoint(s)
	return nil
}

// AssignControlPointTeam sets ownership directly. A nil team releases the
// control point.
func (e *Engine) AssignControlPointTeam(gameID int64, data domain.AssignControlPointTeamData) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status == domain.StatusFinished {
		return transitionError(domain.ActionAssignControlPointTeam, s.status)
	}
	ent, err := s.entry(data.ControlPointID)
	if err != nil {
		return err
	}
	var team *string
	if data.Team != nil {
		team = domain.StringPtr(strings.TrimSpace(*data.Team))
	}

	err = func() error {
		ent.mu.Lock()
		defer ent.mu.Unlock()
		e.setOwnerLocked(s, ent, team)

		log.Info().Int64("game_id", gameID).Int64("control_point_id", ent.cp.ID).Str("team", derefString(team)).Msg("control point team assigned")

		e.publish(s, domain.EventControlPointTeamAssigned, domain.ControlPointTeamAssignedEvent{
			ControlPointID: ent.cp.ID,
			Team:           team,
		})
		e.publish(s, domain.EventControlPointTimeUpdate, []domain.HoldTimeUpdate{s.holdUpdate(ent)})
		return nil
	}()
	if err != nil {
		return err
	}

	e.checkpoint(s)
	return nil
}

// setOwnerLocked changes ownership, resets the hold time and drops a bomb
// record that is no longer active. Callers hold ent.mu.
func (e *Engine) setOwnerLocked(s *session, ent *cpEntry, team *string) {
	if team != nil {
		t := *team
		team = &t
	}
	ent.cp.OwnedByTeam = team
	s.timers.ResetHold(ent.cp.ID)
	if b := s.timers.Bomb(ent.cp.ID); b != nil && !b.IsActive {
		s.timers.ClearBomb(ent.cp.ID)
	}
}

// ActivateBomb arms the bomb of a control point
func (e *Engine) ActivateBomb(gameID int64, actor Actor, data domain.ActivateBombData) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status != domain.StatusRunning {
		return transitionError(domain.ActionActivateBomb, s.status)
	}
	ent, err := s.entry(data.ControlPointID)
	if err != nil {
		return err
	}
	p, ok := s.player(actor.UserID)
	if !ok {
		return notJoined(gameID, actor.UserID)
	}

	err = func() error {
		ent.mu.Lock()
		defer ent.mu.Unlock()

		bc := ent.cp.Challenges.Bomb
		if bc == nil {
			return fmt.Errorf("%w: control point %d has no bomb challenge", domain.ErrInvalidControlPoint, ent.cp.ID)
		}
		if data.ArmedCode != bc.ArmedCode {
			return fmt.Errorf("%w: control point %d", domain.ErrInvalidCode, ent.cp.ID)
		}
		if b := s.timers.Bomb(ent.cp.ID); b != nil && b.IsActive {
			return fmt.Errorf("%w: control point %d", domain.ErrAlreadyActive, ent.cp.ID)
		}

		s.timers.ArmBomb(ent.cp.ID, domain.BombTimer{
			RemainingTime:     bc.BombTime,
			TotalTime:         bc.BombTime,
			IsActive:          true,
			ActivatedByUserID: actor.UserID,
			ActivatedByTeam:   p.Team,
		})

		log.Info().Int64("game_id", gameID).Int64("control_point_id", ent.cp.ID).Int64("user_id", actor.UserID).Int("bomb_time", bc.BombTime).Msg("bomb armed")
		e.publish(s, domain.EventBombTimeUpdate, *s.timers.Bomb(ent.cp.ID))
		return nil
	}()
	if err != nil {
		return err
	}

	e.checkpoint(s)
	return nil
}

// DeactivateBomb disarms an active bomb. Any team may disarm; the remaining
// time is frozen in the record.
func (e *Engine) DeactivateBomb(gameID int64, actor Actor, data domain.DeactivateBombData) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, err := s.entry(data.ControlPointID)
	if err != nil {
		return err
	}
	if _, ok := s.player(actor.UserID); !ok {
		return notJoined(gameID, actor.UserID)
	}

	err = func() error {
		ent.mu.Lock()
		defer ent.mu.Unlock()

		b := s.timers.Bomb(ent.cp.ID)
		if b == nil || !b.IsActive {
			return fmt.Errorf("%w: control point %d", domain.ErrNotActive, ent.cp.ID)
		}
		if bc := ent.cp.Challenges.Bomb; bc == nil || data.DisarmedCode != bc.DisarmedCode {
			return fmt.Errorf("%w: control point %d", domain.ErrInvalidCode, ent.cp.ID)
		}
		disarmed := s.timers.DisarmBomb(ent.cp.ID)

		log.Info().Int64("game_id", gameID).Int64("control_point_id", ent.cp.ID).Int64("user_id", actor.UserID).Int("remaining", disarmed.RemainingTime).Msg("bomb disarmed")
		e.publish(s, domain.EventBombTimeUpdate, *disarmed)
		return nil
	}()
	if err != nil {
		return err
	}

	e.checkpoint(s)
	return nil
}

// CreateControlPoint adds a control point to a game
func (e *Engine) CreateControlPoint(ctx context.Context, gameID int64, cp domain.ControlPoint) (domain.ControlPoint, error) {
	if err := cp.Validate(); err != nil {
		return domain.ControlPoint{}, err
	}
	s, err := e.session(gameID)
	if err != nil {
		return domain.ControlPoint{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.Type == domain.TypeSite {
		if id, ok := s.registry.SiteID(0); ok {
			return domain.ControlPoint{}, fmt.Errorf("%w: game already has site %d", domain.ErrInvalidControlPoint, id)
		}
	}
	cp.ID = 0
	cp.GameID = gameID
	cp.OwnedByTeam = nil
	cp.CurrentHoldTime = 0
	cp.BombTimer = nil
	cp.TeamPoints = nil
	if err := e.repo.CreateControlPoint(ctx, &cp); err != nil {
		return domain.ControlPoint{}, fmt.Errorf("creating control point: %w", err)
	}
	ent := s.registry.Add(cp)
	s.timers.Add(cp.ID, 0, nil)

	log.Info().Int64("game_id", gameID).Int64("control_point_id", cp.ID).Str("type", string(cp.Type)).Msg("control point created")
	created := s.controlPoint(ent)
	e.publish(s, domain.EventControlPointCreated, created.Public())
	return created, nil
}

// UpdateControlPoint replaces the configuration of a control point.
// Ownership and timers are kept; removing a challenge drops its state.
func (e *Engine) UpdateControlPoint(ctx context.Context, gameID int64, cp domain.ControlPoint) (domain.ControlPoint, error) {
	if err := cp.Validate(); err != nil {
		return domain.ControlPoint{}, err
	}
	s, err := e.session(gameID)
	if err != nil {
		return domain.ControlPoint{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, err := s.entry(cp.ID)
	if err != nil {
		return domain.ControlPoint{}, err
	}
	if cp.Type == domain.TypeSite {
		if id, ok := s.registry.SiteID(cp.ID); ok {
			return domain.ControlPoint{}, fmt.Errorf("%w: game already has site %d", domain.ErrInvalidControlPoint, id)
		}
	}

	next := ent.cp
	next.Name = cp.Name
	next.Type = cp.Type
	next.Latitude = cp.Latitude
	next.Longitude = cp.Longitude
	next.Challenges = cp.Challenges
	stored := next
	stored.CurrentHoldTime = s.timers.HoldTime(cp.ID)
	if err := e.repo.UpdateControlPoint(ctx, &stored); err != nil {
		return domain.ControlPoint{}, fmt.Errorf("updating control point: %w", err)
	}

	ent.cp = next
	if next.Challenges.Bomb == nil {
		s.timers.ClearBomb(cp.ID)
	}
	if next.Challenges.Position == nil {
		ent.teamPoints = nil
	}

	log.Info().Int64("game_id", gameID).Int64("control_point_id", cp.ID).Msg("control point updated")
	updated := s.controlPoint(ent)
	e.publish(s, domain.EventControlPointUpdated, updated.Public())
	return updated, nil
}

// DeleteControlPoint removes a control point and its timers
func (e *Engine) DeleteControlPoint(ctx context.Context, gameID, cpID int64) error {
	s, err := e.session(gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.entry(cpID); err != nil {
		return err
	}
	if err := e.repo.DeleteControlPoint(ctx, gameID, cpID); err != nil {
		return fmt.Errorf("deleting control point: %w", err)
	}
	s.registry.Remove(cpID)
	s.timers.Remove(cpID)
	e.checkpoint(s)

	log.Info().Int64("game_id", gameID).Int64("control_point_id", cpID).Msg("control point deleted")
	e.publish(s, domain.EventControlPointDeleted, domain.ControlPointDeletedEvent{ControlPointID: cpID})
	return nil
}

func (s *session) entry(cpID int64) (*cpEntry, error) {
	ent, ok := s.registry.Get(cpID)
	if !ok {
		return nil, fmt.Errorf("%w: control point %d in game %d", domain.ErrNotFound, cpID, s.id)
	}
	return ent, nil
}

func notJoined(gameID, userID int64) error {
	return fmt.Errorf("%w: user %d has not joined game %d", domain.ErrNotFound, userID, gameID)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
