package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/protocol"
)

// Dispatch decodes and applies one gameAction. Authorization of owner-only
// actions is the caller's job.
func (e *Engine) Dispatch(ctx context.Context, gameID int64, actor Actor, action string, data json.RawMessage) error {
	switch action {
	case domain.ActionStartGame:
		return e.Start(gameID)
	case domain.ActionPauseGame:
		return e.Pause(gameID)
	case domain.ActionResumeGame:
		return e.Resume(gameID)
	case domain.ActionEndGame:
		return e.End(gameID)
	case domain.ActionRestartGame:
		return e.Restart(gameID)

	case domain.ActionAddTime:
		d, err := protocol.DecodeData[domain.AddTimeData](data)
		if err != nil {
			return err
		}
		return e.AddTime(gameID, d.Seconds)

	case domain.ActionUpdateGameTime:
		d, err := protocol.DecodeData[domain.UpdateGameTimeData](data)
		if err != nil {
			return err
		}
		return e.UpdateGameTime(gameID, d.TimeInSeconds)

	case domain.ActionCreateControlPoint:
		cp, err := protocol.DecodeData[domain.ControlPoint](data)
		if err != nil {
			return err
		}
		_, err = e.CreateControlPoint(ctx, gameID, cp)
		return err

	case domain.ActionUpdateControlPoint:
		cp, err := protocol.DecodeData[domain.ControlPoint](data)
		if err != nil {
			return err
		}
		_, err = e.UpdateControlPoint(ctx, gameID, cp)
		return err

	case domain.ActionDeleteControlPoint:
		d, err := protocol.DecodeData[domain.ControlPointRef](data)
		if err != nil {
			return err
		}
		return e.DeleteControlPoint(ctx, gameID, d.ControlPointID)

	case domain.ActionTakeControlPoint:
		d, err := protocol.DecodeData[domain.TakeControlPointData](data)
		if err != nil {
			return err
		}
		return e.TakeControlPoint(gameID, actor, d)

	case domain.ActionActivateBomb:
		d, err := protocol.DecodeData[domain.ActivateBombData](data)
		if err != nil {
			return err
		}
		return e.ActivateBomb(gameID, actor, d)

	case domain.ActionDeactivateBomb:
		d, err := protocol.DecodeData[domain.DeactivateBombData](data)
		if err != nil {
			return err
		}
		return e.DeactivateBomb(gameID, actor, d)

	case domain.ActionAssignControlPointTeam:
		d, err := protocol.DecodeData[domain.AssignControlPointTeamData](data)
		if err != nil {
			return err
		}
		return e.AssignControlPointTeam(gameID, d)

	case domain.ActionPositionUpdate:
		d, err := protocol.DecodeData[domain.PositionUpdateData](data)
		if err != nil {
			return err
		}
		return e.PositionUpdate(gameID, actor, d)
	}
	return fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, action)
}
