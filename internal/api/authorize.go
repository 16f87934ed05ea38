package api

import (
	"fmt"

	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/engine"
)

// Authorizer decides whether an actor may perform an action on a game
type Authorizer interface {
	Authorize(actor engine.Actor, gameID int64, action string) error
}

// GameOwners looks up the owner of a game
type GameOwners interface {
	OwnerOf(gameID int64) (int64, error)
}

// OwnerAuthorizer lets anyone perform player actions and restricts the
// owner actions to the game owner and admins
type OwnerAuthorizer struct {
	Games GameOwners
}

// Authorize implements Authorizer
func (a OwnerAuthorizer) Authorize(actor engine.Actor, gameID int64, action string) error {
	if !domain.OwnerActions[action] {
		return nil
	}
	owner, err := a.Games.OwnerOf(gameID)
	if err != nil {
		return err
	}
	if actor.IsAdmin || owner == actor.UserID {
		return nil
	}
	return fmt.Errorf("%w: %s is reserved for the game owner", domain.ErrPermissionDenied, action)
}
