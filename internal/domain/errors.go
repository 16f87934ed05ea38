package domain

import "errors"

// Rejections returned by the game engine. Validation failures never mutate
// state and are reported only to the requesting client.
var (
	ErrInvalidCode             = errors.New("invalid code")
	ErrPositionChallengeFailed = errors.New("position challenge failed")
	ErrAlreadyActive           = errors.New("bomb already active")
	ErrNotActive               = errors.New("bomb not active")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrNotFound                = errors.New("not found")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrInvalidControlPoint     = errors.New("invalid control point")
	ErrInvalidInput            = errors.New("invalid input")
	ErrTeamRequired            = errors.New("player has no team")
)

// ErrorCode returns the wire code for a rejection, or "internal" when err is
// not one of the sentinel errors above.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCode):
		return "InvalidCode"
	case errors.Is(err, ErrPositionChallengeFailed):
		return "PositionChallengeFailed"
	case errors.Is(err, ErrAlreadyActive):
		return "AlreadyActive"
	case errors.Is(err, ErrNotActive):
		return "NotActive"
	case errors.Is(err, ErrInvalidStateTransition):
		return "InvalidStateTransition"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrPermissionDenied):
		return "PermissionDenied"
	case errors.Is(err, ErrInvalidControlPoint):
		return "InvalidControlPoint"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrTeamRequired):
		return "TeamRequired"
	default:
		return "internal"
	}
}
