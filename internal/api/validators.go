package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ernie/milsim/internal/domain"
)

const minPasswordLength = 8

// validatePassword checks a new password
func validatePassword(pw string) error {
	if len(pw) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return nil
}

// CreateGameRequest is the request body for creating a game
type CreateGameRequest struct {
	Name      string `json:"name"`
	TotalTime int    `json:"totalTime"`
}

func (c CreateGameRequest) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	if c.TotalTime < 0 {
		return errors.New("totalTime must not be negative")
	}
	return nil
}

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(req.PathValue(param), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrInvalidInput, param)
	}
	return id, nil
}

// statusFor maps an engine rejection to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyActive),
		errors.Is(err, domain.ErrNotActive),
		errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidCode),
		errors.Is(err, domain.ErrPositionChallengeFailed),
		errors.Is(err, domain.ErrInvalidControlPoint),
		errors.Is(err, domain.ErrTeamRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
