package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/engine"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError writes an engine rejection with its status and code
func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": domain.ErrorCode(err)})
}

// canManage reports whether the request comes from the owner of the game
// or an admin
func (r *Router) canManage(req *http.Request, gameID int64) bool {
	claims := r.getAuthClaims(req)
	if claims == nil {
		return false
	}
	return r.authz.Authorize(actorFromClaims(claims), gameID, domain.ActionUpdateControlPoint) == nil
}

// handleGetGames returns the list view of every game
func (r *Router) handleGetGames(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.engine.Games())
}

// handleCreateGame creates a stopped game owned by the caller
func (r *Router) handleCreateGame(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)

	var body CreateGameRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	g, err := r.engine.CreateGame(req.Context(), body.Name, claims.UserID, body.TotalTime)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// handleGetGame returns the game snapshot. Owners and admins see the
// control point codes.
func (r *Router) handleGetGame(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var g domain.Game
	if r.canManage(req, id) {
		g, err = r.engine.Game(id)
	} else {
		g, err = r.engine.Snapshot(id)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleGetActiveBombs returns the armed bombs of a game
func (r *Router) handleGetActiveBombs(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	bombs, err := r.engine.ActiveBombTimers(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bombs)
}

// handleGetControlPointTimes returns the hold time of every control point
func (r *Router) handleGetControlPointTimes(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	times, err := r.engine.ControlPointTimes(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, times)
}

// handleGetControlPoint returns one control point
func (r *Router) handleGetControlPoint(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	cpID, err := parseID(req, "cpId")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	cp, err := r.engine.ControlPointData(id, cpID, r.canManage(req, id))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// handleJoinGame adds the caller to a game, optionally on a team
func (r *Router) handleJoinGame(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)
	id, err := parseID(req, "id")
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var body domain.JoinData
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	p, err := r.engine.Join(req.Context(), id, actorFromClaims(claims), body.Team)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ActionRequest is the request body for a game action, the same shape as
// the data of a websocket gameAction
type ActionRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// handleGameAction applies one game action. Results reach the players
// through the websocket broadcast.
func (r *Router) handleGameAction(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)
	id, err := parseID(req, "id")
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var body ActionRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	if err := r.applyAction(req.Context(), id, actorFromClaims(claims), body.Action, body.Data); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) applyAction(ctx context.Context, gameID int64, actor engine.Actor, action string, data json.RawMessage) error {
	if err := r.authz.Authorize(actor, gameID, action); err != nil {
		return err
	}
	return r.engine.Dispatch(ctx, gameID, actor, action, data)
}

// handleHealth reports whether the database is reachable
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "games": len(r.engine.Games())})
}
