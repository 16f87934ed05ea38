package domain

import "time"

// Client -> server message types
const (
	MsgJoin                 = "join"
	MsgLeave                = "leave"
	MsgGameAction           = "gameAction"
	MsgGetActiveBombTimers  = "getActiveBombTimers"
	MsgGetControlPointTimes = "getControlPointTimes"
	MsgGetControlPointData  = "getControlPointData"
)

// Server -> client message types
const (
	EventGameUpdate               = "gameUpdate"
	EventGameTimeUpdate           = "gameTimeUpdate"
	EventControlPointCreated      = "controlPointCreated"
	EventControlPointUpdated      = "controlPointUpdated"
	EventControlPointDeleted      = "controlPointDeleted"
	EventControlPointTeamAssigned = "controlPointTeamAssigned"
	EventControlPointTimeUpdate   = "controlPointTimeUpdate"
	EventControlPointData         = "controlPointData"
	EventBombTimeUpdate           = "bombTimeUpdate"
	EventActiveBombTimers         = "activeBombTimers"
	EventPositionChallengeUpdate  = "positionChallengeUpdate"
	EventError                    = "error"
)

// Game actions carried by a gameAction message
const (
	ActionStartGame              = "startGame"
	ActionPauseGame              = "pauseGame"
	ActionResumeGame             = "resumeGame"
	ActionEndGame                = "endGame"
	ActionRestartGame            = "restartGame"
	ActionAddTime                = "addTime"
	ActionUpdateGameTime         = "updateGameTime"
	ActionCreateControlPoint     = "createControlPoint"
	ActionUpdateControlPoint     = "updateControlPoint"
	ActionDeleteControlPoint     = "deleteControlPoint"
	ActionTakeControlPoint       = "takeControlPoint"
	ActionActivateBomb           = "activateBomb"
	ActionDeactivateBomb         = "deactivateBomb"
	ActionAssignControlPointTeam = "assignControlPointTeam"
	ActionPositionUpdate         = "positionUpdate"
)

// OwnerActions may only be performed by the game owner (or an admin)
var OwnerActions = map[string]bool{
	ActionStartGame:              true,
	ActionPauseGame:              true,
	ActionResumeGame:             true,
	ActionEndGame:                true,
	ActionRestartGame:            true,
	ActionAddTime:                true,
	ActionUpdateGameTime:         true,
	ActionCreateControlPoint:     true,
	ActionUpdateControlPoint:     true,
	ActionDeleteControlPoint:     true,
	ActionAssignControlPointTeam: true,
}

// Event is a server -> client message for one game
type Event struct {
	Type      string    `json:"type"`
	GameID    int64     `json:"gameId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`

	// Seq orders the events of one game. Zero means unordered (replies
	// sent to a single client).
	Seq uint64 `json:"-"`
}

// GameTimeUpdate is broadcast on every tick
type GameTimeUpdate struct {
	Status        GameStatus `json:"status"`
	ElapsedTime   int        `json:"elapsedTime"`
	TotalTime     int        `json:"totalTime"`
	RemainingTime *int       `json:"remainingTime"`
}

// ControlPointDeletedEvent is sent when a control point is removed
type ControlPointDeletedEvent struct {
	ControlPointID int64 `json:"controlPointId"`
}

// ControlPointTeamAssignedEvent is sent when the owner sets ownership directly
type ControlPointTeamAssignedEvent struct {
	ControlPointID int64   `json:"controlPointId"`
	Team           *string `json:"team"`
}

// ErrorEvent is sent only to the client whose request was rejected
type ErrorEvent struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Action    string `json:"action,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Action payloads

type AddTimeData struct {
	Seconds int `json:"seconds"`
}

type UpdateGameTimeData struct {
	TimeInSeconds int `json:"timeInSeconds"`
}

type ControlPointRef struct {
	ControlPointID int64 `json:"controlPointId"`
}

type TakeControlPointData struct {
	ControlPointID int64   `json:"controlPointId"`
	Code           *string `json:"code,omitempty"`
}

type ActivateBombData struct {
	ControlPointID int64  `json:"controlPointId"`
	ArmedCode      string `json:"armedCode"`
}

type DeactivateBombData struct {
	ControlPointID int64  `json:"controlPointId"`
	DisarmedCode   string `json:"disarmedCode"`
}

type AssignControlPointTeamData struct {
	ControlPointID int64   `json:"controlPointId"`
	Team           *string `json:"team"`
}

type PositionUpdateData struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

// JoinData is the optional payload of a join message
type JoinData struct {
	Team *string `json:"team,omitempty"`
}
