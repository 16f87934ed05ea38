package domain

import "time"

// GameStatus is the lifecycle state of a game session
type GameStatus string

const (
	StatusStopped  GameStatus = "stopped"
	StatusRunning  GameStatus = "running"
	StatusPaused   GameStatus = "paused"
	StatusFinished GameStatus = "finished"
)

// Valid reports whether s is a known status
func (s GameStatus) Valid() bool {
	switch s {
	case StatusStopped, StatusRunning, StatusPaused, StatusFinished:
		return true
	}
	return false
}

// Game is the authoritative snapshot of a game session.
// TotalTime of 0 means the game has no time limit.
type Game struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	OwnerID       int64          `json:"ownerId"`
	Status        GameStatus     `json:"status"`
	TotalTime     int            `json:"totalTime"`
	ElapsedTime   int            `json:"elapsedTime"`
	RemainingTime *int           `json:"remainingTime"`
	ControlPoints []ControlPoint `json:"controlPoints"`
	Players       []Player       `json:"players"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Remaining returns the seconds left on a bounded game, nil when unlimited
func Remaining(totalTime, elapsedTime int) *int {
	if totalTime <= 0 {
		return nil
	}
	r := max(totalTime-elapsedTime, 0)
	return &r
}

// Public returns a copy of the game with control point secrets removed
func (g Game) Public() Game {
	out := g
	out.ControlPoints = make([]ControlPoint, len(g.ControlPoints))
	for i, cp := range g.ControlPoints {
		out.ControlPoints[i] = cp.Public()
	}
	return out
}

// GameSummary is the list view of a game
type GameSummary struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	OwnerID     int64      `json:"ownerId"`
	Status      GameStatus `json:"status"`
	TotalTime   int        `json:"totalTime"`
	ElapsedTime int        `json:"elapsedTime"`
	Players     int        `json:"players"`
	CreatedAt   time.Time  `json:"createdAt"`
}
