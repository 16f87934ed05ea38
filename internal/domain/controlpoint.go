package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ControlPointType distinguishes the single site of a game from ordinary points
type ControlPointType string

const (
	TypeSite         ControlPointType = "site"
	TypeControlPoint ControlPointType = "control_point"
)

// PositionChallenge gates capture on GPS proximity. Distances are meters.
type PositionChallenge struct {
	MinDistance float64
	MinAccuracy float64
}

// CodeChallenge gates capture on a secret code
type CodeChallenge struct {
	Code string
}

// BombChallenge configures the arm/disarm mini-game. BombTime is seconds.
type BombChallenge struct {
	BombTime     int
	ArmedCode    string
	DisarmedCode string
}

// Challenges holds the optional challenge configs of a control point.
// Any combination may be set.
type Challenges struct {
	Position *PositionChallenge
	Code     *CodeChallenge
	Bomb     *BombChallenge
}

// ControlPoint is a capturable map objective
type ControlPoint struct {
	ID              int64
	GameID          int64
	Name            string
	Type            ControlPointType
	Latitude        float64
	Longitude       float64
	Challenges      Challenges
	OwnedByTeam     *string
	CurrentHoldTime int
	BombTimer       *BombTimer
	TeamPoints      map[string]int
}

// controlPointJSON is the flat wire shape of a control point
type controlPointJSON struct {
	ID                   int64            `json:"id"`
	GameID               int64            `json:"gameId"`
	Name                 string           `json:"name"`
	Type                 ControlPointType `json:"type"`
	Latitude             float64          `json:"latitude"`
	Longitude            float64          `json:"longitude"`
	HasPositionChallenge bool             `json:"hasPositionChallenge"`
	HasCodeChallenge     bool             `json:"hasCodeChallenge"`
	HasBombChallenge     bool             `json:"hasBombChallenge"`
	MinDistance          float64          `json:"minDistance,omitempty"`
	MinAccuracy          float64          `json:"minAccuracy,omitempty"`
	Code                 string           `json:"code,omitempty"`
	BombTime             int              `json:"bombTime,omitempty"`
	ArmedCode            string           `json:"armedCode,omitempty"`
	DisarmedCode         string           `json:"disarmedCode,omitempty"`
	OwnedByTeam          *string          `json:"ownedByTeam"`
	CurrentHoldTime      int              `json:"currentHoldTime"`
	BombTimer            *BombTimer       `json:"bombTimer,omitempty"`
	TeamPoints           map[string]int   `json:"teamPoints,omitempty"`
}

// MarshalJSON flattens the challenge configs into has*Challenge flags
func (cp ControlPoint) MarshalJSON() ([]byte, error) {
	w := controlPointJSON{
		ID:              cp.ID,
		GameID:          cp.GameID,
		Name:            cp.Name,
		Type:            cp.Type,
		Latitude:        cp.Latitude,
		Longitude:       cp.Longitude,
		OwnedByTeam:     cp.OwnedByTeam,
		CurrentHoldTime: cp.CurrentHoldTime,
		BombTimer:       cp.BombTimer,
		TeamPoints:      cp.TeamPoints,
	}
	if p := cp.Challenges.Position; p != nil {
		w.HasPositionChallenge = true
		w.MinDistance = p.MinDistance
		w.MinAccuracy = p.MinAccuracy
	}
	if c := cp.Challenges.Code; c != nil {
		w.HasCodeChallenge = true
		w.Code = c.Code
	}
	if b := cp.Challenges.Bomb; b != nil {
		w.HasBombChallenge = true
		w.BombTime = b.BombTime
		w.ArmedCode = b.ArmedCode
		w.DisarmedCode = b.DisarmedCode
	}
	return json.Marshal(w)
}

// UnmarshalJSON builds the challenge configs from has*Challenge flags
func (cp *ControlPoint) UnmarshalJSON(data []byte) error {
	var w controlPointJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*cp = ControlPoint{
		ID:              w.ID,
		GameID:          w.GameID,
		Name:            w.Name,
		Type:            w.Type,
		Latitude:        w.Latitude,
		Longitude:       w.Longitude,
		OwnedByTeam:     w.OwnedByTeam,
		CurrentHoldTime: w.CurrentHoldTime,
		BombTimer:       w.BombTimer,
		TeamPoints:      w.TeamPoints,
	}
	if w.HasPositionChallenge {
		cp.Challenges.Position = &PositionChallenge{MinDistance: w.MinDistance, MinAccuracy: w.MinAccuracy}
	}
	if w.HasCodeChallenge {
		cp.Challenges.Code = &CodeChallenge{Code: w.Code}
	}
	if w.HasBombChallenge {
		cp.Challenges.Bomb = &BombChallenge{BombTime: w.BombTime, ArmedCode: w.ArmedCode, DisarmedCode: w.DisarmedCode}
	}
	return nil
}

// Public returns a copy safe to broadcast to players: codes are blanked
func (cp ControlPoint) Public() ControlPoint {
	out := cp
	if c := cp.Challenges.Code; c != nil {
		out.Challenges.Code = &CodeChallenge{}
	}
	if b := cp.Challenges.Bomb; b != nil {
		out.Challenges.Bomb = &BombChallenge{BombTime: b.BombTime}
	}
	if cp.BombTimer != nil {
		bt := *cp.BombTimer
		out.BombTimer = &bt
	}
	if cp.TeamPoints != nil {
		out.TeamPoints = make(map[string]int, len(cp.TeamPoints))
		for k, v := range cp.TeamPoints {
			out.TeamPoints[k] = v
		}
	}
	return out
}

// Validate checks the configuration of a control point. Ownership and the
// one-site-per-game rule are checked by the engine.
func (cp ControlPoint) Validate() error {
	if strings.TrimSpace(cp.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidControlPoint)
	}
	if cp.Type != TypeSite && cp.Type != TypeControlPoint {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidControlPoint, cp.Type)
	}
	if p := cp.Challenges.Position; p != nil {
		if p.MinDistance <= 0 {
			return fmt.Errorf("%w: minDistance must be positive", ErrInvalidControlPoint)
		}
		if p.MinAccuracy <= 0 {
			return fmt.Errorf("%w: minAccuracy must be positive", ErrInvalidControlPoint)
		}
	}
	if c := cp.Challenges.Code; c != nil && c.Code == "" {
		return fmt.Errorf("%w: code is required for a code challenge", ErrInvalidControlPoint)
	}
	if b := cp.Challenges.Bomb; b != nil {
		if b.BombTime <= 0 {
			return fmt.Errorf("%w: bombTime must be positive", ErrInvalidControlPoint)
		}
		if b.ArmedCode == "" || b.DisarmedCode == "" {
			return fmt.Errorf("%w: armedCode and disarmedCode are required", ErrInvalidControlPoint)
		}
	}
	return nil
}
