package domain

import "time"

// Position is a GPS fix reported by a player
type Position struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	ReportedAt time.Time `json:"reportedAt"`
}

// Player is a user taking part in a game. Team is nil until assigned.
type Player struct {
	UserID   int64     `json:"userId"`
	Username string    `json:"username"`
	Team     *string   `json:"team"`
	Position *Position `json:"-"`
}

// TeamName returns the player's team or "" when unassigned
func (p Player) TeamName() string {
	if p.Team == nil {
		return ""
	}
	return *p.Team
}

// StringPtr returns nil for an empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
