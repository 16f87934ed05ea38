package domain

// BombTimer is the countdown of an armed bomb on a control point.
// Once RemainingTime hits 0 the bomb has detonated: IsActive is false and the
// record stays until the next arm or ownership reset.
type BombTimer struct {
	ControlPointID    int64   `json:"controlPointId"`
	RemainingTime     int     `json:"remainingTime"`
	TotalTime         int     `json:"totalTime"`
	IsActive          bool    `json:"isActive"`
	ActivatedByUserID int64   `json:"activatedByUserId"`
	ActivatedByTeam   *string `json:"activatedByTeam"`
	Detonated         bool    `json:"detonated"`
}

// HoldTimeUpdate is one entry of a batched controlPointTimeUpdate
type HoldTimeUpdate struct {
	ControlPointID  int64   `json:"controlPointId"`
	CurrentHoldTime int     `json:"currentHoldTime"`
	OwnedByTeam     *string `json:"ownedByTeam"`
}

// PositionChallengeUpdate carries the contest indicator of a control point
type PositionChallengeUpdate struct {
	ControlPointID int64          `json:"controlPointId"`
	TeamPoints     map[string]int `json:"teamPoints"`
}
