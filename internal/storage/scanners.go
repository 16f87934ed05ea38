package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ernie/milsim/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullString(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanUser scans a user row from the database
func scanUser(s scanner) (*User, error) {
	var user User
	var lastLogin sql.NullTime
	err := s.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsAdmin,
		&user.PasswordChangeRequired, &user.CreatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	user.LastLogin = scanNullTime(lastLogin)
	return &user, nil
}

const gameColumns = `id, name, owner_id, status, total_time, elapsed_time, created_at`

func scanGame(s scanner) (*domain.Game, error) {
	var g domain.Game
	var status string
	if err := s.Scan(&g.ID, &g.Name, &g.OwnerID, &status, &g.TotalTime, &g.ElapsedTime, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Status = domain.GameStatus(status)
	g.RemainingTime = domain.Remaining(g.TotalTime, g.ElapsedTime)
	return &g, nil
}

const controlPointColumns = `cp.id, cp.game_id, cp.name, cp.type, cp.latitude, cp.longitude,
	cp.has_position_challenge, cp.min_distance, cp.min_accuracy,
	cp.has_code_challenge, cp.code,
	cp.has_bomb_challenge, cp.bomb_time, cp.armed_code, cp.disarmed_code,
	cp.owned_by_team, cp.current_hold_time, cp.team_points,
	bt.remaining_time, bt.total_time, bt.is_active, bt.activated_by_user_id, bt.activated_by_team, bt.detonated`

// scanControlPoint scans a control point joined with its bomb timer
func scanControlPoint(s scanner) (*domain.ControlPoint, error) {
	var cp domain.ControlPoint
	var typ string
	var hasPosition, hasCode, hasBomb bool
	var minDistance, minAccuracy sql.NullFloat64
	var code, armedCode, disarmedCode, owner, teamPoints sql.NullString
	var bombTime sql.NullInt64
	var btRemaining, btTotal, btUser sql.NullInt64
	var btActive, btDetonated sql.NullBool
	var btTeam sql.NullString

	err := s.Scan(&cp.ID, &cp.GameID, &cp.Name, &typ, &cp.Latitude, &cp.Longitude,
		&hasPosition, &minDistance, &minAccuracy,
		&hasCode, &code,
		&hasBomb, &bombTime, &armedCode, &disarmedCode,
		&owner, &cp.CurrentHoldTime, &teamPoints,
		&btRemaining, &btTotal, &btActive, &btUser, &btTeam, &btDetonated)
	if err != nil {
		return nil, err
	}

	cp.Type = domain.ControlPointType(typ)
	if hasPosition {
		cp.Challenges.Position = &domain.PositionChallenge{MinDistance: minDistance.Float64, MinAccuracy: minAccuracy.Float64}
	}
	if hasCode {
		cp.Challenges.Code = &domain.CodeChallenge{Code: scanNullStringValue(code)}
	}
	if hasBomb {
		cp.Challenges.Bomb = &domain.BombChallenge{
			BombTime:     int(bombTime.Int64),
			ArmedCode:    scanNullStringValue(armedCode),
			DisarmedCode: scanNullStringValue(disarmedCode),
		}
	}
	cp.OwnedByTeam = scanNullString(owner)
	if teamPoints.Valid && teamPoints.String != "" {
		if err := json.Unmarshal([]byte(teamPoints.String), &cp.TeamPoints); err != nil {
			return nil, err
		}
	}
	if btRemaining.Valid {
		cp.BombTimer = &domain.BombTimer{
			ControlPointID:    cp.ID,
			RemainingTime:     int(btRemaining.Int64),
			TotalTime:         int(btTotal.Int64),
			IsActive:          btActive.Bool,
			ActivatedByUserID: btUser.Int64,
			ActivatedByTeam:   scanNullString(btTeam),
			Detonated:         btDetonated.Bool,
		}
	}
	return &cp, nil
}

func scanPlayer(s scanner) (*domain.Player, error) {
	var p domain.Player
	var team sql.NullString
	if err := s.Scan(&p.UserID, &p.Username, &team); err != nil {
		return nil, err
	}
	p.Team = scanNullString(team)
	return &p, nil
}
