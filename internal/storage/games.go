package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ernie/milsim/internal/domain"
)

// --- Game methods ---

// CreateGame inserts a game and sets its ID
func (s *Store) CreateGame(ctx context.Context, g *domain.Game) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if g.Status == "" {
		g.Status = domain.StatusStopped
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO games (name, owner_id, status, total_time, elapsed_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, g.Name, g.OwnerID, string(g.Status), g.TotalTime, g.ElapsedTime, formatTimestamp(g.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting game: %w", err)
	}
	g.ID, err = result.LastInsertId()
	return err
}

// GetGame loads a game with its control points and players
func (s *Store) GetGame(ctx context.Context, id int64) (*domain.Game, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, id)
	g, err := scanGame(row)
	if err != nil {
		return nil, notFound(err, "game", id)
	}
	if err := s.attachGameDetails(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadGames loads every game with its control points, bomb timers and
// players
func (s *Store) LoadGames(ctx context.Context) ([]domain.Game, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var games []domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		games = append(games, *g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range games {
		if err := s.attachGameDetails(ctx, &games[i]); err != nil {
			return nil, fmt.Errorf("loading game %d: %w", games[i].ID, err)
		}
	}
	return games, nil
}

// ListGames returns the list view of every game
func (s *Store) ListGames(ctx context.Context) ([]domain.GameSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.owner_id, g.status, g.total_time, g.elapsed_time, g.created_at,
			(SELECT COUNT(*) FROM game_players p WHERE p.game_id = g.id)
		FROM games g ORDER BY g.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GameSummary
	for rows.Next() {
		var g domain.GameSummary
		var status string
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerID, &status, &g.TotalTime, &g.ElapsedTime, &g.CreatedAt, &g.Players); err != nil {
			return nil, err
		}
		g.Status = domain.GameStatus(status)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) attachGameDetails(ctx context.Context, g *domain.Game) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+controlPointColumns+`
		FROM control_points cp
		LEFT JOIN bomb_timers bt ON bt.control_point_id = cp.id
		WHERE cp.game_id = ? ORDER BY cp.id
	`, g.ID)
	if err != nil {
		return err
	}
	g.ControlPoints = []domain.ControlPoint{}
	for rows.Next() {
		cp, err := scanControlPoint(rows)
		if err != nil {
			rows.Close()
			return err
		}
		g.ControlPoints = append(g.ControlPoints, *cp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT user_id, username, team FROM game_players WHERE game_id = ? ORDER BY user_id
	`, g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	g.Players = []domain.Player{}
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return err
		}
		g.Players = append(g.Players, *p)
	}
	return rows.Err()
}

// SaveCheckpoint writes the live state of a game: status, times, ownership,
// hold times, position contests and bomb timers
func (s *Store) SaveCheckpoint(ctx context.Context, g domain.Game) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE games SET status = ?, total_time = ?, elapsed_time = ?, checkpointed_at = ? WHERE id = ?
	`, string(g.Status), g.TotalTime, g.ElapsedTime, formatTimestamp(time.Now()), g.ID)
	if err != nil {
		return fmt.Errorf("updating game: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: game %d", domain.ErrNotFound, g.ID)
	}

	// control points deleted after the state was read are skipped
	for _, cp := range g.ControlPoints {
		var points sql.NullString
		if len(cp.TeamPoints) > 0 {
			b, err := json.Marshal(cp.TeamPoints)
			if err != nil {
				return err
			}
			points = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE control_points SET owned_by_team = ?, current_hold_time = ?, team_points = ?
			WHERE id = ? AND game_id = ?
		`, nullString(cp.OwnedByTeam), cp.CurrentHoldTime, points, cp.ID, g.ID); err != nil {
			return fmt.Errorf("updating control point %d: %w", cp.ID, err)
		}

		if cp.BombTimer == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM bomb_timers WHERE control_point_id = ?`, cp.ID); err != nil {
				return fmt.Errorf("clearing bomb timer %d: %w", cp.ID, err)
			}
			continue
		}
		b := cp.BombTimer
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bomb_timers (control_point_id, remaining_time, total_time, is_active, activated_by_user_id, activated_by_team, detonated)
			SELECT ?, ?, ?, ?, ?, ?, ?
			WHERE EXISTS (SELECT 1 FROM control_points WHERE id = ? AND game_id = ?)
			ON CONFLICT(control_point_id) DO UPDATE SET
				remaining_time = excluded.remaining_time,
				total_time = excluded.total_time,
				is_active = excluded.is_active,
				activated_by_user_id = excluded.activated_by_user_id,
				activated_by_team = excluded.activated_by_team,
				detonated = excluded.detonated
		`, cp.ID, b.RemainingTime, b.TotalTime, b.IsActive, b.ActivatedByUserID, nullString(b.ActivatedByTeam), b.Detonated, cp.ID, g.ID); err != nil {
			return fmt.Errorf("saving bomb timer %d: %w", cp.ID, err)
		}
	}

	return tx.Commit()
}

// --- Control point methods ---

// CreateControlPoint inserts a control point and sets its ID
func (s *Store) CreateControlPoint(ctx context.Context, cp *domain.ControlPoint) error {
	c := challengeColumns(cp.Challenges)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO control_points (game_id, name, type, latitude, longitude,
			has_position_challenge, min_distance, min_accuracy,
			has_code_challenge, code,
			has_bomb_challenge, bomb_time, armed_code, disarmed_code,
			owned_by_team, current_hold_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cp.GameID, cp.Name, string(cp.Type), cp.Latitude, cp.Longitude,
		c.hasPosition, c.minDistance, c.minAccuracy,
		c.hasCode, c.code,
		c.hasBomb, c.bombTime, c.armedCode, c.disarmedCode,
		nullString(cp.OwnedByTeam), cp.CurrentHoldTime)
	if err != nil {
		return fmt.Errorf("inserting control point: %w", err)
	}
	cp.ID, err = result.LastInsertId()
	return err
}

// UpdateControlPoint writes the configuration and ownership of a control point
func (s *Store) UpdateControlPoint(ctx context.Context, cp *domain.ControlPoint) error {
	c := challengeColumns(cp.Challenges)
	result, err := s.db.ExecContext(ctx, `
		UPDATE control_points SET name = ?, type = ?, latitude = ?, longitude = ?,
			has_position_challenge = ?, min_distance = ?, min_accuracy = ?,
			has_code_challenge = ?, code = ?,
			has_bomb_challenge = ?, bomb_time = ?, armed_code = ?, disarmed_code = ?,
			owned_by_team = ?, current_hold_time = ?
		WHERE id = ? AND game_id = ?
	`, cp.Name, string(cp.Type), cp.Latitude, cp.Longitude,
		c.hasPosition, c.minDistance, c.minAccuracy,
		c.hasCode, c.code,
		c.hasBomb, c.bombTime, c.armedCode, c.disarmedCode,
		nullString(cp.OwnedByTeam), cp.CurrentHoldTime,
		cp.ID, cp.GameID)
	if err != nil {
		return fmt.Errorf("updating control point: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: control point %d", domain.ErrNotFound, cp.ID)
	}
	if cp.Challenges.Bomb == nil {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM bomb_timers WHERE control_point_id = ?`, cp.ID); err != nil {
			return fmt.Errorf("clearing bomb timer: %w", err)
		}
	}
	return nil
}

// DeleteControlPoint removes a control point and its bomb timer
func (s *Store) DeleteControlPoint(ctx context.Context, gameID, cpID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM control_points WHERE id = ? AND game_id = ?`, cpID, gameID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: control point %d", domain.ErrNotFound, cpID)
	}
	return nil
}

type challengeRow struct {
	hasPosition, hasCode, hasBomb bool
	minDistance, minAccuracy      sql.NullFloat64
	code, armedCode, disarmedCode sql.NullString
	bombTime                      sql.NullInt64
}

func challengeColumns(ch domain.Challenges) challengeRow {
	var c challengeRow
	if p := ch.Position; p != nil {
		c.hasPosition = true
		c.minDistance = sql.NullFloat64{Float64: p.MinDistance, Valid: true}
		c.minAccuracy = sql.NullFloat64{Float64: p.MinAccuracy, Valid: true}
	}
	if cc := ch.Code; cc != nil {
		c.hasCode = true
		c.code = sql.NullString{String: cc.Code, Valid: true}
	}
	if b := ch.Bomb; b != nil {
		c.hasBomb = true
		c.bombTime = sql.NullInt64{Int64: int64(b.BombTime), Valid: true}
		c.armedCode = sql.NullString{String: b.ArmedCode, Valid: true}
		c.disarmedCode = sql.NullString{String: b.DisarmedCode, Valid: true}
	}
	return c
}

// --- Player methods ---

// SavePlayer records that a user joined a game, with their team
func (s *Store) SavePlayer(ctx context.Context, gameID int64, p domain.Player) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_players (game_id, user_id, username, team, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(game_id, user_id) DO UPDATE SET
			username = excluded.username,
			team = excluded.team
	`, gameID, p.UserID, p.Username, nullString(p.Team), formatTimestamp(time.Now()))
	return err
}
