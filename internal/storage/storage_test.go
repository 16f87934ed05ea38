package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ernie/milsim/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "milsim.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strp(s string) *string { return &s }

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, "alice", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser(ctx, "alice", "hash2", false); err == nil {
		t.Fatal("duplicate username accepted")
	}

	u, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u.ID != id || !u.PasswordChangeRequired || u.IsAdmin {
		t.Fatalf("user = %+v", u)
	}

	if err := s.UpdateUserPassword(ctx, id, "new"); err != nil {
		t.Fatalf("UpdateUserPassword: %v", err)
	}
	if err := s.UpdateUserAdmin(ctx, id, true); err != nil {
		t.Fatalf("UpdateUserAdmin: %v", err)
	}
	if err := s.UpdateUserLastLogin(ctx, id); err != nil {
		t.Fatalf("UpdateUserLastLogin: %v", err)
	}
	u, err = s.GetUserByID(ctx, id)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if u.PasswordHash != "new" || u.PasswordChangeRequired || !u.IsAdmin || u.LastLogin == nil {
		t.Fatalf("updated user = %+v", u)
	}

	if err := s.DeleteUser(ctx, "alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.GetUserByUsername(ctx, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted user: err = %v", err)
	}
	if err := s.DeleteUser(ctx, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("delete twice: err = %v", err)
	}
}

func TestGameCheckpointRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := domain.Game{Name: "Night raid", OwnerID: 1, TotalTime: 3600}
	if err := s.CreateGame(ctx, &g); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	site := domain.ControlPoint{
		GameID:    g.ID,
		Name:      "Depot",
		Type:      domain.TypeSite,
		Latitude:  52.1,
		Longitude: 4.3,
		Challenges: domain.Challenges{
			Position: &domain.PositionChallenge{MinDistance: 20, MinAccuracy: 10},
			Code:     &domain.CodeChallenge{Code: "1234"},
			Bomb:     &domain.BombChallenge{BombTime: 60, ArmedCode: "arm", DisarmedCode: "disarm"},
		},
	}
	if err := s.CreateControlPoint(ctx, &site); err != nil {
		t.Fatalf("CreateControlPoint: %v", err)
	}
	hill := domain.ControlPoint{GameID: g.ID, Name: "Hill", Type: domain.TypeControlPoint}
	if err := s.CreateControlPoint(ctx, &hill); err != nil {
		t.Fatalf("CreateControlPoint: %v", err)
	}
	second := domain.ControlPoint{GameID: g.ID, Name: "Other site", Type: domain.TypeSite}
	if err := s.CreateControlPoint(ctx, &second); err == nil {
		t.Fatal("second site accepted by the database")
	}

	if err := s.SavePlayer(ctx, g.ID, domain.Player{UserID: 5, Username: "bob", Team: strp("red")}); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}
	if err := s.SavePlayer(ctx, g.ID, domain.Player{UserID: 5, Username: "bob", Team: strp("blue")}); err != nil {
		t.Fatalf("SavePlayer again: %v", err)
	}

	site.OwnedByTeam = strp("red")
	site.CurrentHoldTime = 42
	site.TeamPoints = map[string]int{"red": 7, "blue": 2}
	site.BombTimer = &domain.BombTimer{ControlPointID: site.ID, RemainingTime: 30, TotalTime: 60, IsActive: true, ActivatedByUserID: 5, ActivatedByTeam: strp("red")}
	g.Status = domain.StatusRunning
	g.ElapsedTime = 300
	g.ControlPoints = []domain.ControlPoint{site, hill}
	if err := s.SaveCheckpoint(ctx, g); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	games, err := s.LoadGames(ctx)
	if err != nil {
		t.Fatalf("LoadGames: %v", err)
	}
	if len(games) != 1 {
		t.Fatalf("games = %d", len(games))
	}
	got := games[0]
	if got.Status != domain.StatusRunning || got.ElapsedTime != 300 || got.TotalTime != 3600 || got.Name != "Night raid" {
		t.Fatalf("game = %+v", got)
	}
	if len(got.ControlPoints) != 2 || len(got.Players) != 1 {
		t.Fatalf("control points = %d, players = %d", len(got.ControlPoints), len(got.Players))
	}
	if p := got.Players[0]; p.Username != "bob" || *p.Team != "blue" {
		t.Fatalf("player = %+v", p)
	}

	cp := got.ControlPoints[0]
	if cp.Challenges.Code == nil || cp.Challenges.Code.Code != "1234" || cp.Challenges.Bomb.DisarmedCode != "disarm" || cp.Challenges.Position.MinDistance != 20 {
		t.Fatalf("challenges = %+v", cp.Challenges)
	}
	if *cp.OwnedByTeam != "red" || cp.CurrentHoldTime != 42 || cp.TeamPoints["red"] != 7 {
		t.Fatalf("site state = %+v", cp)
	}
	if b := cp.BombTimer; b == nil || b.RemainingTime != 30 || !b.IsActive || *b.ActivatedByTeam != "red" {
		t.Fatalf("bomb = %+v", b)
	}
	if h := got.ControlPoints[1]; h.OwnedByTeam != nil || h.BombTimer != nil || h.Challenges.Code != nil {
		t.Fatalf("hill = %+v", h)
	}

	// clearing the bomb removes its row
	site.BombTimer = nil
	g.ControlPoints = []domain.ControlPoint{site}
	if err := s.SaveCheckpoint(ctx, g); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	loaded, err := s.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if loaded.ControlPoints[0].BombTimer != nil {
		t.Fatal("bomb timer survived checkpoint without it")
	}
}

func TestControlPointUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := domain.Game{Name: "Drill", OwnerID: 1}
	if err := s.CreateGame(ctx, &g); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	cp := domain.ControlPoint{GameID: g.ID, Name: "Gate", Type: domain.TypeControlPoint}
	if err := s.CreateControlPoint(ctx, &cp); err != nil {
		t.Fatalf("CreateControlPoint: %v", err)
	}

	cp.Name = "North gate"
	cp.Challenges.Code = &domain.CodeChallenge{Code: "9"}
	if err := s.UpdateControlPoint(ctx, &cp); err != nil {
		t.Fatalf("UpdateControlPoint: %v", err)
	}
	loaded, err := s.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if got := loaded.ControlPoints[0]; got.Name != "North gate" || got.Challenges.Code == nil {
		t.Fatalf("updated = %+v", got)
	}

	if err := s.DeleteControlPoint(ctx, g.ID, cp.ID); err != nil {
		t.Fatalf("DeleteControlPoint: %v", err)
	}
	if err := s.DeleteControlPoint(ctx, g.ID, cp.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("delete twice: err = %v", err)
	}
	missing := domain.ControlPoint{ID: 999, GameID: g.ID, Name: "x", Type: domain.TypeSite}
	if err := s.UpdateControlPoint(ctx, &missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("update missing: err = %v", err)
	}

	summaries, err := s.ListGames(ctx)
	if err != nil {
		t.Fatalf("ListGames: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Name != "Drill" || summaries[0].Status != domain.StatusStopped {
		t.Fatalf("summaries = %+v", summaries)
	}
	if _, err := s.GetGame(ctx, 404); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing game: err = %v", err)
	}
}

func TestCheckpointSkipsDeletedControlPoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := domain.Game{Name: "Raid", OwnerID: 1, TotalTime: 600}
	if err := s.CreateGame(ctx, &g); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	bombCP := func(name string) domain.ControlPoint {
		cp := domain.ControlPoint{
			GameID:     g.ID,
			Name:       name,
			Type:       domain.TypeControlPoint,
			Challenges: domain.Challenges{Bomb: &domain.BombChallenge{BombTime: 60, ArmedCode: "a", DisarmedCode: "d"}},
		}
		if err := s.CreateControlPoint(ctx, &cp); err != nil {
			t.Fatalf("CreateControlPoint: %v", err)
		}
		return cp
	}
	gone := bombCP("Bridge")
	kept := bombCP("Tower")

	// state read before the delete still carries the deleted point's bomb
	gone.BombTimer = &domain.BombTimer{ControlPointID: gone.ID, RemainingTime: 40, TotalTime: 60, IsActive: true, ActivatedByUserID: 2}
	kept.OwnedByTeam = strp("blue")
	kept.BombTimer = &domain.BombTimer{ControlPointID: kept.ID, RemainingTime: 50, TotalTime: 60, IsActive: true, ActivatedByUserID: 3}
	g.Status = domain.StatusRunning
	g.ElapsedTime = 120
	g.ControlPoints = []domain.ControlPoint{gone, kept}

	if err := s.DeleteControlPoint(ctx, g.ID, gone.ID); err != nil {
		t.Fatalf("DeleteControlPoint: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, g); err != nil {
		t.Fatalf("SaveCheckpoint with deleted control point: %v", err)
	}

	loaded, err := s.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if loaded.ElapsedTime != 120 || len(loaded.ControlPoints) != 1 {
		t.Fatalf("game = %+v", loaded)
	}
	cp := loaded.ControlPoints[0]
	if cp.ID != kept.ID || cp.OwnedByTeam == nil || *cp.OwnedByTeam != "blue" {
		t.Fatalf("kept control point = %+v", cp)
	}
	if cp.BombTimer == nil || cp.BombTimer.RemainingTime != 50 {
		t.Fatalf("kept bomb = %+v", cp.BombTimer)
	}
}
