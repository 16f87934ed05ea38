package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestControlPointJSONFlattensChallenges(t *testing.T) {
	cp := ControlPoint{
		ID:     1,
		GameID: 2,
		Name:   "Bridge",
		Type:   TypeControlPoint,
		Challenges: Challenges{
			Position: &PositionChallenge{MinDistance: 25, MinAccuracy: 10},
			Code:     &CodeChallenge{Code: "1234"},
			Bomb:     &BombChallenge{BombTime: 60, ArmedCode: "arm", DisarmedCode: "disarm"},
		},
	}
	b, err := json.Marshal(cp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"hasPositionChallenge":true`, `"hasCodeChallenge":true`, `"hasBombChallenge":true`, `"minDistance":25`, `"bombTime":60`, `"ownedByTeam":null`} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %s in %s", want, s)
		}
	}

	var back ControlPoint
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Challenges.Bomb == nil || back.Challenges.Bomb.DisarmedCode != "disarm" {
		t.Fatalf("bomb challenge lost: %+v", back.Challenges)
	}
	if back.Challenges.Code == nil || back.Challenges.Code.Code != "1234" {
		t.Fatalf("code challenge lost: %+v", back.Challenges)
	}
}

func TestControlPointPublicHidesSecrets(t *testing.T) {
	cp := ControlPoint{
		Name: "Depot",
		Type: TypeSite,
		Challenges: Challenges{
			Code: &CodeChallenge{Code: "secret"},
			Bomb: &BombChallenge{BombTime: 30, ArmedCode: "a1", DisarmedCode: "d1"},
		},
	}
	b, err := json.Marshal(cp.Public())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, secret := range []string{"secret", "a1", "d1"} {
		if strings.Contains(s, secret) {
			t.Errorf("public control point leaks %q: %s", secret, s)
		}
	}
	if !strings.Contains(s, `"hasCodeChallenge":true`) || !strings.Contains(s, `"bombTime":30`) {
		t.Errorf("public control point lost challenge flags: %s", s)
	}
	if cp.Challenges.Code.Code != "secret" {
		t.Errorf("Public mutated the original")
	}
}

func TestControlPointValidate(t *testing.T) {
	tests := []struct {
		name    string
		cp      ControlPoint
		wantErr bool
	}{
		{"plain", ControlPoint{Name: "A", Type: TypeControlPoint}, false},
		{"missing name", ControlPoint{Type: TypeControlPoint}, true},
		{"bad type", ControlPoint{Name: "A", Type: "hq"}, true},
		{"empty code", ControlPoint{Name: "A", Type: TypeSite, Challenges: Challenges{Code: &CodeChallenge{}}}, true},
		{"zero bomb time", ControlPoint{Name: "A", Type: TypeSite, Challenges: Challenges{Bomb: &BombChallenge{ArmedCode: "a", DisarmedCode: "d"}}}, true},
		{"missing disarm code", ControlPoint{Name: "A", Type: TypeSite, Challenges: Challenges{Bomb: &BombChallenge{BombTime: 5, ArmedCode: "a"}}}, true},
		{"zero distance", ControlPoint{Name: "A", Type: TypeSite, Challenges: Challenges{Position: &PositionChallenge{MinAccuracy: 5}}}, true},
		{"full", ControlPoint{Name: "A", Type: TypeSite, Challenges: Challenges{
			Position: &PositionChallenge{MinDistance: 5, MinAccuracy: 5},
			Code:     &CodeChallenge{Code: "x"},
			Bomb:     &BombChallenge{BombTime: 5, ArmedCode: "a", DisarmedCode: "d"},
		}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cp.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidControlPoint) {
				t.Fatalf("expected ErrInvalidControlPoint, got %v", err)
			}
		})
	}
}

func TestRemaining(t *testing.T) {
	if Remaining(0, 50) != nil {
		t.Error("unlimited game should have nil remaining time")
	}
	if r := Remaining(100, 30); r == nil || *r != 70 {
		t.Errorf("Remaining(100, 30) = %v", r)
	}
	if r := Remaining(100, 130); r == nil || *r != 0 {
		t.Errorf("Remaining(100, 130) = %v", r)
	}
}

func TestErrorCode(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), ErrAlreadyActive)
	if got := ErrorCode(wrapped); got != "AlreadyActive" {
		t.Errorf("ErrorCode(wrapped) = %q", got)
	}
	if got := ErrorCode(errors.New("boom")); got != "internal" {
		t.Errorf("ErrorCode(other) = %q", got)
	}
}
