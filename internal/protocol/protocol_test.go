package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ernie/milsim/internal/domain"
)

func TestEncodeEventUsesContractFieldNames(t *testing.T) {
	team := "red"
	b, err := EncodeEvent(domain.Event{
		Type:      domain.EventBombTimeUpdate,
		GameID:    7,
		Timestamp: time.Unix(0, 0).UTC(),
		Data: domain.BombTimer{
			ControlPointID:  3,
			RemainingTime:   42,
			TotalTime:       60,
			IsActive:        true,
			ActivatedByTeam: &team,
		},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := DecodeEnvelope(b)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != domain.EventBombTimeUpdate || env.GameID != 7 {
		t.Fatalf("unexpected envelope %+v", env)
	}

	var fields map[string]any
	if err := json.Unmarshal(env.Data, &fields); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	for _, key := range []string{"controlPointId", "remainingTime", "totalTime", "isActive", "activatedByTeam"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing field %q in %s", key, env.Data)
		}
	}
}

func TestEncodeEventRejectsEmptyType(t *testing.T) {
	if _, err := EncodeEvent(domain.Event{}); err == nil {
		t.Fatal("expected error for empty type")
	}
}

func TestDecodeRequest(t *testing.T) {
	b, err := EncodeRequest(domain.MsgGameAction, 4, domain.ActionTakeControlPoint, domain.TakeControlPointData{ControlPointID: 9})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req, err := DecodeRequest(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Type != domain.MsgGameAction || req.GameID != 4 || req.Action != domain.ActionTakeControlPoint {
		t.Fatalf("unexpected request %+v", req)
	}
	data, err := DecodeData[domain.TakeControlPointData](req.Data)
	if err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.ControlPointID != 9 || data.Code != nil {
		t.Fatalf("unexpected data %+v", data)
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	for _, in := range []string{"", "{", `{"gameId":1}`} {
		if _, err := DecodeRequest([]byte(in)); err == nil {
			t.Errorf("DecodeRequest(%q): expected error", in)
		}
	}
}

func TestDecodeDataEmptyPayloadIsInvalidInput(t *testing.T) {
	_, err := DecodeData[domain.AddTimeData](nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
