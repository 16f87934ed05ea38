package hub

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/protocol"
)

func TestNATSMirror(t *testing.T) {
	srv, err := StartEmbedded("127.0.0.1", -1)
	if err != nil {
		t.Fatalf("StartEmbedded: %v", err)
	}
	defer srv.Shutdown()

	nc, err := nats.Connect(srv.URL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	msgs := make(chan *nats.Msg, 4)
	if _, err := nc.ChanSubscribe("test.game.42.>", msgs); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	mirror, err := NewNATSMirror(NATSConfig{URL: srv.URL(), SubjectPrefix: "test"})
	if err != nil {
		t.Fatalf("NewNATSMirror: %v", err)
	}
	defer mirror.Close()

	h := New(snapshotOf(42), mirror)
	startHub(t, h)
	h.Publish(domain.Event{Type: domain.EventBombTimeUpdate, GameID: 42, Data: domain.BombTimer{ControlPointID: 3, RemainingTime: 9}})

	select {
	case msg := <-msgs:
		if msg.Subject != "test.game.42.bombTimeUpdate" {
			t.Fatalf("subject = %s", msg.Subject)
		}
		if msg.Header.Get(nats.MsgIdHdr) == "" {
			t.Error("missing message id header")
		}
		env, err := protocol.DecodeEnvelope(msg.Data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Type != domain.EventBombTimeUpdate || env.GameID != 42 {
			t.Fatalf("envelope = %+v", env)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no mirrored message")
	}
}
