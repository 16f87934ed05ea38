package reconcile

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/engine"
	"github.com/ernie/milsim/internal/protocol"
)

func envelope(t *testing.T, typ string, data any) protocol.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return protocol.Envelope{Type: typ, GameID: 1, Data: raw}
}

func newReconciler(t *testing.T) (*Reconciler, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	r := New(context.Background(), fc, Options{Interval: time.Second})
	t.Cleanup(r.Close)
	return r, fc
}

func apply(t *testing.T, r *Reconciler, env protocol.Envelope) {
	t.Helper()
	if err := r.Apply(env); err != nil {
		t.Fatalf("Apply(%s): %v", env.Type, err)
	}
}

func blockUntil(t *testing.T, fc *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d local timers: %v", n, err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func strp(s string) *string { return &s }

func running(elapsed int) domain.GameTimeUpdate {
	return domain.GameTimeUpdate{Status: domain.StatusRunning, ElapsedTime: elapsed}
}

func TestApplyingTwiceIsIdempotent(t *testing.T) {
	r, _ := newReconciler(t)
	apply(t, r, envelope(t, domain.EventGameTimeUpdate, domain.GameTimeUpdate{Status: domain.StatusPaused, ElapsedTime: 42, TotalTime: 100}))

	delta := envelope(t, domain.EventControlPointTimeUpdate, []domain.HoldTimeUpdate{
		{ControlPointID: 1, CurrentHoldTime: 12, OwnedByTeam: strp("red")},
	})
	apply(t, r, delta)
	once := r.View()
	apply(t, r, delta)
	twice := r.View()

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("views differ:\n%+v\n%+v", once, twice)
	}
	if h := twice.Holds[1]; h.Seconds != 12 || *h.Team != "red" {
		t.Fatalf("hold = %+v", h)
	}
	if *twice.Remaining != 58 {
		t.Fatalf("remaining = %d", *twice.Remaining)
	}
}

func TestServerValueWinsEvenBackwards(t *testing.T) {
	r, fc := newReconciler(t)
	apply(t, r, envelope(t, domain.EventGameTimeUpdate, running(10)))

	blockUntil(t, fc, 1)
	fc.Advance(time.Second)
	eventually(t, "local tick", func() bool { return r.View().Elapsed == 11 })

	apply(t, r, envelope(t, domain.EventGameTimeUpdate, running(9)))
	if got := r.View().Elapsed; got != 9 {
		t.Fatalf("elapsed = %d, want 9", got)
	}
}

func TestLocalTimersTickWhileRunning(t *testing.T) {
	r, fc := newReconciler(t)
	apply(t, r, envelope(t, domain.EventGameTimeUpdate, running(0)))
	apply(t, r, envelope(t, domain.EventControlPointTimeUpdate, []domain.HoldTimeUpdate{
		{ControlPointID: 1, CurrentHoldTime: 5, OwnedByTeam: strp("red")},
		{ControlPointID: 2, CurrentHoldTime: 0},
	}))
	apply(t, r, envelope(t, domain.EventBombTimeUpdate, domain.BombTimer{ControlPointID: 3, RemainingTime: 2, TotalTime: 30, IsActive: true}))

	// game clock, owned hold, bomb; the unowned hold does not tick
	blockUntil(t, fc, 3)
	fc.Advance(time.Second)
	eventually(t, "first tick", func() bool {
		v := r.View()
		return v.Elapsed == 1 && v.Holds[1].Seconds == 6 && v.Bombs[3].Remaining == 1
	})
	fc.Advance(time.Second)
	eventually(t, "second tick", func() bool {
		v := r.View()
		return v.Elapsed == 2 && v.Holds[1].Seconds == 7 && v.Bombs[3].Remaining == 0
	})

	// the bomb timer stopped itself at zero
	blockUntil(t, fc, 2)
	fc.Advance(time.Second)
	eventually(t, "third tick", func() bool {
		v := r.View()
		return v.Elapsed == 3 && v.Holds[1].Seconds == 8
	})

	v := r.View()
	if v.Holds[2].Seconds != 0 {
		t.Fatalf("unowned hold ticked: %+v", v.Holds[2])
	}
	if b := v.Bombs[3]; b.Remaining != 0 || b.Active {
		t.Fatalf("bomb = %+v, want stopped at zero", b)
	}
}

func TestPauseKeepsValuesAndFinishClears(t *testing.T) {
	r, fc := newReconciler(t)
	apply(t, r, envelope(t, domain.EventGameTimeUpdate, running(5)))
	apply(t, r, envelope(t, domain.EventControlPointTimeUpdate, []domain.HoldTimeUpdate{
		{ControlPointID: 1, CurrentHoldTime: 3, OwnedByTeam: strp("blue")},
	}))
	blockUntil(t, fc, 2)

	apply(t, r, envelope(t, domain.EventGameTimeUpdate, domain.GameTimeUpdate{Status: domain.StatusPaused, ElapsedTime: 5}))
	blockUntil(t, fc, 0)
	fc.Advance(10 * time.Second)

	v := r.View()
	if v.Status != domain.StatusPaused || v.Elapsed != 5 || v.Holds[1].Seconds != 3 {
		t.Fatalf("paused view = %+v", v)
	}

	apply(t, r, envelope(t, domain.EventGameTimeUpdate, domain.GameTimeUpdate{Status: domain.StatusFinished, ElapsedTime: 5}))
	v = r.View()
	if v.Elapsed != 0 || len(v.Holds) != 0 || len(v.Bombs) != 0 {
		t.Fatalf("finished view not cleared: %+v", v)
	}
}

func TestStaleAfterSilence(t *testing.T) {
	r, fc := newReconciler(t)
	if !r.Stale() {
		t.Fatal("fresh reconciler should be stale")
	}
	apply(t, r, envelope(t, domain.EventGameTimeUpdate, running(1)))
	if r.Stale() {
		t.Fatal("stale right after a message")
	}
	blockUntil(t, fc, 1)
	fc.Advance(6 * time.Second)
	if !r.Stale() {
		t.Fatal("not stale after 6s of silence")
	}
	eventually(t, "free-running clock", func() bool { return r.View().Elapsed > 1 })
}

func TestInvalidPayload(t *testing.T) {
	r, _ := newReconciler(t)
	err := r.Apply(protocol.Envelope{Type: domain.EventBombTimeUpdate, Data: json.RawMessage(`"nope"`)})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := r.Apply(protocol.Envelope{Type: "somethingNew"}); err != nil {
		t.Fatalf("unknown type: %v", err)
	}
}

type wire struct {
	t    *testing.T
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (w *wire) Publish(ev domain.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.envs = append(w.envs, encode(w.t, ev))
}

func (w *wire) since(n int) []protocol.Envelope {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]protocol.Envelope(nil), w.envs[n:]...)
}

func (w *wire) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.envs)
}

func encode(t *testing.T, ev domain.Event) protocol.Envelope {
	b, err := protocol.EncodeEvent(ev)
	if err != nil {
		t.Errorf("encode: %v", err)
		return protocol.Envelope{}
	}
	env, err := protocol.DecodeEnvelope(b)
	if err != nil {
		t.Errorf("decode: %v", err)
	}
	return env
}

type nopRepo struct {
	mu sync.Mutex
	id int64
}

func (r *nopRepo) next() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id++
	return r.id
}

func (r *nopRepo) CreateGame(_ context.Context, g *domain.Game) error {
	g.ID = r.next()
	return nil
}
func (r *nopRepo) LoadGames(context.Context) ([]domain.Game, error) { return nil, nil }
func (r *nopRepo) CreateControlPoint(_ context.Context, cp *domain.ControlPoint) error {
	cp.ID = r.next()
	return nil
}
func (r *nopRepo) UpdateControlPoint(context.Context, *domain.ControlPoint) error { return nil }
func (r *nopRepo) DeleteControlPoint(context.Context, int64, int64) error         { return nil }
func (r *nopRepo) SavePlayer(context.Context, int64, domain.Player) error         { return nil }
func (r *nopRepo) SaveCheckpoint(context.Context, domain.Game) error              { return nil }

func TestSnapshotThenDeltasMatchesDeltasFromStart(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	w := &wire{t: t}
	eng := engine.New(fc, &nopRepo{}, w, engine.Options{})
	defer eng.Close()

	g, err := eng.CreateGame(ctx, "Round trip", 1, 600)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	// the direct mirror starts from the state the game was created in
	first, err := eng.SnapshotEvents(g.ID)
	must(err)

	hill, err := eng.CreateControlPoint(ctx, g.ID, domain.ControlPoint{Name: "Hill", Type: domain.TypeControlPoint})
	must(err)
	site, err := eng.CreateControlPoint(ctx, g.ID, domain.ControlPoint{
		Name:       "Depot",
		Type:       domain.TypeSite,
		Challenges: domain.Challenges{Bomb: &domain.BombChallenge{BombTime: 20, ArmedCode: "a", DisarmedCode: "d"}},
	})
	must(err)
	red := engine.Actor{UserID: 2, Username: "red"}
	blue := engine.Actor{UserID: 3, Username: "blue"}
	_, err = eng.Join(ctx, g.ID, red, strp("red"))
	must(err)
	_, err = eng.Join(ctx, g.ID, blue, strp("blue"))
	must(err)
	must(eng.Start(g.ID))

	tick := func(n int) {
		for range n {
			must(eng.Tick(g.ID))
		}
	}
	must(eng.TakeControlPoint(g.ID, red, domain.TakeControlPointData{ControlPointID: hill.ID}))
	tick(5)
	must(eng.ActivateBomb(g.ID, red, domain.ActivateBombData{ControlPointID: site.ID, ArmedCode: "a"}))
	tick(3)

	// a late joiner subscribes here
	mark := w.len()
	snap, err := eng.SnapshotEvents(g.ID)
	must(err)

	tick(4)
	must(eng.TakeControlPoint(g.ID, blue, domain.TakeControlPointData{ControlPointID: hill.ID}))
	must(eng.DeactivateBomb(g.ID, blue, domain.DeactivateBombData{ControlPointID: site.ID, DisarmedCode: "d"}))
	tick(2)
	must(eng.Pause(g.ID))

	direct, _ := newReconciler(t)
	for _, ev := range first {
		apply(t, direct, encode(t, ev))
	}
	for _, env := range w.since(0) {
		apply(t, direct, env)
	}

	late, _ := newReconciler(t)
	for _, ev := range snap {
		apply(t, late, encode(t, ev))
	}
	for _, env := range w.since(mark) {
		apply(t, late, env)
	}

	a, b := direct.View(), late.View()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("views differ:\ndirect %+v\nlate   %+v", a, b)
	}
	if a.Elapsed != 14 || a.Status != domain.StatusPaused {
		t.Fatalf("view = %+v", a)
	}
	if h := a.Holds[hill.ID]; *h.Team != "blue" || h.Seconds != 2 {
		t.Fatalf("hill = %+v", h)
	}
	if bomb := a.Bombs[site.ID]; bomb.Active || bomb.Remaining != 13 {
		t.Fatalf("bomb = %+v", bomb)
	}
}
