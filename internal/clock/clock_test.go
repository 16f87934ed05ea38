package clock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type tickRecorder struct {
	count atomic.Int64
	ch    chan uint64
}

func newTickRecorder() *tickRecorder {
	return &tickRecorder{ch: make(chan uint64, 1024)}
}

func (r *tickRecorder) tick(gen uint64) {
	r.count.Add(1)
	r.ch <- gen
}

// waitTicks waits until exactly n more ticks have been delivered
func (r *tickRecorder) waitTicks(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tick %d of %d", i+1, n)
		}
	}
}

func (r *tickRecorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
		t.Fatal("unexpected tick")
	case <-time.After(50 * time.Millisecond):
	}
}

func blockUntilTicker(t *testing.T, fc *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker goroutine never started: %v", err)
	}
}

func TestTickerEmitsOneTickPerSecond(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newTickRecorder()
	tk := New(fc, time.Second, rec.tick)
	tk.Start()
	defer tk.Stop()

	blockUntilTicker(t, fc)
	for i := 0; i < 3; i++ {
		fc.Advance(time.Second)
		rec.waitTicks(t, 1)
	}
	if got := rec.count.Load(); got != 3 {
		t.Fatalf("ticks = %d, want 3", got)
	}
}

func TestTickerCatchesUpFromWallClock(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newTickRecorder()
	tk := New(fc, time.Second, rec.tick)
	tk.Start()
	defer tk.Stop()

	blockUntilTicker(t, fc)
	// One late wake-up covering five seconds still yields five ticks.
	fc.Advance(5 * time.Second)
	rec.waitTicks(t, 5)
	rec.expectNone(t)
}

func TestTickerPauseDiscardsPausedInterval(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newTickRecorder()
	tk := New(fc, time.Second, rec.tick)
	tk.Start()
	defer tk.Stop()

	blockUntilTicker(t, fc)
	fc.Advance(2 * time.Second)
	rec.waitTicks(t, 2)

	tk.Pause()
	if tk.Running() {
		t.Fatal("ticker still running after pause")
	}
	if tk.PausedAt().IsZero() {
		t.Fatal("pause instant not recorded")
	}
	fc.Advance(10 * time.Minute)
	rec.expectNone(t)

	tk.Resume()
	blockUntilTicker(t, fc)
	fc.Advance(500 * time.Millisecond)
	rec.expectNone(t)
	fc.Advance(500 * time.Millisecond)
	rec.waitTicks(t, 1)

	if got := rec.count.Load(); got != 3 {
		t.Fatalf("ticks = %d, want 3", got)
	}
}

func TestTickerStopIsPermanent(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newTickRecorder()
	tk := New(fc, time.Second, rec.tick)
	tk.Start()
	tk.Stop()

	tk.Start()
	tk.Resume()
	if tk.Running() {
		t.Fatal("stopped ticker restarted")
	}
	fc.Advance(3 * time.Second)
	rec.expectNone(t)

	tk.Reset()
	tk.Start()
	if !tk.Running() {
		t.Fatal("reset ticker did not start")
	}
	tk.Stop()
}

func TestTickerLiveRejectsStaleGeneration(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tk := New(fc, time.Second, func(uint64) {})
	tk.Start()
	first := tk.gen
	if !tk.Live(first) {
		t.Fatal("current generation should be live")
	}
	tk.Pause()
	if tk.Live(first) {
		t.Fatal("paused generation should not be live")
	}
	tk.Resume()
	if tk.Live(first) {
		t.Fatal("generation from before the pause should not be live")
	}
	if !tk.Live(tk.gen) {
		t.Fatal("resumed generation should be live")
	}
	tk.Stop()
}
