// Package clock produces the per-game one-second tick.
//
// Ticks are derived from the wall-clock distance to an origin instant rather
// than from the number of timer callbacks, so late or coalesced timer fires
// never cause drift: every wake-up emits exactly the whole seconds that have
// passed since the origin and have not been emitted yet.
package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TickFunc is called once per elapsed second. gen identifies the run that
// produced the tick; see Ticker.Live.
type TickFunc func(gen uint64)

// Ticker is the tick source of a single game
type Ticker struct {
	clk      clockwork.Clock
	interval time.Duration
	onTick   TickFunc

	mu       sync.Mutex
	gen      uint64
	running  bool
	finished bool
	origin   time.Time
	emitted  int64
	pausedAt time.Time
	stop     chan struct{}
}

// New creates a stopped ticker. interval is one game second; it is
// configurable only so that tests and demos can compress time.
func New(clk clockwork.Clock, interval time.Duration, onTick TickFunc) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Ticker{
		clk:      clk,
		interval: interval,
		onTick:   onTick,
	}
}

// Start begins ticking with the origin at now. Starting a running or
// finished ticker is a no-op.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked()
}

// Pause stops future ticks and records the pause instant. Ticks already
// handed to the callback are not rolled back.
func (t *Ticker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.haltLocked()
	t.pausedAt = t.clk.Now()
}

// Resume restarts ticking with a fresh origin at now, discarding any
// partially elapsed second and any delayed tick from before the pause.
func (t *Ticker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pausedAt = time.Time{}
	t.startLocked()
}

// Stop halts the ticker permanently
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.haltLocked()
	}
	t.finished = true
}

// Reset returns a stopped ticker to its initial state so it can be started
// again (game restart).
func (t *Ticker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.haltLocked()
	}
	t.finished = false
	t.pausedAt = time.Time{}
}

// Running reports whether ticks are currently being produced
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// PausedAt returns the instant of the last pause, zero if not paused
func (t *Ticker) PausedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pausedAt
}

// Live reports whether gen belongs to the current run. A tick that was
// already in flight when the ticker was paused or restarted must be dropped
// by the receiver; checking Live under the receiver's own lock makes that
// race-free as long as Pause/Resume are called under the same lock.
func (t *Ticker) Live(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running && gen == t.gen
}

func (t *Ticker) startLocked() {
	if t.running || t.finished {
		return
	}
	t.gen++
	t.running = true
	t.origin = t.clk.Now()
	t.emitted = 0
	t.stop = make(chan struct{})
	go t.loop(t.gen, t.stop)
}

func (t *Ticker) haltLocked() {
	close(t.stop)
	t.running = false
}

func (t *Ticker) loop(gen uint64, stop <-chan struct{}) {
	tk := t.clk.NewTicker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tk.Chan():
			due := t.due(gen)
			for range due {
				select {
				case <-stop:
					return
				default:
				}
				t.onTick(gen)
			}
		}
	}
}

// due returns how many ticks are owed since the origin and marks them emitted
func (t *Ticker) due(gen uint64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || gen != t.gen {
		return 0
	}
	total := int64(t.clk.Since(t.origin) / t.interval)
	n := total - t.emitted
	if n < 0 {
		n = 0
	}
	t.emitted = total
	return n
}
