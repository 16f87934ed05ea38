package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// checkpointer writes game state to the repository off the tick path.
// Games are marked dirty and their state is built when the batch is
// written, so the newest state always wins.
type checkpointer struct {
	repo    Repository
	timeout time.Duration

	mu      sync.Mutex
	dirty   map[int64]*session
	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func newCheckpointer(repo Repository) *checkpointer {
	c := &checkpointer{
		repo:    repo,
		timeout: 10 * time.Second,
		dirty:   make(map[int64]*session),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.run()
	return c
}

// mark queues s for the next flush. Safe to call while holding s.mu.
func (c *checkpointer) mark(s *session) {
	c.mu.Lock()
	c.dirty[s.id] = s
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// retry puts s back without waking the worker; the next mark or close
// picks it up.
func (c *checkpointer) retry(s *session) {
	c.mu.Lock()
	if _, ok := c.dirty[s.id]; !ok {
		c.dirty[s.id] = s
	}
	c.mu.Unlock()
}

func (c *checkpointer) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.notify:
			c.flush()
		case <-c.done:
			c.flush()
			return
		}
	}
}

func (c *checkpointer) flush() {
	c.mu.Lock()
	batch := c.dirty
	c.dirty = make(map[int64]*session)
	c.mu.Unlock()

	for _, s := range batch {
		s.mu.RLock()
		g := s.buildGame(true)
		s.mu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		if err := c.repo.SaveCheckpoint(ctx, g); err != nil {
			log.Error().Err(err).Int64("game_id", g.ID).Msg("failed to checkpoint game")
			c.retry(s)
		}
		cancel()
	}
}

// close writes any pending state and stops the worker
func (c *checkpointer) close() {
	close(c.done)
	<-c.stopped
}
