// Package hub fans game events out to the subscribed clients of each game.
//
// All subscription changes and deliveries run on the hub's own goroutine in
// the order they were queued, so a client that subscribes receives its
// snapshot before any later delta. Publish never blocks: the engine calls it
// while holding game locks.
package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/protocol"
)

// Subscriber is one connected client
type Subscriber interface {
	ID() string
	// Send queues an encoded message. It returns false when the client can
	// not keep up; the hub then drops it.
	Send(msg []byte) bool
	// Close tells the client it has been dropped
	Close()
}

// Sink receives every published event after local delivery
type Sink interface {
	Mirror(ev domain.Event, msg []byte)
}

// SnapshotFunc returns the messages that bring a new subscriber up to date
type SnapshotFunc func(gameID int64) ([]domain.Event, error)

type opKind int

const (
	opPublish opKind = iota
	opSubscribe
	opUnsubscribe
	opSendTo
)

type op struct {
	kind   opKind
	gameID int64
	ev     domain.Event
	sub    Subscriber
	done   chan error
}

// Hub is the broadcast channel of every game
type Hub struct {
	snapshot SnapshotFunc
	sinks    []Sink

	mu     sync.Mutex
	queue  []op
	notify chan struct{}

	// owned by the Run goroutine
	games map[int64]map[string]Subscriber
	subs  map[string]int64
	// sequence number covered by each subscriber's snapshot
	after map[string]uint64

	countMu sync.RWMutex
	counts  map[int64]int
}

// New creates a hub. snapshot is called on the hub goroutine for every new
// subscription.
func New(snapshot SnapshotFunc, sinks ...Sink) *Hub {
	return &Hub{
		snapshot: snapshot,
		sinks:    sinks,
		notify:   make(chan struct{}, 1),
		games:    make(map[int64]map[string]Subscriber),
		subs:     make(map[string]int64),
		after:    make(map[string]uint64),
		counts:   make(map[int64]int),
	}
}

// Run processes queued operations until ctx is done, then closes every
// subscriber
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-h.notify:
			for _, o := range h.drain() {
				h.handle(o)
			}
		}
	}
}

// Publish queues an event for every subscriber of its game
func (h *Hub) Publish(ev domain.Event) {
	h.enqueue(op{kind: opPublish, gameID: ev.GameID, ev: ev})
}

// SendTo queues an event for a single subscriber, after everything already
// queued for it
func (h *Hub) SendTo(sub Subscriber, ev domain.Event) {
	h.enqueue(op{kind: opSendTo, gameID: ev.GameID, ev: ev, sub: sub})
}

// Subscribe moves sub to gameID and sends it the game snapshot. It waits
// until the snapshot has been queued on sub.
func (h *Hub) Subscribe(ctx context.Context, gameID int64, sub Subscriber) error {
	done := make(chan error, 1)
	h.enqueue(op{kind: opSubscribe, gameID: gameID, sub: sub, done: done})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe removes sub from its game. It does not close sub.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.enqueue(op{kind: opUnsubscribe, sub: sub})
}

// ClientCount returns the number of subscribers of a game
func (h *Hub) ClientCount(gameID int64) int {
	h.countMu.RLock()
	defer h.countMu.RUnlock()
	return h.counts[gameID]
}

func (h *Hub) enqueue(o op) {
	h.mu.Lock()
	h.queue = append(h.queue, o)
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *Hub) drain() []op {
	h.mu.Lock()
	defer h.mu.Unlock()
	batch := h.queue
	h.queue = nil
	return batch
}

func (h *Hub) handle(o op) {
	switch o.kind {
	case opPublish:
		h.broadcast(o.ev)
	case opSendTo:
		msg, err := protocol.EncodeEvent(o.ev)
		if err != nil {
			log.Error().Err(err).Str("type", o.ev.Type).Msg("failed to encode event")
			return
		}
		if !o.sub.Send(msg) {
			h.drop(o.sub)
		}
	case opSubscribe:
		o.done <- h.subscribe(o.gameID, o.sub)
	case opUnsubscribe:
		h.remove(o.sub)
	}
}

func (h *Hub) broadcast(ev domain.Event) {
	msg, err := protocol.EncodeEvent(ev)
	if err != nil {
		log.Error().Err(err).Int64("game_id", ev.GameID).Str("type", ev.Type).Msg("failed to encode event")
		return
	}
	for id, sub := range h.games[ev.GameID] {
		if ev.Seq != 0 && ev.Seq <= h.after[id] {
			continue
		}
		if !sub.Send(msg) {
			h.drop(sub)
		}
	}
	for _, s := range h.sinks {
		s.Mirror(ev, msg)
	}
}

func (h *Hub) subscribe(gameID int64, sub Subscriber) error {
	h.remove(sub)

	events, err := h.snapshot(gameID)
	if err != nil {
		return fmt.Errorf("snapshot of game %d: %w", gameID, err)
	}
	var seq uint64
	for _, ev := range events {
		seq = max(seq, ev.Seq)
		msg, err := protocol.EncodeEvent(ev)
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		if !sub.Send(msg) {
			sub.Close()
			return fmt.Errorf("client %s too slow for snapshot", sub.ID())
		}
	}

	pool, ok := h.games[gameID]
	if !ok {
		pool = make(map[string]Subscriber)
		h.games[gameID] = pool
	}
	pool[sub.ID()] = sub
	h.subs[sub.ID()] = gameID
	if seq > 0 {
		h.after[sub.ID()] = seq
	}
	h.setCount(gameID, len(pool))

	log.Info().Int64("game_id", gameID).Str("connection_id", sub.ID()).Int("clients", len(pool)).Msg("client subscribed")
	return nil
}

func (h *Hub) remove(sub Subscriber) bool {
	gameID, ok := h.subs[sub.ID()]
	if !ok {
		return false
	}
	delete(h.subs, sub.ID())
	delete(h.after, sub.ID())
	pool := h.games[gameID]
	delete(pool, sub.ID())
	if len(pool) == 0 {
		delete(h.games, gameID)
	}
	h.setCount(gameID, len(pool))
	log.Debug().Int64("game_id", gameID).Str("connection_id", sub.ID()).Msg("client unsubscribed")
	return true
}

func (h *Hub) drop(sub Subscriber) {
	h.remove(sub)
	sub.Close()
	log.Warn().Str("connection_id", sub.ID()).Msg("dropping slow client")
}

func (h *Hub) setCount(gameID int64, n int) {
	h.countMu.Lock()
	defer h.countMu.Unlock()
	if n == 0 {
		delete(h.counts, gameID)
		return
	}
	h.counts[gameID] = n
}

func (h *Hub) shutdown() {
	for _, pool := range h.games {
		for _, sub := range pool {
			sub.Close()
		}
	}
	h.games = make(map[int64]map[string]Subscriber)
	h.subs = make(map[string]int64)

	h.countMu.Lock()
	h.counts = make(map[int64]int)
	h.countMu.Unlock()

	for _, o := range h.drain() {
		if o.done != nil {
			o.done <- context.Canceled
		}
	}
}
