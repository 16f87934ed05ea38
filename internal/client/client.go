// Package client is a websocket game client. It joins one game, feeds every
// server message into a reconcile.Reconciler and reconnects with backoff;
// each reconnect starts with a fresh snapshot from the server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"

	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/protocol"
	"github.com/ernie/milsim/internal/reconcile"
)

// ErrNotConnected is returned by Send while the client is between connections
var ErrNotConnected = errors.New("not connected")

// Config selects the server and the game to follow
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws
	URL    string
	Token  string
	GameID int64
	Team   string

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Client follows a single game
type Client struct {
	cfg    Config
	rec    *reconcile.Reconciler
	dialer *websocket.Dialer

	// OnError is called for every error message the server sends back
	OnError func(domain.ErrorEvent)

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a client that applies server messages to rec
func New(cfg Config, rec *reconcile.Reconciler) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		rec: rec,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Run connects and keeps the client connected until ctx is done
func (c *Client) Run(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    c.cfg.MinBackoff,
		Max:    c.cfg.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		wait := b.Duration()
		log.Warn().Err(err).Int64("game_id", c.cfg.GameID).Dur("retry_in", wait).Msg("connection lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Action sends a gameAction for the followed game
func (c *Client) Action(action string, data any) error {
	return c.Send(domain.MsgGameAction, action, data)
}

// Send writes one request for the followed game
func (c *Client) Send(typ, action string, data any) error {
	msg, err := protocol.EncodeRequest(typ, c.cfg.GameID, action, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// session runs one connection. connected reports whether the join went
// through, so the backoff resets after a healthy session.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return false, err
	}
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dialing: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if err := c.Send(domain.MsgJoin, "", domain.JoinData{Team: domain.StringPtr(c.cfg.Team)}); err != nil {
		return false, fmt.Errorf("joining: %w", err)
	}
	log.Info().Int64("game_id", c.cfg.GameID).Str("url", c.cfg.URL).Msg("connected")

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		// the server may pack several messages into one frame
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			c.handle(line)
		}
	}
}

func (c *Client) handle(msg []byte) {
	env, err := protocol.DecodeEnvelope(msg)
	if err != nil {
		log.Warn().Err(err).Msg("bad message from server")
		return
	}
	if env.Type == domain.EventError {
		e, err := protocol.DecodeData[domain.ErrorEvent](env.Data)
		if err != nil {
			log.Warn().Err(err).Msg("bad error message from server")
			return
		}
		log.Warn().Str("code", e.Code).Str("action", e.Action).Msg(e.Message)
		if c.OnError != nil {
			c.OnError(e)
		}
		return
	}
	if err := c.rec.Apply(env); err != nil {
		log.Warn().Err(err).Str("type", env.Type).Msg("failed to apply server message")
	}
}
