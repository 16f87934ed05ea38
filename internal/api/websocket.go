package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/engine"
	"github.com/ernie/milsim/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 256
)

// getClientIP extracts the real client IP, checking proxy headers first
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (may contain multiple IPs, first is the client)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// checkOrigin applies the CORS origin list to websocket handshakes.
// Clients that send no Origin (the CLI, scripts) are let through.
func (r *Router) checkOrigin(req *http.Request) bool {
	if req.Header.Get("Origin") == "" {
		return true
	}
	if r.cors.OriginAllowed(req) {
		return true
	}
	log.Warn().Str("origin", req.Header.Get("Origin")).Str("remote", getClientIP(req)).Msg("websocket origin rejected")
	return false
}

// wsClient is one websocket connection. It is the hub's Subscriber for the
// game it last joined.
type wsClient struct {
	id         string
	router     *Router
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	actor      engine.Actor
	remoteAddr string
	limiter    *rate.Limiter

	mu     sync.Mutex
	gameID int64
}

func (c *wsClient) ID() string { return c.id }

// Send queues a message without blocking. A full buffer means the client
// can not keep up.
func (c *wsClient) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the connection
func (c *wsClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsClient) game() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID
}

func (c *wsClient) setGame(id int64) {
	c.mu.Lock()
	c.gameID = id
	c.mu.Unlock()
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:         uuid.NewString(),
		router:     r,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		actor:      actorFromClaims(claims),
		remoteAddr: getClientIP(req),
		limiter:    rate.NewLimiter(rate.Limit(r.opts.MessagesPerSecond), r.opts.MessageBurst),
	}
	log.Info().Str("connection_id", client.id).Int64("user_id", claims.UserID).Str("remote_addr", client.remoteAddr).Msg("websocket client connected")

	go client.writePump()
	client.readPump(req.Context())
}

// readPump reads requests until the connection fails or is closed
func (c *wsClient) readPump(ctx context.Context) {
	defer func() {
		c.router.hub.Unsubscribe(c)
		c.Close()
		c.conn.Close()
		log.Info().Str("connection_id", c.id).Msg("websocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Str("connection_id", c.id).Msg("websocket read error")
			}
			return
		}

		req, err := protocol.DecodeRequest(msg)
		if err != nil {
			c.reject(protocol.Request{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
			continue
		}
		if !c.limiter.Allow() {
			c.sendError(req, domain.ErrorEvent{Message: "rate limit exceeded", Code: "RateLimited"})
			continue
		}
		if err := c.handle(ctx, req); err != nil {
			c.reject(req, err)
		}
	}
}

// handle applies one client request
func (c *wsClient) handle(ctx context.Context, req protocol.Request) error {
	r := c.router
	gameID := req.GameID
	if gameID == 0 {
		gameID = c.game()
	}

	switch req.Type {
	case domain.MsgJoin:
		var d domain.JoinData
		if len(req.Data) > 0 {
			var err error
			if d, err = protocol.DecodeData[domain.JoinData](req.Data); err != nil {
				return err
			}
		}
		if _, err := r.engine.Join(ctx, gameID, c.actor, d.Team); err != nil {
			return err
		}
		if err := r.hub.Subscribe(ctx, gameID, c); err != nil {
			return err
		}
		c.setGame(gameID)
		return nil

	case domain.MsgLeave:
		r.hub.Unsubscribe(c)
		c.setGame(0)
		return nil

	case domain.MsgGameAction:
		if req.Action == "" {
			return fmt.Errorf("%w: action is required", domain.ErrInvalidInput)
		}
		return r.applyAction(ctx, gameID, c.actor, req.Action, req.Data)

	case domain.MsgGetActiveBombTimers:
		bombs, err := r.engine.ActiveBombTimers(gameID)
		if err != nil {
			return err
		}
		c.reply(gameID, domain.EventActiveBombTimers, bombs)
		return nil

	case domain.MsgGetControlPointTimes:
		times, err := r.engine.ControlPointTimes(gameID)
		if err != nil {
			return err
		}
		c.reply(gameID, domain.EventControlPointTimeUpdate, times)
		return nil

	case domain.MsgGetControlPointData:
		ref, err := protocol.DecodeData[domain.ControlPointRef](req.Data)
		if err != nil {
			return err
		}
		withSecrets := r.authz.Authorize(c.actor, gameID, domain.ActionUpdateControlPoint) == nil
		cp, err := r.engine.ControlPointData(gameID, ref.ControlPointID, withSecrets)
		if err != nil {
			return err
		}
		c.reply(gameID, domain.EventControlPointData, cp)
		return nil
	}
	return fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidInput, req.Type)
}

// reply sends a response to this client only, after anything the hub
// already queued for it
func (c *wsClient) reply(gameID int64, typ string, data any) {
	c.router.hub.SendTo(c, domain.Event{Type: typ, GameID: gameID, Timestamp: time.Now().UTC(), Data: data})
}

// reject reports a failed request to the requester only
func (c *wsClient) reject(req protocol.Request, err error) {
	code := domain.ErrorCode(err)
	ev := log.Debug()
	if code == "internal" {
		ev = log.Error()
	}
	ev.Err(err).Str("connection_id", c.id).Int64("user_id", c.actor.UserID).Str("type", req.Type).Str("action", req.Action).Msg("request rejected")
	c.sendError(req, domain.ErrorEvent{Message: err.Error(), Code: code})
}

func (c *wsClient) sendError(req protocol.Request, e domain.ErrorEvent) {
	e.Action = req.Action
	e.RequestID = req.RequestID
	gameID := req.GameID
	if gameID == 0 {
		gameID = c.game()
	}
	c.reply(gameID, domain.EventError, e)
}

// writePump sends queued messages to the WebSocket
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued messages into this write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
