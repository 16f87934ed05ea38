package hub

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/ernie/milsim/internal/domain"
)

// NATSConfig configures the event mirror
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSMirror republishes every game event on NATS so other processes can
// follow games without a websocket
type NATSMirror struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSMirror connects to NATS
func NewNATSMirror(cfg NATSConfig) (*NATSMirror, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "milsim"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}

	opts := []nats.Option{
		nats.Name("milsim"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Str("prefix", cfg.SubjectPrefix).Msg("mirroring game events to NATS")
	return &NATSMirror{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Subject returns the subject events of the given type and game go to
func (m *NATSMirror) Subject(gameID int64, typ string) string {
	return m.prefix + ".game." + strconv.FormatInt(gameID, 10) + "." + typ
}

// Mirror publishes an already encoded event. Failures are logged; the
// websocket delivery does not depend on NATS.
func (m *NATSMirror) Mirror(ev domain.Event, msg []byte) {
	out := nats.NewMsg(m.Subject(ev.GameID, ev.Type))
	out.Header.Set(nats.MsgIdHdr, uuid.NewString())
	out.Data = msg
	if err := m.nc.PublishMsg(out); err != nil {
		log.Warn().Err(err).Int64("game_id", ev.GameID).Str("type", ev.Type).Msg("failed to mirror event to NATS")
	}
}

// Close flushes pending messages and closes the connection
func (m *NATSMirror) Close() {
	if err := m.nc.Drain(); err != nil {
		m.nc.Close()
	}
}

// Embedded is an in-process NATS server
type Embedded struct {
	srv *server.Server
}

// StartEmbedded runs a NATS server inside this process. port -1 picks a
// random free port.
func StartEmbedded(host string, port int) (*Embedded, error) {
	srv, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded NATS server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready")
	}
	log.Info().Str("url", srv.ClientURL()).Msg("embedded NATS server started")
	return &Embedded{srv: srv}, nil
}

// URL returns the client URL of the server
func (e *Embedded) URL() string {
	return e.srv.ClientURL()
}

// Shutdown stops the server
func (e *Embedded) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
