// Package wsapi implements the per-socket phase machines for the
// Router's two WebSocket endpoints: /ws/controller and
// /ws/cardhost. This is the only layer that speaks to peers directly;
// everything below it (authsvc, sessionsvc, transport) is
// payload-agnostic and socket-unaware.
//
// Built around a gorilla/websocket upgrade with one goroutine per
// connection reading JSON frames in a loop, and a per-phase message
// catalogue instead of a single flat message type.
package wsapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cardbridge/router/internal/logger"
	"github.com/cardbridge/router/pkg/authsvc"
	"github.com/cardbridge/router/pkg/repository"
	"github.com/cardbridge/router/pkg/sessionsvc"
	"github.com/cardbridge/router/pkg/transport"
)

// readTimeout bounds how long a socket may sit silent before the
// Router gives up on it. A defensive ambient read deadline, refreshed
// on every message.
const readTimeout = 90 * time.Second

// writeTimeout bounds a single write to a peer socket: a write that
// cannot complete within this window is treated as a dead connection.
const writeTimeout = 10 * time.Second

// Server wires the five core Router layers to the two WebSocket
// endpoints. One Server instance serves both /ws/controller and
// /ws/cardhost for the life of the process.
type Server struct {
	ControllerAuth *authsvc.Service
	CardhostAuth   *authsvc.Service
	Sessions       *sessionsvc.Service
	Transport      *transport.Service

	ControllerConns *repository.ConnectionRepository
	CardhostConns   *repository.ConnectionRepository

	Logger   logger.Logger
	upgrader websocket.Upgrader
}

// NewServer wires a Server against the given service instances. The
// caller (pkg/router) owns constructing and starting those services;
// Server only ever calls their public operations.
func NewServer(controllerAuth, cardhostAuth *authsvc.Service, sessions *sessionsvc.Service, tp *transport.Service, log logger.Logger) *Server {
	return &Server{
		ControllerAuth:  controllerAuth,
		CardhostAuth:    cardhostAuth,
		Sessions:        sessions,
		Transport:       tp,
		ControllerConns: repository.NewConnectionRepository(),
		CardhostConns:   repository.NewConnectionRepository(),
		Logger:          log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// socket wraps a *websocket.Conn with the single serialized write path
// every handler needs: gorilla's Conn forbids concurrent writers, but a
// relay response arriving on its own goroutine can race a ping reply or
// the controller-connected notification, so every write goes through
// writeMu.
type socket struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	closedMu sync.Mutex
	closed   bool
}

func newSocket(conn *websocket.Conn) *socket {
	return &socket{conn: conn}
}

// write sends one JSON value as a text frame.
func (s *socket) write(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.writeRaw(raw)
}

func (s *socket) writeRaw(raw []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

// sink adapts this socket into a transport.Sink / repository.Sink.
func (s *socket) sink() transport.Sink {
	return func(envelope []byte) error {
		return s.writeRaw(envelope)
	}
}

// closeWithCode sends a WebSocket close frame and closes the
// connection. Safe to call more than once.
func (s *socket) closeWithCode(code int, reason string) error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return nil
	}
	s.closed = true
	s.closedMu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *socket) sendError(code, message string) error {
	return s.write(newErrorMsg(code, message))
}

var errInvalidBase64 = errors.New("wsapi: value is not valid base64")

// decodeBase64 accepts any of the base64 variants peers might plausibly
// send (standard or URL-safe, padded or not), since peers are not
// constrained to a single base64 variant.
func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errInvalidBase64
}
