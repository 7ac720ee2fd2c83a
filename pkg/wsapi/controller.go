package wsapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cardbridge/router/internal/logger"
	"github.com/cardbridge/router/pkg/repository"
	"github.com/cardbridge/router/pkg/transport"
)

// controllerPhase is the Controller socket's one-way phase machine
// authenticating -> connecting -> rpc.
type controllerPhase int

const (
	ctrlAuthenticating controllerPhase = iota
	ctrlConnecting
	ctrlRPC
)

// controllerConn holds the per-socket state for one Controller
// connection. Nothing here is shared across connections.
type controllerConn struct {
	srv   *Server
	sock  *socket
	phase controllerPhase

	controllerID string
	pendingNonce string
	sessionToken string
	cardhostID   string
}

// ControllerHandler upgrades and serves /ws/controller.
func (s *Server) ControllerHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &controllerConn{srv: s, sock: newSocket(wsConn), phase: ctrlAuthenticating}
		c.serve()
	})
}

func (c *controllerConn) serve() {
	defer c.cleanup()
	defer func() {
		if r := recover(); r != nil {
			rerr := logger.NewRouterError(logger.ErrCodeInternal, "panic in controller handler", nil).
				WithDetails("recover", r)
			fields := append(rerr.Fields(), logger.PeerID(c.controllerID), logger.SessionToken(c.sessionToken))
			c.srv.Logger.Error(rerr.Error(), fields...)
			_ = c.sock.sendError(rerr.Code, "internal error")
			_ = c.sock.closeWithCode(websocket.CloseInternalServerErr, "internal error")
		}
	}()

	for {
		if err := c.sock.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}
		_, raw, err := c.sock.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = c.sock.sendError("UNKNOWN_MESSAGE", "malformed JSON frame")
			continue
		}
		if done := c.dispatch(msg); done {
			return
		}
	}
}

// dispatch handles one inbound message and returns true if the socket
// should stop reading (a fatal close already happened).
func (c *controllerConn) dispatch(msg inbound) bool {
	switch msg.Type {
	case "auth-init":
		return c.handleAuthInit(msg)
	case "auth-verify":
		return c.handleAuthVerify(msg)
	case "connect-cardhost":
		return c.handleConnectCardhost(msg)
	case "rpc-request":
		return c.handleRPCRequest(msg)
	case "ping":
		return c.handlePing()
	default:
		_ = c.sock.sendError("UNKNOWN_MESSAGE", "unrecognized message type: "+msg.Type)
		return false
	}
}

func (c *controllerConn) handleAuthInit(msg inbound) bool {
	if c.phase != ctrlAuthenticating {
		_ = c.sock.sendError("INVALID_PHASE", "auth-init is only valid before authentication")
		return false
	}
	pub, err := decodeBase64(msg.PublicKey)
	if err != nil {
		_ = c.sock.sendError("INVALID_PHASE", "publicKey must be base64")
		return false
	}
	peerID, challenge, err := c.srv.ControllerAuth.Initiate(pub)
	if err != nil {
		_ = c.sock.sendError("INTERNAL_ERROR", "failed to issue challenge")
		return false
	}
	c.controllerID = peerID
	c.pendingNonce = challenge
	_ = c.sock.write(authChallengeMsg{Type: "auth-challenge", ControllerID: peerID, Challenge: challenge})
	return false
}

func (c *controllerConn) handleAuthVerify(msg inbound) bool {
	if c.phase != ctrlAuthenticating || c.controllerID == "" {
		_ = c.sock.sendError("INVALID_PHASE", "auth-verify requires a preceding auth-init")
		return false
	}
	sig, err := decodeBase64(msg.Signature)
	if err != nil {
		_ = c.sock.sendError("AUTH_FAILED", "signature must be base64")
		_ = c.sock.closeWithCode(websocket.ClosePolicyViolation, "auth failed")
		return true
	}

	ok, verr := c.srv.ControllerAuth.Verify(c.controllerID, c.pendingNonce, sig)
	if verr != nil || !ok {
		_ = c.sock.sendError("AUTH_FAILED", "signature verification failed")
		_ = c.sock.closeWithCode(websocket.ClosePolicyViolation, "auth failed")
		return true
	}

	c.phase = ctrlConnecting
	_ = c.sock.write(authSuccessMsg{Type: "auth-success", ControllerID: c.controllerID})
	return false
}

func (c *controllerConn) handleConnectCardhost(msg inbound) bool {
	if c.phase != ctrlConnecting {
		_ = c.sock.sendError("INVALID_PHASE", "connect-cardhost is only valid after authentication")
		return false
	}
	if msg.CardhostUUID == "" {
		_ = c.sock.sendError("INVALID_PHASE", "connect-cardhost requires cardhostUuid")
		return false
	}
	if !c.srv.Transport.IsCardhostConnected(msg.CardhostUUID) {
		_ = c.sock.sendError("CARDHOST_OFFLINE", "target cardhost is not connected")
		return false
	}

	sess, err := c.srv.Sessions.Create(c.controllerID)
	if err != nil {
		_ = c.sock.sendError("INTERNAL_ERROR", "failed to create session")
		return false
	}
	c.srv.Sessions.Associate(sess.Token, msg.CardhostUUID)

	now := time.Now()
	c.srv.ControllerConns.Register(repository.Connection{
		Key:            sess.Token,
		Sink:           func(b []byte) error { return c.sock.writeRaw(b) },
		Close:          func() error { return c.sock.closeWithCode(websocket.CloseNormalClosure, "replaced") },
		ConnectedAt:    now,
		LastActivityAt: now,
	})
	c.srv.Transport.RegisterController(sess.Token, c.sock.sink())

	c.sessionToken = sess.Token
	c.cardhostID = msg.CardhostUUID
	c.phase = ctrlRPC

	if sink, ok := c.srv.Transport.CardhostSink(msg.CardhostUUID); ok {
		if raw, merr := json.Marshal(controllerConnectedMsg{Type: "controller-connected"}); merr == nil {
			_ = sink(raw)
		}
	}

	c.srv.Logger.Info("controller session bound to cardhost",
		logger.PeerID(c.controllerID), logger.SessionToken(sess.Token), logger.CardhostID(msg.CardhostUUID))

	_ = c.sock.write(connectedMsg{Type: "connected", CardhostUUID: msg.CardhostUUID})
	return false
}

func (c *controllerConn) handleRPCRequest(msg inbound) bool {
	if c.phase != ctrlRPC || c.sessionToken == "" {
		_ = c.sock.sendError("NO_RELAY_SESSION", "no relay session bound to this socket")
		return false
	}
	if msg.ID == "" {
		_ = c.sock.sendError("INVALID_PHASE", "rpc-request requires a string id")
		return false
	}

	c.srv.Sessions.Touch(c.sessionToken)
	c.srv.ControllerConns.Touch(c.sessionToken, time.Now())

	resultCh, err := c.srv.Transport.RelayToCardhost(c.cardhostID, transport.Envelope{
		Type:    "rpc-request",
		ID:      msg.ID,
		Payload: msg.Payload,
	})
	switch {
	case errors.Is(err, transport.ErrDuplicateRequest):
		_ = c.sock.write(transport.Envelope{
			Type: "error", ID: msg.ID,
			Error: &transport.EnvelopeError{Code: "DUPLICATE_REQUEST_ID", Message: "a request with this id is already pending"},
		})
		return false
	case err != nil:
		_ = c.sock.sendError("INTERNAL_ERROR", "failed to relay request")
		return false
	}

	go func() {
		env := <-resultCh
		_ = c.sock.write(env)
	}()
	return false
}

func (c *controllerConn) handlePing() bool {
	if c.phase == ctrlAuthenticating {
		_ = c.sock.sendError("INVALID_PHASE", "ping is only valid after authentication")
		return false
	}
	_ = c.sock.write(pongMsg{Type: "pong"})
	return false
}

// cleanup runs when the read loop exits for any reason: client close,
// read error, or a fatal close already sent by dispatch. It only tears
// down this Controller's own registrations: a Controller disconnect
// never forces the bound Cardhost offline.
func (c *controllerConn) cleanup() {
	if c.sessionToken != "" {
		c.srv.Transport.UnregisterController(c.sessionToken)
		if conn, ok := c.srv.ControllerConns.Get(c.sessionToken); ok {
			c.srv.ControllerConns.Unregister(c.sessionToken, conn)
		}
	}
	if c.controllerID != "" {
		c.srv.ControllerAuth.Disconnect(c.controllerID)
		c.srv.Logger.Debug("controller socket closed",
			logger.PeerID(c.controllerID), logger.SessionToken(c.sessionToken))
	}
	_ = c.sock.closeWithCode(websocket.CloseNormalClosure, "")
}
