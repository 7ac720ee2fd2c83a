package wsapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cardbridge/router/internal/logger"
	"github.com/cardbridge/router/pkg/repository"
	"github.com/cardbridge/router/pkg/transport"
)

// cardhostPhase is the Cardhost socket's phase machine:
// authenticating -> rpc.
type cardhostPhase int

const (
	cardAuthenticating cardhostPhase = iota
	cardRPC
)

type cardhostConn struct {
	srv   *Server
	sock  *socket
	phase cardhostPhase

	cardhostID   string
	pendingNonce string
}

// CardhostHandler upgrades and serves /ws/cardhost.
func (s *Server) CardhostHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &cardhostConn{srv: s, sock: newSocket(wsConn), phase: cardAuthenticating}
		c.serve()
	})
}

func (c *cardhostConn) serve() {
	defer c.cleanup()
	defer func() {
		if r := recover(); r != nil {
			rerr := logger.NewRouterError(logger.ErrCodeInternal, "panic in cardhost handler", nil).
				WithDetails("recover", r)
			c.srv.Logger.Error(rerr.Error(), append(rerr.Fields(), logger.PeerID(c.cardhostID))...)
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

func (c *cardhostConn) dispatch(msg inbound) bool {
	switch msg.Type {
	case "auth-init":
		return c.handleAuthInit(msg)
	case "auth-verify":
		return c.handleAuthVerify(msg)
	case "rpc-response":
		return c.handleRPCResponse(msg)
	case "rpc-event":
		// Reserved no-op: controller-bound event fan-out is a future extension.
		return false
	case "ping":
		return c.handlePing()
	default:
		_ = c.sock.sendError("UNKNOWN_MESSAGE", "unrecognized message type: "+msg.Type)
		return false
	}
}

func (c *cardhostConn) handleAuthInit(msg inbound) bool {
	if c.phase != cardAuthenticating {
		_ = c.sock.sendError("INVALID_PHASE", "auth-init is only valid before authentication")
		return false
	}
	pub, err := decodeBase64(msg.PublicKey)
	if err != nil {
		_ = c.sock.sendError("INVALID_PHASE", "publicKey must be base64")
		return false
	}
	peerID, challenge, err := c.srv.CardhostAuth.Initiate(pub)
	if err != nil {
		_ = c.sock.sendError("INTERNAL_ERROR", "failed to issue challenge")
		return false
	}
	c.cardhostID = peerID
	c.pendingNonce = challenge
	_ = c.sock.write(authChallengeMsg{Type: "auth-challenge", UUID: peerID, Challenge: challenge})
	return false
}

func (c *cardhostConn) handleAuthVerify(msg inbound) bool {
	if c.phase != cardAuthenticating || c.cardhostID == "" {
		_ = c.sock.sendError("INVALID_PHASE", "auth-verify requires a preceding auth-init")
		return false
	}
	sig, err := decodeBase64(msg.Signature)
	if err != nil {
		_ = c.sock.sendError("AUTH_FAILED", "signature must be base64")
		_ = c.sock.closeWithCode(websocket.ClosePolicyViolation, "auth failed")
		return true
	}

	ok, verr := c.srv.CardhostAuth.Verify(c.cardhostID, c.pendingNonce, sig)
	if verr != nil || !ok {
		_ = c.sock.sendError("AUTH_FAILED", "signature verification failed")
		_ = c.sock.closeWithCode(websocket.ClosePolicyViolation, "auth failed")
		return true
	}

	c.phase = cardRPC
	now := time.Now()
	c.srv.CardhostConns.Register(repository.Connection{
		Key:            c.cardhostID,
		Sink:           func(b []byte) error { return c.sock.writeRaw(b) },
		Close:          func() error { return c.sock.closeWithCode(websocket.CloseNormalClosure, "replaced") },
		ConnectedAt:    now,
		LastActivityAt: now,
	})
	c.srv.Transport.RegisterCardhost(c.cardhostID, c.sock.sink())

	c.srv.Logger.Info("cardhost authenticated", logger.PeerID(c.cardhostID))
	_ = c.sock.write(authSuccessMsg{Type: "auth-success", UUID: c.cardhostID})
	return false
}

func (c *cardhostConn) handleRPCResponse(msg inbound) bool {
	if c.phase != cardRPC {
		_ = c.sock.sendError("INVALID_PHASE", "rpc-response is only valid after authentication")
		return false
	}
	c.srv.CardhostConns.Touch(c.cardhostID, time.Now())
	c.srv.Transport.HandleCardhostIncoming(c.cardhostID, transport.Envelope{
		Type:    "rpc-response",
		ID:      msg.ID,
		Payload: msg.Payload,
	})
	return false
}

func (c *cardhostConn) handlePing() bool {
	if c.phase == cardAuthenticating {
		_ = c.sock.sendError("INVALID_PHASE", "ping is only valid after authentication")
		return false
	}
	_ = c.sock.write(pongMsg{Type: "pong"})
	return false
}

// cleanup runs when the read loop exits. Unregistering the cardhost
// from Transport completes every pending request keyed to it with a
// CARDHOST_OFFLINE error envelope (transport.Service.UnregisterCardhost),
// so all pending requests whose cardhost just disappeared are
// completed with CARDHOST_OFFLINE rather than left hanging.
func (c *cardhostConn) cleanup() {
	if c.phase == cardRPC {
		c.srv.Transport.UnregisterCardhost(c.cardhostID)
		if conn, ok := c.srv.CardhostConns.Get(c.cardhostID); ok {
			c.srv.CardhostConns.Unregister(c.cardhostID, conn)
		}
	}
	if c.cardhostID != "" {
		c.srv.CardhostAuth.Disconnect(c.cardhostID)
		c.srv.Logger.Debug("cardhost socket closed", logger.PeerID(c.cardhostID))
	}
	_ = c.sock.closeWithCode(websocket.CloseNormalClosure, "")
}
