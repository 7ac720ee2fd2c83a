// Package transport relays opaque rpc envelopes between a Controller
// session and a Cardhost connection, correlating requests to responses
// by (cardhostId, envelope id). It never parses the envelope payload.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cardbridge/router/internal/metrics"
)

// RequestTimeout is the fixed per-request deadline; the same value
// applies to every pending request so timeout behavior is testable.
const RequestTimeout = 30 * time.Second

// Sentinel errors surfaced to the caller (the WebSocket handler), which
// maps them onto the wire error taxonomy.
var (
	ErrBadRequest       = errors.New("transport: envelope missing a string id")
	ErrDuplicateRequest = errors.New("transport: request id already pending for this cardhost")
	ErrSendFailed       = errors.New("transport: write to cardhost sink failed")
	ErrCardhostOffline  = errors.New("transport: cardhost not registered")
	ErrControllerGone   = errors.New("transport: controller not registered")
)

// Sink writes one opaque envelope to a peer's socket.
type Sink func(envelope []byte) error

// Envelope mirrors the wire shape consumed and produced at this layer.
// Payload is kept as json.RawMessage so it passes through untouched.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *EnvelopeError  `json:"error,omitempty"`
}

// EnvelopeError is the error payload synthesized for TIMEOUT,
// CARDHOST_OFFLINE, SEND_FAILED, and ROUTER_SHUTDOWN completions.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type registration struct {
	key  string
	sink Sink
}

type pendingKey struct {
	cardhostID string
	requestID  string
}

type pending struct {
	resultCh  chan Envelope
	timer     *time.Timer
	done      sync.Once
	startedAt time.Time
}

// Service is the relay correlator. One Service instance is shared by
// every Controller and Cardhost socket in the process.
type Service struct {
	mu sync.Mutex

	controllers map[string]registration // sessionToken -> sink
	cardhosts   map[string]registration // cardhostID -> sink

	pendingMu sync.Mutex
	pending   map[pendingKey]*pending
}

// New constructs an empty Service.
func New() *Service {
	return &Service{
		controllers: make(map[string]registration),
		cardhosts:   make(map[string]registration),
		pending:     make(map[pendingKey]*pending),
	}
}

// RegisterController installs sink under sessionToken, closing whatever
// sink was previously registered there. Closing here means: nothing to
// do beyond dropping the reference — the handler owns socket lifecycle.
func (s *Service) RegisterController(sessionToken string, sink Sink) {
	s.mu.Lock()
	_, replaced := s.controllers[sessionToken]
	s.controllers[sessionToken] = registration{key: sessionToken, sink: sink}
	s.mu.Unlock()
	if !replaced {
		metrics.ActiveControllerConnections.Inc()
	}
}

// RegisterCardhost installs sink under cardhostID, replacing any prior
// registration.
func (s *Service) RegisterCardhost(cardhostID string, sink Sink) {
	s.mu.Lock()
	_, replaced := s.cardhosts[cardhostID]
	s.cardhosts[cardhostID] = registration{key: cardhostID, sink: sink}
	s.mu.Unlock()
	if !replaced {
		metrics.ActiveCardhostConnections.Inc()
	}
}

// UnregisterController drops the controller's sink.
func (s *Service) UnregisterController(sessionToken string) {
	s.mu.Lock()
	_, existed := s.controllers[sessionToken]
	delete(s.controllers, sessionToken)
	s.mu.Unlock()
	if existed {
		metrics.ActiveControllerConnections.Dec()
	}
}

// UnregisterCardhost drops the cardhost's sink and completes every
// pending request keyed to that cardhost with CARDHOST_OFFLINE, so
// waiting Controllers are not left hanging until the 30s timeout.
func (s *Service) UnregisterCardhost(cardhostID string) {
	s.mu.Lock()
	_, existed := s.cardhosts[cardhostID]
	delete(s.cardhosts, cardhostID)
	s.mu.Unlock()
	if existed {
		metrics.ActiveCardhostConnections.Dec()
	}

	s.pendingMu.Lock()
	var toFail []*pending
	var ids []string
	for key, p := range s.pending {
		if key.cardhostID == cardhostID {
			toFail = append(toFail, p)
			ids = append(ids, key.requestID)
			delete(s.pending, key)
		}
	}
	s.pendingMu.Unlock()

	for i, p := range toFail {
		p.complete(Envelope{
			Type: "error",
			ID:   ids[i],
			Error: &EnvelopeError{
				Code:    "CARDHOST_OFFLINE",
				Message: "cardhost disconnected while request was pending",
			},
		})
	}
}

// Shutdown drains every outstanding pending request with a synthesized
// ROUTER_SHUTDOWN error envelope and clears every sink registration. It
// is the last step of the Router's graceful shutdown sequence (F.9).
// Per-request timeout timers are not stopped here; one that fires
// during or after the drain finds its entry already removed, and
// pending.complete runs at most once, so each waiter still receives
// exactly one envelope.
func (s *Service) Shutdown() {
	s.pendingMu.Lock()
	toFail := make([]*pending, 0, len(s.pending))
	ids := make([]string, 0, len(s.pending))
	for key, p := range s.pending {
		toFail = append(toFail, p)
		ids = append(ids, key.requestID)
		delete(s.pending, key)
	}
	s.pendingMu.Unlock()

	for i, p := range toFail {
		p.complete(Envelope{
			Type: "error",
			ID:   ids[i],
			Error: &EnvelopeError{
				Code:    "ROUTER_SHUTDOWN",
				Message: "router is shutting down",
			},
		})
	}

	s.mu.Lock()
	s.controllers = make(map[string]registration)
	s.cardhosts = make(map[string]registration)
	s.mu.Unlock()
}

// RelayToCardhost writes envelope to the cardhost's sink and returns a
// future that resolves with either the matching rpc-response or a
// synthesized error envelope (CARDHOST_OFFLINE, TIMEOUT, SEND_FAILED).
// The returned error is non-nil only for conditions detected before any
// write is attempted (bad request, duplicate id) — once the request is
// in flight, failures are reported through the returned envelope so the
// caller has one place to forward to the Controller socket.
func (s *Service) RelayToCardhost(cardhostID string, envelope Envelope) (<-chan Envelope, error) {
	if envelope.ID == "" {
		return nil, ErrBadRequest
	}
	key := pendingKey{cardhostID: cardhostID, requestID: envelope.ID}

	s.pendingMu.Lock()
	if _, exists := s.pending[key]; exists {
		s.pendingMu.Unlock()
		metrics.RelayRequests.WithLabelValues("duplicate_id").Inc()
		return nil, ErrDuplicateRequest
	}
	p := &pending{resultCh: make(chan Envelope, 1), startedAt: time.Now()}
	s.pending[key] = p
	s.pendingMu.Unlock()

	p.timer = time.AfterFunc(RequestTimeout, func() {
		s.pendingMu.Lock()
		if s.pending[key] == p {
			delete(s.pending, key)
		}
		s.pendingMu.Unlock()
		p.complete(Envelope{
			Type: "error",
			ID:   envelope.ID,
			Error: &EnvelopeError{
				Code:    "TIMEOUT",
				Message: "RPC relay timeout",
			},
		})
	})

	s.mu.Lock()
	reg, ok := s.cardhosts[cardhostID]
	s.mu.Unlock()
	if !ok {
		s.cancelPending(key, p)
		p.complete(Envelope{
			Type: "error", ID: envelope.ID,
			Error: &EnvelopeError{Code: "CARDHOST_OFFLINE", Message: "cardhost is not connected"},
		})
		return p.resultCh, nil
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		s.cancelPending(key, p)
		return nil, fmt.Errorf("transport: marshal envelope: %w", err)
	}

	if err := reg.sink(raw); err != nil {
		s.cancelPending(key, p)
		p.complete(Envelope{
			Type: "error", ID: envelope.ID,
			Error: &EnvelopeError{Code: "SEND_FAILED", Message: "write to cardhost socket failed"},
		})
		return p.resultCh, nil
	}

	return p.resultCh, nil
}

// cancelPending removes the pending entry and stops its timer, used
// when a failure is detected outside the timer's own firing path.
func (s *Service) cancelPending(key pendingKey, p *pending) {
	p.timer.Stop()
	s.pendingMu.Lock()
	if s.pending[key] == p {
		delete(s.pending, key)
	}
	s.pendingMu.Unlock()
}

// HandleCardhostIncoming resolves a pending request when the cardhost
// answers with a matching rpc-response. Anything else (no waiter, wrong
// type) is dropped silently — a late or unsolicited message.
func (s *Service) HandleCardhostIncoming(cardhostID string, envelope Envelope) {
	if envelope.Type != "rpc-response" || envelope.ID == "" {
		return
	}
	key := pendingKey{cardhostID: cardhostID, requestID: envelope.ID}

	s.pendingMu.Lock()
	p, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.pendingMu.Unlock()

	if !ok {
		return
	}
	p.timer.Stop()
	p.complete(envelope)
}

// RelayToController forwards envelope directly to the controller's
// sink, failing ErrControllerGone if unregistered.
func (s *Service) RelayToController(sessionToken string, envelope Envelope) error {
	s.mu.Lock()
	reg, ok := s.controllers[sessionToken]
	s.mu.Unlock()
	if !ok {
		return ErrControllerGone
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("transport: marshal envelope: %w", err)
	}
	if err := reg.sink(raw); err != nil {
		return ErrSendFailed
	}
	return nil
}

// CardhostSink looks up a cardhost's sink directly, used by the
// Controller handler to deliver the one-shot controller-connected
// notification without going through the request/response correlator.
func (s *Service) CardhostSink(cardhostID string) (Sink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.cardhosts[cardhostID]
	if !ok {
		return nil, false
	}
	return reg.sink, true
}

// IsCardhostConnected reports whether cardhostID currently has a
// registered sink.
func (s *Service) IsCardhostConnected(cardhostID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cardhosts[cardhostID]
	return ok
}

// ActiveControllers and ActiveCardhosts back the /stats endpoint.
func (s *Service) ActiveControllers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.controllers)
}

func (s *Service) ActiveCardhosts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cardhosts)
}

func (p *pending) complete(env Envelope) {
	p.done.Do(func() {
		recordRelayOutcome(env, p.startedAt)
		p.resultCh <- env
		close(p.resultCh)
	})
}

// recordRelayOutcome labels and times every way a pending request can
// resolve, so RelayRequests/RelayLatency cover the success path
// (HandleCardhostIncoming) and every synthesized-error path the same way.
func recordRelayOutcome(env Envelope, startedAt time.Time) {
	outcome := "completed"
	if env.Type == "error" && env.Error != nil {
		switch env.Error.Code {
		case "TIMEOUT":
			outcome = "timeout"
		case "CARDHOST_OFFLINE":
			outcome = "cardhost_offline"
		case "SEND_FAILED":
			outcome = "send_failed"
		default:
			outcome = "error"
		}
	}
	metrics.RelayRequests.WithLabelValues(outcome).Inc()
	if !startedAt.IsZero() {
		metrics.RelayLatency.Observe(time.Since(startedAt).Seconds())
	}
}
