package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingSink(out *[][]byte) Sink {
	return func(envelope []byte) error {
		*out = append(*out, envelope)
		return nil
	}
}

func TestRelayToCardhostHappyPath(t *testing.T) {
	s := New()
	var delivered [][]byte
	s.RegisterCardhost("card_a", recordingSink(&delivered))

	resultCh, err := s.RelayToCardhost("card_a", Envelope{Type: "rpc-request", ID: "r1", Payload: json.RawMessage(`{"hex":"00"}`)})
	require.NoError(t, err)
	require.Len(t, delivered, 1)

	var sent Envelope
	require.NoError(t, json.Unmarshal(delivered[0], &sent))
	assert.Equal(t, "r1", sent.ID)

	s.HandleCardhostIncoming("card_a", Envelope{Type: "rpc-response", ID: "r1", Payload: json.RawMessage(`{"sw":36864}`)})

	select {
	case env := <-resultCh:
		assert.Equal(t, "rpc-response", env.Type)
		assert.Equal(t, "r1", env.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relayed response")
	}
}

func TestRelayToCardhostRequiresID(t *testing.T) {
	s := New()
	_, err := s.RelayToCardhost("card_a", Envelope{Type: "rpc-request"})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestRelayToCardhostDuplicateID(t *testing.T) {
	s := New()
	var delivered [][]byte
	s.RegisterCardhost("card_a", recordingSink(&delivered))

	_, err := s.RelayToCardhost("card_a", Envelope{Type: "rpc-request", ID: "r1"})
	require.NoError(t, err)

	_, err = s.RelayToCardhost("card_a", Envelope{Type: "rpc-request", ID: "r1"})
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestRelayToCardhostOffline(t *testing.T) {
	s := New()
	resultCh, err := s.RelayToCardhost("card_missing", Envelope{Type: "rpc-request", ID: "r1"})
	require.NoError(t, err)

	env := <-resultCh
	require.NotNil(t, env.Error)
	assert.Equal(t, "CARDHOST_OFFLINE", env.Error.Code)
}

func TestRelayToCardhostSendFailed(t *testing.T) {
	s := New()
	s.RegisterCardhost("card_a", func(envelope []byte) error { return assert.AnError })

	resultCh, err := s.RelayToCardhost("card_a", Envelope{Type: "rpc-request", ID: "r1"})
	require.NoError(t, err)

	env := <-resultCh
	require.NotNil(t, env.Error)
	assert.Equal(t, "SEND_FAILED", env.Error.Code)
}

func TestUnregisterCardhostFailsPendingRequests(t *testing.T) {
	s := New()
	var delivered [][]byte
	s.RegisterCardhost("card_a", recordingSink(&delivered))

	resultCh, err := s.RelayToCardhost("card_a", Envelope{Type: "rpc-request", ID: "r1"})
	require.NoError(t, err)

	s.UnregisterCardhost("card_a")

	select {
	case env := <-resultCh:
		require.NotNil(t, env.Error)
		assert.Equal(t, "CARDHOST_OFFLINE", env.Error.Code)
		assert.Equal(t, "r1", env.ID)
	case <-time.After(time.Second):
		t.Fatal("expected immediate CARDHOST_OFFLINE completion on disconnect")
	}
}

func TestLateResponseAfterTimeoutIsDroppedSilently(t *testing.T) {
	s := New()
	var delivered [][]byte
	s.RegisterCardhost("card_a", recordingSink(&delivered))

	resultCh, err := s.RelayToCardhost("card_a", Envelope{Type: "rpc-request", ID: "r1"})
	require.NoError(t, err)

	// Force the waiter to complete as though its timer had fired.
	s.pendingMu.Lock()
	key := pendingKey{cardhostID: "card_a", requestID: "r1"}
	p := s.pending[key]
	s.pendingMu.Unlock()
	require.NotNil(t, p)
	delete(s.pending, key)
	p.complete(Envelope{Type: "error", ID: "r1", Error: &EnvelopeError{Code: "TIMEOUT", Message: "RPC relay timeout"}})

	env := <-resultCh
	assert.Equal(t, "TIMEOUT", env.Error.Code)

	// A subsequent response for the same id finds no waiter and is dropped.
	s.HandleCardhostIncoming("card_a", Envelope{Type: "rpc-response", ID: "r1"})
}

func TestRelayToController(t *testing.T) {
	s := New()
	var delivered [][]byte
	s.RegisterController("sess_a", recordingSink(&delivered))

	err := s.RelayToController("sess_a", Envelope{Type: "connected"})
	require.NoError(t, err)
	assert.Len(t, delivered, 1)

	err = s.RelayToController("sess_missing", Envelope{Type: "connected"})
	assert.ErrorIs(t, err, ErrControllerGone)
}

func TestRegisterReplacesPriorSink(t *testing.T) {
	s := New()
	var first, second [][]byte
	s.RegisterCardhost("card_a", recordingSink(&first))
	s.RegisterCardhost("card_a", recordingSink(&second))

	_, err := s.RelayToCardhost("card_a", Envelope{Type: "rpc-request", ID: "r1"})
	require.NoError(t, err)

	assert.Empty(t, first)
	assert.Len(t, second, 1)
}

func TestStatsCounts(t *testing.T) {
	s := New()
	s.RegisterController("sess_a", func([]byte) error { return nil })
	s.RegisterCardhost("card_a", func([]byte) error { return nil })

	assert.Equal(t, 1, s.ActiveControllers())
	assert.Equal(t, 1, s.ActiveCardhosts())
	assert.True(t, s.IsCardhostConnected("card_a"))
	assert.False(t, s.IsCardhostConnected("card_missing"))
}
