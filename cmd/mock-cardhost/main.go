// Command mock-cardhost is a scriptable stand-in for the real
// Cardhost's smart-card driver. It authenticates over /ws/cardhost, answers every rpc-request
// it receives with a canned rpc-response carrying the same id, and
// logs controller-connected notifications — just enough to exercise
// the Router's Cardhost contract end to end.
package main

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cardbridge/router/pkg/identity"
)

type frame struct {
	Type         string          `json:"type"`
	ControllerID string          `json:"controllerId,omitempty"`
	UUID         string          `json:"uuid,omitempty"`
	Challenge    string          `json:"challenge,omitempty"`
	PublicKey    string          `json:"publicKey,omitempty"`
	Signature    string          `json:"signature,omitempty"`
	ID           string          `json:"id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Error        *frameError     `json:"error,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func main() {
	addr := flag.String("addr", "localhost:3000", "router host:port")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		log.Fatalf("keygen: %v", err)
	}
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		log.Fatalf("marshal spki: %v", err)
	}
	log.Printf("cardhost peer id: %s", identity.DerivePeerID(spki))

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/cardhost"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	send := func(f frame) {
		if err := conn.WriteMessage(websocket.TextMessage, mustJSON(f)); err != nil {
			log.Fatalf("write: %v", err)
		}
	}

	send(frame{Type: "auth-init", PublicKey: base64.StdEncoding.EncodeToString(spki)})

	var challenge string
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Fatalf("read: %v", err)
		}
		if f.Type == "auth-challenge" {
			challenge = f.Challenge
			break
		}
	}

	canon, err := identity.CanonicalizeChallenge(challenge)
	if err != nil {
		log.Fatalf("canonicalize: %v", err)
	}
	sig := ed25519.Sign(priv, canon)
	send(frame{Type: "auth-verify", Signature: base64.StdEncoding.EncodeToString(sig)})

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Fatalf("read: %v", err)
		}
		switch f.Type {
		case "auth-success":
			log.Printf("authenticated as %s", f.UUID)
		case "error":
			log.Fatalf("auth failed: %s", string(mustJSON(f)))
		}
		if f.Type == "auth-success" {
			break
		}
	}

	go func() {
		for range time.Tick(30 * time.Second) {
			send(frame{Type: "ping"})
		}
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Printf("read: %v", err)
			return
		}
		switch f.Type {
		case "controller-connected":
			log.Printf("controller attached; initializing mock smart-card stack")
		case "rpc-request":
			log.Printf("rpc-request id=%s payload=%s", f.ID, string(f.Payload))
			send(frame{Type: "rpc-response", ID: f.ID, Payload: json.RawMessage(`{"sw":36864}`)})
		case "pong":
		case "error":
			if f.Error != nil {
				log.Printf("router error: %s (%s)", f.Error.Code, f.Error.Message)
			}
		}
	}
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	return b
}
