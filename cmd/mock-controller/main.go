// Command mock-controller is a scriptable stand-in for the real
// Controller's CLI/REPL. It
// authenticates over /ws/controller, connects to a named Cardhost, and
// sends one rpc-request carrying a raw APDU hex payload, printing
// whatever response or error envelope the Router returns — enough to
// exercise the Router's Controller contract end to end.
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
	Challenge    string          `json:"challenge,omitempty"`
	PublicKey    string          `json:"publicKey,omitempty"`
	Signature    string          `json:"signature,omitempty"`
	CardhostUUID string          `json:"cardhostUuid,omitempty"`
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
	cardhostID := flag.String("cardhost", "", "target cardhost peer id (peer_...)")
	apduHex := flag.String("apdu", "00A4040008A000000003000000", "APDU hex payload to send")
	flag.Parse()

	if *cardhostID == "" {
		log.Fatal("-cardhost is required (see mock-cardhost's printed peer id)")
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		log.Fatalf("keygen: %v", err)
	}
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		log.Fatalf("marshal spki: %v", err)
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/controller"}
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
		if f.Type == "error" && f.Error != nil {
			log.Fatalf("auth failed: %s", f.Error.Message)
		}
		if f.Type == "auth-success" {
			log.Printf("authenticated as %s", f.ControllerID)
			break
		}
	}

	send(frame{Type: "connect-cardhost", CardhostUUID: *cardhostID})

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Fatalf("read: %v", err)
		}
		if f.Type == "error" && f.Error != nil {
			log.Fatalf("connect-cardhost failed: %s (%s)", f.Error.Code, f.Error.Message)
		}
		if f.Type == "connected" {
			log.Printf("connected to cardhost %s", f.CardhostUUID)
			break
		}
	}

	requestID := "r1"
	payload, _ := json.Marshal(map[string]string{"hex": *apduHex})
	deadline := time.Now().Add(35 * time.Second)
	send(frame{Type: "rpc-request", ID: requestID, Payload: payload})

	for time.Now().Before(deadline) {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Fatalf("read: %v", err)
		}
		switch f.Type {
		case "rpc-response":
			if f.ID == requestID {
				log.Printf("rpc-response payload=%s", string(f.Payload))
				return
			}
		case "error":
			if f.ID == requestID && f.Error != nil {
				log.Fatalf("rpc-request failed: %s (%s)", f.Error.Code, f.Error.Message)
			}
		}
	}
	log.Fatal("timed out waiting for rpc-response")
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	return b
}
