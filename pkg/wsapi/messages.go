package wsapi

import "encoding/json"

// inbound is the union of every field that appears anywhere in the
// wire message catalogue. Unknown fields are ignored by
// encoding/json's default unmarshal behavior, which is exactly the
// "unknown fields must be ignored, not rejected" rule the catalogue
// requires — no custom decoder is needed.
type inbound struct {
	Type         string          `json:"type"`
	PublicKey    string          `json:"publicKey,omitempty"`
	Signature    string          `json:"signature,omitempty"`
	CardhostUUID string          `json:"cardhostUuid,omitempty"`
	ID           string          `json:"id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// outbound message constructors. Each returns the exact envelope the
// wire catalogue names; callers marshal and write it to a sink.

type authChallengeMsg struct {
	Type         string `json:"type"`
	ControllerID string `json:"controllerId,omitempty"`
	UUID         string `json:"uuid,omitempty"`
	Challenge    string `json:"challenge"`
}

type authSuccessMsg struct {
	Type         string `json:"type"`
	ControllerID string `json:"controllerId,omitempty"`
	UUID         string `json:"uuid,omitempty"`
}

type connectedMsg struct {
	Type         string `json:"type"`
	CardhostUUID string `json:"cardhostUuid"`
}

type controllerConnectedMsg struct {
	Type string `json:"type"`
}

type pongMsg struct {
	Type string `json:"type"`
}

type errorMsg struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newErrorMsg(code, message string) errorMsg {
	return errorMsg{Type: "error", Error: errorDetail{Code: code, Message: message}}
}
