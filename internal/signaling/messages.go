package signaling

import (
	"encoding/json"

	"rtsp-bridge/internal/stream"
)

// Inbound message kinds.
const (
	msgSubscribe    = "subscribe"
	msgPing         = "ping"
	msgOffer        = "offer"
	msgICECandidate = "ice-candidate"
)

// inboundMessage is the superset of all messages a client may send. Offer
// and Candidate payloads are opaque: they are acknowledged, never
// interpreted.
type inboundMessage struct {
	Type      string          `json:"type"`
	StreamID  string          `json:"streamId,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongMessage struct {
	Type string `json:"type"`
}

// subscribedMessage confirms a subscription and carries the current session
// snapshot.
type subscribedMessage struct {
	Type     string         `json:"type"`
	PeerID   string         `json:"peerId"`
	StreamID string         `json:"streamId"`
	Stream   stream.Session `json:"stream"`
}

// answerMessage echoes the client's offer back. No negotiation happens
// server-side; the payload passes through untouched.
type answerMessage struct {
	Type   string          `json:"type"`
	Answer json.RawMessage `json:"answer"`
}

// streamsMessage is the initial session list pushed on connect.
type streamsMessage struct {
	Type string           `json:"type"`
	Data []stream.Session `json:"data"`
}

type streamUpdateMessage struct {
	Type string         `json:"type"`
	Data stream.Session `json:"data"`
}

type streamStoppedMessage struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId"`
}

func newError(msg string) errorMessage {
	return errorMessage{Type: "error", Message: msg}
}
