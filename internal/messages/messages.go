// Package messages defines the envelope protocol spoken between the miner
// daemon and its websocket clients.
package messages

import (
	"encoding/json"
	"time"
)

// Type names for message envelopes.
const (
	TypeClientHello = "client.hello"
	TypeLogPush     = "log.push"
	TypeMineRequest = "mine.request"
	TypeMineResult  = "mine.result"
	TypeAck         = "ack"
	TypeError       = "error"
)

// ProtocolVersion is stamped on every envelope the daemon emits.
const ProtocolVersion = 1

// Envelope is a versioned, self-describing message wrapper.
// Payload must be decoded into a concrete payload struct based on Type.
type Envelope struct {
	Type      string          `json:"type"`
	Version   int             `json:"version"`
	ClientID  string          `json:"client_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// ClientHelloPayload identifies a websocket client and advertised capabilities.
type ClientHelloPayload struct {
	Platform     string   `json:"platform"`
	Capabilities []string `json:"capabilities,omitempty"`
	Version      string   `json:"version,omitempty"`
}

// LogPushPayload (client -> daemon) carries raw behavior records for ingestion.
// Records use the same shape as JSONL lines; the daemon validates each one and
// skips records that fail.
type LogPushPayload struct {
	Records []map[string]any `json:"records"`
}

// MineRequestPayload (client -> daemon) asks for an extraction run over the
// daemon's stored logs. Nil thresholds fall back to the daemon's configured
// defaults.
type MineRequestPayload struct {
	Name          string   `json:"name,omitempty"`
	MinSupport    *float64 `json:"min_support,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
	MinLift       *float64 `json:"min_lift,omitempty"`
}

// MineResultPayload (daemon -> client) summarizes a completed extraction run.
// Set holds the canonical JSON encoding of the mined policy set.
type MineResultPayload struct {
	Name       string          `json:"name"`
	SourceLogs int             `json:"source_logs"`
	Policies   int             `json:"policies"`
	TS         time.Time       `json:"ts"`
	Set        json.RawMessage `json:"set"`
}

// AckPayload acknowledges receipt of a client command.
type AckPayload struct {
	Cmd      string `json:"cmd"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Accepted int    `json:"accepted,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
}

// ErrorPayload reports a failed request back to the client.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WrapPayload marshals a payload into an envelope.
func WrapPayload(typ string, version int, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:    typ,
		Version: version,
		Payload: raw,
	}, nil
}

// WrapPayloadWithRequestID marshals a payload with request ID for the
// request-response pattern.
func WrapPayloadWithRequestID(typ, requestID string, version int, payload any) (*Envelope, error) {
	env, err := WrapPayload(typ, version, payload)
	if err != nil {
		return nil, err
	}
	env.RequestID = requestID
	return env, nil
}

// UnmarshalPayload decodes the envelope payload into the provided destination.
func UnmarshalPayload[T any](env *Envelope, dst *T) error {
	return json.Unmarshal(env.Payload, dst)
}
