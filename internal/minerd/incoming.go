package minerd

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/aumai/policyminer/internal/ingest"
	"github.com/aumai/policyminer/internal/messages"
	"github.com/aumai/policyminer/internal/telemetry/otel"
	websockethub "github.com/aumai/policyminer/internal/websocket"
)

// startClientMessageLoop drains the hub's incoming channel so websocket
// clients can push logs and trigger extraction runs remotely.
func (api *minerAPI) startClientMessageLoop() {
	if api.hub == nil {
		return
	}
	go func() {
		for msg := range api.hub.Incoming() {
			api.handleClientMessage(msg.ClientID, msg.Payload)
		}
	}()
}

func (api *minerAPI) handleClientMessage(clientID string, payload []byte) {
	chunks := bytes.Split(payload, []byte{'\n'})
	for _, raw := range chunks {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		var env messages.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("minerd: failed to decode envelope from %s: %v", clientID, err)
			api.sendError(clientID, nil, "invalid_envelope", "invalid envelope")
			continue
		}

		api.dispatchClientEnvelope(clientID, &env)
	}
}

func (api *minerAPI) dispatchClientEnvelope(clientID string, env *messages.Envelope) {
	switch env.Type {
	case messages.TypeClientHello:
		var hello messages.ClientHelloPayload
		if err := messages.UnmarshalPayload(env, &hello); err != nil {
			log.Printf("minerd: invalid client hello from %s: %v", clientID, err)
			api.sendError(clientID, env, "invalid_payload", "invalid client hello")
			return
		}
		logMinerEvent("client.hello", map[string]any{
			"client":   clientID,
			"platform": hello.Platform,
		})
		api.sendAck(clientID, env, "ok", "hello received", 0, 0)

	case messages.TypeLogPush:
		var push messages.LogPushPayload
		if err := messages.UnmarshalPayload(env, &push); err != nil {
			log.Printf("minerd: invalid log push from %s: %v", clientID, err)
			api.sendError(clientID, env, "invalid_payload", "invalid log push payload")
			return
		}
		accepted, skipped := api.ingestRecords(push.Records)
		api.sendAck(clientID, env, "ok", "", accepted, skipped)

	case messages.TypeMineRequest:
		var req messages.MineRequestPayload
		if err := messages.UnmarshalPayload(env, &req); err != nil {
			log.Printf("minerd: invalid mine request from %s: %v", clientID, err)
			api.sendError(clientID, env, "invalid_payload", "invalid mine request payload")
			return
		}
		set, encoded, err := api.runMine(context.Background(), req.Name, req.MinSupport, req.MinConfidence, req.MinLift, "websocket")
		if err != nil {
			api.sendError(clientID, env, "mine_failed", err.Error())
			return
		}
		result := messages.MineResultPayload{
			Name:       set.Name,
			SourceLogs: set.SourceLogs,
			Policies:   len(set.Policies),
			TS:         time.Now().UTC(),
			Set:        encoded,
		}
		api.sendEnvelope(clientID, env, messages.TypeMineResult, result)

	default:
		log.Printf("minerd: unsupported message type %q from %s", env.Type, clientID)
		api.sendError(clientID, env, "unsupported_type", "unsupported message type")
	}
}

// ingestRecords runs the shared record ingestion path used by the websocket
// log.push command.
func (api *minerAPI) ingestRecords(records []map[string]any) (accepted, skipped int) {
	reader := ingest.Reader{}
	if api.redactor != nil {
		reader.Masker = api.redactor
	}

	handle, _ := api.telemetry.Start(context.Background(), otel.RunInfo{Operation: "ingest", Source: "websocket"})
	result := reader.ParseRecords(records)
	total := api.store.Append(result.Logs)
	api.telemetry.Finish(handle, len(result.Logs), 0, "ok", "")

	accepted = len(result.Logs)
	skipped = result.Skipped
	api.emitEvent(websockethub.StreamEvent{
		Event:    "log.ingested",
		LogCount: &accepted,
		Skipped:  &skipped,
	})
	logMinerEvent("log.ingested", map[string]any{
		"accepted": accepted,
		"skipped":  skipped,
		"total":    total,
		"source":   "websocket",
	})
	return accepted, skipped
}

func (api *minerAPI) sendAck(clientID string, env *messages.Envelope, status, message string, accepted, skipped int) {
	if api.hub == nil || clientID == "" {
		return
	}

	cmd := ""
	requestID := ""
	version := messages.ProtocolVersion
	if env != nil {
		cmd = env.Type
		requestID = env.RequestID
		if env.Version > 0 {
			version = env.Version
		}
	}

	ackEnv, err := messages.WrapPayloadWithRequestID(messages.TypeAck, requestID, version, messages.AckPayload{
		Cmd:      cmd,
		Status:   status,
		Message:  message,
		Accepted: accepted,
		Skipped:  skipped,
	})
	if err != nil {
		log.Printf("minerd: failed to craft ack envelope: %v", err)
		return
	}
	if err := api.hub.SendJSONToClient(clientID, ackEnv); err != nil {
		log.Printf("minerd: failed to send ack to %s: %v", clientID, err)
	}
}

func (api *minerAPI) sendError(clientID string, env *messages.Envelope, code, message string) {
	if api.hub == nil || clientID == "" {
		return
	}

	requestID := ""
	if env != nil {
		requestID = env.RequestID
	}
	errEnv, err := messages.WrapPayloadWithRequestID(messages.TypeError, requestID, messages.ProtocolVersion, messages.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("minerd: failed to craft error envelope: %v", err)
		return
	}
	if err := api.hub.SendJSONToClient(clientID, errEnv); err != nil {
		log.Printf("minerd: failed to send error to %s: %v", clientID, err)
	}
}

func (api *minerAPI) sendEnvelope(clientID string, env *messages.Envelope, typ string, payload any) {
	if api.hub == nil || clientID == "" {
		return
	}

	requestID := ""
	version := messages.ProtocolVersion
	if env != nil {
		requestID = env.RequestID
		if env.Version > 0 {
			version = env.Version
		}
	}
	out, err := messages.WrapPayloadWithRequestID(typ, requestID, version, payload)
	if err != nil {
		log.Printf("minerd: failed to craft %s envelope: %v", typ, err)
		return
	}
	if err := api.hub.SendJSONToClient(clientID, out); err != nil {
		log.Printf("minerd: failed to send %s to %s: %v", typ, clientID, err)
	}
}
