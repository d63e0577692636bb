package minerd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/aumai/policyminer/internal/configstore"
	"github.com/aumai/policyminer/internal/ingest"
	"github.com/aumai/policyminer/internal/messages"
	"github.com/aumai/policyminer/internal/redact"
)

// newDispatchAPI builds an API without a hub; replies are dropped, which lets
// dispatch tests assert on store and policy-set side effects alone.
func newDispatchAPI(t *testing.T) *minerAPI {
	t.Helper()
	return newMinerAPI(NewLogStore(), nil, redact.NewManager(), nil, configstore.New())
}

func marshalEnvelope(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	env, err := messages.WrapPayload(typ, messages.ProtocolVersion, payload)
	if err != nil {
		t.Fatalf("wrap %s payload: %v", typ, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal %s envelope: %v", typ, err)
	}
	return data
}

func TestClientLogPushFillsStore(t *testing.T) {
	t.Parallel()
	api := newDispatchAPI(t)

	payload := messages.LogPushPayload{Records: sampleRecords()[:3]}
	api.handleClientMessage("client-1", marshalEnvelope(t, messages.TypeLogPush, payload))

	if got := api.store.Count(); got != 3 {
		t.Fatalf("expected 3 stored logs, got %d", got)
	}
}

func TestClientLogPushCountsSkipped(t *testing.T) {
	t.Parallel()
	api := newDispatchAPI(t)

	payload := messages.LogPushPayload{Records: []map[string]any{
		{"log_id": "log-1", "agent_id": "agent-a", "action": "read_file"},
		{"log_id": "log-2"},
	}}
	api.handleClientMessage("client-1", marshalEnvelope(t, messages.TypeLogPush, payload))

	if got := api.store.Count(); got != 1 {
		t.Fatalf("expected invalid record skipped, stored %d", got)
	}
}

func TestClientMineRequestRetainsSet(t *testing.T) {
	t.Parallel()
	api := newDispatchAPI(t)

	reader := ingest.Reader{}
	seeded := reader.ParseRecords(sampleRecords())
	api.store.Append(seeded.Logs)

	payload := messages.MineRequestPayload{Name: "ws run"}
	api.handleClientMessage("client-1", marshalEnvelope(t, messages.TypeMineRequest, payload))

	set := api.latestSet()
	if set == nil {
		t.Fatalf("expected retained policy set after mine request")
	}
	if set.Name != "ws run" {
		t.Fatalf("expected set name from request, got %q", set.Name)
	}
	if set.SourceLogs != 8 || len(set.Policies) != 2 {
		t.Fatalf("unexpected extraction result: logs=%d policies=%d", set.SourceLogs, len(set.Policies))
	}
}

func TestClientMessageMultipleEnvelopesPerFrame(t *testing.T) {
	t.Parallel()
	api := newDispatchAPI(t)

	push := marshalEnvelope(t, messages.TypeLogPush, messages.LogPushPayload{Records: sampleRecords()})
	mineReq := marshalEnvelope(t, messages.TypeMineRequest, messages.MineRequestPayload{})
	frame := bytes.Join([][]byte{push, mineReq}, []byte{'\n'})

	api.handleClientMessage("client-1", frame)

	if got := api.store.Count(); got != 8 {
		t.Fatalf("expected 8 stored logs, got %d", got)
	}
	set := api.latestSet()
	if set == nil || set.SourceLogs != 8 {
		t.Fatalf("expected mine request to run over pushed logs, got %+v", set)
	}
}

func TestClientMessageBadJSONIgnored(t *testing.T) {
	t.Parallel()
	api := newDispatchAPI(t)

	api.handleClientMessage("client-1", []byte("not-json"))

	if got := api.store.Count(); got != 0 {
		t.Fatalf("expected no stored logs, got %d", got)
	}
	if api.latestSet() != nil {
		t.Fatalf("expected no retained set after malformed frame")
	}
}

func TestClientMessageUnsupportedTypeIgnored(t *testing.T) {
	t.Parallel()
	api := newDispatchAPI(t)

	api.handleClientMessage("client-1", marshalEnvelope(t, "bogus.type", map[string]any{}))

	if got := api.store.Count(); got != 0 {
		t.Fatalf("expected no stored logs, got %d", got)
	}
}

func TestClientHelloDispatch(t *testing.T) {
	t.Parallel()
	api := newDispatchAPI(t)

	payload := messages.ClientHelloPayload{Platform: "darwin", Version: "1.2.0"}
	api.handleClientMessage("client-1", marshalEnvelope(t, messages.TypeClientHello, payload))

	if got := api.store.Count(); got != 0 {
		t.Fatalf("hello must not touch the store, got %d logs", got)
	}
}
