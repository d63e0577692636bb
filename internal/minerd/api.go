package minerd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/aumai/policyminer/internal/cedar"
	"github.com/aumai/policyminer/internal/configstore"
	"github.com/aumai/policyminer/internal/ingest"
	"github.com/aumai/policyminer/internal/mine"
	"github.com/aumai/policyminer/internal/redact"
	"github.com/aumai/policyminer/internal/render"
	"github.com/aumai/policyminer/internal/telemetry/otel"
	websockethub "github.com/aumai/policyminer/internal/websocket"
)

const (
	maxIngestPayloadBytes = 1 << 20 // 1 MiB

	defaultEventTail = 100
)

// minerAPI serves the daemon HTTP surface: log ingestion, extraction runs,
// policy-set views and exports, the event tail, and redaction CRUD. The most
// recent mined set is the only one retained; each run replaces it.
type minerAPI struct {
	store     *LogStore
	hub       *websockethub.WebSocketHub
	redactor  *redact.Manager
	telemetry *otel.MinerInstruments
	defaults  configstore.Config

	mu     sync.RWMutex
	latest *mine.PolicySet
}

func newMinerAPI(store *LogStore, hub *websockethub.WebSocketHub, redactor *redact.Manager, telemetry *otel.MinerInstruments, defaults configstore.Config) *minerAPI {
	return &minerAPI{
		store:     store,
		hub:       hub,
		redactor:  redactor,
		telemetry: telemetry,
		defaults:  defaults,
	}
}

func (api *minerAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/api/logs", api.handleLogs)
	mux.HandleFunc("/api/mine", api.handleMine)
	mux.HandleFunc("/api/policies", api.handlePolicies)
	mux.HandleFunc("/api/policies/cedar", api.handlePoliciesCedar)
	mux.HandleFunc("/api/policies/save", api.handlePoliciesSave)
	mux.HandleFunc("/api/export/markdown", api.handleExportMarkdown)
	mux.HandleFunc("/api/events", api.handleEvents)
	mux.HandleFunc("/api/redactions", api.handleRedactions)
	mux.HandleFunc("/api/redactions/", api.handleRedactionByID)
}

func (api *minerAPI) handleLogs(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxIngestPayloadBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		api.writeError(w, http.StatusBadRequest, "body required")
		return
	}

	reader := ingest.Reader{}
	if api.redactor != nil {
		reader.Masker = api.redactor
	}

	handle, _ := api.telemetry.Start(r.Context(), otel.RunInfo{Operation: "ingest", Source: "http"})

	var result *ingest.Result
	if body[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(body, &records); err != nil {
			api.telemetry.Finish(handle, 0, 0, "error", "invalid JSON body")
			api.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result = reader.ParseRecords(records)
	} else {
		parsed, err := reader.Parse(bytes.NewReader(body))
		if err != nil {
			api.telemetry.Finish(handle, 0, 0, "error", err.Error())
			api.writeError(w, http.StatusBadRequest, "failed to parse log records")
			return
		}
		result = parsed
	}

	total := api.store.Append(result.Logs)
	api.telemetry.Finish(handle, len(result.Logs), 0, "ok", "")

	accepted := len(result.Logs)
	skipped := result.Skipped
	api.emitEvent(websockethub.StreamEvent{
		Event:    "log.ingested",
		LogCount: &accepted,
		Skipped:  &skipped,
	})
	logMinerEvent("log.ingested", map[string]any{
		"accepted": accepted,
		"skipped":  skipped,
		"total":    total,
		"source":   "http",
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"skipped":  skipped,
		"total":    total,
	})
}

type mineRequest struct {
	Name          string   `json:"name"`
	MinSupport    *float64 `json:"min_support"`
	MinConfidence *float64 `json:"min_confidence"`
	MinLift       *float64 `json:"min_lift"`
}

func (api *minerAPI) handleMine(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxIngestPayloadBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req mineRequest
	body = bytes.TrimSpace(body)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			api.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	_, encoded, err := api.runMine(r.Context(), req.Name, req.MinSupport, req.MinConfidence, req.MinLift, "http")
	if err != nil {
		api.writeError(w, http.StatusInternalServerError, "extraction failed")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

// runMine executes one extraction over the current store contents, replaces
// the retained set, and broadcasts the completion event. Shared by the HTTP
// handler and the websocket command path.
func (api *minerAPI) runMine(ctx context.Context, name string, minSupport, minConfidence, minLift *float64, source string) (*mine.PolicySet, []byte, error) {
	opts := api.defaults.MiningOptions()
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		opts.Name = trimmed
	}
	if minSupport != nil {
		opts.MinSupport = *minSupport
	}
	if minConfidence != nil {
		opts.MinConfidence = *minConfidence
	}
	if minLift != nil {
		opts.MinLift = *minLift
	}

	logs := api.store.Snapshot()
	handle, _ := api.telemetry.Start(ctx, otel.RunInfo{Operation: "mine", Source: source, SetName: opts.Name})
	set := mine.Extract(logs, opts)
	encoded, err := mine.EncodePolicySet(set)
	if err != nil {
		api.telemetry.Finish(handle, len(logs), 0, "error", err.Error())
		return nil, nil, fmt.Errorf("encode policy set: %w", err)
	}
	api.telemetry.Finish(handle, len(logs), len(set.Policies), "ok", "")

	api.mu.Lock()
	api.latest = set
	api.mu.Unlock()

	logCount := set.SourceLogs
	policyCount := len(set.Policies)
	api.emitEvent(websockethub.StreamEvent{
		Event:       "mine.completed",
		SetName:     set.Name,
		LogCount:    &logCount,
		PolicyCount: &policyCount,
	})
	logMinerEvent("mine.completed", map[string]any{
		"set":      set.Name,
		"logs":     logCount,
		"policies": policyCount,
		"source":   source,
	})

	return set, encoded, nil
}

func (api *minerAPI) latestSet() *mine.PolicySet {
	api.mu.RLock()
	defer api.mu.RUnlock()
	return api.latest
}

func (api *minerAPI) handlePolicies(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	set := api.latestSet()
	if set == nil {
		api.writeError(w, http.StatusNotFound, "no policy set mined yet")
		return
	}

	if topRaw := r.URL.Query().Get("top"); topRaw != "" {
		n, err := strconv.Atoi(topRaw)
		if err != nil || n <= 0 {
			api.writeError(w, http.StatusBadRequest, "invalid top parameter")
			return
		}
		set = &mine.PolicySet{
			Name:        set.Name,
			SourceLogs:  set.SourceLogs,
			Policies:    set.TopPolicies(n),
			GeneratedAt: set.GeneratedAt,
		}
	}

	encoded, err := mine.EncodePolicySet(set)
	if err != nil {
		api.writeError(w, http.StatusInternalServerError, "failed to encode policy set")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

func (api *minerAPI) handlePoliciesCedar(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	set := api.latestSet()
	if set == nil {
		api.writeError(w, http.StatusNotFound, "no policy set mined yet")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, cedar.Export(set))
}

type policySaveRequest struct {
	Path string `json:"path"`
}

func (api *minerAPI) handlePoliciesSave(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxIngestPayloadBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req policySaveRequest
	body = bytes.TrimSpace(body)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			api.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		api.writeError(w, http.StatusBadRequest, "path required")
		return
	}

	set := api.latestSet()
	if set == nil {
		api.writeError(w, http.StatusNotFound, "no policy set mined yet")
		return
	}

	if err := render.WriteJSONFile(set, path); err != nil {
		logMinerEvent("policyset.save_failed", map[string]any{"path": path, "error": err.Error()})
		api.writeError(w, http.StatusInternalServerError, "failed to save policy set")
		return
	}

	policyCount := len(set.Policies)
	api.emitEvent(websockethub.StreamEvent{
		Event:       "policyset.saved",
		SetName:     set.Name,
		PolicyCount: &policyCount,
		Path:        path,
	})
	logMinerEvent("policyset.saved", map[string]any{
		"set":      set.Name,
		"path":     path,
		"policies": policyCount,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"saved":    path,
		"policies": policyCount,
	})
}

func (api *minerAPI) handleExportMarkdown(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	set := api.latestSet()
	if set == nil {
		api.writeError(w, http.StatusNotFound, "no policy set mined yet")
		return
	}

	maxPolicies := render.DefaultMaxPolicies
	if maxRaw := r.URL.Query().Get("max"); maxRaw != "" {
		n, err := strconv.Atoi(maxRaw)
		if err != nil || n <= 0 {
			api.writeError(w, http.StatusBadRequest, "invalid max parameter")
			return
		}
		maxPolicies = n
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, render.Markdown(set, maxPolicies))
}

func (api *minerAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if api.hub == nil {
		api.writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	tail := defaultEventTail
	if nRaw := r.URL.Query().Get("n"); nRaw != "" {
		n, err := strconv.Atoi(nRaw)
		if err != nil || n <= 0 {
			api.writeError(w, http.StatusBadRequest, "invalid n parameter")
			return
		}
		tail = n
	}

	events := api.hub.RecentEvents(tail)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for _, event := range events {
		_ = enc.Encode(event)
	}
}

func (api *minerAPI) handleRedactions(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/api/redactions" {
		http.NotFound(w, r)
		return
	}

	rules := api.redactor.List()
	resp := make(map[string]map[string]any, len(rules))
	for _, rule := range rules {
		resp[rule.ID] = map[string]any{
			"value":       rule.Value,
			"placeholder": rule.Placeholder,
			"hits":        rule.Hits,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *minerAPI) handleRedactionByID(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/redactions/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		api.handlePostRedaction(w, r, id)
	case http.MethodDelete:
		api.handleDeleteRedaction(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type redactionUpsertRequest struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

func (api *minerAPI) handlePostRedaction(w http.ResponseWriter, r *http.Request, pathID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestPayloadBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		api.writeError(w, http.StatusBadRequest, "body required")
		return
	}

	var payload redactionUpsertRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		api.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Value == "" {
		api.writeError(w, http.StatusBadRequest, "value required")
		return
	}

	rule, err := api.redactor.Upsert(pathID, payload.ID, payload.Value)
	if err != nil {
		switch {
		case errors.Is(err, redact.ErrInvalidID):
			api.writeError(w, http.StatusBadRequest, "invalid id")
		case errors.Is(err, redact.ErrConflict):
			api.writeError(w, http.StatusConflict, "redaction already exists")
		case errors.Is(err, redact.ErrNotFound):
			api.writeError(w, http.StatusNotFound, "redaction not found")
		default:
			api.writeError(w, http.StatusInternalServerError, "failed to upsert redaction")
		}
		return
	}

	api.emitEvent(websockethub.StreamEvent{Event: "redaction.updated", RedactionID: rule.ID, Action: "upsert"})
	logMinerEvent("redaction.updated", map[string]any{"id": rule.ID, "action": "upsert"})

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          rule.ID,
		"placeholder": rule.Placeholder,
	})
}

func (api *minerAPI) handleDeleteRedaction(w http.ResponseWriter, _ *http.Request, id string) {
	if err := api.redactor.Delete(id); err != nil {
		switch {
		case errors.Is(err, redact.ErrInvalidID):
			api.writeError(w, http.StatusBadRequest, "invalid id")
		case errors.Is(err, redact.ErrNotFound):
			api.writeError(w, http.StatusNotFound, "redaction not found")
		default:
			api.writeError(w, http.StatusInternalServerError, "failed to delete redaction")
		}
		return
	}

	api.emitEvent(websockethub.StreamEvent{Event: "redaction.updated", RedactionID: id, Action: "delete"})
	logMinerEvent("redaction.updated", map[string]any{"id": id, "action": "delete"})

	w.WriteHeader(http.StatusNoContent)
}

func (api *minerAPI) emitEvent(entry websockethub.StreamEvent) {
	if api.hub == nil {
		return
	}
	api.hub.Emit(entry)
}

func (api *minerAPI) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
		},
	})
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
