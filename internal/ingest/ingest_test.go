package ingest

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

const twoValidLines = `{"log_id": "l1", "agent_id": "a1", "action": "read"}
{"log_id": "l2", "agent_id": "a2", "action": "write"}`

func TestParseFileValidJSONL(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "logs.jsonl", twoValidLines)
	var reader Reader
	result, err := reader.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(result.Logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(result.Logs))
	}
	if result.Skipped != 0 {
		t.Fatalf("expected no skips, got %d", result.Skipped)
	}
	if result.Logs[0].LogID != "l1" || result.Logs[1].Action != "write" {
		t.Fatalf("unexpected records: %+v", result.Logs)
	}
}

func TestParseSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	content := `{"log_id": "l1", "agent_id": "a1", "action": "read"}
NOT VALID JSON
{"log_id": "l2", "agent_id": "a2", "action": "write"}`
	var reader Reader
	result, err := reader.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(result.Logs))
	}
	if result.Skipped != 1 {
		t.Fatalf("expected 1 skipped line, got %d", result.Skipped)
	}
}

func TestParseSkipsInvalidRecords(t *testing.T) {
	t.Parallel()

	content := `{"log_id": "l1", "agent_id": "a1", "action": "read"}
{"log_id": "", "agent_id": "a2", "action": "write"}
{"log_id": "l3", "agent_id": "a3", "action": "   "}`
	var reader Reader
	result, err := reader.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Logs) != 1 {
		t.Fatalf("expected 1 valid log, got %d", len(result.Logs))
	}
	if result.Skipped != 2 {
		t.Fatalf("expected 2 skipped records, got %d", result.Skipped)
	}
}

func TestParseIgnoresBlankLines(t *testing.T) {
	t.Parallel()

	content := "{\"log_id\": \"l1\", \"agent_id\": \"a1\", \"action\": \"read\"}\n\n\n"
	var reader Reader
	result, err := reader.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Logs) != 1 || result.Skipped != 0 {
		t.Fatalf("blank lines must not count as records: %+v", result)
	}
}

func TestParseFileEmpty(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "empty.jsonl", "")
	var reader Reader
	result, err := reader.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(result.Logs) != 0 {
		t.Fatalf("expected no logs, got %d", len(result.Logs))
	}
}

func TestParseFileMissing(t *testing.T) {
	t.Parallel()

	var reader Reader
	if _, err := reader.ParseFile(filepath.Join(t.TempDir(), "absent.jsonl")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseFileGzip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.jsonl.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gw := gzip.NewWriter(f)
	if _, err := gw.Write([]byte(twoValidLines)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	var reader Reader
	result, err := reader.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(result.Logs) != 2 {
		t.Fatalf("expected 2 logs from gzip input, got %d", len(result.Logs))
	}
}

func TestParseFileZstd(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.jsonl.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatalf("new zstd writer: %v", err)
	}
	if _, err := zw.Write([]byte(twoValidLines)); err != nil {
		t.Fatalf("write zstd: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zstd: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	var reader Reader
	result, err := reader.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(result.Logs) != 2 {
		t.Fatalf("expected 2 logs from zstd input, got %d", len(result.Logs))
	}
}

func TestParseFileBrotli(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.jsonl.br")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bw := brotli.NewWriter(f)
	if _, err := bw.Write([]byte(twoValidLines)); err != nil {
		t.Fatalf("write brotli: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("close brotli: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	var reader Reader
	result, err := reader.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(result.Logs) != 2 {
		t.Fatalf("expected 2 logs from brotli input, got %d", len(result.Logs))
	}
}

func TestParseRecords(t *testing.T) {
	t.Parallel()

	var reader Reader
	result := reader.ParseRecords([]map[string]any{
		{"log_id": "l1", "agent_id": "a1", "action": "read", "context": map[string]any{"role": "admin"}},
		{"invalid": "data_without_required_fields"},
		{"log_id": "l3", "agent_id": "a3", "action": "delete"},
	})
	if len(result.Logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(result.Logs))
	}
	if result.Skipped != 1 {
		t.Fatalf("expected 1 skipped record, got %d", result.Skipped)
	}
	if result.Logs[0].Context["role"] != "admin" {
		t.Fatalf("context not preserved: %+v", result.Logs[0].Context)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	t.Parallel()

	var reader Reader
	content := strings.Join([]string{
		`{"log_id": "l1", "agent_id": "a1", "action": "read", "timestamp": "2025-06-01T12:00:00Z"}`,
		`{"log_id": "l2", "agent_id": "a1", "action": "read", "timestamp": "2025-06-01T12:00:00.123456789Z"}`,
		`{"log_id": "l3", "agent_id": "a1", "action": "read", "timestamp": "2025-06-01T12:00:00"}`,
		`{"log_id": "l4", "agent_id": "a1", "action": "read", "timestamp": 1748779200}`,
		`{"log_id": "l5", "agent_id": "a1", "action": "read", "timestamp": "yesterday-ish"}`,
		`{"log_id": "l6", "agent_id": "a1", "action": "read"}`,
	}, "\n")
	result, err := reader.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Logs) != 5 {
		t.Fatalf("expected 5 logs, got %d", len(result.Logs))
	}
	if result.Skipped != 1 {
		t.Fatalf("expected only the unparseable timestamp to be skipped, got %d", result.Skipped)
	}

	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !result.Logs[0].Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp: %v", result.Logs[0].Timestamp)
	}
	if result.Logs[4].Timestamp.IsZero() {
		t.Fatalf("missing timestamp should default to now")
	}
}

type upperMasker struct{}

func (upperMasker) MaskContext(context map[string]any) map[string]any {
	out := make(map[string]any, len(context))
	for k, v := range context {
		if s, ok := v.(string); ok {
			out[k] = strings.ToUpper(s)
			continue
		}
		out[k] = v
	}
	return out
}

func TestMaskerAppliedBeforeStorage(t *testing.T) {
	t.Parallel()

	reader := Reader{Masker: upperMasker{}}
	result, err := reader.Parse(strings.NewReader(`{"log_id": "l1", "agent_id": "a1", "action": "read", "context": {"role": "admin"}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(result.Logs))
	}
	if result.Logs[0].Context["role"] != "ADMIN" {
		t.Fatalf("masker not applied: %+v", result.Logs[0].Context)
	}
}
