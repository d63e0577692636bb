// Package ingest reads newline-delimited JSON behavior records from files,
// streams, and in-memory collections. Malformed lines and records that fail
// validation are skipped, never fatal: the extractor downstream only sees
// records that already satisfy the data model.
package ingest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/aumai/policyminer/internal/mine"
)

// maxLineBytes bounds a single NDJSON line. Lines beyond this are treated as
// malformed and skipped.
const maxLineBytes = 1 << 20

// Masker rewrites a context mapping before validation, typically to replace
// sensitive values with placeholders.
type Masker interface {
	MaskContext(map[string]any) map[string]any
}

// Result carries the accepted records plus how many inputs were dropped on
// the floor.
type Result struct {
	Logs    []mine.BehaviorLog
	Skipped int
}

// Reader parses behavior records. The zero value is ready to use.
type Reader struct {
	// Masker, when set, is applied to each record's context before the
	// record is validated and stored.
	Masker Masker
}

// ParseFile reads one newline-delimited JSON file. Compressed inputs are
// recognized by extension: .zst, .gz, and .br are decompressed transparently.
func (r *Reader) ParseFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open logs: %w", err)
	}
	defer f.Close()

	src, closeSrc, err := decodeReader(f, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("open logs %s: %w", path, err)
	}
	defer closeSrc()

	return r.Parse(src)
}

// Parse consumes newline-delimited JSON records from input. Blank lines are
// ignored; lines that fail to decode or validate are counted in
// Result.Skipped.
func (r *Reader) Parse(input io.Reader) (*Result, error) {
	out := &Result{Logs: make([]mine.BehaviorLog, 0, 64)}

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		log, err := r.decodeLine([]byte(line))
		if err != nil {
			out.Skipped++
			continue
		}
		out.Logs = append(out.Logs, log)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	return out, nil
}

// ParseRecords accepts already-decoded key/value records, applying the same
// validation and skip rules as the line-oriented path.
func (r *Reader) ParseRecords(records []map[string]any) *Result {
	out := &Result{Logs: make([]mine.BehaviorLog, 0, len(records))}
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			out.Skipped++
			continue
		}
		log, err := r.decodeLine(data)
		if err != nil {
			out.Skipped++
			continue
		}
		out.Logs = append(out.Logs, log)
	}
	return out
}

type rawRecord struct {
	LogID     string         `json:"log_id"`
	AgentID   string         `json:"agent_id"`
	Timestamp any            `json:"timestamp"`
	Action    string         `json:"action"`
	Context   map[string]any `json:"context"`
	Outcome   string         `json:"outcome"`
}

func (r *Reader) decodeLine(line []byte) (mine.BehaviorLog, error) {
	var rec rawRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return mine.BehaviorLog{}, err
	}

	ts, err := parseTimestamp(rec.Timestamp)
	if err != nil {
		return mine.BehaviorLog{}, err
	}

	context := rec.Context
	if r.Masker != nil && context != nil {
		context = r.Masker.MaskContext(context)
	}

	return mine.NewBehaviorLog(mine.BehaviorLog{
		LogID:     rec.LogID,
		AgentID:   rec.AgentID,
		Timestamp: ts,
		Action:    rec.Action,
		Context:   context,
		Outcome:   rec.Outcome,
	})
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts the timestamp shapes seen in the wild: RFC 3339
// strings with or without zone, bare dates, numeric epoch seconds, or nothing
// at all. A missing timestamp yields the zero time so construction defaults
// it.
func parseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return time.Time{}, nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, &mine.FieldError{Field: "timestamp", Reason: "unrecognized format"}
	case float64:
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), nil
	default:
		return time.Time{}, &mine.FieldError{Field: "timestamp", Reason: "unsupported type"}
	}
}

// decodeReader wraps f with the decompressor implied by ext. The returned
// close function releases decompressor state; the caller still owns f.
func decodeReader(f io.Reader, ext string) (io.Reader, func(), error) {
	switch strings.ToLower(ext) {
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return zr, zr.Close, nil
	case ".gz":
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return gr, func() { gr.Close() }, nil
	case ".br":
		return brotli.NewReader(f), func() {}, nil
	default:
		return f, func() {}, nil
	}
}
