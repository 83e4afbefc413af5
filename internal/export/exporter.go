package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/apicapture/internal/types"
)

// Format is the artifact serialization.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// DefaultName is the file name suggested to the sink.
const DefaultName = "api_requests.json"

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatJSONL:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json or jsonl)", s)
	}
}

// Sink durably stores an exported artifact and returns where it went.
type Sink interface {
	Deliver(ctx context.Context, data []byte, suggestedName string) (string, error)
}

// Exporter serializes records and hands them to a Sink.
type Exporter struct {
	sink   Sink
	format Format
	name   string
	now    func() time.Time
}

func New(sink Sink, format Format, name string) *Exporter {
	if format == "" {
		format = FormatJSON
	}
	if name == "" {
		name = DefaultName
	}
	return &Exporter{sink: sink, format: format, name: name, now: time.Now}
}

// Export writes records through the sink. An empty session is skipped.
func (x *Exporter) Export(ctx context.Context, sessionID string, records []*types.Record) (types.ExportResult, error) {
	res := types.ExportResult{SessionID: sessionID, Format: string(x.format), Records: len(records), At: x.now().UTC()}
	if len(records) == 0 {
		slog.Info("no requests to save", "session_id", sessionID)
		res.Skipped = true
		return res, nil
	}

	data, err := Marshal(records, x.format)
	if err != nil {
		return types.ExportResult{}, fmt.Errorf("serialize records: %w", err)
	}

	location, err := x.sink.Deliver(ctx, data, x.name)
	if err != nil {
		return types.ExportResult{}, fmt.Errorf("deliver %s: %w", x.name, err)
	}

	res.Location = location
	res.Bytes = len(data)
	slog.Info("capture exported", "session_id", sessionID, "records", len(records), "bytes", len(data), "location", location)
	return res, nil
}

// Marshal renders records in the given format. JSON output is indented by
// two spaces; JSONL output has one compact record per line.
func Marshal(records []*types.Record, format Format) ([]byte, error) {
	if records == nil {
		records = []*types.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	switch format {
	case FormatJSONL:
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return nil, err
			}
		}
	case FormatJSON, "":
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
	return buf.Bytes(), nil
}

// Unmarshal reads an artifact produced by Marshal in either format.
func Unmarshal(data []byte) ([]*types.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var out []*types.Record
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return out, nil
	}

	var out []*types.Record
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for dec.More() {
		var rec types.Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(out)+1, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}
