package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 form used for exported record timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FailedSentinel is exported as return_code for requests that never completed.
const FailedSentinel = "FAILED"

// UnavailablePrefix prefixes response placeholders for bodies that could not be fetched.
const UnavailablePrefix = "body unavailable: "

// Record is one correlated request/response pair.
type Record struct {
	ID         string
	Endpoint   string
	Timestamp  time.Time
	Payload    *string
	AuthNeeded bool
	ReturnCode ReturnCode
	Response   *Body
}

// Resolved reports whether both the status and the body have been written.
func (r *Record) Resolved() bool {
	return r.ReturnCode.IsSet() && r.Response != nil
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	out := *r
	if r.Payload != nil {
		p := *r.Payload
		out.Payload = &p
	}
	if r.Response != nil {
		b := r.Response.clone()
		out.Response = &b
	}
	return &out
}

// RecordView is the exported form of a Record, field for field as written to
// capture artifacts.
type RecordView struct {
	Endpoint   string     `json:"endpoint"`
	Timestamp  string     `json:"timestamp"`
	Payload    *string    `json:"payload"`
	AuthNeeded bool       `json:"auth_needed"`
	ReturnCode ReturnCode `json:"return_code"`
	Response   *Body      `json:"response"`
}

// View returns the exported form of r.
func (r *Record) View() *RecordView {
	return &RecordView{
		Endpoint:   r.Endpoint,
		Timestamp:  r.Timestamp.UTC().Format(TimestampLayout),
		Payload:    r.Payload,
		AuthNeeded: r.AuthNeeded,
		ReturnCode: r.ReturnCode,
		Response:   r.Response,
	}
}

func (r Record) MarshalJSON() ([]byte, error) {
	return marshalUnescaped(r.View())
}

// marshalUnescaped is json.Marshal without HTML escaping, so URLs keep
// their & and bodies their < >.
func marshalUnescaped(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var in RecordView
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, in.Timestamp)
	if err != nil && in.Timestamp != "" {
		return fmt.Errorf("record timestamp: %w", err)
	}
	*r = Record{
		Endpoint:   in.Endpoint,
		Timestamp:  ts,
		Payload:    in.Payload,
		AuthNeeded: in.AuthNeeded,
		ReturnCode: in.ReturnCode,
		Response:   in.Response,
	}
	return nil
}

// ReturnCode is either unset, an HTTP status, or the FAILED sentinel.
type ReturnCode struct {
	status int
	failed bool
	set    bool
}

// StatusCode returns a ReturnCode carrying an HTTP status.
func StatusCode(status int) ReturnCode {
	return ReturnCode{status: status, set: true}
}

// FailedCode returns the terminal failure sentinel.
func FailedCode() ReturnCode {
	return ReturnCode{failed: true, set: true}
}

func (c ReturnCode) IsSet() bool  { return c.set }
func (c ReturnCode) Failed() bool { return c.failed }

// Status returns the HTTP status and whether one is present.
func (c ReturnCode) Status() (int, bool) {
	if !c.set || c.failed {
		return 0, false
	}
	return c.status, true
}

func (c ReturnCode) String() string {
	switch {
	case !c.set:
		return "null"
	case c.failed:
		return FailedSentinel
	default:
		return fmt.Sprintf("%d", c.status)
	}
}

func (c ReturnCode) MarshalJSON() ([]byte, error) {
	switch {
	case !c.set:
		return []byte("null"), nil
	case c.failed:
		return json.Marshal(FailedSentinel)
	default:
		return json.Marshal(c.status)
	}
}

func (c *ReturnCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ReturnCode{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != FailedSentinel {
			return fmt.Errorf("unknown return_code %q", s)
		}
		*c = FailedCode()
		return nil
	}
	var status int
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("return_code: %w", err)
	}
	*c = StatusCode(status)
	return nil
}

// BodyKind says how a response body was resolved.
type BodyKind int

const (
	BodyText BodyKind = iota
	BodyJSON
	BodyUnavailable
)

// Body is a resolved response body.
type Body struct {
	Kind BodyKind
	Raw  json.RawMessage // set for BodyJSON
	Text string          // set for BodyText and BodyUnavailable
}

// JSONBody wraps a well-formed JSON document.
func JSONBody(raw []byte) *Body {
	return &Body{Kind: BodyJSON, Raw: append(json.RawMessage(nil), raw...)}
}

// TextBody wraps a raw text body.
func TextBody(text string) *Body {
	return &Body{Kind: BodyText, Text: text}
}

// UnavailableBody builds the placeholder stored when a body cannot be fetched.
func UnavailableBody(reason string) *Body {
	return &Body{Kind: BodyUnavailable, Text: UnavailablePrefix + reason}
}

func (b *Body) clone() Body {
	out := *b
	if b.Raw != nil {
		out.Raw = append(json.RawMessage(nil), b.Raw...)
	}
	return out
}

// Value returns the decoded body: a JSON value for BodyJSON, otherwise the text.
func (b *Body) Value() any {
	if b.Kind != BodyJSON {
		return b.Text
	}
	var v any
	if err := json.Unmarshal(b.Raw, &v); err != nil {
		return string(b.Raw)
	}
	return v
}

func (b Body) MarshalJSON() ([]byte, error) {
	if b.Kind == BodyJSON {
		var buf bytes.Buffer
		if err := json.Compact(&buf, b.Raw); err != nil {
			return nil, fmt.Errorf("response body: %w", err)
		}
		return buf.Bytes(), nil
	}
	return marshalUnescaped(b.Text)
}

func (b *Body) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.HasPrefix(s, UnavailablePrefix) {
			*b = Body{Kind: BodyUnavailable, Text: s}
		} else {
			*b = Body{Kind: BodyText, Text: s}
		}
		return nil
	}
	*b = *JSONBody(data)
	return nil
}
