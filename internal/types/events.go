package types

import "time"

// RequestStart is emitted when the instrumented target initiates a request.
type RequestStart struct {
	RequestID string
	URL       string
	Timestamp time.Time
	PostData  *string
	Headers   map[string]string
}

// ResponseReceived is emitted when response headers arrive.
type ResponseReceived struct {
	RequestID string
	Status    int
}

// LoadingFailed is emitted when a request terminates without a response body.
type LoadingFailed struct {
	RequestID string
	ErrorText string
}

// BodyResult is delivered by an asynchronous body fetch.
type BodyResult struct {
	Body          []byte
	Base64Encoded bool
	Err           error
}
