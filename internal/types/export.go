package types

import "time"

// ExportResult describes one delivered (or skipped) capture artifact.
type ExportResult struct {
	SessionID string    `json:"session_id"`
	Format    string    `json:"format,omitempty"`
	Location  string    `json:"location,omitempty"`
	Records   int       `json:"records"`
	Bytes     int       `json:"bytes"`
	Skipped   bool      `json:"skipped,omitempty"`
	At        time.Time `json:"at"`
}
