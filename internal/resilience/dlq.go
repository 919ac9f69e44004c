package resilience

import (
	"encoding/json"
	"time"
)

// DLQEntry records a hand-off item that the curation target did not accept.
// Entries are kept for operator review; nothing re-sends them automatically.
type DLQEntry struct {
	ID           string          `json:"id"`
	Target       string          `json:"target"` // hand-off implementation name
	Title        string          `json:"title"`
	SourceMarker string          `json:"source_marker"`
	Payload      json.RawMessage `json:"payload"`
	Error        string          `json:"error"`
	ErrorType    string          `json:"error_type"` // "transient" or "permanent"
	CreatedAt    time.Time       `json:"created_at"`
}

// DLQFilter specifies criteria for listing dead letters.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
