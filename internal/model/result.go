package model

import "time"

// FallbackPath records how the final answer was produced.
type FallbackPath string

const (
	PathDirect    FallbackPath = "direct"
	PathFallback  FallbackPath = "fallback"
	PathEscalated FallbackPath = "escalated"
)

// AttemptOutcome is the result of one provider in a cascade.
type AttemptOutcome string

const (
	OutcomeSkippedNoQuota      AttemptOutcome = "skipped_no_quota"
	OutcomeSkippedNoCredential AttemptOutcome = "skipped_no_credential"
	OutcomeFailed              AttemptOutcome = "failed"
	OutcomeSucceeded           AttemptOutcome = "succeeded"
)

// Attempt is one entry in a cascade attempt record.
type Attempt struct {
	ProviderID string         `json:"provider_id"`
	Outcome    AttemptOutcome `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// SourceLink is a web source used to ground an escalated answer.
type SourceLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// FallbackResult is produced once per top-level generation request.
type FallbackResult struct {
	RequestID          string       `json:"request_id"`
	Answer             string       `json:"answer"`
	Path               FallbackPath `json:"path"`
	RefusalDetected    bool         `json:"refusal_detected"`
	RefusalConfidence  *float64     `json:"refusal_confidence,omitempty"`
	WebSearchPerformed bool         `json:"web_search_performed"`
	DocumentsQueued    int          `json:"documents_queued"`
	SourceProvider     string       `json:"source_provider"`
	FallbackFailed     bool         `json:"fallback_failed,omitempty"`
	FallbackError      string       `json:"fallback_error,omitempty"`
	Degraded           bool         `json:"degraded,omitempty"` // every provider exhausted
	TokensUsed         int          `json:"tokens_used"`
	Attempts           []Attempt    `json:"attempts,omitempty"`
	Sources            []SourceLink `json:"sources,omitempty"`
}

// RequestLog is a persisted FallbackResult.
type RequestLog struct {
	ID           string          `json:"id"`
	Query        string          `json:"query"`
	Unrestricted bool            `json:"unrestricted"`
	Result       *FallbackResult `json:"result"`
	CreatedAt    time.Time       `json:"created_at"`
}
