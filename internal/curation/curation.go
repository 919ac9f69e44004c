// Package curation hands candidate documents to a human review queue.
//
// Delivery is at most once per item: a failed Enqueue is never retried. The
// DeadLetters decorator records rejected items so an operator can follow up.
package curation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/genroute/internal/resilience"
)

var (
	// ErrNotConfigured means no curation target is configured.
	ErrNotConfigured = eris.New("curation: not configured")
	// ErrRejected means the target refused the item.
	ErrRejected = eris.New("curation: item rejected")
)

// StatusPending is the review status given to new items.
const StatusPending = "Pending"

// Item is one document proposed for curation.
type Item struct {
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	Tags         []string `json:"tags,omitempty"`
	SourceMarker string   `json:"source_marker"`
	URL          string   `json:"url,omitempty"`
}

// RejectedError is a delivery refused by the target with an HTTP status.
// It matches ErrRejected with errors.Is.
type RejectedError struct {
	Target     string
	StatusCode int
	err        error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("curation: %s rejected item (status %d)", e.Target, e.StatusCode)
}

func (e *RejectedError) Unwrap() []error {
	return []error{ErrRejected, e.err}
}

// rejected builds a RejectedError, marking retryable statuses transient so
// dead letters are classified correctly.
func rejected(target string, status int) error {
	var cause error = eris.Errorf("status %d", status)
	if resilience.IsTransientHTTPStatus(status) {
		cause = resilience.NewTransientError(cause, status)
	}
	return &RejectedError{Target: target, StatusCode: status, err: cause}
}

func (it Item) validate() error {
	if strings.TrimSpace(it.Title) == "" && strings.TrimSpace(it.Content) == "" {
		return eris.Wrap(ErrRejected, "curation: empty item")
	}
	return nil
}

// Handoff delivers items to a review queue.
type Handoff interface {
	Name() string
	Enqueue(ctx context.Context, item Item) error
}

// Nop rejects every item with ErrNotConfigured.
type Nop struct{}

// Name implements Handoff.
func (Nop) Name() string { return "none" }

// Enqueue implements Handoff.
func (Nop) Enqueue(context.Context, Item) error { return ErrNotConfigured }

// DeadLetterSink stores rejected items.
type DeadLetterSink interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// DeadLetters records failed deliveries of the wrapped Handoff.
type DeadLetters struct {
	next Handoff
	sink DeadLetterSink
	now  func() time.Time
}

// WithDeadLetters wraps h so that rejected items are written to sink.
func WithDeadLetters(h Handoff, sink DeadLetterSink) *DeadLetters {
	return &DeadLetters{next: h, sink: sink, now: time.Now}
}

// Name implements Handoff.
func (d *DeadLetters) Name() string { return d.next.Name() }

// Enqueue forwards item and returns the delivery error unchanged. Items
// skipped because nothing is configured are not recorded.
func (d *DeadLetters) Enqueue(ctx context.Context, item Item) error {
	err := d.next.Enqueue(ctx, item)
	if err == nil || errors.Is(err, ErrNotConfigured) {
		return err
	}

	payload, mErr := json.Marshal(item)
	if mErr != nil {
		payload = []byte("{}")
	}
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		Target:       d.next.Name(),
		Title:        item.Title,
		SourceMarker: item.SourceMarker,
		Payload:      payload,
		Error:        err.Error(),
		ErrorType:    resilience.ClassifyError(err),
		CreatedAt:    d.now().UTC(),
	}
	if dErr := d.sink.EnqueueDLQ(ctx, entry); dErr != nil {
		zap.L().Warn("curation: dead letter write failed",
			zap.String("target", entry.Target),
			zap.String("title", item.Title),
			zap.Error(dErr),
		)
	}
	return err
}
