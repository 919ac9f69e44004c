// Package store persists quota counters, request logs and curation dead
// letters.
package store

import (
	"context"
	"time"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/resilience"
)

// RequestFilter specifies criteria for listing request logs.
type RequestFilter struct {
	Path  model.FallbackPath `json:"path,omitempty"`
	Since time.Time          `json:"since,omitempty"`
	Limit int                `json:"limit,omitempty"`
}

// QuotaStore is the durable side of the quota ledger. UpsertQuota is
// last-writer-wins keyed by provider id.
type QuotaStore interface {
	LoadQuotas(ctx context.Context) ([]model.QuotaState, error)
	UpsertQuota(ctx context.Context, q model.QuotaState) error
}

// Store is the full persistence interface.
type Store interface {
	QuotaStore

	// Request log
	LogRequest(ctx context.Context, entry model.RequestLog) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]model.RequestLog, error)

	// Curation dead letters
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
