package store

import (
	"context"
	"errors"
	"time"

	"vrpga/internal/opt"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, in NewRun) (Run, error)
	StartRun(ctx context.Context, id string) error
	CompleteRun(ctx context.Context, id string, res opt.Result) error
	// FailRun marks a run failed. partial, when non-nil, is the best-so-far
	// result of a run that was interrupted.
	FailRun(ctx context.Context, id, reason string, partial *opt.Result) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, status RunStatus, cursor string, limit int) ([]Run, string, error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, runID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, runID string) ([]WebhookDelivery, error)
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a run is moved out of a state it is not in.
	ErrConflict = errors.New("run state conflict")
)

// DefaultLimit and MaxLimit bound ListRuns page sizes.
const (
	DefaultLimit = 100
	MaxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxLimit {
		return DefaultLimit
	}
	return limit
}
