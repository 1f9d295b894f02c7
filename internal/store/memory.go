package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vrpga/internal/opt"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu    sync.Mutex
	runs  map[string]*Run // id -> run
	order []string        // run ids in creation order
	// Webhooks queue state
	deliveries map[string]*WebhookDelivery // id -> delivery state
	delivOrder []string
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		runs:       map[string]*Run{},
		deliveries: map[string]*WebhookDelivery{},
		now:        time.Now,
	}
}

func (m *Memory) CreateRun(ctx context.Context, in NewRun) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &Run{
		ID:             uuid.New().String(),
		Status:         StatusQueued,
		InstanceName:   in.InstanceName,
		Dimension:      in.Dimension,
		Vehicles:       in.Vehicles,
		Seed:           in.Seed,
		Config:         in.Config,
		CallbackURL:    in.CallbackURL,
		CallbackSecret: in.CallbackSecret,
		CreatedAt:      m.now().UTC(),
	}
	m.runs[r.ID] = r
	m.order = append(m.order, r.ID)
	return *r, nil
}

func (m *Memory) StartRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	if r == nil {
		return ErrNotFound
	}
	if r.Status != StatusQueued {
		return fmt.Errorf("start run %s from %s: %w", id, r.Status, ErrConflict)
	}
	now := m.now().UTC()
	r.Status = StatusRunning
	r.StartedAt = &now
	return nil
}

func (m *Memory) CompleteRun(ctx context.Context, id string, res opt.Result) error {
	return m.finish(id, StatusCompleted, "", &res)
}

func (m *Memory) FailRun(ctx context.Context, id, reason string, partial *opt.Result) error {
	return m.finish(id, StatusFailed, reason, partial)
}

func (m *Memory) finish(id string, status RunStatus, reason string, res *opt.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	if r == nil {
		return ErrNotFound
	}
	if r.Status.Terminal() {
		return fmt.Errorf("finish run %s from %s: %w", id, r.Status, ErrConflict)
	}
	now := m.now().UTC()
	r.Status = status
	r.Error = reason
	r.FinishedAt = &now
	if res != nil {
		r.applyResult(*res)
	}
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	if r == nil {
		return Run{}, ErrNotFound
	}
	return copyRun(r), nil
}

// ListRuns pages through runs in creation order. The cursor is the id of the
// last run of the previous page.
func (m *Memory) ListRuns(ctx context.Context, status RunStatus, cursor string, limit int) ([]Run, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		start = len(m.order)
		for i, id := range m.order {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	items := []Run{}
	next := ""
	for i := start; i < len(m.order); i++ {
		r := m.runs[m.order[i]]
		if status != "" && r.Status != status {
			continue
		}
		if len(items) == limit {
			next = items[len(items)-1].ID
			break
		}
		items = append(items, copyRun(r).Summary())
	}
	return items, next, nil
}

func copyRun(r *Run) Run {
	c := *r
	c.Best = r.Best.Clone()
	c.History = append([]float64(nil), r.History...)
	return c
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, runID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Same uniqueness as the Postgres table: (run, event type, url, dedup key).
	dk := computeDedupKey(payload)
	for _, id := range m.delivOrder {
		d := m.deliveries[id]
		if d.RunID == runID && d.EventType == eventType && d.URL == url && d.dedupKey == dk {
			return d.ID, nil
		}
	}
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{
		ID: id, RunID: runID, EventType: eventType, URL: url, Secret: secret,
		Payload: append([]byte(nil), payload...), Status: DeliveryPending, NextAttemptAt: m.now(),
		dedupKey: dk,
	}
	m.delivOrder = append(m.delivOrder, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := []WebhookDelivery{}
	for _, id := range m.delivOrder {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := m.now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = m.now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, runID string) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []WebhookDelivery{}
	for _, id := range m.delivOrder {
		if d := m.deliveries[id]; d.RunID == runID {
			out = append(out, *d)
		}
	}
	return out, nil
}
