package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vrpga/internal/store"
)

// Run lifecycle event types delivered to callbacks.
const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// Publisher turns finished runs into queued deliveries; the Worker sends them.
type Publisher struct {
	Store store.Store
	// DefaultSecret signs deliveries for runs submitted without their own secret.
	DefaultSecret string
	now           func() time.Time
}

func NewPublisher(s store.Store, defaultSecret string) *Publisher {
	return &Publisher{Store: s, DefaultSecret: defaultSecret, now: time.Now}
}

// Envelope is the JSON body POSTed to a callback URL.
type Envelope struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	TS   string    `json:"ts"`
	Data store.Run `json:"data"`
}

// RunFinished enqueues a run.completed or run.failed delivery when the run
// has a callback URL. It is a no-op otherwise.
func (p *Publisher) RunFinished(ctx context.Context, run store.Run) (string, error) {
	if run.CallbackURL == "" {
		return "", nil
	}
	eventType := EventRunCompleted
	if run.Status == store.StatusFailed {
		eventType = EventRunFailed
	}
	// the event id is stable per run and type so a retried enqueue dedups
	body, err := json.Marshal(Envelope{
		ID:   fmt.Sprintf("evt_%s_%s", run.ID, eventType),
		Type: eventType,
		TS:   p.now().UTC().Format(time.RFC3339),
		Data: run.Summary(),
	})
	if err != nil {
		return "", err
	}
	secret := run.CallbackSecret
	if secret == "" {
		secret = p.DefaultSecret
	}
	return p.Store.EnqueueWebhook(ctx, run.ID, eventType, run.CallbackURL, secret, body)
}
