package store

import "time"

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryRetry     DeliveryStatus = "retry"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

type WebhookDelivery struct {
	ID            string         `json:"id"`
	RunID         string         `json:"runId"`
	EventType     string         `json:"eventType"`
	URL           string         `json:"url"`
	Secret        string         `json:"-"`
	Payload       []byte         `json:"-"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	NextAttemptAt time.Time      `json:"nextAttemptAt"`
	LastError     string         `json:"lastError,omitempty"`
	ResponseCode  int            `json:"responseCode,omitempty"`
	LatencyMs     int            `json:"latencyMs,omitempty"`
	DeliveredAt   *time.Time     `json:"deliveredAt,omitempty"`

	dedupKey string
}
