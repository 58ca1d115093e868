package domain

import "time"

// WebhookDelivery records one inbound webhook call for operators.
type WebhookDelivery struct {
	DeliveryID string    `json:"delivery_id" db:"delivery_id"`
	Event      string    `json:"event"       db:"event"`
	Action     string    `json:"action"      db:"action"`
	StatusCode int       `json:"status_code" db:"status_code"`
	DurationMS int64     `json:"duration_ms" db:"duration_ms"`
	RemoteIP   string    `json:"remote_ip"   db:"remote_ip"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}
