package model

import (
	"encoding/json"
	"time"
)

type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusDelivered EventStatus = "delivered"
	StatusFailed    EventStatus = "failed"
)

type Endpoint struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Event struct {
	ID            int64           `json:"id"`
	EndpointID    int64           `json:"endpoint_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        EventStatus     `json:"status"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type RegisterEndpointRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

type PublishEventRequest struct {
	EndpointID int64           `json:"endpoint_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
}

// DeliveryTask is what the relay pushes onto the redis queue and the
// delivery worker pops off it.
type DeliveryTask struct {
	EventID int64 `json:"event_id"`
}
