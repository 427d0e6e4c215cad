package mq

import "time"

// Routing keys published on the events exchange.
const (
	RoutingKeyEmailTriaged = "email.triaged"
)

// EmailTriagedPayload 邮件分诊完成事件的 payload
type EmailTriagedPayload struct {
	MessageID    string    `json:"message_id"`
	Sender       string    `json:"sender"`
	Subject      string    `json:"subject"`
	Status       string    `json:"status"`
	Priority     string    `json:"priority,omitempty"`
	Distance     float64   `json:"distance,omitempty"`
	Notification string    `json:"notification,omitempty"`
	TriagedAt    time.Time `json:"triaged_at"`
}
