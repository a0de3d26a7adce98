package models

import (
	"time"
)

// Alert is a threshold breach waiting for delivery. Alerts are transient:
// they live until the dispatcher reaches a final outcome.
type Alert struct {
	ID        string    `json:"id"`
	Metric    string    `json:"metric"`
	Observed  float64   `json:"observed"`
	Threshold float64   `json:"threshold"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	OutcomeSent           Outcome = "sent"
	OutcomeTransportError Outcome = "transport_error"
	OutcomePermanentError Outcome = "permanent_error"
)

// IsTerminal reports whether no further attempt follows this outcome.
func (o Outcome) IsTerminal() bool {
	return o == OutcomeSent || o == OutcomePermanentError
}

// DeliveryAttempt records one try at delivering an alert.
type DeliveryAttempt struct {
	Alert   Alert
	Attempt int
	Outcome Outcome
	Err     error
}
