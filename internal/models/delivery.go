package models

import "time"

// DeliveryResult is what the messaging platform answered to a send.
// OK=false is a regular answer (bad channel, revoked token, rate limit), not a transport failure.
type DeliveryResult struct {
	OK          bool
	ErrorDetail string
	MessageTS   string
}

const (
	OutcomeDelivered         = "delivered"
	OutcomeCredentialMissing = "credential_missing"
	OutcomeGatewayRejected   = "gateway_rejected"
	OutcomeGatewayError      = "gateway_unreachable"
	OutcomeStoreError        = "store_unavailable"
)

// DeliveryEvent is published to Kafka after every dispatch attempt.
type DeliveryEvent struct {
	MessageID   string    `json:"message_id"`
	Workspace   string    `json:"workspace"`
	ChannelID   string    `json:"channel_id"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	MessageTS   string    `json:"message_ts,omitempty"`
	SendAt      time.Time `json:"send_at"`
	AttemptedAt time.Time `json:"attempted_at"`
}
