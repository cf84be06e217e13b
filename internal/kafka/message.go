package kafka

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"slack_scheduler/internal/models"
)

// ErrMalformedMessage marks payloads that will never decode; they are committed and skipped.
var ErrMalformedMessage = errors.New("malformed kafka message")

// Payload of the schedule topic is the same JSON as POST /messages/schedule:
//
//	{"workspace":"Acme","channelId":"C123","message":"hi","sendAt":"2026-01-02T15:04:05Z"}
func DecodeScheduleRequest(b []byte) (models.ScheduleRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var req models.ScheduleRequest
	if err := dec.Decode(&req); err != nil {
		return models.ScheduleRequest{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if dec.More() {
		return models.ScheduleRequest{}, fmt.Errorf("%w: trailing data", ErrMalformedMessage)
	}
	return req, nil
}

func EncodeDeliveryEvent(ev models.DeliveryEvent) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery event: %w", err)
	}
	return b, nil
}
