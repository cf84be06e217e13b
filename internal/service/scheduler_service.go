package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slack_scheduler/internal/metrics"
	"slack_scheduler/internal/models"
	"slack_scheduler/internal/slackapi"

	"github.com/rs/zerolog"
)

// SchedulerService is the submission side: schedule, list, cancel, and the
// immediate send/channel listing the UI needs.
type SchedulerService struct {
	jobs     JobStore
	creds    CredentialResolver
	gateway  Gateway
	channels ChannelLister
	logger   zerolog.Logger
	now      func() time.Time
}

func NewSchedulerService(
	jobs JobStore,
	creds CredentialResolver,
	gateway Gateway,
	channels ChannelLister,
	logger zerolog.Logger,
) *SchedulerService {
	return &SchedulerService{
		jobs:     jobs,
		creds:    creds,
		gateway:  gateway,
		channels: channels,
		logger:   logger,
		now:      time.Now,
	}
}

// Schedule stores a message for delivery at req.SendAt. A send time in the past
// is accepted; the message goes out on the next tick.
func (s *SchedulerService) Schedule(ctx context.Context, req models.ScheduleRequest) (models.ScheduledMessage, error) {
	sendAt, err := validateScheduleRequest(req)
	if err != nil {
		return models.ScheduledMessage{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	msg := models.ScheduledMessage{
		Workspace: strings.TrimSpace(req.Workspace),
		ChannelID: strings.TrimSpace(req.ChannelID),
		Message:   req.Message,
		SendAt:    sendAt,
	}
	if _, err := s.jobs.Insert(ctx, &msg); err != nil {
		return models.ScheduledMessage{}, fmt.Errorf("insert scheduled message: %w", err)
	}

	metrics.IncMessagesScheduled()
	s.logger.Info().
		Str("message_id", msg.ID).
		Str("workspace", msg.Workspace).
		Str("channel_id", msg.ChannelID).
		Time("send_at", msg.SendAt).
		Msg("message scheduled")
	return msg, nil
}

// ProcessScheduleMessage is the kafka entry point. Invalid requests are logged
// and dropped; only store failures are returned, which makes the consumer retry.
func (s *SchedulerService) ProcessScheduleMessage(ctx context.Context, req models.ScheduleRequest) error {
	_, err := s.Schedule(ctx, req)
	if errors.Is(err, ErrValidation) {
		s.logger.Warn().Err(err).Str("workspace", req.Workspace).Msg("dropping invalid schedule request")
		return nil
	}
	return err
}

// ListScheduled returns the workspace's pending messages with SendAt >= since,
// oldest first. Zero since lists everything, including overdue and stuck jobs.
func (s *SchedulerService) ListScheduled(ctx context.Context, workspace string, since time.Time) ([]models.ScheduledMessage, error) {
	if strings.TrimSpace(workspace) == "" {
		return nil, fmt.Errorf("%w: workspace is required", ErrValidation)
	}
	msgs, err := s.jobs.ListUpcoming(ctx, strings.TrimSpace(workspace), since)
	if err != nil {
		return nil, fmt.Errorf("list upcoming: %w", err)
	}
	return msgs, nil
}

// Cancel deletes a scheduled message whatever its lock state. false means
// there was nothing to delete (unknown id or already delivered).
func (s *SchedulerService) Cancel(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, fmt.Errorf("%w: id is required", ErrValidation)
	}
	deleted, err := s.jobs.Cancel(ctx, strings.TrimSpace(id))
	if err != nil {
		return false, fmt.Errorf("cancel scheduled message: %w", err)
	}
	if deleted {
		metrics.IncMessagesCancelled()
		s.logger.Info().Str("message_id", id).Msg("scheduled message cancelled")
	}
	return deleted, nil
}

// SendNow posts immediately with the workspace's stored token.
func (s *SchedulerService) SendNow(ctx context.Context, req models.SendRequest) (models.DeliveryResult, error) {
	if err := validateSendRequest(req); err != nil {
		return models.DeliveryResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	token, err := s.token(ctx, req.Workspace)
	if err != nil {
		metrics.IncMessagesSentNow(outcomeOf(err))
		return models.DeliveryResult{}, err
	}

	res, err := s.gateway.Deliver(ctx, token, strings.TrimSpace(req.ChannelID), req.Message)
	if err != nil {
		metrics.IncMessagesSentNow(models.OutcomeGatewayError)
		return models.DeliveryResult{}, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	if !res.OK {
		metrics.IncMessagesSentNow(models.OutcomeGatewayRejected)
		return res, fmt.Errorf("%w: %s", ErrGatewayRejected, res.ErrorDetail)
	}

	metrics.IncMessagesSentNow(models.OutcomeDelivered)
	return res, nil
}

func (s *SchedulerService) ListChannels(ctx context.Context, workspace string) ([]models.Channel, error) {
	if strings.TrimSpace(workspace) == "" {
		return nil, fmt.Errorf("%w: workspace is required", ErrValidation)
	}

	token, err := s.token(ctx, workspace)
	if err != nil {
		return nil, err
	}

	chans, err := s.channels.ListChannels(ctx, token)
	if err != nil {
		var apiErr *slackapi.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, apiErr.Code)
		}
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	return chans, nil
}

func (s *SchedulerService) token(ctx context.Context, workspace string) (string, error) {
	cred, found, err := s.creds.Resolve(ctx, strings.TrimSpace(workspace))
	if err != nil {
		return "", fmt.Errorf("resolve credential: %w", err)
	}
	if !found {
		return "", fmt.Errorf("%w: %s", ErrCredentialMissing, workspace)
	}
	return cred.AccessToken, nil
}

// ParseSendAt accepts RFC 3339 with or without fractional seconds; the result is UTC.
func ParseSendAt(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("sendAt must be an RFC 3339 timestamp: %w", err)
	}
	return t.UTC(), nil
}

func validateScheduleRequest(req models.ScheduleRequest) (time.Time, error) {
	if strings.TrimSpace(req.Workspace) == "" {
		return time.Time{}, errors.New("workspace is required")
	}
	if strings.TrimSpace(req.ChannelID) == "" {
		return time.Time{}, errors.New("channelId is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return time.Time{}, errors.New("message is required")
	}
	if strings.TrimSpace(req.SendAt) == "" {
		return time.Time{}, errors.New("sendAt is required")
	}
	return ParseSendAt(req.SendAt)
}

func validateSendRequest(req models.SendRequest) error {
	if strings.TrimSpace(req.Workspace) == "" {
		return errors.New("workspace is required")
	}
	if strings.TrimSpace(req.ChannelID) == "" {
		return errors.New("channelId is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errors.New("message is required")
	}
	return nil
}
