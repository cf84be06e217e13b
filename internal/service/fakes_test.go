package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"slack_scheduler/internal/models"
	"slack_scheduler/internal/repository"
	"slack_scheduler/internal/slackapi"
)

type deliverCall struct {
	Token, ChannelID, Text string
}

// stubGateway answers per channel; unknown channels are delivered.
type stubGateway struct {
	mu       sync.Mutex
	calls    []deliverCall
	rejected map[string]string // channel -> error detail
	broken   map[string]bool   // channel -> transport error
	onSend   func(call deliverCall)
}

func (g *stubGateway) Deliver(_ context.Context, token, channelID, text string) (models.DeliveryResult, error) {
	call := deliverCall{Token: token, ChannelID: channelID, Text: text}
	g.mu.Lock()
	g.calls = append(g.calls, call)
	onSend := g.onSend
	g.mu.Unlock()

	if onSend != nil {
		onSend(call)
	}
	if g.broken[channelID] {
		return models.DeliveryResult{}, errors.New("dial tcp: connection refused")
	}
	if detail, ok := g.rejected[channelID]; ok {
		return models.DeliveryResult{OK: false, ErrorDetail: detail}, nil
	}
	return models.DeliveryResult{OK: true, MessageTS: "1700000000.000100"}, nil
}

func (g *stubGateway) Calls() []deliverCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]deliverCall(nil), g.calls...)
}

type stubChannels struct {
	chans []models.Channel
	err   error
	token string
}

func (s *stubChannels) ListChannels(_ context.Context, token string) ([]models.Channel, error) {
	s.token = token
	return s.chans, s.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.DeliveryEvent
	err    error
}

func (p *recordingPublisher) PublishDeliveryEvent(_ context.Context, ev models.DeliveryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Outcomes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Outcome)
	}
	return out
}

// flakyJobStore wraps the memory store and injects failures.
type flakyJobStore struct {
	*repository.MemoryJobStore
	claimErr   error
	deliverErr error
	releases   []string
}

func (s *flakyJobStore) ClaimNextDue(ctx context.Context, now time.Time) (models.ScheduledMessage, bool, error) {
	if s.claimErr != nil {
		return models.ScheduledMessage{}, false, s.claimErr
	}
	return s.MemoryJobStore.ClaimNextDue(ctx, now)
}

func (s *flakyJobStore) MarkDelivered(ctx context.Context, id string) error {
	if s.deliverErr != nil {
		return s.deliverErr
	}
	return s.MemoryJobStore.MarkDelivered(ctx, id)
}

func (s *flakyJobStore) Release(ctx context.Context, claimed models.ScheduledMessage) error {
	s.releases = append(s.releases, claimed.ID)
	return s.MemoryJobStore.Release(ctx, claimed)
}

type failingResolver struct{ err error }

func (r failingResolver) Resolve(context.Context, string) (models.Credential, bool, error) {
	return models.Credential{}, false, r.err
}

type stubInstaller struct {
	inst slackapi.Installation
	err  error
}

func (s *stubInstaller) ExchangeCode(context.Context, string) (slackapi.Installation, error) {
	return s.inst, s.err
}

func (s *stubInstaller) AuthorizeURL() string {
	return "https://slack.com/oauth/v2/authorize?client_id=cid"
}

type recordingInvalidator struct {
	workspaces []string
	err        error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, workspace string) error {
	r.workspaces = append(r.workspaces, workspace)
	return r.err
}
