package service

import (
	"context"
	"time"

	"slack_scheduler/internal/models"
	"slack_scheduler/internal/slackapi"
)

// JobStore is implemented by repository.JobRepository (postgres),
// repository.MongoJobRepository and repository.MemoryJobStore.
type JobStore interface {
	Insert(ctx context.Context, msg *models.ScheduledMessage) (string, error)
	// ClaimNextDue atomically locks one job with SendAt <= now; false when there is none.
	ClaimNextDue(ctx context.Context, now time.Time) (models.ScheduledMessage, bool, error)
	MarkDelivered(ctx context.Context, id string) error
	Unlock(ctx context.Context, id string) error
	// Release unlocks a claimed job unless its lease expired and someone else re-claimed it.
	Release(ctx context.Context, claimed models.ScheduledMessage) error
	ListUpcoming(ctx context.Context, workspace string, since time.Time) ([]models.ScheduledMessage, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, now time.Time) (models.JobStats, error)
}

type CredentialResolver interface {
	Resolve(ctx context.Context, workspace string) (models.Credential, bool, error)
}

type CredentialStore interface {
	CredentialResolver
	Upsert(ctx context.Context, c models.Credential) error
}

type CredentialInvalidator interface {
	Invalidate(ctx context.Context, workspace string) error
}

type Gateway interface {
	Deliver(ctx context.Context, token, channelID, text string) (models.DeliveryResult, error)
}

type ChannelLister interface {
	ListChannels(ctx context.Context, token string) ([]models.Channel, error)
}

type Installer interface {
	ExchangeCode(ctx context.Context, code string) (slackapi.Installation, error)
	AuthorizeURL() string
}

type EventPublisher interface {
	PublishDeliveryEvent(ctx context.Context, ev models.DeliveryEvent) error
}
