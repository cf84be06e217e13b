package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"slack_scheduler/internal/logger"
	"slack_scheduler/internal/metrics"
	"slack_scheduler/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickReport summarises one drain of the due set.
type TickReport struct {
	Claimed   int
	Delivered int
	Retried   int
	// Err is the claim error that ended the tick early, if any.
	Err error
}

// DispatchWorker delivers due scheduled messages. Every tick drains all jobs
// due at the tick's start: claim, resolve the workspace token, post to Slack,
// then delete on success or unlock for the next tick on any failure.
type DispatchWorker struct {
	jobs    JobStore
	creds   CredentialResolver
	gateway Gateway
	events  EventPublisher // nil = kafka disabled

	schedule string
	logger   zerolog.Logger
	now      func() time.Time

	stopOnce sync.Once
	done     chan struct{}
}

func NewDispatchWorker(
	jobs JobStore,
	creds CredentialResolver,
	gateway Gateway,
	events EventPublisher,
	schedule string,
	logger zerolog.Logger,
) *DispatchWorker {
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &DispatchWorker{
		jobs:     jobs,
		creds:    creds,
		gateway:  gateway,
		events:   events,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start validates the schedule, runs one tick immediately and then on every
// cron firing until ctx is done. Ticks may overlap; ClaimNextDue keeps them from
// taking the same job.
func (w *DispatchWorker) Start(ctx context.Context) error {
	c := cron.New(cron.WithLogger(logger.CronLogger{L: w.logger}))
	if _, err := c.AddFunc(w.schedule, func() { w.Tick(ctx) }); err != nil {
		return fmt.Errorf("invalid dispatch schedule %q: %w", w.schedule, err)
	}

	go func() {
		w.logger.Info().Str("schedule", w.schedule).Msg("dispatch worker started")
		defer w.stopOnce.Do(func() { close(w.done) })

		c.Start()
		w.Tick(ctx)

		<-ctx.Done()
		// ждём тики, которые ещё дорабатывают
		<-c.Stop().Done()
		w.logger.Info().Msg("dispatch worker stopped")
	}()
	return nil
}

// Done is closed once the worker has stopped and no tick is running.
func (w *DispatchWorker) Done() <-chan struct{} { return w.done }

// Tick drains every job that is due at the tick's start time.
func (w *DispatchWorker) Tick(ctx context.Context) TickReport {
	start := time.Now()
	now := w.now().UTC()

	var (
		rep   TickReport
		retry []models.ScheduledMessage
	)

	for {
		job, ok, err := w.jobs.ClaimNextDue(ctx, now)
		if err != nil {
			rep.Err = err
			metrics.IncDispatchTickError()
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("claim next due message failed, ending tick")
			}
			break
		}
		if !ok {
			break
		}

		rep.Claimed++
		metrics.IncDispatchClaimed()
		metrics.ObserveDispatchLag(now.Sub(job.SendAt))

		if w.dispatch(ctx, job) {
			rep.Delivered++
			continue
		}
		// failed jobs stay locked until the drain ends so this tick cannot claim them again
		retry = append(retry, job)
	}

	if len(retry) > 0 {
		w.releaseAll(context.WithoutCancel(ctx), retry)
		rep.Retried = len(retry)
	}

	metrics.ObserveDispatchTick(time.Since(start))
	if rep.Claimed > 0 {
		w.logger.Info().
			Int("claimed", rep.Claimed).
			Int("delivered", rep.Delivered).
			Int("retried", rep.Retried).
			Dur("took", time.Since(start)).
			Msg("dispatch tick finished")
	}
	return rep
}

// dispatch sends one claimed job and reports whether it was delivered.
func (w *DispatchWorker) dispatch(ctx context.Context, job models.ScheduledMessage) bool {
	l := w.logger.With().
		Str("message_id", job.ID).
		Str("workspace", job.Workspace).
		Str("channel_id", job.ChannelID).
		Logger()

	res, err := w.send(ctx, job)
	if err != nil {
		outcome := outcomeOf(err)
		metrics.IncDispatchRetried(outcome)
		switch outcome {
		case models.OutcomeCredentialMissing, models.OutcomeGatewayRejected:
			l.Warn().Err(err).Msg("message not delivered, will retry next tick")
		default:
			l.Error().Err(err).Msg("message not delivered, will retry next tick")
		}
		w.publish(ctx, job, outcome, err.Error(), "")
		return false
	}

	// сообщение уже в Slack: удаляем даже если контекст тика отменён
	if err := w.jobs.MarkDelivered(context.WithoutCancel(ctx), job.ID); err != nil {
		// не снимаем lock, иначе сообщение уйдёт повторно
		l.Error().Err(err).Str("ts", res.MessageTS).Msg("message delivered but not retired, leaving it locked")
	} else {
		l.Info().Str("ts", res.MessageTS).Msg("scheduled message delivered")
	}
	metrics.IncDispatchDelivered()
	w.publish(ctx, job, models.OutcomeDelivered, "", res.MessageTS)
	return true
}

func (w *DispatchWorker) send(ctx context.Context, job models.ScheduledMessage) (models.DeliveryResult, error) {
	cred, found, err := w.creds.Resolve(ctx, job.Workspace)
	if err != nil {
		return models.DeliveryResult{}, fmt.Errorf("resolve credential: %w", err)
	}
	if !found {
		return models.DeliveryResult{}, fmt.Errorf("%w: %s", ErrCredentialMissing, job.Workspace)
	}

	res, err := w.gateway.Deliver(ctx, cred.AccessToken, job.ChannelID, job.Message)
	if err != nil {
		return models.DeliveryResult{}, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	if !res.OK {
		return res, fmt.Errorf("%w: %s", ErrGatewayRejected, res.ErrorDetail)
	}
	return res, nil
}

// releaseAll goes through Release: a job whose lease ran out during a long tick may
// already belong to another tick.
func (w *DispatchWorker) releaseAll(ctx context.Context, jobs []models.ScheduledMessage) {
	for _, job := range jobs {
		if err := w.jobs.Release(ctx, job); err != nil {
			w.logger.Error().Err(err).Str("message_id", job.ID).Msg("unlock failed, message stays locked")
		}
	}
}

func (w *DispatchWorker) publish(ctx context.Context, job models.ScheduledMessage, outcome, errDetail, ts string) {
	if w.events == nil {
		return
	}
	ev := models.DeliveryEvent{
		MessageID:   job.ID,
		Workspace:   job.Workspace,
		ChannelID:   job.ChannelID,
		Outcome:     outcome,
		Error:       errDetail,
		MessageTS:   ts,
		SendAt:      job.SendAt,
		AttemptedAt: w.now().UTC(),
	}
	if err := w.events.PublishDeliveryEvent(context.WithoutCancel(ctx), ev); err != nil {
		w.logger.Warn().Err(err).Str("message_id", job.ID).Msg("publish delivery event failed")
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrCredentialMissing):
		return models.OutcomeCredentialMissing
	case errors.Is(err, ErrGatewayRejected):
		return models.OutcomeGatewayRejected
	case errors.Is(err, ErrGatewayUnreachable):
		return models.OutcomeGatewayError
	default:
		return models.OutcomeStoreError
	}
}
