package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slack_scheduler/internal/cache"
	"slack_scheduler/internal/config"
	"slack_scheduler/internal/handlers"
	"slack_scheduler/internal/kafka"
	"slack_scheduler/internal/logger"
	"slack_scheduler/internal/metrics"
	"slack_scheduler/internal/repository"
	"slack_scheduler/internal/service"
	"slack_scheduler/internal/slackapi"

	"github.com/rs/zerolog"
)

type stores struct {
	jobs  service.JobStore
	creds service.CredentialStore
	close func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------- config ----------
	cfg, err := config.Load()
	if err != nil {
		// логгера ещё нет
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config")
	}

	// ---------- logger ----------
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("store", cfg.StoreDriver).Str("addr", cfg.HTTPAddr).Msg("starting slack scheduler")

	metrics.Register()

	// ---------- storage ----------
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open store")
	}
	defer st.close()

	// ---------- credential cache ----------
	var (
		resolver    service.CredentialResolver = st.creds
		invalidator service.CredentialInvalidator
	)
	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rc.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis")
		}
		defer rc.Close()

		cc := cache.NewCredentialCache(st.creds, rc, cfg.CredentialCacheTTL, logger.Component(log, "credential_cache"))
		resolver, invalidator = cc, cc
		cache.StartRedisSizeCollector(ctx, rc.RawClient(), cfg.MetricsInterval, logger.Component(log, "redis_size"))
	}

	// ---------- slack ----------
	slackClient, err := slackapi.NewClient(slackapi.Config{
		APIURL:       cfg.SlackAPIURL,
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		RedirectURI:  cfg.SlackRedirectURI,
		Scopes:       cfg.SlackScopes,
		RatePerSec:   cfg.SlackRatePerSec,
		RateBurst:    cfg.SlackRateBurst,
		HTTPTimeout:  cfg.SlackHTTPTimeout,
	}, logger.Component(log, "slack"))
	if err != nil {
		log.Fatal().Err(err).Msg("slack client")
	}

	// ---------- services ----------
	scheduler := service.NewSchedulerService(st.jobs, resolver, slackClient, slackClient, logger.Component(log, "scheduler"))
	oauth := service.NewOAuthService(slackClient, st.creds, invalidator, cfg.OAuthEnabled(), logger.Component(log, "oauth"))

	// ---------- kafka ----------
	var events service.EventPublisher
	if cfg.KafkaEnabled() && cfg.KafkaDeliveryTopic != "" {
		producer, err := kafka.NewSyncProducer(cfg.KafkaBrokers, cfg.KafkaDeliveryTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("kafka producer")
		}
		defer producer.Close()
		events = producer
	}
	if cfg.KafkaEnabled() && cfg.KafkaScheduleTopic != "" {
		consumer, err := kafka.NewConsumer(
			cfg.KafkaBrokers,
			cfg.KafkaGroupID,
			cfg.KafkaScheduleTopic,
			scheduler,
			logger.Component(log, "kafka_consumer"),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("kafka consumer")
		}
		defer consumer.Close()

		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("kafka consumer stopped")
			}
		}()
	}

	// ---------- dispatch worker ----------
	var worker *service.DispatchWorker
	if cfg.DispatchEnabled {
		worker = service.NewDispatchWorker(st.jobs, resolver, slackClient, events, cfg.DispatchSchedule, logger.Component(log, "dispatch"))
		if err := worker.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("dispatch worker")
		}
	} else {
		log.Warn().Msg("dispatch worker disabled, scheduled messages will not be sent")
	}

	metrics.StartJobStatsCollector(ctx, st.jobs, cfg.MetricsInterval, logger.Component(log, "job_stats"))

	// ---------- http ----------
	router := handlers.NewRouter(
		handlers.NewMessageHandler(scheduler, logger.Component(log, "http")),
		handlers.NewAuthHandler(oauth, logger.Component(log, "http")),
		logger.Component(log, "http"),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if worker != nil {
		select {
		case <-worker.Done():
		case <-shutdownCtx.Done():
			log.Warn().Msg("dispatch tick still running at shutdown, its jobs stay locked until the lease expires")
		}
	}
	log.Info().Msg("bye")
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		client, db, err := repository.NewMongoDatabase(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return stores{}, err
		}
		if err := repository.EnsureMongoIndexes(ctx, db); err != nil {
			_ = client.Disconnect(context.Background())
			return stores{}, err
		}
		return stores{
			jobs:  repository.NewMongoJobRepository(db, cfg.DispatchLeaseTTL),
			creds: repository.NewMongoCredentialRepository(db),
			close: func() { _ = client.Disconnect(context.Background()) },
		}, nil

	case config.StoreDriverMemory:
		log.Warn().Msg("memory store: scheduled messages are lost on restart")
		return stores{
			jobs:  repository.NewMemoryJobStore(cfg.DispatchLeaseTTL),
			creds: repository.NewMemoryCredentialStore(),
			close: func() {},
		}, nil

	default:
		pool, err := repository.NewPool(ctx, cfg.DBDSN, cfg.DBMaxConns)
		if err != nil {
			return stores{}, err
		}
		if err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return stores{}, err
		}
		return stores{
			jobs:  repository.NewJobRepository(pool, cfg.DispatchLeaseTTL),
			creds: repository.NewCredentialRepository(pool),
			close: pool.Close,
		}, nil
	}
}
