package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	redisRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_requests_total",
			Help: "Total number of Redis requests",
		},
		[]string{"operation"}, // get, set, delete
	)

	redisErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total number of Redis errors",
		},
		[]string{"operation"},
	)

	// время ответа Redis
	redisRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_request_duration_seconds",
			Help:    "Redis request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	redisCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "redis_cache_size_bytes",
			Help: "Approximate size of Redis cache (if available)",
		},
	)

	credentialCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_cache_hits_total",
			Help: "Workspace token lookups served from the cache",
		},
	)
	credentialCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_cache_misses_total",
			Help: "Workspace token lookups that fell through to the store",
		},
	)
	credentialCacheInvalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_cache_invalidations_total",
			Help: "Cached workspace tokens dropped after re-authorization",
		},
	)
)

var redisRegisterOnce sync.Once

// вызывается из Register()
func registerRedisMetrics() {
	redisRegisterOnce.Do(func() {
		prometheus.MustRegister(
			redisRequestsTotal,
			redisErrorsTotal,
			redisRequestDuration,
			redisCacheSize,
			credentialCacheHits,
			credentialCacheMisses,
			credentialCacheInvalidations,
		)
	})
}

func IncRedisRequest(op string) {
	redisRequestsTotal.WithLabelValues(op).Inc()
}

func IncRedisError(op string) {
	redisErrorsTotal.WithLabelValues(op).Inc()
}

func ObserveRedisDuration(op string, d time.Duration) {
	redisRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

func SetRedisCacheSizeBytes(n int64) {
	redisCacheSize.Set(float64(max0(n)))
}

func IncCredentialCacheHit()          { credentialCacheHits.Inc() }
func IncCredentialCacheMiss()         { credentialCacheMisses.Inc() }
func IncCredentialCacheInvalidation() { credentialCacheInvalidations.Inc() }
