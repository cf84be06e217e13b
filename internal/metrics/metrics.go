package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	// Kafka
	kafkaMessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kafka_messages_sent_total",
			Help: "Total number of Kafka messages successfully sent.",
		},
	)
	kafkaMessagesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kafka_messages_processed_total",
			Help: "Total number of Kafka messages successfully processed.",
		},
	)
	kafkaErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_errors_total",
			Help: "Total number of Kafka-related errors.",
		},
		[]string{"component", "operation"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (high watermark - current offset - 1).",
		},
		[]string{"topic", "partition"},
	)

	// Business
	messagesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_scheduled_total",
			Help: "Total number of messages accepted for deferred delivery.",
		},
	)
	messagesCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_cancelled_total",
			Help: "Total number of scheduled messages cancelled before delivery.",
		},
	)
	messagesSentNow = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_sent_immediately_total",
			Help: "Immediate sends by outcome.",
		},
		[]string{"outcome"},
	)

	// Dispatch
	dispatchClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_messages_claimed_total",
			Help: "Total number of scheduled messages claimed by the dispatch worker.",
		},
	)
	dispatchDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_messages_delivered_total",
			Help: "Total number of scheduled messages delivered and removed.",
		},
	)
	dispatchRetried = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_retried_total",
			Help: "Total number of claimed messages returned to the queue, by reason.",
		},
		[]string{"reason"},
	)
	dispatchTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_tick_duration_seconds",
			Help:    "Time spent draining due messages in one tick (seconds).",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	dispatchTickErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_tick_errors_total",
			Help: "Ticks that ended early because the job store failed.",
		},
	)
	dispatchLagSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_lag_seconds",
			Help:    "Delay between a message's send time and its delivery attempt (seconds).",
			Buckets: []float64{1, 5, 15, 30, 60, 90, 120, 300, 600, 1800, 3600},
		},
	)
	dispatchJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_jobs",
			Help: "Current number of scheduled messages by state.",
		},
		[]string{"state"}, // pending, locked, overdue
	)

	// Slack
	slackRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slack_api_requests_total",
			Help: "Slack Web API calls by method and result.",
		},
		[]string{"method", "result"},
	)
	slackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slack_api_request_duration_seconds",
			Help:    "Slack Web API call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,

			kafkaMessagesSent,
			kafkaMessagesProcessed,
			kafkaErrors,
			kafkaConsumerLag,

			messagesScheduled,
			messagesCancelled,
			messagesSentNow,

			dispatchClaimed,
			dispatchDelivered,
			dispatchRetried,
			dispatchTickDuration,
			dispatchTickErrors,
			dispatchLagSeconds,
			dispatchJobs,

			slackRequests,
			slackDuration,
		)
		registerRedisMetrics()
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// --- HTTP ---
func ObserveHTTPRequest(method, route, code string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// --- Kafka ---
func IncKafkaSent()      { kafkaMessagesSent.Inc() }
func IncKafkaProcessed() { kafkaMessagesProcessed.Inc() }
func IncKafkaError(component, operation string) {
	kafkaErrors.WithLabelValues(component, operation).Inc()
}
func SetKafkaConsumerLag(topic string, partition int32, lag int64) {
	if lag < 0 {
		lag = 0
	}
	kafkaConsumerLag.WithLabelValues(topic, itoa32(partition)).Set(float64(lag))
}

// --- Business ---
func IncMessagesScheduled()             { messagesScheduled.Inc() }
func IncMessagesCancelled()             { messagesCancelled.Inc() }
func IncMessagesSentNow(outcome string) { messagesSentNow.WithLabelValues(outcome).Inc() }

// --- Dispatch ---
func IncDispatchClaimed()                 { dispatchClaimed.Inc() }
func IncDispatchDelivered()               { dispatchDelivered.Inc() }
func IncDispatchRetried(reason string)    { dispatchRetried.WithLabelValues(reason).Inc() }
func IncDispatchTickError()               { dispatchTickErrors.Inc() }
func ObserveDispatchTick(d time.Duration) { dispatchTickDuration.Observe(d.Seconds()) }
func ObserveDispatchLag(d time.Duration) {
	sec := d.Seconds()
	if sec < 0 {
		sec = 0
	}
	dispatchLagSeconds.Observe(sec)
}

// --- Gauges (stats collector) ---
func SetDispatchJobs(pending, locked, overdue int64) {
	dispatchJobs.WithLabelValues("pending").Set(float64(max0(pending)))
	dispatchJobs.WithLabelValues("locked").Set(float64(max0(locked)))
	dispatchJobs.WithLabelValues("overdue").Set(float64(max0(overdue)))
}

// --- Slack ---
func ObserveSlackRequest(method, result string, d time.Duration) {
	slackRequests.WithLabelValues(method, result).Inc()
	slackDuration.WithLabelValues(method).Observe(d.Seconds())
}

// helpers
func max0(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func itoa32(v int32) string { return fmtInt(int64(v)) }

func fmtInt(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [32]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
