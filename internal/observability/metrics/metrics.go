package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	authenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Credential verification attempts.",
		},
		[]string{"service", "method", "result"},
	)

	messagesStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_stored_total",
			Help: "Total number of stored messages.",
		},
		[]string{"service", "kind"},
	)

	messageAttachmentCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messages_attachment_count",
			Help:    "Number of attachments per stored message.",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		},
		[]string{"service"},
	)

	messageSendDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_send_duration_seconds",
			Help:    "Duration of the send path from validation to fan-out.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "result"},
	)

	messageHistoryFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_history_fetched_total",
			Help: "Total number of history fetch operations.",
		},
		[]string{"service", "scope"},
	)

	fanoutDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_deliveries_total",
			Help: "Events handed to live connections.",
		},
		[]string{"service", "event"},
	)

	fanoutFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_failures_total",
			Help: "Per-connection delivery failures during fan-out.",
		},
		[]string{"service", "event"},
	)

	liveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "live_connections",
			Help: "Currently registered live connections.",
		},
		[]string{"service"},
	)

	onlineUsers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "online_users",
			Help: "Users with at least one live connection.",
		},
		[]string{"service"},
	)

	blobUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blob_uploads_total",
			Help: "Attachment uploads by backend and result.",
		},
		[]string{"service", "backend", "result"},
	)
)

// Curried views used by the rest of the module. They carry service="dmchat"
// until MustRegister re-curries them.
var (
	HTTPRequestsTotal           *prometheus.CounterVec
	HTTPRequestDurationSeconds  prometheus.ObserverVec
	AuthenticationAttemptsTotal *prometheus.CounterVec
	MessagesStoredTotal         *prometheus.CounterVec
	MessageAttachmentCount      prometheus.ObserverVec
	MessageSendDurationSeconds  prometheus.ObserverVec
	MessageHistoryFetchedTotal  *prometheus.CounterVec
	FanoutDeliveriesTotal       *prometheus.CounterVec
	FanoutFailuresTotal         *prometheus.CounterVec
	LiveConnections             *prometheus.GaugeVec
	OnlineUsers                 *prometheus.GaugeVec
	BlobUploadsTotal            *prometheus.CounterVec
)

func init() {
	curryAll("dmchat")
}

func curryAll(serviceName string) {
	curry := prometheus.Labels{"service": serviceName}
	HTTPRequestsTotal = httpRequestsTotal.MustCurryWith(curry)
	HTTPRequestDurationSeconds = httpRequestDurationSeconds.MustCurryWith(curry)
	AuthenticationAttemptsTotal = authenticationAttemptsTotal.MustCurryWith(curry)
	MessagesStoredTotal = messagesStoredTotal.MustCurryWith(curry)
	MessageAttachmentCount = messageAttachmentCount.MustCurryWith(curry)
	MessageSendDurationSeconds = messageSendDurationSeconds.MustCurryWith(curry)
	MessageHistoryFetchedTotal = messageHistoryFetchedTotal.MustCurryWith(curry)
	FanoutDeliveriesTotal = fanoutDeliveriesTotal.MustCurryWith(curry)
	FanoutFailuresTotal = fanoutFailuresTotal.MustCurryWith(curry)
	LiveConnections = liveConnections.MustCurryWith(curry)
	OnlineUsers = onlineUsers.MustCurryWith(curry)
	BlobUploadsTotal = blobUploadsTotal.MustCurryWith(curry)
}

var registerOnce sync.Once

// MustRegister curries every vector with the service name and registers them
// with the default registry. Subsequent calls are no-ops.
func MustRegister(serviceName string) {
	registerOnce.Do(func() {
		curryAll(serviceName)
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDurationSeconds,
			authenticationAttemptsTotal,
			messagesStoredTotal,
			messageAttachmentCount,
			messageSendDurationSeconds,
			messageHistoryFetchedTotal,
			fanoutDeliveriesTotal,
			fanoutFailuresTotal,
			liveConnections,
			onlineUsers,
			blobUploadsTotal,
		)
	})
}
