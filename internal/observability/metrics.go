package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "glovelink"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	framesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "events_received_total",
			Help:      "Decoded server events by kind.",
		},
		[]string{"kind"},
	)
	framesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "requests_sent_total",
			Help:      "Requests handed to the transport by kind.",
		},
		[]string{"kind"},
	)
	decodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "decode_errors_total",
			Help:      "Payloads that could not be decoded.",
		},
	)
	failureReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "failure_replies_total",
			Help:      "Failure replies by request kind.",
		},
		[]string{"request"},
	)
	unknownTokens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "unknown_tokens_total",
			Help:      "Replies whose correlation token was not pending.",
		},
	)
	expiredRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "expired_requests_total",
			Help:      "Pending requests dropped after the request timeout.",
		},
		[]string{"request"},
	)
	resets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "resets_total",
			Help:      "Session resets by reason.",
		},
		[]string{"reason"},
	)
	linkState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "state",
			Help:      "Link state: 0 connecting, 1 handshaking, 2 device setup, 3 streaming.",
		},
	)
	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply.",
		},
	)
	deviceStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "devices",
			Name:      "by_state",
			Help:      "Known devices by provisioning state.",
		},
		[]string{"state"},
	)
	deviceBattery = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "devices",
			Name:      "battery_percent",
			Help:      "Last reported battery level.",
		},
		[]string{"device"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesIn, framesOut, decodeErrors, failureReplies, unknownTokens, expiredRequests, resets,
			linkState, pendingRequests, deviceStates, deviceBattery,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordEventIn(kind string) {
	RegisterMetrics()
	framesIn.WithLabelValues(kind).Inc()
}

func RecordRequestOut(kind string) {
	RegisterMetrics()
	framesOut.WithLabelValues(kind).Inc()
}

func RecordDecodeError() {
	RegisterMetrics()
	decodeErrors.Inc()
}

func RecordFailureReply(request string) {
	RegisterMetrics()
	failureReplies.WithLabelValues(request).Inc()
}

func RecordUnknownToken() {
	RegisterMetrics()
	unknownTokens.Inc()
}

func RecordExpiredRequest(request string) {
	RegisterMetrics()
	expiredRequests.WithLabelValues(request).Inc()
}

func RecordReset(reason string) {
	RegisterMetrics()
	resets.WithLabelValues(reason).Inc()
}

func SetLinkState(state int) {
	RegisterMetrics()
	linkState.Set(float64(state))
}

func SetPendingRequests(n int) {
	RegisterMetrics()
	pendingRequests.Set(float64(n))
}

// SetDeviceStates replaces the per-state device counts.
func SetDeviceStates(counts map[string]int) {
	RegisterMetrics()
	deviceStates.Reset()
	for state, n := range counts {
		deviceStates.WithLabelValues(state).Set(float64(n))
	}
}

func SetDeviceBattery(device uint64, percent uint8) {
	RegisterMetrics()
	deviceBattery.WithLabelValues(strconv.FormatUint(device, 10)).Set(float64(percent))
}
