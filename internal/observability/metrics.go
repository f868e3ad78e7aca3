package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	ResultOK = "ok"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "route", "target", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pipectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "route", "target", "status"},
	)
	controlMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipectl",
			Subsystem: "control",
			Name:      "messages_total",
			Help:      "Pipe control messages by direction and result.",
		},
		[]string{"direction", "result"},
	)
	appMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipectl",
			Subsystem: "router",
			Name:      "app_messages_total",
			Help:      "Interface messages routed to handlers.",
		},
		[]string{"routed"},
	)
	pipesOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pipectl",
			Subsystem: "pipe",
			Name:      "opened_total",
			Help:      "Pipes opened.",
		},
	)
	pipesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipectl",
			Subsystem: "pipe",
			Name:      "closed_total",
			Help:      "Pipes closed by cause.",
		},
		[]string{"cause"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, controlMessages, appMessages, pipesOpened, pipesClosed)
	})
}

// RecordHTTPRequest records one admin request. target is TargetHost,
// TargetPipe or TargetEndpoint.
func RecordHTTPRequest(node, method, route, target string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, route, target, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, route, target, statusLabel).Observe(duration.Seconds())
}

// RecordControlMessage counts one control message. result is ResultOK or an
// error kind name.
func RecordControlMessage(direction, result string) {
	RegisterMetrics()
	controlMessages.WithLabelValues(direction, result).Inc()
}

func RecordAppMessage(routed bool) {
	RegisterMetrics()
	appMessages.WithLabelValues(strconv.FormatBool(routed)).Inc()
}

func RecordPipeOpened() {
	RegisterMetrics()
	pipesOpened.Inc()
}

func RecordPipeClosed(cause string) {
	RegisterMetrics()
	pipesClosed.WithLabelValues(cause).Inc()
}
