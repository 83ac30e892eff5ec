package observability

import (
	"errors"
	"sync"

	"github.com/danmuck/voltshift/internal/broker"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "voltshift",
			Subsystem: "broker",
			Name:      "sessions_active",
			Help:      "Open client sessions.",
		},
	)
	sessionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voltshift",
			Subsystem: "broker",
			Name:      "session_rejections_total",
			Help:      "Session requests refused, by reason.",
		},
		[]string{"reason"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voltshift",
			Subsystem: "broker",
			Name:      "dispatch_total",
			Help:      "Session operations, by operation and result.",
		},
		[]string{"op", "result"},
	)
	mailboxOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voltshift",
			Subsystem: "mailbox",
			Name:      "operations_total",
			Help:      "OC mailbox transactions, by operation and result.",
		},
		[]string{"op", "result"},
	)
	mailboxAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voltshift",
			Subsystem: "mailbox",
			Name:      "poll_attempts",
			Help:      "Poll attempts per OC mailbox transaction.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{"op"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(sessionsActive, sessionRejections, dispatches, mailboxOps, mailboxAttempts)
	})
}

// BrokerMetrics feeds broker events into the process metrics.
type BrokerMetrics struct{}

var _ broker.Observer = BrokerMetrics{}

func NewBrokerMetrics() BrokerMetrics {
	RegisterMetrics()
	return BrokerMetrics{}
}

func (BrokerMetrics) SessionsActive(n int) {
	sessionsActive.Set(float64(n))
}

func (BrokerMetrics) SessionRejected(reason string) {
	sessionRejections.WithLabelValues(reason).Inc()
}

func (BrokerMetrics) Dispatched(op string, err error) {
	dispatches.WithLabelValues(op, resultLabel(err)).Inc()
}

func (BrokerMetrics) MailboxDone(op string, attempts int, err error) {
	mailboxOps.WithLabelValues(op, resultLabel(err)).Inc()
	mailboxAttempts.WithLabelValues(op).Observe(float64(attempts))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, mailbox.ErrTimeout):
		return "timeout"
	case errors.Is(err, mailbox.ErrMailboxStatus):
		return "status"
	default:
		return "error"
	}
}
