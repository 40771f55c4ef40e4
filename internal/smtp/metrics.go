package smtp

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Singleton metrics instance
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// Metrics holds all Prometheus metrics for the capture server
type Metrics struct {
	// Session metrics
	SessionsTotal  prometheus.Counter
	SessionsActive prometheus.Gauge
	TLSSessions    prometheus.Counter

	// Message metrics
	MessagesReceived prometheus.Counter
	MessagesRejected prometheus.Counter
	MessageSize      prometheus.Histogram
	Recipients       prometheus.Histogram
}

// GetMetrics returns the singleton metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailfixture_capture_sessions_total",
			Help: "Total number of SMTP sessions accepted by the capture server",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mailfixture_capture_sessions_active",
			Help: "Number of open SMTP sessions",
		}),
		TLSSessions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailfixture_capture_tls_messages_total",
			Help: "Total number of messages received over a STARTTLS-upgraded session",
		}),

		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailfixture_capture_messages_received_total",
			Help: "Total number of messages captured",
		}),
		MessagesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailfixture_capture_messages_rejected_total",
			Help: "Total number of messages that could not be parsed or stored",
		}),
		MessageSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailfixture_capture_message_size_bytes",
			Help:    "Size of captured messages in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024},
		}),
		Recipients: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailfixture_capture_recipients_per_message",
			Help:    "Number of envelope recipients per captured message",
			Buckets: []float64{1, 2, 5, 10, 50},
		}),
	}
}
