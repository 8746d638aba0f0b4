package contentstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects store operation counters.
type Metrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	bytesWritten *prometheus.CounterVec
}

// NewMetrics creates the store metrics and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "contentstore",
				Name:      "operations_total",
				Help:      "Total number of content store operations",
			},
			[]string{"op", "backend", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "contentstore",
				Name:      "operation_duration_seconds",
				Help:      "Content store operation duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"op", "backend"},
		),
		bytesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "contentstore",
				Name:      "bytes_written_total",
				Help:      "Total number of content bytes committed",
			},
			[]string{"backend"},
		),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.operations, m.duration, m.bytesWritten} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Result labels
const (
	resultOK     = "ok"
	resultAbsent = "absent"
	resultError  = "error"
)

func (m *Metrics) observe(op, backend, result string, started time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, backend, result).Inc()
	m.duration.WithLabelValues(op, backend).Observe(time.Since(started).Seconds())
}

func (m *Metrics) written(backend string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.WithLabelValues(backend).Add(float64(n))
}
