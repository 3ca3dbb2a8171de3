// Package metrics defines the Prometheus metrics exported by the node.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
)

// Check labels
const (
	CheckAnnouncement = "announcement"
	CheckBlockWork    = "block_work"
)

// ResultOK labels a successful validation
const ResultOK = "OK"

// Metrics holds the node's collectors
type Metrics struct {
	validations        *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	storedAnns         prometheus.Counter
	peers              prometheus.Gauge
	p2pMessages        *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		validations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "packetcrypt",
				Name:      "validation_total",
				Help:      "Number of validations by check and result",
			},
			[]string{"check", "result"},
		),
		validationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "packetcrypt",
				Name:      "validation_duration_seconds",
				Help:      "Validation duration in seconds",
				Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
			[]string{"check"},
		),
		storedAnns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "packetcrypt",
				Name:      "announcements_stored_total",
				Help:      "Number of accepted announcements written to storage",
			},
		),
		peers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "packetcrypt",
				Subsystem: "p2p",
				Name:      "peers",
				Help:      "Number of connected peers",
			},
		),
		p2pMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "packetcrypt",
				Subsystem: "p2p",
				Name:      "messages_total",
				Help:      "Gossip messages by direction and type",
			},
			[]string{"direction", "type"},
		),
	}
}

// ResultLabel maps a validation outcome to its result label
func ResultLabel(err error) string {
	if err == nil {
		return ResultOK
	}
	kind, ok := ruleerrors.KindOf(err)
	if !ok {
		return ruleerrors.KindUnknown.String()
	}
	return kind.String()
}

// ObserveValidation records the outcome and duration of one check
func (m *Metrics) ObserveValidation(check string, started time.Time, err error) {
	m.validations.WithLabelValues(check, ResultLabel(err)).Inc()
	m.validationDuration.WithLabelValues(check).Observe(time.Since(started).Seconds())
}

// AnnouncementStored counts a newly stored announcement
func (m *Metrics) AnnouncementStored() {
	m.storedAnns.Inc()
}

// SetPeers sets the connected peer count
func (m *Metrics) SetPeers(n int) {
	m.peers.Set(float64(n))
}

// P2PMessage counts a gossip message; direction is "in" or "out"
func (m *Metrics) P2PMessage(direction, msgType string) {
	m.p2pMessages.WithLabelValues(direction, msgType).Inc()
}
