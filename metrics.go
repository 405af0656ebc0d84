package remotesync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors a Session reports to. A nil
// *Metrics records nothing.
type Metrics struct {
	sessions      *prometheus.CounterVec
	transfers     *prometheus.CounterVec
	transferBytes *prometheus.CounterVec
	listed        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		sessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotesync_sessions_total",
				Help: "Total number of session authentication attempts",
			},
			[]string{"protocol", "result"},
		),
		transfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotesync_transfers_total",
				Help: "Total number of file transfers and deletions",
			},
			[]string{"direction", "protocol", "result"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotesync_transfer_bytes_total",
				Help: "Total bytes moved between local and remote",
			},
			[]string{"direction", "protocol"},
		),
		listed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotesync_listed_entries_total",
				Help: "Total number of files reported by directory listings",
			},
			[]string{"source"},
		),
	}
}

func (m *Metrics) recordSession(protocol Protocol, err error) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(string(protocol), result(err)).Inc()
}

func (m *Metrics) recordTransfer(direction string, protocol Protocol, bytes int64, err error) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(direction, string(protocol), result(err)).Inc()
	if err == nil && bytes > 0 {
		m.transferBytes.WithLabelValues(direction, string(protocol)).Add(float64(bytes))
	}
}

func (m *Metrics) recordListing(source Source, n int) {
	if m == nil {
		return
	}
	m.listed.WithLabelValues(source.String()).Add(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
