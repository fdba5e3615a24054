package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRelays          = promauto.NewGauge(prometheus.GaugeOpts{Name: "portfwd_active_relays", Help: "Currently active forwarded connections"})
	RelayEstablishedTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "portfwd_relay_established_total", Help: "Relays established"})
	RelayRejectedTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portfwd_relay_rejected_total", Help: "Client connections rejected by reason"}, []string{"reason"})
	BytesForwardedTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portfwd_bytes_forwarded_total", Help: "Bytes forwarded by direction"}, []string{"direction"})
	RelayDurationSeconds  = promauto.NewHistogram(prometheus.HistogramOpts{Name: "portfwd_relay_duration_seconds", Help: "Relay lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
	ErrorsTotal           = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portfwd_errors_total", Help: "Errors by type"}, []string{"type"})
)
