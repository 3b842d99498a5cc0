// Package metrics exposes Prometheus collectors for the recorder's
// operational state and a small HTTP surface to serve them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the daemon reports. Construct with New and
// register it with a *prometheus.Registry before serving /metrics.
type Metrics struct {
	ChannelsLive      prometheus.Gauge
	ChannelsRecording prometheus.Gauge
	BytesWrittenTotal *prometheus.CounterVec
	StallRestarts     *prometheus.CounterVec
	WorkerDeaths      *prometheus.CounterVec
	SessionRefreshes  prometheus.Counter
	SessionRefreshFailures prometheus.Counter
	PollErrors        *prometheus.CounterVec
}

// New builds a Metrics with every collector initialized but not yet
// registered.
func New() *Metrics {
	return &Metrics{
		ChannelsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chzzkrecd",
			Name:      "channels_live",
			Help:      "Number of target channels currently observed live.",
		}),
		ChannelsRecording: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chzzkrecd",
			Name:      "channels_recording",
			Help:      "Number of channels with an active recording worker.",
		}),
		BytesWrittenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chzzkrecd",
			Name:      "bytes_written_total",
			Help:      "Cumulative bytes appended to output files, per channel.",
		}, []string{"channel"}),
		StallRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chzzkrecd",
			Name:      "stall_restarts_total",
			Help:      "Count of stall-triggered worker restarts, per channel.",
		}, []string{"channel"}),
		WorkerDeaths: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chzzkrecd",
			Name:      "worker_deaths_total",
			Help:      "Count of downloader workers that exited, per channel and reason.",
		}, []string{"channel", "reason"}),
		SessionRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chzzkrecd",
			Name:      "session_refreshes_total",
			Help:      "Count of successful session cookie refreshes.",
		}),
		SessionRefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chzzkrecd",
			Name:      "session_refresh_failures_total",
			Help:      "Count of failed session cookie refresh attempts.",
		}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chzzkrecd",
			Name:      "poll_errors_total",
			Help:      "Count of live-detail poll errors, per channel.",
		}, []string{"channel"}),
	}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate-registration programmer error.
func (m *Metrics) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		m.ChannelsLive,
		m.ChannelsRecording,
		m.BytesWrittenTotal,
		m.StallRestarts,
		m.WorkerDeaths,
		m.SessionRefreshes,
		m.SessionRefreshFailures,
		m.PollErrors,
	)
}
