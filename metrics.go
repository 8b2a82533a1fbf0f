package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wisp/internal/directory"
)

// metricsCollector exposes Directory.Stats() as Prometheus gauges/counters.
// It implements prometheus.Collector directly rather than registering
// pre-built metric objects, since the underlying numbers live in the
// Directory's own atomic counters and RWMutex-guarded maps, not in
// metric-shaped fields this type would otherwise have to keep in sync.
type metricsCollector struct {
	dir *directory.Directory

	sessions          *prometheus.Desc
	channels          *prometheus.Desc
	messagesBroadcast *prometheus.Desc
	messagesEvicted   *prometheus.Desc
	sessionsExpired   *prometheus.Desc
}

func newMetricsCollector(dir *directory.Directory) *metricsCollector {
	return &metricsCollector{
		dir:               dir,
		sessions:          prometheus.NewDesc("wisp_sessions", "Current connected sessions.", nil, nil),
		channels:          prometheus.NewDesc("wisp_channels", "Current live channels.", nil, nil),
		messagesBroadcast: prometheus.NewDesc("wisp_messages_broadcast_total", "Messages broadcast since start.", nil, nil),
		messagesEvicted:   prometheus.NewDesc("wisp_messages_evicted_total", "Messages evicted by TTL/secure-delete since start.", nil, nil),
		sessionsExpired:   prometheus.NewDesc("wisp_sessions_expired_total", "Sessions expired by inactivity since start.", nil, nil),
	}
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessions
	ch <- c.channels
	ch <- c.messagesBroadcast
	ch <- c.messagesEvicted
	ch <- c.sessionsExpired
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.dir.Stats()
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(s.Sessions))
	ch <- prometheus.MustNewConstMetric(c.channels, prometheus.GaugeValue, float64(s.Channels))
	ch <- prometheus.MustNewConstMetric(c.messagesBroadcast, prometheus.CounterValue, float64(s.MessagesBroadcast))
	ch <- prometheus.MustNewConstMetric(c.messagesEvicted, prometheus.CounterValue, float64(s.MessagesEvicted))
	ch <- prometheus.MustNewConstMetric(c.sessionsExpired, prometheus.CounterValue, float64(s.SessionsExpired))
}

// RunMetrics serves /metrics on addr until ctx is canceled. It does not
// carry any chat traffic; it lives on its own side port.
func RunMetrics(ctx context.Context, dir *directory.Directory, addr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newMetricsCollector(dir))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	slog.Info("metrics listening", "addr", addr)
	err := srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
