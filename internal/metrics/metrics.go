package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExtensionCounter returns extension counts grouped by phone type.
type ExtensionCounter interface {
	CountByType(ctx context.Context) (map[string]int64, error)
}

// OnlineCounter returns the number of endpoints with a live registration.
type OnlineCounter interface {
	CountOnline(ctx context.Context) (int64, error)
}

// PeerCounter returns the number of established federation peers.
type PeerCounter interface {
	Count(ctx context.Context) (int64, error)
}

// SessionCounter exposes the number of active browser phones.
type SessionCounter interface {
	Active() int
}

// Collector is a prometheus.Collector that gathers uURU metrics at scrape time.
type Collector struct {
	extensions ExtensionCounter
	online     OnlineCounter
	peers      PeerCounter
	websip     SessionCounter
	startTime  time.Time

	extensionsDesc *prometheus.Desc
	onlineDesc     *prometheus.Desc
	peersDesc      *prometheus.Desc
	websipDesc     *prometheus.Desc
	uptimeDesc     *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	extensions ExtensionCounter,
	online OnlineCounter,
	peers PeerCounter,
	websip SessionCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		extensions: extensions,
		online:     online,
		peers:      peers,
		websip:     websip,
		startTime:  startTime,

		extensionsDesc: prometheus.NewDesc(
			"uuru_extensions",
			"Number of registered extensions",
			[]string{"type"}, nil,
		),
		onlineDesc: prometheus.NewDesc(
			"uuru_extensions_online",
			"Number of SIP endpoints with a live contact",
			nil, nil,
		),
		peersDesc: prometheus.NewDesc(
			"uuru_federation_peers",
			"Number of established federation peers",
			nil, nil,
		),
		websipDesc: prometheus.NewDesc(
			"uuru_websip_sessions",
			"Number of active browser phone extensions",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"uuru_uptime_seconds",
			"Seconds since the uURU process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.extensionsDesc
	ch <- c.onlineDesc
	ch <- c.peersDesc
	ch <- c.websipDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.extensions != nil {
		counts, err := c.extensions.CountByType(ctx)
		if err != nil {
			slog.Error("metrics: failed to count extensions", "error", err)
		} else {
			for t, n := range counts {
				ch <- prometheus.MustNewConstMetric(c.extensionsDesc, prometheus.GaugeValue, float64(n), t)
			}
		}
	}

	if c.online != nil {
		n, err := c.online.CountOnline(ctx)
		if err != nil {
			slog.Error("metrics: failed to count online endpoints", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(c.onlineDesc, prometheus.GaugeValue, float64(n))
		}
	}

	if c.peers != nil {
		n, err := c.peers.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count peers", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(c.peersDesc, prometheus.GaugeValue, float64(n))
		}
	}

	if c.websip != nil {
		ch <- prometheus.MustNewConstMetric(c.websipDesc, prometheus.GaugeValue, float64(c.websip.Active()))
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
