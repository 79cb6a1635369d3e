// Package metrics exports engine counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"torrentsready/internal/trd"
)

// Prometheus implements trd.Metrics on its own registry so several instances
// can coexist in one process.
type Prometheus struct {
	registry *prometheus.Registry

	Ingestions      *prometheus.CounterVec
	ReconcileCycles prometheus.Counter
	ContentsReady   prometheus.Counter
	Deliveries      *prometheus.CounterVec
	ActiveTorrents  prometheus.Gauge
}

var _ trd.Metrics = (*Prometheus)(nil)

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Prometheus{
		registry: reg,
		Ingestions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trd_ingestions_total",
			Help: "Magnet or torrent-file submissions by result",
		}, []string{"result"}),
		ReconcileCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "trd_reconcile_cycles_total",
			Help: "Completed reconciliation passes",
		}),
		ContentsReady: f.NewCounter(prometheus.CounterOpts{
			Name: "trd_contents_ready_total",
			Help: "Files observed fully downloaded",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trd_deliveries_total",
			Help: "Delivery attempts by outcome",
		}, []string{"outcome"}),
		ActiveTorrents: f.NewGauge(prometheus.GaugeOpts{
			Name: "trd_active_torrents",
			Help: "Torrents currently being downloaded for someone",
		}),
	}
}

func (p *Prometheus) IngestionFinished(result string) {
	p.Ingestions.WithLabelValues(result).Inc()
}

func (p *Prometheus) ReconcileCycleFinished() {
	p.ReconcileCycles.Inc()
}

func (p *Prometheus) ContentReady() {
	p.ContentsReady.Inc()
}

func (p *Prometheus) DeliveryFinished(outcome trd.Outcome) {
	p.Deliveries.WithLabelValues(outcome.String()).Inc()
}

func (p *Prometheus) SetActiveTorrents(n int) {
	p.ActiveTorrents.Set(float64(n))
}

// Handler serves the registry for scraping.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
