package metrics

import (
	"net/http"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	_ HubRecorder   = (*PrometheusRecorder)(nil)
	_ QueueRecorder = (*PrometheusRecorder)(nil)
)

const namespace = "overlay"

// PrometheusRecorder implements HubRecorder and QueueRecorder using Prometheus metrics.
type PrometheusRecorder struct {
	once        sync.Once
	connections prom.Gauge
	streams     prom.Gauge
	delivered   *prom.CounterVec
	dropped     *prom.CounterVec
	rejected    *prom.CounterVec
	queueDepth  prom.Gauge
	enqueued    *prom.CounterVec
	suppressed  *prom.CounterVec
	evicted     prom.Counter
	malformed   prom.Counter
	reconnects  prom.Counter
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.connections = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_connections",
			Help:      "Viewer connections attached to this node",
		})
		pr.streams = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_streams",
			Help:      "Stream rooms alive on this node",
		})
		pr.delivered = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "hub_delivered_total",
			Help:      "Events handed to viewer connections by kind",
		}, []string{"kind"})
		pr.dropped = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "hub_dropped_total",
			Help:      "Events dropped before reaching a viewer by reason",
		}, []string{"reason"})
		pr.rejected = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "hub_rejected_total",
			Help:      "Viewer frames rejected as malformed by kind",
		}, []string{"kind"})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending notifications in the viewer queue",
		})
		pr.enqueued = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Notifications accepted by kind",
		}, []string{"kind"})
		pr.suppressed = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "queue_duplicates_suppressed_total",
			Help:      "Notifications suppressed by the de-duplication window by kind",
		}, []string{"kind"})
		pr.evicted = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "queue_evicted_total",
			Help:      "Pending notifications evicted by the queue bound",
		})
		pr.malformed = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "bus_malformed_total",
			Help:      "Inbound frames dropped by the event bus adapter",
		})
		pr.reconnects = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnects_total",
			Help:      "Transport reconnect attempts",
		})
		reg.MustRegister(pr.connections, pr.streams, pr.delivered, pr.dropped, pr.rejected,
			pr.queueDepth, pr.enqueued, pr.suppressed, pr.evicted, pr.malformed, pr.reconnects)
	})
	return pr
}

func (p *PrometheusRecorder) SetConnections(n int)         { p.connections.Set(float64(n)) }
func (p *PrometheusRecorder) SetStreams(n int)             { p.streams.Set(float64(n)) }
func (p *PrometheusRecorder) IncDelivered(kind string)     { p.delivered.WithLabelValues(kind).Inc() }
func (p *PrometheusRecorder) IncDropped(reason DropReason) { p.dropped.WithLabelValues(string(reason)).Inc() }
func (p *PrometheusRecorder) IncRejected(kind string)      { p.rejected.WithLabelValues(kind).Inc() }
func (p *PrometheusRecorder) SetQueueDepth(n int)          { p.queueDepth.Set(float64(n)) }
func (p *PrometheusRecorder) IncEnqueued(kind string)      { p.enqueued.WithLabelValues(kind).Inc() }
func (p *PrometheusRecorder) IncSuppressed(kind string)    { p.suppressed.WithLabelValues(kind).Inc() }
func (p *PrometheusRecorder) IncEvicted()                  { p.evicted.Inc() }
func (p *PrometheusRecorder) IncMalformed()                { p.malformed.Inc() }
func (p *PrometheusRecorder) IncReconnects()               { p.reconnects.Inc() }

// HTTPHandler returns an http.Handler that serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
