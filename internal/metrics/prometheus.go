package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type promCollector struct {
	accepted prometheus.Counter
	rejected prometheus.Counter
	closed   *prometheus.CounterVec
	active   prometheus.Gauge
	tasks    *prometheus.CounterVec
	ticks    prometheus.Counter
	evicted  prometheus.Counter
}

// NewPrometheus 在reg上注册指标并返回对应的Collector
func NewPrometheus(reg prometheus.Registerer) Collector {
	f := promauto.With(reg)
	return &promCollector{
		accepted: f.NewCounter(prometheus.CounterOpts{
			Name: "shlhttp_connections_accepted_total",
			Help: "Connections accepted and added to the connection table",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Name: "shlhttp_connections_rejected_total",
			Help: "Connections dropped because the connection cap was reached",
		}),
		closed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shlhttp_connections_closed_total",
			Help: "Connections closed by reason",
		}, []string{"reason"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "shlhttp_connections_active",
			Help: "Connections currently in the connection table",
		}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shlhttp_worker_tasks_submitted_total",
			Help: "Tasks submitted to the worker pool by kind",
		}, []string{"kind"}),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "shlhttp_timewheel_ticks_total",
			Help: "Timing wheel ticks processed",
		}),
		evicted: f.NewCounter(prometheus.CounterOpts{
			Name: "shlhttp_timewheel_expired_total",
			Help: "Idle timers that expired",
		}),
	}
}

func (c *promCollector) ConnAccepted()             { c.accepted.Inc() }
func (c *promCollector) ConnRejected()             { c.rejected.Inc() }
func (c *promCollector) ConnClosed(reason string)  { c.closed.WithLabelValues(reason).Inc() }
func (c *promCollector) ActiveConns(n int)         { c.active.Set(float64(n)) }
func (c *promCollector) TaskSubmitted(kind string) { c.tasks.WithLabelValues(kind).Inc() }

func (c *promCollector) Tick(expired int) {
	c.ticks.Inc()
	c.evicted.Add(float64(expired))
}

// Handler 导出reg中指标的HTTP handler
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
