package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swls"

var registry = prometheus.NewRegistry()

// depthCollector reads the queue depth totals at scrape time, one series per
// queue kind.
type depthCollector struct{ desc *prometheus.Desc }

func (d depthCollector) Describe(ch chan<- *prometheus.Desc) { ch <- d.desc }

func (d depthCollector) Collect(ch chan<- prometheus.Metric) {
	queueDepth.Range(func(k, v any) bool {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.GaugeValue,
			float64(v.(*atomic.Int64).Load()), k.(string))
		return true
	})
}

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(depthCollector{desc: prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "queue_depth"),
		"Items waiting across all live queues of a kind",
		[]string{"queue"}, nil,
	)})

	for _, c := range []struct {
		name, help string
		v          *atomic.Int64
	}{
		{"sessions_total", "Host sessions opened", &sessionsTotal},
		{"inbound_chunks_total", "Byte chunks injected by hosts", &inboundChunks},
		{"inbound_bytes_total", "Bytes injected by hosts", &inboundBytes},
		{"read_bytes_total", "Bytes consumed through the inbound adapter", &bytesRead},
		{"outbound_messages_total", "Messages produced by the outbound adapter", &outboundMessages},
		{"outbound_bytes_total", "Bytes produced by the outbound adapter", &outboundBytes},
		{"batches_applied_total", "Command batches flushed to the world", &batchesApplied},
		{"commands_applied_total", "Commands applied to the world", &commandsApplied},
		{"command_panics_total", "Commands that panicked while applied", &commandPanics},
		{"diagnostics_published_total", "Diagnostic reports published", &diagnosticsPublished},
		{"diagnostics_delivered_total", "Diagnostic reports delivered to the sink", &diagnosticsDelivered},
		{"diagnostics_failed_total", "Diagnostic reports the sink rejected", &diagnosticsFailed},
		{"rpc_requests_total", "JSON-RPC requests handled", &rpcRequests},
		{"rpc_errors_total", "JSON-RPC requests answered with an error", &rpcErrors},
		{"log_dropped_total", "Log writes dropped for invalid UTF-8", &logDropped},
	} {
		v := c.v
		registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(v.Load()) }))
	}
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Host sessions currently open",
	}, func() float64 { return float64(sessionsActive.Load()) }))
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
