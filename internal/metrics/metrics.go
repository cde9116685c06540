// Package metrics exposes the Prometheus text endpoint named in spec §6
// (FEDIS_METRICS_ADDR): a custom prometheus.Collector pulling live values
// out of the command stat registry, the keyspace, and the AOF writer,
// served with promhttp the way canonical-redis_exporter's Exporter type
// does (exporter/exporter.go: a custom Collector registered against a
// prometheus.Registry, served via promhttp.HandlerFor on its own mux).
package metrics

import (
	"context"
	"net/http"

	"github.com/lassejlv/fedis/internal/aof"
	"github.com/lassejlv/fedis/internal/command"
	"github.com/lassejlv/fedis/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sources collects the live collaborators Collect reads from. AOF and
// ConnectedClients are optional: a nil AOF writer or nil getter simply
// omits that series, mirroring how persistence and the listener itself
// are optional subsystems (spec §1, §6).
type Sources struct {
	Stats            *command.StatRegistry
	Store            *store.Store
	AOF              *aof.Writer
	ConnectedClients func() int64
}

// Collector implements prometheus.Collector over Sources.
type Collector struct {
	src Sources

	commandCalls  *prometheus.Desc
	commandMicros *prometheus.Desc
	keyCount      *prometheus.Desc
	aofQueueDepth *prometheus.Desc
	connectedConn *prometheus.Desc
}

// NewCollector builds a Collector reading from src at scrape time.
func NewCollector(src Sources) *Collector {
	return &Collector{
		src: src,
		commandCalls: prometheus.NewDesc(
			"fedis_command_calls_total", "Number of times a command verb was dispatched.",
			[]string{"command"}, nil),
		commandMicros: prometheus.NewDesc(
			"fedis_command_microseconds_total", "Cumulative handler execution time per command verb, in microseconds.",
			[]string{"command"}, nil),
		keyCount: prometheus.NewDesc(
			"fedis_keys", "Number of live keys in the keyspace.", nil, nil),
		aofQueueDepth: prometheus.NewDesc(
			"fedis_aof_queue_depth", "Number of AOF records currently buffered for write.", nil, nil),
		connectedConn: prometheus.NewDesc(
			"fedis_connected_clients", "Number of currently connected client sockets.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.commandCalls
	ch <- c.commandMicros
	ch <- c.keyCount
	ch <- c.aofQueueDepth
	ch <- c.connectedConn
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for verb, counts := range c.src.Stats.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.commandCalls, prometheus.CounterValue, float64(counts[0]), verb)
		ch <- prometheus.MustNewConstMetric(c.commandMicros, prometheus.CounterValue, float64(counts[1]), verb)
	}
	ch <- prometheus.MustNewConstMetric(c.keyCount, prometheus.GaugeValue, float64(c.src.Store.DBSize()))
	if c.src.AOF != nil {
		ch <- prometheus.MustNewConstMetric(c.aofQueueDepth, prometheus.GaugeValue, float64(c.src.AOF.QueueDepth()))
	}
	if c.src.ConnectedClients != nil {
		ch <- prometheus.MustNewConstMetric(c.connectedConn, prometheus.GaugeValue, float64(c.src.ConnectedClients()))
	}
}

// Server wraps the metrics HTTP listener (spec §5's "metrics HTTP server"
// task) so cmd/fedis-server can start and gracefully stop it alongside
// the connection listener.
type Server struct {
	httpSrv *http.Server
}

// NewServer builds the metrics HTTP server bound to addr, rendering
// Collector's series at "/metrics".
func NewServer(addr string, collector *Collector) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}))

	return &Server{httpSrv: &http.Server{Addr: addr, Handler: mux}}
}

// ListenAndServe runs the metrics listener until Shutdown is called.
func (s *Server) ListenAndServe() error {
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the metrics listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
