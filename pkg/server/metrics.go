package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metric descriptors for the game server. Each
// server has its own registry.
type Metrics struct {
	srv      *Server
	registry *prometheus.Registry

	sessions         *prometheus.GaugeVec
	roomsTotal       prometheus.Gauge
	connectionsTotal *prometheus.CounterVec
	commandsTotal    prometheus.Counter
	unknownCommands  prometheus.Counter
	loginsTotal      *prometheus.CounterVec
	accountsCreated  prometheus.Counter
	bytesSentTotal   prometheus.Counter
	bytesRecvTotal   prometheus.Counter
	uptimeSeconds    prometheus.Gauge
	goroutines       prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics for srv.
func NewMetrics(srv *Server) *Metrics {
	m := &Metrics{
		srv:      srv,
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mud_sessions",
			Help: "Number of current sessions by transport and mode.",
		}, []string{"transport", "mode"}),
		roomsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mud_rooms_total",
			Help: "Number of rooms in the world.",
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mud_connections_total",
			Help: "Total connections since server start.",
		}, []string{"transport"}),
		commandsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mud_commands_processed_total",
			Help: "Total gameplay lines processed since server start.",
		}),
		unknownCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mud_commands_unknown_total",
			Help: "Gameplay lines that matched no granted verb or alias.",
		}),
		loginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mud_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		accountsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mud_accounts_created_total",
			Help: "Accounts created since server start.",
		}),
		bytesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mud_bytes_sent_total",
			Help: "Total bytes sent to closed sessions.",
		}),
		bytesRecvTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mud_bytes_received_total",
			Help: "Total bytes received from clients.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mud_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mud_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.sessions,
		m.roomsTotal,
		m.connectionsTotal,
		m.commandsTotal,
		m.unknownCommands,
		m.loginsTotal,
		m.accountsCreated,
		m.bytesSentTotal,
		m.bytesRecvTotal,
		m.uptimeSeconds,
		m.goroutines,
	)
	return m
}

// Update refreshes the gauges from current server state.
func (m *Metrics) Update() {
	m.sessions.Reset()
	for _, sess := range m.srv.Sessions() {
		m.sessions.WithLabelValues(sess.Transport().String(), sess.Mode().String()).Inc()
	}
	if m.srv.World != nil {
		m.roomsTotal.Set(float64(m.srv.World.RoomCount()))
	}
	m.uptimeSeconds.Set(time.Since(m.srv.startTime).Seconds())
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates gauges and serves metrics.
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		inner.ServeHTTP(w, r)
	})
}
