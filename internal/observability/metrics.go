package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentErrorsTotal *prometheus.CounterVec
	agentTurns       *prometheus.HistogramVec
	providerCooldown *prometheus.GaugeVec

	mcpConnectTotal    *prometheus.CounterVec
	mcpActiveSessions  prometheus.Gauge
	mcpCallTotal       *prometheus.CounterVec
	mcpCallDuration    *prometheus.HistogramVec
	serverToolRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_errors_total",
					Help: "Total agent errors by provider.",
				},
				[]string{"provider"},
			),
			agentTurns: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_turns",
					Help:    "Model turns used per agent run.",
					Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
				},
				[]string{"provider"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "provider_cooldown_active",
					Help: "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
			mcpConnectTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcp_connect_total",
					Help: "MCP session connect attempts by server, transport and status.",
				},
				[]string{"server", "transport", "status"},
			),
			mcpActiveSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "mcp_active_sessions",
					Help: "Currently open MCP client sessions.",
				},
			),
			mcpCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcp_call_total",
					Help: "MCP requests by server, method and status.",
				},
				[]string{"server", "method", "status"},
			),
			mcpCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mcp_call_duration_seconds",
					Help:    "MCP request duration in seconds by server and method.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"server", "method"},
			),
			serverToolRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcp_server_tool_requests_total",
					Help: "Tool requests handled by the bundled MCP servers.",
				},
				[]string{"server", "tool", "status"},
			),
		}

		prometheus.MustRegister(
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentErrorsTotal,
			m.agentTurns,
			m.providerCooldown,
			m.mcpConnectTotal,
			m.mcpActiveSessions,
			m.mcpCallTotal,
			m.mcpCallDuration,
			m.serverToolRequests,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordAgentRun(provider string, duration time.Duration, turns int, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if turns > 0 {
		m.agentTurns.WithLabelValues(provider).Observe(float64(turns))
	}
	if !success {
		m.agentErrorsTotal.WithLabelValues(provider).Inc()
	}
}

func SetProviderCooldown(provider string, active bool) {
	m := getMetrics()
	value := 0.0
	if active {
		value = 1.0
	}
	m.providerCooldown.WithLabelValues(provider).Set(value)
}

// RecordMCPConnect counts a session connect attempt and tracks open sessions.
func RecordMCPConnect(server, transport string, success bool) {
	m := getMetrics()
	m.mcpConnectTotal.WithLabelValues(server, transport, statusLabel(success)).Inc()
	if success {
		m.mcpActiveSessions.Inc()
	}
}

// RecordMCPDisconnect marks one session as closed.
func RecordMCPDisconnect() {
	getMetrics().mcpActiveSessions.Dec()
}

func RecordMCPCall(server, method string, duration time.Duration, success bool) {
	m := getMetrics()
	m.mcpCallTotal.WithLabelValues(server, method, statusLabel(success)).Inc()
	m.mcpCallDuration.WithLabelValues(server, method).Observe(duration.Seconds())
}

// RecordServerToolRequest is used by the bundled MCP servers.
func RecordServerToolRequest(server, tool string, success bool) {
	getMetrics().serverToolRequests.WithLabelValues(server, tool, statusLabel(success)).Inc()
}
