package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers process-wide request metrics and health state.
// Counters are lock-free atomics; the per-endpoint map and the health
// record each sit behind a single writer lock with read-mostly access.
type Collector struct {
	requestsTotal    atomic.Uint64
	requestsInFlight atomic.Uint64
	requestsFailed   atomic.Uint64
	requestBytes     atomic.Uint64
	responseBytes    atomic.Uint64
	latencySumMs     atomic.Uint64
	latencyCount     atomic.Uint64

	epMu      sync.RWMutex
	endpoints map[string]*endpointMetrics

	healthMu sync.RWMutex
	health   HealthStatus

	startTime time.Time
}

type endpointMetrics struct {
	requests     uint64
	errors       uint64
	latencySumMs uint64
	latencyCount uint64
}

// HealthStatus is the overall health record.
type HealthStatus struct {
	Healthy      bool                        `json:"healthy"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}

// DependencyStatus is the observed health of one dependency.
type DependencyStatus struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	LatencyMs uint64 `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// NewCollector creates a collector with healthy initial state.
func NewCollector() *Collector {
	return &Collector{
		endpoints: make(map[string]*endpointMetrics),
		health:    HealthStatus{Healthy: true, Dependencies: make(map[string]DependencyStatus)},
		startTime: time.Now(),
	}
}

// RecordRequestStart counts an arriving request.
func (c *Collector) RecordRequestStart(endpoint string, requestBytes int) {
	c.requestsTotal.Add(1)
	c.requestsInFlight.Add(1)
	if requestBytes > 0 {
		c.requestBytes.Add(uint64(requestBytes))
	}
}

// RecordRequestComplete counts a finished request.
func (c *Collector) RecordRequestComplete(endpoint string, d time.Duration, responseBytes int, success bool) {
	c.requestsInFlight.Add(^uint64(0))
	if responseBytes > 0 {
		c.responseBytes.Add(uint64(responseBytes))
	}

	latencyMs := uint64(d.Milliseconds())
	c.latencySumMs.Add(latencyMs)
	c.latencyCount.Add(1)
	if !success {
		c.requestsFailed.Add(1)
	}

	c.epMu.Lock()
	m := c.endpoints[endpoint]
	if m == nil {
		m = &endpointMetrics{}
		c.endpoints[endpoint] = m
	}
	m.requests++
	m.latencySumMs += latencyMs
	m.latencyCount++
	if !success {
		m.errors++
	}
	c.epMu.Unlock()
}

// UpdateHealth replaces the health record.
func (c *Collector) UpdateHealth(healthy bool, deps map[string]DependencyStatus) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.health.Healthy = healthy
	c.health.Dependencies = deps
}

// Health delivers a copy of the health record.
func (c *Collector) Health() HealthStatus {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	deps := make(map[string]DependencyStatus, len(c.health.Dependencies))
	for k, v := range c.health.Dependencies {
		deps[k] = v
	}
	return HealthStatus{Healthy: c.health.Healthy, Dependencies: deps}
}

// CheckDependency probes one dependency and records its latency and any
// error.
func CheckDependency(ctx context.Context, name string, probe func(ctx context.Context) error) DependencyStatus {
	begin := time.Now()
	status := DependencyStatus{Name: name, Healthy: true}
	if err := probe(ctx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
	}
	status.LatencyMs = uint64(time.Since(begin).Milliseconds())
	return status
}

func (c *Collector) meanLatencyMs() float64 {
	count := c.latencyCount.Load()
	if count == 0 {
		return 0
	}
	return float64(c.latencySumMs.Load()) / float64(count)
}

// ExportText renders a text exposition with HELP/TYPE directives.
func (c *Collector) ExportText() string {
	var b strings.Builder

	counter := func(name, help string, value uint64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value)
	}
	gauge := func(name, help, value string) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %s\n", name, help, name, name, value)
	}

	counter("quill_requests_total", "Total number of requests", c.requestsTotal.Load())
	gauge("quill_requests_in_flight", "Current number of requests being processed",
		fmt.Sprintf("%d", c.requestsInFlight.Load()))
	counter("quill_requests_failed_total", "Total number of failed requests", c.requestsFailed.Load())
	gauge("quill_request_duration_ms", "Average request duration in milliseconds",
		fmt.Sprintf("%.2f", c.meanLatencyMs()))
	counter("quill_request_bytes_total", "Total request bytes received", c.requestBytes.Load())
	counter("quill_response_bytes_total", "Total response bytes sent", c.responseBytes.Load())
	counter("quill_uptime_seconds", "Server uptime in seconds", uint64(time.Since(c.startTime).Seconds()))

	c.epMu.RLock()
	names := make([]string, 0, len(c.endpoints))
	for name := range c.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		b.WriteString("# HELP quill_endpoint_requests_total Requests per endpoint\n")
		b.WriteString("# TYPE quill_endpoint_requests_total counter\n")
		for _, name := range names {
			fmt.Fprintf(&b, "quill_endpoint_requests_total{endpoint=%q} %d\n", name, c.endpoints[name].requests)
		}
		b.WriteString("# HELP quill_endpoint_errors_total Errors per endpoint\n")
		b.WriteString("# TYPE quill_endpoint_errors_total counter\n")
		for _, name := range names {
			fmt.Fprintf(&b, "quill_endpoint_errors_total{endpoint=%q} %d\n", name, c.endpoints[name].errors)
		}
		b.WriteString("# HELP quill_endpoint_latency_ms Average latency per endpoint\n")
		b.WriteString("# TYPE quill_endpoint_latency_ms gauge\n")
		for _, name := range names {
			m := c.endpoints[name]
			mean := 0.0
			if m.latencyCount > 0 {
				mean = float64(m.latencySumMs) / float64(m.latencyCount)
			}
			fmt.Fprintf(&b, "quill_endpoint_latency_ms{endpoint=%q} %.2f\n", name, mean)
		}
	}
	c.epMu.RUnlock()

	health := c.Health()
	healthValue := "0"
	if health.Healthy {
		healthValue = "1"
	}
	gauge("quill_health_status", "Overall health status (1=healthy, 0=unhealthy)", healthValue)

	if len(health.Dependencies) > 0 {
		b.WriteString("# HELP quill_dependency_health Dependency health status\n")
		b.WriteString("# TYPE quill_dependency_health gauge\n")
		depNames := make([]string, 0, len(health.Dependencies))
		for name := range health.Dependencies {
			depNames = append(depNames, name)
		}
		sort.Strings(depNames)
		for _, name := range depNames {
			v := 0
			if health.Dependencies[name].Healthy {
				v = 1
			}
			fmt.Fprintf(&b, "quill_dependency_health{dependency=%q} %d\n", name, v)
		}
	}

	return b.String()
}

type metricsJSON struct {
	Requests struct {
		Total    uint64 `json:"total"`
		InFlight uint64 `json:"in_flight"`
		Failed   uint64 `json:"failed"`
	} `json:"requests"`
	Latency struct {
		AverageMs float64 `json:"average_ms"`
	} `json:"latency"`
	Bytes struct {
		RequestTotal  uint64 `json:"request_total"`
		ResponseTotal uint64 `json:"response_total"`
	} `json:"bytes"`
	UptimeSeconds uint64             `json:"uptime_seconds"`
	Endpoints     []endpointJSON     `json:"endpoints"`
	Health        HealthStatus       `json:"health"`
}

type endpointJSON struct {
	Name             string  `json:"name"`
	Requests         uint64  `json:"requests"`
	Errors           uint64  `json:"errors"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// ExportJSON renders the same metrics grouped for machine consumption.
func (c *Collector) ExportJSON() ([]byte, error) {
	var out metricsJSON
	out.Requests.Total = c.requestsTotal.Load()
	out.Requests.InFlight = c.requestsInFlight.Load()
	out.Requests.Failed = c.requestsFailed.Load()
	out.Latency.AverageMs = c.meanLatencyMs()
	out.Bytes.RequestTotal = c.requestBytes.Load()
	out.Bytes.ResponseTotal = c.responseBytes.Load()
	out.UptimeSeconds = uint64(time.Since(c.startTime).Seconds())

	c.epMu.RLock()
	names := make([]string, 0, len(c.endpoints))
	for name := range c.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	out.Endpoints = make([]endpointJSON, 0, len(names))
	for _, name := range names {
		m := c.endpoints[name]
		mean := 0.0
		if m.latencyCount > 0 {
			mean = float64(m.latencySumMs) / float64(m.latencyCount)
		}
		out.Endpoints = append(out.Endpoints, endpointJSON{
			Name:             name,
			Requests:         m.requests,
			Errors:           m.errors,
			AverageLatencyMs: mean,
		})
	}
	c.epMu.RUnlock()

	out.Health = c.Health()
	return json.Marshal(out)
}

// MetricsHandler serves the text exposition.
func (c *Collector) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(c.ExportText()))
	})
}

// HealthHandler serves the health record as JSON; unhealthy state answers
// 503 so load balancers can act on it.
func (c *Collector) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := c.Health()
		w.Header().Set("Content-Type", "application/json")
		if !health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		body, err := json.Marshal(health)
		if err != nil {
			body = []byte("{}")
		}
		_, _ = w.Write(body)
	})
}
