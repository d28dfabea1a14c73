// Package health provides health checking and metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check is a function that returns a health check result
type Check func(ctx context.Context) CheckResult

// CheckResult is the result of a health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the JSON response for the health endpoint
type HealthResponse struct {
	Status    Status                  `json:"status"`
	Timestamp string                  `json:"timestamp"`
	Uptime    string                  `json:"uptime"`
	Checks    map[string]CheckResult  `json:"checks,omitempty"`
}

// Metrics holds runtime metrics
type Metrics struct {
	RequestsTotal    uint64 `json:"requests_total"`
	RequestsSuccess  uint64 `json:"requests_success"`
	RequestsError    uint64 `json:"requests_error"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	ToolCallsTotal   uint64 `json:"tool_calls_total"`
	ToolCallsSuccess uint64 `json:"tool_calls_success"`
	ToolCallsError   uint64 `json:"tool_calls_error"`

	// Gauges supplied on demand via GaugeFuncs rather than tracked atomically,
	// since they reflect the current state of other components rather than
	// counting events.
	ActiveSandboxes int `json:"active_sandboxes"`
	PendingApprovals int `json:"pending_approvals"`
}

// GaugeFuncs let the caller wire in live state from other components
// (the sandbox manager, the approval queue) without this package importing
// them directly.
type GaugeFuncs struct {
	ActiveSandboxes func() int
	PendingApprovals func() int
}

// MetricsResponse is the JSON response for the metrics endpoint
type MetricsResponse struct {
	Timestamp string  `json:"timestamp"`
	Uptime    string  `json:"uptime"`
	Metrics   Metrics `json:"metrics"`
}

// Server provides health check and metrics endpoints
type Server struct {
	mu        sync.RWMutex
	checks    map[string]Check
	startTime time.Time
	addr      string
	server    *http.Server
	gauges    GaugeFuncs

	// Metrics counters (atomic)
	requestsTotal    uint64
	requestsSuccess  uint64
	requestsError    uint64
	messagesReceived uint64
	messagesSent     uint64
	toolCallsTotal   uint64
	toolCallsSuccess uint64
	toolCallsError   uint64
}

// NewServer creates a new health/metrics server
func NewServer(addr string) *Server {
	s := &Server{
		checks:    make(map[string]Check),
		startTime: time.Now(),
		addr:      addr,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth) // k8s style
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/readyz", s.handleReady) // k8s style
	mux.HandleFunc("/metrics", s.handleMetrics)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	return s
}

// RegisterCheck registers a health check
func (s *Server) RegisterCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// SetGauges wires live-state accessors for the point-in-time gauges reported
// alongside the accumulated counters.
func (s *Server) SetGauges(g GaugeFuncs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges = g
}

func (s *Server) snapshotGauges() (activeSandboxes, pendingApprovals int) {
	s.mu.RLock()
	g := s.gauges
	s.mu.RUnlock()
	if g.ActiveSandboxes != nil {
		activeSandboxes = g.ActiveSandboxes()
	}
	if g.PendingApprovals != nil {
		pendingApprovals = g.PendingApprovals()
	}
	return
}

// Start starts the health server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth returns the overall health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]Check, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()

	// Run all health checks
	results := make(map[string]CheckResult)
	overallStatus := StatusHealthy

	for name, check := range checks {
		result := check(ctx)
		results[name] = result

		// Determine worst status
		if result.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		} else if result.Status == StatusDegraded && overallStatus != StatusUnhealthy {
			overallStatus = StatusDegraded
		}
	}

	resp := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    results,
	}

	w.Header().Set("Content-Type", "application/json")
	if overallStatus == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

// handleReady returns readiness (simpler than health)
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ready",
	})
}

// handleMetrics returns Prometheus-style metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	// Accept header check for JSON vs Prometheus format
	accept := r.Header.Get("Accept")

	activeSandboxes, pendingApprovals := s.snapshotGauges()
	metrics := Metrics{
		RequestsTotal:    atomic.LoadUint64(&s.requestsTotal),
		RequestsSuccess:  atomic.LoadUint64(&s.requestsSuccess),
		RequestsError:    atomic.LoadUint64(&s.requestsError),
		MessagesReceived: atomic.LoadUint64(&s.messagesReceived),
		MessagesSent:     atomic.LoadUint64(&s.messagesSent),
		ToolCallsTotal:   atomic.LoadUint64(&s.toolCallsTotal),
		ToolCallsSuccess: atomic.LoadUint64(&s.toolCallsSuccess),
		ToolCallsError:   atomic.LoadUint64(&s.toolCallsError),
		ActiveSandboxes:  activeSandboxes,
		PendingApprovals: pendingApprovals,
	}

	if accept == "application/json" || r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(MetricsResponse{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(s.startTime).Round(time.Second).String(),
			Metrics:   metrics,
		})
		return
	}

	// Prometheus format
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	uptime := time.Since(s.startTime).Seconds()
	fmt.Fprintf(w, "# HELP sandboxbot_uptime_seconds Time since server start\n")
	fmt.Fprintf(w, "# TYPE sandboxbot_uptime_seconds gauge\n")
	fmt.Fprintf(w, "sandboxbot_uptime_seconds %.2f\n\n", uptime)

	fmt.Fprintf(w, "# HELP sandboxbot_requests_total Total number of requests\n")
	fmt.Fprintf(w, "# TYPE sandboxbot_requests_total counter\n")
	fmt.Fprintf(w, "sandboxbot_requests_total %d\n\n", metrics.RequestsTotal)

	fmt.Fprintf(w, "# HELP sandboxbot_requests_success Successful requests\n")
	fmt.Fprintf(w, "# TYPE sandboxbot_requests_success counter\n")
	fmt.Fprintf(w, "sandboxbot_requests_success %d\n\n", metrics.RequestsSuccess)

	fmt.Fprintf(w, "# HELP sandboxbot_requests_error Failed requests\n")
	fmt.Fprintf(w, "# TYPE sandboxbot_requests_error counter\n")
	fmt.Fprintf(w, "sandboxbot_requests_error %d\n\n", metrics.RequestsError)

	fmt.Fprintf(w, "# HELP sandboxbot_messages_received Messages received\n")
	fmt.Fprintf(w, "# TYPE sandboxbot_messages_received counter\n")
	fmt.Fprintf(w, "sandboxbot_messages_received %d\n\n", metrics.MessagesReceived)

	fmt.Fprintf(w, "# HELP sandboxbot_messages_sent Messages sent\n")
	fmt.Fprintf(w, "# TYPE sandboxbot_messages_sent counter\n")
	fmt.Fprintf(w, "sandboxbot_messages_sent %d\n\n", metrics.MessagesSent)

	fmt.Fprintf(w, "# HELP sandboxbot_tool_calls_total Total tool calls\n")
	fmt.Fprintf(w, "# TYPE sandboxbot_tool_calls_total counter\n")
	fmt.Fprintf(w, "sandboxbot_tool_calls_total %d\n\n", metrics.ToolCallsTotal)

	fmt.Fprintf(w, "# HELP sandboxbot_tool_calls_success Successful tool calls\n")
	fmt.Fprintf(w, "# TYPE sandboxbot_tool_calls_success counter\n")
	fmt.Fprintf(w, "sandboxbot_tool_calls_success %d\n\n", metrics.ToolCallsSuccess)

	fmt.Fprintf(w, "# HELP sandboxbot_tool_calls_error Failed tool calls\n")
	fmt.Fprintf(w, "# TYPE sandboxbot_tool_calls_error counter\n")
	fmt.Fprintf(w, "sandboxbot_tool_calls_error %d\n\n", metrics.ToolCallsError)

	fmt.Fprintf(w, "# HELP sandboxbot_active_sandboxes Users with a live sandbox container\n")
	fmt.Fprintf(w, "# TYPE sandboxbot_active_sandboxes gauge\n")
	fmt.Fprintf(w, "sandboxbot_active_sandboxes %d\n\n", metrics.ActiveSandboxes)

	fmt.Fprintf(w, "# HELP sandboxbot_pending_approvals Commands awaiting user approval\n")
	fmt.Fprintf(w, "# TYPE sandboxbot_pending_approvals gauge\n")
	fmt.Fprintf(w, "sandboxbot_pending_approvals %d\n", metrics.PendingApprovals)
}

// Metric recording methods

// RecordRequest records a request
func (s *Server) RecordRequest(success bool) {
	atomic.AddUint64(&s.requestsTotal, 1)
	if success {
		atomic.AddUint64(&s.requestsSuccess, 1)
	} else {
		atomic.AddUint64(&s.requestsError, 1)
	}
}

// RecordMessage records a message
func (s *Server) RecordMessage(sent bool) {
	if sent {
		atomic.AddUint64(&s.messagesSent, 1)
	} else {
		atomic.AddUint64(&s.messagesReceived, 1)
	}
}

// RecordToolCall records a tool call
func (s *Server) RecordToolCall(success bool) {
	atomic.AddUint64(&s.toolCallsTotal, 1)
	if success {
		atomic.AddUint64(&s.toolCallsSuccess, 1)
	} else {
		atomic.AddUint64(&s.toolCallsError, 1)
	}
}

// GetMetrics returns current metrics snapshot
func (s *Server) GetMetrics() Metrics {
	activeSandboxes, pendingApprovals := s.snapshotGauges()
	return Metrics{
		RequestsTotal:    atomic.LoadUint64(&s.requestsTotal),
		RequestsSuccess:  atomic.LoadUint64(&s.requestsSuccess),
		RequestsError:    atomic.LoadUint64(&s.requestsError),
		MessagesReceived: atomic.LoadUint64(&s.messagesReceived),
		MessagesSent:     atomic.LoadUint64(&s.messagesSent),
		ToolCallsTotal:   atomic.LoadUint64(&s.toolCallsTotal),
		ToolCallsSuccess: atomic.LoadUint64(&s.toolCallsSuccess),
		ToolCallsError:   atomic.LoadUint64(&s.toolCallsError),
		ActiveSandboxes:  activeSandboxes,
		PendingApprovals: pendingApprovals,
	}
}
