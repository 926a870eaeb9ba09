package metrics

import (
	"sync"
	"time"
)

// Collector keeps in-process counters and latency samples
type Collector struct {
	mutex               sync.RWMutex
	counters            map[string]int64
	gauges              map[string]float64
	requestCounts       map[string]int64
	requestLatencies    map[string][]time.Duration
	commandCounts       map[string]int64
	commandLatencies    map[string][]time.Duration
	projectionCounts    map[string]int64
	databaseQueryCounts map[string]int64
	databaseLatencies   map[string][]time.Duration
	messageBusCounts    map[string]int64
	errorCounts         map[string]int64
	startTime           time.Time
	maxSamples          int
}

// Counter metrics
const (
	CounterHTTPRequests        = "http_requests_total"
	CounterHTTPRequestsSuccess = "http_requests_success_total"
	CounterHTTPRequestsError   = "http_requests_error_total"
	CounterCommandsAccepted    = "commands_accepted_total"
	CounterCommandsRejected    = "commands_rejected_total"
	CounterCommandsConflicted  = "commands_conflicted_total"
	CounterCommandsFailed      = "commands_failed_total"
	CounterProjectionsApplied  = "projections_applied_total"
	CounterProjectionsFailed   = "projections_failed_total"
	CounterMessagesReceived    = "messages_received_total"
	CounterMessagesProcessed   = "messages_processed_total"
	CounterMessagesError       = "messages_error_total"
	CounterDBQueriesTotal      = "db_queries_total"
	CounterDBQueriesError      = "db_queries_error_total"
	CounterErrorsTotal         = "errors_total"
)

// Gauge metrics
const (
	GaugeUndispatchedEvents = "undispatched_events"
)

// Command outcomes
const (
	CommandAccepted   = "accepted"
	CommandRejected   = "rejected"
	CommandConflicted = "conflicted"
	CommandFailed     = "failed"
)

// Database query types
const (
	DBQueryTypeSelect = "select"
	DBQueryTypeInsert = "insert"
	DBQueryTypeUpdate = "update"
	DBQueryTypeDelete = "delete"
)

// Message bus operations
const (
	MessageBusOperationReceive    = "receive"
	MessageBusOperationComplete   = "complete"
	MessageBusOperationAbandon    = "abandon"
	MessageBusOperationDeadLetter = "dead_letter"
)

// Error types
const (
	ErrorTypeHTTP       = "http"
	ErrorTypeDatabase   = "database"
	ErrorTypeProjection = "projection"
	ErrorTypeMessageBus = "message_bus"
)

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		counters:            make(map[string]int64),
		gauges:              make(map[string]float64),
		requestCounts:       make(map[string]int64),
		requestLatencies:    make(map[string][]time.Duration),
		commandCounts:       make(map[string]int64),
		commandLatencies:    make(map[string][]time.Duration),
		projectionCounts:    make(map[string]int64),
		databaseQueryCounts: make(map[string]int64),
		databaseLatencies:   make(map[string][]time.Duration),
		messageBusCounts:    make(map[string]int64),
		errorCounts:         make(map[string]int64),
		startTime:           time.Now(),
		maxSamples:          1000,
	}
}

// IncrementCounter increments a counter by the given value
func (m *Collector) IncrementCounter(name string, value int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters[name] += value
}

// SetGauge sets a gauge to the given value
func (m *Collector) SetGauge(name string, value float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.gauges[name] = value
}

// RecordHTTPRequest records metrics for an HTTP request
func (m *Collector) RecordHTTPRequest(path string, statusCode int, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.counters[CounterHTTPRequests]++
	m.requestCounts[path]++
	m.requestLatencies[path] = m.appendSample(m.requestLatencies[path], latency)

	if statusCode >= 200 && statusCode < 400 {
		m.counters[CounterHTTPRequestsSuccess]++
	} else {
		m.counters[CounterHTTPRequestsError]++
		m.errorCounts[ErrorTypeHTTP]++
	}
}

// RecordCommand records the outcome and latency of a command
func (m *Collector) RecordCommand(command, outcome string, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.commandCounts[command+":"+outcome]++
	m.commandLatencies[command] = m.appendSample(m.commandLatencies[command], latency)

	switch outcome {
	case CommandAccepted:
		m.counters[CounterCommandsAccepted]++
	case CommandRejected:
		m.counters[CounterCommandsRejected]++
	case CommandConflicted:
		m.counters[CounterCommandsConflicted]++
	default:
		m.counters[CounterCommandsFailed]++
		m.counters[CounterErrorsTotal]++
	}
}

// RecordProjection records a query dispatch
func (m *Collector) RecordProjection(query string, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if success {
		m.projectionCounts[query+":ok"]++
		m.counters[CounterProjectionsApplied]++
		return
	}
	m.projectionCounts[query+":error"]++
	m.counters[CounterProjectionsFailed]++
	m.errorCounts[ErrorTypeProjection]++
}

// RecordMessageBusOperation records metrics for a message bus operation
func (m *Collector) RecordMessageBusOperation(operation string, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.messageBusCounts[operation]++
	switch operation {
	case MessageBusOperationReceive:
		m.counters[CounterMessagesReceived]++
	case MessageBusOperationComplete:
		m.counters[CounterMessagesProcessed]++
	}
	if !success {
		m.counters[CounterMessagesError]++
		m.errorCounts[ErrorTypeMessageBus]++
	}
}

// RecordDatabaseQuery records metrics for a database query
func (m *Collector) RecordDatabaseQuery(queryType string, success bool, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.databaseQueryCounts[queryType]++
	m.counters[CounterDBQueriesTotal]++
	if !success {
		m.counters[CounterDBQueriesError]++
		m.errorCounts[ErrorTypeDatabase]++
	}
	m.databaseLatencies[queryType] = m.appendSample(m.databaseLatencies[queryType], latency)
}

func (m *Collector) appendSample(samples []time.Duration, latency time.Duration) []time.Duration {
	if len(samples) >= m.maxSamples {
		samples = samples[1:]
	}
	return append(samples, latency)
}

// Counter returns the current value of a counter
func (m *Collector) Counter(name string) int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.counters[name]
}

// GetMetrics returns all collected metrics in a structured format
func (m *Collector) GetMetrics() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return map[string]interface{}{
		"uptime_seconds":         time.Since(m.startTime).Seconds(),
		"counters":               copyCounts(m.counters),
		"gauges":                 copyGauges(m.gauges),
		"request_counts":         copyCounts(m.requestCounts),
		"request_latencies_ms":   averages(m.requestLatencies),
		"command_counts":         copyCounts(m.commandCounts),
		"command_latencies_ms":   averages(m.commandLatencies),
		"projection_counts":      copyCounts(m.projectionCounts),
		"database_query_counts":  copyCounts(m.databaseQueryCounts),
		"database_latencies_ms":  averages(m.databaseLatencies),
		"message_bus_counts":     copyCounts(m.messageBusCounts),
		"error_counts":           copyCounts(m.errorCounts),
	}
}

// GetHealthStatus returns a simple health status based on metrics
func (m *Collector) GetHealthStatus() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	errorRate := 0.0
	totalRequests := m.counters[CounterHTTPRequests]
	if totalRequests > 0 {
		errorRate = float64(m.counters[CounterHTTPRequestsError]) / float64(totalRequests)
	}

	// 5% server errors is considered unhealthy
	const errorRateThreshold = 0.05

	return map[string]interface{}{
		"status": map[string]interface{}{
			"healthy":        errorRate <= errorRateThreshold,
			"uptime_seconds": time.Since(m.startTime).Seconds(),
		},
		"metrics": map[string]interface{}{
			"total_requests":      totalRequests,
			"error_rate":          errorRate,
			"commands_accepted":   m.counters[CounterCommandsAccepted],
			"commands_failed":     m.counters[CounterCommandsFailed],
			"projections_failed":  m.counters[CounterProjectionsFailed],
			"undispatched_events": m.gauges[GaugeUndispatchedEvents],
		},
	}
}

func averages(samples map[string][]time.Duration) map[string]float64 {
	out := make(map[string]float64, len(samples))
	for key, latencies := range samples {
		if len(latencies) == 0 {
			continue
		}
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		out[key] = float64(sum.Milliseconds()) / float64(len(latencies))
	}
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyGauges(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
