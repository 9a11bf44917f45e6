// Package metrics provides Prometheus metrics for the putmeon session engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Session business metrics
	submissions        prometheus.Counter
	promotions         prometheus.Counter
	sessionTransitions *prometheus.CounterVec
	gradesAccepted     prometheus.Counter
	gradesRejected     *prometheus.CounterVec
	leaderboardAppends prometheus.Counter
	favoriteToggles    *prometheus.CounterVec
	presenceChanges    *prometheus.CounterVec
	authentications    *prometheus.CounterVec
	signOuts           prometheus.Counter

	queueLength        prometheus.Gauge
	onlineParticipants prometheus.Gauge
	leaderboardSize    prometheus.Gauge

	// Store metrics
	storeWrites    *prometheus.CounterVec
	storeConflicts prometheus.Counter
	txRetries      prometheus.Counter
	txConflicts    prometheus.Counter
	txDuration     prometheus.Histogram

	// Fan-out metrics
	changesEnqueued   prometheus.Counter
	changesDropped    *prometheus.CounterVec
	fanoutQueueSize   prometheus.Gauge
	fanoutQueueCap    prometheus.Gauge
	fanoutDeliveries  prometheus.Counter
	fanoutCoalesced   prometheus.Counter
	fanoutLatency     prometheus.Histogram
	subscribers       prometheus.Gauge
	workerCount       prometheus.Gauge
	workerErrors      prometheus.Counter
	websocketSessions prometheus.Gauge

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorsByComponent *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "putmeon",
		subsystem:        "session",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.submissions = m.counter("queue_submissions_total", "Songs submitted to the queue")
	m.promotions = m.counter("promotions_total", "Queued songs promoted to now playing")
	m.sessionTransitions = m.counterVec("transitions_total", "Session phase transitions", "to")
	m.gradesAccepted = m.counter("grades_accepted_total", "Grades accepted")
	m.gradesRejected = m.counterVec("grades_rejected_total", "Grades rejected by reason", "reason")
	m.leaderboardAppends = m.counter("leaderboard_appends_total", "Graded tracks appended to history")
	m.favoriteToggles = m.counterVec("favorite_toggles_total", "Favorite toggles by resulting action", "action")
	m.presenceChanges = m.counterVec("presence_changes_total", "Presence writes by state", "state")
	m.authentications = m.counterVec("authentications_total", "Successful authentications by mode", "mode")
	m.signOuts = m.counter("sign_outs_total", "Sign-outs")

	m.queueLength = m.gauge("queue_length", "Songs waiting in the queue")
	m.onlineParticipants = m.gauge("online_participants", "Participants currently online")
	m.leaderboardSize = m.gauge("leaderboard_entries", "Entries in the leaderboard index")

	m.storeWrites = m.counterVec("store_writes_total", "Committed store writes by kind", "kind")
	m.storeConflicts = m.counter("store_version_conflicts_total", "Conditional writes rejected on version")
	m.txRetries = m.counter("transaction_retries_total", "Optimistic transaction retries")
	m.txConflicts = m.counter("transaction_conflicts_total", "Transactions that exhausted their retries")
	m.txDuration = m.histogram("transaction_duration_seconds", "Optimistic transaction duration", m.histogramBuckets)

	m.changesEnqueued = m.counter("changes_enqueued_total", "Store changes queued for fan-out")
	m.changesDropped = m.counterVec("changes_dropped_total", "Store changes not queued for fan-out", "reason")
	m.fanoutQueueSize = m.gauge("fanout_queue_size", "Changes waiting for fan-out")
	m.fanoutQueueCap = m.gauge("fanout_queue_capacity", "Fan-out queue capacity")
	m.fanoutDeliveries = m.counter("fanout_deliveries_total", "Snapshots delivered to subscribers")
	m.fanoutCoalesced = m.counter("fanout_coalesced_total", "Undelivered snapshots replaced by newer ones")
	m.fanoutLatency = m.histogram("fanout_latency_seconds", "Time from commit to delivery", m.histogramBuckets)
	m.subscribers = m.gauge("subscribers", "Active state subscriptions")
	m.workerCount = m.gauge("fanout_workers", "Fan-out workers")
	m.workerErrors = m.counter("fanout_worker_errors_total", "Fan-out handler failures")
	m.websocketSessions = m.gauge("websocket_connections", "Open websocket connections")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// Session metrics.

// RecordQueueSubmission counts an accepted queue submission.
func RecordQueueSubmission() { globalManager.submissions.Inc() }

// RecordPromotion counts a promotion.
func RecordPromotion() { globalManager.promotions.Inc() }

// RecordSessionTransition counts a phase change into phase to.
func RecordSessionTransition(to string) {
	globalManager.sessionTransitions.WithLabelValues(to).Inc()
}

// RecordGradeAccepted counts an accepted grade.
func RecordGradeAccepted() { globalManager.gradesAccepted.Inc() }

// RecordGradeRejected counts a rejected grade.
func RecordGradeRejected(reason string) {
	globalManager.gradesRejected.WithLabelValues(reason).Inc()
}

// RecordLeaderboardAppend counts a history append.
func RecordLeaderboardAppend() { globalManager.leaderboardAppends.Inc() }

// RecordFavoriteToggle counts a toggle; action is "added" or "removed".
func RecordFavoriteToggle(action string) {
	globalManager.favoriteToggles.WithLabelValues(action).Inc()
}

// RecordPresenceChange counts a presence write.
func RecordPresenceChange(state string) {
	globalManager.presenceChanges.WithLabelValues(state).Inc()
}

// RecordAuthentication counts a successful authentication.
func RecordAuthentication(mode string) {
	globalManager.authentications.WithLabelValues(mode).Inc()
}

// RecordSignOut counts a sign-out.
func RecordSignOut() { globalManager.signOuts.Inc() }

// UpdateQueueLength sets the number of queued songs.
func UpdateQueueLength(n int) { globalManager.queueLength.Set(float64(n)) }

// UpdateOnlineParticipants sets the online participant count.
func UpdateOnlineParticipants(n int) { globalManager.onlineParticipants.Set(float64(n)) }

// UpdateLeaderboardSize sets the number of indexed history entries.
func UpdateLeaderboardSize(n int) { globalManager.leaderboardSize.Set(float64(n)) }

// Store metrics.

// RecordStoreWrite counts a committed write.
func RecordStoreWrite(kind string) {
	globalManager.storeWrites.WithLabelValues(kind).Inc()
}

// RecordStoreConflict counts a rejected conditional write.
func RecordStoreConflict() { globalManager.storeConflicts.Inc() }

// RecordTxRetry counts a transaction retry.
func RecordTxRetry() { globalManager.txRetries.Inc() }

// RecordTxConflict counts an exhausted transaction.
func RecordTxConflict() { globalManager.txConflicts.Inc() }

// RecordTxDuration observes a transaction's total duration.
func RecordTxDuration(d time.Duration) { globalManager.txDuration.Observe(d.Seconds()) }

// Fan-out metrics.

// RecordChangeEnqueued counts a change accepted by the fan-out queue.
func RecordChangeEnqueued() { globalManager.changesEnqueued.Inc() }

// RecordChangeDropped counts a change the fan-out queue refused.
func RecordChangeDropped(reason string) {
	globalManager.changesDropped.WithLabelValues(reason).Inc()
}

// UpdateFanoutQueueSize sets the fan-out backlog.
func UpdateFanoutQueueSize(n int) { globalManager.fanoutQueueSize.Set(float64(n)) }

// UpdateFanoutQueueCapacity sets the fan-out queue capacity.
func UpdateFanoutQueueCapacity(n int) { globalManager.fanoutQueueCap.Set(float64(n)) }

// RecordFanoutDelivery counts a delivered snapshot.
func RecordFanoutDelivery() { globalManager.fanoutDeliveries.Inc() }

// RecordFanoutCoalesced counts a snapshot replaced before the subscriber read it.
func RecordFanoutCoalesced() { globalManager.fanoutCoalesced.Inc() }

// RecordFanoutLatency observes commit-to-delivery latency.
func RecordFanoutLatency(d time.Duration) { globalManager.fanoutLatency.Observe(d.Seconds()) }

// UpdateSubscribers sets the active subscription count.
func UpdateSubscribers(n int) { globalManager.subscribers.Set(float64(n)) }

// UpdateWorkerCount sets the fan-out worker count.
func UpdateWorkerCount(n int) { globalManager.workerCount.Set(float64(n)) }

// RecordWorkerError counts a fan-out handler failure.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// AddWebsocketConnections adjusts the open websocket gauge by delta.
func AddWebsocketConnections(delta int) { globalManager.websocketSessions.Add(float64(delta)) }

// HTTP metrics.

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, seconds float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(seconds)
}

// Error metrics.

// RecordErrorByComponent counts an error by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint counts an error by endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(n int) { globalManager.systemGoroutineCount.Set(float64(n)) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
