package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vert/internal/conversion"
	"vert/internal/manager"
	"vert/internal/media"
)

const namespace = "vert"

// Metrics owns a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	tasks          *prometheus.GaugeVec
	tasksSubmitted *prometheus.CounterVec
	tasksFinished  *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec

	apiRequests   *prometheus.CounterVec
	apiDuration   *prometheus.HistogramVec
	apiConnActive prometheus.Gauge

	mu    sync.Mutex
	live  map[string]*taskState
	clock func() time.Time
}

type taskState struct {
	kind    media.Kind
	state   manager.State
	started time.Time
}

var _ manager.Recorder = (*Metrics)(nil)

// New builds the collectors and registers them together with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Tasks currently registered, by kind and lifecycle state.",
		}, []string{"kind", "state"}),
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Tasks added to the registry.",
		}, []string{"kind"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Task runs that reached a terminal state.",
		}, []string{"kind", "state"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time from start to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"kind", "state"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests served, by method, route and status.",
		}, []string{"method", "endpoint", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint", "status"}),
		apiConnActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "active_connections",
			Help:      "HTTP requests in flight.",
		}),
		live:  make(map[string]*taskState),
		clock: time.Now,
	}
	m.registry.MustRegister(
		m.tasks,
		m.tasksSubmitted,
		m.tasksFinished,
		m.taskDuration,
		m.apiRequests,
		m.apiDuration,
		m.apiConnActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TaskAdded counts a submission.
func (m *Metrics) TaskAdded(task conversion.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasksSubmitted.WithLabelValues(string(task.Kind)).Inc()
	if prev, ok := m.live[task.ID]; ok {
		m.tasks.WithLabelValues(string(prev.kind), string(prev.state)).Dec()
	}
	m.live[task.ID] = &taskState{kind: task.Kind, state: manager.StateCreated}
	m.tasks.WithLabelValues(string(task.Kind), string(manager.StateCreated)).Inc()
}

// StateChanged moves the task between state gauges and, on a terminal
// state, counts the outcome and observes the run duration.
func (m *Metrics) StateChanged(task conversion.Task, state manager.State, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.live[task.ID]
	if !ok {
		cur = &taskState{kind: task.Kind}
		m.live[task.ID] = cur
	} else {
		m.tasks.WithLabelValues(string(cur.kind), string(cur.state)).Dec()
	}
	cur.state = state
	m.tasks.WithLabelValues(string(cur.kind), string(state)).Inc()

	now := m.clock()
	switch {
	case state == manager.StateRunning:
		cur.started = now
	case state.Terminal():
		m.tasksFinished.WithLabelValues(string(cur.kind), string(state)).Inc()
		if !cur.started.IsZero() {
			m.taskDuration.WithLabelValues(string(cur.kind), string(state)).Observe(now.Sub(cur.started).Seconds())
			cur.started = time.Time{}
		}
	}
}

// TaskRemoved drops the task from the state gauges.
func (m *Metrics) TaskRemoved(task conversion.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.live[task.ID]; ok {
		m.tasks.WithLabelValues(string(cur.kind), string(cur.state)).Dec()
		delete(m.live, task.ID)
	}
}

// Cleared empties the state gauges.
func (m *Metrics) Cleared() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cur := range m.live {
		m.tasks.WithLabelValues(string(cur.kind), string(cur.state)).Dec()
		delete(m.live, id)
	}
}
