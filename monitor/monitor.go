// monitor/monitor.go
package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlinePlayers      prometheus.Gauge
	ActiveRooms        prometheus.Gauge
	MessagesReceived   prometheus.Counter
	MessageLatency     prometheus.Histogram
	StageTransitions   *prometheus.CounterVec
	PointsAwarded      prometheus.Counter
	SubscriptionErrors prometheus.Counter
	ActionLatency      *prometheus.HistogramVec
	ActionErrors       *prometheus.CounterVec
	UploadBytes        prometheus.Counter
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of connected player sessions",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms with at least one connected session",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of packets received",
		}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Packet processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		StageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage transitions attempted, by edge, trigger and result",
		}, []string{"from", "to", "trigger", "result"}),
		PointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Points applied to players at the end of guessing rounds",
		}),
		SubscriptionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_errors_total",
			Help:      "Room snapshots that ended in a stream error",
		}),
		ActionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_latency_seconds",
			Help:      "Room action latency by action",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"action"}),
		ActionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_errors_total",
			Help:      "Room actions that returned an error",
		}, []string{"action"}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes of photo data stored",
		}),
	}

	reg.MustRegister(
		m.OnlinePlayers,
		m.ActiveRooms,
		m.MessagesReceived,
		m.MessageLatency,
		m.StageTransitions,
		m.PointsAwarded,
		m.SubscriptionErrors,
		m.ActionLatency,
		m.ActionErrors,
		m.UploadBytes,
	)

	return m
}

// Monitor owns a private registry so several instances can coexist in one
// process. All methods are safe on a nil *Monitor.
type Monitor struct {
	metrics      *Metrics
	registry     *prometheus.Registry
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the monitor started",
	}, func() float64 { return time.Since(m.startTime).Seconds() }))
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Monitor) IncOnlinePlayers() {
	if m == nil {
		return
	}
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	if m == nil {
		return
	}
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	if m == nil {
		return
	}
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived() {
	if m == nil {
		return
	}
	m.metrics.MessagesReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

// RequestCount is the number of packets received since start.
func (m *Monitor) RequestCount() int64 {
	if m == nil {
		return 0
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.requestCount
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.MessageLatency.Observe(duration.Seconds())
}

// ObserveTransition counts a stage transition attempt. trigger is "manual" or "auto".
func (m *Monitor) ObserveTransition(from, to, trigger string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.metrics.StageTransitions.WithLabelValues(from, to, trigger, result).Inc()
}

func (m *Monitor) AddPointsAwarded(points int) {
	if m == nil || points <= 0 {
		return
	}
	m.metrics.PointsAwarded.Add(float64(points))
}

func (m *Monitor) IncSubscriptionErrors() {
	if m == nil {
		return
	}
	m.metrics.SubscriptionErrors.Inc()
}

// ObserveAction records the latency of a room action and counts its failure.
func (m *Monitor) ObserveAction(action string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.metrics.ActionLatency.WithLabelValues(action).Observe(time.Since(started).Seconds())
	if err != nil {
		m.metrics.ActionErrors.WithLabelValues(action).Inc()
	}
}

func (m *Monitor) AddUploadBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.metrics.UploadBytes.Add(float64(n))
}
