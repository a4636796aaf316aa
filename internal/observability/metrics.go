package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "concierge"

type moduleMetrics struct {
	turnsTotal        *prometheus.CounterVec
	turnDuration      prometheus.Histogram
	escalationsTotal  *prometheus.CounterVec
	answerIterations  prometheus.Histogram
	llmCallsTotal     *prometheus.CounterVec
	llmCallDuration   *prometheus.HistogramVec
	retrievalsTotal   *prometheus.CounterVec
	storeOpDuration   *prometheus.HistogramVec
	laneQueueDepth    prometheus.Gauge
	activeLanes       prometheus.Gauge
	knowledgePassages prometheus.Gauge
	providerCooldown  *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turns_total",
					Help:      "Processed conversation turns by outcome.",
				},
				[]string{"outcome"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_duration_seconds",
					Help:      "End-to-end turn duration in seconds, including lane wait.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			escalationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "escalations_total",
					Help:      "Escalation delivery attempts by status.",
				},
				[]string{"status"},
			),
			answerIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "answer_iterations",
					Help:      "Model iterations used per answer loop run.",
					Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
				},
			),
			llmCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "llm_calls_total",
					Help:      "Model calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			llmCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "llm_call_duration_seconds",
					Help:      "Model call duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			retrievalsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "retrievals_total",
					Help:      "Knowledge retrievals by status (hit, empty, error).",
				},
				[]string{"status"},
			),
			storeOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "store_ops_duration_seconds",
					Help:      "Conversation store operation duration by backend and op.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"backend", "op"},
			),
			laneQueueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "lane_queue_depth",
					Help:      "Tasks waiting across all session lanes.",
				},
			),
			activeLanes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_lanes",
					Help:      "Session lanes currently holding queued or running tasks.",
				},
			),
			knowledgePassages: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "knowledge_passages",
					Help:      "Passages indexed in the knowledge base.",
				},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "provider_cooldown_active",
					Help:      "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"profile"},
			),
		}

		prometheus.MustRegister(
			m.turnsTotal,
			m.turnDuration,
			m.escalationsTotal,
			m.answerIterations,
			m.llmCallsTotal,
			m.llmCallDuration,
			m.retrievalsTotal,
			m.storeOpDuration,
			m.laneQueueDepth,
			m.activeLanes,
			m.knowledgePassages,
			m.providerCooldown,
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

func RecordTurn(outcome string, duration time.Duration) {
	m := getMetrics()
	m.turnsTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

func RecordEscalation(success bool) {
	m := getMetrics()
	m.escalationsTotal.WithLabelValues(statusLabel(success)).Inc()
}

func RecordAnswerIterations(n int) {
	getMetrics().answerIterations.Observe(float64(n))
}

func RecordLLMCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.llmCallsTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.llmCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordRetrieval counts a retrieval; status is one of hit, empty, error.
func RecordRetrieval(status string) {
	getMetrics().retrievalsTotal.WithLabelValues(status).Inc()
}

func RecordStoreOp(backend, op string, duration time.Duration) {
	getMetrics().storeOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

func SetLaneStats(lanes, queued int) {
	m := getMetrics()
	m.activeLanes.Set(float64(lanes))
	m.laneQueueDepth.Set(float64(queued))
}

func SetKnowledgePassages(total int) {
	getMetrics().knowledgePassages.Set(float64(total))
}

func SetProviderCooldown(profile string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(profile).Set(value)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
