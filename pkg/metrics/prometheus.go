package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions     *prometheus.CounterVec
	confidence    *prometheus.HistogramVec
	overrides     *prometheus.CounterVec
	messagesSent  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	episodeReward prometheus.Histogram
	training      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates a Prometheus recorder registered on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rl_decisions_total",
				Help: "Predictions served by action and base-signal source",
			},
			[]string{"action", "source"},
		),
		confidence: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rl_decision_confidence",
				Help:    "Final confidence of served predictions",
				Buckets: []float64{0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95},
			},
			[]string{"action"},
		),
		overrides: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rl_hold_overrides_total",
				Help: "Trades vetoed in favour of HOLD by reason",
			},
			[]string{"reason"},
		),
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rl_messages_sent_total",
				Help: "Total number of records sent to a backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rl_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		episodeReward: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rl_episode_reward",
				Help:    "Total reward of evaluated or simulated episodes",
				Buckets: prometheus.LinearBuckets(-50, 10, 11),
			},
		),
		training: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rl_training_runs_total",
				Help: "Training runs by outcome",
			},
			[]string{"outcome"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rl_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordDecision records a served prediction.
func (r *Recorder) RecordDecision(action, source string, confidence float64) {
	r.decisions.WithLabelValues(action, source).Inc()
	r.confidence.WithLabelValues(action).Observe(confidence)
}

// RecordOverride records a hold override.
func (r *Recorder) RecordOverride(reason string) {
	r.overrides.WithLabelValues(reason).Inc()
}

// RecordMessageSent records a record written to a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordEpisode records the total reward of one episode.
func (r *Recorder) RecordEpisode(totalReward float64) {
	r.episodeReward.Observe(totalReward)
}

// RecordTraining records a finished training run.
func (r *Recorder) RecordTraining(outcome string) {
	r.training.WithLabelValues(outcome).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
