// Package metrics exposes Prometheus collectors for the discrimination engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors shared by surrogates, the design optimizer and campaigns
type Metrics struct {
	CampaignRounds     *prometheus.CounterVec
	CampaignBestScore  *prometheus.GaugeVec
	ActiveCampaigns    prometheus.Gauge
	ExperimentFailures prometheus.Counter
	OptimizerStarts    *prometheus.CounterVec
	OptimizerDuration  prometheus.Histogram
	SurrogateFits      *prometheus.CounterVec
	JitterApplied      *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Default returns the process-wide metrics registered on the default registry
func Default() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return metricsInstance
}

// NewWithRegistry registers a fresh set of collectors on reg (used by tests)
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		CampaignRounds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "doe_campaign_rounds_total",
			Help: "Campaign rounds by outcome",
		}, []string{"outcome"}),
		CampaignBestScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "doe_campaign_best_score",
			Help: "Discrimination score of the most recently proposed design",
		}, []string{"campaign"}),
		ActiveCampaigns: f.NewGauge(prometheus.GaugeOpts{
			Name: "doe_campaigns_active",
			Help: "Campaigns that have not reached a terminal state",
		}),
		ExperimentFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "doe_experiment_failures_total",
			Help: "Experiment callbacks that returned an error",
		}),
		OptimizerStarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "doe_optimizer_starts_total",
			Help: "Local optimizer starts by status",
		}, []string{"status"}),
		OptimizerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "doe_optimizer_duration_seconds",
			Help:    "Wall time of a multistart design optimization",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		SurrogateFits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "doe_surrogate_fits_total",
			Help: "Surrogate fits by status",
		}, []string{"status"}),
		JitterApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "doe_jitter_applied_total",
			Help: "Covariance factorisations that needed diagonal jitter",
		}, []string{"site"}),
	}
}

// RecordRound counts a finished campaign round
func (m *Metrics) RecordRound(outcome string) {
	if m == nil || m.CampaignRounds == nil {
		return
	}
	m.CampaignRounds.WithLabelValues(outcome).Inc()
}

// SetBestScore publishes the latest best score of a campaign
func (m *Metrics) SetBestScore(campaignID string, score float64) {
	if m == nil || m.CampaignBestScore == nil {
		return
	}
	m.CampaignBestScore.WithLabelValues(campaignID).Set(score)
}

// ForgetCampaign drops per-campaign series
func (m *Metrics) ForgetCampaign(campaignID string) {
	if m == nil || m.CampaignBestScore == nil {
		return
	}
	m.CampaignBestScore.DeleteLabelValues(campaignID)
}

// CampaignStarted increments the active campaign gauge
func (m *Metrics) CampaignStarted() {
	if m == nil || m.ActiveCampaigns == nil {
		return
	}
	m.ActiveCampaigns.Inc()
}

// CampaignFinished decrements the active campaign gauge
func (m *Metrics) CampaignFinished() {
	if m == nil || m.ActiveCampaigns == nil {
		return
	}
	m.ActiveCampaigns.Dec()
}

// RecordExperimentFailure counts a failed experiment callback
func (m *Metrics) RecordExperimentFailure() {
	if m == nil || m.ExperimentFailures == nil {
		return
	}
	m.ExperimentFailures.Inc()
}

// RecordStart counts a local optimizer start ("converged", "not_converged", "failed")
func (m *Metrics) RecordStart(status string) {
	if m == nil || m.OptimizerStarts == nil {
		return
	}
	m.OptimizerStarts.WithLabelValues(status).Inc()
}

// ObserveOptimization records the duration of a multistart run in seconds
func (m *Metrics) ObserveOptimization(seconds float64) {
	if m == nil || m.OptimizerDuration == nil {
		return
	}
	m.OptimizerDuration.Observe(seconds)
}

// RecordSurrogateFit counts a surrogate fit ("ok", "insufficient_data", "numerical")
func (m *Metrics) RecordSurrogateFit(status string) {
	if m == nil || m.SurrogateFits == nil {
		return
	}
	m.SurrogateFits.WithLabelValues(status).Inc()
}

// RecordJitter counts a jitter-regularised factorisation at the given site
func (m *Metrics) RecordJitter(site string) {
	if m == nil || m.JitterApplied == nil {
		return
	}
	m.JitterApplied.WithLabelValues(site).Inc()
}
