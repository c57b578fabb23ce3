package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	stageDuration    *prom.HistogramVec
	laneDuration     *prom.HistogramVec
	runDuration      prom.Histogram
	stageResults     *prom.CounterVec
	laneOutcome      *prom.CounterVec
	runOutcome       *prom.CounterVec
	laneConcurrency  prom.Gauge
	retries          *prom.CounterVec
	retriesExhausted *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "matrixci",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.laneDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "matrixci",
			Name:      "lane_duration_seconds",
			Help:      "Duration of full lane executions",
			Buckets:   prom.DefBuckets,
		}, []string{"lane"})
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "matrixci",
			Name:      "run_duration_seconds",
			Help:      "Total run duration across all lanes",
			Buckets:   prom.DefBuckets,
		})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "matrixci",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.laneOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "matrixci",
			Name:      "lane_outcomes_total",
			Help:      "Lane outcomes by final status",
		}, []string{"outcome"})
		pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "matrixci",
			Name:      "run_outcomes_total",
			Help:      "Run outcomes by final status",
		}, []string{"outcome"})
		pr.laneConcurrency = prom.NewGauge(prom.GaugeOpts{
			Namespace: "matrixci",
			Name:      "lane_concurrency",
			Help:      "Number of lanes currently executing",
		})
		pr.retries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "matrixci",
			Name:      "infra_retries_total",
			Help:      "Total lane retries for infrastructure failures",
		}, []string{"lane"})
		pr.retriesExhausted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "matrixci",
			Name:      "infra_retry_exhausted_total",
			Help:      "Count of lanes where infrastructure retries were exhausted",
		}, []string{"lane"})
		reg.MustRegister(pr.stageDuration, pr.laneDuration, pr.runDuration, pr.stageResults, pr.laneOutcome, pr.runOutcome, pr.laneConcurrency, pr.retries, pr.retriesExhausted)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveLaneDuration(lane string, d time.Duration) {
	if p == nil || p.laneDuration == nil {
		return
	}
	p.laneDuration.WithLabelValues(lane).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncLaneOutcome(outcome string) {
	if p == nil || p.laneOutcome == nil {
		return
	}
	p.laneOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome string) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetLaneConcurrency(n int) {
	if p == nil || p.laneConcurrency == nil {
		return
	}
	p.laneConcurrency.Set(float64(n))
}

func (p *PrometheusRecorder) IncInfraRetry(lane string) {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.WithLabelValues(lane).Inc()
}

func (p *PrometheusRecorder) IncInfraRetryExhausted(lane string) {
	if p == nil || p.retriesExhausted == nil {
		return
	}
	p.retriesExhausted.WithLabelValues(lane).Inc()
}
