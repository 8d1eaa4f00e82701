package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	stepDuration    *prom.HistogramVec
	installDuration prom.Histogram
	stepResults     *prom.CounterVec
	installOutcome  *prom.CounterVec
	mirrorDuration  *prom.HistogramVec
	retries         *prom.CounterVec
	dirtyBytes      prom.Gauge
}

// NewPrometheusRecorder registers all collectors on the given registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "cosai",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual installation steps",
			Buckets:   prom.DefBuckets,
		}, []string{"step"})
		pr.installDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "cosai",
			Name:      "install_duration_seconds",
			Help:      "Total installation duration",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 2400, 4800},
		})
		pr.stepResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cosai",
			Name:      "step_results_total",
			Help:      "Step result counts by outcome",
		}, []string{"step", "result"})
		pr.installOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cosai",
			Name:      "install_outcomes_total",
			Help:      "Installation outcomes by final status",
		}, []string{"outcome"})
		pr.mirrorDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "cosai",
			Name:      "mirror_fetch_duration_seconds",
			Help:      "Duration of mirror status feed fetches",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.retries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cosai",
			Name:      "step_retries_total",
			Help:      "Step retries on transient failures",
		}, []string{"step"})
		pr.dirtyBytes = prom.NewGauge(prom.GaugeOpts{
			Namespace: "cosai",
			Name:      "sync_dirty_bytes",
			Help:      "Dirty page bytes observed while flushing an image write",
		})
		reg.MustRegister(pr.stepDuration, pr.installDuration, pr.stepResults, pr.installOutcome, pr.mirrorDuration, pr.retries, pr.dirtyBytes)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveInstallDuration(d time.Duration) {
	if p == nil || p.installDuration == nil {
		return
	}
	p.installDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStepResult(step string, result ResultLabel) {
	if p == nil || p.stepResults == nil {
		return
	}
	p.stepResults.WithLabelValues(step, string(result)).Inc()
}

func (p *PrometheusRecorder) IncInstallOutcome(outcome string) {
	if p == nil || p.installOutcome == nil {
		return
	}
	p.installOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveMirrorFetchDuration(d time.Duration, success bool) {
	if p == nil || p.mirrorDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.mirrorDuration.WithLabelValues(res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRetry(step string) {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.WithLabelValues(step).Inc()
}

func (p *PrometheusRecorder) SetDirtyBytes(n uint64) {
	if p == nil || p.dirtyBytes == nil {
		return
	}
	p.dirtyBytes.Set(float64(n))
}
