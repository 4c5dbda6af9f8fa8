package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "streamrec"

// HealthStatuses lists the values exported by the health gauge.
var HealthStatuses = []string{"healthy", "degraded", "idle"}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	startOutcomes     *prom.CounterVec
	stopOutcomes      *prom.CounterVec
	confirmDuration   prom.Histogram
	recordingDuration prom.Histogram
	terminationPhases *prom.CounterVec
	recordingActive   prom.Gauge
	healthStatus      *prom.GaugeVec
	tickDecisions     *prom.CounterVec
	reconcileActions  *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		startOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "start_requests_total",
			Help:      "Recording start requests by initiator and outcome",
		}, []string{"initiator", "outcome"}),
		stopOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stop_requests_total",
			Help:      "Recording stop requests by initiator and outcome",
		}, []string{"initiator", "outcome"}),
		confirmDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "confirm_duration_seconds",
			Help:      "Time from launch until frames were confirmed",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		recordingDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Length of completed recordings",
			Buckets:   prom.ExponentialBuckets(60, 2, 10),
		}),
		terminationPhases: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "termination_phase_total",
			Help:      "Shutdown phase in which the capture process exited",
		}, []string{"phase"}),
		recordingActive: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "recording_active",
			Help:      "1 while a recording session exists",
		}),
		healthStatus: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "health_status",
			Help:      "Last health pass result, one-hot by status",
		}, []string{"status"}),
		tickDecisions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_decisions_total",
			Help:      "Scheduler control loop decisions",
		}, []string{"decision"}),
		reconcileActions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_actions_total",
			Help:      "Orphan reconciler actions",
		}, []string{"action"}),
	}
	reg.MustRegister(
		pr.startOutcomes, pr.stopOutcomes, pr.confirmDuration, pr.recordingDuration,
		pr.terminationPhases, pr.recordingActive, pr.healthStatus, pr.tickDecisions, pr.reconcileActions,
	)
	return pr
}

func (p *PrometheusRecorder) IncStartOutcome(initiator, outcome string) {
	if p == nil || p.startOutcomes == nil {
		return
	}
	p.startOutcomes.WithLabelValues(initiator, outcome).Inc()
}

func (p *PrometheusRecorder) IncStopOutcome(initiator, outcome string) {
	if p == nil || p.stopOutcomes == nil {
		return
	}
	p.stopOutcomes.WithLabelValues(initiator, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveConfirmDuration(d time.Duration) {
	if p == nil || p.confirmDuration == nil {
		return
	}
	p.confirmDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRecordingDuration(d time.Duration) {
	if p == nil || p.recordingDuration == nil {
		return
	}
	p.recordingDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTerminationPhase(phase string) {
	if p == nil || p.terminationPhases == nil {
		return
	}
	p.terminationPhases.WithLabelValues(phase).Inc()
}

func (p *PrometheusRecorder) SetRecordingActive(active bool) {
	if p == nil || p.recordingActive == nil {
		return
	}
	if active {
		p.recordingActive.Set(1)
		return
	}
	p.recordingActive.Set(0)
}

func (p *PrometheusRecorder) SetHealthStatus(status string) {
	if p == nil || p.healthStatus == nil {
		return
	}
	for _, s := range HealthStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		p.healthStatus.WithLabelValues(s).Set(v)
	}
}

func (p *PrometheusRecorder) IncTickDecision(decision string) {
	if p == nil || p.tickDecisions == nil {
		return
	}
	p.tickDecisions.WithLabelValues(decision).Inc()
}

func (p *PrometheusRecorder) IncReconcileAction(action string) {
	if p == nil || p.reconcileActions == nil {
		return
	}
	p.reconcileActions.WithLabelValues(action).Inc()
}
