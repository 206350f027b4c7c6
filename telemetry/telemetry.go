package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the sequencer.
//
// Hooks run inline with the tick loop, implementations must be cheap.
type Collector interface {
	IncBurstAccepted(job string)
	IncBurstCompleted(job string)
	IncReset()
	AddValidSamples(job string, count uint64)
	SetRampCode(code uint32)
	SetSegment(segment string)
	SetCycle(cycle uint32)
	IncHotReload(file string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncBurstAccepted(string)        {}
func (noopCollector) IncBurstCompleted(string)       {}
func (noopCollector) IncReset()                      {}
func (noopCollector) AddValidSamples(string, uint64) {}
func (noopCollector) SetRampCode(uint32)             {}
func (noopCollector) SetSegment(string)              {}
func (noopCollector) SetCycle(uint32)                {}
func (noopCollector) IncHotReload(string)            {}

// Segments lists the segment label values exported by the segment gauge.
var Segments = []string{"idle", "pre", "step", "post"}

// PrometheusCollector exposes sequencer metrics via Prometheus.
type PrometheusCollector struct {
	accepted   *prometheus.CounterVec
	completed  *prometheus.CounterVec
	resets     prometheus.Counter
	samples    *prometheus.CounterVec
	rampCode   prometheus.Gauge
	segment    *prometheus.GaugeVec
	cycle      prometheus.Gauge
	hotReloads *prometheus.CounterVec
}

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Metrics that are already registered are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var err error
	p := &PrometheusCollector{}
	if p.accepted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rampburst_bursts_accepted_total",
		Help: "Number of burst programs latched by the controller.",
	}, []string{"job"})); err != nil {
		return nil, err
	}
	if p.completed, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rampburst_bursts_completed_total",
		Help: "Number of burst programs that ran to completion.",
	}, []string{"job"})); err != nil {
		return nil, err
	}
	if p.resets, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rampburst_controller_resets_total",
		Help: "Number of controller resets.",
	})); err != nil {
		return nil, err
	}
	if p.samples, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rampburst_valid_samples_total",
		Help: "Number of sample ticks flagged valid.",
	}, []string{"job"})); err != nil {
		return nil, err
	}
	if p.rampCode, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rampburst_ramp_code",
		Help: "Frequency code currently driven on the ramp output.",
	})); err != nil {
		return nil, err
	}
	if p.segment, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rampburst_segment",
		Help: "Active controller segment (1 for the active segment, 0 otherwise).",
	}, []string{"segment"})); err != nil {
		return nil, err
	}
	if p.cycle, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rampburst_cycle",
		Help: "Elapsed cycle count of the active burst.",
	})); err != nil {
		return nil, err
	}
	if p.hotReloads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rampburst_config_hot_reload_total",
		Help: "Number of hot reload operations triggered per configuration source file.",
	}, []string{"file"})); err != nil {
		return nil, err
	}
	return p, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// IncBurstAccepted counts a latched program.
func (p *PrometheusCollector) IncBurstAccepted(job string) {
	if p == nil || p.accepted == nil {
		return
	}
	p.accepted.WithLabelValues(job).Inc()
}

// IncBurstCompleted counts a finished program.
func (p *PrometheusCollector) IncBurstCompleted(job string) {
	if p == nil || p.completed == nil {
		return
	}
	p.completed.WithLabelValues(job).Inc()
}

// IncReset counts a controller reset.
func (p *PrometheusCollector) IncReset() {
	if p == nil || p.resets == nil {
		return
	}
	p.resets.Inc()
}

// AddValidSamples records valid samples for a job.
func (p *PrometheusCollector) AddValidSamples(job string, count uint64) {
	if p == nil || p.samples == nil || count == 0 {
		return
	}
	p.samples.WithLabelValues(job).Add(float64(count))
}

// SetRampCode updates the ramp output gauge.
func (p *PrometheusCollector) SetRampCode(code uint32) {
	if p == nil || p.rampCode == nil {
		return
	}
	p.rampCode.Set(float64(code))
}

// SetSegment marks segment as the active one.
func (p *PrometheusCollector) SetSegment(segment string) {
	if p == nil || p.segment == nil {
		return
	}
	for _, name := range Segments {
		value := 0.0
		if name == segment {
			value = 1
		}
		p.segment.WithLabelValues(name).Set(value)
	}
}

// SetCycle updates the cycle gauge.
func (p *PrometheusCollector) SetCycle(cycle uint32) {
	if p == nil || p.cycle == nil {
		return
	}
	p.cycle.Set(float64(cycle))
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}
