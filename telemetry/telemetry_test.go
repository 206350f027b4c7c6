package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncBurstAccepted("job")
	collector.SetSegment("step")
	collector.IncHotReload("config.cue")
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func TestPrometheusCollectorRecordsBurstMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncBurstAccepted("sweep")
	collector.IncBurstCompleted("sweep")
	collector.AddValidSamples("sweep", 12)
	collector.AddValidSamples("sweep", 0)
	collector.IncReset()
	collector.SetRampCode(5)
	collector.SetSegment("post")
	collector.SetCycle(2)

	metrics := gather(t, reg)
	requireCounterValue(t, metrics["rampburst_bursts_accepted_total"], 1)
	requireCounterValue(t, metrics["rampburst_bursts_completed_total"], 1)
	requireCounterValue(t, metrics["rampburst_valid_samples_total"], 12)
	requireCounterValue(t, metrics["rampburst_controller_resets_total"], 1)
	require.Equal(t, 5.0, metrics["rampburst_ramp_code"].Metric[0].Gauge.GetValue())
	require.Equal(t, 2.0, metrics["rampburst_cycle"].Metric[0].Gauge.GetValue())

	segments := metrics["rampburst_segment"]
	require.Len(t, segments.Metric, len(Segments))
	for _, m := range segments.Metric {
		want := 0.0
		if m.Label[0].GetValue() == "post" {
			want = 1
		}
		require.Equal(t, want, m.Gauge.GetValue(), m.Label[0].GetValue())
	}
}

func TestPrometheusCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncHotReload("a.cue")

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.hotReloads, again.hotReloads)

	again.IncHotReload("a.cue")
	requireCounterValue(t, gather(t, reg)["rampburst_config_hot_reload_total"], 2)
}

func TestNilPrometheusCollectorIsSafe(t *testing.T) {
	var collector *PrometheusCollector
	collector.IncBurstAccepted("x")
	collector.SetSegment("idle")
	collector.IncHotReload("x")
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.NotNil(t, mf)
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
