package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/rampburst/burst"
	"github.com/timzifer/rampburst/config"
	"github.com/timzifer/rampburst/telemetry"
)

func u32(v uint32) *uint32 { return &v }

func newTestService(t *testing.T, cfg *config.Config, opts ...Option) (*Service, *MemorySink) {
	t.Helper()
	sink := &MemorySink{}
	svc, err := New(cfg, zerolog.Nop(), append([]Option{WithSink(sink)}, opts...)...)
	require.NoError(t, err)
	return svc, sink
}

func iterate(t *testing.T, svc *Service, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, svc.IterateOnce(ctx, time.Now()))
	}
}

func codes(records []Record) []uint32 {
	out := make([]uint32, 0, len(records))
	for _, r := range records {
		out = append(out, r.RampCode)
	}
	return out
}

func TestServiceRunsConfiguredJobsInOrder(t *testing.T) {
	cfg := &config.Config{Jobs: []config.JobConfig{
		{ID: "sweep", RampStart: u32(2), RampEnd: u32(5), Step: 3},
		{ID: "tone", RampStart: u32(9), RampEnd: u32(9), Pre: 2},
	}}
	svc, sink := newTestService(t, cfg)

	iterate(t, svc, 40)

	valid := sink.Valid()
	require.Equal(t, []uint32{2, 2, 2, 3, 3, 3, 4, 4, 4, 5, 5, 5, 9, 9}, codes(valid))
	require.Equal(t, "sweep", valid[0].Job)
	require.Equal(t, "tone", valid[len(valid)-1].Job)

	status := svc.Status()
	require.True(t, status.Ready)
	require.Equal(t, uint64(2), status.Completed)
	require.Zero(t, status.Pending)
	require.Equal(t, uint64(40), status.RawTicks)
	require.Equal(t, uint32(9), status.Last.RampCode)
	require.True(t, svc.Idle())
}

func TestServiceGuardDelaysAcceptance(t *testing.T) {
	cfg := &config.Config{Jobs: []config.JobConfig{
		{ID: "late", RampStart: u32(1), RampEnd: u32(1), Pre: 1, When: "tick >= 5 && ready"},
	}}
	svc, sink := newTestService(t, cfg)

	iterate(t, svc, 10)

	var accepted []Record
	for _, r := range sink.Records() {
		if r.Accepted {
			accepted = append(accepted, r)
		}
	}
	require.Len(t, accepted, 1)
	require.Equal(t, uint64(6), accepted[0].RawTick)
	require.Equal(t, "late", accepted[0].Job)
}

func TestServiceRepeatsJobsWhileGuardHolds(t *testing.T) {
	cfg := &config.Config{Jobs: []config.JobConfig{
		{ID: "loop", RampStart: u32(0), RampEnd: u32(1), Step: 1, Repeat: true, When: "runs < 3"},
	}}
	svc, _ := newTestService(t, cfg)

	iterate(t, svc, 100)

	status := svc.Status()
	require.Equal(t, uint64(3), status.Completed)
	require.Equal(t, 1, status.Pending)
}

func TestServiceDropsJobWhoseGuardFails(t *testing.T) {
	cfg := &config.Config{Jobs: []config.JobConfig{
		{ID: "bad", RampStart: u32(1), RampEnd: u32(1), Pre: 1, When: "tick % raw_tick == 0"},
		{ID: "good", RampStart: u32(4), RampEnd: u32(4), Pre: 1},
	}}
	svc, sink := newTestService(t, cfg)

	err := svc.IterateOnce(context.Background(), time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "job bad dropped")
	require.Equal(t, []string{"bad"}, svc.Status().Failed)
	require.Equal(t, 1, svc.Status().Pending)

	iterate(t, svc, 10)

	status := svc.Status()
	require.Equal(t, uint64(1), status.Completed)
	require.Zero(t, status.Pending)
	require.Equal(t, []string{"bad"}, status.Failed)
	for _, r := range sink.Records() {
		require.NotEqual(t, "bad", r.Job)
	}
	require.NotEmpty(t, sink.Valid())
	require.Equal(t, "good", sink.Valid()[0].Job)
}

func TestServiceDrainingHoldsCommands(t *testing.T) {
	cfg := &config.Config{Jobs: []config.JobConfig{
		{ID: "loop", RampStart: u32(0), RampEnd: u32(1), Step: 1, Repeat: true},
	}}
	svc, sink := newTestService(t, cfg)
	accepted := func() int {
		n := 0
		for _, r := range sink.Records() {
			if r.Accepted {
				n++
			}
		}
		return n
	}

	iterate(t, svc, 1)
	require.False(t, svc.Idle())
	svc.SetDraining(true)
	require.True(t, svc.Draining())

	err := svc.Submit("manual", burst.Program{RampStart: 1, RampEnd: 1, PreDuration: 1})
	require.True(t, errors.Is(err, ErrDraining))

	iterate(t, svc, 20)
	require.True(t, svc.Idle())
	require.Equal(t, 1, accepted())
	status := svc.Status()
	require.True(t, status.Draining)
	require.Equal(t, uint64(1), status.Completed)
	require.Equal(t, 1, status.Pending)

	svc.SetDraining(false)
	iterate(t, svc, 1)
	require.False(t, svc.Idle())
	require.Equal(t, 2, accepted())
}

func TestServiceSamplePeriodGatesTicks(t *testing.T) {
	cfg := &config.Config{
		Controller: config.ControllerConfig{SamplePeriod: 4},
		Jobs:       []config.JobConfig{{ID: "slow", RampStart: u32(0), RampEnd: u32(2), Step: 1}},
	}
	svc, sink := newTestService(t, cfg)

	iterate(t, svc, 40)

	for _, r := range sink.Records() {
		require.True(t, r.SamplePulse)
		require.Zero(t, r.RawTick%4)
	}
	require.Equal(t, []uint32{0, 1, 2}, codes(sink.Valid()))
	require.Equal(t, uint64(10), svc.Status().LogicalTicks)
}

func TestServiceSubmitHonoursHandshake(t *testing.T) {
	svc, sink := newTestService(t, &config.Config{})

	prog := burst.Program{RampStart: 1, RampEnd: 4, StepDuration: 2}
	require.NoError(t, svc.Submit("manual", prog))
	require.True(t, errors.Is(svc.Submit("again", prog), ErrBusy))

	iterate(t, svc, 1)
	require.False(t, svc.Idle())
	require.Equal(t, prog, svc.Status().Program)
	require.True(t, errors.Is(svc.Submit("busy", prog), ErrBusy))

	iterate(t, svc, 20)
	require.True(t, svc.Idle())
	require.Len(t, sink.Valid(), int(prog.SampleTicks()))
	require.NoError(t, svc.Submit("next", prog))
}

func TestServiceSubmitQueue(t *testing.T) {
	cfg := &config.Config{Controller: config.ControllerConfig{QueueLimit: 1}}
	svc, sink := newTestService(t, cfg)

	first := burst.Program{RampStart: 1, RampEnd: 2, StepDuration: 1}
	second := burst.Program{RampStart: 7, RampEnd: 7, PostDuration: 1}
	require.NoError(t, svc.Submit("first", first))
	iterate(t, svc, 1)
	require.NoError(t, svc.Submit("second", second))
	require.True(t, errors.Is(svc.Submit("third", second), ErrQueueFull))

	iterate(t, svc, 20)
	require.Equal(t, []uint32{1, 2, 7}, codes(sink.Valid()))
	require.Equal(t, uint64(2), svc.Status().Completed)
}

func TestServiceSubmitValidatesWidths(t *testing.T) {
	svc, _ := newTestService(t, &config.Config{Controller: config.ControllerConfig{RampWidth: 4}})
	err := svc.Submit("wide", burst.Program{RampEnd: 16})
	require.True(t, errors.Is(err, burst.ErrFieldOverflow))
}

func TestServiceResetAbandonsRun(t *testing.T) {
	cfg := &config.Config{Jobs: []config.JobConfig{
		{ID: "long", Cycles: 3, RampStart: u32(0), RampEnd: u32(100), Pre: 1, Step: 5},
	}}
	svc, sink := newTestService(t, cfg)

	iterate(t, svc, 12)
	require.False(t, svc.Idle())
	require.Equal(t, "long", svc.Status().Job)

	svc.Reset()
	iterate(t, svc, 1)

	records := sink.Records()
	last := records[len(records)-1]
	require.True(t, last.Reset)
	require.True(t, last.Ready)
	require.Zero(t, last.Cycle)
	require.Zero(t, last.Sample)

	status := svc.Status()
	require.True(t, status.Ready)
	require.Empty(t, status.Job)
	require.Equal(t, burst.Program{}, status.Program)
	require.Zero(t, status.Completed)
}

func TestServiceReportsHz(t *testing.T) {
	cfg := &config.Config{
		Frequency: config.FrequencyConfig{BaseHz: "100", StepHz: "10"},
		Jobs:      []config.JobConfig{{ID: "hz", RampStartHz: "150", RampEndHz: "160", Step: 1}},
	}
	svc, sink := newTestService(t, cfg)
	iterate(t, svc, 10)

	valid := sink.Valid()
	require.Len(t, valid, 2)
	require.Equal(t, "150", valid[0].RampHz)
	require.Equal(t, "160", valid[1].RampHz)
}

func TestServiceTelemetry(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := telemetry.NewPrometheusCollector(reg)
	require.NoError(t, err)

	cfg := &config.Config{Jobs: []config.JobConfig{
		{ID: "sweep", Cycles: 1, RampStart: u32(0), RampEnd: u32(3), Pre: 1, Step: 1, Post: 1},
	}}
	svc, _ := newTestService(t, cfg, WithTelemetry(collector))
	iterate(t, svc, 30)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		if len(mf.Metric) == 0 || mf.Metric[0].Counter == nil {
			continue
		}
		values[mf.GetName()] = mf.Metric[0].Counter.GetValue()
	}
	require.Equal(t, 1.0, values["rampburst_bursts_accepted_total"])
	require.Equal(t, 1.0, values["rampburst_bursts_completed_total"])
	require.Equal(t, 12.0, values["rampburst_valid_samples_total"])
}

func TestNewRejectsBadGuard(t *testing.T) {
	cfg := &config.Config{Jobs: []config.JobConfig{
		{ID: "bad", RampStart: u32(0), RampEnd: u32(0), When: "tick +"},
	}}
	_, err := New(cfg, zerolog.Nop())
	require.Error(t, err)
	require.Error(t, Validate(cfg))

	cfg.Jobs[0].When = `state == "idle"`
	require.NoError(t, Validate(cfg))

	cfg.Jobs[0].When = "tick"
	require.Error(t, Validate(cfg), "guards must be boolean")
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	cfg := &config.Config{Cycle: config.Duration{Duration: time.Millisecond}}
	svc, _ := newTestService(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.Status().RawTicks > 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}

func TestServicePauseAndStep(t *testing.T) {
	svc, _ := newTestService(t, &config.Config{})
	svc.Pause()
	require.Equal(t, "pause", svc.Status().Control.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, svc.Status().RawTicks)

	svc.StepOnce()
	require.Eventually(t, func() bool { return svc.Status().RawTicks == 1 }, time.Second, time.Millisecond)

	svc.SetInterval(2 * time.Millisecond)
	require.Equal(t, 2*time.Millisecond, svc.Status().Control.Interval)
	svc.Resume()
	require.Eventually(t, func() bool { return svc.Status().RawTicks > 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: zerolog.New(&buf).Level(zerolog.InfoLevel)}

	require.NoError(t, sink.Publish(Record{State: "step", Valid: true}))
	require.Empty(t, buf.String())

	require.NoError(t, sink.Publish(Record{State: "idle", Accepted: true, Job: "sweep", RampHz: "100"}))
	require.Contains(t, buf.String(), "burst accepted")
	require.Contains(t, buf.String(), `"ramp_hz":"100"`)
}
