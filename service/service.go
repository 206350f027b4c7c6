package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/rampburst/burst"
	"github.com/timzifer/rampburst/config"
	"github.com/timzifer/rampburst/frequency"
	"github.com/timzifer/rampburst/telemetry"
)

// Service hosts one sequencer engine. It pulls commands from the scheduler,
// ticks the engine at the configured cycle interval and publishes every
// tick to the sinks.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	mu        sync.Mutex
	engine    *burst.Engine
	scheduler *scheduler
	plan      frequency.Plan
	hasPlan   bool
	sinks     []Sink
	telemetry telemetry.Collector
	pacer     *tickPacer

	active    string
	completed uint64
	last      Record
	draining  bool

	resetRequested atomic.Bool
}

// Option customises a service during construction.
type Option func(*Service)

// WithSink adds a downstream consumer of tick records.
func WithSink(sink Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// WithTelemetry installs a telemetry collector.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(s *Service) {
		if collector != nil {
			s.telemetry = collector
		}
	}
}

// New builds a service from configuration.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	engine, err := burst.NewEngine(burst.EngineConfig{SamplePeriod: cfg.SamplePeriod(), Widths: cfg.Widths()})
	if err != nil {
		return nil, err
	}
	sched, err := newScheduler(cfg)
	if err != nil {
		return nil, err
	}
	plan, hasPlan, err := cfg.FrequencyPlan()
	if err != nil {
		return nil, err
	}
	svc := &Service{
		cfg:       cfg,
		logger:    logger.With().Str("component", "sequencer").Logger(),
		engine:    engine,
		scheduler: sched,
		plan:      plan,
		hasPlan:   hasPlan,
		telemetry: telemetry.Noop(),
		pacer:     newTickPacer(cfg.CycleInterval()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	svc.telemetry.SetSegment(burst.SegmentIdle.String())
	svc.logger.Info().
		Uint32("sample_period", engine.SamplePeriod()).
		Int("jobs", sched.pending()).
		Dur("cycle", cfg.CycleInterval()).
		Msg("sequencer ready")
	return svc, nil
}

// Validate performs a dry-run validation of the configuration, including
// job guard compilation.
func Validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	_, err := newScheduler(cfg)
	return err
}

// Run executes the tick loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	for {
		now, err := s.pacer.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := s.IterateOnce(ctx, now); err != nil {
			s.logger.Error().Err(err).Msg("iteration failure")
		}
	}
}

// IterateOnce performs a single raw tick.
func (s *Service) IterateOnce(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctrl := s.engine.Controller()
	in := burst.Inputs{Reset: s.resetRequested.Swap(false)}
	var offered *job
	var guardErr error
	if !in.Reset && !s.draining && ctrl.Ready() {
		offered, guardErr = s.scheduler.head(s.guardEnv())
		if offered != nil {
			in.ValidIn = true
			in.Program = offered.program
		}
	}

	out := s.engine.Tick(in)

	jobID := s.active
	switch {
	case in.Reset:
		s.telemetry.IncReset()
		s.logger.Warn().Str("job", s.active).Msg("controller reset, run abandoned")
		s.active = ""
		jobID = ""
	case out.Accepted:
		s.scheduler.accepted(offered)
		s.active = offered.id
		s.telemetry.IncBurstAccepted(offered.id)
		s.logger.Info().
			Str("job", offered.id).
			Uint32("ramp_start", offered.program.RampStart).
			Uint32("ramp_end", offered.program.RampEnd).
			Uint64("expected_samples", offered.program.SampleTicks()).
			Msg("burst accepted")
		jobID = offered.id
	}
	if out.ValidOut {
		s.telemetry.AddValidSamples(jobID, 1)
	}
	if out.Completed {
		s.completed++
		s.telemetry.IncBurstCompleted(jobID)
		s.logger.Info().Str("job", jobID).Uint64("completed", s.completed).Msg("burst completed")
		s.active = ""
	}
	if out.SamplePulse || in.Reset {
		s.telemetry.SetRampCode(out.RampOut)
		s.telemetry.SetSegment(ctrl.State().String())
		s.telemetry.SetCycle(out.CycleCount)
	}

	record := s.record(out, jobID, in.Reset)
	s.last = record
	if out.SamplePulse || in.Reset {
		s.publish(record)
	}
	return guardErr
}

func (s *Service) guardEnv() GuardEnv {
	return GuardEnv{
		Tick:      int(s.engine.LogicalTicks()),
		RawTick:   int(s.engine.RawTicks()),
		Completed: int(s.completed),
		Ready:     s.engine.Controller().Ready(),
		State:     s.engine.Controller().State().String(),
	}
}

func (s *Service) record(out burst.Outputs, job string, reset bool) Record {
	r := Record{
		RawTick:     s.engine.RawTicks(),
		Tick:        s.engine.LogicalTicks(),
		Job:         job,
		State:       out.State.String(),
		RampCode:    out.RampOut,
		Cycle:       out.CycleCount,
		Sample:      out.SampleCount,
		Valid:       out.ValidOut,
		SamplePulse: out.SamplePulse,
		Ready:       out.ReadyOut,
		Accepted:    out.Accepted,
		Completed:   out.Completed,
		Reset:       reset,
	}
	if s.hasPlan {
		r.RampHz = s.plan.Hz(out.RampOut).String()
	}
	return r
}

func (s *Service) publish(r Record) {
	for _, sink := range s.sinks {
		if err := sink.Publish(r); err != nil {
			s.logger.Warn().Err(err).Msg("sink publish failed")
		}
	}
}

// Submit queues a program for the controller. Without a queue limit the
// call fails with ErrBusy unless the controller is idle.
func (s *Service) Submit(id string, prog burst.Program) error {
	if err := prog.Validate(s.cfg.Widths()); err != nil {
		return fmt.Errorf("submit %s: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return fmt.Errorf("submit %s: %w", id, ErrDraining)
	}
	if err := s.scheduler.submit(id, prog, s.engine.Controller().Ready()); err != nil {
		return fmt.Errorf("submit %s: %w", id, err)
	}
	s.logger.Debug().Str("job", id).Msg("program queued")
	return nil
}

// Reset requests a controller reset on the next tick.
func (s *Service) Reset() {
	s.resetRequested.Store(true)
}

// SetDraining stops or resumes offering commands to the controller. A burst
// already in flight runs to completion; once Idle reports true nothing new
// will start until draining is switched off.
func (s *Service) SetDraining(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining == on {
		return
	}
	s.draining = on
	s.logger.Info().Bool("draining", on).Str("job", s.active).Msg("command intake changed")
}

// Draining reports whether command intake is stopped.
func (s *Service) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// Idle reports whether no burst is in flight.
func (s *Service) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Controller().Ready()
}

// Pause stops the free-running tick loop.
func (s *Service) Pause() { s.pacer.setMode(controlModePause) }

// Resume restarts the free-running tick loop.
func (s *Service) Resume() { s.pacer.setMode(controlModeRun) }

// StepOnce pauses the loop and releases a single tick.
func (s *Service) StepOnce() { s.pacer.Step() }

// SetInterval changes the raw tick interval.
func (s *Service) SetInterval(d time.Duration) { s.pacer.SetInterval(d) }

// Status is a snapshot of the sequencer for diagnostics.
type Status struct {
	Control      ControlStatus `json:"control"`
	Last         Record        `json:"last"`
	Job          string        `json:"job,omitempty"`
	Ready        bool          `json:"ready"`
	Program      burst.Program `json:"program"`
	RawTicks     uint64        `json:"raw_ticks"`
	LogicalTicks uint64        `json:"logical_ticks"`
	Completed    uint64        `json:"completed"`
	Pending      int           `json:"pending"`
	Draining     bool          `json:"draining"`
	Failed       []string      `json:"failed,omitempty"`
}

// Status returns a diagnostic snapshot.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl := s.engine.Controller()
	return Status{
		Control:      s.pacer.Status(),
		Last:         s.last,
		Job:          s.active,
		Ready:        ctrl.Ready(),
		Program:      ctrl.Program(),
		RawTicks:     s.engine.RawTicks(),
		LogicalTicks: s.engine.LogicalTicks(),
		Completed:    s.completed,
		Pending:      s.scheduler.pending(),
		Draining:     s.draining,
		Failed:       s.scheduler.failedJobs(),
	}
}

// Close releases sinks that hold resources.
func (s *Service) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if closer, ok := sink.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
