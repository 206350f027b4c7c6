package burst

import (
	"fmt"

	"github.com/timzifer/rampburst/timing"
)

// EngineConfig configures the sample clock and the command bank.
type EngineConfig struct {
	// SamplePeriod is the number of raw ticks between sample pulses.
	SamplePeriod uint32
	Widths       Widths
}

// Engine drives a Controller from raw ticks. The sample clock runs on every
// raw tick; the controller only advances on ticks that carry a sample pulse.
type Engine struct {
	pulse *timing.PulseGenerator
	ctrl  *Controller

	rawTicks     uint64
	logicalTicks uint64
}

// NewEngine builds an idle engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	ctrl, err := NewController(cfg.Widths)
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}
	return &Engine{pulse: timing.NewPulseGenerator(cfg.SamplePeriod), ctrl: ctrl}, nil
}

// Tick advances one raw tick. Reset acts on the tick it is presented,
// independent of the sample clock, and does not disturb the clock phase.
func (e *Engine) Tick(in Inputs) Outputs {
	e.rawTicks++
	pulse := e.pulse.Tick()
	var out Outputs
	switch {
	case in.Reset:
		e.ctrl.Reset()
		out = e.ctrl.hold()
	case pulse:
		e.logicalTicks++
		out = e.ctrl.Step(in)
	default:
		out = e.ctrl.hold()
	}
	out.SamplePulse = pulse
	return out
}

// Reset returns the controller to idle without consuming a tick.
func (e *Engine) Reset() { e.ctrl.Reset() }

// Controller exposes the owned controller for inspection.
func (e *Engine) Controller() *Controller { return e.ctrl }

// RawTicks returns the number of raw ticks processed.
func (e *Engine) RawTicks() uint64 { return e.rawTicks }

// LogicalTicks returns the number of sample pulses processed.
func (e *Engine) LogicalTicks() uint64 { return e.logicalTicks }

// SamplePeriod returns the configured sample period in raw ticks.
func (e *Engine) SamplePeriod() uint32 { return e.pulse.Period() }
