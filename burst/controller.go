package burst

import (
	"github.com/timzifer/rampburst/timing"
)

// Inputs are the signals sampled by the controller on a tick.
type Inputs struct {
	// ValidIn offers Program for acceptance. It is only honoured while the
	// controller is ready.
	ValidIn bool
	Program Program
	// Reset abandons any run and takes precedence over everything else.
	Reset bool
}

// Outputs are the signals produced by one tick.
//
// RampOut, ValidOut and State describe the segment that was active during the
// tick, so a sample flagged valid is always paired with the code it was taken
// at. ReadyOut, CycleCount and SampleCount reflect the state after the tick.
type Outputs struct {
	SamplePulse bool
	RampOut     uint32
	ValidOut    bool
	State       Segment
	ReadyOut    bool
	CycleCount  uint32
	SampleCount uint32
	// Accepted is set on the tick a command was latched.
	Accepted bool
	// Completed is set on the tick the last POST finished.
	Completed bool
}

// Controller sequences one burst program at a time. Each call to Step is one
// sample-clock tick. A Controller is not safe for concurrent use.
type Controller struct {
	widths     Widths
	sampleMask uint32

	bank  commandBank
	timer timing.ElapsedTimer
	ramp  timing.RampCounter

	state   Segment
	cycle   uint32
	samples uint32
	rampOut uint32
}

// NewController creates an idle controller with the given register widths.
func NewController(widths Widths) (*Controller, error) {
	if err := widths.Validate(); err != nil {
		return nil, err
	}
	return &Controller{widths: widths, sampleMask: Mask(widths.Sample)}, nil
}

// Reset returns to idle and clears the command bank, the timer, the ramp
// counter and all progress counters.
func (c *Controller) Reset() {
	c.bank.clear()
	c.timer.Reset()
	c.ramp.Load(0, 0)
	c.state = SegmentIdle
	c.cycle = 0
	c.samples = 0
	c.rampOut = 0
}

// Ready reports whether a command would be accepted on the next tick.
func (c *Controller) Ready() bool { return c.state == SegmentIdle }

// State returns the current segment.
func (c *Controller) State() Segment { return c.state }

// Program returns the latched command.
func (c *Controller) Program() Program { return c.bank.program() }

// Widths returns the configured register widths.
func (c *Controller) Widths() Widths { return c.widths }

// Step advances the controller by one sample tick.
func (c *Controller) Step(in Inputs) Outputs {
	if in.Reset {
		c.Reset()
		return c.hold()
	}

	prog := c.bank.program()
	out := Outputs{State: c.state}
	out.RampOut = frequency(c.state, prog, c.ramp.Value())

	switch c.state {
	case SegmentIdle:
		if in.ValidIn {
			c.accept(in.Program)
			out.Accepted = true
		}
	case SegmentPre, SegmentStep, SegmentPost:
		// Only STEP is ever active with a zero duration; it walks one ramp
		// value per tick without sampling.
		if zeroDuration(c.state, prog) {
			out.Completed = c.finishSegment(prog)
			break
		}
		out.ValidOut = true
		c.samples = (c.samples + 1) & c.sampleMask
		if c.timer.Advance() {
			out.Completed = c.finishSegment(prog)
		}
	}

	c.rampOut = out.RampOut
	out.ReadyOut = c.Ready()
	out.CycleCount = c.cycle
	out.SampleCount = c.samples
	return out
}

// hold reports the registered outputs without advancing.
func (c *Controller) hold() Outputs {
	return Outputs{
		RampOut:     c.rampOut,
		State:       c.state,
		ReadyOut:    c.Ready(),
		CycleCount:  c.cycle,
		SampleCount: c.samples,
	}
}

func (c *Controller) accept(p Program) {
	prog := c.bank.load(true, p.truncate(c.widths))
	c.cycle = 0
	c.samples = 0
	c.enter(SegmentPre, prog)
}

// enter makes seg the active segment. A zero-length PRE or POST is passed
// straight through, so the segment after it starts on the same tick. It
// reports whether passing through completed the run.
func (c *Controller) enter(seg Segment, prog Program) bool {
	c.state = seg
	c.timer.Restart(timerTarget(seg, prog))
	if seg == SegmentStep {
		c.ramp.Load(prog.RampStart, prog.RampEnd)
		return false
	}
	if zeroDuration(seg, prog) {
		return c.finishSegment(prog)
	}
	return false
}

// finishSegment moves past the active segment and reports whether the run
// completed.
func (c *Controller) finishSegment(prog Program) bool {
	switch c.state {
	case SegmentPre:
		return c.enter(SegmentStep, prog)
	case SegmentStep:
		if !c.ramp.Done() {
			c.ramp.Advance()
			c.timer.Restart(prog.StepDuration)
			return false
		}
		return c.enter(SegmentPost, prog)
	case SegmentPost:
		if c.cycle >= prog.Cycles {
			c.complete()
			return true
		}
		c.cycle++
		c.samples = 0
		return c.enter(SegmentPre, prog)
	}
	return false
}

func (c *Controller) complete() {
	c.state = SegmentIdle
	c.timer.Reset()
	c.cycle = 0
	c.samples = 0
}
