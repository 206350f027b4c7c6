package burst

import (
	"errors"
	"fmt"

	"github.com/timzifer/rampburst/timing"
)

var (
	// ErrFieldOverflow reports a program field that does not fit its register width.
	ErrFieldOverflow = errors.New("field exceeds register width")
	// ErrInvalidWidth reports a register width outside 1..32 bits.
	ErrInvalidWidth = errors.New("invalid register width")
)

// Program is one burst command: CYCLES+1 repetitions of PRE, a STEP hold per
// ramp value and POST. Durations are expressed in sample ticks.
type Program struct {
	Cycles       uint32 `json:"cycles" yaml:"cycles"`
	RampStart    uint32 `json:"ramp_start" yaml:"ramp_start"`
	RampEnd      uint32 `json:"ramp_end" yaml:"ramp_end"`
	PreDuration  uint32 `json:"pre" yaml:"pre"`
	StepDuration uint32 `json:"step" yaml:"step"`
	PostDuration uint32 `json:"post" yaml:"post"`
}

// Widths describes the register widths of the command bank in bits.
type Widths struct {
	Ramp   uint8 `json:"ramp" yaml:"ramp"`
	Sample uint8 `json:"sample" yaml:"sample"`
	Cycle  uint8 `json:"cycle" yaml:"cycle"`
}

// DefaultWidths matches a 16 bit DAC code, 16 bit durations and an 8 bit
// repeat counter.
var DefaultWidths = Widths{Ramp: 16, Sample: 16, Cycle: 8}

// Validate checks every width lies in 1..32.
func (w Widths) Validate() error {
	var errs []error
	check := func(name string, bits uint8) {
		if bits == 0 || bits > 32 {
			errs = append(errs, fmt.Errorf("%s width %d: %w", name, bits, ErrInvalidWidth))
		}
	}
	check("ramp", w.Ramp)
	check("sample", w.Sample)
	check("cycle", w.Cycle)
	return errors.Join(errs...)
}

// Mask returns the all-ones value for a register of the given width.
func Mask(bits uint8) uint32 {
	if bits >= 32 {
		return ^uint32(0)
	}
	return uint32(1)<<bits - 1
}

// Validate reports every field that overflows its register.
func (p Program) Validate(w Widths) error {
	if err := w.Validate(); err != nil {
		return err
	}
	var errs []error
	check := func(name string, value uint32, bits uint8) {
		if value > Mask(bits) {
			errs = append(errs, fmt.Errorf("%s %d does not fit %d bits: %w", name, value, bits, ErrFieldOverflow))
		}
	}
	check("cycles", p.Cycles, w.Cycle)
	check("ramp_start", p.RampStart, w.Ramp)
	check("ramp_end", p.RampEnd, w.Ramp)
	check("pre", p.PreDuration, w.Sample)
	check("step", p.StepDuration, w.Sample)
	check("post", p.PostDuration, w.Sample)
	return errors.Join(errs...)
}

// truncate drops the bits a register of the given widths cannot hold.
func (p Program) truncate(w Widths) Program {
	return Program{
		Cycles:       p.Cycles & Mask(w.Cycle),
		RampStart:    p.RampStart & Mask(w.Ramp),
		RampEnd:      p.RampEnd & Mask(w.Ramp),
		PreDuration:  p.PreDuration & Mask(w.Sample),
		StepDuration: p.StepDuration & Mask(w.Sample),
		PostDuration: p.PostDuration & Mask(w.Sample),
	}
}

// RampSteps returns the number of frequency codes visited per STEP segment.
func (p Program) RampSteps() uint64 {
	return timing.RampSteps(p.RampStart, p.RampEnd)
}

// Repetitions returns how many PRE/STEP/POST passes the program runs.
func (p Program) Repetitions() uint64 { return uint64(p.Cycles) + 1 }

// SampleTicks returns the number of valid samples one run produces.
func (p Program) SampleTicks() uint64 {
	perCycle := uint64(p.PreDuration) + uint64(p.StepDuration)*p.RampSteps() + uint64(p.PostDuration)
	return p.Repetitions() * perCycle
}

// LogicalTicks returns the number of sample-clock ticks from the accepting
// tick through the tick that returns the controller to idle, inclusive.
// Zero-length PRE and POST cost nothing; a zero-length STEP still spends
// one tick per ramp value.
func (p Program) LogicalTicks() uint64 {
	step := p.RampSteps()
	if p.StepDuration > 0 {
		step *= uint64(p.StepDuration)
	}
	perCycle := uint64(p.PreDuration) + step + uint64(p.PostDuration)
	return 1 + p.Repetitions()*perCycle
}
