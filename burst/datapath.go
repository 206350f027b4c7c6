package burst

import (
	"fmt"

	"github.com/timzifer/rampburst/timing"
)

// frequency selects the code driven onto the ramp output for a segment.
func frequency(seg Segment, p Program, ramp uint32) uint32 {
	switch seg {
	case SegmentPre:
		return p.RampStart
	case SegmentStep:
		return ramp
	case SegmentPost, SegmentIdle:
		return p.RampEnd
	}
	panic(fmt.Sprintf("burst: frequency for %s", seg))
}

// timerTarget selects the duration the elapsed timer counts in a segment.
func timerTarget(seg Segment, p Program) uint32 {
	switch seg {
	case SegmentPre:
		return p.PreDuration
	case SegmentStep:
		return p.StepDuration
	case SegmentPost:
		return p.PostDuration
	case SegmentIdle:
		return 0
	}
	panic(fmt.Sprintf("burst: timer target for %s", seg))
}

// zeroDuration reports whether a segment contributes no sample ticks.
func zeroDuration(seg Segment, p Program) bool {
	if seg == SegmentIdle {
		return false
	}
	return timerTarget(seg, p) == 0
}

// commandBank holds one register per program field, all loaded together.
type commandBank struct {
	cycles    timing.Latch[uint32]
	rampStart timing.Latch[uint32]
	rampEnd   timing.Latch[uint32]
	pre       timing.Latch[uint32]
	step      timing.Latch[uint32]
	post      timing.Latch[uint32]
}

func (b *commandBank) load(enable bool, p Program) Program {
	return Program{
		Cycles:       b.cycles.Load(enable, p.Cycles),
		RampStart:    b.rampStart.Load(enable, p.RampStart),
		RampEnd:      b.rampEnd.Load(enable, p.RampEnd),
		PreDuration:  b.pre.Load(enable, p.PreDuration),
		StepDuration: b.step.Load(enable, p.StepDuration),
		PostDuration: b.post.Load(enable, p.PostDuration),
	}
}

func (b *commandBank) program() Program {
	return b.load(false, Program{})
}

func (b *commandBank) clear() {
	b.cycles.Clear()
	b.rampStart.Clear()
	b.rampEnd.Clear()
	b.pre.Clear()
	b.step.Clear()
	b.post.Clear()
}
