package timing

// PulseGenerator emits a single-tick pulse every period ticks. It runs
// continuously; nothing but Reset restarts its phase.
type PulseGenerator struct {
	period uint32
	phase  uint32
}

// NewPulseGenerator creates a generator. A period of zero is treated as one,
// i.e. every tick pulses.
func NewPulseGenerator(period uint32) *PulseGenerator {
	if period == 0 {
		period = 1
	}
	return &PulseGenerator{period: period}
}

// Tick advances one raw tick and reports whether this tick carries a pulse.
// The first pulse occurs on tick number period.
func (p *PulseGenerator) Tick() bool {
	p.phase++
	if p.phase >= p.period {
		p.phase = 0
		return true
	}
	return false
}

// Reset restarts the phase.
func (p *PulseGenerator) Reset() { p.phase = 0 }

// Period returns the configured period in raw ticks.
func (p *PulseGenerator) Period() uint32 { return p.period }
