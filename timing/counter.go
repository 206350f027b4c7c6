package timing

// RampCounter walks from a start value toward an end value, one step per
// Advance. The direction follows from comparing both bounds so the walk
// always terminates.
type RampCounter struct {
	start uint32
	end   uint32
	value uint32
}

// Load installs new bounds and moves the counter to start.
func (c *RampCounter) Load(start, end uint32) {
	c.start = start
	c.end = end
	c.value = start
}

// Reset returns the counter to the start value of the current bounds.
func (c *RampCounter) Reset() {
	c.value = c.start
}

// Advance moves one step toward the end value. It is a no-op once done.
func (c *RampCounter) Advance() uint32 {
	switch {
	case c.value < c.end:
		c.value++
	case c.value > c.end:
		c.value--
	}
	return c.value
}

// Value returns the current position.
func (c *RampCounter) Value() uint32 { return c.value }

// Done reports whether the counter sits on the end value.
func (c *RampCounter) Done() bool { return c.value == c.end }

// Steps returns the number of distinct values between start and end inclusive.
func (c *RampCounter) Steps() uint64 { return RampSteps(c.start, c.end) }

// RampSteps returns the number of values visited when walking from start to
// end inclusive.
func RampSteps(start, end uint32) uint64 {
	if end >= start {
		return uint64(end-start) + 1
	}
	return uint64(start-end) + 1
}
