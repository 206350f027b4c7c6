package timing

// ElapsedTimer counts enable pulses and reports completion once the count
// reaches its target.
//
// The timer never advances on its own: the owner calls Advance on the ticks
// that should count. A target of zero is reported done immediately, callers
// that need zero-length segments are expected to skip the timer instead.
type ElapsedTimer struct {
	target uint32
	count  uint32
}

// Restart clears the elapsed count and installs a new target.
func (t *ElapsedTimer) Restart(target uint32) {
	t.target = target
	t.count = 0
}

// Reset clears the elapsed count and the target.
func (t *ElapsedTimer) Reset() {
	t.target = 0
	t.count = 0
}

// Advance counts one enable pulse and reports whether the target was reached.
// The count saturates at the target.
func (t *ElapsedTimer) Advance() bool {
	if t.count < t.target {
		t.count++
	}
	return t.Done()
}

// Done reports whether the elapsed count equals the target.
func (t *ElapsedTimer) Done() bool { return t.count == t.target }

// Elapsed returns the number of counted pulses since the last restart.
func (t *ElapsedTimer) Elapsed() uint32 { return t.count }

// Target returns the configured target.
func (t *ElapsedTimer) Target() uint32 { return t.target }
