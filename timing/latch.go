package timing

// Latch holds a value that only changes on an explicit load.
type Latch[T any] struct {
	value T
}

// Load captures in when enable is set and returns the held value.
func (l *Latch[T]) Load(enable bool, in T) T {
	if enable {
		l.value = in
	}
	return l.value
}

// Value returns the held value.
func (l *Latch[T]) Value() T { return l.value }

// Clear restores the zero value.
func (l *Latch[T]) Clear() {
	var zero T
	l.value = zero
}
