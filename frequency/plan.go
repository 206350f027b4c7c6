// Package frequency converts between synthesizer frequency codes and Hz.
package frequency

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrOffGrid reports a frequency that does not land on a code.
var ErrOffGrid = errors.New("frequency is not on the code grid")

// ErrOutOfRange reports a frequency outside the codes a register can hold.
var ErrOutOfRange = errors.New("frequency out of code range")

// Plan maps code n to Base + n*Step Hz.
type Plan struct {
	Base    decimal.Decimal
	Step    decimal.Decimal
	MaxCode uint32
}

// NewPlan parses base and step from decimal strings. An empty base means 0 Hz.
func NewPlan(base, step string, maxCode uint32) (Plan, error) {
	b := decimal.Zero
	if base != "" {
		parsed, err := decimal.NewFromString(base)
		if err != nil {
			return Plan{}, fmt.Errorf("parse base frequency %q: %w", base, err)
		}
		b = parsed
	}
	if step == "" {
		return Plan{}, errors.New("frequency step is required")
	}
	s, err := decimal.NewFromString(step)
	if err != nil {
		return Plan{}, fmt.Errorf("parse frequency step %q: %w", step, err)
	}
	if !s.IsPositive() {
		return Plan{}, fmt.Errorf("frequency step %s must be positive", s)
	}
	if b.IsNegative() {
		return Plan{}, fmt.Errorf("base frequency %s must not be negative", b)
	}
	return Plan{Base: b, Step: s, MaxCode: maxCode}, nil
}

// Hz returns the frequency produced by code.
func (p Plan) Hz(code uint32) decimal.Decimal {
	return p.Base.Add(p.Step.Mul(decimal.NewFromInt(int64(code))))
}

// Code returns the code that produces hz exactly.
func (p Plan) Code(hz decimal.Decimal) (uint32, error) {
	offset := hz.Sub(p.Base)
	if offset.IsNegative() {
		return 0, fmt.Errorf("%s Hz below base %s Hz: %w", hz, p.Base, ErrOutOfRange)
	}
	n := offset.Div(p.Step)
	if !offset.Equal(n.Truncate(0).Mul(p.Step)) {
		return 0, fmt.Errorf("%s Hz with step %s Hz: %w", hz, p.Step, ErrOffGrid)
	}
	if n.GreaterThan(decimal.NewFromInt(int64(p.MaxCode))) {
		return 0, fmt.Errorf("%s Hz needs code %s above %d: %w", hz, n.Truncate(0), p.MaxCode, ErrOutOfRange)
	}
	return uint32(n.IntPart()), nil
}

// CodeString parses hz and returns its code.
func (p Plan) CodeString(hz string) (uint32, error) {
	value, err := decimal.NewFromString(hz)
	if err != nil {
		return 0, fmt.Errorf("parse frequency %q: %w", hz, err)
	}
	return p.Code(value)
}
