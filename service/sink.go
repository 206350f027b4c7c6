package service

import (
	"sync"

	"github.com/rs/zerolog"
)

// Record is the result of one raw tick as seen by downstream consumers.
type Record struct {
	RawTick     uint64 `json:"raw_tick"`
	Tick        uint64 `json:"tick"`
	Job         string `json:"job,omitempty"`
	State       string `json:"state"`
	RampCode    uint32 `json:"ramp_code"`
	RampHz      string `json:"ramp_hz,omitempty"`
	Cycle       uint32 `json:"cycle"`
	Sample      uint32 `json:"sample"`
	Valid       bool   `json:"valid"`
	SamplePulse bool   `json:"sample_pulse"`
	Ready       bool   `json:"ready"`
	Accepted    bool   `json:"accepted,omitempty"`
	Completed   bool   `json:"completed,omitempty"`
	Reset       bool   `json:"reset,omitempty"`
}

// Event reports whether the record marks a handshake, completion or reset.
func (r Record) Event() bool { return r.Accepted || r.Completed || r.Reset }

// Sink consumes result records. Publish runs on the tick loop.
type Sink interface {
	Publish(Record) error
}

// LogSink writes records to a zerolog logger. Events are logged at info,
// valid samples at debug and everything else at trace.
type LogSink struct {
	Logger zerolog.Logger
}

// Publish implements Sink.
func (l LogSink) Publish(r Record) error {
	var ev *zerolog.Event
	switch {
	case r.Event():
		ev = l.Logger.Info()
	case r.Valid:
		ev = l.Logger.Debug()
	default:
		ev = l.Logger.Trace()
	}
	ev.Uint64("tick", r.Tick).
		Str("job", r.Job).
		Str("state", r.State).
		Uint32("ramp_code", r.RampCode).
		Uint32("cycle", r.Cycle).
		Uint32("sample", r.Sample).
		Bool("valid", r.Valid)
	if r.RampHz != "" {
		ev.Str("ramp_hz", r.RampHz)
	}
	switch {
	case r.Reset:
		ev.Msg("controller reset")
	case r.Accepted:
		ev.Msg("burst accepted")
	case r.Completed:
		ev.Msg("burst completed")
	default:
		ev.Msg("sample")
	}
	return nil
}

// MemorySink keeps every published record.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// Publish implements Sink.
func (m *MemorySink) Publish(r Record) error {
	m.mu.Lock()
	m.records = append(m.records, r)
	m.mu.Unlock()
	return nil
}

// Records returns a copy of the collected records.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Valid returns the records flagged as valid samples.
func (m *MemorySink) Valid() []Record {
	var out []Record
	for _, r := range m.Records() {
		if r.Valid {
			out = append(out, r)
		}
	}
	return out
}
