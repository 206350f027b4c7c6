package burst

import "fmt"

// Segment tags the active portion of a burst.
type Segment uint8

const (
	// SegmentIdle holds the output at the last ramp end between bursts.
	SegmentIdle Segment = iota
	// SegmentPre settles on the ramp start value.
	SegmentPre
	// SegmentStep walks the ramp.
	SegmentStep
	// SegmentPost settles on the ramp end value.
	SegmentPost
)

// Valid reports whether s is one of the declared segments.
func (s Segment) Valid() bool { return s <= SegmentPost }

func (s Segment) String() string {
	switch s {
	case SegmentIdle:
		return "idle"
	case SegmentPre:
		return "pre"
	case SegmentStep:
		return "step"
	case SegmentPost:
		return "post"
	}
	return fmt.Sprintf("segment(%d)", uint8(s))
}

// ParseSegment maps a segment name back to its tag.
func ParseSegment(name string) (Segment, error) {
	switch name {
	case "idle":
		return SegmentIdle, nil
	case "pre":
		return SegmentPre, nil
	case "step":
		return SegmentStep, nil
	case "post":
		return SegmentPost, nil
	}
	return 0, fmt.Errorf("unknown segment %q", name)
}
