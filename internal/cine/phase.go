package cine

import "fmt"

// Phase is the closed set of slot lifecycle states.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseMJPEGLoading
	PhaseMJPEGPlaying
	PhaseTransitionPrepare
	PhaseTransitioning
	PhaseCornerstone
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{
	PhaseIdle,
	PhaseMJPEGLoading,
	PhaseMJPEGPlaying,
	PhaseTransitionPrepare,
	PhaseTransitioning,
	PhaseCornerstone,
}

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMJPEGLoading:
		return "mjpeg-loading"
	case PhaseMJPEGPlaying:
		return "mjpeg-playing"
	case PhaseTransitionPrepare:
		return "transition-prepare"
	case PhaseTransitioning:
		return "transitioning"
	case PhaseCornerstone:
		return "cornerstone"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Badge is the short label shown next to a slot.
func (p Phase) Badge() string {
	switch p {
	case PhaseIdle:
		return "empty"
	case PhaseMJPEGLoading:
		return "loading"
	case PhaseMJPEGPlaying:
		return "fast"
	case PhaseTransitionPrepare:
		return "upgrade pending"
	case PhaseTransitioning:
		return "upgrading"
	case PhaseCornerstone:
		return "full fidelity"
	}
	return "unknown"
}

// FastPath reports whether the render loop paints this phase from the frame cache.
func (p Phase) FastPath() bool {
	switch p {
	case PhaseMJPEGLoading, PhaseMJPEGPlaying, PhaseTransitionPrepare:
		return true
	case PhaseIdle, PhaseTransitioning, PhaseCornerstone:
		return false
	}
	return false
}

// Valid reports whether p is one of the declared phases.
func (p Phase) Valid() bool {
	return p >= PhaseIdle && p <= PhaseCornerstone
}

// ParsePhase converts the wire name back into a Phase.
func ParsePhase(value string) (Phase, error) {
	for _, p := range Phases {
		if p.String() == value {
			return p, nil
		}
	}
	return PhaseIdle, fmt.Errorf("unknown phase %q", value)
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid phase %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
