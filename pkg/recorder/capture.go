package recorder

import (
	"fmt"
	"strings"

	"github.com/willibrandon/calltrace/pkg/inspect"
)

// Phase is the point of a designated call at which state was captured
type Phase int

const (
	// BeforeCall captures the caller just before the call instruction runs
	BeforeCall Phase = iota
	// BeforeReturn captures the callee just before it returns
	BeforeReturn
)

// String returns the string representation of the Phase
func (p Phase) String() string {
	switch p {
	case BeforeCall:
		return "before call"
	case BeforeReturn:
		return "before return"
	default:
		return "Unknown"
	}
}

// State returns the state label of a capture taken for function
func (p Phase) State(function string) string {
	return fmt.Sprintf("%s of %s", p, function)
}

// Capture is one state snapshot. Location is the caller of the designated
// call; the variable sets are mappings from name to formatted value.
type Capture struct {
	Location   string       `json:"location"`
	State      string       `json:"state"`
	LocalVars  inspect.Node `json:"local_vars"`
	GlobalVars inspect.Node `json:"global_vars"`
	MemberVars inspect.Node `json:"member_vars"`
	Arguments  inspect.Node `json:"arguments"`
	Line       int          `json:"line"`
	File       string       `json:"file,omitempty"`
	Function   string       `json:"function,omitempty"`
}

// NewCapture returns a capture with empty variable sets
func NewCapture(location string, phase Phase, function string) Capture {
	return Capture{
		Location:   location,
		State:      phase.State(function),
		LocalVars:  inspect.Mapping(),
		GlobalVars: inspect.Mapping(),
		MemberVars: inspect.Mapping(),
		Arguments:  inspect.Mapping(),
	}
}

// Matches reports whether the capture's location or state contains filter
func (c Capture) Matches(filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(c.Location, filter) || strings.Contains(c.State, filter)
}

// Document is the trace artifact written at exit
type Document struct {
	Breakpoints []Capture `json:"breakpoints"`
}
