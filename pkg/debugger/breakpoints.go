package debugger

import (
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// BreakpointKind defines the role of an instrumentation breakpoint
type BreakpointKind int

const (
	// CallSite breaks on a call instruction, before the callee runs
	CallSite BreakpointKind = iota
	// FunctionEntry breaks on the first instruction of a callee
	FunctionEntry
	// ReturnSite breaks on a return instruction, before the function returns
	ReturnSite
)

// String returns the string representation of the BreakpointKind
func (k BreakpointKind) String() string {
	switch k {
	case CallSite:
		return "CallSite"
	case FunctionEntry:
		return "FunctionEntry"
	case ReturnSite:
		return "ReturnSite"
	default:
		return "Unknown"
	}
}

// Breakpoint is an installed instrumentation point. Function is the callee
// for CallSite and FunctionEntry breakpoints and the returning function for
// ReturnSite breakpoints; Caller is the function that led to it.
type Breakpoint struct {
	ID       int
	Addr     uint64
	Kind     BreakpointKind
	Function string
	Caller   string
}

func (bp *Breakpoint) String() string {
	if bp.Caller == "" {
		return fmt.Sprintf("#%d %s %s at 0x%x", bp.ID, bp.Kind, bp.Function, bp.Addr)
	}
	return fmt.Sprintf("#%d %s %s (from %s) at 0x%x", bp.ID, bp.Kind, bp.Function, bp.Caller, bp.Addr)
}

// BreakpointRegistry records installed breakpoints by address. An address
// carries at most one breakpoint; records are never mutated once added.
type BreakpointRegistry struct {
	mu          sync.RWMutex
	breakpoints map[uint64]*Breakpoint
	nextID      int
}

// NewBreakpointRegistry creates an empty registry
func NewBreakpointRegistry() *BreakpointRegistry {
	return &BreakpointRegistry{
		breakpoints: make(map[uint64]*Breakpoint),
		nextID:      1,
	}
}

// Has reports whether a breakpoint is registered at addr
func (r *BreakpointRegistry) Has(addr uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.breakpoints[addr]
	return ok
}

// Add registers a breakpoint. It fails if addr is already taken.
func (r *BreakpointRegistry) Add(addr uint64, kind BreakpointKind, function, caller string) (*Breakpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.breakpoints[addr]; ok {
		return nil, fmt.Errorf("address 0x%x already has breakpoint %v", addr, existing)
	}
	bp := &Breakpoint{
		ID:       r.nextID,
		Addr:     addr,
		Kind:     kind,
		Function: function,
		Caller:   caller,
	}
	r.nextID++
	r.breakpoints[addr] = bp
	return bp, nil
}

// Get returns the breakpoint at addr
func (r *BreakpointRegistry) Get(addr uint64) (*Breakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bp, ok := r.breakpoints[addr]
	return bp, ok
}

// Remove drops the breakpoint at addr
func (r *BreakpointRegistry) Remove(addr uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.breakpoints[addr]; !ok {
		return fmt.Errorf("no breakpoint at 0x%x", addr)
	}
	delete(r.breakpoints, addr)
	return nil
}

// List returns all breakpoints ordered by address
func (r *BreakpointRegistry) List() []*Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrs := maps.Keys(r.breakpoints)
	slices.Sort(addrs)
	out := make([]*Breakpoint, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, r.breakpoints[a])
	}
	return out
}

// Count returns the number of breakpoints of the given kind
func (r *BreakpointRegistry) Count(kind BreakpointKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, bp := range r.breakpoints {
		if bp.Kind == kind {
			n++
		}
	}
	return n
}

// Len returns the number of registered breakpoints
func (r *BreakpointRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakpoints)
}
