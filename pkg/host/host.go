// Package host defines what the trace controller needs from a debugger:
// process control, raw-address breakpoints, disassembly and frame inspection.
package host

import (
	"errors"
	"fmt"

	"github.com/willibrandon/calltrace/pkg/inspect"
)

var (
	// ErrExited is returned by operations that need a live process
	ErrExited = errors.New("process exited")
	// ErrUnknownFunction is returned by Lookup for names the host cannot resolve
	ErrUnknownFunction = errors.New("unknown function")
)

// Stop describes where the process stopped after Start or Continue
type Stop struct {
	Addr       uint64
	Function   string
	File       string
	Line       int
	Exited     bool
	ExitStatus int
}

func (s Stop) String() string {
	if s.Exited {
		return fmt.Sprintf("exited with status %d", s.ExitStatus)
	}
	if s.File != "" {
		return fmt.Sprintf("0x%x in %s at %s:%d", s.Addr, s.Function, s.File, s.Line)
	}
	return fmt.Sprintf("0x%x in %s", s.Addr, s.Function)
}

// Instruction is one disassembled machine instruction
type Instruction struct {
	Addr     uint64
	Mnemonic string
	// Text is the full assembly text as the host prints it
	Text string
	// Target is the symbol a call or lea refers to, empty if unresolved
	Target string
	// TargetAddr is the address a call or lea refers to, 0 if unknown
	TargetAddr uint64
}

// Variable is a named value visible in a frame
type Variable struct {
	Name     string
	Argument bool
	Value    inspect.Value
}

// Frame is the innermost stack frame of the stopped process
type Frame interface {
	inspect.Printer

	Function() string
	File() string
	Line() int
	Locals() ([]Variable, error)
	Globals() ([]Variable, error)
	Arguments() ([]Variable, error)
	// Readable reports whether a trial read at addr succeeds
	Readable(addr uint64) bool
}

// Session is a debugging session on one traced process
type Session interface {
	// Start launches the process and stops at its entry point
	Start() (Stop, error)
	// Lookup returns the entry address of a function
	Lookup(function string) (uint64, error)
	// Disassemble returns the instructions of the function containing addr
	Disassemble(addr uint64) ([]Instruction, error)
	SetBreakpoint(addr uint64) error
	ClearBreakpoint(addr uint64) error
	// Continue resumes the process until the next breakpoint or exit
	Continue() (Stop, error)
	Frame() (Frame, error)
	Close() error
}
