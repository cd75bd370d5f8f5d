// Package hosttest provides a scripted host.Session. A Program describes
// function bodies as instruction sequences; the session executes the program
// ahead of time and then replays the resulting instruction trace, stopping at
// whichever addresses currently carry a breakpoint.
package hosttest

import (
	"fmt"
	"sync"

	"github.com/willibrandon/calltrace/pkg/host"
	"github.com/willibrandon/calltrace/pkg/inspect"
)

const (
	// EntryAddr is where Start stops
	EntryAddr = 0x400000
	// TextBase is the address of the first function
	TextBase = 0x401000
	funcSpan = 0x1000
	instSize = 4

	externBase = 0x500000
	maxDepth   = 256
)

type opKind int

const (
	opNop opKind = iota
	opCall
	opLea
	opRet
	opIndirect
	opRepeat
)

// Op is one step of a function body
type Op struct {
	kind   opKind
	callee string
	times  int
	body   []Op
}

// Nop is an instruction with no effect
func Nop() Op { return Op{kind: opNop} }

// Call calls callee directly
func Call(callee string) Op { return Op{kind: opCall, callee: callee} }

// Lea takes the address of callee without calling it
func Lea(callee string) Op { return Op{kind: opLea, callee: callee} }

// Indirect is a call through a register
func Indirect() Op { return Op{kind: opIndirect} }

// Ret returns from the function
func Ret() Op { return Op{kind: opRet} }

// Repeat executes body n times; the body's instructions are laid out once
func Repeat(n int, body ...Op) Op { return Op{kind: opRepeat, times: n, body: body} }

// Func is one function of a Program
type Func struct {
	Name string
	Base uint64

	ops    []Op
	nodes  []*node
	instrs []host.Instruction
	locals []host.Variable
	args   []host.Variable
	limit  int
}

type node struct {
	addr   uint64
	kind   opKind
	callee string
	times  int
	body   []*node
}

// Local adds a local variable visible while the function executes
func (f *Func) Local(name string, v inspect.Value) *Func {
	f.locals = append(f.locals, host.Variable{Name: name, Value: v})
	return f
}

// Arg adds an argument visible while the function executes
func (f *Func) Arg(name string, v inspect.Value) *Func {
	f.args = append(f.args, host.Variable{Name: name, Argument: true, Value: v})
	return f
}

// Recursion bounds how many activations of f may be live at once. A call
// beyond the bound is skipped, as if a base case branched around it.
func (f *Func) Recursion(n int) *Func {
	f.limit = n
	return f
}

// Program is a scripted process image
type Program struct {
	Entry string
	File  string

	funcs    []*Func
	byName   map[string]*Func
	externs  map[string]uint64
	globals  []host.Variable
	unmapped map[uint64]bool
	pretty   map[string]string
}

// NewProgram creates a program whose execution starts at entry
func NewProgram(entry string) *Program {
	return &Program{
		Entry:    entry,
		File:     "main.c",
		byName:   make(map[string]*Func),
		externs:  make(map[string]uint64),
		unmapped: make(map[uint64]bool),
		pretty:   make(map[string]string),
	}
}

// Func defines a function. Functions are laid out in definition order.
func (p *Program) Func(name string, ops ...Op) *Func {
	f := &Func{
		Name: name,
		Base: TextBase + uint64(len(p.funcs))*funcSpan,
		ops:  ops,
	}
	p.funcs = append(p.funcs, f)
	p.byName[name] = f
	return f
}

// Global adds a global variable
func (p *Program) Global(name string, v inspect.Value) {
	p.globals = append(p.globals, host.Variable{Name: name, Value: v})
}

// Unmapped makes trial reads at addr fail
func (p *Program) Unmapped(addr uint64) {
	p.unmapped[addr] = true
}

// Pretty sets the pretty-printer output for symbol
func (p *Program) Pretty(symbol, text string) {
	p.pretty[symbol] = text
}

func (p *Program) targetAddr(name string) uint64 {
	if f, ok := p.byName[name]; ok {
		return f.Base
	}
	if a, ok := p.externs[name]; ok {
		return a
	}
	a := externBase + uint64(len(p.externs))*0x10
	p.externs[name] = a
	return a
}

func (p *Program) compile() {
	for _, f := range p.funcs {
		f.instrs = f.instrs[:0]
		next := f.Base
		f.nodes = p.layout(f, f.ops, &next)
	}
}

func (p *Program) layout(f *Func, ops []Op, next *uint64) []*node {
	nodes := make([]*node, 0, len(ops))
	for _, op := range ops {
		if op.kind == opRepeat {
			nodes = append(nodes, &node{kind: opRepeat, times: op.times, body: p.layout(f, op.body, next)})
			continue
		}
		n := &node{addr: *next, kind: op.kind, callee: op.callee}
		*next += instSize

		inst := host.Instruction{Addr: n.addr}
		switch op.kind {
		case opCall:
			inst.Mnemonic = "call"
			inst.Target = op.callee
			inst.TargetAddr = p.targetAddr(op.callee)
			inst.Text = fmt.Sprintf("call   0x%x <%s>", inst.TargetAddr, op.callee)
		case opLea:
			inst.Mnemonic = "lea"
			inst.Target = op.callee
			inst.TargetAddr = p.targetAddr(op.callee)
			inst.Text = fmt.Sprintf("lea    0x0(%%rip),%%rax        # 0x%x <%s>", inst.TargetAddr, op.callee)
		case opIndirect:
			inst.Mnemonic = "call"
			inst.Text = "call   *%rax"
		case opRet:
			inst.Mnemonic = "ret"
			inst.Text = "ret"
		default:
			inst.Mnemonic = "nop"
			inst.Text = "nop"
		}
		f.instrs = append(f.instrs, inst)
		nodes = append(nodes, n)
	}
	return nodes
}

type step struct {
	addr uint64
	fn   *Func
	line int
}

// Session replays a Program. It implements host.Session.
type Session struct {
	prog *Program

	mu          sync.Mutex
	trace       []step
	pos         int
	started     bool
	exited      bool
	breakpoints map[uint64]bool
	failing     map[uint64]error
	active      map[*Func]int

	// ExitStatus is reported when the replay runs off the end of the trace
	ExitStatus int
	// Set records every successful SetBreakpoint address in order
	Set []uint64
	// Stops records every address Continue stopped at
	Stops []uint64
	// Closed is true after Close
	Closed bool
}

// NewSession creates a session replaying p
func NewSession(p *Program) *Session {
	return &Session{
		prog:        p,
		pos:         -1,
		breakpoints: make(map[uint64]bool),
		failing:     make(map[uint64]error),
		active:      make(map[*Func]int),
	}
}

// FailBreakpoint makes SetBreakpoint at addr fail with err
func (s *Session) FailBreakpoint(addr uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[addr] = err
}

// HasBreakpoint reports whether a breakpoint is installed at addr
func (s *Session) HasBreakpoint(addr uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breakpoints[addr]
}

// Start implements host.Session
func (s *Session) Start() (host.Stop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.prog.byName[s.prog.Entry]
	if !ok {
		return host.Stop{}, fmt.Errorf("entry %s: %w", s.prog.Entry, host.ErrUnknownFunction)
	}
	s.prog.compile()
	s.trace = s.trace[:0]
	s.exec(entry, 0)
	s.started = true
	return host.Stop{Addr: EntryAddr, Function: "_start"}, nil
}

// exec appends the instructions f executes to the trace, stopping at the
// first return.
func (s *Session) exec(f *Func, depth int) {
	if depth > maxDepth {
		return
	}
	s.active[f]++
	s.execNodes(f, f.nodes, depth)
	s.active[f]--
}

func (s *Session) execNodes(f *Func, nodes []*node, depth int) bool {
	for _, n := range nodes {
		if n.kind == opRepeat {
			for i := 0; i < n.times; i++ {
				if s.execNodes(f, n.body, depth) {
					return true
				}
			}
			continue
		}
		if n.kind == opCall && s.skipped(n.callee) {
			continue
		}
		s.trace = append(s.trace, step{addr: n.addr, fn: f, line: int(n.addr-f.Base)/instSize + 1})
		switch n.kind {
		case opCall:
			if callee, ok := s.prog.byName[n.callee]; ok {
				s.exec(callee, depth+1)
			}
		case opRet:
			return true
		}
	}
	return false
}

func (s *Session) skipped(callee string) bool {
	f, ok := s.prog.byName[callee]
	return ok && f.limit > 0 && s.active[f] >= f.limit
}

// Lookup implements host.Session
func (s *Session) Lookup(function string) (uint64, error) {
	if f, ok := s.prog.byName[function]; ok {
		return f.Base, nil
	}
	return 0, fmt.Errorf("%s: %w", function, host.ErrUnknownFunction)
}

// Disassemble implements host.Session
func (s *Session) Disassemble(addr uint64) ([]host.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.prog.compile()
	}
	for _, f := range s.prog.funcs {
		if addr >= f.Base && addr < f.Base+funcSpan {
			out := make([]host.Instruction, len(f.instrs))
			copy(out, f.instrs)
			return out, nil
		}
	}
	return nil, fmt.Errorf("no function contains 0x%x", addr)
}

// SetBreakpoint implements host.Session
func (s *Session) SetBreakpoint(addr uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failing[addr]; ok {
		return err
	}
	if s.breakpoints[addr] {
		return fmt.Errorf("breakpoint exists at 0x%x", addr)
	}
	s.breakpoints[addr] = true
	s.Set = append(s.Set, addr)
	return nil
}

// ClearBreakpoint implements host.Session
func (s *Session) ClearBreakpoint(addr uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.breakpoints[addr] {
		return fmt.Errorf("no breakpoint at 0x%x", addr)
	}
	delete(s.breakpoints, addr)
	return nil
}

// Continue implements host.Session
func (s *Session) Continue() (host.Stop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.exited {
		return host.Stop{}, host.ErrExited
	}
	for s.pos++; s.pos < len(s.trace); s.pos++ {
		st := s.trace[s.pos]
		if s.breakpoints[st.addr] {
			s.Stops = append(s.Stops, st.addr)
			return host.Stop{Addr: st.addr, Function: st.fn.Name, File: s.prog.File, Line: st.line}, nil
		}
	}
	s.exited = true
	return host.Stop{Exited: true, ExitStatus: s.ExitStatus}, nil
}

// Frame implements host.Session
func (s *Session) Frame() (host.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return nil, host.ErrExited
	}
	if s.pos < 0 || s.pos >= len(s.trace) {
		return nil, fmt.Errorf("process is not stopped in a function")
	}
	st := s.trace[s.pos]
	return &frame{prog: s.prog, fn: st.fn, line: st.line}, nil
}

// Close implements host.Session
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	s.exited = true
	return nil
}

type frame struct {
	prog *Program
	fn   *Func
	line int
}

func (f *frame) Function() string { return f.fn.Name }
func (f *frame) File() string     { return f.prog.File }
func (f *frame) Line() int        { return f.line }

func (f *frame) Locals() ([]host.Variable, error)    { return f.fn.locals, nil }
func (f *frame) Arguments() ([]host.Variable, error) { return f.fn.args, nil }
func (f *frame) Globals() ([]host.Variable, error)   { return f.prog.globals, nil }

func (f *frame) Readable(addr uint64) bool {
	return !f.prog.unmapped[addr]
}

func (f *frame) PrettyPrint(symbol string) (string, error) {
	if s, ok := f.prog.pretty[symbol]; ok {
		return s, nil
	}
	return "", fmt.Errorf("no symbol %q in current context", symbol)
}
