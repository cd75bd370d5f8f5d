// Package debugger implements the host session on top of a headless Delve
// server and keeps the registry of breakpoints a trace has installed.
package debugger

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/willibrandon/calltrace/pkg/host"
)

const (
	// DefaultDlvPath is looked up in PATH
	DefaultDlvPath = "dlv"
	// DefaultConnectTimeout bounds how long the headless server may take to come up
	DefaultConnectTimeout = 10 * time.Second
	// DefaultCacheSize is the number of disassembled functions kept
	DefaultCacheSize = 1024
)

// Options configures a DelveSession
type Options struct {
	// Target is the binary to trace
	Target string
	// Args are passed to the target
	Args []string
	// Stdin, when set, is redirected into the target
	Stdin string
	// Dlv is the dlv executable
	Dlv            string
	ConnectTimeout time.Duration
	// CacheSize bounds the disassembly cache
	CacheSize int
	// MaxArrayValues bounds how many elements Delve loads per array, slice or map
	MaxArrayValues int
	Logger         zerolog.Logger
}

// rpcClient is the part of the Delve JSON-RPC client a session uses
type rpcClient interface {
	GetState() (*api.DebuggerState, error)
	Continue() <-chan *api.DebuggerState
	CreateBreakpoint(bp *api.Breakpoint) (*api.Breakpoint, error)
	ClearBreakpoint(id int) (*api.Breakpoint, error)
	EvalVariable(scope api.EvalScope, expr string, cfg api.LoadConfig) (*api.Variable, error)
	ListLocalVariables(scope api.EvalScope, cfg api.LoadConfig) ([]api.Variable, error)
	ListFunctionArgs(scope api.EvalScope, cfg api.LoadConfig) ([]api.Variable, error)
	ListPackageVariables(filter string, cfg api.LoadConfig) ([]api.Variable, error)
	DisassemblePC(scope api.EvalScope, pc uint64, flavour api.AssemblyFlavour) (api.AsmInstructions, error)
	ExamineMemory(address uint64, length int) ([]byte, bool, error)
	Detach(kill bool) error
}

// DelveSession drives one traced process through a Delve RPC client. It
// implements host.Session.
type DelveSession struct {
	opts   Options
	logger zerolog.Logger
	load   api.LoadConfig

	client rpcClient
	dlvCmd *exec.Cmd
	listen string

	mu     sync.Mutex
	ids    map[uint64]int
	disasm *lru.Cache
	names  *lru.Cache
	exited bool
}

// NewDelveSession prepares a session for opts.Target. Nothing is launched
// until Start.
func NewDelveSession(opts Options) (*DelveSession, error) {
	if opts.Target == "" {
		return nil, errors.New("no target binary")
	}
	absPath, err := filepath.Abs(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for target %s: %w", opts.Target, err)
	}
	opts.Target = absPath
	return newSession(nil, opts)
}

func newSession(client rpcClient, opts Options) (*DelveSession, error) {
	if opts.Dlv == "" {
		opts.Dlv = DefaultDlvPath
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.MaxArrayValues <= 0 {
		opts.MaxArrayValues = 100
	}
	disasm, err := lru.New(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	names, err := lru.New(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &DelveSession{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "delve").Logger(),
		load: api.LoadConfig{
			FollowPointers:     true,
			MaxVariableRecurse: 1,
			MaxStringLen:       256,
			MaxArrayValues:     opts.MaxArrayValues,
			MaxStructFields:    -1,
		},
		client: client,
		ids:    make(map[uint64]int),
		disasm: disasm,
		names:  names,
	}, nil
}

// findFreePort finds an available TCP port on localhost
func findFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// launch starts `dlv exec` headless for the target and connects to it
func (s *DelveSession) launch() error {
	port, err := findFreePort()
	if err != nil {
		return fmt.Errorf("failed to find free port for delve: %w", err)
	}
	s.listen = "localhost:" + strconv.Itoa(port)

	cmdArgs := []string{
		"exec", s.opts.Target,
		"--headless",
		"--listen=" + s.listen,
		"--api-version=2",
		"--accept-multiclient",
	}
	if s.opts.Stdin != "" {
		cmdArgs = append(cmdArgs, "--redirect=stdin:"+s.opts.Stdin)
	}
	// Only add the '--' separator if we have args to pass
	if len(s.opts.Args) > 0 {
		cmdArgs = append(cmdArgs, "--")
		cmdArgs = append(cmdArgs, s.opts.Args...)
	}

	s.dlvCmd = exec.Command(s.opts.Dlv, cmdArgs...)
	setupProcAttr(s.dlvCmd)
	if err := s.dlvCmd.Start(); err != nil {
		s.dlvCmd = nil
		return fmt.Errorf("failed to start delve process: %w", err)
	}
	s.logger.Debug().
		Str("target", s.opts.Target).
		Str("listen", s.listen).
		Int("pid", s.dlvCmd.Process.Pid).
		Strs("args", s.opts.Args).
		Msg("started delve headless server")

	deadline := time.Now().Add(s.opts.ConnectTimeout)
	for {
		client, err := dial(s.listen)
		if err == nil {
			s.client = client
			s.logger.Debug().Str("listen", s.listen).Msg("connected to delve")
			return nil
		}
		if time.Now().After(deadline) {
			s.kill()
			return fmt.Errorf("failed to connect RPC client to delve server at %s: %w", s.listen, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// dial checks addr before handing it to rpc2.NewClient, which exits the
// process when it cannot connect.
func dial(addr string) (*rpc2.RPCClient, error) {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return nil, err
	}
	conn.Close()

	client := rpc2.NewClient(addr)
	if _, err := client.GetState(); err != nil {
		return nil, err
	}
	return client, nil
}

// Start implements host.Session. The process is stopped at its entry point.
func (s *DelveSession) Start() (host.Stop, error) {
	if s.client == nil {
		if err := s.launch(); err != nil {
			return host.Stop{}, err
		}
	}
	state, err := s.client.GetState()
	if err != nil {
		return host.Stop{}, fmt.Errorf("failed to get state: %w", err)
	}
	return s.stop(state)
}

func (s *DelveSession) scope() api.EvalScope {
	return api.EvalScope{GoroutineID: -1, Frame: 0}
}

// Lookup implements host.Session
func (s *DelveSession) Lookup(function string) (uint64, error) {
	v, err := s.client.EvalVariable(s.scope(), function, s.load)
	if err != nil {
		return 0, fmt.Errorf("%s: %w (%v)", function, host.ErrUnknownFunction, err)
	}
	if v.Base == 0 {
		return 0, fmt.Errorf("%s is not a function: %w", function, host.ErrUnknownFunction)
	}
	return v.Base, nil
}

// Disassemble implements host.Session
func (s *DelveSession) Disassemble(addr uint64) ([]host.Instruction, error) {
	if cached, ok := s.disasm.Get(addr); ok {
		return cached.([]host.Instruction), nil
	}
	asm, err := s.client.DisassemblePC(s.scope(), addr, api.GNUFlavour)
	if err != nil {
		return nil, fmt.Errorf("failed to disassemble 0x%x: %w", addr, err)
	}

	instrs := make([]host.Instruction, 0, len(asm))
	for _, ai := range asm {
		d := decodeInstruction(ai.Loc.PC, ai.Bytes, ai.Text)
		inst := host.Instruction{Addr: ai.Loc.PC, Mnemonic: d.mnemonic, Text: ai.Text}
		switch {
		case ai.DestLoc != nil && ai.DestLoc.PC != 0:
			inst.TargetAddr = ai.DestLoc.PC
			if ai.DestLoc.Function != nil {
				inst.Target = ai.DestLoc.Function.Name()
			}
		case host.IsLea(d.mnemonic) && d.ripTarget != 0:
			if name, ok := s.functionAt(d.ripTarget); ok {
				inst.Target = name
				inst.TargetAddr = d.ripTarget
			}
		}
		instrs = append(instrs, inst)
	}
	s.disasm.Add(addr, instrs)
	return instrs, nil
}

// functionAt names the function whose entry is addr
func (s *DelveSession) functionAt(addr uint64) (string, bool) {
	if cached, ok := s.names.Get(addr); ok {
		name := cached.(string)
		return name, name != ""
	}
	name := ""
	asm, err := s.client.DisassemblePC(s.scope(), addr, api.GNUFlavour)
	if err == nil && len(asm) > 0 && asm[0].Loc.PC == addr && asm[0].Loc.Function != nil {
		name = asm[0].Loc.Function.Name()
	}
	s.names.Add(addr, name)
	return name, name != ""
}

// SetBreakpoint implements host.Session
func (s *DelveSession) SetBreakpoint(addr uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[addr]; ok {
		return fmt.Errorf("breakpoint exists at 0x%x", addr)
	}
	bp, err := s.client.CreateBreakpoint(&api.Breakpoint{Addr: addr})
	if err != nil {
		return fmt.Errorf("could not set breakpoint at 0x%x: %w", addr, err)
	}
	s.ids[addr] = bp.ID
	return nil
}

// ClearBreakpoint implements host.Session
func (s *DelveSession) ClearBreakpoint(addr uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[addr]
	if !ok {
		return fmt.Errorf("no breakpoint at 0x%x", addr)
	}
	if _, err := s.client.ClearBreakpoint(id); err != nil {
		return fmt.Errorf("could not clear breakpoint %d: %w", id, err)
	}
	delete(s.ids, addr)
	return nil
}

// Continue implements host.Session
func (s *DelveSession) Continue() (host.Stop, error) {
	if s.exited {
		return host.Stop{}, host.ErrExited
	}
	var state *api.DebuggerState
	for st := range s.client.Continue() {
		state = st
	}
	if state == nil {
		return host.Stop{}, errors.New("delve returned no state")
	}
	return s.stop(state)
}

func (s *DelveSession) stop(state *api.DebuggerState) (host.Stop, error) {
	if state.Exited {
		s.exited = true
		return host.Stop{Exited: true, ExitStatus: state.ExitStatus}, nil
	}
	if state.Err != nil {
		return host.Stop{}, state.Err
	}
	th := state.CurrentThread
	if th == nil {
		return host.Stop{}, errors.New("no current thread available")
	}
	stop := host.Stop{Addr: th.PC, File: th.File, Line: th.Line}
	if th.Function != nil {
		stop.Function = th.Function.Name()
	}
	return stop, nil
}

// Frame implements host.Session
func (s *DelveSession) Frame() (host.Frame, error) {
	if s.exited {
		return nil, host.ErrExited
	}
	state, err := s.client.GetState()
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	th := state.CurrentThread
	if th == nil {
		return nil, errors.New("no current thread available")
	}
	f := &Frame{
		client: s.client,
		load:   s.load,
		scope:  api.EvalScope{GoroutineID: th.GoroutineID, Frame: 0},
		file:   th.File,
		line:   th.Line,
		logger: s.logger,
	}
	if th.Function != nil {
		f.function = th.Function.Name()
	}
	return f, nil
}

// Close kills the target and the Delve server
func (s *DelveSession) Close() error {
	var closeErr error
	if s.client != nil {
		if err := s.client.Detach(true); err != nil {
			s.logger.Debug().Err(err).Msg("failed to detach delve client")
		}
		s.client = nil
	}
	if s.dlvCmd != nil {
		if err := s.kill(); err != nil {
			closeErr = err
		}
	}
	return closeErr
}

func (s *DelveSession) kill() error {
	cmd := s.dlvCmd
	s.dlvCmd = nil
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if err := killProcess(cmd); err != nil {
		s.logger.Warn().Err(err).Int("pid", pid).Msg("failed to kill delve process")
		return fmt.Errorf("failed to kill delve process: %w", err)
	}
	// exit status of a killed process is uninteresting
	_ = cmd.Wait()
	s.logger.Debug().Int("pid", pid).Msg("delve process terminated")
	return nil
}
