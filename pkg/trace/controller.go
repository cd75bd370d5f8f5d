// Package trace drives a traced process through its call boundaries,
// reconciling observed calls against an oracle of expected call counts and
// capturing frame state at the designated invocation of each call.
package trace

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/willibrandon/calltrace/pkg/debugger"
	"github.com/willibrandon/calltrace/pkg/host"
	"github.com/willibrandon/calltrace/pkg/inspect"
	"github.com/willibrandon/calltrace/pkg/instrumentation"
	"github.com/willibrandon/calltrace/pkg/oracle"
	"github.com/willibrandon/calltrace/pkg/recorder"
	"github.com/willibrandon/calltrace/pkg/symbols"
)

// DefaultEntry is the function tracing starts in
const DefaultEntry = "main.main"

// Options configures a Controller
type Options struct {
	// Entry is the function instrumentation starts from
	Entry string
	// Root is the synthetic caller of Entry
	Root      string
	Formatter *inspect.Formatter
	Filter    *instrumentation.Filter
	Resolver  *symbols.Resolver
	Logger    zerolog.Logger
}

// Stats summarizes a run
type Stats struct {
	Stops           int
	Captures        int
	Inconsistencies int
	FailedSites     int
	Hits            map[debugger.BreakpointKind]int
}

// Controller owns the ledger, the breakpoint registry and the output log of
// one trace. It is driven from a single goroutine.
type Controller struct {
	session   host.Session
	oracle    *oracle.Oracle
	ledger    *Ledger
	calls     callStack
	registry  *debugger.BreakpointRegistry
	recorder  recorder.Recorder
	formatter *inspect.Formatter
	scanner   *Scanner
	handlers  map[debugger.BreakpointKind]Handler
	logger    zerolog.Logger

	entry string
	root  string
	stats Stats
}

// New creates a controller. The oracle is seeded with root -> entry.
func New(session host.Session, orc *oracle.Oracle, rec recorder.Recorder, opts Options) (*Controller, error) {
	if session == nil || orc == nil || rec == nil {
		return nil, errors.New("session, oracle and recorder are required")
	}
	if opts.Entry == "" {
		opts.Entry = DefaultEntry
	}
	if opts.Root == "" {
		opts.Root = oracle.DefaultRoot
	}
	if opts.Formatter == nil {
		opts.Formatter = inspect.NewFormatter(inspect.WithLogger(opts.Logger))
	}
	if opts.Resolver == nil {
		r, err := symbols.NewResolver(symbols.DefaultCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create symbol resolver: %w", err)
		}
		opts.Resolver = r
	}

	orc.Seed(opts.Root, opts.Entry)

	logger := opts.Logger.With().Str("component", "trace").Logger()
	c := &Controller{
		session:   session,
		oracle:    orc,
		ledger:    NewLedger(),
		registry:  debugger.NewBreakpointRegistry(),
		recorder:  rec,
		formatter: opts.Formatter,
		scanner:   NewScanner(orc, opts.Resolver, opts.Filter, logger),
		logger:    logger,
		entry:     opts.Entry,
		root:      opts.Root,
		stats:     Stats{Hits: make(map[debugger.BreakpointKind]int)},
	}
	c.handlers = map[debugger.BreakpointKind]Handler{
		debugger.CallSite:      callSiteHandler{c},
		debugger.FunctionEntry: functionEntryHandler{c},
		debugger.ReturnSite:    returnSiteHandler{c},
	}
	return c, nil
}

// Ledger returns the invocation ledger
func (c *Controller) Ledger() *Ledger {
	return c.ledger
}

// Registry returns the installed breakpoints
func (c *Controller) Registry() *debugger.BreakpointRegistry {
	return c.registry
}

// Stats returns counters for the run so far
func (c *Controller) Stats() Stats {
	return c.stats
}

// Run traces the process until it exits, ctx is cancelled, or a stepping
// failure occurs. Captures are appended to the recorder as they are taken;
// closing the recorder is left to the caller so partial traces survive errors.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.start(); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			c.logger.Warn().Err(err).Msg("trace interrupted")
			return nil
		}

		stop, err := c.session.Continue()
		if err != nil {
			if errors.Is(err, host.ErrExited) {
				return nil
			}
			return fmt.Errorf("failed to continue: %w", err)
		}
		if stop.Exited {
			c.logger.Info().
				Int("status", stop.ExitStatus).
				Int("captures", c.stats.Captures).
				Msg("process exited")
			return nil
		}

		c.stats.Stops++
		if c.dispatch(stop) == Halt {
			return errors.New("trace halted")
		}
	}
}

// start stops at the process entry, runs to the first instruction of the
// entry function and instruments it.
func (c *Controller) start() error {
	stop, err := c.session.Start()
	if err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}
	c.logger.Debug().Str("stop", stop.String()).Msg("process started")

	addr, err := c.session.Lookup(c.entry)
	if err != nil {
		return fmt.Errorf("failed to locate %s: %w", c.entry, err)
	}
	instrs, err := c.disassemble(addr)
	if err != nil {
		return fmt.Errorf("failed to disassemble %s: %w", c.entry, err)
	}
	if len(instrs) == 0 {
		return fmt.Errorf("%s has no instructions", c.entry)
	}

	first := instrs[0].Addr
	if err := c.session.SetBreakpoint(first); err != nil {
		return fmt.Errorf("failed to break at %s: %w", c.entry, err)
	}
	for {
		stop, err = c.session.Continue()
		if err != nil {
			return fmt.Errorf("failed to run to %s: %w", c.entry, err)
		}
		if stop.Exited {
			return fmt.Errorf("process exited with status %d before reaching %s", stop.ExitStatus, c.entry)
		}
		if stop.Addr == first {
			break
		}
	}
	if err := c.session.ClearBreakpoint(first); err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear entry breakpoint")
	}

	c.calls.push(c.root, c.entry, c.ledger.Increment(c.root, c.entry))
	c.logger.Info().Str("entry", c.entry).Uint64("addr", first).Msg("reached entry function")
	c.scan(instrs, c.entry, c.root)

	// the process already sits on the first instruction, so a site there
	// would be stepped over by the next Continue
	if c.registry.Has(first) {
		c.stats.Stops++
		if c.dispatch(stop) == Halt {
			return errors.New("trace halted")
		}
	}
	return nil
}

func (c *Controller) dispatch(stop host.Stop) Decision {
	bp, ok := c.registry.Get(stop.Addr)
	if !ok {
		c.logger.Warn().Str("stop", stop.String()).Msg("stopped at an unregistered address")
		return Resume
	}
	c.stats.Hits[bp.Kind]++

	h, ok := c.handlers[bp.Kind]
	if !ok {
		c.logger.Error().Str("kind", bp.Kind.String()).Msg("no handler for breakpoint kind")
		return Resume
	}
	return h.OnHit(Hit{Breakpoint: bp, Stop: stop})
}

func (c *Controller) disassemble(addr uint64) ([]host.Instruction, error) {
	return c.session.Disassemble(addr)
}
