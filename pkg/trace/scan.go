package trace

import (
	"github.com/rs/zerolog"

	"github.com/willibrandon/calltrace/pkg/debugger"
	"github.com/willibrandon/calltrace/pkg/host"
	"github.com/willibrandon/calltrace/pkg/instrumentation"
	"github.com/willibrandon/calltrace/pkg/oracle"
	"github.com/willibrandon/calltrace/pkg/symbols"
)

// Site is a breakpoint location found by scanning a function body
type Site struct {
	Addr     uint64
	Kind     debugger.BreakpointKind
	Function string
	Caller   string
}

// Scanner finds the breakpoint sites of function bodies
type Scanner struct {
	oracle   *oracle.Oracle
	resolver *symbols.Resolver
	filter   *instrumentation.Filter
	logger   zerolog.Logger
}

// NewScanner creates a scanner. A nil filter instruments every oracle callee.
// Callees the filter rejects are logged at debug level.
func NewScanner(orc *oracle.Oracle, resolver *symbols.Resolver, filter *instrumentation.Filter, logger zerolog.Logger) *Scanner {
	return &Scanner{oracle: orc, resolver: resolver, filter: filter, logger: logger}
}

// Sites returns the breakpoints scanning instrs would install for function
// called from caller, without touching any session. Functions the oracle does
// not know are never instrumented.
func (s *Scanner) Sites(instrs []host.Instruction, function, caller string) []Site {
	if !s.oracle.Has(function) {
		return nil
	}

	var sites []Site
	for _, inst := range instrs {
		switch {
		case host.IsCall(inst.Mnemonic) || host.IsLea(inst.Mnemonic):
			if inst.Target == "" {
				continue
			}
			callee, ok := s.oracle.Resolve(s.resolver.Candidates(inst.Target)...)
			if !ok {
				continue
			}
			if reason := s.filter.Reason(callee); reason != "" {
				s.logger.Debug().
					Str("caller", function).
					Str("callee", callee).
					Uint64("addr", inst.Addr).
					Str("reason", reason).
					Msg("oracle callee not instrumented")
				continue
			}
			sites = append(sites, Site{Addr: inst.Addr, Kind: debugger.CallSite, Function: callee, Caller: function})
			if inst.TargetAddr != 0 {
				sites = append(sites, Site{Addr: inst.TargetAddr, Kind: debugger.FunctionEntry, Function: callee, Caller: function})
			}
		case host.IsReturn(inst.Mnemonic):
			sites = append(sites, Site{Addr: inst.Addr, Kind: debugger.ReturnSite, Function: function, Caller: caller})
		}
	}
	return sites
}

// Sites is Scanner.Sites with the controller's oracle and filter
func (c *Controller) Sites(instrs []host.Instruction, function, caller string) []Site {
	return c.scanner.Sites(instrs, function, caller)
}

// scan installs every site of a function body that is not installed yet
func (c *Controller) scan(instrs []host.Instruction, function, caller string) {
	sites := c.Sites(instrs, function, caller)
	c.logger.Debug().
		Str("function", function).
		Str("caller", caller).
		Int("instructions", len(instrs)).
		Int("sites", len(sites)).
		Msg("scanning function")

	for _, s := range sites {
		c.install(s)
	}
}

func (c *Controller) install(s Site) {
	if c.registry.Has(s.Addr) {
		return
	}
	if err := c.session.SetBreakpoint(s.Addr); err != nil {
		c.stats.FailedSites++
		c.logger.Error().
			Err(err).
			Uint64("addr", s.Addr).
			Str("kind", s.Kind.String()).
			Str("function", s.Function).
			Msg("failed to set breakpoint")
		return
	}
	bp, err := c.registry.Add(s.Addr, s.Kind, s.Function, s.Caller)
	if err != nil {
		c.logger.Error().Err(err).Uint64("addr", s.Addr).Msg("failed to register breakpoint")
		return
	}
	c.logger.Debug().Str("breakpoint", bp.String()).Msg("breakpoint installed")
}
