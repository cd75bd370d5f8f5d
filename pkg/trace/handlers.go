package trace

import (
	"github.com/willibrandon/calltrace/pkg/debugger"
	"github.com/willibrandon/calltrace/pkg/host"
	"github.com/willibrandon/calltrace/pkg/recorder"
)

// Decision is what the driver does after a handler returns
type Decision int

const (
	// Resume continues the process
	Resume Decision = iota
	// Halt stops tracing; captures recorded so far are kept
	Halt
)

// String returns the string representation of the Decision
func (d Decision) String() string {
	switch d {
	case Resume:
		return "resume"
	case Halt:
		return "halt"
	default:
		return "unknown"
	}
}

// Hit is passed to a handler when one of its breakpoints fires
type Hit struct {
	Breakpoint *debugger.Breakpoint
	Stop       host.Stop
}

// Handler reacts to a breakpoint of one kind. Handlers never resume the
// process themselves.
type Handler interface {
	OnHit(hit Hit) Decision
}

// callSiteHandler reconciles a call against the oracle. Only the last of the
// expected invocations is captured.
type callSiteHandler struct {
	c *Controller
}

func (h callSiteHandler) OnHit(hit Hit) Decision {
	c := h.c
	caller, callee := hit.Breakpoint.Caller, hit.Breakpoint.Function

	observed := c.ledger.Increment(caller, callee)
	c.calls.push(caller, callee, observed)
	expected := c.oracle.Lookup(caller, callee)
	c.logger.Debug().
		Str("caller", caller).
		Str("callee", callee).
		Int("observed", observed).
		Int("expected", expected).
		Msg("call site hit")

	if observed < expected {
		return Resume
	}
	if observed == 0 || observed > expected {
		c.stats.Inconsistencies++
		c.logger.Error().
			Str("caller", caller).
			Str("callee", callee).
			Int("observed", observed).
			Int("expected", expected).
			Msg("function called more times than expected")
		return Resume
	}
	return c.capture(caller, recorder.BeforeCall, callee)
}

// functionEntryHandler instruments a callee's body the first time it runs
type functionEntryHandler struct {
	c *Controller
}

func (h functionEntryHandler) OnHit(hit Hit) Decision {
	c := h.c
	bp := hit.Breakpoint
	c.logger.Debug().
		Str("function", bp.Function).
		Str("caller", bp.Caller).
		Msg("function entry hit")

	instrs, err := c.disassemble(bp.Addr)
	if err != nil {
		c.logger.Error().Err(err).Str("function", bp.Function).Msg("failed to disassemble")
		return Resume
	}
	c.scan(instrs, bp.Function, bp.Caller)
	return Resume
}

// returnSiteHandler captures the designated invocation before it returns.
// The returning invocation is matched to the innermost observed call of the
// function, so the capture names its real caller.
type returnSiteHandler struct {
	c *Controller
}

func (h returnSiteHandler) OnHit(hit Hit) Decision {
	c := h.c
	function := hit.Breakpoint.Function

	call, ok := c.calls.pop(function)
	if !ok {
		c.logger.Debug().
			Str("function", function).
			Msg("return without an observed call")
		return Resume
	}
	expected := c.oracle.Lookup(call.caller, function)
	c.logger.Debug().
		Str("function", function).
		Str("caller", call.caller).
		Int("invocation", call.ordinal).
		Int("expected", expected).
		Msg("return site hit")

	if expected > 0 && call.ordinal == expected {
		return c.capture(call.caller, recorder.BeforeReturn, function)
	}
	return Resume
}
