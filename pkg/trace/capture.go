package trace

import (
	"github.com/willibrandon/calltrace/pkg/host"
	"github.com/willibrandon/calltrace/pkg/inspect"
	"github.com/willibrandon/calltrace/pkg/recorder"
	"github.com/willibrandon/calltrace/pkg/symbols"
)

// receiverName is the argument holding member state in C++ methods
const receiverName = "this"

// capture snapshots the current frame and appends it to the recorder
func (c *Controller) capture(location string, phase recorder.Phase, function string) Decision {
	rec := recorder.NewCapture(location, phase, function)

	frame, err := c.session.Frame()
	if err != nil {
		c.logger.Error().Err(err).Str("state", rec.State).Msg("failed to read frame")
		return Resume
	}
	rec.Line = frame.Line()
	rec.File = frame.File()
	rec.Function = frame.Function()

	f := c.formatter.WithPrinter(frame)

	if locals, err := frame.Locals(); err != nil {
		c.logger.Error().Err(err).Msg("failed to list locals")
	} else {
		rec.LocalVars = c.snapshot(f, frame, locals)
	}
	if globals, err := frame.Globals(); err != nil {
		c.logger.Error().Err(err).Msg("failed to list globals")
	} else {
		rec.GlobalVars = c.snapshot(f, frame, globals)
	}
	if args, err := frame.Arguments(); err != nil {
		c.logger.Error().Err(err).Msg("failed to list arguments")
	} else {
		rec.Arguments = c.snapshot(f, frame, args)
		rec.MemberVars = members(f, frame.Function(), args)
	}

	if err := c.recorder.RecordCapture(rec); err != nil {
		c.logger.Error().Err(err).Str("state", rec.State).Msg("failed to record capture")
		return Halt
	}
	c.stats.Captures++
	c.logger.Info().
		Str("location", rec.Location).
		Str("state", rec.State).
		Int("line", rec.Line).
		Int("locals", rec.LocalVars.Len()).
		Int("globals", rec.GlobalVars.Len()).
		Int("arguments", rec.Arguments.Len()).
		Msg("captured")
	return Resume
}

// snapshot formats every readable variable. Variables whose storage cannot
// be read yet are left out.
func (c *Controller) snapshot(f *inspect.Formatter, frame host.Frame, vars []host.Variable) inspect.Node {
	out := inspect.Mapping()
	for _, v := range vars {
		if !readable(frame, v) {
			c.logger.Debug().Str("variable", v.Name).Msg("skipping uninitialized variable")
			continue
		}
		out.Set(v.Name, f.Format(v.Value, v.Name))
	}
	return out
}

func readable(frame host.Frame, v host.Variable) bool {
	if v.Argument {
		return true
	}
	if v.Value == nil {
		return false
	}
	addr, err := v.Value.Address()
	if err != nil {
		return false
	}
	return frame.Readable(addr)
}

// members formats the receiver of a method: the "this" argument, or the
// first argument of a Go method.
func members(f *inspect.Formatter, function string, args []host.Variable) inspect.Node {
	out := inspect.Mapping()
	for _, a := range args {
		if a.Name == receiverName {
			out.Set(a.Name, f.Format(a.Value, a.Name))
			return out
		}
	}
	if len(args) > 0 && symbols.IsGoMethod(function) {
		out.Set(args[0].Name, f.Format(args[0].Value, args[0].Name))
	}
	return out
}
