package debugger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-delve/delve/service/api"
	"github.com/rs/zerolog"

	"github.com/willibrandon/calltrace/pkg/host"
	"github.com/willibrandon/calltrace/pkg/inspect"
)

// Frame is the innermost frame of the goroutine Delve stopped on. It
// implements host.Frame.
type Frame struct {
	client   rpcClient
	load     api.LoadConfig
	scope    api.EvalScope
	function string
	file     string
	line     int
	logger   zerolog.Logger
}

func (f *Frame) Function() string { return f.function }
func (f *Frame) File() string     { return f.file }
func (f *Frame) Line() int        { return f.line }

// Locals implements host.Frame
func (f *Frame) Locals() ([]host.Variable, error) {
	vars, err := f.client.ListLocalVariables(f.scope, f.load)
	if err != nil {
		return nil, fmt.Errorf("failed to list local variables: %w", err)
	}
	return f.variables(vars, false), nil
}

// Arguments implements host.Frame
func (f *Frame) Arguments() ([]host.Variable, error) {
	vars, err := f.client.ListFunctionArgs(f.scope, f.load)
	if err != nil {
		return nil, fmt.Errorf("failed to list function arguments: %w", err)
	}
	return f.variables(vars, true), nil
}

// Globals returns the package variables of the package the frame's
// function belongs to.
func (f *Frame) Globals() ([]host.Variable, error) {
	pkg := packageOf(f.function)
	if pkg == "" {
		return nil, nil
	}
	filter := "^" + regexp.QuoteMeta(pkg) + `\.`
	vars, err := f.client.ListPackageVariables(filter, f.load)
	if err != nil {
		return nil, fmt.Errorf("failed to list package variables: %w", err)
	}
	return f.variables(vars, false), nil
}

func (f *Frame) variables(vars []api.Variable, args bool) []host.Variable {
	out := make([]host.Variable, 0, len(vars))
	for i := range vars {
		v := &vars[i]
		out = append(out, host.Variable{
			Name:     v.Name,
			Argument: args,
			Value:    newValue(v, f),
		})
	}
	return out
}

// Readable implements host.Frame
func (f *Frame) Readable(addr uint64) bool {
	_, err := f.readMemory(addr, 1)
	return err == nil
}

// PrettyPrint renders symbol the way Delve prints it on one line
func (f *Frame) PrettyPrint(symbol string) (string, error) {
	v, err := f.eval(symbol)
	if err != nil {
		return "", err
	}
	return v.SinglelineString(), nil
}

func (f *Frame) eval(expr string) (*api.Variable, error) {
	v, err := f.client.EvalVariable(f.scope, expr, f.load)
	if err != nil {
		f.logger.Debug().Err(err).Str("expr", expr).Msg("evaluation failed")
		return nil, err
	}
	return v, nil
}

func (f *Frame) readMemory(addr uint64, n int) ([]byte, error) {
	data, _, err := f.client.ExamineMemory(addr, n)
	if err != nil {
		return nil, fmt.Errorf("read 0x%x: %w", addr, inspect.ErrUnreadable)
	}
	return data, nil
}

// packageOf returns the import path of the package a Go function symbol
// belongs to: "main" for "main.(*T).M", "example.com/x/pkg" for
// "example.com/x/pkg.F".
func packageOf(function string) string {
	slash := strings.LastIndexByte(function, '/')
	dot := strings.IndexByte(function[slash+1:], '.')
	if dot < 0 {
		return ""
	}
	return function[:slash+1+dot]
}
