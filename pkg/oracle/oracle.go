// Package oracle holds the statically expected call counts of a program: for
// each function, the callees it invokes and how many times.
package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// ErrFormat is returned when an oracle document cannot be interpreted
var ErrFormat = errors.New("malformed oracle")

// DefaultRoot is the synthetic caller of the entry function
const DefaultRoot = "_start"

// Entry is the on-disk description of one function. TimesCalled[i] is the
// expected count of Calls[i]; missing counts default to 1.
type Entry struct {
	Calls       []string `json:"calls" yaml:"calls"`
	TimesCalled []int    `json:"times_called,omitempty" yaml:"times_called,omitempty"`
	LocalVars   []string `json:"local_vars,omitempty" yaml:"local_vars,omitempty"`
}

// Call is one (callee, expected count) pair
type Call struct {
	Callee string
	Count  int
}

type function struct {
	calls     map[string]int
	order     []string
	localVars []string
}

// Oracle maps callers to expected callee counts. It is immutable once loaded
// and seeded.
type Oracle struct {
	funcs map[string]*function
}

// New creates an empty oracle
func New() *Oracle {
	return &Oracle{funcs: make(map[string]*function)}
}

// Load reads an oracle from a JSON or YAML file, selected by extension
func Load(path string) (*Oracle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read oracle: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON decodes an oracle document of the form
// {"fn": {"calls": [...], "times_called": [...], "local_vars": [...]}}
func ParseJSON(data []byte) (*Oracle, error) {
	var doc map[string]Entry
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return fromEntries(doc)
}

// ParseYAML decodes the YAML rendition of the JSON document
func ParseYAML(data []byte) (*Oracle, error) {
	var doc map[string]Entry
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return fromEntries(doc)
}

func fromEntries(doc map[string]Entry) (*Oracle, error) {
	o := New()
	for name, e := range doc {
		if name == "" {
			return nil, fmt.Errorf("%w: empty function name", ErrFormat)
		}
		calls := make([]Call, 0, len(e.Calls))
		for i, callee := range e.Calls {
			count := 1
			if i < len(e.TimesCalled) {
				count = e.TimesCalled[i]
			}
			if count < 0 {
				return nil, fmt.Errorf("%w: %s calls %s a negative number of times", ErrFormat, name, callee)
			}
			calls = append(calls, Call{Callee: callee, Count: count})
		}
		o.Add(name, calls...)
		o.funcs[name].localVars = e.LocalVars
	}
	return o, nil
}

// Add registers fn with its calls. Later entries for the same callee
// overwrite earlier ones.
func (o *Oracle) Add(fn string, calls ...Call) {
	f, ok := o.funcs[fn]
	if !ok {
		f = &function{calls: make(map[string]int)}
		o.funcs[fn] = f
	}
	for _, c := range calls {
		if _, seen := f.calls[c.Callee]; !seen {
			f.order = append(f.order, c.Callee)
		}
		f.calls[c.Callee] = c.Count
	}
}

// Seed makes root a caller of entry expected exactly once, so the entry
// function itself participates in call and return reconciliation.
func (o *Oracle) Seed(root, entry string) {
	o.Add(root, Call{Callee: entry, Count: 1})
}

// Has reports whether fn is an oracle key
func (o *Oracle) Has(fn string) bool {
	_, ok := o.funcs[fn]
	return ok
}

// Lookup returns the expected number of times caller invokes callee, 0 when
// the pair is unknown.
func (o *Oracle) Lookup(caller, callee string) int {
	f, ok := o.funcs[caller]
	if !ok {
		return 0
	}
	return f.calls[callee]
}

// Resolve returns the first candidate that is an oracle key
func (o *Oracle) Resolve(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if c != "" && o.Has(c) {
			return c, true
		}
	}
	return "", false
}

// Functions lists oracle keys in sorted order
func (o *Oracle) Functions() []string {
	names := maps.Keys(o.funcs)
	slices.Sort(names)
	return names
}

// Callees lists the calls of fn in first-declaration order
func (o *Oracle) Callees(fn string) []Call {
	f, ok := o.funcs[fn]
	if !ok {
		return nil
	}
	calls := make([]Call, 0, len(f.order))
	for _, callee := range f.order {
		calls = append(calls, Call{Callee: callee, Count: f.calls[callee]})
	}
	return calls
}

// LocalVars returns the local variable names recorded for fn
func (o *Oracle) LocalVars(fn string) []string {
	if f, ok := o.funcs[fn]; ok {
		return f.localVars
	}
	return nil
}

// Len returns the number of functions
func (o *Oracle) Len() int {
	return len(o.funcs)
}
