package inspect

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxDepth bounds recursion through pointers, fields and elements
	DefaultMaxDepth = 100
	// DefaultMaxElements bounds the number of array elements rendered
	DefaultMaxElements = 100
	// PointerRunLimit bounds the elements read when walking a numeric pointer
	PointerRunLimit = 20
)

// Formatter converts host values into Node trees. A Formatter holds no
// per-call state and may be reused for every capture of a trace.
type Formatter struct {
	maxDepth    int
	maxElements int
	registry    *Registry
	printer     Printer
	logger      zerolog.Logger
}

// Option configures a Formatter
type Option func(*Formatter)

// WithMaxDepth sets the recursion bound
func WithMaxDepth(depth int) Option {
	return func(f *Formatter) {
		if depth >= 0 {
			f.maxDepth = depth
		}
	}
}

// WithMaxElements sets the array breadth bound
func WithMaxElements(n int) Option {
	return func(f *Formatter) {
		if n > 0 {
			f.maxElements = n
		}
	}
}

// WithRegistry replaces the smart pointer / container registry
func WithRegistry(r *Registry) Option {
	return func(f *Formatter) {
		if r != nil {
			f.registry = r
		}
	}
}

// WithPrinter sets the host pretty-printer used for registered containers
func WithPrinter(p Printer) Option {
	return func(f *Formatter) {
		f.printer = p
	}
}

// WithLogger sets the logger used for value-read diagnostics
func WithLogger(l zerolog.Logger) Option {
	return func(f *Formatter) {
		f.logger = l
	}
}

// NewFormatter creates a formatter with default bounds
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{
		maxDepth:    DefaultMaxDepth,
		maxElements: DefaultMaxElements,
		registry:    DefaultRegistry(),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// MaxDepth returns the configured recursion bound
func (f *Formatter) MaxDepth() int {
	return f.maxDepth
}

// WithPrinter returns a copy of the formatter that pretty-prints through p.
func (f *Formatter) WithPrinter(p Printer) *Formatter {
	c := *f
	c.printer = p
	return &c
}

// Format renders v. symbol is the name v is reachable by in the current
// frame, used only for host pretty-printing of containers; it may be empty.
func (f *Formatter) Format(v Value, symbol string) Node {
	return f.format(v, symbol, 0)
}

func (f *Formatter) format(v Value, symbol string, depth int) Node {
	if depth > f.maxDepth {
		return Scalar(MaxDepthText)
	}
	if v == nil {
		return Scalar(NullText)
	}
	if node, ok := f.lowAddress(v); ok {
		return node
	}

	t := v.Type()
	switch t.Code {
	case TypeTypedef:
		u, err := v.Underlying()
		if err != nil {
			f.logger.Debug().Err(err).Str("type", t.Name).Msg("typedef unwrap failed")
			return Scalar(UnavailableText)
		}
		return f.format(u, symbol, depth)
	case TypeRef:
		r, err := v.Deref()
		if errors.Is(err, ErrNil) {
			return Scalar(NullText)
		}
		if err != nil {
			f.logger.Debug().Err(err).Str("type", t.Name).Msg("reference unwrap failed")
			return Scalar(InvalidPointerText)
		}
		return f.format(r, symbol, depth)
	}

	if f.registry.IsSmartPointer(t.Name) {
		return f.smartPointer(v, depth)
	}
	if f.registry.IsContainer(t.Name) {
		return f.container(v, symbol)
	}

	if t.Code == TypePointer {
		node, inner, innerDepth, done := f.pointer(v, depth)
		if done {
			return node
		}
		return f.format(inner, "", innerDepth)
	}

	switch t.Code {
	case TypeStruct, TypeUnion:
		return f.structure(v, depth)
	case TypeArray:
		return f.array(v, depth)
	}
	return f.text(v)
}

// lowAddress renders values living at (or pointing to) the first pages of
// the address space as raw text without dereferencing them.
func (f *Formatter) lowAddress(v Value) (Node, bool) {
	var addr uint64
	if v.Type().Code == TypePointer {
		p, err := v.Uint()
		if err != nil {
			if errors.Is(err, ErrUnreadable) {
				return Scalar(UnreadableText), true
			}
			return Node{}, false
		}
		addr = p
	} else {
		a, err := v.Address()
		if err != nil {
			if errors.Is(err, ErrNoAddress) {
				return Node{}, false
			}
			return Scalar(UnreadableText), true
		}
		addr = a
	}
	if addr < LowAddress {
		return f.text(v), true
	}
	return Node{}, false
}

func (f *Formatter) smartPointer(v Value, depth int) Node {
	raw := findMember(v, f.registry.RawPointerField, map[string]bool{})
	if raw == nil {
		return Scalar(UnhandledSmartText)
	}
	p, err := raw.Uint()
	if err != nil {
		return Scalar(UnreadableText)
	}
	if p == 0 {
		return Scalar(NullptrText)
	}
	if p < LowAddress {
		f.logger.Debug().Uint64("pointer", p).Msg("smart pointer address too low")
		return Scalar(InvalidPointerText)
	}
	target, err := raw.Deref()
	if err != nil {
		return Scalar(InvalidPointerText)
	}
	return f.format(target, "", depth+1)
}

// findMember searches v and its base layers for a member called name. Each
// type is visited once so malformed base-class graphs cannot loop.
func findMember(v Value, name string, visited map[string]bool) Value {
	typeName := v.Type().Name
	if visited[typeName] {
		return nil
	}
	visited[typeName] = true

	fields := v.Fields()
	for _, fld := range fields {
		if fld.Name == name && !fld.BaseClass {
			m, err := v.Field(fld)
			if err != nil {
				return nil
			}
			return m
		}
	}
	for _, fld := range fields {
		if !fld.BaseClass {
			continue
		}
		base, err := v.Field(fld)
		if err != nil {
			continue
		}
		if m := findMember(base, name, visited); m != nil {
			return m
		}
	}
	return nil
}

func (f *Formatter) container(v Value, symbol string) Node {
	var (
		text string
		err  error
	)
	if f.printer != nil && symbol != "" {
		text, err = f.printer.PrettyPrint(symbol)
	} else {
		text, err = v.Text()
	}
	if err != nil {
		f.logger.Debug().Err(err).Str("symbol", symbol).Msg("pretty print failed")
		return Scalar(UnavailableText)
	}
	return Scalar(CollapseBraces(text))
}

// pointer walks a pointer chain. It either returns a finished node, or the
// innermost non-pointer value together with the depth it was reached at.
func (f *Formatter) pointer(v Value, depth int) (Node, Value, int, bool) {
	cur := v
	var chain []uint64
	for depth < f.maxDepth {
		var err error
		cur, err = unwrap(cur)
		if err != nil {
			return Scalar(UnavailableText), nil, depth, true
		}
		t := cur.Type()
		if t.Code != TypePointer {
			break
		}

		elem := Type{}
		if t.Elem != nil {
			elem = *t.Elem
		}
		switch {
		case elem.Code.Numeric():
			if elem.Size == 4 || elem.Size == 8 {
				target, err := cur.Deref()
				if err != nil {
					return Scalar(InvalidPointerText), nil, depth, true
				}
				return f.text(target), nil, depth, true
			}
			return f.numericRun(cur), nil, depth, true
		case elem.Code == TypeVoid:
			text, err := cur.Text()
			if err != nil {
				return Scalar(UnavailableText), nil, depth, true
			}
			return Scalar("(void*)" + text), nil, depth, true
		case elem.Code == TypeChar:
			s, err := cur.CString()
			if err != nil {
				return Scalar(UnreadableText), nil, depth, true
			}
			return Scalar(StripNUL(s)), nil, depth, true
		}

		p, err := cur.Uint()
		if err != nil {
			return Scalar(UnreadableText), nil, depth, true
		}
		if p == 0 {
			return Scalar(NullPointerText), nil, depth, true
		}
		chain = append(chain, p)

		next, err := cur.Deref()
		if err != nil {
			f.logger.Debug().Err(err).Uint64("pointer", p).Msg("failed to dereference pointer")
			return Scalar(InvalidPointerText), nil, depth, true
		}
		cur = next
		depth++
	}

	if cur.Type().Code == TypePointer {
		return Scalar(MaxDepthText), nil, depth, true
	}
	if len(chain) > 1 {
		f.logger.Trace().Str("chain", fmt.Sprintf("%#x", chain)).Msg("followed pointer chain")
	}
	return Node{}, cur, depth, false
}

// numericRun reads consecutive elements behind a pointer to a narrow numeric
// type, stopping after the first zero element.
func (f *Formatter) numericRun(p Value) Node {
	seq := Sequence()
	for i := 0; len(seq.Items) < PointerRunLimit; i++ {
		elem, err := p.Index(i)
		if err != nil {
			seq.Items = append(seq.Items, Scalar(UnreadableText))
			break
		}
		text, err := elem.Text()
		if err != nil {
			seq.Items = append(seq.Items, Scalar(UnreadableText))
			break
		}
		seq.Items = append(seq.Items, Scalar(StripNUL(text)))
		if n, err := elem.Uint(); (err == nil && n == 0) || text == `\000` {
			break
		}
	}
	return seq
}

func (f *Formatter) structure(v Value, depth int) Node {
	m := Mapping()
	for _, fld := range v.Fields() {
		fv, err := v.Field(fld)
		if err != nil {
			m.Set(fld.Name, Scalar(""))
			continue
		}
		m.Set(fld.Name, f.format(fv, "", depth+1))
	}
	return m
}

func (f *Formatter) array(v Value, depth int) Node {
	t := v.Type()
	if t.Elem != nil && (t.Elem.Code == TypeInt || t.Elem.Code == TypeChar) {
		return f.text(v)
	}

	n := t.Len
	if n > f.maxElements {
		n = f.maxElements
	}
	seq := Sequence()
	for i := 0; i < n; i++ {
		elem, err := v.Index(i)
		if err != nil {
			seq.Items = append(seq.Items, Scalar(UnavailableText))
			continue
		}
		switch elem.Type().Code {
		case TypePointer, TypeArray, TypeStruct, TypeUnion, TypeTypedef, TypeFunc:
			seq.Items = append(seq.Items, f.format(elem, "", depth+1))
		default:
			seq.Items = append(seq.Items, f.text(elem))
		}
	}
	return seq
}

func (f *Formatter) text(v Value) Node {
	text, err := v.Text()
	if err != nil {
		f.logger.Debug().Err(err).Msg("failed to render value")
		return Scalar(UnavailableText)
	}
	return Scalar(StripNUL(text))
}

// unwrap strips typedef layers and resolves references
func unwrap(v Value) (Value, error) {
	for v.Type().Code == TypeTypedef {
		u, err := v.Underlying()
		if err != nil {
			return nil, err
		}
		v = u
	}
	if v.Type().Code == TypeRef {
		return v.Deref()
	}
	return v, nil
}
