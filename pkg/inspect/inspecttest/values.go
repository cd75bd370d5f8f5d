// Package inspecttest builds synthetic value graphs for exercising the
// formatter without a live process.
package inspecttest

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/willibrandon/calltrace/pkg/inspect"
)

// Common types
var (
	IntType    = inspect.Type{Code: inspect.TypeInt, Name: "int", Size: 8}
	Int32Type  = inspect.Type{Code: inspect.TypeInt, Name: "int32", Size: 4}
	Int16Type  = inspect.Type{Code: inspect.TypeInt, Name: "int16", Size: 2}
	Float64    = inspect.Type{Code: inspect.TypeFloat, Name: "float64", Size: 8}
	CharType   = inspect.Type{Code: inspect.TypeChar, Name: "char", Size: 1}
	VoidType   = inspect.Type{Code: inspect.TypeVoid, Name: "void"}
	BoolType   = inspect.Type{Code: inspect.TypeBool, Name: "bool", Size: 1}
	StringType = inspect.Type{Code: inspect.TypeString, Name: "string", Size: 16}
)

// PointerTo returns the type of a pointer to elem
func PointerTo(elem inspect.Type) inspect.Type {
	e := elem
	return inspect.Type{Code: inspect.TypePointer, Name: "*" + elem.Name, Size: 8, Elem: &e}
}

// Memory is a fake address space. Values stored in it can be reached by
// dereferencing pointers holding their address.
type Memory struct {
	cells map[uint64]*V
	bad   map[uint64]bool
}

// NewMemory creates an empty address space
func NewMemory() *Memory {
	return &Memory{
		cells: make(map[uint64]*V),
		bad:   make(map[uint64]bool),
	}
}

// Store places v at addr and returns it
func (m *Memory) Store(addr uint64, v *V) *V {
	v.mem = m
	v.addr = addr
	v.hasAddr = true
	m.cells[addr] = v
	return v
}

// Unreadable marks addr as unmapped
func (m *Memory) Unreadable(addr uint64) {
	m.bad[addr] = true
}

// Pointer returns a pointer value of the given type holding target
func (m *Memory) Pointer(typ inspect.Type, target uint64) *V {
	return &V{mem: m, typ: typ, bits: target, text: fmt.Sprintf("0x%x", target)}
}

// CString stores a NUL terminated string at addr
func (m *Memory) CString(addr uint64, s string) {
	m.Store(addr, &V{typ: CharType, text: strconv.QuoteRune(rune(firstByte(s))), cstr: s})
}

func (m *Memory) load(addr uint64) (*V, error) {
	if m == nil {
		return nil, inspect.ErrUnreadable
	}
	if m.bad[addr] {
		return nil, fmt.Errorf("read 0x%x: %w", addr, inspect.ErrUnreadable)
	}
	v, ok := m.cells[addr]
	if !ok {
		return nil, fmt.Errorf("read 0x%x: %w", addr, inspect.ErrUnreadable)
	}
	return v, nil
}

func firstByte(s string) byte {
	if s == "" {
		return 0
	}
	return s[0]
}

// V is a synthetic value implementing inspect.Value
type V struct {
	mem     *Memory
	typ     inspect.Type
	addr    uint64
	hasAddr bool
	bits    uint64
	text    string
	textErr error
	cstr    string

	fields    []inspect.Field
	fieldVals []*V
	badFields map[string]bool

	elems []*V
	under *V
	ref   *V
}

// Int returns an integer of the given type
func Int(typ inspect.Type, n int64) *V {
	return &V{typ: typ, bits: uint64(n), text: strconv.FormatInt(n, 10)}
}

// Float returns a float64 value
func Float(f float64) *V {
	return &V{typ: Float64, bits: math.Float64bits(f), text: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Bool returns a bool value
func Bool(b bool) *V {
	var bits uint64
	if b {
		bits = 1
	}
	return &V{typ: BoolType, bits: bits, text: strconv.FormatBool(b)}
}

// Text returns a value of typ that only renders as text
func Text(typ inspect.Type, text string) *V {
	return &V{typ: typ, text: text}
}

// Broken returns a value whose text cannot be read
func Broken(typ inspect.Type) *V {
	return &V{typ: typ, textErr: errors.New("cannot render value")}
}

// CharArray returns a char array holding s followed by NUL padding
func CharArray(s string) *V {
	elem := CharType
	return &V{
		typ:  inspect.Type{Code: inspect.TypeArray, Name: fmt.Sprintf("char [%d]", len(s)+2), Elem: &elem, Len: len(s) + 2},
		text: `"` + s + `\000\000"`,
	}
}

// Array returns an array of elem holding items
func Array(elem inspect.Type, items ...*V) *V {
	e := elem
	return &V{
		typ:   inspect.Type{Code: inspect.TypeArray, Name: fmt.Sprintf("[%d]%s", len(items), elem.Name), Elem: &e, Len: len(items)},
		elems: items,
		text:  fmt.Sprintf("[%d]%s{...}", len(items), elem.Name),
	}
}

// Member is one field of a synthetic struct
type Member struct {
	Name string
	Base bool
	Val  *V
}

// F declares a named member
func F(name string, v *V) Member {
	return Member{Name: name, Val: v}
}

// Base declares a base-class layer
func Base(v *V) Member {
	return Member{Name: v.typ.Name, Base: true, Val: v}
}

// Struct returns a struct value
func Struct(name string, members ...Member) *V {
	v := &V{typ: inspect.Type{Code: inspect.TypeStruct, Name: name}, text: name + "{...}"}
	for _, m := range members {
		v.fields = append(v.fields, inspect.Field{Name: m.Name, BaseClass: m.Base})
		v.fieldVals = append(v.fieldVals, m.Val)
	}
	return v
}

// Union returns a union value
func Union(name string, members ...Member) *V {
	v := Struct(name, members...)
	v.typ.Code = inspect.TypeUnion
	return v
}

// Typedef wraps under in a named typedef layer
func Typedef(name string, under *V) *V {
	return &V{typ: inspect.Type{Code: inspect.TypeTypedef, Name: name, Size: under.typ.Size}, under: under, text: under.text}
}

// Ref returns a reference to target
func Ref(target *V) *V {
	return &V{typ: inspect.Type{Code: inspect.TypeRef, Name: target.typ.Name + " &"}, ref: target, text: target.text}
}

// NilRef returns a reference that holds nothing
func NilRef(name string) *V {
	return &V{typ: inspect.Type{Code: inspect.TypeRef, Name: name}, text: "nil"}
}

// Named overrides the type name of v
func (v *V) Named(name string) *V {
	v.typ.Name = name
	return v
}

// FailField makes reading the named member fail
func (v *V) FailField(name string) *V {
	if v.badFields == nil {
		v.badFields = make(map[string]bool)
	}
	v.badFields[name] = true
	return v
}

// Type implements inspect.Value
func (v *V) Type() inspect.Type {
	return v.typ
}

// Address implements inspect.Value
func (v *V) Address() (uint64, error) {
	if !v.hasAddr {
		return 0, inspect.ErrNoAddress
	}
	if v.mem != nil && v.mem.bad[v.addr] {
		return 0, fmt.Errorf("read 0x%x: %w", v.addr, inspect.ErrUnreadable)
	}
	return v.addr, nil
}

// Uint implements inspect.Value
func (v *V) Uint() (uint64, error) {
	if v.hasAddr && v.mem != nil && v.mem.bad[v.addr] {
		return 0, fmt.Errorf("read 0x%x: %w", v.addr, inspect.ErrUnreadable)
	}
	return v.bits, nil
}

// Text implements inspect.Value
func (v *V) Text() (string, error) {
	if v.textErr != nil {
		return "", v.textErr
	}
	return v.text, nil
}

// Underlying implements inspect.Value
func (v *V) Underlying() (inspect.Value, error) {
	if v.under == nil {
		return nil, fmt.Errorf("%s is not a typedef", v.typ.Name)
	}
	return v.under, nil
}

// Deref implements inspect.Value
func (v *V) Deref() (inspect.Value, error) {
	if v.ref != nil {
		return v.ref, nil
	}
	if v.typ.Code == inspect.TypeRef {
		return nil, inspect.ErrNil
	}
	if v.typ.Code != inspect.TypePointer {
		return nil, fmt.Errorf("cannot dereference %s", v.typ.Name)
	}
	return v.mem.load(v.bits)
}

// Index implements inspect.Value
func (v *V) Index(i int) (inspect.Value, error) {
	switch v.typ.Code {
	case inspect.TypeArray:
		if i < 0 || i >= len(v.elems) {
			return nil, fmt.Errorf("index %d out of range", i)
		}
		return v.elems[i], nil
	case inspect.TypePointer:
		size := 1
		if v.typ.Elem != nil && v.typ.Elem.Size > 0 {
			size = v.typ.Elem.Size
		}
		return v.mem.load(v.bits + uint64(i*size))
	}
	return nil, fmt.Errorf("cannot index %s", v.typ.Name)
}

// Fields implements inspect.Value
func (v *V) Fields() []inspect.Field {
	return v.fields
}

// Field implements inspect.Value
func (v *V) Field(f inspect.Field) (inspect.Value, error) {
	if v.badFields[f.Name] {
		return nil, fmt.Errorf("field %s: %w", f.Name, inspect.ErrUnreadable)
	}
	for i, fld := range v.fields {
		if fld == f {
			return v.fieldVals[i], nil
		}
	}
	return nil, fmt.Errorf("no field %s in %s", f.Name, v.typ.Name)
}

// CString implements inspect.Value
func (v *V) CString() (string, error) {
	target, err := v.mem.load(v.bits)
	if err != nil {
		return "", err
	}
	return target.cstr, nil
}

// Printer is a fake host pretty-printer keyed by symbol
type Printer map[string]string

// PrettyPrint implements inspect.Printer
func (p Printer) PrettyPrint(symbol string) (string, error) {
	s, ok := p[symbol]
	if !ok {
		return "", fmt.Errorf("no symbol %q in current context", symbol)
	}
	return s, nil
}
