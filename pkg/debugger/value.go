package debugger

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-delve/delve/service/api"

	"github.com/willibrandon/calltrace/pkg/inspect"
)

const (
	cstringChunk = 64
	cstringMax   = 4096
)

// evaluator reloads values Delve did not load eagerly and reads raw memory
type evaluator interface {
	eval(expr string) (*api.Variable, error)
	readMemory(addr uint64, n int) ([]byte, error)
}

// Value adapts a Delve variable to inspect.Value. Pointer targets beyond
// Delve's load depth are evaluated on demand.
type Value struct {
	v   *api.Variable
	ev  evaluator
	typ inspect.Type
}

func newValue(v *api.Variable, ev evaluator) *Value {
	return &Value{v: v, ev: ev, typ: typeOf(v)}
}

var kindSizes = map[reflect.Kind]int{
	reflect.Bool:          1,
	reflect.Int:           8,
	reflect.Int8:          1,
	reflect.Int16:         2,
	reflect.Int32:         4,
	reflect.Int64:         8,
	reflect.Uint:          8,
	reflect.Uint8:         1,
	reflect.Uint16:        2,
	reflect.Uint32:        4,
	reflect.Uint64:        8,
	reflect.Uintptr:       8,
	reflect.Float32:       4,
	reflect.Float64:       8,
	reflect.Complex64:     8,
	reflect.Complex128:    16,
	reflect.String:        16,
	reflect.Ptr:           8,
	reflect.UnsafePointer: 8,
}

func isBasic(k reflect.Kind) bool {
	return (k >= reflect.Bool && k <= reflect.Complex128) || k == reflect.String
}

func isSigned(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUnsigned(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

var basicKinds = map[string]reflect.Kind{
	"bool": reflect.Bool, "string": reflect.String,
	"int": reflect.Int, "int8": reflect.Int8, "int16": reflect.Int16, "int32": reflect.Int32, "int64": reflect.Int64,
	"uint": reflect.Uint, "uint8": reflect.Uint8, "uint16": reflect.Uint16, "uint32": reflect.Uint32, "uint64": reflect.Uint64,
	"byte": reflect.Uint8, "rune": reflect.Int32, "uintptr": reflect.Uintptr,
	"float32": reflect.Float32, "float64": reflect.Float64,
}

func isChar(name string) bool {
	switch name {
	case "char", "signed char", "unsigned char", "C.char", "C.schar", "C.uchar":
		return true
	}
	return false
}

// typeOf maps Delve's type model onto the inspector's type codes
func typeOf(v *api.Variable) inspect.Type {
	t := inspect.Type{Name: v.Type, Size: kindSizes[v.Kind]}
	if isBasic(v.Kind) && v.RealType != "" && v.RealType != v.Type {
		t.Code = inspect.TypeTypedef
		return t
	}

	switch {
	case v.Kind == reflect.Ptr:
		t.Code = inspect.TypePointer
		if len(v.Children) > 0 {
			e := typeOf(&v.Children[0])
			t.Elem = &e
		} else {
			t.Elem = &inspect.Type{Name: strings.TrimPrefix(v.Type, "*")}
		}
	case v.Kind == reflect.UnsafePointer:
		t.Code = inspect.TypePointer
		t.Elem = &inspect.Type{Code: inspect.TypeVoid, Name: "void"}
	case v.Kind == reflect.Interface:
		t.Code = inspect.TypeRef
	case v.Kind == reflect.Struct:
		t.Code = inspect.TypeStruct
	case v.Kind == reflect.Array || v.Kind == reflect.Slice:
		t.Code = inspect.TypeArray
		t.Len = int(v.Len)
		if len(v.Children) > 0 {
			e := typeOf(&v.Children[0])
			t.Elem = &e
		} else if i := strings.IndexByte(v.Type, ']'); i >= 0 {
			e := elemType(v.Type[i+1:])
			t.Elem = &e
		}
	case v.Kind == reflect.String:
		t.Code = inspect.TypeString
	case v.Kind == reflect.Bool:
		t.Code = inspect.TypeBool
	case isSigned(v.Kind) || isUnsigned(v.Kind):
		if isChar(v.Type) {
			t.Code = inspect.TypeChar
		} else {
			t.Code = inspect.TypeInt
		}
	case v.Kind == reflect.Float32 || v.Kind == reflect.Float64:
		t.Code = inspect.TypeFloat
	case v.Kind == reflect.Complex64 || v.Kind == reflect.Complex128:
		t.Code = inspect.TypeComplex
	case v.Kind == reflect.Func:
		t.Code = inspect.TypeFunc
	}
	return t
}

// elemType types an element from its name alone, for arrays Delve returned
// without any loaded element
func elemType(name string) inspect.Type {
	if isChar(name) {
		return inspect.Type{Code: inspect.TypeChar, Name: name, Size: 1}
	}
	if k, ok := basicKinds[name]; ok {
		return typeOf(&api.Variable{Kind: k, Type: name})
	}
	return inspect.Type{Name: name}
}

func (v *Value) child(i int) *Value {
	return newValue(&v.v.Children[i], v.ev)
}

func (v *Value) unreadable() error {
	if v.v.Unreadable == "" {
		return nil
	}
	return fmt.Errorf("%s: %w", v.v.Unreadable, inspect.ErrUnreadable)
}

// Type implements inspect.Value
func (v *Value) Type() inspect.Type {
	return v.typ
}

// Address implements inspect.Value
func (v *Value) Address() (uint64, error) {
	if err := v.unreadable(); err != nil {
		return 0, err
	}
	if v.v.Addr == 0 {
		return 0, inspect.ErrNoAddress
	}
	return v.v.Addr, nil
}

// Uint implements inspect.Value
func (v *Value) Uint() (uint64, error) {
	if err := v.unreadable(); err != nil {
		return 0, err
	}
	k := v.v.Kind
	switch {
	case k == reflect.Ptr || k == reflect.UnsafePointer:
		if len(v.v.Children) > 0 {
			return v.v.Children[0].Addr, nil
		}
		if v.v.Value == "" || v.v.Value == "nil" {
			return 0, nil
		}
		return strconv.ParseUint(v.v.Value, 0, 64)
	case k == reflect.Bool:
		if v.v.Value == "true" {
			return 1, nil
		}
		return 0, nil
	case isSigned(k):
		n, err := strconv.ParseInt(v.v.Value, 10, 64)
		return uint64(n), err
	case isUnsigned(k):
		return strconv.ParseUint(v.v.Value, 10, 64)
	}
	return 0, fmt.Errorf("%s has no integer representation", v.v.Type)
}

// Text implements inspect.Value
func (v *Value) Text() (string, error) {
	if err := v.unreadable(); err != nil {
		return "", err
	}
	switch {
	case v.v.Kind == reflect.String:
		s := strconv.Quote(v.v.Value)
		if int64(len(v.v.Value)) < v.v.Len {
			s += "..."
		}
		return s, nil
	case isBasic(v.v.Kind):
		return v.v.Value, nil
	}
	return v.v.SinglelineString(), nil
}

// Underlying implements inspect.Value
func (v *Value) Underlying() (inspect.Value, error) {
	if v.typ.Code != inspect.TypeTypedef {
		return nil, fmt.Errorf("%s is not a named basic type", v.v.Type)
	}
	u := *v.v
	u.Type = u.RealType
	return newValue(&u, v.ev), nil
}

// Deref implements inspect.Value
func (v *Value) Deref() (inspect.Value, error) {
	if err := v.unreadable(); err != nil {
		return nil, err
	}
	switch v.v.Kind {
	case reflect.Interface:
		if len(v.v.Children) == 0 {
			return nil, inspect.ErrNotLoaded
		}
		if v.v.Children[0].Kind == reflect.Invalid {
			return nil, inspect.ErrNil
		}
		return v.loaded(0)
	case reflect.Ptr:
		if len(v.v.Children) == 0 {
			return nil, inspect.ErrNotLoaded
		}
		if v.v.Children[0].Addr == 0 {
			return nil, fmt.Errorf("nil pointer: %w", inspect.ErrNoAddress)
		}
		return v.loaded(0)
	}
	return nil, fmt.Errorf("cannot dereference %s", v.v.Type)
}

// loaded returns child i, evaluating it through its address when Delve
// stopped loading above it.
func (v *Value) loaded(i int) (inspect.Value, error) {
	c := &v.v.Children[i]
	if !c.OnlyAddr {
		return v.child(i), nil
	}
	if c.Addr == 0 || c.Type == "" {
		return nil, inspect.ErrNotLoaded
	}
	return v.at("*"+c.Type, c.Addr)
}

// at evaluates the value of pointer type ptrType stored at addr
func (v *Value) at(ptrType string, addr uint64) (inspect.Value, error) {
	if v.ev == nil {
		return nil, inspect.ErrNotLoaded
	}
	r, err := v.ev.eval(fmt.Sprintf("*(%s)(%#x)", ptrType, addr))
	if err != nil {
		return nil, fmt.Errorf("load 0x%x: %w", addr, inspect.ErrUnreadable)
	}
	return newValue(r, v.ev), nil
}

// Index implements inspect.Value
func (v *Value) Index(i int) (inspect.Value, error) {
	if i < 0 {
		return nil, fmt.Errorf("negative index %d", i)
	}
	switch v.v.Kind {
	case reflect.Array, reflect.Slice:
		if i < len(v.v.Children) {
			return v.child(i), nil
		}
		if int64(i) < v.v.Len {
			return nil, inspect.ErrNotLoaded
		}
		return nil, fmt.Errorf("index %d out of range [0:%d]", i, v.v.Len)
	case reflect.Ptr:
		if i == 0 {
			return v.Deref()
		}
		if v.typ.Elem == nil || v.typ.Elem.Size == 0 {
			return nil, fmt.Errorf("unknown element size of %s", v.v.Type)
		}
		base, err := v.Uint()
		if err != nil {
			return nil, err
		}
		return v.at(v.v.Type, base+uint64(i*v.typ.Elem.Size))
	}
	return nil, fmt.Errorf("cannot index %s", v.v.Type)
}

// expand loads the members of a struct Delve returned past its recursion
// limit, where only the field count survives.
func (v *Value) expand() {
	if v.v.Kind != reflect.Struct || len(v.v.Children) > 0 || v.v.Len == 0 {
		return
	}
	if v.v.Addr == 0 || v.ev == nil {
		return
	}
	r, err := v.ev.eval(fmt.Sprintf("*(*%s)(%#x)", v.v.Type, v.v.Addr))
	if err != nil || len(r.Children) == 0 {
		return
	}
	v.v = r
}

// Fields implements inspect.Value
func (v *Value) Fields() []inspect.Field {
	if v.v.Kind != reflect.Struct {
		return nil
	}
	v.expand()
	fields := make([]inspect.Field, 0, len(v.v.Children))
	for _, c := range v.v.Children {
		fields = append(fields, inspect.Field{Name: c.Name})
	}
	return fields
}

// Field implements inspect.Value
func (v *Value) Field(f inspect.Field) (inspect.Value, error) {
	v.expand()
	for i := range v.v.Children {
		if v.v.Children[i].Name == f.Name {
			return v.loaded(i)
		}
	}
	return nil, fmt.Errorf("%s has no field %s", v.v.Type, f.Name)
}

// CString implements inspect.Value
func (v *Value) CString() (string, error) {
	addr, err := v.Uint()
	if err != nil {
		return "", err
	}
	if v.ev == nil {
		return "", inspect.ErrNotLoaded
	}
	var buf []byte
	for len(buf) < cstringMax {
		chunk, err := v.ev.readMemory(addr+uint64(len(buf)), cstringChunk)
		if err != nil {
			if len(buf) == 0 {
				return "", err
			}
			break
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(buf, chunk[:i]...)), nil
		}
		buf = append(buf, chunk...)
	}
	if len(buf) == 0 {
		return "", errors.New("empty read")
	}
	return string(buf), nil
}
