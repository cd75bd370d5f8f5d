package inspect

import "errors"

var (
	// ErrNoAddress is returned by Value.Address for values that do not live
	// in target memory (registers, constants, synthesized values).
	ErrNoAddress = errors.New("value has no address")
	// ErrUnreadable reports that target memory could not be read
	ErrUnreadable = errors.New("memory unreadable")
	// ErrNotLoaded reports that the host did not load the requested part of a value
	ErrNotLoaded = errors.New("value not loaded")
	// ErrNil is returned by Value.Deref for references that hold nothing
	ErrNil = errors.New("nil reference")
)

// TypeCode classifies the declared type of a value
type TypeCode int

const (
	TypeUnknown TypeCode = iota
	TypePointer
	TypeArray
	TypeStruct
	TypeUnion
	TypeTypedef
	TypeRef
	TypeInt
	TypeFloat
	TypeChar
	TypeBool
	TypeVoid
	TypeFunc
	TypeEnum
	TypeString
	TypeComplex
)

var typeCodeNames = map[TypeCode]string{
	TypeUnknown: "unknown",
	TypePointer: "pointer",
	TypeArray:   "array",
	TypeStruct:  "struct",
	TypeUnion:   "union",
	TypeTypedef: "typedef",
	TypeRef:     "reference",
	TypeInt:     "int",
	TypeFloat:   "float",
	TypeChar:    "char",
	TypeBool:    "bool",
	TypeVoid:    "void",
	TypeFunc:    "func",
	TypeEnum:    "enum",
	TypeString:  "string",
	TypeComplex: "complex",
}

// String returns the string representation of the TypeCode
func (c TypeCode) String() string {
	if s, ok := typeCodeNames[c]; ok {
		return s
	}
	return "unknown"
}

// Numeric reports whether values of the type are integers or floats
func (c TypeCode) Numeric() bool {
	return c == TypeInt || c == TypeFloat
}

// Type describes the declared type of a value.
type Type struct {
	Code TypeCode
	// Name is the type name as the host spells it, empty for anonymous types
	Name string
	// Size is the size of the type in bytes, 0 when unknown
	Size int
	// Elem describes the pointer target or array element, nil otherwise
	Elem *Type
	// Len is the element count of arrays
	Len int
}

// Field is one declared member of a struct or union
type Field struct {
	Name string
	// BaseClass marks an inherited (or embedded) layer rather than a named member
	BaseClass bool
}

// Value is a handle to a value resident in the traced process. The host
// debugger implements it; the formatter only ever reads through it.
type Value interface {
	// Type returns the declared type of the value
	Type() Type
	// Address returns where the value lives in target memory
	Address() (uint64, error)
	// Uint returns the integer representation of pointers and integral scalars
	Uint() (uint64, error)
	// Text renders the value the way the host debugger prints it
	Text() (string, error)
	// Underlying strips one typedef layer, keeping the same storage
	Underlying() (Value, error)
	// Deref dereferences a pointer or resolves a reference
	Deref() (Value, error)
	// Index returns element i of an array, or *(p+i) for a pointer p
	Index(i int) (Value, error)
	// Fields lists declared members of a struct or union in declaration order
	Fields() []Field
	// Field reads one member; for base-class fields it returns the base layer
	Field(f Field) (Value, error)
	// CString reads the NUL terminated string a char pointer points to
	CString() (string, error)
}

// Printer renders a named symbol with the host debugger's own pretty-printers.
type Printer interface {
	PrettyPrint(symbol string) (string, error)
}
