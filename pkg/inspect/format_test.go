package inspect_test

import (
	"strings"
	"testing"

	"github.com/willibrandon/calltrace/pkg/inspect"
	"github.com/willibrandon/calltrace/pkg/inspect/inspecttest"
)

var structS = inspect.Type{Code: inspect.TypeStruct, Name: "S"}

func expectScalar(t *testing.T, n inspect.Node, want string) {
	t.Helper()
	if n.Kind != inspect.ScalarNode {
		t.Fatalf("Expected scalar %q, got %v node", want, n.Kind)
	}
	if n.Text != want {
		t.Errorf("Expected %q, got %q", want, n.Text)
	}
}

func containsText(n inspect.Node, text string) bool {
	switch n.Kind {
	case inspect.ScalarNode:
		return n.Text == text
	case inspect.SequenceNode:
		for _, c := range n.Items {
			if containsText(c, text) {
				return true
			}
		}
	case inspect.MappingNode:
		for _, c := range n.Vals {
			if containsText(c, text) {
				return true
			}
		}
	}
	return false
}

func TestFormatScalars(t *testing.T) {
	f := inspect.NewFormatter()

	tests := []struct {
		name  string
		value inspect.Value
		want  string
	}{
		{"nil handle", nil, inspect.NullText},
		{"integer", inspecttest.Int(inspecttest.IntType, 42), "42"},
		{"float", inspecttest.Float(2.5), "2.5"},
		{"bool", inspecttest.Bool(true), "true"},
		{"typedef", inspecttest.Typedef("myint", inspecttest.Int(inspecttest.IntType, 7)), "7"},
		{"nested typedef", inspecttest.Typedef("a", inspecttest.Typedef("b", inspecttest.Int(inspecttest.IntType, 3))), "3"},
		{"nul markers stripped", inspecttest.Text(inspecttest.StringType, `"ab\000"`), `"ab"`},
		{"unrenderable value", inspecttest.Broken(inspecttest.IntType), inspect.UnavailableText},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expectScalar(t, f.Format(tc.value, ""), tc.want)
		})
	}
}

func TestFormatLowAddress(t *testing.T) {
	f := inspect.NewFormatter()
	m := inspecttest.NewMemory()

	t.Run("value stored at low address", func(t *testing.T) {
		s := m.Store(0x100, inspecttest.Struct("S", inspecttest.F("a", inspecttest.Int(inspecttest.IntType, 1))))
		expectScalar(t, f.Format(s, ""), "S{...}")
	})

	t.Run("pointer holding low address is not dereferenced", func(t *testing.T) {
		m.Store(0x20, inspecttest.Int(inspecttest.IntType, 99))
		p := m.Pointer(inspecttest.PointerTo(inspecttest.IntType), 0x20)
		expectScalar(t, f.Format(p, ""), "0x20")
	})

	t.Run("zero pointer at top level", func(t *testing.T) {
		p := m.Pointer(inspecttest.PointerTo(structS), 0)
		expectScalar(t, f.Format(p, ""), "0x0")
	})

	t.Run("unreadable address", func(t *testing.T) {
		s := m.Store(0x30000, inspecttest.Struct("S"))
		m.Unreadable(0x30000)
		expectScalar(t, f.Format(s, ""), inspect.UnreadableText)
	})
}

func TestFormatReference(t *testing.T) {
	f := inspect.NewFormatter()
	s := inspecttest.Struct("S", inspecttest.F("a", inspecttest.Int(inspecttest.IntType, 1)))

	got := f.Format(inspecttest.Ref(s), "")
	if got.Kind != inspect.MappingNode {
		t.Fatalf("Expected mapping, got %v", got.Kind)
	}
	a, ok := got.Get("a")
	if !ok {
		t.Fatal("Expected field a")
	}
	expectScalar(t, a, "1")

	expectScalar(t, f.Format(inspecttest.NilRef("error"), "err"), inspect.NullText)
}

func TestFormatSmartPointer(t *testing.T) {
	f := inspect.NewFormatter()
	m := inspecttest.NewMemory()
	m.Store(0x20000, inspecttest.Int(inspecttest.IntType, 5))

	wrap := func(raw uint64) inspect.Value {
		ptr := m.Pointer(inspecttest.PointerTo(inspecttest.IntType), raw)
		base := inspecttest.Struct("std::__shared_ptr<int>", inspecttest.F("_M_ptr", ptr))
		return inspecttest.Struct("std::shared_ptr<int>", inspecttest.Base(base))
	}

	tests := []struct {
		name  string
		value inspect.Value
		want  string
	}{
		{"valid pointer through base layer", wrap(0x20000), "5"},
		{"null", wrap(0), inspect.NullptrText},
		{"low address", wrap(0x10), inspect.InvalidPointerText},
		{"dangling", wrap(0x50000), inspect.InvalidPointerText},
		{"no raw pointer field", inspecttest.Struct("std::shared_ptr<int>", inspecttest.F("other", inspecttest.Int(inspecttest.IntType, 1))), inspect.UnhandledSmartText},
		{
			"base layer of the same type is visited once",
			inspecttest.Struct("std::shared_ptr<X>", inspecttest.Base(inspecttest.Struct("std::shared_ptr<X>"))),
			inspect.UnhandledSmartText,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expectScalar(t, f.Format(tc.value, ""), tc.want)
		})
	}
}

func TestFormatContainer(t *testing.T) {
	printer := inspecttest.Printer{
		"v": "std::vector of length 2, capacity 2 = {\n  1,\n  2\n}",
	}
	vec := inspecttest.Struct("std::vector<int, std::allocator<int> >")

	t.Run("pretty printed and collapsed", func(t *testing.T) {
		f := inspect.NewFormatter(inspect.WithPrinter(printer))
		expectScalar(t, f.Format(vec, "v"), "std::vector of length 2, capacity 2 = {1,2}")
	})

	t.Run("printer failure", func(t *testing.T) {
		f := inspect.NewFormatter(inspect.WithPrinter(printer))
		expectScalar(t, f.Format(vec, "missing"), inspect.UnavailableText)
	})

	t.Run("no symbol falls back to value text", func(t *testing.T) {
		f := inspect.NewFormatter(inspect.WithPrinter(printer))
		expectScalar(t, f.Format(vec, ""), "std::vector<int, std::allocator<int> >{...}")
	})

	t.Run("go map", func(t *testing.T) {
		f := inspect.NewFormatter().WithPrinter(inspecttest.Printer{"m": "map[string]int [\"a\": 1, ]"})
		m := inspecttest.Text(inspect.Type{Code: inspect.TypeUnknown, Name: "map[string]int"}, "ignored")
		expectScalar(t, f.Format(m, "m"), "map[string]int [\"a\": 1, ]")
	})
}

func TestFormatPointers(t *testing.T) {
	f := inspect.NewFormatter()

	t.Run("wide numeric target", func(t *testing.T) {
		m := inspecttest.NewMemory()
		m.Store(0x20000, inspecttest.Int(inspecttest.Int32Type, 9))
		p := m.Pointer(inspecttest.PointerTo(inspecttest.Int32Type), 0x20000)
		expectScalar(t, f.Format(p, ""), "9")
	})

	t.Run("narrow numeric run stops at zero", func(t *testing.T) {
		m := inspecttest.NewMemory()
		for i, n := range []int64{3, 4, 0, 8} {
			m.Store(0x20000+uint64(2*i), inspecttest.Int(inspecttest.Int16Type, n))
		}
		p := m.Pointer(inspecttest.PointerTo(inspecttest.Int16Type), 0x20000)
		got := f.Format(p, "")
		want := inspect.Sequence(inspect.Scalar("3"), inspect.Scalar("4"), inspect.Scalar("0"))
		if !got.Equal(want) {
			t.Errorf("Expected %v, got %v", want, got)
		}
	})

	t.Run("narrow numeric run is bounded", func(t *testing.T) {
		m := inspecttest.NewMemory()
		for i := 0; i < 30; i++ {
			m.Store(0x20000+uint64(2*i), inspecttest.Int(inspecttest.Int16Type, int64(i+1)))
		}
		p := m.Pointer(inspecttest.PointerTo(inspecttest.Int16Type), 0x20000)
		if got := f.Format(p, ""); got.Len() != inspect.PointerRunLimit {
			t.Errorf("Expected %d elements, got %d", inspect.PointerRunLimit, got.Len())
		}
	})

	t.Run("void pointer", func(t *testing.T) {
		m := inspecttest.NewMemory()
		p := m.Pointer(inspecttest.PointerTo(inspecttest.VoidType), 0x20000)
		expectScalar(t, f.Format(p, ""), "(void*)0x20000")
	})

	t.Run("char pointer", func(t *testing.T) {
		m := inspecttest.NewMemory()
		m.CString(0x20000, "hello")
		p := m.Pointer(inspecttest.PointerTo(inspecttest.CharType), 0x20000)
		expectScalar(t, f.Format(p, ""), "hello")
	})

	t.Run("null inner pointer", func(t *testing.T) {
		m := inspecttest.NewMemory()
		inner := inspecttest.PointerTo(structS)
		m.Store(0x20000, m.Pointer(inner, 0))
		p := m.Pointer(inspecttest.PointerTo(inner), 0x20000)
		expectScalar(t, f.Format(p, ""), inspect.NullPointerText)
	})

	t.Run("struct target", func(t *testing.T) {
		m := inspecttest.NewMemory()
		m.Store(0x20000, inspecttest.Struct("S", inspecttest.F("a", inspecttest.Int(inspecttest.IntType, 1))))
		p := m.Pointer(inspecttest.PointerTo(structS), 0x20000)
		got := f.Format(p, "")
		a, ok := got.Get("a")
		if !ok {
			t.Fatalf("Expected mapping with field a, got %v", got)
		}
		expectScalar(t, a, "1")
	})

	t.Run("dangling pointer", func(t *testing.T) {
		m := inspecttest.NewMemory()
		p := m.Pointer(inspecttest.PointerTo(structS), 0x20000)
		expectScalar(t, f.Format(p, ""), inspect.InvalidPointerText)
	})

	t.Run("pointer into unmapped memory", func(t *testing.T) {
		m := inspecttest.NewMemory()
		m.Unreadable(0x20000)
		p := m.Pointer(inspecttest.PointerTo(structS), 0x20000)
		expectScalar(t, f.Format(p, ""), inspect.InvalidPointerText)
	})
}

func TestFormatTerminatesOnCycles(t *testing.T) {
	t.Run("self referencing pointer", func(t *testing.T) {
		m := inspecttest.NewMemory()
		loop := &inspect.Type{Code: inspect.TypePointer, Name: "loop", Size: 8}
		loop.Elem = loop
		m.Store(0x20000, m.Pointer(*loop, 0x20000))

		f := inspect.NewFormatter(inspect.WithMaxDepth(10))
		expectScalar(t, f.Format(m.Pointer(*loop, 0x20000), ""), inspect.MaxDepthText)
	})

	t.Run("cyclic linked list", func(t *testing.T) {
		m := inspecttest.NewMemory()
		nodeType := inspect.Type{Code: inspect.TypeStruct, Name: "node"}
		m.Store(0x20000, inspecttest.Struct("node",
			inspecttest.F("val", inspecttest.Int(inspecttest.IntType, 1)),
			inspecttest.F("next", m.Pointer(inspecttest.PointerTo(nodeType), 0x20000)),
		))
		head := m.Pointer(inspecttest.PointerTo(nodeType), 0x20000)

		for _, depth := range []int{0, 1, 6, 25} {
			f := inspect.NewFormatter(inspect.WithMaxDepth(depth))
			got := f.Format(head, "")
			if !containsText(got, inspect.MaxDepthText) {
				t.Errorf("depth %d: expected the depth sentinel in %v", depth, got)
			}
			if got.Depth() > depth+1 {
				t.Errorf("depth %d: tree depth %d exceeds bound", depth, got.Depth())
			}
		}
	})
}

func TestFormatStruct(t *testing.T) {
	f := inspect.NewFormatter()

	s := inspecttest.Struct("S",
		inspecttest.F("b", inspecttest.Int(inspecttest.IntType, 2)),
		inspecttest.F("a", inspecttest.Int(inspecttest.IntType, 1)),
		inspecttest.F("broken", inspecttest.Int(inspecttest.IntType, 3)),
	).FailField("broken")

	got := f.Format(s, "")
	want := inspect.Mapping()
	want.Set("b", inspect.Scalar("2"))
	want.Set("a", inspect.Scalar("1"))
	want.Set("broken", inspect.Scalar(""))
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	u := inspecttest.Union("U", inspecttest.F("i", inspecttest.Int(inspecttest.IntType, 4)))
	if got := f.Format(u, ""); got.Kind != inspect.MappingNode || got.Len() != 1 {
		t.Errorf("Expected union to render as a one field mapping, got %v", got)
	}
}

func TestFormatArrays(t *testing.T) {
	t.Run("char array of any length is one scalar", func(t *testing.T) {
		f := inspect.NewFormatter(inspect.WithMaxElements(4))
		long := strings.Repeat("x", 500)
		expectScalar(t, f.Format(inspecttest.CharArray(long), ""), `"`+long+`"`)
	})

	t.Run("int array is one scalar", func(t *testing.T) {
		f := inspect.NewFormatter()
		arr := inspecttest.Array(inspecttest.IntType, inspecttest.Int(inspecttest.IntType, 1), inspecttest.Int(inspecttest.IntType, 2))
		expectScalar(t, f.Format(arr, ""), "[2]int{...}")
	})

	t.Run("float array is a sequence", func(t *testing.T) {
		f := inspect.NewFormatter()
		arr := inspecttest.Array(inspecttest.Float64, inspecttest.Float(1.5), inspecttest.Float(2))
		want := inspect.Sequence(inspect.Scalar("1.5"), inspect.Scalar("2"))
		if got := f.Format(arr, ""); !got.Equal(want) {
			t.Errorf("Expected %v, got %v", want, got)
		}
	})

	t.Run("struct elements recurse", func(t *testing.T) {
		f := inspect.NewFormatter()
		arr := inspecttest.Array(structS,
			inspecttest.Struct("S", inspecttest.F("a", inspecttest.Int(inspecttest.IntType, 1))),
			inspecttest.Struct("S", inspecttest.F("a", inspecttest.Int(inspecttest.IntType, 2))),
		)
		got := f.Format(arr, "")
		if got.Kind != inspect.SequenceNode || got.Len() != 2 {
			t.Fatalf("Expected two element sequence, got %v", got)
		}
		if got.Items[1].Kind != inspect.MappingNode {
			t.Errorf("Expected mapping element, got %v", got.Items[1].Kind)
		}
	})

	t.Run("breadth is bounded", func(t *testing.T) {
		f := inspect.NewFormatter(inspect.WithMaxElements(3))
		var items []*inspecttest.V
		for i := 0; i < 10; i++ {
			items = append(items, inspecttest.Float(float64(i)))
		}
		arr := inspecttest.Array(inspecttest.Float64, items...)
		if got := f.Format(arr, ""); got.Len() != 3 {
			t.Errorf("Expected 3 elements, got %d", got.Len())
		}
	})
}

func TestFormatIsDeterministic(t *testing.T) {
	m := inspecttest.NewMemory()
	nodeType := inspect.Type{Code: inspect.TypeStruct, Name: "node"}
	m.Store(0x20000, inspecttest.Struct("node",
		inspecttest.F("name", inspecttest.CharArray("n")),
		inspecttest.F("next", m.Pointer(inspecttest.PointerTo(nodeType), 0x20000)),
	))
	v := m.Pointer(inspecttest.PointerTo(nodeType), 0x20000)

	f := inspect.NewFormatter(inspect.WithMaxDepth(8))
	first := f.Format(v, "")
	second := f.Format(v, "")
	if !first.Equal(second) {
		t.Errorf("Expected identical trees, got %v and %v", first, second)
	}
}
