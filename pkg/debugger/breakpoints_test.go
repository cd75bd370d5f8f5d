package debugger

import (
	"testing"
)

func TestNewBreakpointRegistry(t *testing.T) {
	r := NewBreakpointRegistry()
	if r == nil {
		t.Fatal("NewBreakpointRegistry returned nil")
	}

	if r.nextID != 1 {
		t.Errorf("Expected nextID to be 1, got %d", r.nextID)
	}

	if r.Len() != 0 {
		t.Errorf("Expected 0 breakpoints, got %d", r.Len())
	}
}

func TestAddBreakpoint(t *testing.T) {
	r := NewBreakpointRegistry()

	testCases := []struct {
		name     string
		addr     uint64
		kind     BreakpointKind
		function string
		caller   string
	}{
		{
			name:     "Call site",
			addr:     0x401010,
			kind:     CallSite,
			function: "helper",
			caller:   "main",
		},
		{
			name:     "Function entry",
			addr:     0x402000,
			kind:     FunctionEntry,
			function: "helper",
			caller:   "main",
		},
		{
			name:     "Return site",
			addr:     0x402040,
			kind:     ReturnSite,
			function: "helper",
			caller:   "main",
		},
		{
			name:     "Root caller",
			addr:     0x401080,
			kind:     ReturnSite,
			function: "main",
			caller:   "_start",
		},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bp, err := r.Add(tc.addr, tc.kind, tc.function, tc.caller)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if bp.Kind != tc.kind {
				t.Errorf("Expected kind %v, got %v", tc.kind, bp.Kind)
			}

			if bp.ID != i+1 {
				t.Errorf("Expected ID %d, got %d", i+1, bp.ID)
			}

			if !r.Has(tc.addr) {
				t.Errorf("Expected 0x%x to be registered", tc.addr)
			}
		})
	}

	if r.Len() != len(testCases) {
		t.Errorf("Expected %d breakpoints, got %d", len(testCases), r.Len())
	}
	if got := r.Count(ReturnSite); got != 2 {
		t.Errorf("Expected 2 return sites, got %d", got)
	}
}

func TestAddDuplicateAddress(t *testing.T) {
	r := NewBreakpointRegistry()

	first, err := r.Add(0x401000, CallSite, "helper", "main")
	if err != nil {
		t.Fatalf("Failed to add breakpoint: %v", err)
	}

	if _, err := r.Add(0x401000, ReturnSite, "main", "_start"); err == nil {
		t.Error("Expected error when adding a second breakpoint at the same address")
	}

	bp, ok := r.Get(0x401000)
	if !ok || bp != first {
		t.Errorf("Expected original breakpoint to be kept, got %v", bp)
	}
}

func TestRemoveBreakpoint(t *testing.T) {
	r := NewBreakpointRegistry()

	r.Add(0x401000, CallSite, "a", "main")
	r.Add(0x402000, CallSite, "b", "main")

	if err := r.Remove(0x401000); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("Expected 1 breakpoint, got %d", len(list))
	}
	if list[0].Function != "b" {
		t.Errorf("Expected remaining breakpoint b, got %s", list[0].Function)
	}

	if err := r.Remove(0x999); err == nil {
		t.Error("Expected error when removing non-existent breakpoint, got nil")
	}
}

func TestListOrderedByAddress(t *testing.T) {
	r := NewBreakpointRegistry()
	for _, addr := range []uint64{0x30, 0x10, 0x20} {
		if _, err := r.Add(addr, CallSite, "f", "main"); err != nil {
			t.Fatalf("Failed to add breakpoint: %v", err)
		}
	}

	list := r.List()
	for i, want := range []uint64{0x10, 0x20, 0x30} {
		if list[i].Addr != want {
			t.Errorf("Position %d: expected 0x%x, got 0x%x", i, want, list[i].Addr)
		}
	}
}

func TestBreakpointKindString(t *testing.T) {
	tests := map[BreakpointKind]string{
		CallSite:           "CallSite",
		FunctionEntry:      "FunctionEntry",
		ReturnSite:         "ReturnSite",
		BreakpointKind(42): "Unknown",
	}
	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
