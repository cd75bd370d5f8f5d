package oracle

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const sampleJSON = `{
	"main": {"calls": ["helper", "printf", "helper"], "times_called": [2, 1, 3], "local_vars": ["i"]},
	"helper": {"calls": ["leaf"]},
	"leaf": {"calls": []}
}`

func TestParseJSON(t *testing.T) {
	o, err := ParseJSON([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}

	tests := []struct {
		name   string
		caller string
		callee string
		want   int
	}{
		{"duplicate callee keeps the last count", "main", "helper", 3},
		{"explicit count", "main", "printf", 1},
		{"missing count defaults to one", "helper", "leaf", 1},
		{"unknown callee", "main", "nobody", 0},
		{"unknown caller", "nobody", "main", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := o.Lookup(tc.caller, tc.callee); got != tc.want {
				t.Errorf("Lookup(%s, %s) = %d, want %d", tc.caller, tc.callee, got, tc.want)
			}
		})
	}

	if !o.Has("leaf") {
		t.Error("Expected leaf to be an oracle key even without calls")
	}
	if got := o.LocalVars("main"); !reflect.DeepEqual(got, []string{"i"}) {
		t.Errorf("Expected local vars [i], got %v", got)
	}
	want := []Call{{"helper", 3}, {"printf", 1}}
	if got := o.Callees("main"); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected callees %v, got %v", want, got)
	}
	if got := o.Functions(); !reflect.DeepEqual(got, []string{"helper", "leaf", "main"}) {
		t.Errorf("Expected sorted functions, got %v", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"wrong shape", `{"main": {"calls": "helper"}}`},
		{"negative count", `{"main": {"calls": ["helper"], "times_called": [-1]}}`},
		{"empty name", `{"": {"calls": []}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tc.data))
			if !errors.Is(err, ErrFormat) {
				t.Errorf("Expected ErrFormat, got %v", err)
			}
		})
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oracle.yaml")
	data := []byte("main:\n  calls: [helper]\n  times_called: [2]\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write oracle: %v", err)
	}

	o, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := o.Lookup("main", "helper"); got != 2 {
		t.Errorf("Expected 2, got %d", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestSeedAndResolve(t *testing.T) {
	o := New()
	o.Add("main.main", Call{Callee: "main.helper", Count: 2})
	o.Add("main.helper")
	o.Seed(DefaultRoot, "main.main")

	if got := o.Lookup(DefaultRoot, "main.main"); got != 1 {
		t.Errorf("Expected seeded root count 1, got %d", got)
	}

	name, ok := o.Resolve("", "helper@plt", "main.helper")
	if !ok || name != "main.helper" {
		t.Errorf("Expected main.helper to resolve, got %q %v", name, ok)
	}
	if _, ok := o.Resolve("runtime.morestack"); ok {
		t.Error("Expected unknown candidate not to resolve")
	}
}

func TestResolveRequiresKey(t *testing.T) {
	o := New()
	o.Add("main.main", Call{Callee: "main.helper", Count: 2})

	if _, ok := o.Resolve("main.helper"); ok {
		t.Error("Expected a callee that is not an oracle key not to resolve")
	}
	if name, ok := o.Resolve("main.main"); !ok || name != "main.main" {
		t.Errorf("Expected main.main to resolve, got %q %v", name, ok)
	}
}
