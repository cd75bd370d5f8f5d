package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/willibrandon/calltrace/pkg/inspect"
	"github.com/willibrandon/calltrace/pkg/recorder"
)

const listing = `Dump of assembler code for function main:
   0x0000000000401136 <+0>:	push   %rbp
   0x000000000040114a <+20>:	call   0x401126 <helper>
   0x000000000040114f <+25>:	call   0x401030 <puts@plt>
   0x0000000000401154 <+30>:	lea    0x2ea5(%rip),%rax        # 0x404000 <callback>
   0x0000000000401162 <+44>:	call   *%rax
   0x000000000040116a <+52>:	leave
   0x000000000040116b <+53>:	ret
End of assembler dump.
`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	dump := writeFile(t, dir, "main.asm", listing)
	input := writeFile(t, dir, "oracle.json", `{"main": {"calls": ["helper", "puts"]}, "helper": {"calls": []}, "puts": {"calls": []}}`)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{
			name: "all sites",
			args: []string{"scan", dump, "-i", input, "-f", "main"},
			want: []string{
				"0x40114a  CallSite       helper",
				"0x401126  FunctionEntry  helper",
				"0x40114f  CallSite       puts",
				"0x40116b  ReturnSite     main      _start",
			},
			notWant: []string{"callback"},
		},
		{
			name:    "excluded callee",
			args:    []string{"scan", dump, "-i", input, "-f", "main", "--exclude", "puts"},
			want:    []string{"helper"},
			notWant: []string{"puts"},
		},
		{
			name:    "excluded callee is logged",
			args:    []string{"scan", dump, "-i", input, "-f", "main", "--exclude", "puts", "-v"},
			want:    []string{"oracle callee not instrumented", "callee=puts", "reason=excluded"},
			notWant: []string{"CallSite       puts"},
		},
		{
			name: "function outside oracle",
			args: []string{"scan", dump, "-i", input, "-f", "other"},
			want: []string{"no sites in other (7 instructions)"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := execute(t, "", tc.args...)
			if err != nil {
				t.Fatalf("scan failed: %v", err)
			}
			for _, w := range tc.want {
				if !strings.Contains(out, w) {
					t.Errorf("Expected %q in output:\n%s", w, out)
				}
			}
			for _, w := range tc.notWant {
				if strings.Contains(out, w) {
					t.Errorf("Unexpected %q in output:\n%s", w, out)
				}
			}
		})
	}
}

func writeTrace(t *testing.T, opts recorder.FileRecorderOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.json")
	rec, err := recorder.NewFileRecorderWithOptions(path, opts)
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	c := recorder.NewCapture("main", recorder.BeforeCall, "helper")
	c.LocalVars.Set("i", inspect.Scalar("4"))
	rec.RecordCapture(c)
	rec.RecordCapture(recorder.NewCapture("_start", recorder.BeforeReturn, "main"))
	if err := rec.Close(); err != nil {
		t.Fatalf("Failed to write trace: %v", err)
	}
	return path
}

func TestShow(t *testing.T) {
	path := writeTrace(t, recorder.DefaultFileRecorderOptions())

	out, err := execute(t, "", "show", path)
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	for _, w := range []string{"[0] main: before call of helper", "[1] _start: before return of main", "Replay complete"} {
		if !strings.Contains(out, w) {
			t.Errorf("Expected %q in output:\n%s", w, out)
		}
	}

	out, err = execute(t, "", "show", path, "--filter", "_start")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if strings.Contains(out, "helper") || !strings.Contains(out, "[0] _start") {
		t.Errorf("Expected only the filtered capture:\n%s", out)
	}

	out, err = execute(t, "s\np i\nq\n", "show", path, "-I")
	if err != nil {
		t.Fatalf("interactive show failed: %v", err)
	}
	if !strings.Contains(out, "i = 4") {
		t.Errorf("Expected printed variable:\n%s", out)
	}
}

func TestShowVerify(t *testing.T) {
	opts := recorder.DefaultFileRecorderOptions()
	recorder.WithIntegrityCheck([]byte{0x01, 0x02})(&opts.Security)
	path := writeTrace(t, opts)

	out, err := execute(t, "", "show", path, "--verify-key", "0102")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out, "integrity verified") {
		t.Errorf("Expected verification message:\n%s", out)
	}

	if _, err := execute(t, "", "show", path, "--verify-key", "0103"); err == nil {
		t.Error("Expected verification failure with the wrong key")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	_, err := execute(t, "", "run", "--compress", "lz4", "--", "/bin/true")
	if err == nil || !strings.Contains(err.Error(), "unknown compression") {
		t.Errorf("Expected configuration error, got %v", err)
	}

	_, err = execute(t, "", "run")
	if err == nil || !strings.Contains(err.Error(), "no target") {
		t.Errorf("Expected missing target error, got %v", err)
	}
}

func TestRunMissingOracle(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "", "run", "-i", filepath.Join(dir, "missing.json"), "-o", filepath.Join(dir, "out.json"), "--", "/bin/true")
	if err == nil || !strings.Contains(err.Error(), "failed to read oracle") {
		t.Errorf("Expected oracle error, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "calltrace v") {
		t.Errorf("Unexpected version output %q", out)
	}
}
