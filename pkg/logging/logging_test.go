package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsoleLevels(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		wantDebug bool
	}{
		{"default", false, false},
		{"verbose", true, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(Options{Verbose: tc.verbose, Console: &buf})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			defer l.Close()

			l.Debug().Msg("scanning helper")
			l.Info().Str("location", "main").Msg("captured")

			out := buf.String()
			if !strings.Contains(out, "captured") || !strings.Contains(out, "location=main") {
				t.Errorf("Expected info record on console, got %q", out)
			}
			if got := strings.Contains(out, "scanning helper"); got != tc.wantDebug {
				t.Errorf("Debug record on console = %v, want %v: %q", got, tc.wantDebug, out)
			}
			if strings.Contains(out, "\x1b[") {
				t.Errorf("Expected no colour on a non-terminal writer, got %q", out)
			}
		})
	}
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debugger.log")
	var buf bytes.Buffer
	l, err := New(Options{File: path, Console: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Debug().Msg("instrumented call site")
	l.Warn().Msg("count inconsistency")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	for _, want := range []string{`"level":"debug"`, "instrumented call site", "count inconsistency"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected %q in log file, got %s", want, data)
		}
	}
	if strings.Contains(buf.String(), "instrumented call site") {
		t.Errorf("Debug record leaked to console: %q", buf.String())
	}
}

func TestLogFileError(t *testing.T) {
	if _, err := New(Options{File: filepath.Join(t.TempDir(), "missing", "x.log")}); err == nil {
		t.Error("Expected error for unwritable log file")
	}
}
