package instrumentation

import (
	"os"
	"path/filepath"
	"strings"
)

// Options stores configuration for selective instrumentation of callees
type Options struct {
	// IncludeFunctions is a list of function name patterns to instrument
	// Empty means every oracle function is instrumented
	IncludeFunctions []string

	// ExcludeFunctions is a list of function name patterns never to instrument
	// This takes precedence over IncludeFunctions
	ExcludeFunctions []string

	// InstrumentRuntime indicates whether to instrument Go runtime and C
	// library internals
	InstrumentRuntime bool
}

// DefaultOptions returns the default instrumentation options
func DefaultOptions() Options {
	return Options{
		IncludeFunctions:  []string{}, // Empty means all functions
		ExcludeFunctions:  []string{}, // Don't exclude any functions by default
		InstrumentRuntime: false,      // Don't instrument runtime internals by default
	}
}

// LoadOptionsFromEnvironment applies CALLTRACE_* environment variables on top
// of the given options
func LoadOptionsFromEnvironment(options Options) Options {
	// CALLTRACE_INCLUDE controls which functions to instrument
	if includes := os.Getenv("CALLTRACE_INCLUDE"); includes != "" {
		options.IncludeFunctions = splitList(includes)
	}

	// CALLTRACE_EXCLUDE controls which functions to skip
	if excludes := os.Getenv("CALLTRACE_EXCLUDE"); excludes != "" {
		options.ExcludeFunctions = splitList(excludes)
	}

	// CALLTRACE_INSTRUMENT_RUNTIME controls whether runtime internals are instrumented
	if runtime := os.Getenv("CALLTRACE_INSTRUMENT_RUNTIME"); runtime != "" {
		options.InstrumentRuntime = runtime == "1" || runtime == "true" || runtime == "yes"
	}

	return options
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Filter decides which callees get instrumented
type Filter struct {
	options Options
}

// NewFilter creates a filter from options
func NewFilter(options Options) *Filter {
	return &Filter{options: options}
}

// Options returns the filter configuration
func (f *Filter) Options() Options {
	return f.options
}

// Reasons a callee is left uninstrumented
const (
	SkipRuntime     = "runtime internal"
	SkipExcluded    = "excluded"
	SkipNotIncluded = "not included"
)

// ShouldInstrument checks if calls to function should be instrumented. A nil
// filter instruments everything.
func (f *Filter) ShouldInstrument(function string) bool {
	return f.Reason(function) == ""
}

// Reason returns why calls to function are not instrumented, or "" when
// they are.
func (f *Filter) Reason(function string) string {
	if f == nil {
		return ""
	}

	if isRuntime(function) && !f.options.InstrumentRuntime {
		return SkipRuntime
	}

	// Check if function is explicitly excluded
	for _, exclude := range f.options.ExcludeFunctions {
		if matchesFunction(function, exclude) {
			return SkipExcluded
		}
	}

	// If no includes specified, instrument everything except exclusions
	if len(f.options.IncludeFunctions) == 0 {
		return ""
	}

	for _, include := range f.options.IncludeFunctions {
		if matchesFunction(function, include) {
			return ""
		}
	}

	return SkipNotIncluded
}

// isRuntime reports whether function belongs to the Go runtime or is a
// reserved C library symbol
func isRuntime(function string) bool {
	return strings.HasPrefix(function, "runtime.") ||
		strings.HasPrefix(function, "internal/") ||
		strings.HasPrefix(function, "__")
}

// matchesFunction checks if a function name matches a pattern
func matchesFunction(function, pattern string) bool {
	// Handle wildcard patterns
	if strings.HasSuffix(pattern, "...") {
		prefix := strings.TrimSuffix(pattern, "...")
		return strings.HasPrefix(function, prefix)
	}

	// Direct match
	matched, _ := filepath.Match(pattern, function)
	return matched
}
