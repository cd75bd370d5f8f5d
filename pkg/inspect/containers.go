package inspect

import "strings"

// LowAddress is the threshold under which addresses and pointer values are
// treated as sentinels rather than dereferenceable memory.
const LowAddress = 0x10000

// Registry holds the type-name prefixes the formatter treats specially.
type Registry struct {
	// SmartPointers are wrapper types owning a single raw pointer
	SmartPointers []string
	// RawPointerField is the member name of the raw pointer inside a smart pointer
	RawPointerField string
	// Containers are library types rendered through the host pretty-printer
	Containers []string
}

// DefaultRegistry returns the registry covering the C++ standard library and
// the Go runtime's built-in containers.
func DefaultRegistry() *Registry {
	return &Registry{
		SmartPointers:   []string{"std::shared_ptr", "std::__shared_ptr"},
		RawPointerField: "_M_ptr",
		Containers: []string{
			// sequence containers
			"std::vector", "std::__vector",
			"std::deque", "std::__deque",
			"std::list", "std::__list",
			"std::forward_list", "std::__forward_list",
			"std::array", "std::__array",
			// associative containers
			"std::map", "std::__map",
			"std::multimap", "std::__multimap",
			"std::set", "std::__set",
			"std::multiset", "std::__multiset",
			"std::unordered_map", "std::__unordered_map",
			"std::unordered_multimap", "std::__unordered_multimap",
			"std::unordered_set", "std::__unordered_set",
			"std::unordered_multiset", "std::__unordered_multiset",
			// container adapters
			"std::stack", "std::__stack",
			"std::queue", "std::__queue",
			"std::priority_queue", "std::__priority_queue",
			// strings and bit sets
			"std::bitset", "std::__bitset",
			"std::string", "std::__string",
			"std::basic_string", "std::__cxx11::basic_string",
			// other owning wrappers
			"std::unique_ptr", "std::__unique_ptr",
			"std::weak_ptr", "std::__weak_ptr",
			"std::pair", "std::__pair",
			"std::tuple", "std::__tuple",
			"std::optional", "std::__optional",
			"std::variant", "std::__variant",
			"std::any", "std::__any",
			// Go runtime containers
			"map[",
			"chan ",
			"sync.Map",
		},
	}
}

// IsSmartPointer reports whether typeName names a smart pointer type
func (r *Registry) IsSmartPointer(typeName string) bool {
	return hasAnyPrefix(typeName, r.SmartPointers)
}

// IsContainer reports whether typeName names a registered container type
func (r *Registry) IsContainer(typeName string) bool {
	return hasAnyPrefix(typeName, r.Containers)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	if s == "" {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// CollapseBraces removes spaces and line breaks inside the outermost brace
// pair so multi-line container dumps become one line. Text outside braces is
// left untouched.
func CollapseBraces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	depth := 0
	for _, r := range s {
		switch {
		case r == '{':
			depth++
			b.WriteRune(r)
		case r == '}':
			if depth > 0 {
				depth--
			}
			b.WriteRune(r)
		case depth > 0 && (r == ' ' || r == '\n' || r == '\r' || r == '\t'):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StripNUL removes literal `\000` markers and raw NUL bytes from host text
func StripNUL(s string) string {
	s = strings.ReplaceAll(s, `\000`, "")
	return strings.ReplaceAll(s, "\x00", "")
}
