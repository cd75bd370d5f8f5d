// Package symbols turns call-target symbols found in disassembly into the
// names an oracle may know them by.
package symbols

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize is the number of symbols whose candidate names are cached
const DefaultCacheSize = 4096

// Resolver computes lookup candidates for symbols. It caches results since
// the same targets are seen every time a function body is rescanned.
type Resolver struct {
	cache *lru.Cache
}

// NewResolver creates a resolver with an LRU cache of the given size
func NewResolver(size int) (*Resolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Resolver{cache: cache}, nil
}

// Candidates returns, in lookup order, the raw symbol without its PLT
// suffix, its demangled form, and the demangled form without parameters.
// Duplicates are removed.
func (r *Resolver) Candidates(symbol string) []string {
	if v, ok := r.cache.Get(symbol); ok {
		return v.([]string)
	}
	c := Candidates(symbol)
	r.cache.Add(symbol, c)
	return c
}

// Candidates computes lookup names without caching
func Candidates(symbol string) []string {
	base := StripPLT(symbol)
	if base == "" {
		return nil
	}
	out := []string{base}
	add := func(s string) {
		if s == "" {
			return
		}
		for _, o := range out {
			if o == s {
				return
			}
		}
		out = append(out, s)
	}

	full, err := demangle.ToString(base)
	if err != nil {
		// hosts that print demangled targets give "f(int)"
		if strings.HasSuffix(base, ")") {
			add(StripParams(base))
		}
		return out
	}
	add(full)
	if short, err := demangle.ToString(base, demangle.NoParams); err == nil {
		add(short)
	} else {
		add(StripParams(full))
	}
	return out
}

// Demangle returns the demangled form of symbol, or symbol itself when it is
// not a mangled name.
func Demangle(symbol string) string {
	return demangle.Filter(StripPLT(symbol))
}

// StripPLT removes a trailing @plt marker
func StripPLT(symbol string) string {
	return strings.TrimSuffix(strings.TrimSpace(symbol), "@plt")
}

// IsGoMethod reports whether name is a Go method symbol such as
// "pkg.(*T).M" or "example.com/x/pkg.T.M". Closures ("pkg.f.func1") and
// plain functions are not methods.
func IsGoMethod(name string) bool {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if strings.Contains(name, "::") {
		return false
	}
	if strings.Contains(name, ".(*") {
		return true
	}
	parts := strings.Split(name, ".")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return false
	}
	if strings.HasPrefix(parts[2], "func") && isDigits(parts[2][len("func"):]) {
		return false
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// StripParams cuts a demangled signature at its parameter list
func StripParams(name string) string {
	if i := strings.IndexByte(name, '('); i > 0 {
		return name[:i]
	}
	return name
}
