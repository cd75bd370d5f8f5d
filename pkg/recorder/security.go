package recorder

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/willibrandon/calltrace/pkg/inspect"
)

// ErrIntegrity reports a document whose digest does not match
var ErrIntegrity = errors.New("HMAC verification failed: data may have been tampered with")

// SecurityOptions configures redaction and integrity protection of trace
// documents
type SecurityOptions struct {
	// Redaction settings
	EnableRedaction      bool
	RedactionPatterns    []string // Regex patterns matched against variable and field names
	RedactionReplacement string   // String to replace sensitive values with

	// Integrity verification settings
	EnableIntegrityCheck bool
	IntegrityKey         []byte // Key for HMAC
}

// DefaultSecurityOptions returns the default security options (no security features enabled)
func DefaultSecurityOptions() SecurityOptions {
	return SecurityOptions{
		EnableRedaction:      false,
		RedactionPatterns:    []string{"password", "token", "secret", "key", "credential"},
		RedactionReplacement: "***REDACTED***",
		EnableIntegrityCheck: false,
		IntegrityKey:         nil,
	}
}

// WithRedaction enables redaction with the given patterns and replacement
func WithRedaction(patterns []string, replacement string) func(*SecurityOptions) {
	return func(opts *SecurityOptions) {
		opts.EnableRedaction = true
		if len(patterns) > 0 {
			opts.RedactionPatterns = patterns
		}
		if replacement != "" {
			opts.RedactionReplacement = replacement
		}
	}
}

// WithIntegrityCheck enables integrity checks with the given key
func WithIntegrityCheck(key []byte) func(*SecurityOptions) {
	return func(opts *SecurityOptions) {
		opts.EnableIntegrityCheck = true
		opts.IntegrityKey = key
	}
}

// Redactor replaces the values of sensitive names in captures
type Redactor struct {
	patterns    []*regexp.Regexp
	replacement string
}

// NewRedactor compiles patterns case-insensitively. Invalid patterns are
// reported rather than skipped.
func NewRedactor(patterns []string, replacement string) (*Redactor, error) {
	r := &Redactor{replacement: replacement}
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *Redactor) sensitive(name string) bool {
	for _, re := range r.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Node returns a copy of n with every mapping value whose key is sensitive
// replaced by the redaction text.
func (r *Redactor) Node(n inspect.Node) inspect.Node {
	switch n.Kind {
	case inspect.MappingNode:
		out := inspect.Mapping()
		for i, k := range n.Keys {
			if r.sensitive(k) {
				out.Set(k, inspect.Scalar(r.replacement))
				continue
			}
			out.Set(k, r.Node(n.Vals[i]))
		}
		return out
	case inspect.SequenceNode:
		items := make([]inspect.Node, len(n.Items))
		for i, it := range n.Items {
			items[i] = r.Node(it)
		}
		return inspect.Sequence(items...)
	}
	return n
}

// Capture redacts all variable sets of c
func (r *Redactor) Capture(c Capture) Capture {
	c.LocalVars = r.Node(c.LocalVars)
	c.GlobalVars = r.Node(c.GlobalVars)
	c.MemberVars = r.Node(c.MemberVars)
	c.Arguments = r.Node(c.Arguments)
	return c
}

// CalculateHMAC generates an HMAC for the given data
func CalculateHMAC(data []byte, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC checks if the HMAC for the given data matches the expected value
func VerifyHMAC(data []byte, key []byte, expectedHMAC string) bool {
	return hmac.Equal([]byte(CalculateHMAC(data, key)), []byte(expectedHMAC))
}

// IntegrityPath returns the path of the digest written next to a document
func IntegrityPath(path string) string {
	return path + ".hmac"
}

// VerifyFile checks the document at path against its digest file
func VerifyFile(path string, key []byte) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	digest, err := os.ReadFile(IntegrityPath(path))
	if err != nil {
		return fmt.Errorf("failed to read digest: %w", err)
	}
	if !VerifyHMAC(data, key, strings.TrimSpace(string(digest))) {
		return ErrIntegrity
	}
	return nil
}
