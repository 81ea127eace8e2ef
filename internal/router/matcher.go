package router

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher type names.
const (
	MatcherTypeAny   = "any"
	MatcherTypeRegex = "regex"
	MatcherTypeGlob  = "glob"
	MatcherTypeHost  = "host"
)

// PathMatcher is the interface for path matching.
type PathMatcher interface {
	Match(path string) bool
	Type() string
	Pattern() string
}

// AnyMatcher matches every path or host.
type AnyMatcher struct {
	pattern string
}

// Match always returns true.
func (m *AnyMatcher) Match(string) bool {
	return true
}

// Type returns the matcher type.
func (m *AnyMatcher) Type() string {
	return MatcherTypeAny
}

// Pattern returns the pattern.
func (m *AnyMatcher) Pattern() string {
	return m.pattern
}

// RegexMatcher matches when the regular expression finds a match anywhere
// in the input. Patterns anchor themselves with ^ and $ when needed.
type RegexMatcher struct {
	pattern string
	regex   *regexp.Regexp
}

// NewRegexMatcher creates a new regex matcher.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{pattern: pattern, regex: regex}, nil
}

// Match checks if the input matches the regex.
func (m *RegexMatcher) Match(s string) bool {
	return m.regex.MatchString(s)
}

// Type returns the matcher type.
func (m *RegexMatcher) Type() string {
	return MatcherTypeRegex
}

// Pattern returns the pattern.
func (m *RegexMatcher) Pattern() string {
	return m.pattern
}

// GlobMatcher matches paths against a glob. * and ? stay within one path
// segment, ** spans segments, and [...] and {a,b} are supported.
type GlobMatcher struct {
	pattern string
}

// NewGlobMatcher creates a new glob matcher.
func NewGlobMatcher(pattern string) (*GlobMatcher, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	return &GlobMatcher{pattern: pattern}, nil
}

// Match checks if the path matches the glob.
func (m *GlobMatcher) Match(path string) bool {
	ok, err := doublestar.Match(m.pattern, path)
	return err == nil && ok
}

// Type returns the matcher type.
func (m *GlobMatcher) Type() string {
	return MatcherTypeGlob
}

// Pattern returns the pattern.
func (m *GlobMatcher) Pattern() string {
	return m.pattern
}

// NewPathMatcher returns the matcher for one paths entry. "**" and "/**"
// match every path.
func NewPathMatcher(pattern string) (PathMatcher, error) {
	if pattern == "**" || pattern == "/**" {
		return &AnyMatcher{pattern: pattern}, nil
	}
	return NewGlobMatcher(pattern)
}

// hostLabelWildcard matches exactly one DNS label.
const hostLabelWildcard = `[^.]+`

// HostMatcher matches a literal host name case-insensitively. Each * in
// the name stands for exactly one DNS label or part of one, so
// *.example.com matches api.example.com but not a.b.example.com.
type HostMatcher struct {
	pattern string
	exact   string
	regex   *regexp.Regexp
}

// NewHostMatcher creates a new literal host matcher.
func NewHostMatcher(host string) (*HostMatcher, error) {
	m := &HostMatcher{pattern: host}
	lower := strings.ToLower(host)

	if !strings.Contains(lower, "*") {
		m.exact = lower
		return m, nil
	}

	parts := strings.Split(lower, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	regex, err := regexp.Compile("^" + strings.Join(parts, hostLabelWildcard) + "$")
	if err != nil {
		return nil, err
	}
	m.regex = regex
	return m, nil
}

// Match checks if host, without a port, matches.
func (m *HostMatcher) Match(host string) bool {
	host = strings.ToLower(host)
	if m.regex == nil {
		return host == m.exact
	}
	return m.regex.MatchString(host)
}

// Type returns the matcher type.
func (m *HostMatcher) Type() string {
	return MatcherTypeHost
}

// Pattern returns the pattern.
func (m *HostMatcher) Pattern() string {
	return m.pattern
}

// IsAnyHost reports whether a host key accepts every host.
func IsAnyHost(key string) bool {
	return key == "" || key == "*" || key == "**"
}

// NewHostRegexMatcher creates a matcher for a hostRegex key. The pattern
// must match the whole host name: ^ and $ are added when missing, and
// matching ignores case.
func NewHostRegexMatcher(pattern string) (*RegexMatcher, error) {
	source := pattern
	if !strings.HasPrefix(source, "^") {
		source = "^" + source
	}
	if !strings.HasSuffix(source, "$") || strings.HasSuffix(source, `\$`) {
		source += "$"
	}
	regex, err := regexp.Compile("(?i)" + source)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{pattern: pattern, regex: regex}, nil
}

// NewHostKeyMatcher returns the matcher for a host table key.
func NewHostKeyMatcher(key string, isRegex bool) (PathMatcher, error) {
	switch {
	case isRegex:
		return NewHostRegexMatcher(key)
	case IsAnyHost(key):
		return &AnyMatcher{pattern: key}, nil
	default:
		return NewHostMatcher(key)
	}
}
