// Package route matches requests to diagnostic handlers and guarantees
// every request a reply.
package route

import (
	"strings"

	"github.com/diagscope/diagscope/internal/domain/session"
)

// Rule decides whether an entry claims a request. path is the request path
// after the router's trailing-slash policy has been applied.
type Rule interface {
	Match(path string, s *session.Params) bool
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc func(path string, s *session.Params) bool

// Match calls f(path, s).
func (f RuleFunc) Match(path string, s *session.Params) bool {
	return f(path, s)
}

// Exact matches one path, case-sensitively.
func Exact(pattern string) Rule {
	return RuleFunc(func(path string, _ *session.Params) bool {
		return path == pattern
	})
}

// Prefix matches prefix itself and every path below it on a segment
// boundary: "/api" matches "/api" and "/api/x" but not "/apix".
// The prefix "/" matches every path.
func Prefix(prefix string) Rule {
	if prefix == "/" || prefix == "" {
		return Any()
	}
	base := strings.TrimSuffix(prefix, "/")
	return RuleFunc(func(path string, _ *session.Params) bool {
		return path == base || strings.HasPrefix(path, base+"/")
	})
}

// Method restricts rule to one HTTP method. HEAD requests also match GET.
func Method(method string, rule Rule) Rule {
	return RuleFunc(func(path string, s *session.Params) bool {
		m := s.Method()
		if m != method && !(method == "GET" && m == "HEAD") {
			return false
		}
		return rule.Match(path, s)
	})
}

// All matches when every rule matches.
func All(rules ...Rule) Rule {
	return RuleFunc(func(path string, s *session.Params) bool {
		for _, r := range rules {
			if !r.Match(path, s) {
				return false
			}
		}
		return true
	})
}

// Any matches every request.
func Any() Rule {
	return RuleFunc(func(string, *session.Params) bool { return true })
}

// SlashPolicy controls trailing-slash normalization. The same policy is
// applied to registered patterns and to incoming paths.
type SlashPolicy int

const (
	// SlashStrict compares paths as received.
	SlashStrict SlashPolicy = iota
	// SlashStrip removes one trailing slash from every path except "/".
	SlashStrip
)

// ParseSlashPolicy maps the configuration value to a SlashPolicy.
// Unknown values fall back to SlashStrict.
func ParseSlashPolicy(s string) SlashPolicy {
	if strings.EqualFold(s, "strip") {
		return SlashStrip
	}
	return SlashStrict
}

func (p SlashPolicy) normalize(path string) string {
	if path == "" {
		return "/"
	}
	if p == SlashStrip && len(path) > 1 && strings.HasSuffix(path, "/") {
		return strings.TrimSuffix(path, "/")
	}
	return path
}
