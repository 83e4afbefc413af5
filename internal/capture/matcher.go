package capture

import (
	"strings"

	"github.com/dgnsrekt/apicapture/internal/types"
)

// Matcher decides whether a request belongs to the capture session.
type Matcher interface {
	Match(ev types.RequestStart) bool
}

// MatcherFunc adapts a plain function to Matcher.
type MatcherFunc func(ev types.RequestStart) bool

func (f MatcherFunc) Match(ev types.RequestStart) bool { return f(ev) }

// SubstringMatcher accepts requests whose URL contains Needle (case-sensitive).
// An empty needle accepts everything.
type SubstringMatcher struct {
	Needle string
}

func (m SubstringMatcher) Match(ev types.RequestStart) bool {
	return strings.Contains(ev.URL, m.Needle)
}

// RuleMatcher accepts a request when its URL contains any Include needle and
// none of the Exclude needles. No includes means every URL is a candidate.
// Methods restricts matches to requests carrying (POST) or lacking (GET) a body
// when set.
type RuleMatcher struct {
	Include []string
	Exclude []string
	Methods []string
}

func (m RuleMatcher) Match(ev types.RequestStart) bool {
	if len(m.Include) > 0 && !containsAny(ev.URL, m.Include) {
		return false
	}
	if containsAny(ev.URL, m.Exclude) {
		return false
	}
	if len(m.Methods) == 0 {
		return true
	}
	method := "GET"
	if ev.PostData != nil {
		method = "POST"
	}
	for _, want := range m.Methods {
		if strings.EqualFold(want, method) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}
