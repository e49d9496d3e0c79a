package governance

import (
	"fmt"
	"regexp"
)

// DefaultExcludePatterns bypass governance for infrastructure endpoints.
var DefaultExcludePatterns = []string{
	`^/healthz`,
	`^/readyz`,
	`^/metrics`,
	`^/static/`,
	`^/debug/`,
}

// ExclusionFilter matches request paths against configured bypass patterns.
// A matching request gets no rate-limit check, no quota check and no usage
// record. The filter is pure and safe for concurrent use.
type ExclusionFilter struct {
	patterns []*regexp.Regexp
}

// NewExclusionFilter compiles the given patterns. Patterns are evaluated
// independently; any match excludes.
func NewExclusionFilter(patterns []string) (*ExclusionFilter, error) {
	f := &ExclusionFilter{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

func (f *ExclusionFilter) Excluded(path string) bool {
	for _, re := range f.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
