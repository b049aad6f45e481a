package intake

import (
	"strings"

	"github.com/moby/patternmatcher"
)

// Filter decides which paths are never watched, using .dockerignore syntax.
// Paths and patterns are matched relative to the filesystem root, so
// "/tmp/scratch" and "**/*.log" both work against absolute paths.
type Filter struct {
	pm *patternmatcher.PatternMatcher
}

// NewFilter compiles patterns. A nil Filter ignores nothing.
func NewFilter(patterns []string) (*Filter, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	rooted := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "!") {
			rooted = append(rooted, "!"+strings.TrimLeft(p[1:], "/"))
			continue
		}
		rooted = append(rooted, strings.TrimLeft(p, "/"))
	}
	pm, err := patternmatcher.New(rooted)
	if err != nil {
		return nil, err
	}
	return &Filter{pm: pm}, nil
}

// Ignored reports whether path or one of its parent directories matches.
func (f *Filter) Ignored(path string) (bool, error) {
	if f == nil {
		return false, nil
	}
	return f.pm.MatchesOrParentMatches(strings.TrimLeft(path, "/"))
}
