package resolve

import (
	"context"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/coldog/roller/pkg/module"
)

type filter struct {
	next     Resolver
	patterns []string
}

// Filter wraps r so specifiers matching any of the glob patterns resolve as
// external. Patterns are validated eagerly.
func Filter(r Resolver, patterns ...string) (Resolver, error) {
	if len(patterns) == 0 {
		return r, nil
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("resolve: invalid external pattern %q", p)
		}
	}
	return &filter{next: r, patterns: patterns}, nil
}

func (f *filter) Resolve(ctx context.Context, spec string, from *module.Module) (Resolved, error) {
	if Match(f.patterns, spec) {
		return External, nil
	}
	return f.next.Resolve(ctx, spec, from)
}

// Match reports whether name matches any of the glob patterns.
func Match(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
