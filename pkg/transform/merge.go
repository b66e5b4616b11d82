package transform

import (
	"github.com/coldog/roller/pkg/module"
)

// Merge merges src into a copy of dst and returns it. Arrays are
// concatenated, maps are merged key by key recursively and any other value
// in src overwrites the one in dst. Neither argument is modified.
func Merge(dst, src map[string]any) map[string]any {
	if src == nil {
		return dst
	}
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, s := range src {
		switch s := s.(type) {
		case []any:
			if t, ok := out[k].([]any); ok {
				out[k] = append(append([]any(nil), t...), s...)
				continue
			}
		case map[string]any:
			if t, ok := out[k].(map[string]any); ok {
				out[k] = Merge(t, s)
				continue
			}
		}
		out[k] = s
	}
	return out
}

// Apply merges a patch into m. A non-nil source replaces the current one,
// dependency mappings are merged specifier by specifier and metadata is
// merged with Merge.
func Apply(m *module.Module, p *Patch) {
	if p == nil {
		return
	}
	if p.Source != nil {
		m.Source = p.Source
	}
	if p.Deps != nil {
		m.Deps.Merge(p.Deps)
	}
	if p.AsyncDeps != nil {
		m.AsyncDeps.Merge(p.AsyncDeps)
	}
	if p.Meta != nil {
		m.Meta = Merge(m.Meta, p.Meta)
	}
}
