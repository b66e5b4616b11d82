package transform

import (
	"github.com/coldog/roller/pkg/module"
)

// Pipeline assembles the list of transforms for each module.
type Pipeline struct {
	// Global transforms run on top-level modules only, i.e. modules which are
	// not inside a node_modules directory relative to an entry.
	Global []Transform
	// Key is the path inside package metadata listing package transforms,
	// e.g. ["browserify", "transform"].
	Key []string
	// Mandatory transforms always run last; Deps and Normalize when nil.
	Mandatory []Transform
	Loader    *Loader
}

// For returns the loaded transforms to apply to m.
func (p *Pipeline) For(m *module.Module, topLevel bool) ([]Transform, error) {
	var txs []Transform
	if topLevel {
		txs = append(txs, p.Global...)
	}
	if m.Package != nil && len(p.Key) > 0 {
		for _, name := range packageTransforms(m.Package.Lookup(p.Key)) {
			txs = append(txs, Named(name))
		}
	}
	mandatory := p.Mandatory
	if mandatory == nil {
		mandatory = []Transform{Deps(), Normalize()}
	}
	txs = append(txs, mandatory...)

	loader := p.Loader
	if loader == nil {
		loader = &Loader{Registry: Builtins()}
	}
	for i, tx := range txs {
		t, err := loader.Load(tx, m)
		if err != nil {
			return nil, err
		}
		txs[i] = t
	}
	return txs, nil
}

// packageTransforms accepts a name, a list of names, or browserify style
// [name, options] pairs.
func packageTransforms(v any) []string {
	switch v := v.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var names []string
		for _, item := range v {
			switch item := item.(type) {
			case string:
				if item != "" {
					names = append(names, item)
				}
			case []any:
				if len(item) > 0 {
					if name, ok := item[0].(string); ok && name != "" {
						names = append(names, name)
					}
				}
			}
		}
		return names
	}
	return nil
}
