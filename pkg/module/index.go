package module

import (
	"maps"
	"slices"
)

// Index addresses every module of a graph by id. Graph walks emit modules
// in no particular order, so anything that needs an order derives it from
// IDs and Deps.
type Index map[string]*Module

// Routes maps a mangled module id to the name of the chunk defining it.
type Routes map[string]string

// NewIndex builds an index from a list of modules.
func NewIndex(mods ...*Module) Index {
	idx := make(Index, len(mods))
	for _, m := range mods {
		idx.Add(m)
	}
	return idx
}

// Add inserts or replaces a module.
func (idx Index) Add(m *Module) {
	idx[m.ID] = m
}

// IDs returns the ids in sorted order.
func (idx Index) IDs() []string {
	return slices.Sorted(maps.Keys(idx))
}

// Modules returns the modules in IDs order.
func (idx Index) Modules() []*Module {
	ids := idx.IDs()
	mods := make([]*Module, len(ids))
	for i, id := range ids {
		mods[i] = idx[id]
	}
	return mods
}

// Entries returns the ids of entry modules in sorted order.
func (idx Index) Entries() []string {
	var ids []string
	for _, id := range idx.IDs() {
		if idx[id].Entry {
			ids = append(ids, id)
		}
	}
	return ids
}

// Has reports whether id is part of the index.
func (idx Index) Has(id string) bool {
	_, ok := idx[id]
	return ok
}

// Clone returns a shallow copy: the map is new, modules are shared.
func (idx Index) Clone() Index {
	return maps.Clone(idx)
}

// VisitFunc is called for every module reached by Traverse. spec and parent
// describe the edge the module was first reached by and are empty for the
// starting module.
type VisitFunc func(m *Module, spec string, parent *Module)

// Traverse walks the graph depth-first from the module with id from,
// following resolved deps in order. Every module is visited at most once, so
// cycles terminate. Deps pointing outside of the index are skipped.
func (idx Index) Traverse(from string, fn VisitFunc) {
	type step struct {
		mod    *Module
		spec   string
		parent *Module
	}
	start, ok := idx[from]
	if !ok {
		return
	}
	seen := map[string]bool{}
	stack := []step{{mod: start}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[s.mod.ID] {
			continue
		}
		seen[s.mod.ID] = true
		fn(s.mod, s.spec, s.parent)

		// Push in reverse so the first dep is visited first.
		for i := len(s.mod.Deps) - 1; i >= 0; i-- {
			dep := s.mod.Deps[i]
			if dep.External() || seen[dep.ID] {
				continue
			}
			if next, ok := idx[dep.ID]; ok {
				stack = append(stack, step{mod: next, spec: dep.Spec, parent: s.mod})
			}
		}
	}
}

// Order returns the ids reachable from from in traversal order.
func (idx Index) Order(from string) []string {
	var ids []string
	idx.Traverse(from, func(m *Module, _ string, _ *Module) {
		ids = append(ids, m.ID)
	})
	return ids
}

// Subgraph returns every module reachable from from, including from itself.
func (idx Index) Subgraph(from string) Index {
	sub := Index{}
	idx.Traverse(from, func(m *Module, _ string, _ *Module) {
		sub.Add(m)
	})
	return sub
}

// Except returns the modules of idx which are not part of any of others.
func (idx Index) Except(others ...Index) Index {
	out := Index{}
outer:
	for id, m := range idx {
		for _, o := range others {
			if o.Has(id) {
				continue outer
			}
		}
		out[id] = m
	}
	return out
}
