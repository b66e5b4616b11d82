// Package module defines the module record passed between the graph walker,
// the splitter and the linker, along with the index type used to address a
// whole resolved graph by id.
package module

import (
	"bytes"
	"maps"
	"path/filepath"
	"strings"
)

// RootID is the id of the synthetic requester used for entries.
const RootID = "/"

// Module is one node of the dependency graph.
type Module struct {
	ID        string
	Source    []byte
	Deps      Deps
	Entry     bool
	AsyncDeps Deps

	// Package and Meta are not part of the wire format.
	Package *Package
	Meta    map[string]any
}

// Package is the metadata of the package owning a module, usually a decoded
// package.json.
type Package struct {
	Dir  string
	Data map[string]any
}

// Lookup walks a key path through the package data and returns the value
// found there, or nil.
func (p *Package) Lookup(key []string) any {
	if p == nil {
		return nil
	}
	var cur any = p.Data
	for _, k := range key {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

// Root returns the requester used when resolving entries.
func Root() *Module {
	return &Module{ID: RootID}
}

// Dir returns the directory a module's relative specifiers resolve against.
func (m *Module) Dir() string {
	if m.ID == RootID {
		return RootID
	}
	return filepath.Dir(m.ID)
}

// Ext returns the lower-cased extension of the module id.
func (m *Module) Ext() string {
	return strings.ToLower(filepath.Ext(m.ID))
}

// Clone returns a deep copy which can be modified without affecting m. The
// package metadata is shared as it is never modified.
func (m *Module) Clone() *Module {
	if m == nil {
		return nil
	}
	c := *m
	c.Source = bytes.Clone(m.Source)
	c.Deps = m.Deps.Clone()
	c.AsyncDeps = m.AsyncDeps.Clone()
	if m.Meta != nil {
		c.Meta = cloneMap(m.Meta)
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	c := maps.Clone(m)
	for k, v := range c {
		switch v := v.(type) {
		case map[string]any:
			c[k] = cloneMap(v)
		case []any:
			c[k] = append([]any(nil), v...)
		}
	}
	return c
}
