// Package linker packs a flat collection of modules into one executable
// script. Module ids are optionally mangled, modules are ordered so that
// dependencies come first and the result is wrapped in a small runtime
// implementing require.
//
// Architecture:
//   - A Bundler collects modules and injected runtime modules.
//   - Pack clones every module, runs the Through steps, validates that every
//     dependency can be found, orders, mangles and serializes.
//   - Chunks of a split build find each other at runtime through the loader
//     module or the previously defined global require.
package linker

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/coldog/roller/pkg/module"
)

// MangleLen is the length of mangled ids.
const MangleLen = 6

// Mangle returns the short id used in packed output for id.
func Mangle(id string) string {
	sum := sha256.Sum256([]byte(id))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:MangleLen]
}

// PackError is returned when a module depends on an id which is not part of
// the bundle and is neither linked nor routed.
type PackError struct {
	ID      string
	Missing string
}

func (e *PackError) Error() string {
	return fmt.Sprintf("linker: %s requires %s which is not part of the bundle", e.ID, e.Missing)
}

// CollisionError is returned when two ids of one bundle mangle to the same
// name.
type CollisionError struct {
	Name string
	IDs  [2]string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("linker: %s and %s both mangle to %s", e.IDs[0], e.IDs[1], e.Name)
}

// order returns mods with dependencies before their dependents. Modules are
// considered in input order and deps in declaration order. Cycles are broken
// at the first module seen twice.
func order(mods []*module.Module) []*module.Module {
	byID := make(map[string]*module.Module, len(mods))
	for _, m := range mods {
		byID[m.ID] = m
	}
	seen := make(map[string]bool, len(mods))
	out := make([]*module.Module, 0, len(mods))

	var visit func(m *module.Module)
	visit = func(m *module.Module) {
		if seen[m.ID] {
			return
		}
		seen[m.ID] = true
		for _, dep := range m.Deps {
			if next, ok := byID[dep.ID]; ok && !dep.External() {
				visit(next)
			}
		}
		out = append(out, m)
	}
	for _, m := range mods {
		visit(m)
	}
	return out
}
