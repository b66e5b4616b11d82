package split

import (
	"fmt"
	"maps"
	"slices"

	"github.com/coldog/roller/pkg/linker"
	"github.com/coldog/roller/pkg/module"
)

// Static is the result of splitting several entries sharing one graph.
type Static struct {
	// Common holds the modules reached by at least two distinct entries.
	Common module.Index
	// Entries maps an entry name to the modules only its chunk holds.
	Entries map[string]module.Index
}

// Common splits idx for entries, a map of chunk name to entry id. A module
// is common when it is reached from two or more distinct entry ids. Entry
// modules are never common.
func Common(idx module.Index, entries map[string]string) (*Static, error) {
	names := slices.Sorted(maps.Keys(entries))
	ids := map[string]bool{}
	for _, name := range names {
		id := entries[name]
		if name == CommonName {
			return nil, fmt.Errorf("split: %q is reserved for the common chunk", CommonName)
		}
		if !idx.Has(id) {
			return nil, &EntryError{Name: name, ID: id}
		}
		ids[id] = true
	}

	reached := map[string]int{}
	for _, id := range slices.Sorted(maps.Keys(ids)) {
		idx.Traverse(id, func(m *module.Module, _ string, _ *module.Module) {
			if !m.Entry && !ids[m.ID] {
				reached[m.ID]++
			}
		})
	}
	common := module.Index{}
	for id, n := range reached {
		if n >= 2 {
			common.Add(idx[id])
		}
	}

	s := &Static{Common: common, Entries: map[string]module.Index{}}
	for _, name := range names {
		s.Entries[name] = idx.Subgraph(entries[name]).Except(common)
	}
	return s, nil
}

// Pack packs the common chunk followed by the entry chunks in name order.
// The common chunk publishes its require so entry chunks loaded after it can
// use the shared modules. Globals are always inserted in the common chunk.
func (s *Static) Pack(opts linker.Options) ([]Chunk, error) {
	common := opts
	common.InsertGlobals = true
	data, err := linker.New(s.Common.Modules(), common).Inject(exposer(), true).Bytes()
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", CommonName, err)
	}
	chunks := []Chunk{{Name: CommonName, Modules: s.Common, Data: data}}

	shared := s.Common.IDs()
	for _, name := range slices.Sorted(maps.Keys(s.Entries)) {
		mods := s.Entries[name]
		data, err := linker.New(mods.Modules(), opts).Link(CommonName, shared...).Bytes()
		if err != nil {
			return nil, fmt.Errorf("packing %s: %w", name, err)
		}
		chunks = append(chunks, Chunk{Name: name, Modules: mods, Data: data})
	}
	return chunks, nil
}
