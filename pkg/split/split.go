// Package split partitions a module index into chunks.
//
// Static splitting moves the modules shared by several entries into a common
// chunk. Dynamic splitting cuts the graph of one entry at its require_async
// calls: the bootstrap chunk holds what the entry needs synchronously and
// every async edge gets a delta chunk fetched on demand through a routing
// table.
package split

import (
	"fmt"

	"github.com/coldog/roller/pkg/linker"
	"github.com/coldog/roller/pkg/module"
)

// Chunk names with a fixed meaning.
const (
	CommonName = "common"
	Bootstrap  = "bootstrap"
)

// Chunk is one packed output of a split.
type Chunk struct {
	Name    string
	Modules module.Index
	Data    []byte
}

// EntryError is returned when an entry is not part of the index.
type EntryError struct {
	Name string
	ID   string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("split: entry %s (%s) is not part of the graph", e.Name, e.ID)
}

func exposer() *module.Module {
	return &module.Module{ID: linker.ExposerID, Entry: true, Source: []byte(linker.ExposerSource)}
}

func namer(opts linker.Options) func(string) string {
	return func(id string) string {
		if opts.Mangle {
			return linker.Mangle(id)
		}
		return id
	}
}

// mergeAsync makes async deps addressable by the local require_async of a
// module.
func mergeAsync(m *module.Module) {
	m.Deps.Merge(m.AsyncDeps)
}
