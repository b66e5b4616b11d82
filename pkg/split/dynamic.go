package split

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/coldog/roller/pkg/linker"
	"github.com/coldog/roller/pkg/module"
)

// Delta is the chunk holding what becomes reachable when Point requires
// Target asynchronously.
type Delta struct {
	Name   string
	Point  string
	Target string
}

// Plan is the result of splitting one entry at its async requires.
//
// Chunks form a tree rooted at the bootstrap chunk: the parent of a delta is
// the chunk owning its split point. A module claimed by several deltas is
// owned by their nearest common ancestor, and ownership is then raised until
// every module only depends on modules owned by its own chunk or an
// ancestor. Every module is owned by exactly one chunk.
type Plan struct {
	Entry string
	// Graph is the index the plan was made from.
	Graph module.Index
	// Split is Graph with the async edges of split points removed.
	Split module.Index
	// Deltas in the order they were computed, including empty ones.
	Deltas []Delta

	owner  map[string]string
	deltas map[string]Delta
}

// Dynamic plans the split of the graph reachable from entry.
func Dynamic(idx module.Index, entry string) (*Plan, error) {
	if !idx.Has(entry) {
		return nil, &EntryError{Name: Bootstrap, ID: entry}
	}

	isPoint := map[string]bool{}
	var points []string
	for _, id := range idx.Order(entry) {
		if len(idx[id].AsyncDeps.Resolved()) > 0 {
			isPoint[id] = true
			points = append(points, id)
		}
	}

	p := &Plan{
		Entry:  entry,
		Graph:  idx,
		Split:  splitGraph(idx, points),
		owner:  map[string]string{},
		deltas: map[string]Delta{},
	}
	bootstrap := p.Split.Subgraph(entry)
	for id := range bootstrap {
		p.owner[id] = Bootstrap
	}

	// Split points are processed breadth first from the bootstrap chunk, so
	// the owner of a point is known before its deltas are computed.
	queued := map[string]bool{}
	var queue []string
	enqueue := func(ids []string) {
		for _, id := range ids {
			if isPoint[id] && !queued[id] {
				queued[id] = true
				queue = append(queue, id)
			}
		}
	}
	enqueue(p.Split.Order(entry))

	for len(queue) > 0 {
		point := queue[0]
		queue = queue[1:]
		from := p.Split.Subgraph(point)
		for _, target := range idx[point].AsyncDeps.Resolved() {
			if !idx.Has(target) {
				continue
			}
			d := Delta{Name: p.deltaName(point, target), Point: point, Target: target}
			if _, ok := p.deltas[d.Name]; ok {
				continue
			}
			p.deltas[d.Name] = d
			p.Deltas = append(p.Deltas, d)

			var claimed []string
			for _, id := range p.Split.Order(target) {
				if bootstrap.Has(id) || from.Has(id) {
					continue
				}
				p.claim(id, d.Name)
				claimed = append(claimed, id)
			}
			enqueue(claimed)
		}
	}
	p.settle()
	return p, nil
}

func splitGraph(idx module.Index, points []string) module.Index {
	split := idx.Clone()
	for _, id := range points {
		m := idx[id].Clone()
		for _, dep := range m.AsyncDeps {
			m.Deps.Delete(dep.Spec)
		}
		split[id] = m
	}
	return split
}

func (p *Plan) deltaName(point, target string) string {
	from := Bootstrap
	if point != p.Entry {
		from = linker.Mangle(point)
	}
	return from + "_" + linker.Mangle(target)
}

func (p *Plan) claim(id, chunk string) {
	if cur, ok := p.owner[id]; ok {
		p.owner[id] = p.nca(cur, chunk)
		return
	}
	p.owner[id] = chunk
}

// settle raises owners until no module depends on a module owned by a chunk
// which is not loaded before its own. Owners only move towards the root, so
// this terminates.
func (p *Plan) settle() {
	ids := p.Split.IDs()
	for changed := true; changed; {
		changed = false
		for _, id := range ids {
			owner, ok := p.owner[id]
			if !ok {
				continue
			}
			for _, dep := range p.Split[id].Deps.Resolved() {
				depOwner, ok := p.owner[dep]
				if !ok || p.isAncestor(depOwner, owner) {
					continue
				}
				p.owner[dep] = p.nca(depOwner, owner)
				changed = true
			}
		}
	}
}

// Parent returns the chunk owning the split point of chunk. The bootstrap
// chunk has no parent.
func (p *Plan) Parent(chunk string) string {
	d, ok := p.deltas[chunk]
	if !ok {
		return ""
	}
	return p.owner[d.Point]
}

// ancestors returns chunk followed by its parents up to the bootstrap chunk.
func (p *Plan) ancestors(chunk string) []string {
	var chain []string
	seen := map[string]bool{}
	for chunk != "" && !seen[chunk] {
		seen[chunk] = true
		chain = append(chain, chunk)
		if chunk == Bootstrap {
			break
		}
		chunk = p.Parent(chunk)
	}
	return chain
}

func (p *Plan) isAncestor(a, b string) bool {
	return slices.Contains(p.ancestors(b), a)
}

func (p *Plan) nca(a, b string) string {
	for _, c := range p.ancestors(b) {
		if p.isAncestor(c, a) {
			return c
		}
	}
	return Bootstrap
}

// Owner returns the chunk owning id.
func (p *Plan) Owner(id string) string {
	return p.owner[id]
}

// Modules returns the modules owned by chunk, taken from Graph so that
// async edges are kept.
func (p *Plan) Modules(chunk string) module.Index {
	idx := module.Index{}
	for id, owner := range p.owner {
		if owner == chunk {
			idx.Add(p.Graph[id])
		}
	}
	return idx
}

// Chunks returns the bootstrap chunk followed by every delta owning at least
// one module.
func (p *Plan) Chunks() []string {
	used := map[string]bool{}
	for _, owner := range p.owner {
		used[owner] = true
	}
	chunks := []string{Bootstrap}
	for _, d := range p.Deltas {
		if used[d.Name] {
			chunks = append(chunks, d.Name)
		}
	}
	return chunks
}

// Routes returns the routing table, keyed by name(id).
func (p *Plan) Routes(name func(string) string) module.Routes {
	routes := make(module.Routes, len(p.owner))
	for id, owner := range p.owner {
		routes[name(id)] = owner
	}
	return routes
}

// Pack packs the bootstrap chunk, with the async loader and the routing
// table injected and globals inserted, followed by every delta chunk.
func (p *Plan) Pack(opts linker.Options) ([]Chunk, error) {
	routes := p.Routes(namer(opts))
	table, err := json.Marshal(routes)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	for _, name := range p.Chunks() {
		mods := p.Modules(name)
		chunkOpts := opts
		if name == Bootstrap {
			chunkOpts.InsertGlobals = true
		}
		b := linker.New(mods.Modules(), chunkOpts).Through(mergeAsync).Route(routes)
		if name == Bootstrap {
			b.Inject(exposer(), true).
				Inject(&module.Module{
					ID:     linker.LoaderID,
					Deps:   module.Deps{{Spec: linker.RoutesID, ID: linker.RoutesID}},
					Source: []byte(linker.LoaderSource),
				}, true).
				Inject(&module.Module{
					ID:     linker.RoutesID,
					Source: append(append([]byte("module.exports = "), table...), ";\n"...),
				}, true)
		}
		data, err := b.Bytes()
		if err != nil {
			return nil, fmt.Errorf("packing %s: %w", name, err)
		}
		chunks = append(chunks, Chunk{Name: name, Modules: mods, Data: data})
	}
	return chunks, nil
}
