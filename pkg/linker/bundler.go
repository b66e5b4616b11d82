package linker

import (
	"bytes"
	"io"
	"slices"

	"github.com/coldog/roller/pkg/module"
)

// Options of a Bundler.
type Options struct {
	// Mangle replaces ids which are not exposed with Mangle(id).
	Mangle bool
	// Prelude overrides the runtime wrapping the module table.
	Prelude string
	// Debug appends a sourceURL annotation naming the original id to every
	// module.
	Debug bool
	// InsertGlobals binds the node globals used by graph modules (process,
	// global, Buffer, __filename, __dirname) to browser shims.
	InsertGlobals bool
	// BaseDir is the directory __filename is relative to.
	BaseDir string
}

// Bundler turns a set of modules into one script.
type Bundler struct {
	mods     []*module.Module
	opts     Options
	injected []*module.Module
	exposed  map[string]bool
	steps    []func(*module.Module)
	linked   map[string]string
	routes   module.Routes
}

// New returns a bundler for mods. Modules are packed in the given order
// unless dependencies require otherwise.
func New(mods []*module.Module, opts Options) *Bundler {
	return &Bundler{
		mods:    mods,
		opts:    opts,
		exposed: map[string]bool{},
		linked:  map[string]string{},
	}
}

// Expose keeps ids unmangled so they can be required by name.
func (b *Bundler) Expose(ids ...string) *Bundler {
	for _, id := range ids {
		b.exposed[id] = true
	}
	return b
}

// Inject adds a module which is not part of the graph. Injected modules are
// packed before graph modules.
func (b *Bundler) Inject(m *module.Module, expose bool) *Bundler {
	b.injected = append(b.injected, m)
	if expose {
		b.Expose(m.ID)
	}
	return b
}

// Through adds a step run on a clone of every module before packing.
func (b *Bundler) Through(fn func(*module.Module)) *Bundler {
	b.steps = append(b.steps, fn)
	return b
}

// Link declares ids defined by the chunk loaded before this one.
func (b *Bundler) Link(chunk string, ids ...string) *Bundler {
	for _, id := range ids {
		b.linked[id] = chunk
	}
	return b
}

// Route declares ids reachable through the runtime loader. Keys are packed
// names, i.e. mangled when mangling is enabled.
func (b *Bundler) Route(routes module.Routes) *Bundler {
	b.routes = routes
	return b
}

// Name returns the packed name of id.
func (b *Bundler) Name(id string) string {
	if !b.opts.Mangle || b.exposed[id] {
		return id
	}
	return Mangle(id)
}

// prepare returns the modules to write, ordered and renamed.
func (b *Bundler) prepare() ([]*module.Module, error) {
	mods := make([]*module.Module, 0, len(b.injected)+len(b.mods))
	for i, m := range slices.Concat(b.injected, b.mods) {
		c := m.Clone()
		for _, step := range b.steps {
			step(c)
		}
		if b.opts.InsertGlobals && i >= len(b.injected) {
			insertGlobals(c, b.opts.BaseDir)
		}
		mods = append(mods, c)
	}

	present := make(map[string]bool, len(mods))
	for _, m := range mods {
		present[m.ID] = true
	}
	for _, m := range mods {
		for _, dep := range m.Deps {
			if dep.External() || present[dep.ID] {
				continue
			}
			if _, ok := b.linked[dep.ID]; ok {
				continue
			}
			if _, ok := b.routes[b.Name(dep.ID)]; ok {
				continue
			}
			return nil, &PackError{ID: m.ID, Missing: dep.ID}
		}
	}

	mods = order(mods)
	names := make(map[string]string, len(mods))
	for _, m := range mods {
		name := b.Name(m.ID)
		if other, ok := names[name]; ok {
			return nil, &CollisionError{Name: name, IDs: [2]string{other, m.ID}}
		}
		names[name] = m.ID
		if b.opts.Debug {
			m.Source = append(m.Source, "\n//# sourceURL="+m.ID...)
		}
		m.ID = name
		for i, dep := range m.Deps {
			if !dep.External() {
				m.Deps[i].ID = b.Name(dep.ID)
			}
		}
	}
	return mods, nil
}

// WriteTo packs the bundle into w.
func (b *Bundler) WriteTo(w io.Writer) (int64, error) {
	mods, err := b.prepare()
	if err != nil {
		return 0, err
	}
	prelude := b.opts.Prelude
	if prelude == "" {
		prelude = Prelude
	}
	return write(w, prelude, mods)
}

// Bytes packs the bundle in memory.
func (b *Bundler) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := b.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
