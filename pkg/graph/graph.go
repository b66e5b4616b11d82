// Package graph walks the dependency graph of a set of entries. Every
// reachable module is resolved, loaded and transformed exactly once and sent
// to the walk's output stream.
//
// Architecture:
//   - Each module visit runs in its own goroutine of an errgroup, so siblings
//     are processed in any order and the first failure cancels the walk.
//   - A module id is marked seen under a lock before any work starts on it,
//     which is what makes cycles terminate.
//   - Transforms run under a semaphore bounding the concurrency.
package graph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/coldog/roller/pkg/module"
	"github.com/coldog/roller/pkg/resolve"
	"github.com/coldog/roller/pkg/transform"
)

const defaultConcurrency = 10

// Error is returned by a walk when resolving or transforming a module fails.
type Error struct {
	ID        string
	Requester string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("graph: %s (required from %s): %v", e.ID, e.Requester, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Entry is a root of a walk: either a path or a reader providing the source
// of a module without a file.
type Entry struct {
	Path   string
	Reader io.Reader
}

// Path returns an entry for a file.
func Path(p string) Entry { return Entry{Path: p} }

// Reader returns an entry reading its source from r.
func Reader(r io.Reader) Entry { return Entry{Reader: r} }

// Paths returns one entry per path.
func Paths(paths ...string) []Entry {
	entries := make([]Entry, len(paths))
	for i, p := range paths {
		entries[i] = Path(p)
	}
	return entries
}

// Cache provides modules computed by a previous walk.
type Cache interface {
	// Lookup returns the module id as previously required by requester.
	Lookup(requester, id string) (*module.Module, bool)
}

// IndexCache serves cached modules from the index of a previous walk. A
// module is only reused when the requester is also known and still depends
// on it.
type IndexCache module.Index

// Lookup implements Cache.
func (c IndexCache) Lookup(requester, id string) (*module.Module, bool) {
	parent, ok := c[requester]
	if !ok || !slices.Contains(parent.Deps.Resolved(), id) {
		return nil, false
	}
	m, ok := c[id]
	return m, ok
}

// Graph holds the configuration of walks.
type Graph struct {
	Resolver resolve.Resolver
	Pipeline *transform.Pipeline
	// Fs is used to read module sources.
	Fs afero.Fs
	// BaseDir is where relative entries and reader entries live.
	BaseDir string
	// NoParse lists glob patterns of module ids whose dependencies are not
	// extracted.
	NoParse     []string
	Concurrency int
	Cache       Cache
	Logger      zerolog.Logger
}

// Stream is the output of a walk. Modules must be drained until the channel
// is closed, or the walk context cancelled.
type Stream struct {
	ch   chan *module.Module
	done chan struct{}
	err  error
}

// Modules returns the channel modules are sent on. It is closed when the walk
// ends.
func (s *Stream) Modules() <-chan *module.Module { return s.ch }

// Err waits for the walk to end and returns its error.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Collect drains the stream into an index. No index is returned on error.
func (s *Stream) Collect() (module.Index, error) {
	idx := module.Index{}
	for m := range s.ch {
		idx.Add(m)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Walk starts walking from entries and returns the stream of modules.
func (g *Graph) Walk(ctx context.Context, entries ...Entry) *Stream {
	s := &Stream{ch: make(chan *module.Module), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		s.err = g.run(ctx, entries, s.ch)
		close(s.ch)
	}()
	return s
}

// Collect walks from entries and returns every module reached.
func (g *Graph) Collect(ctx context.Context, entries ...Entry) (module.Index, error) {
	return g.Walk(ctx, entries...).Collect()
}

func (g *Graph) run(ctx context.Context, entries []Entry, out chan<- *module.Module) error {
	start := time.Now()
	eg, ctx := errgroup.WithContext(ctx)
	concurrency := g.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	w := &walk{
		g:        g,
		ctx:      ctx,
		eg:       eg,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		out:      out,
		seen:     map[string]bool{},
		resolved: map[string]resolve.Resolved{},
		pkgs:     map[string]*module.Package{},
	}
	w.pc = &transform.Context{Resolver: w, NoParse: g.NoParse, Logger: g.Logger}

	roots, err := w.entries(entries)
	if err != nil {
		return err
	}
	for _, m := range roots {
		w.visit(m, module.Root())
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	g.Logger.Info().Int("modules", len(w.seen)).Dur("took", time.Since(start)).Msg("graph walked")
	return nil
}

// walk is the state of one Walk call. It is dropped when the walk ends.
type walk struct {
	g   *Graph
	ctx context.Context
	eg  *errgroup.Group
	sem *semaphore.Weighted
	out chan<- *module.Module
	pc  *transform.Context

	mu       sync.Mutex
	seen     map[string]bool
	roots    []string
	resolved map[string]resolve.Resolved
	pkgs     map[string]*module.Package
	flight   singleflight.Group
}

func (w *walk) fs() afero.Fs {
	if w.g.Fs == nil {
		return afero.NewOsFs()
	}
	return w.g.Fs
}

func (w *walk) baseDir() (string, error) {
	if w.g.BaseDir != "" {
		return filepath.Abs(w.g.BaseDir)
	}
	return filepath.Abs(".")
}

// entries turns the walk entries into modules, resolving paths from the
// synthetic root requester.
func (w *walk) entries(entries []Entry) ([]*module.Module, error) {
	base, err := w.baseDir()
	if err != nil {
		return nil, err
	}
	root := module.Root()
	var mods []*module.Module
	for _, e := range entries {
		if e.Reader != nil {
			src, err := io.ReadAll(e.Reader)
			if err != nil {
				return nil, &Error{ID: "stream", Requester: root.ID, Err: err}
			}
			id := filepath.Join(base, "stream-"+uuid.NewString()+".js")
			mods = append(mods, &module.Module{ID: id, Source: src, Entry: true})
			continue
		}
		p := e.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		res, err := w.Resolve(w.ctx, p, root)
		if err != nil {
			return nil, &Error{ID: e.Path, Requester: root.ID, Err: err}
		}
		if res.ID == "" {
			return nil, &Error{ID: e.Path, Requester: root.ID, Err: fmt.Errorf("entry resolved as external")}
		}
		mods = append(mods, &module.Module{ID: res.ID, Package: res.Package, Entry: true})
		w.roots = append(w.roots, res.ID)
	}
	return mods, nil
}

// visit schedules m unless it was already seen.
func (w *walk) visit(m *module.Module, parent *module.Module) {
	w.mu.Lock()
	if w.seen[m.ID] {
		w.mu.Unlock()
		return
	}
	w.seen[m.ID] = true
	w.mu.Unlock()

	w.eg.Go(func() error {
		if err := w.process(m, parent); err != nil {
			return &Error{ID: m.ID, Requester: parent.ID, Err: err}
		}
		return nil
	})
}

func (w *walk) process(m *module.Module, parent *module.Module) error {
	if w.g.Cache != nil {
		if cached, ok := w.g.Cache.Lookup(parent.ID, m.ID); ok {
			w.g.Logger.Debug().Str("module", m.ID).Msg("cache hit")
			// The entry flag belongs to this walk, not the cached one.
			hit := *cached
			hit.Entry = m.Entry
			if hit.Package == nil {
				hit.Package = m.Package
			}
			if err := w.emit(&hit); err != nil {
				return err
			}
			w.visitDeps(&hit)
			return nil
		}
	}

	if err := w.transform(m); err != nil {
		return err
	}
	if err := w.emit(m); err != nil {
		return err
	}
	w.visitDeps(m)
	return nil
}

func (w *walk) transform(m *module.Module) error {
	if err := w.sem.Acquire(w.ctx, 1); err != nil {
		return err
	}
	defer w.sem.Release(1)

	if m.Source == nil {
		src, err := afero.ReadFile(w.fs(), m.ID)
		if err != nil {
			return err
		}
		m.Source = src
	}
	pipeline := w.g.Pipeline
	if pipeline == nil {
		pipeline = &transform.Pipeline{}
	}
	txs, err := pipeline.For(m, w.topLevel(m))
	if err != nil {
		return err
	}
	if err := transform.Run(w.ctx, m, txs, w.pc); err != nil {
		return err
	}
	if m.Source == nil {
		m.Source = []byte{}
	}
	m.Source = bytes.ToValidUTF8(m.Source, []byte("�"))
	return nil
}

// topLevel reports whether m is outside of node_modules relative to any
// entry. Reader entries are always top level.
func (w *walk) topLevel(m *module.Module) bool {
	if m.Entry || len(w.roots) == 0 {
		return true
	}
	for _, root := range w.roots {
		rel, err := filepath.Rel(filepath.Dir(root), m.ID)
		if err != nil {
			continue
		}
		if !slices.Contains(strings.Split(filepath.ToSlash(rel), "/"), "node_modules") {
			return true
		}
	}
	return false
}

func (w *walk) emit(m *module.Module) error {
	w.g.Logger.Debug().Str("module", m.ID).Int("deps", len(m.Deps)).Msg("module")
	select {
	case w.out <- m:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func (w *walk) visitDeps(m *module.Module) {
	for _, dep := range m.Deps {
		if dep.External() {
			continue
		}
		w.mu.Lock()
		pkg, known := w.pkgs[dep.ID]
		seen := w.seen[dep.ID]
		w.mu.Unlock()
		// Deps of cached modules were not resolved by this walk.
		if !known && !seen {
			if res, err := w.Resolve(w.ctx, dep.Spec, m); err == nil && res.ID == dep.ID {
				pkg = res.Package
			}
		}
		w.visit(&module.Module{ID: dep.ID, Package: pkg}, m)
	}
}
