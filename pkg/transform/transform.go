// Package transform implements the per-module transform pipeline.
//
// A transform is either a source transform, which rewrites the raw text of a
// module, or a module transform, which receives the whole module record and
// returns a patch merged into it. The kind is declared when the transform is
// constructed. Named transforms are placeholders resolved by a Loader
// relative to the module being transformed.
package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coldog/roller/pkg/module"
	"github.com/coldog/roller/pkg/resolve"
)

// Kind tells how a transform is applied.
type Kind int

const (
	// KindNamed is a transform referenced by name and not loaded yet.
	KindNamed Kind = iota
	// KindSource transforms receive the raw source and return new source.
	KindSource
	// KindModule transforms receive the module and return a patch.
	KindModule
)

func (k Kind) String() string {
	switch k {
	case KindNamed:
		return "named"
	case KindSource:
		return "source"
	case KindModule:
		return "module"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type (
	// SourceFunc rewrites the source of the module id.
	SourceFunc func(ctx context.Context, src io.Reader, id string) ([]byte, error)
	// ModuleFunc returns a patch for m. A nil patch leaves m unchanged.
	ModuleFunc func(ctx context.Context, m *module.Module, pc *Context) (*Patch, error)
)

// Transform is one step of a pipeline.
type Transform struct {
	Name   string
	Kind   Kind
	Source SourceFunc
	Module ModuleFunc
}

// Source declares a source transform.
func Source(name string, fn SourceFunc) Transform {
	return Transform{Name: name, Kind: KindSource, Source: fn}
}

// Module declares a module transform.
func Module(name string, fn ModuleFunc) Transform {
	return Transform{Name: name, Kind: KindModule, Module: fn}
}

// Named references a transform to be located by a Loader.
func Named(name string) Transform {
	return Transform{Name: name, Kind: KindNamed}
}

// Patch is the result of a module transform.
type Patch struct {
	Source    []byte
	Deps      module.Deps
	AsyncDeps module.Deps
	Meta      map[string]any
}

// Context is handed to module transforms.
type Context struct {
	// Resolver used for dependencies found by transforms. The graph passes a
	// resolver memoized for the current walk.
	Resolver resolve.Resolver
	// NoParse holds glob patterns of module ids whose dependencies are not
	// extracted.
	NoParse []string
	Logger  zerolog.Logger
}

// Skip reports whether dependency extraction is disabled for m.
func (pc *Context) Skip(m *module.Module) bool {
	return resolve.Match(pc.NoParse, m.ID)
}

// ResolveDeps resolves every specifier concurrently and returns the mapping
// in the order of specs.
func (pc *Context) ResolveDeps(ctx context.Context, specs []string, from *module.Module) (module.Deps, error) {
	ids := make([]string, len(specs))
	eg, ctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		eg.Go(func() error {
			res, err := pc.Resolver.Resolve(ctx, spec, from)
			if err != nil {
				return err
			}
			ids[i] = res.ID
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	deps := make(module.Deps, 0, len(specs))
	for i, spec := range specs {
		deps.Set(spec, ids[i])
	}
	return deps, nil
}

// Error is returned when a transform fails on a module.
type Error struct {
	Name string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform %s failed on %s: %v", e.Name, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// LoadError is returned when a named transform cannot be located.
type LoadError struct {
	Name string
	ID   string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot find transform module %s while transforming %s which is required as a transform", e.Name, e.ID)
}

// Run applies txs to m in order. Every transform sees the output of the
// previous one. Named transforms must have been loaded.
func Run(ctx context.Context, m *module.Module, txs []Transform, pc *Context) error {
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch tx.Kind {
		case KindSource:
			out, err := tx.Source(ctx, bytes.NewReader(m.Source), m.ID)
			if err != nil {
				return &Error{Name: tx.Name, ID: m.ID, Err: err}
			}
			m.Source = out
		case KindModule:
			patch, err := tx.Module(ctx, m, pc)
			if err != nil {
				return &Error{Name: tx.Name, ID: m.ID, Err: err}
			}
			Apply(m, patch)
		default:
			return &LoadError{Name: tx.Name, ID: m.ID}
		}
		pc.Logger.Debug().Str("module", m.ID).Str("transform", tx.Name).Stringer("kind", tx.Kind).Msg("transform applied")
	}
	return nil
}
