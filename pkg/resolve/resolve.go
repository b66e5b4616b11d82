// Package resolve turns the specifiers written in module sources into module
// ids. The graph only depends on the Resolver interface; Node is the default
// node-style implementation.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/coldog/roller/pkg/module"
)

// Extensions are tried in order by a Node without extensions of its own.
var Extensions = []string{".js", ".jsx", ".ts", ".tsx", ".json", ".yaml", ".yml", ".css"}

// Resolved is the result of resolving one specifier. An empty ID means the
// specifier is external and must not be followed.
type Resolved struct {
	ID      string
	Package *module.Package
}

// External is the result for specifiers which are intentionally left alone.
var External = Resolved{}

// Resolver resolves a specifier required from a module. Implementations must
// be deterministic for a given specifier and requester and safe for
// concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, spec string, from *module.Module) (Resolved, error)
}

// Func adapts a function to the Resolver interface.
type Func func(ctx context.Context, spec string, from *module.Module) (Resolved, error)

func (f Func) Resolve(ctx context.Context, spec string, from *module.Module) (Resolved, error) {
	return f(ctx, spec, from)
}

// Error is returned when a specifier cannot be resolved.
type Error struct {
	Spec string
	From string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot resolve %q, module required from %s: %v", e.Spec, e.From, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Node implements a basic node resolution algorithm over a filesystem.
type Node struct {
	Fs afero.Fs
	// BaseDir is used for specifiers required by the synthetic root.
	BaseDir string
	// Extensions tried, in order, when a path does not exist as is.
	Extensions []string
	// Modules maps bare specifiers to files, e.g. builtin shims. An empty
	// value marks the specifier as external.
	Modules map[string]string
	// ModuleDirs are the directory names searched for bare specifiers.
	ModuleDirs []string

	mu   sync.Mutex
	pkgs map[string]*module.Package
}

// NewNode returns a resolver over fs with the default extensions.
func NewNode(fs afero.Fs, baseDir string) *Node {
	return &Node{Fs: fs, BaseDir: baseDir}
}

// Resolve resolves spec as required by from. Relative and absolute paths are
// looked up as files then directories, bare specifiers in the module
// directories of from and its parents. Modules is consulted first.
func (n *Node) Resolve(ctx context.Context, spec string, from *module.Module) (Resolved, error) {
	if err := ctx.Err(); err != nil {
		return Resolved{}, err
	}
	if target, ok := n.Modules[spec]; ok {
		if target == "" {
			return External, nil
		}
		spec = target
	}

	dir := from.Dir()
	if from.ID == module.RootID {
		dir = n.baseDir()
	}

	var (
		name string
		err  error
	)
	if isPath(spec) {
		if filepath.IsAbs(spec) {
			name, err = n.load(spec)
		} else {
			name, err = n.load(filepath.Join(dir, spec))
		}
	} else {
		name, err = n.loadModule(dir, spec)
	}
	if err != nil {
		return Resolved{}, &Error{Spec: spec, From: from.ID, Err: err}
	}

	pkg, err := n.packageFor(filepath.Dir(name))
	if err != nil {
		return Resolved{}, &Error{Spec: spec, From: from.ID, Err: err}
	}
	return Resolved{ID: name, Package: pkg}, nil
}

func isPath(spec string) bool {
	return spec == "." || spec == ".." ||
		strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		filepath.IsAbs(spec)
}

func (n *Node) baseDir() string {
	if n.BaseDir != "" {
		return n.BaseDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func (n *Node) fs() afero.Fs {
	if n.Fs == nil {
		return afero.NewOsFs()
	}
	return n.Fs
}

func (n *Node) extensions() []string {
	if n.Extensions == nil {
		return Extensions
	}
	return n.Extensions
}

func (n *Node) moduleDirs() []string {
	if n.ModuleDirs == nil {
		return []string{"node_modules"}
	}
	return n.ModuleDirs
}

// loadModule searches module directories from dir up to the root.
func (n *Node) loadModule(dir, spec string) (string, error) {
	for {
		for _, md := range n.moduleDirs() {
			if filepath.Base(dir) == md {
				continue
			}
			if name, err := n.load(filepath.Join(dir, md, spec)); err == nil {
				return name, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("module %q not found", spec)
}

// load resolves name as a file, a file with one of the extensions, or a
// directory with a package.json main or an index file.
func (n *Node) load(name string) (string, error) {
	fs := n.fs()
	st, err := fs.Stat(name)
	if err == nil && !st.IsDir() {
		return name, nil
	}
	for _, ext := range n.extensions() {
		if st, err := fs.Stat(name + ext); err == nil && !st.IsDir() {
			return name + ext, nil
		}
	}
	if err != nil || !st.IsDir() {
		return "", fmt.Errorf("could not resolve: %q", name)
	}

	main := "index"
	data, err := afero.ReadFile(fs, filepath.Join(name, "package.json"))
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	if err == nil {
		m := struct {
			Main string `json:"main"`
		}{}
		if err := json.Unmarshal(data, &m); err != nil {
			return "", fmt.Errorf("%s: %w", filepath.Join(name, "package.json"), err)
		}
		if m.Main != "" {
			main = m.Main
		}
	}
	if name, err := n.loadFile(filepath.Join(name, main)); err == nil {
		return name, nil
	}
	return n.loadFile(filepath.Join(name, "index"))
}

func (n *Node) loadFile(name string) (string, error) {
	fs := n.fs()
	if st, err := fs.Stat(name); err == nil && !st.IsDir() {
		return name, nil
	}
	for _, ext := range n.extensions() {
		if st, err := fs.Stat(name + ext); err == nil && !st.IsDir() {
			return name + ext, nil
		}
	}
	return "", fmt.Errorf("could not resolve: %q", name)
}

// packageFor returns the nearest package.json above dir, decoded.
func (n *Node) packageFor(dir string) (*module.Package, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pkgs == nil {
		n.pkgs = map[string]*module.Package{}
	}

	var visited []string
	var pkg *module.Package
	for {
		if p, ok := n.pkgs[dir]; ok {
			pkg = p
			break
		}
		visited = append(visited, dir)
		data, err := afero.ReadFile(n.fs(), filepath.Join(dir, "package.json"))
		if err == nil {
			p := &module.Package{Dir: dir}
			if err := json.Unmarshal(data, &p.Data); err != nil {
				return nil, fmt.Errorf("%s: %w", filepath.Join(dir, "package.json"), err)
			}
			pkg = p
			break
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	for _, d := range visited {
		n.pkgs[d] = pkg
	}
	return pkg, nil
}
