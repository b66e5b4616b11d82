// Package build runs complete builds from a configuration: it walks the
// graph of the configured entries, splits it, packs the chunks and writes
// them to the output directory. A builder keeps the graph of its last build
// and reuses unchanged modules on the next one.
package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/coldog/roller/pkg/config"
	"github.com/coldog/roller/pkg/graph"
	"github.com/coldog/roller/pkg/linker"
	"github.com/coldog/roller/pkg/module"
	"github.com/coldog/roller/pkg/resolve"
	"github.com/coldog/roller/pkg/split"
	"github.com/coldog/roller/pkg/transform"
)

// Result of a build.
type Result struct {
	Mode     string
	Graph    module.Index
	Chunks   []split.Chunk
	Duration time.Duration
}

// Artifact is a chunk written to the output directory.
type Artifact struct {
	Name string
	Path string
	Size int64
}

// Builder runs builds. It is safe for concurrent use; builds are serialized.
type Builder struct {
	Config *config.Config
	// Fs holds sources, the output directory and the cache directory. The OS
	// filesystem when nil.
	Fs      afero.Fs
	Logger  zerolog.Logger
	Metrics *Metrics

	mu          sync.Mutex
	cache       module.Index
	fingerprint string
}

// New returns a builder for cfg.
func New(cfg *config.Config, fs afero.Fs, logger zerolog.Logger) *Builder {
	return &Builder{Config: cfg, Fs: fs, Logger: logger}
}

func (b *Builder) fs() afero.Fs {
	if b.Fs == nil {
		return afero.NewOsFs()
	}
	return b.Fs
}

func (b *Builder) baseDir() string {
	dir, err := filepath.Abs(b.Config.BaseDir)
	if err != nil {
		return b.Config.BaseDir
	}
	return dir
}

func (b *Builder) dir(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.baseDir(), p)
}

func (b *Builder) cacheDir() string { return b.dir(b.Config.CacheDir) }

// OutDir returns the absolute output directory.
func (b *Builder) OutDir() string { return b.dir(b.Config.OutDir) }

// Resolver returns the resolver configured for a build.
func (b *Builder) Resolver() (resolve.Resolver, error) {
	node := resolve.NewNode(b.fs(), b.baseDir())
	node.Extensions = b.Config.Extensions
	if len(b.Config.Modules) > 0 {
		node.Modules = make(map[string]string, len(b.Config.Modules))
		for name, path := range b.Config.Modules {
			node.Modules[name] = b.dir(path)
		}
	}
	return resolve.Filter(node, b.Config.External...)
}

// Graph returns the graph walker for a build in mode.
func (b *Builder) Graph(mode string) (*graph.Graph, error) {
	r, err := b.Resolver()
	if err != nil {
		return nil, err
	}
	var global []transform.Transform
	for _, name := range b.Config.Transform {
		global = append(global, transform.Named(name))
	}
	mandatory := []transform.Transform{transform.CSSImports(), transform.Deps(), transform.Normalize()}
	if mode == config.SplitDynamic {
		mandatory = append([]transform.Transform{transform.AsyncDeps()}, mandatory...)
	}
	return &graph.Graph{
		Resolver: r,
		Pipeline: &transform.Pipeline{
			Global:    global,
			Key:       b.Config.TransformPath(),
			Mandatory: mandatory,
			Loader:    &transform.Loader{Registry: transform.Builtins(), WorkDir: b.baseDir()},
		},
		Fs:          b.fs(),
		BaseDir:     b.baseDir(),
		NoParse:     b.Config.NoParse,
		Concurrency: b.Config.Concurrency,
		Logger:      b.Logger,
	}, nil
}

// Options returns the linker options of the configuration.
func (b *Builder) Options() linker.Options {
	return linker.Options{
		Mangle:        b.Config.Mangle,
		Debug:         b.Config.Debug,
		InsertGlobals: b.Config.InsertGlobals,
		BaseDir:       b.baseDir(),
	}
}

// Invalidate drops modules from the cache of the next build.
func (b *Builder) Invalidate(paths ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range paths {
		delete(b.cache, b.dir(p))
	}
}

func (b *Builder) fingerprintFor(mode string) string {
	data, _ := json.Marshal(struct {
		Mode   string
		Config *config.Config
	}{mode, b.Config})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Walk resolves the entries and walks their graph, reusing unchanged
// modules of the previous walk. It returns the graph and the id of every
// entry in order.
func (b *Builder) Walk(ctx context.Context, mode string, paths ...string) (module.Index, []string, error) {
	g, err := b.Graph(mode)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(paths))
	for i, p := range paths {
		res, err := g.Resolver.Resolve(ctx, b.dir(p), module.Root())
		if err != nil {
			return nil, nil, &graph.Error{ID: p, Requester: module.RootID, Err: err}
		}
		if res.ID == "" {
			return nil, nil, fmt.Errorf("build: entry %s is external", p)
		}
		ids[i] = res.ID
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	fingerprint := b.fingerprintFor(mode)
	if fingerprint != b.fingerprint {
		b.cache = b.loadCache(fingerprint)
		b.fingerprint = fingerprint
	}
	if b.cache != nil {
		g.Cache = countingCache{Cache: graph.IndexCache(b.cache), hits: b.metrics().CacheHits}
	}

	idx, err := g.Collect(ctx, graph.Paths(ids...)...)
	if err != nil {
		return nil, nil, err
	}
	b.cache = idx
	if err := b.saveCache(fingerprint, idx); err != nil {
		b.Logger.Warn().Err(err).Msg("failed to save build cache")
	}
	return idx, ids, nil
}

func (b *Builder) metrics() *Metrics {
	if b.Metrics == nil {
		return &Metrics{}
	}
	return b.Metrics
}

// Build builds the configured entries.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	return b.BuildEntries(ctx, b.Config.SplitMode(len(b.Config.Entries)), b.Config.Entries)
}

// BuildEntries builds entries, a map of chunk name to entry path, in mode.
func (b *Builder) BuildEntries(ctx context.Context, mode string, entries map[string]string) (*Result, error) {
	res, err := b.build(ctx, mode, entries)
	b.Metrics.observe(mode, res, err)
	if err != nil {
		b.Logger.Error().Err(err).Str("mode", mode).Msg("build failed")
		return nil, err
	}
	b.Logger.Info().
		Str("mode", mode).
		Int("modules", len(res.Graph)).
		Int("chunks", len(res.Chunks)).
		Dur("took", res.Duration).
		Msg("build done")
	return res, nil
}

func (b *Builder) build(ctx context.Context, mode string, entries map[string]string) (*Result, error) {
	start := time.Now()
	if len(entries) == 0 {
		return nil, fmt.Errorf("build: no entries")
	}
	names := slices.Sorted(maps.Keys(entries))
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = entries[name]
	}

	idx, ids, err := b.Walk(ctx, mode, paths...)
	if err != nil {
		return nil, err
	}

	var chunks []split.Chunk
	switch mode {
	case config.SplitNone:
		name := "bundle"
		if len(names) == 1 {
			name = names[0]
		}
		data, err := linker.New(idx.Modules(), b.Options()).Bytes()
		if err != nil {
			return nil, err
		}
		chunks = []split.Chunk{{Name: name, Modules: idx, Data: data}}
	case config.SplitCommon:
		byName := make(map[string]string, len(names))
		for i, name := range names {
			byName[name] = ids[i]
		}
		s, err := split.Common(idx, byName)
		if err != nil {
			return nil, err
		}
		if chunks, err = s.Pack(b.Options()); err != nil {
			return nil, err
		}
	case config.SplitDynamic:
		if len(ids) != 1 {
			return nil, fmt.Errorf("build: dynamic split takes a single entry, got %d", len(ids))
		}
		p, err := split.Dynamic(idx, ids[0])
		if err != nil {
			return nil, err
		}
		if chunks, err = p.Pack(b.Options()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("build: unknown split mode %q", mode)
	}
	return &Result{Mode: mode, Graph: idx, Chunks: chunks, Duration: time.Since(start)}, nil
}

// Write writes every chunk of res to the output directory as <name>.js.
func (b *Builder) Write(res *Result) ([]Artifact, error) {
	out := b.OutDir()
	fs := b.fs()
	if err := fs.MkdirAll(out, 0o755); err != nil {
		return nil, err
	}
	artifacts := make([]Artifact, 0, len(res.Chunks))
	for _, c := range res.Chunks {
		path := filepath.Join(out, ChunkFile(c.Name))
		if err := afero.WriteFile(fs, path, c.Data, 0o644); err != nil {
			return nil, err
		}
		b.Logger.Debug().Str("chunk", c.Name).Str("path", path).Int("bytes", len(c.Data)).Msg("chunk written")
		artifacts = append(artifacts, Artifact{Name: c.Name, Path: path, Size: int64(len(c.Data))})
	}
	return artifacts, nil
}

// ChunkFile returns the file name of a chunk, as expected by the loader.
func ChunkFile(name string) string { return name + ".js" }

// EntryName derives a chunk name from an entry path.
func EntryName(p string) string {
	base := filepath.Base(p)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}
