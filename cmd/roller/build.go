package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coldog/roller/pkg/build"
	"github.com/coldog/roller/pkg/config"
	"github.com/coldog/roller/pkg/graph"
)

func (a *app) buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build [entry...]",
		Short: "Bundle the entries, or the configured ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			ents := a.cfg.Entries
			if len(args) > 0 {
				var err error
				if ents, err = entries(args); err != nil {
					return err
				}
			}
			return a.build(cmd, a.cfg.SplitMode(len(ents)), ents)
		},
	}
}

func (a *app) splitCmd() *cobra.Command {
	var dynamic bool
	cmd := &cobra.Command{
		Use:   "split [name=path...]",
		Short: "Split entries into a common chunk and one chunk per entry",
		Long: `Split entries into a common chunk and one chunk per entry.

With --dynamic, split a single entry at its require_async calls instead:
the entry goes into the bootstrap chunk and every lazily required module
into a chunk loaded on demand.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ents := a.cfg.Entries
			if len(args) > 0 {
				var err error
				if ents, err = namedEntries(args); err != nil {
					return err
				}
			}
			if dynamic {
				return a.build(cmd, config.SplitDynamic, ents)
			}
			return a.build(cmd, config.SplitCommon, ents)
		},
	}
	cmd.Flags().BoolVar(&dynamic, "dynamic", false, "split at require_async calls")
	return cmd
}

// namedEntries parses name=path arguments. A bare path is named after its
// file.
func namedEntries(args []string) (map[string]string, error) {
	out := map[string]string{}
	for _, arg := range args {
		name, path, ok := strings.Cut(arg, "=")
		if !ok {
			name, path = build.EntryName(arg), arg
		}
		if name == "" || path == "" {
			return nil, fmt.Errorf("invalid entry %q, expected name=path", arg)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("duplicate entry name %q", name)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		out[name] = abs
	}
	return out, nil
}

func (a *app) build(cmd *cobra.Command, mode string, ents map[string]string) error {
	b := a.builder(nil)
	res, err := b.BuildEntries(cmd.Context(), mode, ents)
	if err != nil {
		return err
	}
	artifacts, err := b.Write(res)
	if err != nil {
		return err
	}
	printArtifacts(cmd.OutOrStdout(), res, artifacts)
	return nil
}

func (a *app) graphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph [entry...]",
		Short: "Print the module graph as newline delimited JSON",
		Long: `Print the module graph as newline delimited JSON, one module per line.

An entry of "-" reads a module from standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var roots []graph.Entry
			if len(args) == 0 {
				for _, p := range a.cfg.Entries {
					roots = append(roots, graph.Path(p))
				}
			}
			for _, arg := range args {
				if arg == "-" {
					roots = append(roots, graph.Reader(cmd.InOrStdin()))
					continue
				}
				abs, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				roots = append(roots, graph.Path(abs))
			}
			if len(roots) == 0 {
				return fmt.Errorf("no entries")
			}

			g, err := a.builder(nil).Graph(a.cfg.Split)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			s := g.Walk(ctx, roots...)
			enc := json.NewEncoder(cmd.OutOrStdout())
			for m := range s.Modules() {
				if err := enc.Encode(m); err != nil {
					return err
				}
			}
			return s.Err()
		},
	}
}
