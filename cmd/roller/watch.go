package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coldog/roller/pkg/build"
	"github.com/coldog/roller/pkg/server"
	"github.com/coldog/roller/pkg/watch"
)

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Build the configured entries and rebuild on changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := a.builder(nil)
			rebuild := func(ctx context.Context) error {
				res, err := b.Build(ctx)
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
			if err := rebuild(cmd.Context()); err != nil {
				// keep watching, the next change may fix it
				a.logger.Error().Err(err).Msg("build failed")
			}
			w, err := a.watcher(b, rebuild)
			if err != nil {
				return err
			}
			return w.Run(cmd.Context())
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chunks of the configured entries and rebuild on changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Serve.Addr
			}
			reg := newRegistry()
			b := a.builder(build.NewMetrics(reg))
			srv := server.New(b, reg, a.logger)
			if err := srv.Rebuild(cmd.Context()); err != nil {
				a.logger.Error().Err(err).Msg("build failed")
			}
			w, err := a.watcher(b, srv.Rebuild)
			if err != nil {
				return err
			}

			eg, ctx := errgroup.WithContext(cmd.Context())
			eg.Go(func() error { return w.Run(ctx) })
			eg.Go(func() error { return srv.ListenAndServe(ctx, addr) })
			return eg.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from serve.addr)")
	return cmd
}

// watcher rebuilds with fn when a file of the base directory changes. The
// output and cache directories are ignored.
func (a *app) watcher(b *build.Builder, fn func(context.Context) error) (*watch.Watcher, error) {
	base, err := filepath.Abs(a.cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	ignore := append([]string{}, a.cfg.Watch.Ignore...)
	for _, dir := range []string{b.OutDir(), a.cfg.CacheDir} {
		if dir == "" {
			continue
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(base, dir)
		}
		if rel, err := filepath.Rel(base, dir); err == nil {
			ignore = append(ignore, filepath.ToSlash(rel)+"/**")
		}
	}
	return watch.New(watch.Config{
		Dir:      base,
		Ignore:   ignore,
		Debounce: a.cfg.Watch.Debounce,
		Logger:   a.logger,
		OnChange: func(ctx context.Context, changed []string) error {
			b.Invalidate(changed...)
			return fn(ctx)
		},
	})
}
