package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/coldog/roller/pkg/build"
	"github.com/coldog/roller/pkg/config"
	"github.com/coldog/roller/pkg/util"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

type app struct {
	v       *viper.Viper
	cfgFile string
	chdir   string
	verbose bool

	cfg    *config.Config
	logger zerolog.Logger
	popd   func() error
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	a := &app{v: config.New()}
	cmd, err := a.rootCmd()
	if err != nil {
		return err
	}
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	err = cmd.ExecuteContext(ctx)
	if a.popd != nil {
		if perr := a.popd(); err == nil {
			err = perr
		}
	}
	return err
}

func (a *app) rootCmd() (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "roller",
		Short:         "Bundle CommonJS modules for the browser",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.chdir != "" {
				popd, err := util.Pushd(a.chdir)
				if err != nil {
					return err
				}
				a.popd = popd
			}
			a.logger = initLog(a.verbose)
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./roller.yaml)")
	flags.StringVarP(&a.chdir, "directory", "C", "", "change to dir before doing anything")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logs")
	flags.StringP("out-dir", "o", "", "output directory")
	flags.String("split", "", "split mode: auto, none, common or dynamic")
	flags.Bool("debug", false, "annotate modules with their source path")
	flags.Int("concurrency", 0, "maximum number of modules transformed at once")
	if err := bindFlags(a.v, flags, map[string]string{
		"out_dir":     "out-dir",
		"split":       "split",
		"debug":       "debug",
		"concurrency": "concurrency",
	}); err != nil {
		return nil, err
	}

	root.AddCommand(
		a.buildCmd(),
		a.splitCmd(),
		a.graphCmd(),
		a.watchCmd(),
		a.serveCmd(),
		versionCmd(),
	)
	return root, nil
}

// bindFlags binds config keys to the flags named in keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func (a *app) builder(metrics *build.Metrics) *build.Builder {
	b := build.New(a.cfg, nil, a.logger)
	b.Metrics = metrics
	return b
}

// entries names every path after its file name.
func entries(paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		name := build.EntryName(p)
		if prev, ok := out[name]; ok {
			return nil, fmt.Errorf("entries %s and %s are both named %q, use name=path", prev, p, name)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out[name] = abs
	}
	return out, nil
}

func printArtifacts(w io.Writer, res *build.Result, artifacts []build.Artifact) {
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	for _, art := range artifacts {
		fmt.Fprintf(w, "%-24s %10s  %s\n", art.Name, humanize.Bytes(uint64(art.Size)), art.Path)
	}
	fmt.Fprintf(w, "%d modules, %d chunks in %s\n", len(res.Graph), len(res.Chunks), res.Duration.Round(time.Millisecond))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if info, ok := debug.ReadBuildInfo(); ok && v == "dev" && info.Main.Version != "" {
				v = info.Main.Version
			}
			fmt.Fprintln(cmd.OutOrStdout(), "roller", v)
		},
	}
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
