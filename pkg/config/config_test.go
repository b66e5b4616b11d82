package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "roller.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
base_dir: web
out_dir: public
entries:
  app: ./src/app.js
  admin: ./src/admin.js
transform: [strip-bom]
external: ["react/**"]
mangle: false
insert_globals: false
modules:
  events: shims/events.js
  fs: ""
watch:
  debounce: 1s
serve:
  addr: ":9000"
`)
	t.Setenv("ROLLER_CONCURRENCY", "3")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if want := filepath.Join(filepath.Dir(path), "web"); cfg.BaseDir != want {
		t.Errorf("base dir %q, want %q", cfg.BaseDir, want)
	}
	if diff := cmp.Diff(map[string]string{"app": "./src/app.js", "admin": "./src/admin.js"}, cfg.Entries); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
	if cfg.OutDir != "public" || cfg.Mangle || cfg.InsertGlobals || cfg.Concurrency != 3 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Watch.Debounce != time.Second || cfg.Serve.Addr != ":9000" {
		t.Errorf("unexpected nested config %+v %+v", cfg.Watch, cfg.Serve)
	}
	if diff := cmp.Diff(map[string]string{"events": "shims/events.js", "fs": ""}, cfg.Modules); diff != "" {
		t.Errorf("modules (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"strip-bom"}, cfg.Transform); diff != "" {
		t.Errorf("transform (-want +got):\n%s", diff)
	}
	if cfg.SplitMode(len(cfg.Entries)) != SplitCommon {
		t.Errorf("two entries should split common chunks")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*Config)
		problems int
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "negative concurrency", mutate: func(c *Config) { c.Concurrency = -1 }, problems: 1},
		{name: "unknown split", mutate: func(c *Config) { c.Split = "halves" }, problems: 1},
		{name: "dynamic with two entries", mutate: func(c *Config) {
			c.Split = SplitDynamic
			c.Entries = map[string]string{"a": "a.js", "b": "b.js"}
		}, problems: 1},
		{name: "reserved names", mutate: func(c *Config) {
			c.Entries = map[string]string{"common": "a.js", "bootstrap": "b.js"}
		}, problems: 2},
		{name: "bad patterns", mutate: func(c *Config) {
			c.External = []string{"[a"}
			c.Watch.Ignore = []string{"{x"}
		}, problems: 2},
		{name: "bad extension", mutate: func(c *Config) { c.Extensions = []string{"js"} }, problems: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.problems == 0 {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || len(verr.Problems) != tt.problems {
				t.Fatalf("expected %d problems, got %v", tt.problems, err)
			}
		})
	}
}

func TestTransformPath(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if diff := cmp.Diff([]string{"browserify", "transform"}, cfg.TransformPath()); diff != "" {
		t.Errorf("path (-want +got):\n%s", diff)
	}
	if cfg.SplitMode(1) != SplitNone {
		t.Errorf("single entry should not split")
	}
}
