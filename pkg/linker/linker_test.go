package linker

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/robertkrimen/otto"

	"github.com/coldog/roller/pkg/module"
)

func roundTrip() []*module.Module {
	return []*module.Module{
		{ID: "a", Entry: true, Deps: module.Deps{{Spec: "./b", ID: "b"}}, Source: []byte("module.exports=require('./b')+1")},
		{ID: "b", Deps: module.Deps{}, Source: []byte("module.exports=41")},
	}
}

func run(t *testing.T, vm *otto.Otto, src []byte) {
	t.Helper()
	if _, err := vm.Run(string(src)); err != nil {
		t.Fatalf("bundle failed: %v\n%s", err, src)
	}
}

func eval(t *testing.T, vm *otto.Otto, js string) otto.Value {
	t.Helper()
	v, err := vm.Run(js)
	if err != nil {
		t.Fatalf("%s: %v", js, err)
	}
	return v
}

func TestMangle(t *testing.T) {
	t.Parallel()

	if got := Mangle("a"); got != "ypeBEs" {
		t.Errorf("Mangle(a) = %q", got)
	}
	seen := map[string]string{}
	for _, id := range []string{"a", "b", "/app/index.js", "/app/lib/index.js", "/app/node_modules/x/index.js"} {
		m := Mangle(id)
		if m != Mangle(id) || len(m) != MangleLen {
			t.Errorf("unstable mangle for %s", id)
		}
		if other, ok := seen[m]; ok {
			t.Errorf("%s and %s collide", id, other)
		}
		seen[m] = id
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for _, mangle := range []bool{false, true} {
		t.Run(fmt.Sprintf("mangle=%v", mangle), func(t *testing.T) {
			t.Parallel()
			b := New(roundTrip(), Options{Mangle: mangle})
			out, err := b.Bytes()
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			vm := otto.New()
			run(t, vm, out)
			v := eval(t, vm, fmt.Sprintf("require(%q)", b.Name("a")))
			if n, _ := v.ToInteger(); n != 42 {
				t.Errorf("expected 42, got %v", v)
			}
			if mangle && bytes.Contains(out, []byte(`"./b":"b"`)) {
				t.Errorf("dep reference was not mangled")
			}
		})
	}
}

func TestEntriesRun(t *testing.T) {
	t.Parallel()

	mods := []*module.Module{
		{ID: "main", Entry: true, Deps: module.Deps{{Spec: "./dep", ID: "dep"}}, Source: []byte("ran = require('./dep') + ' main'")},
		{ID: "dep", Source: []byte("ran = 'dep'; module.exports = 'dep'")},
	}
	out, err := New(mods, Options{Mangle: true}).Bytes()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	vm := otto.New()
	run(t, vm, out)
	if got := eval(t, vm, "ran").String(); got != "dep main" {
		t.Errorf("ran = %q", got)
	}
}

func TestExternalOmitted(t *testing.T) {
	t.Parallel()

	mods := []*module.Module{{
		ID:     "a",
		Entry:  true,
		Deps:   module.Deps{{Spec: "fs"}},
		Source: []byte("try { require('fs') } catch (e) { module.exports = e.code }"),
	}}
	out, err := New(mods, Options{}).Bytes()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if bytes.Contains(out, []byte(`"fs":`)) {
		t.Errorf("external dep in table:\n%s", out)
	}
	vm := otto.New()
	run(t, vm, out)
	if got := eval(t, vm, `require("a")`).String(); got != "MODULE_NOT_FOUND" {
		t.Errorf("expected MODULE_NOT_FOUND, got %q", got)
	}
}

func TestPackError(t *testing.T) {
	t.Parallel()

	mods := func() []*module.Module {
		return []*module.Module{{ID: "a", Entry: true, Deps: module.Deps{{Spec: "./x", ID: "x"}}}}
	}
	tests := []struct {
		name    string
		bundler *Bundler
		wantErr bool
	}{
		{name: "missing", bundler: New(mods(), Options{Mangle: true}), wantErr: true},
		{name: "linked", bundler: New(mods(), Options{Mangle: true}).Link("common", "x")},
		{name: "routed", bundler: New(mods(), Options{Mangle: true}).Route(module.Routes{Mangle("x"): "chunk"})},
		{name: "routed unmangled", bundler: New(mods(), Options{}).Route(module.Routes{"x": "chunk"})},
		{name: "routed wrong name", bundler: New(mods(), Options{Mangle: true}).Route(module.Routes{"x": "chunk"}), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.bundler.Bytes()
			var perr *PackError
			if tt.wantErr != errors.As(err, &perr) {
				t.Fatalf("unexpected error %v", err)
			}
			if tt.wantErr && (perr.ID != "a" || perr.Missing != "x") {
				t.Errorf("unexpected error %+v", perr)
			}
		})
	}
}

func TestOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mods []*module.Module
		want []string
	}{
		{
			name: "chain",
			mods: []*module.Module{
				{ID: "a", Deps: module.Deps{{Spec: "b", ID: "b"}}},
				{ID: "b", Deps: module.Deps{{Spec: "c", ID: "c"}}},
				{ID: "c"},
			},
			want: []string{"c", "b", "a"},
		},
		{
			name: "cycle",
			mods: []*module.Module{
				{ID: "a", Deps: module.Deps{{Spec: "b", ID: "b"}}},
				{ID: "b", Deps: module.Deps{{Spec: "a", ID: "a"}, {Spec: "fs"}}},
			},
			want: []string{"b", "a"},
		},
		{
			name: "siblings keep insertion order",
			mods: []*module.Module{
				{ID: "x"},
				{ID: "a", Deps: module.Deps{{Spec: "z", ID: "z"}, {Spec: "y", ID: "y"}}},
				{ID: "y"},
				{ID: "z"},
			},
			want: []string{"x", "z", "y", "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got []string
			for _, m := range order(tt.mods) {
				got = append(got, m.ID)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("order (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuilder(t *testing.T) {
	t.Parallel()

	mods := roundTrip()
	b := New(mods, Options{Mangle: true, Debug: true}).
		Inject(&module.Module{ID: ExposerID, Entry: true, Source: []byte(ExposerSource)}, true).
		Through(func(m *module.Module) {
			if m.ID == "b" {
				m.Source = []byte("module.exports=1")
			}
		})
	out, err := b.Bytes()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !bytes.Contains(out, []byte(`"`+ExposerID+`":`)) {
		t.Errorf("exposed id was mangled")
	}
	if !bytes.Contains(out, []byte("//# sourceURL=a")) {
		t.Errorf("missing debug annotation")
	}
	if string(mods[1].Source) != "module.exports=41" {
		t.Errorf("through modified the original module")
	}

	vm := otto.New()
	run(t, vm, out)
	if n, _ := eval(t, vm, fmt.Sprintf("require(%q)", Mangle("a"))).ToInteger(); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
}

func TestChunksShareRequire(t *testing.T) {
	t.Parallel()

	common := []*module.Module{{ID: "shared", Source: []byte("module.exports = 20")}}
	first, err := New(common, Options{Mangle: true}).
		Inject(&module.Module{ID: ExposerID, Entry: true, Source: []byte(ExposerSource)}, true).
		Bytes()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	entry := []*module.Module{{
		ID:     "main",
		Entry:  true,
		Deps:   module.Deps{{Spec: "./shared", ID: "shared"}},
		Source: []byte("result = require('./shared') + 22"),
	}}
	second, err := New(entry, Options{Mangle: true}).Link("common", "shared").Bytes()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	vm := otto.New()
	run(t, vm, first)
	run(t, vm, second)
	if n, _ := eval(t, vm, "result").ToInteger(); n != 42 {
		t.Errorf("expected 42, got %d", n)
	}
}

func TestInsertGlobals(t *testing.T) {
	t.Parallel()

	mods := []*module.Module{
		{ID: "/app/src/main.js", Entry: true, Deps: module.Deps{{Spec: "./plain", ID: "/app/src/plain.js"}}, Source: []byte(
			"env = process.env.NODE_ENV || 'none'\n" +
				"global.shared = 42\n" +
				"file = __filename + ' ' + __dirname\n" +
				"plain = require('./plain')")},
		{ID: "/app/src/plain.js", Source: []byte("var foo = {}; foo.process = 1; module.exports = foo.process")},
	}
	out, err := New(mods, Options{InsertGlobals: true, BaseDir: "/app"}).Bytes()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if bytes.Count(out, []byte(").call(this, ")) != 1 {
		t.Errorf("expected only main.js to be wrapped:\n%s", out)
	}
	if string(mods[0].Source[:3]) != "env" {
		t.Errorf("insert globals modified the original module")
	}

	vm := otto.New()
	run(t, vm, out)
	for js, want := range map[string]string{
		"env":    "none",
		"shared": "42",
		"file":   "/src/main.js /src",
		"plain":  "1",
	} {
		if got := eval(t, vm, js).String(); got != want {
			t.Errorf("%s = %q, want %q", js, got, want)
		}
	}
}

func TestInsertGlobalsOff(t *testing.T) {
	t.Parallel()

	mods := []*module.Module{{ID: "main", Entry: true, Source: []byte("ok = typeof process")}}
	out, err := New(mods, Options{}).Bytes()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	vm := otto.New()
	run(t, vm, out)
	if got := eval(t, vm, "ok").String(); got != "undefined" {
		t.Errorf("process bound without insert globals: %q", got)
	}
}
