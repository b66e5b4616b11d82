package split

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/robertkrimen/otto"

	"github.com/coldog/roller/pkg/linker"
	"github.com/coldog/roller/pkg/module"
)

type node struct {
	deps   []string
	async  []string
	source string
}

// graph builds an index where every dep spec is "./<id>".
func graph(entries []string, nodes map[string]node) module.Index {
	idx := module.Index{}
	for id, n := range nodes {
		m := &module.Module{ID: id, Source: []byte(n.source), Deps: module.Deps{}}
		for _, dep := range n.deps {
			m.Deps.Set("./"+dep, dep)
		}
		for _, dep := range n.async {
			m.Deps.Set("./"+dep, dep)
			m.AsyncDeps.Set("./"+dep, dep)
		}
		idx.Add(m)
	}
	for _, id := range entries {
		idx[id].Entry = true
	}
	return idx
}

func TestCommon(t *testing.T) {
	t.Parallel()

	idx := graph([]string{"E1", "E2"}, map[string]node{
		"E1": {deps: []string{"M", "P1"}},
		"E2": {deps: []string{"M", "P2", "P2b"}},
		"M":  {},
		"P1": {},
		"P2": {deps: []string{"P2b"}},
		// reached twice from E2 only
		"P2b": {},
	})
	s, err := Common(idx, map[string]string{"one": "E1", "two": "E2"})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if diff := cmp.Diff([]string{"M"}, s.Common.IDs()); diff != "" {
		t.Errorf("common (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"E1", "P1"}, s.Entries["one"].IDs()); diff != "" {
		t.Errorf("one (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"E2", "P2", "P2b"}, s.Entries["two"].IDs()); diff != "" {
		t.Errorf("two (-want +got):\n%s", diff)
	}
}

func TestCommonErrors(t *testing.T) {
	t.Parallel()

	idx := graph([]string{"E"}, map[string]node{"E": {}})
	var eerr *EntryError
	if _, err := Common(idx, map[string]string{"x": "missing"}); !errors.As(err, &eerr) || eerr.ID != "missing" {
		t.Errorf("expected entry error, got %v", err)
	}
	if _, err := Common(idx, map[string]string{CommonName: "E"}); err == nil {
		t.Errorf("expected reserved name error")
	}
}

func TestCommonPack(t *testing.T) {
	t.Parallel()

	idx := graph([]string{"E1", "E2"}, map[string]node{
		"E1": {deps: []string{"M", "P1"}, source: "one = require('./M') + require('./P1')"},
		"E2": {deps: []string{"M", "P2"}, source: "two = require('./M') + require('./P2')"},
		// The common chunk binds node globals.
		"M":  {source: "module.exports = process.env.M || 40"},
		"P1": {source: "module.exports = 2"},
		"P2": {source: "module.exports = 3"},
	})
	s, err := Common(idx, map[string]string{"one": "E1", "two": "E2"})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	chunks, err := s.Pack(linker.Options{Mangle: true})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	var names []string
	vm := otto.New()
	for _, c := range chunks {
		names = append(names, c.Name)
		if _, err := vm.Run(string(c.Data)); err != nil {
			t.Fatalf("%s failed: %v", c.Name, err)
		}
	}
	if diff := cmp.Diff([]string{CommonName, "one", "two"}, names); diff != "" {
		t.Errorf("chunks (-want +got):\n%s", diff)
	}
	v, err := vm.Run("[one, two].join()")
	if err != nil {
		t.Fatal(err)
	}
	if got := v.String(); got != "42,43" {
		t.Errorf("got %s", got)
	}
}

func owners(p *Plan, ids ...string) map[string]string {
	out := map[string]string{}
	for _, id := range ids {
		out[id] = p.Owner(id)
	}
	return out
}

func TestDynamic(t *testing.T) {
	t.Parallel()

	m := linker.Mangle
	tests := []struct {
		name   string
		nodes  map[string]node
		want   map[string]string
		chunks []string
	}{
		{
			name: "delta excludes requester",
			nodes: map[string]node{
				"A": {deps: []string{"B"}},
				"B": {async: []string{"C"}},
				"C": {deps: []string{"B"}},
			},
			want:   map[string]string{"A": Bootstrap, "B": Bootstrap, "C": m("B") + "_" + m("C")},
			chunks: []string{Bootstrap, m("B") + "_" + m("C")},
		},
		{
			name: "static target stays in bootstrap",
			nodes: map[string]node{
				"A": {deps: []string{"C"}, async: []string{"B"}},
				"B": {deps: []string{"C", "D"}},
				"C": {},
				"D": {},
			},
			want:   map[string]string{"A": Bootstrap, "B": "bootstrap_" + m("B"), "C": Bootstrap, "D": "bootstrap_" + m("B")},
			chunks: []string{Bootstrap, "bootstrap_" + m("B")},
		},
		{
			name: "shared by siblings goes to bootstrap",
			nodes: map[string]node{
				"A": {async: []string{"X", "Y"}},
				"X": {deps: []string{"S"}},
				"Y": {deps: []string{"S"}},
				"S": {deps: []string{"U"}},
				"U": {},
			},
			want: map[string]string{
				"X": "bootstrap_" + m("X"),
				"Y": "bootstrap_" + m("Y"),
				"S": Bootstrap,
				"U": Bootstrap,
			},
			chunks: []string{Bootstrap, "bootstrap_" + m("X"), "bootstrap_" + m("Y")},
		},
		{
			name: "shared by nested deltas goes to their parent",
			nodes: map[string]node{
				"A": {async: []string{"P"}},
				"P": {async: []string{"Q", "R"}},
				"Q": {deps: []string{"T"}},
				"R": {deps: []string{"T"}},
				"T": {},
			},
			want: map[string]string{
				"P": "bootstrap_" + m("P"),
				"Q": m("P") + "_" + m("Q"),
				"R": m("P") + "_" + m("R"),
				"T": "bootstrap_" + m("P"),
			},
			chunks: []string{Bootstrap, "bootstrap_" + m("P"), m("P") + "_" + m("Q"), m("P") + "_" + m("R")},
		},
		{
			name: "async cycle",
			nodes: map[string]node{
				"A": {async: []string{"P"}},
				"P": {async: []string{"S"}},
				"S": {async: []string{"P"}},
			},
			want:   map[string]string{"A": Bootstrap, "P": "bootstrap_" + m("P"), "S": m("P") + "_" + m("S")},
			chunks: []string{Bootstrap, "bootstrap_" + m("P"), m("P") + "_" + m("S")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			idx := graph([]string{"A"}, tt.nodes)
			p, err := Dynamic(idx, "A")
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			var ids []string
			for id := range tt.want {
				ids = append(ids, id)
			}
			if diff := cmp.Diff(tt.want, owners(p, ids...)); diff != "" {
				t.Errorf("owners (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.chunks, p.Chunks()); diff != "" {
				t.Errorf("chunks (-want +got):\n%s", diff)
			}

			// Every module is routed to exactly one chunk and packed once.
			routes := p.Routes(func(id string) string { return id })
			packed := map[string]int{}
			for _, c := range p.Chunks() {
				for id := range p.Modules(c) {
					packed[id]++
					if routes[id] != c {
						t.Errorf("%s packed in %s but routed to %s", id, c, routes[id])
					}
				}
			}
			for id := range idx {
				if packed[id] != 1 {
					t.Errorf("%s packed %d times", id, packed[id])
				}
			}
		})
	}
}

func TestDynamicMissingEntry(t *testing.T) {
	t.Parallel()

	var eerr *EntryError
	if _, err := Dynamic(module.Index{}, "A"); !errors.As(err, &eerr) {
		t.Errorf("expected entry error, got %v", err)
	}
}

func TestDynamicLoad(t *testing.T) {
	t.Parallel()

	idx := graph([]string{"A"}, map[string]node{
		"A": {deps: []string{"B"}, async: []string{"C"}, source: `var b = require('./B');
module.exports = function() {
  require_async('./C', function(err, c) { result = err ? String(err) : b + c; });
};`},
		"B": {source: "global.base = 1; module.exports = global.base"},
		"C": {deps: []string{"B", "D"}, source: "module.exports = require('./B') + require('./D')"},
		"D": {source: "module.exports = 40"},
	})
	p, err := Dynamic(idx, "A")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	chunks, err := p.Pack(linker.Options{Mangle: true})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(chunks) != 2 || chunks[0].Name != Bootstrap {
		t.Fatalf("unexpected chunks %v", chunks)
	}
	delta := chunks[1]
	if diff := cmp.Diff([]string{"C", "D"}, delta.Modules.IDs()); diff != "" {
		t.Errorf("delta (-want +got):\n%s", diff)
	}

	vm := otto.New()
	run := func(js string) otto.Value {
		t.Helper()
		v, err := vm.Run(js)
		if err != nil {
			t.Fatalf("%.80s: %v", js, err)
		}
		return v
	}
	run(string(chunks[0].Data))
	run(`var queue = [];
require("` + linker.LoaderID + `").fetch = function(src, cb) { queue.push([src, cb]); };`)

	start := fmt.Sprintf("require(%q)()", linker.Mangle("A"))
	run(start)
	run(start)
	if got := run("queue.length + ' ' + queue[0][0]").String(); got != "1 "+delta.Name+".js" {
		t.Fatalf("expected one fetch of the delta, got %q", got)
	}
	run(string(delta.Data))
	run("queue[0][1](null)")
	if n, _ := run("result").ToInteger(); n != 42 {
		t.Errorf("expected 42, got %v", run("result"))
	}

	run("result = 0")
	run(start)
	if n, _ := run("queue.length").ToInteger(); n != 1 {
		t.Errorf("loaded chunk fetched again")
	}
	if n, _ := run("result").ToInteger(); n != 42 {
		t.Errorf("expected 42 after load, got %v", run("result"))
	}
}
