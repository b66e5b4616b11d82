package module

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDepsJSON(t *testing.T) {
	t.Parallel()

	deps := Deps{{Spec: "./z", ID: "/z.js"}, {Spec: "fs"}, {Spec: "./a", ID: "/a.js"}}
	data, err := json.Marshal(deps)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got, want := string(data), `{"./z":"/z.js","fs":false,"./a":"/a.js"}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	var back Deps
	if err := json.Unmarshal([]byte(`{"./z":"/z.js","fs":false,"path":null,"./a":"/a.js"}`), &back); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	want := Deps{{Spec: "./z", ID: "/z.js"}, {Spec: "fs"}, {Spec: "path"}, {Spec: "./a", ID: "/a.js"}}
	if diff := cmp.Diff(want, back); diff != "" {
		t.Errorf("decoded deps (-want +got):\n%s", diff)
	}
}

func TestDepsJSONInvalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{`[]`, `{"a":true}`, `{"a":1}`} {
		var d Deps
		if err := json.Unmarshal([]byte(input), &d); err == nil {
			t.Errorf("%s: expected error", input)
		}
	}
}

func TestDepsSet(t *testing.T) {
	t.Parallel()

	var d Deps
	d.Set("./a", "/a.js")
	d.Set("./b", "/b.js")
	d.Set("./a", "/a2.js")
	d.Merge(Deps{{Spec: "fs"}, {Spec: "./b", ID: "/b2.js"}})
	want := Deps{{Spec: "./a", ID: "/a2.js"}, {Spec: "./b", ID: "/b2.js"}, {Spec: "fs"}}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("deps (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/a2.js", "/b2.js"}, d.Resolved()); diff != "" {
		t.Errorf("resolved (-want +got):\n%s", diff)
	}

	d.Delete("./b")
	if d.Has("./b") || !d.Has("fs") {
		t.Errorf("unexpected deps after delete %v", d)
	}
}

func TestModuleJSON(t *testing.T) {
	t.Parallel()

	m := &Module{ID: "/a.js", Source: []byte("x"), Entry: true}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got, want := string(data), `{"id":"/a.js","source":"x","deps":{},"entry":true}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestNDJSON(t *testing.T) {
	t.Parallel()

	idx := NewIndex(
		&Module{ID: "/b.js", Source: []byte("b"), Deps: Deps{}},
		&Module{ID: "/a.js", Source: []byte("require('./b')"), Deps: Deps{{Spec: "./b", ID: "/b.js"}}, Entry: true},
	)
	var buf bytes.Buffer
	if err := WriteNDJSON(&buf, idx); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if lines := bytes.Count(buf.Bytes(), []byte("\n")); lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
	back, err := ReadNDJSON(&buf)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if diff := cmp.Diff(idx, back); diff != "" {
		t.Errorf("index (-want +got):\n%s", diff)
	}
}

func TestModuleClone(t *testing.T) {
	t.Parallel()

	m := &Module{
		ID:     "/a.js",
		Source: []byte("a"),
		Deps:   Deps{{Spec: "./b", ID: "/b.js"}},
		Meta:   map[string]any{"tags": []any{"x"}},
	}
	c := m.Clone()
	c.Source[0] = 'z'
	c.Deps.Set("./b", "/other.js")
	c.Meta["tags"] = append(c.Meta["tags"].([]any), "y")
	if string(m.Source) != "a" || m.Deps[0].ID != "/b.js" || len(m.Meta["tags"].([]any)) != 1 {
		t.Errorf("clone shares state with the original: %+v", m)
	}
}

func graph() Index {
	return NewIndex(
		&Module{ID: "a", Entry: true, Deps: Deps{{Spec: "./b", ID: "b"}, {Spec: "./c", ID: "c"}, {Spec: "fs"}}},
		&Module{ID: "b", Deps: Deps{{Spec: "./d", ID: "d"}, {Spec: "./a", ID: "a"}}},
		&Module{ID: "c", Deps: Deps{{Spec: "./d", ID: "d"}, {Spec: "./gone", ID: "gone"}}},
		&Module{ID: "d"},
		&Module{ID: "e", Entry: true, Deps: Deps{{Spec: "./c", ID: "c"}}},
	)
}

func TestTraverse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from string
		want []string
	}{
		{name: "cycle", from: "a", want: []string{"a", "b", "d", "c"}},
		{name: "leaf", from: "d", want: []string{"d"}},
		{name: "other entry", from: "e", want: []string{"e", "c", "d"}},
		{name: "missing", from: "x", want: nil},
	}
	idx := graph()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, idx.Order(tt.from)); diff != "" {
				t.Errorf("order (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTraverseParents(t *testing.T) {
	t.Parallel()

	parents := map[string]string{}
	graph().Traverse("a", func(m *Module, spec string, parent *Module) {
		if parent != nil {
			parents[m.ID] = parent.ID + " " + spec
		}
	})
	want := map[string]string{"b": "a ./b", "c": "a ./c", "d": "b ./d"}
	if diff := cmp.Diff(want, parents); diff != "" {
		t.Errorf("parents (-want +got):\n%s", diff)
	}
}

func TestSubgraphExcept(t *testing.T) {
	t.Parallel()

	idx := graph()
	if diff := cmp.Diff([]string{"a", "e"}, idx.Entries()); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
	rest := idx.Subgraph("a").Except(idx.Subgraph("e"))
	if diff := cmp.Diff([]string{"a", "b"}, rest.IDs()); diff != "" {
		t.Errorf("except (-want +got):\n%s", diff)
	}
	if rest["a"] != idx["a"] {
		t.Errorf("modules should be shared")
	}
}
