package linker

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/coldog/roller/pkg/module"
)

const (
	header = "require = ("
	footer = ");\n"
)

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func write(out io.Writer, prelude string, mods []*module.Module) (int64, error) {
	cw := &countingWriter{w: out}
	w := bufio.NewWriter(cw)

	w.WriteString(header)
	w.WriteString(prelude)
	w.WriteString(")({\n")
	if err := writeModules(w, mods); err != nil {
		return cw.n, err
	}
	w.WriteString("},{},")
	if err := writeEntries(w, mods); err != nil {
		return cw.n, err
	}
	w.WriteString(footer)
	err := w.Flush()
	return cw.n, err
}

func writeModules(w *bufio.Writer, mods []*module.Module) error {
	for i, m := range mods {
		if i > 0 {
			w.WriteString(",\n")
		}
		id, err := json.Marshal(m.ID)
		if err != nil {
			return err
		}
		w.Write(id)
		w.WriteString(":[function(require,module,exports,require_async){\n")
		w.Write(m.Source)
		w.WriteString("\n},")
		if err := writeDeps(w, m.Deps); err != nil {
			return err
		}
		w.WriteString("]")
	}
	w.WriteString("\n")
	return nil
}

// writeDeps writes the dependency table of a module. External deps are left
// out so that requiring them falls through to the global require.
func writeDeps(w *bufio.Writer, deps module.Deps) error {
	w.WriteString("{")
	first := true
	for _, dep := range deps {
		if dep.External() {
			continue
		}
		if !first {
			w.WriteString(",")
		}
		first = false
		spec, err := json.Marshal(dep.Spec)
		if err != nil {
			return err
		}
		id, err := json.Marshal(dep.ID)
		if err != nil {
			return err
		}
		w.Write(spec)
		w.WriteString(":")
		w.Write(id)
	}
	w.WriteString("}")
	return nil
}

func writeEntries(w *bufio.Writer, mods []*module.Module) error {
	var entries []string
	for _, m := range mods {
		if m.Entry {
			entries = append(entries, m.ID)
		}
	}
	if entries == nil {
		entries = []string{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
