package linker

import (
	"bytes"
	"encoding/json"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/coldog/roller/pkg/module"
)

// Node globals a module may use without requiring anything. The match is
// lexical: member accesses such as foo.process are skipped.
var globalRef = regexp.MustCompile(`(?:^|[^.\w$])(process|global|Buffer|__filename|__dirname)\b`)

var globalOrder = []string{"process", "global", "Buffer", "__filename", "__dirname"}

const (
	processShim = `typeof process !== "undefined" ? process : {env: {}, argv: [], browser: true, nextTick: function (fn) { setTimeout(fn, 0) }, cwd: function () { return "/" }}`
	globalShim  = `typeof global !== "undefined" ? global : typeof self !== "undefined" ? self : Function("return this")()`
	bufferShim  = `typeof Buffer !== "undefined" ? Buffer : void 0`
)

// insertGlobals wraps the source of m in a function binding the node globals
// it uses. File names are relative to base when set.
func insertGlobals(m *module.Module, base string) {
	used := map[string]bool{}
	for _, match := range globalRef.FindAllSubmatch(m.Source, -1) {
		used[string(match[1])] = true
	}
	if len(used) == 0 {
		return
	}

	filename := filepath.ToSlash(m.ID)
	if base != "" {
		if rel, err := filepath.Rel(base, m.ID); err == nil && !strings.HasPrefix(rel, "..") {
			filename = "/" + filepath.ToSlash(rel)
		}
	}
	var names, args []string
	for _, name := range globalOrder {
		if !used[name] {
			continue
		}
		names = append(names, name)
		switch name {
		case "process":
			args = append(args, processShim)
		case "global":
			args = append(args, globalShim)
		case "Buffer":
			args = append(args, bufferShim)
		case "__filename":
			args = append(args, quote(filename))
		case "__dirname":
			args = append(args, quote(path.Dir(filename)))
		}
	}

	var buf bytes.Buffer
	buf.WriteString("(function (" + strings.Join(names, ", ") + ") {\n")
	buf.Write(m.Source)
	buf.WriteString("\n}).call(this, " + strings.Join(args, ", ") + ");")
	m.Source = buf.Bytes()
}

func quote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
