package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coldog/roller/pkg/module"
)

// Names of the built-in transforms.
const (
	DepsName      = "deps"
	AsyncDepsName = "async-deps"
	CSSName       = "css-imports"
	NormalizeName = "normalize"
	StripBOMName  = "strip-bom"
)

// Builtins returns a registry holding every built-in transform.
func Builtins() Registry {
	return Registry{
		DepsName:      Deps(),
		AsyncDepsName: AsyncDeps(),
		CSSName:       CSSImports(),
		NormalizeName: Normalize(),
		StripBOMName:  StripBOM(),
	}
}

func isData(m *module.Module) bool {
	switch m.Ext() {
	case ".json", ".yaml", ".yml", ".css":
		return true
	}
	return false
}

// Deps extracts require() calls and resolves them.
func Deps() Transform {
	return Module(DepsName, func(ctx context.Context, m *module.Module, pc *Context) (*Patch, error) {
		if isData(m) || pc.Skip(m) {
			return nil, nil
		}
		specs, err := Scan(bytes.NewReader(m.Source), "require")
		if err != nil {
			return nil, err
		}
		deps, err := pc.ResolveDeps(ctx, specs, m)
		if err != nil {
			return nil, err
		}
		return &Patch{Deps: deps}, nil
	})
}

// AsyncDeps extracts require_async() calls. The resolved specifiers are
// added to both the deps and the async deps of the module.
func AsyncDeps() Transform {
	return Module(AsyncDepsName, func(ctx context.Context, m *module.Module, pc *Context) (*Patch, error) {
		if isData(m) || pc.Skip(m) {
			return nil, nil
		}
		specs, err := Scan(bytes.NewReader(m.Source), "require_async")
		if err != nil {
			return nil, err
		}
		if len(specs) == 0 {
			return nil, nil
		}
		deps, err := pc.ResolveDeps(ctx, specs, m)
		if err != nil {
			return nil, err
		}
		return &Patch{Deps: deps, AsyncDeps: deps.Clone()}, nil
	})
}

var cssImport = regexp.MustCompile(`@import\s+([^;]+);`)

// CSSImports extracts @import rules of stylesheets. url() imports are left
// to the browser.
func CSSImports() Transform {
	return Module(CSSName, func(ctx context.Context, m *module.Module, pc *Context) (*Patch, error) {
		if m.Ext() != ".css" {
			return nil, nil
		}
		var specs []string
		seen := map[string]bool{}
		for _, match := range cssImport.FindAllSubmatch(m.Source, -1) {
			arg := strings.TrimSpace(string(match[1]))
			if strings.HasPrefix(arg, "url(") {
				continue
			}
			spec := unquote(strings.Fields(arg)[0])
			if spec != "" && !seen[spec] {
				seen[spec] = true
				specs = append(specs, spec)
			}
		}
		if len(specs) == 0 {
			return nil, nil
		}
		deps, err := pc.ResolveDeps(ctx, specs, m)
		if err != nil {
			return nil, err
		}
		return &Patch{Deps: deps}, nil
	})
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Normalize turns structured data and stylesheets into loadable modules.
func Normalize() Transform {
	return Module(NormalizeName, func(ctx context.Context, m *module.Module, pc *Context) (*Patch, error) {
		switch m.Ext() {
		case ".json":
			if !json.Valid(m.Source) {
				return nil, fmt.Errorf("invalid JSON")
			}
			return &Patch{Source: exportsOf(bytes.TrimSpace(m.Source))}, nil
		case ".yaml", ".yml":
			var v any
			if err := yaml.Unmarshal(m.Source, &v); err != nil {
				return nil, err
			}
			data, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			return &Patch{Source: exportsOf(data)}, nil
		case ".css":
			return &Patch{Source: styleModule(m)}, nil
		}
		return nil, nil
	})
}

func exportsOf(data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("module.exports = ")
	buf.Write(data)
	buf.WriteString(";\n")
	return buf.Bytes()
}

func styleModule(m *module.Module) []byte {
	css, _ := json.Marshal(string(m.Source))
	var buf bytes.Buffer
	for _, dep := range m.Deps {
		if !dep.External() {
			spec, _ := json.Marshal(dep.Spec)
			fmt.Fprintf(&buf, "require(%s);\n", spec)
		}
	}
	fmt.Fprintf(&buf, "var css = %s;\n", css)
	buf.WriteString(`if (typeof document !== "undefined") {
  var style = document.createElement("style");
  style.appendChild(document.createTextNode(css));
  document.head.appendChild(style);
}
module.exports = css;
`)
	return buf.Bytes()
}

var bom = []byte("\xef\xbb\xbf")

// StripBOM removes a leading UTF-8 byte order mark.
func StripBOM() Transform {
	return Source(StripBOMName, func(ctx context.Context, src io.Reader, id string) ([]byte, error) {
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, err
		}
		return bytes.TrimPrefix(data, bom), nil
	})
}
