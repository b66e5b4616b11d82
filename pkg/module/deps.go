package module

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Dep maps a specifier as written in the source to a resolved module id. An
// empty ID marks the specifier as external: intentionally left unresolved.
type Dep struct {
	Spec string
	ID   string
}

// External reports whether the dependency was left unresolved.
func (d Dep) External() bool { return d.ID == "" }

// Deps is an ordered mapping of specifiers to module ids. Order is the order
// in which specifiers were first added.
type Deps []Dep

// Get returns the id a specifier resolved to.
func (d Deps) Get(spec string) (id string, ok bool) {
	for _, dep := range d {
		if dep.Spec == spec {
			return dep.ID, true
		}
	}
	return "", false
}

// Has reports whether the specifier is present.
func (d Deps) Has(spec string) bool {
	_, ok := d.Get(spec)
	return ok
}

// Set overwrites the id of an existing specifier or appends a new one.
func (d *Deps) Set(spec, id string) {
	for i := range *d {
		if (*d)[i].Spec == spec {
			(*d)[i].ID = id
			return
		}
	}
	*d = append(*d, Dep{Spec: spec, ID: id})
}

// Delete removes a specifier.
func (d *Deps) Delete(spec string) {
	out := (*d)[:0]
	for _, dep := range *d {
		if dep.Spec != spec {
			out = append(out, dep)
		}
	}
	*d = out
}

// Merge sets every specifier of other on d. Ids are scalars, so the value
// from other wins.
func (d *Deps) Merge(other Deps) {
	for _, dep := range other {
		d.Set(dep.Spec, dep.ID)
	}
}

// Resolved returns the ids of the non-external dependencies in order.
func (d Deps) Resolved() []string {
	var ids []string
	for _, dep := range d {
		if !dep.External() {
			ids = append(ids, dep.ID)
		}
	}
	return ids
}

// Clone copies the mapping.
func (d Deps) Clone() Deps {
	if d == nil {
		return nil
	}
	return append(Deps(nil), d...)
}

// MarshalJSON encodes the mapping as an object preserving order, with false
// in place of external ids.
func (d Deps) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, dep := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(dep.Spec)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if dep.External() {
			buf.WriteString("false")
			continue
		}
		v, err := json.Marshal(dep.ID)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object of specifier to id or false, keeping the
// order of keys.
func (d *Deps) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*d = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("deps: expected object, got %v", tok)
	}
	out := Deps{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		spec, ok := tok.(string)
		if !ok {
			return fmt.Errorf("deps: expected key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		switch v := v.(type) {
		case string:
			out.Set(spec, v)
		case bool:
			if v {
				return fmt.Errorf("deps: %q: true is not a module id", spec)
			}
			out.Set(spec, "")
		case nil:
			out.Set(spec, "")
		default:
			return fmt.Errorf("deps: %q: unexpected value %v", spec, v)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = out
	return nil
}
