package module

import (
	"encoding/json"
	"io"
)

type wireModule struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Deps      Deps   `json:"deps"`
	Entry     bool   `json:"entry,omitempty"`
	AsyncDeps Deps   `json:"asyncDeps,omitempty"`
}

// MarshalJSON encodes the record in the module-deps wire format.
func (m *Module) MarshalJSON() ([]byte, error) {
	deps := m.Deps
	if deps == nil {
		deps = Deps{}
	}
	return json.Marshal(wireModule{
		ID:        m.ID,
		Source:    string(m.Source),
		Deps:      deps,
		Entry:     m.Entry,
		AsyncDeps: m.AsyncDeps,
	})
}

// UnmarshalJSON decodes the module-deps wire format.
func (m *Module) UnmarshalJSON(data []byte) error {
	var w wireModule
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Module{
		ID:        w.ID,
		Source:    []byte(w.Source),
		Deps:      w.Deps,
		Entry:     w.Entry,
		AsyncDeps: w.AsyncDeps,
	}
	return nil
}

// WriteNDJSON writes one JSON record per line in index order.
func WriteNDJSON(w io.Writer, idx Index) error {
	enc := json.NewEncoder(w)
	for _, id := range idx.IDs() {
		if err := enc.Encode(idx[id]); err != nil {
			return err
		}
	}
	return nil
}

// ReadNDJSON reads records written by WriteNDJSON.
func ReadNDJSON(r io.Reader) (Index, error) {
	idx := Index{}
	dec := json.NewDecoder(r)
	for dec.More() {
		m := &Module{}
		if err := dec.Decode(m); err != nil {
			return nil, err
		}
		idx.Add(m)
	}
	return idx, nil
}
