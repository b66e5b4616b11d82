package build

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/coldog/roller/pkg/module"
)

const (
	stateFile = "state.json"
	graphFile = "graph.ndjson"
)

// state records the content hash of every module source of the last build,
// together with a fingerprint of the settings the graph was built with.
type state struct {
	Fingerprint string            `json:"fingerprint"`
	Files       map[string]string `json:"files"`
}

func hash(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// loadCache returns the modules of the last build whose sources did not
// change since. Any problem reading the cache yields an empty cache.
func (b *Builder) loadCache(fingerprint string) module.Index {
	dir := b.cacheDir()
	if dir == "" {
		return nil
	}
	log := b.Logger.With().Str("dir", dir).Logger()

	data, err := afero.ReadFile(b.fs(), filepath.Join(dir, stateFile))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to read build state")
		}
		return nil
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		log.Warn().Err(err).Msg("failed to decode build state")
		return nil
	}
	if st.Fingerprint != fingerprint {
		log.Debug().Msg("settings changed, dropping build cache")
		return nil
	}

	f, err := b.fs().Open(filepath.Join(dir, graphFile))
	if err != nil {
		log.Warn().Err(err).Msg("failed to open cached graph")
		return nil
	}
	defer f.Close()
	idx, err := module.ReadNDJSON(f)
	if err != nil {
		log.Warn().Err(err).Msg("failed to decode cached graph")
		return nil
	}

	for id := range idx {
		h, err := hash(b.fs(), id)
		if err != nil || h != st.Files[id] {
			delete(idx, id)
		}
	}
	log.Debug().Int("modules", len(idx)).Msg("build cache loaded")
	return idx
}

// saveCache stores idx as the cache of the next build.
func (b *Builder) saveCache(fingerprint string, idx module.Index) error {
	dir := b.cacheDir()
	if dir == "" {
		return nil
	}
	st := state{Fingerprint: fingerprint, Files: map[string]string{}}
	for id := range idx {
		h, err := hash(b.fs(), id)
		if err != nil {
			// stream entries have no file
			continue
		}
		st.Files[id] = h
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}

	fs := b.fs()
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := fs.Create(filepath.Join(dir, graphFile))
	if err != nil {
		return err
	}
	if err := module.WriteNDJSON(f, idx); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return afero.WriteFile(fs, filepath.Join(dir, stateFile), data, 0o644)
}
