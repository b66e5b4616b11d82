package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/coldog/roller/pkg/module"
)

// Registry maps transform names to transforms.
type Registry map[string]Transform

// Loader locates named transforms. Registered transforms win; any other name
// is looked up as an executable relative to the directory of the module
// being transformed, then relative to the working directory. Executables are
// run as source transforms: the source is written to stdin and stdout
// becomes the new source.
type Loader struct {
	Registry Registry
	// WorkDir is the fallback search location, the process working
	// directory when empty.
	WorkDir string

	mu    sync.Mutex
	cache map[string]Transform
}

// Load resolves tx if it is a named transform.
func (l *Loader) Load(tx Transform, m *module.Module) (Transform, error) {
	if tx.Kind != KindNamed {
		return tx, nil
	}
	if t, ok := l.Registry[tx.Name]; ok {
		return t, nil
	}

	dir := m.Dir()
	key := dir + "\x00" + tx.Name
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.cache[key]; ok {
		return t, nil
	}

	path, ok := l.locate(tx.Name, dir)
	if !ok {
		return Transform{}, &LoadError{Name: tx.Name, ID: m.ID}
	}
	t := Command(tx.Name, path)
	if l.cache == nil {
		l.cache = map[string]Transform{}
	}
	l.cache[key] = t
	return t, nil
}

func (l *Loader) locate(name, dir string) (string, bool) {
	if filepath.IsAbs(name) {
		return name, isExecutable(name)
	}
	wd := l.WorkDir
	if wd == "" {
		wd, _ = os.Getwd()
	}
	for _, base := range []string{dir, wd} {
		for _, candidate := range []string{
			filepath.Join(base, name),
			filepath.Join(base, "node_modules", ".bin", name),
		} {
			if isExecutable(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

func isExecutable(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir() && st.Mode()&0o111 != 0
}

// Command returns a source transform piping the source through the
// executable at path. The module id is passed in ROLLER_MODULE.
func Command(name, path string) Transform {
	return Source(name, func(ctx context.Context, src io.Reader, id string) ([]byte, error) {
		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, path)
		cmd.Stdin = src
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		cmd.Env = append(os.Environ(), "ROLLER_MODULE="+id)
		if id != module.RootID {
			cmd.Dir = filepath.Dir(id)
		}
		if err := cmd.Run(); err != nil {
			if stderr.Len() > 0 {
				return nil, fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
			}
			return nil, err
		}
		return stdout.Bytes(), nil
	})
}
