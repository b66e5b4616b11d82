package graph

import (
	"context"
	"errors"

	"github.com/coldog/roller/pkg/module"
	"github.com/coldog/roller/pkg/resolve"
)

// Resolve memoizes resolutions per requester and specifier for the duration
// of the walk. Concurrent lookups of the same pair share one call to the
// underlying resolver.
func (w *walk) Resolve(ctx context.Context, spec string, from *module.Module) (resolve.Resolved, error) {
	key := from.ID + "\x00" + spec
	w.mu.Lock()
	res, ok := w.resolved[key]
	w.mu.Unlock()
	if ok {
		return res, nil
	}

	v, err, _ := w.flight.Do(key, func() (any, error) {
		res, err := w.g.Resolver.Resolve(ctx, spec, from)
		if err != nil {
			var rerr *resolve.Error
			if !errors.As(err, &rerr) {
				err = &resolve.Error{Spec: spec, From: from.ID, Err: err}
			}
			return resolve.Resolved{}, err
		}
		w.mu.Lock()
		w.resolved[key] = res
		if res.ID != "" && res.Package != nil {
			w.pkgs[res.ID] = res.Package
		}
		w.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return resolve.Resolved{}, err
	}
	return v.(resolve.Resolved), nil
}
