// Package server serves the chunks of the last build over HTTP, for
// development with the watcher.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/coldog/roller/pkg/build"
	"github.com/coldog/roller/pkg/module"
	"github.com/coldog/roller/pkg/split"
)

// Server holds the result of the last build.
type Server struct {
	Builder  *build.Builder
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger

	mu      sync.RWMutex
	res     *build.Result
	err     error
	builtAt time.Time
}

// New returns a server for b. Metrics are served from g when not nil.
func New(b *build.Builder, g prometheus.Gatherer, logger zerolog.Logger) *Server {
	return &Server{Builder: b, Gatherer: g, Logger: logger}
}

// Rebuild runs a build. On failure the error is served instead of chunks
// until the next successful build.
func (s *Server) Rebuild(ctx context.Context) error {
	res, err := s.Builder.Build(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	if err == nil {
		s.res = res
		s.builtAt = time.Now()
	}
	return err
}

func (s *Server) last() (*build.Result, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.res, s.builtAt, s.err
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/", s.index)
	r.Get("/_graph", s.graph)
	r.Get("/{name}.js", s.chunk)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		s.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// result writes the build error, if any, and returns the last result.
func (s *Server) result(w http.ResponseWriter) (*build.Result, time.Time, bool) {
	res, at, err := s.last()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, at, false
	}
	if res == nil {
		http.Error(w, "no build yet", http.StatusServiceUnavailable)
		return nil, at, false
	}
	return res, at, true
}

type chunkInfo struct {
	Name    string   `json:"name"`
	Size    int      `json:"size"`
	Modules []string `json:"modules"`
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	res, _, ok := s.result(w)
	if !ok {
		return
	}
	chunks := make([]chunkInfo, len(res.Chunks))
	for i, c := range res.Chunks {
		chunks[i] = chunkInfo{Name: c.Name, Size: len(c.Data), Modules: c.Modules.IDs()}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Mode   string      `json:"mode"`
		Chunks []chunkInfo `json:"chunks"`
	}{res.Mode, chunks})
}

func (s *Server) graph(w http.ResponseWriter, r *http.Request) {
	res, _, ok := s.result(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	if err := module.WriteNDJSON(w, res.Graph); err != nil {
		s.Logger.Warn().Err(err).Msg("failed to write graph")
	}
}

func (s *Server) chunk(w http.ResponseWriter, r *http.Request) {
	res, at, ok := s.result(w)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	c, err := find(res.Chunks, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, build.ChunkFile(c.Name), at, bytes.NewReader(c.Data))
}

func find(chunks []split.Chunk, name string) (split.Chunk, error) {
	for _, c := range chunks {
		if c.Name == name {
			return c, nil
		}
	}
	return split.Chunk{}, fmt.Errorf("no chunk %q", name)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info().Str("addr", addr).Msg("serving")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
