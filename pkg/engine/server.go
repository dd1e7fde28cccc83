package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dacompute/distarray/pkg/distmap"
	"github.com/dacompute/distarray/pkg/dnpy"
	"github.com/dacompute/distarray/pkg/localarray"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds the engine server configuration.
type Config struct {
	Rank    int
	Addr    string
	DataDir string
	Logger  *slog.Logger
}

// Server is one engine worker: a shard registry behind an HTTP JSON API.
type Server struct {
	rank     int
	addr     string
	dataDir  string
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates an engine server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		rank:     cfg.Rank,
		addr:     cfg.Addr,
		dataDir:  cfg.DataDir,
		registry: NewRegistry(),
		metrics:  NewMetrics(),
		logger:   logger.With("rank", cfg.Rank),
	}
	return s
}

// Rank returns the engine's rank.
func (s *Server) Rank() int { return s.rank }

// Registry returns the engine's shard registry.
func (s *Server) Registry() *Registry { return s.registry }

// Handler builds the engine's HTTP handler, instrumented for tracing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("POST /v1/arrays", s.op("create", s.handleCreate))
	mux.HandleFunc("GET /v1/arrays", s.op("keys", s.handleKeys))
	mux.HandleFunc("DELETE /v1/arrays", s.op("delete_prefix", s.handleDeletePrefix))
	mux.HandleFunc("POST /v1/arrays/load", s.op("load", s.handleLoad))
	mux.HandleFunc("DELETE /v1/arrays/{key}", s.op("delete", s.handleDelete))
	mux.HandleFunc("POST /v1/arrays/{key}/fill", s.op("fill", s.handleFill))
	mux.HandleFunc("POST /v1/arrays/{key}/get", s.op("get", s.handleGet))
	mux.HandleFunc("POST /v1/arrays/{key}/set", s.op("set", s.handleSet))
	mux.HandleFunc("GET /v1/arrays/{key}/moments", s.op("moments", s.handleMoments))
	mux.HandleFunc("GET /v1/arrays/{key}/localpart", s.op("localpart", s.handleLocalPart))
	mux.HandleFunc("GET /v1/arrays/{key}/specs", s.op("specs", s.handleSpecs))
	mux.HandleFunc("POST /v1/arrays/{key}/save", s.op("save", s.handleSave))
	return otelhttp.NewHandler(mux, "engine")
}

// Start begins serving on the configured address.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("Engine listening", "addr", listener.Addr().String(), "data_dir", s.dataDir)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Engine server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Engine stopping")
	return s.httpServer.Shutdown(ctx)
}

// op wraps a handler with per-operation metrics.
func (s *Server) op(name string, fn func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		err := fn(w, r)
		status := "ok"
		if err != nil {
			status = "error"
			s.writeError(w, name, err)
		}
		s.metrics.RecordOp(name, status, time.Since(start).Seconds())
		s.metrics.SetArrays(s.registry.Len(), s.registry.Elements())
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusBadRequest
	code := "bad_request"
	switch {
	case errors.Is(err, ErrKeyNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrKeyExists):
		status, code = http.StatusConflict, "exists"
	case errors.Is(err, distmap.ErrNotLocal):
		status, code = http.StatusConflict, "not_local"
	case errors.Is(err, ErrUnknownGenerator):
		status, code = http.StatusBadRequest, "unknown_generator"
	}
	s.logger.Debug("Request failed", "op", op, "error", err, "status", status)
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Rank:   s.rank,
		Arrays: s.registry.Len(),
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) error {
	var req CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Key == "" {
		return fmt.Errorf("array key is required")
	}

	var la *localarray.LocalArray
	var err error
	if req.Data != nil {
		la, err = localarray.FromData(req.DimSpecs, req.Data)
		if err != nil {
			return err
		}
	} else {
		la, err = localarray.New(req.DimSpecs)
		if err != nil {
			return err
		}
		if req.Generator != "" && req.Generator != "zeros" {
			fn, err := LookupGenerator(req.Generator)
			if err != nil {
				return err
			}
			la.Apply(func(global []int) float64 { return fn(global, req.Params) })
		}
	}

	if err := s.registry.Put(req.Key, la); err != nil {
		return err
	}
	s.logger.Debug("Array created", "key", req.Key, "local_shape", la.LocalShape(), "generator", req.Generator)
	writeJSON(w, http.StatusCreated, SpecsResponse{DimSpecs: la.Specs()})
	return nil
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, KeysResponse{Keys: s.registry.Keys()})
	return nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) error {
	key := r.PathValue("key")
	if err := s.registry.Delete(key); err != nil {
		return err
	}
	s.logger.Debug("Array deleted", "key", key)
	writeJSON(w, http.StatusOK, DeletedResponse{Removed: 1})
	return nil
}

func (s *Server) handleDeletePrefix(w http.ResponseWriter, r *http.Request) error {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		return fmt.Errorf("prefix query parameter is required")
	}
	removed := s.registry.DeletePrefix(prefix)
	s.logger.Debug("Arrays deleted by prefix", "prefix", prefix, "removed", removed)
	writeJSON(w, http.StatusOK, DeletedResponse{Removed: removed})
	return nil
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) error {
	la, err := s.registry.Get(r.PathValue("key"))
	if err != nil {
		return err
	}
	var req FillRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	la.Fill(req.Value)
	writeJSON(w, http.StatusOK, struct{}{})
	return nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) error {
	la, err := s.registry.Get(r.PathValue("key"))
	if err != nil {
		return err
	}
	var req ElementRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	v, err := la.GetGlobal(req.Index)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, ElementResponse{Value: v})
	return nil
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) error {
	la, err := s.registry.Get(r.PathValue("key"))
	if err != nil {
		return err
	}
	var req ElementRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := la.SetGlobal(req.Index, req.Value); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, struct{}{})
	return nil
}

func (s *Server) handleMoments(w http.ResponseWriter, r *http.Request) error {
	la, err := s.registry.Get(r.PathValue("key"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, MomentsResponse{Moments: la.Moments()})
	return nil
}

func (s *Server) handleLocalPart(w http.ResponseWriter, r *http.Request) error {
	la, err := s.registry.Get(r.PathValue("key"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, LocalPartResponse{
		DimSpecs:   la.Specs(),
		LocalShape: la.LocalShape(),
		Data:       la.Data(),
	})
	return nil
}

func (s *Server) handleSpecs(w http.ResponseWriter, r *http.Request) error {
	la, err := s.registry.Get(r.PathValue("key"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, SpecsResponse{DimSpecs: la.Specs()})
	return nil
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) error {
	la, err := s.registry.Get(r.PathValue("key"))
	if err != nil {
		return err
	}
	var req SaveRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	path, err := s.shardPath(req.Prefix)
	if err != nil {
		return err
	}
	if err := dnpy.Save(path, la); err != nil {
		return err
	}
	s.logger.Info("Shard saved", "key", r.PathValue("key"), "path", path)
	writeJSON(w, http.StatusOK, struct{}{})
	return nil
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) error {
	var req LoadRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Key == "" {
		return fmt.Errorf("array key is required")
	}
	path, err := s.shardPath(req.Prefix)
	if err != nil {
		return err
	}
	la, err := dnpy.Load(path)
	if err != nil {
		return err
	}
	// Loading into an existing key replaces its shard, so an array can be
	// restored from a snapshot in place.
	s.registry.Replace(req.Key, la)
	s.logger.Info("Shard loaded", "key", req.Key, "path", path)
	writeJSON(w, http.StatusOK, SpecsResponse{DimSpecs: la.Specs()})
	return nil
}

// shardPath resolves a save/load prefix to this rank's shard file inside the
// data directory. Prefixes must not escape it.
func (s *Server) shardPath(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("file prefix is required")
	}
	if strings.Contains(prefix, "..") || filepath.IsAbs(prefix) {
		return "", fmt.Errorf("file prefix %q must be relative to the data directory", prefix)
	}
	return filepath.Join(s.dataDir, dnpy.Filename(prefix, s.rank)), nil
}
