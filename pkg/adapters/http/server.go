// Package http exposes a keel process over HTTP: operation submission, tree reads, the fleet's
// degraded-participant registry, metrics and, on subordinates, the controller channel.
package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aretw0/keel/internal/logging"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/persistence/middleware"
	"github.com/aretw0/keel/pkg/tree"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed openapi.yaml
var rawSpec []byte

// Kernel is the process behind the API.
type Kernel interface {
	Name() string
	Submit(ctx context.Context, op domain.Operation) (domain.Response, error)
	Tree() *tree.Tree
}

// Fleet is implemented by kernels that coordinate participants.
type Fleet interface {
	Participants() []string
	Inconsistent() []string
	Reconciled(name string) bool
}

// Server serves the management API.
type Server struct {
	kernel   Kernel
	logger   *slog.Logger
	redactor *middleware.Redactor
	gatherer prometheus.Gatherer
	channel  http.Handler

	doc    *openapi3.T
	schema *openapi3.Schema
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRedaction masks attributes matching patterns in tree reads.
func WithRedaction(patterns []string) Option {
	return func(s *Server) {
		s.redactor = middleware.NewRedactor(patterns)
	}
}

// WithMetrics serves g at /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithChannel serves h at /channel, where a controller connects to this subordinate.
func WithChannel(h http.Handler) Option {
	return func(s *Server) {
		s.channel = h
	}
}

// NewServer loads and validates the embedded OpenAPI document and builds the server.
func NewServer(kernel Kernel, opts ...Option) (*Server, error) {
	s := &Server{
		kernel:   kernel,
		logger:   logging.NewNop(),
		redactor: middleware.NewRedactor(middleware.DefaultSensitivePatterns),
	}
	for _, opt := range opts {
		opt(s)
	}

	doc, err := openapi3.NewLoader().LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	ref := doc.Components.Schemas["Operation"]
	if ref == nil || ref.Value == nil {
		return nil, errors.New("openapi document has no Operation schema")
	}
	s.doc, s.schema = doc, ref.Value
	return s, nil
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.health)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(rawSpec)
	})
	r.Post("/operations", s.submit)
	r.Get("/tree", s.readTree)

	if f, ok := s.kernel.(Fleet); ok {
		r.Get("/fleet", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string][]string{
				"participants": f.Participants(),
				"inconsistent": f.Inconsistent(),
			})
		})
		r.Post("/fleet/{participant}/reconciled", func(w http.ResponseWriter, r *http.Request) {
			if !f.Reconciled(chi.URLParam(r, "participant")) {
				http.Error(w, "participant not marked inconsistent", http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.channel != nil {
		r.Handle("/channel", s.channel)
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "process": s.kernel.Name()})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var raw any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.schema.VisitJSON(raw); err != nil {
		http.Error(w, fmt.Sprintf("invalid operation: %v", err), http.StatusBadRequest)
		return
	}

	// The body already matched the schema; re-encode it into the typed form.
	buf, _ := json.Marshal(raw)
	var op domain.Operation
	if err := json.Unmarshal(buf, &op); err != nil {
		http.Error(w, fmt.Sprintf("invalid operation: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := s.kernel.Submit(r.Context(), op)
	if err != nil {
		s.logger.WarnContext(r.Context(), "operation not admitted", "operation", op.Name, "address", op.Address.String(), "err", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.redactor.Response(op, resp))
}

func (s *Server) readTree(w http.ResponseWriter, r *http.Request) {
	addr := domain.RootAddress
	if q := r.URL.Query().Get("address"); q != "" {
		parsed, err := domain.ParseAddress(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		addr = parsed
	}
	recursive := true
	if q := r.URL.Query().Get("recursive"); q != "" {
		b, err := strconv.ParseBool(q)
		if err != nil {
			http.Error(w, "recursive must be a boolean", http.StatusBadRequest)
			return
		}
		recursive = b
	}

	res, err := s.kernel.Tree().Read(addr, recursive)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.redactor.Resource(res))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
