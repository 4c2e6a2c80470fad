package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/canopy/pkg/async"
	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/codegen/orchestrator"
	"github.com/platinummonkey/canopy/pkg/groups"
	"github.com/platinummonkey/canopy/pkg/httputil"
	"github.com/platinummonkey/canopy/pkg/observability"
)

// GroupsPath serves the current group map
const GroupsPath = "/.canopy/groups.json"

// Compiler compiles one module for one variant
type Compiler interface {
	Compile(ctx context.Context, req *orchestrator.CompileRequest) (*orchestrator.CompileOutcome, error)
}

// Options configures a Server
type Options struct {
	// ProjectRoot holds the original modules and is served as static files
	ProjectRoot string
	// OutDir holds compiled artifacts, one directory per variant
	OutDir string
	// OutDirPrefix is the URL prefix of compiled modules, e.g. "/.canopy/out/"
	OutDirPrefix string

	Groups   *async.Lazy[groups.GroupMap]
	Compiler Compiler

	Logger   *observability.Logger
	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
}

// Server represents our API server
type Server struct {
	opts    Options
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) (*Server, error) {
	if opts.Compiler == nil {
		return nil, fmt.Errorf("%w: compiler is required", codegen.ErrInvalidArgument)
	}
	if opts.Groups == nil {
		return nil, fmt.Errorf("%w: group map is required", codegen.ErrInvalidArgument)
	}
	if opts.ProjectRoot == "" || opts.OutDir == "" {
		return nil, fmt.Errorf("%w: project root and output directory are required", codegen.ErrInvalidArgument)
	}
	prefix := "/" + strings.Trim(opts.OutDirPrefix, "/") + "/"
	if prefix == "//" {
		return nil, fmt.Errorf("%w: output directory prefix is required", codegen.ErrInvalidArgument)
	}
	opts.OutDirPrefix = prefix
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.Health == nil {
		opts.Health = observability.NewHealthChecker("")
	}

	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		logger: opts.Logger,
	}
	s.setupRoutes()

	s.handler = otelhttp.NewHandler(
		httputil.Chain(
			httputil.RequestIDMiddleware(s.logger),
			httputil.LoggingMiddleware(s.logger),
			httputil.RecoveryMiddleware(s.logger),
		)(s.router),
		"canopy",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + routeName(r, prefix)
		}),
	)
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.opts.Metrics))
	}

	s.router.HandleFunc(GroupsPath, s.getGroups).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/healthz", s.opts.Health.Liveness).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.opts.Health.Readiness).Methods(http.MethodGet)
	if s.opts.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.opts.Registry)).Methods(http.MethodGet)
	}

	s.router.PathPrefix(s.opts.OutDirPrefix).HandlerFunc(s.compileModule).Methods(http.MethodGet, http.MethodHead)

	// everything else is a plain file of the project
	s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.ProjectRoot))).Methods(http.MethodGet, http.MethodHead)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// getGroups handles GET /.canopy/groups.json
func (s *Server) getGroups(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context(), s.logger)
	gm, err := s.opts.Groups.Get(r.Context())
	if err != nil {
		logger.WithError(err).Error("Failed to compute group map")
		httputil.WriteCompileError(w, err)
		return
	}
	if err := httputil.WriteJSON(w, http.StatusOK, gm); err != nil {
		logger.WithError(err).Warn("Failed to write group map")
	}
}

// routeName keeps span names low cardinality
func routeName(r *http.Request, prefix string) string {
	switch p := r.URL.Path; {
	case strings.HasPrefix(p, prefix):
		return prefix
	case p == GroupsPath, p == "/healthz", p == "/readyz", p == "/metrics":
		return p
	default:
		return "static"
	}
}
