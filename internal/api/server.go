// Package api serves the HTTP surface: generation submission, job
// lifecycle and event streaming, artifact downloads, timeline queries,
// and health. Handlers translate domain errors into the shared
// {"error": {code, message, details}} envelope.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/casgen-dev/casgen/internal/auth"
	"github.com/casgen-dev/casgen/internal/cache"
	"github.com/casgen-dev/casgen/internal/evac"
	"github.com/casgen-dev/casgen/internal/jobs"
	"github.com/casgen-dev/casgen/internal/otel"
	"github.com/casgen-dev/casgen/internal/output"
	"github.com/casgen-dev/casgen/internal/store"
)

// apiPrefix is the base path of every versioned endpoint.
const apiPrefix = "/api/v1"

// Server is the HTTP front end. The job manager, admission service and
// artifact store are required; everything else has a working default or
// degrades to absent.
type Server struct {
	manager *jobs.Manager
	auth    *auth.Service
	outputs *output.Store

	store   store.Store
	cache   cache.Cache
	evac    *evac.Manager
	metrics *otel.Metrics
	tracer  *otel.Tracer

	server        *http.Server
	listener      net.Listener
	mu            sync.Mutex
	running       bool
	addr          string
	limiter       *clientLimiter
	limiterConfig *RateLimiterConfig
}

// NewServer wires the HTTP surface over the job manager, the admission
// service, and the artifact store.
func NewServer(addr string, mgr *jobs.Manager, authSvc *auth.Service, outputs *output.Store) *Server {
	return &Server{
		manager:       mgr,
		auth:          authSvc,
		outputs:       outputs,
		cache:         cache.Noop{},
		addr:          addr,
		limiterConfig: DefaultRateLimiterConfig(),
	}
}

// SetStore wires the durable store the health endpoint pings.
func (s *Server) SetStore(st store.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = st
}

// SetCache wires the reference-data cache. Statistics responses for
// completed jobs are cached through it.
func (s *Server) SetCache(c cache.Cache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c != nil {
		s.cache = c
	}
}

// SetEvacuation wires the evacuation manager behind the configuration
// endpoint.
func (s *Server) SetEvacuation(ev *evac.Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evac = ev
}

// SetMetrics wires the OTel instruments for per-request counting.
func (s *Server) SetMetrics(mx *otel.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = mx
}

// SetTracer wires the tracer for per-request server spans.
func (s *Server) SetTracer(tr *otel.Tracer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracer = tr
}

// SetRateLimiterConfig configures the global per-client limiter. Must
// be called before Start to take effect.
func (s *Server) SetRateLimiterConfig(config *RateLimiterConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiterConfig = config
	s.limiter = nil
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}
	if s.limiter == nil {
		s.limiter = newClientLimiter(s.limiterConfig)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/generation", s.limited(http.HandlerFunc(s.routeGeneration)).ServeHTTP)
	mux.HandleFunc(apiPrefix+"/generation/", s.limited(http.HandlerFunc(s.routeGeneration)).ServeHTTP)
	mux.HandleFunc(apiPrefix+"/jobs", s.limited(s.authed(http.HandlerFunc(s.routeJobs))).ServeHTTP)
	mux.HandleFunc(apiPrefix+"/jobs/", s.limited(s.authed(http.HandlerFunc(s.routeJobs))).ServeHTTP)
	mux.HandleFunc(apiPrefix+"/downloads/", s.limited(s.authed(http.HandlerFunc(s.routeDownloads))).ServeHTTP)
	mux.HandleFunc(apiPrefix+"/timeline/", s.limited(s.authed(http.HandlerFunc(s.routeTimeline))).ServeHTTP)
	mux.HandleFunc(apiPrefix+"/health", s.handleHealth)

	handler := otel.Middleware(s.tracer, s.metrics, routeLabel)(mux)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.running = true

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Printf("server error: %v\n", err)
		}
	}()

	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the base URL of the server.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.Addr())
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// limited applies the global per-client limiter ahead of any auth work.
func (s *Server) limited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allowKey(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, ErrorBody{
				Code:    codeRateLimited,
				Message: "too many requests",
				Details: map[string]any{"retry_after_seconds": 1},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authed admits the request against the caller's key and stores the
// resolved record in the context. The submission handler runs its own
// admission so the patient count lands in the quota check.
func (s *Server) authed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := s.auth.Admit(r.Context(), auth.ExtractKey(r), 0)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithKey(r.Context(), key)))
	})
}

// clientKey picks the limiter bucket: the API key when present, the
// remote host otherwise.
func clientKey(r *http.Request) string {
	if key := auth.ExtractKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) routeGeneration(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, apiPrefix+"/generation"), "/")
	switch path {
	case "":
		s.handleSubmit(w, r)
	case "validate":
		s.handleValidate(w, r)
	default:
		s.writeEndpointNotFound(w, r)
	}
}

func (s *Server) routeJobs(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, apiPrefix+"/jobs"), "/")
	if path == "" {
		s.handleListJobs(w, r)
		return
	}

	parts := strings.Split(path, "/")
	jobID := parts[0]
	if len(parts) == 1 {
		s.handleGetJob(w, r, jobID)
		return
	}

	switch parts[1] {
	case "cancel":
		s.handleCancelJob(w, r, jobID)
	case "events":
		s.handleJobEvents(w, r, jobID)
	default:
		s.writeEndpointNotFound(w, r)
	}
}

func (s *Server) routeDownloads(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, apiPrefix+"/downloads"), "/")
	if path == "" {
		s.writeEndpointNotFound(w, r)
		return
	}

	parts := strings.SplitN(path, "/", 2)
	filename := r.URL.Query().Get("filename")
	if len(parts) == 2 && parts[1] != "" {
		filename = parts[1]
	}
	s.handleDownload(w, r, parts[0], filename)
}

func (s *Server) routeTimeline(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, apiPrefix+"/timeline"), "/")
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 2 && parts[0] == "configuration" && parts[1] == "evacuation-times":
		s.handleEvacuationTimes(w, r)
	case len(parts) == 4 && parts[0] == "jobs" && parts[2] == "patients":
		s.handlePatientTimeline(w, r, parts[1], parts[3])
	case len(parts) == 3 && parts[0] == "jobs" && parts[2] == "statistics":
		s.handleJobStatistics(w, r, parts[1])
	default:
		s.writeEndpointNotFound(w, r)
	}
}

// routeLabel collapses ids out of a path so metric cardinality stays
// bounded.
func routeLabel(path string) string {
	rest, ok := strings.CutPrefix(path, apiPrefix+"/")
	if !ok {
		return path
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch parts[0] {
	case "generation":
		if len(parts) > 1 && parts[1] == "validate" {
			return apiPrefix + "/generation/validate"
		}
		if len(parts) > 1 {
			return apiPrefix + "/generation/{id}"
		}
		return apiPrefix + "/generation"
	case "jobs":
		if len(parts) >= 3 {
			switch parts[2] {
			case "cancel", "events":
				return apiPrefix + "/jobs/{id}/" + parts[2]
			}
			return apiPrefix + "/jobs/{id}/{action}"
		}
		if len(parts) == 2 {
			return apiPrefix + "/jobs/{id}"
		}
		return apiPrefix + "/jobs"
	case "downloads":
		if len(parts) >= 3 {
			return apiPrefix + "/downloads/{id}/{filename}"
		}
		return apiPrefix + "/downloads/{id}"
	case "timeline":
		if len(parts) >= 2 && parts[1] == "configuration" {
			return apiPrefix + "/timeline/configuration/evacuation-times"
		}
		if len(parts) >= 5 && parts[3] == "patients" {
			return apiPrefix + "/timeline/jobs/{id}/patients/{pid}"
		}
		if len(parts) >= 4 && parts[3] == "statistics" {
			return apiPrefix + "/timeline/jobs/{id}/statistics"
		}
		return apiPrefix + "/timeline"
	}
	return path
}

// StartTestServer binds a server to an ephemeral port and returns it
// with a cleanup function.
func StartTestServer(mgr *jobs.Manager, authSvc *auth.Service, outputs *output.Store) (*Server, func(), error) {
	server := NewServer("127.0.0.1:0", mgr, authSvc, outputs)
	if err := server.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start test server: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
	return server, cleanup, nil
}
