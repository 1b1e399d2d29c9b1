package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hapied/internal/catalog"
	"hapied/internal/hardware"
	"hapied/internal/infer"
	"hapied/internal/policy"
	"hapied/internal/pull"
	"hapied/internal/registry"
	"hapied/pkg/types"
)

// Server bundles the daemon subsystems behind the HTTP surface.
type Server struct {
	reg       *registry.Registry
	pipe      *pull.Pipeline
	engine    *policy.Engine
	prober    hardware.Prober
	local     infer.Engine
	providers *infer.Providers
	keys      *infer.Keystore
	start     time.Time
}

// ServerOption configures optional Server collaborators.
type ServerOption func(*Server)

// WithPolicyEngine overrides the default policy engine.
func WithPolicyEngine(e *policy.Engine) ServerOption {
	return func(s *Server) { s.engine = e }
}

// WithProber overrides hardware probing, mainly for tests.
func WithProber(p hardware.Prober) ServerOption {
	return func(s *Server) { s.prober = p }
}

// WithLocalEngine sets the engine used for chat against local weight models.
func WithLocalEngine(e infer.Engine) ServerOption {
	return func(s *Server) { s.local = e }
}

// WithProviders overrides the cloud provider resolver.
func WithProviders(p *infer.Providers) ServerOption {
	return func(s *Server) { s.providers = p }
}

// WithKeystore enables the /keys endpoints and cloud chat.
func WithKeystore(k *infer.Keystore) ServerOption {
	return func(s *Server) { s.keys = k }
}

// NewServer wires the registry and pull pipeline into an HTTP server value.
func NewServer(reg *registry.Registry, pipe *pull.Pipeline, opts ...ServerOption) *Server {
	s := &Server{
		reg:       reg,
		pipe:      pipe,
		engine:    policy.New(0),
		prober:    hardware.NewHostProber(),
		providers: infer.NewProviders(),
		start:     time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMux builds the chi router for a Server.
func NewMux(s *Server) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(MetricsMiddleware)

	r.Route("/models", func(r chi.Router) {
		r.Get("/", s.handleListModels)
		r.Post("/", s.handleRegisterModel)
		r.Get("/{id}", s.handleGetModel)
		r.Post("/{id}/activate", s.handleActivateModel)
		r.Post("/{id}/deactivate", s.handleDeactivateModel)
		r.Delete("/{id}", s.handleDeleteModel)
		r.Post("/{id}/pull", s.handlePullModel)
		r.Post("/{id}/cancel", s.handleCancelPull)
	})

	r.Post("/chat", s.handleChat)
	r.Get("/recommend", s.handleRecommend)
	r.Get("/policy", s.handlePolicy)
	r.Get("/system", s.handleSystem)
	r.Get("/status", s.handleStatus)

	r.Route("/keys", func(r chi.Router) {
		r.Get("/", s.handleListKeys)
		r.Put("/{provider}", s.handleStoreKey)
		r.Delete("/{provider}", s.handleDeleteKey)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}

// decodeJSON enforces the content type and body size cap shared by all
// JSON endpoints.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: s.reg.List()})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.reg.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Profile.ID) == "" {
		writeJSONError(w, http.StatusBadRequest, "profile.id is required")
		return
	}
	if req.Profile.Kind != types.KindLocalWeight && req.Profile.Kind != types.KindCloudAPI {
		writeJSONError(w, http.StatusBadRequest, "profile.kind must be local_weight or cloud_api")
		return
	}
	m, err := s.reg.Register(r.Context(), req.Profile)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleActivateModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.reg.Activate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.reg.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeactivateModel(w http.ResponseWriter, r *http.Request) {
	// The id is accepted for URL symmetry; at most one model is active.
	if err := s.reg.Deactivate(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.reg.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.pipe.RemoveArtifact(m); err != nil && zlog != nil {
		zlog.Warn().Err(err).Str("model", m.ID).Msg("remove artifact")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelPull(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.pipe.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"model_id": id,
		"status":   "cancelling",
	})
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	recs := catalog.Recommend(query, s.prober.Probe())
	writeJSON(w, http.StatusOK, types.RecommendResponse{Recommendations: recs})
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	active, ok := s.reg.Active()
	if !ok {
		writeJSONError(w, http.StatusConflict, "no active model")
		return
	}
	pol := s.engine.Compute(s.prober.Probe(), profileForModel(active))
	writeJSON(w, http.StatusOK, pol)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	resp := types.SystemResponse{Capability: s.prober.Probe()}
	if active, ok := s.reg.Active(); ok {
		pol := s.engine.Compute(resp.Capability, profileForModel(active))
		resp.Policy = &pol
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := types.StatusResponse{
		ModelCount:     len(s.reg.List()),
		LivePulls:      s.pipe.LiveJobs(),
		UptimeSeconds:  int64(time.Since(s.start).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if active, ok := s.reg.Active(); ok {
		resp.ActiveModel = &active
	}
	writeJSON(w, http.StatusOK, resp)
}

// profileForModel rebuilds the policy input for a registered model. Catalog
// models carry their trained context window; everything else falls back to
// the registry record.
func profileForModel(m types.Model) types.ModelProfile {
	if e, ok := catalog.Get(m.ID); ok {
		p := e.Profile()
		if m.SizeBytes > 0 {
			p.SizeBytes = m.SizeBytes
		}
		return p
	}
	return types.ModelProfile{
		ID:                m.ID,
		Name:              m.Name,
		Kind:              m.Kind,
		Provider:          m.Provider,
		SizeBytes:         m.SizeBytes,
		SupportsGPULayers: m.Kind == types.KindLocalWeight,
		IsBaseModel:       m.IsBaseModel,
	}
}
