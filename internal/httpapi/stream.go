package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"hapied/internal/catalog"
	"hapied/internal/infer"
	"hapied/internal/intent"
	"hapied/internal/registry"
	"hapied/pkg/types"
)

// handlePullModel starts (or joins) a download and streams NDJSON
// progress events until the terminal event.
func (s *Server) handlePullModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The body is an optional source override; catalog models need none.
	var src types.SourceDescriptor
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&src); err != nil && err != io.EOF {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	events, err := s.startPull(r.Context(), id, src)
	if err != nil {
		writeError(w, err)
		return
	}
	s.streamProgress(w, r, events)
}

// startPull fills in the source from the catalog when the caller gave
// none, registers first-time catalog pulls, and hands off to the
// pipeline. A model id the registry and catalog both do not know stays
// unregistered.
func (s *Server) startPull(ctx context.Context, id string, src types.SourceDescriptor) (<-chan types.ProgressEvent, error) {
	entry, inCatalog := catalog.Get(id)
	if src.URL == "" && (src.Repo == "" || src.Filename == "") && inCatalog {
		src = entry.Source()
	}
	resolvable := src.URL != "" || (src.Repo != "" && src.Filename != "")

	if _, err := s.reg.Get(id); err != nil {
		if !registry.IsNotFound(err) || !resolvable {
			return nil, err
		}
		profile := types.ModelProfile{
			ID:       id,
			Kind:     types.KindLocalWeight,
			Provider: "huggingface",
			Source:   &src,
		}
		if inCatalog {
			profile = entry.Profile()
		}
		if _, err := s.reg.Register(ctx, profile); err != nil {
			return nil, err
		}
	}
	return s.pipe.Pull(ctx, id, src)
}

// streamProgress relays progress events as NDJSON lines. A client that
// disconnects stops receiving; the transfer itself keeps running for
// any other subscriber.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request, events <-chan types.ProgressEvent) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	lvl := requestLogLevel(r)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if lvl >= LevelDebug && zlog != nil {
			zlog.Debug().
				Str("model", ev.ModelID).
				Str("status", string(ev.Status)).
				Int64("downloaded", ev.DownloadedBytes).
				Float64("percent", ev.Percent).
				Msg("pull progress")
		}
		if r.Context().Err() != nil {
			return
		}
	}
}

// handleChat routes free text to pull, recommend or generation. Pulls
// answer with the same NDJSON stream as POST /models/{id}/pull; the
// other intents answer with plain JSON.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	switch c := intent.Classify(req.Text).(type) {
	case types.PullCommand:
		entry, ok := catalog.ResolveAlias(c.Query)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no catalog model matches: "+c.Query)
			return
		}
		events, err := s.startPull(r.Context(), entry.ID, entry.Source())
		if err != nil {
			writeError(w, err)
			return
		}
		s.streamProgress(w, r, events)
	case types.RecommendCommand:
		recs := catalog.Recommend(c.Query, s.prober.Probe())
		writeJSON(w, http.StatusOK, types.RecommendResponse{Recommendations: recs})
	case types.ChatCommand:
		s.generate(w, r, c.Prompt, req)
	default:
		writeJSONError(w, http.StatusInternalServerError, "unhandled command kind")
	}
}

// generate runs the prompt against the active model, local or cloud.
func (s *Server) generate(w http.ResponseWriter, r *http.Request, prompt string, req types.ChatRequest) {
	active, ok := s.reg.Active()
	if !ok {
		writeJSONError(w, http.StatusConflict, "no active model")
		return
	}
	params := infer.Params{MaxTokens: req.MaxTokens, Temperature: req.Temperature}

	// Join server base context with request context so shutdown cancels work too.
	joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	var resp types.ChatResponse
	var err error
	switch active.Kind {
	case types.KindCloudAPI:
		resp, err = s.generateCloud(joinedCtx, active, prompt, params)
	default:
		if s.local == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "no local inference engine configured")
			return
		}
		resp, err = s.local.Generate(joinedCtx, active, prompt, params)
	}
	if err != nil {
		// If context was canceled (client disconnect), just return.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) generateCloud(ctx context.Context, active types.Model, prompt string, params infer.Params) (types.ChatResponse, error) {
	provider := types.CloudProvider(active.Provider)
	cp, err := s.providers.Get(provider)
	if err != nil {
		return types.ChatResponse{}, err
	}
	if s.keys == nil {
		return types.ChatResponse{}, infer.ErrUnavailable("keystore not configured")
	}
	key, err := s.keys.Fetch(provider)
	if err != nil {
		return types.ChatResponse{}, err
	}
	return cp.Generate(ctx, key, active.ID, prompt, params)
}
