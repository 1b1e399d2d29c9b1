package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"hapied/pkg/types"
)

// handleStoreKey validates the key against the provider before it is
// persisted; a key that fails validation is never stored.
func (s *Server) handleStoreKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "keystore not configured")
		return
	}
	provider := types.CloudProvider(chi.URLParam(r, "provider"))
	var req types.StoreKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		writeJSONError(w, http.StatusBadRequest, "key is required")
		return
	}

	cp, err := s.providers.Get(provider)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := cp.ValidateKey(r.Context(), req.Key); err != nil {
		writeError(w, err)
		return
	}
	if err := s.keys.Store(provider, req.Key); err != nil {
		writeError(w, err)
		return
	}
	if zlog != nil {
		zlog.Info().Str("provider", string(provider)).Msg("api key stored")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "keystore not configured")
		return
	}
	infos, err := s.keys.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]types.KeyInfo{"keys": infos})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "keystore not configured")
		return
	}
	provider := types.CloudProvider(chi.URLParam(r, "provider"))
	if err := s.keys.Delete(provider); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
