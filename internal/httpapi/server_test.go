package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"hapied/internal/hardware"
	"hapied/internal/infer"
	"hapied/internal/pull"
	"hapied/internal/registry"
	"hapied/pkg/types"
)

func testSnapshot() types.CapabilitySnapshot {
	return types.CapabilitySnapshot{
		CPUCores:          4,
		CPUThreads:        8,
		CPUArch:           "amd64",
		TotalRAMBytes:     16 << 30,
		AvailableRAMBytes: 8 << 30,
		GPUVendor:         types.GPUNone,
		Platform:          "linux",
	}
}

// newTestServer builds a full server over a throwaway store. The prober
// is pinned so recommendation and policy results are deterministic.
func newTestServer(t *testing.T, opts ...ServerOption) (http.Handler, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	store, err := registry.OpenStore(filepath.Join(dir, "models.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	reg, err := registry.New(store)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	pipe := pull.New(reg, filepath.Join(dir, "models"), pull.WithChunkBytes(256))
	all := append([]ServerOption{WithProber(hardware.Static(testSnapshot()))}, opts...)
	s := NewServer(reg, pipe, all...)
	return NewMux(s), reg
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func localProfile(id string) types.ModelProfile {
	return types.ModelProfile{ID: id, Name: id, Kind: types.KindLocalWeight}
}

// installActive registers, installs and activates a model directly
// against the registry so chat tests do not depend on a transfer.
func installActive(t *testing.T, reg *registry.Registry, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := reg.Register(ctx, localProfile(id)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.BeginPull(ctx, id); err != nil {
		t.Fatalf("begin pull: %v", err)
	}
	if err := reg.MarkInstalled(ctx, id, "/tmp/"+id+".gguf", 1024); err != nil {
		t.Fatalf("mark installed: %v", err)
	}
	if err := reg.Activate(ctx, id); err != nil {
		t.Fatalf("activate: %v", err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	mux, _ := newTestServer(t)
	for path, want := range map[string]string{"/healthz": "ok", "/readyz": "ready"} {
		rec := doJSON(t, mux, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		if rec.Body.String() != want {
			t.Fatalf("%s: body = %q", path, rec.Body.String())
		}
	}
	rec := doJSON(t, mux, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics: status = %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	mux, _ := newTestServer(t)

	// Missing content type.
	req := httptest.NewRequest(http.MethodPost, "/models", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("no content type: status = %d", rec.Code)
	}

	// Malformed body.
	req = httptest.NewRequest(http.MethodPost, "/models", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d", rec.Code)
	}

	// Missing id.
	rec = doJSON(t, mux, http.MethodPost, "/models", types.RegisterModelRequest{
		Profile: types.ModelProfile{Kind: types.KindLocalWeight},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing id: status = %d", rec.Code)
	}

	// Bad kind.
	rec = doJSON(t, mux, http.MethodPost, "/models", types.RegisterModelRequest{
		Profile: types.ModelProfile{ID: "m1", Kind: "weird"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: status = %d", rec.Code)
	}
}

func TestErrorPayloadShape(t *testing.T) {
	mux, _ := newTestServer(t)
	rec := doJSON(t, mux, http.MethodGet, "/models/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var payload types.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Code != http.StatusNotFound || payload.Error == "" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestModelLifecycleOverHTTP(t *testing.T) {
	content := bytes.Repeat([]byte("w"), 2048)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer origin.Close()

	mux, _ := newTestServer(t)

	rec := doJSON(t, mux, http.MethodPost, "/models", types.RegisterModelRequest{Profile: localProfile("m1")})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status = %d body=%s", rec.Code, rec.Body.String())
	}

	// Duplicate registration conflicts.
	rec = doJSON(t, mux, http.MethodPost, "/models", types.RegisterModelRequest{Profile: localProfile("m1")})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: status = %d", rec.Code)
	}

	// Activating before install conflicts.
	rec = doJSON(t, mux, http.MethodPost, "/models/m1/activate", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("premature activate: status = %d", rec.Code)
	}

	// Pull with an explicit source streams NDJSON to completion.
	rec = doJSON(t, mux, http.MethodPost, "/models/m1/pull", types.SourceDescriptor{URL: origin.URL + "/m1.gguf"})
	if rec.Code != http.StatusOK {
		t.Fatalf("pull: status = %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("pull content type = %q", ct)
	}
	events := decodeEvents(t, rec.Body.Bytes())
	if len(events) == 0 {
		t.Fatal("no progress events streamed")
	}
	last := events[len(events)-1]
	if last.Status != types.PullComplete || last.Percent != 100 {
		t.Fatalf("terminal event = %+v", last)
	}

	rec = doJSON(t, mux, http.MethodPost, "/models/m1/activate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate: status = %d body=%s", rec.Code, rec.Body.String())
	}
	var m types.Model
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode model: %v", err)
	}
	if m.State != types.StateActive {
		t.Fatalf("state = %s, want active", m.State)
	}

	// Policy is computable for the active model.
	rec = doJSON(t, mux, http.MethodGet, "/policy", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("policy: status = %d body=%s", rec.Code, rec.Body.String())
	}
	var pol types.ExecutionPolicy
	if err := json.Unmarshal(rec.Body.Bytes(), &pol); err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	if pol.Backend != types.BackendCPU {
		t.Fatalf("backend = %s, want cpu", pol.Backend)
	}

	// Status reflects the active model.
	rec = doJSON(t, mux, http.MethodGet, "/status", nil)
	var st types.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.ModelCount != 1 || st.ActiveModel == nil || st.ActiveModel.ID != "m1" {
		t.Fatalf("status = %+v", st)
	}

	// Active models cannot be deleted until deactivated.
	rec = doJSON(t, mux, http.MethodDelete, "/models/m1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete active: status = %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/models/m1/deactivate", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate: status = %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodDelete, "/models/m1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, mux, http.MethodGet, "/models/m1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status = %d", rec.Code)
	}
}

func decodeEvents(t *testing.T, raw []byte) []types.ProgressEvent {
	t.Helper()
	var events []types.ProgressEvent
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev types.ProgressEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestPullUnknownModelWithoutSource(t *testing.T) {
	mux, _ := newTestServer(t)
	rec := doJSON(t, mux, http.MethodPost, "/models/ghost/pull", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPullDanglingAliasStaysRegistered(t *testing.T) {
	mux, reg := newTestServer(t)
	rec := doJSON(t, mux, http.MethodPost, "/models", types.RegisterModelRequest{Profile: localProfile("orphan")})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status = %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/models/orphan/pull", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	m, err := reg.Get("orphan")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.State != types.StateRegistered {
		t.Fatalf("state = %s, want registered", m.State)
	}
}

func TestCancelWithoutLiveJob(t *testing.T) {
	mux, _ := newTestServer(t)
	rec := doJSON(t, mux, http.MethodPost, "/models/m1/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRecommendEndpoint(t *testing.T) {
	mux, _ := newTestServer(t)
	rec := doJSON(t, mux, http.MethodGet, "/recommend?q=coding", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp types.RecommendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Recommendations) == 0 {
		t.Fatal("no recommendations")
	}
	if resp.Recommendations[0].Rank != 1 {
		t.Fatalf("first rank = %d", resp.Recommendations[0].Rank)
	}
}

func TestPolicyWithoutActiveModel(t *testing.T) {
	mux, _ := newTestServer(t)
	rec := doJSON(t, mux, http.MethodGet, "/policy", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestSystemEndpoint(t *testing.T) {
	mux, reg := newTestServer(t)

	rec := doJSON(t, mux, http.MethodGet, "/system", nil)
	var resp types.SystemResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Capability.CPUCores != 4 || resp.Policy != nil {
		t.Fatalf("system without active model = %+v", resp)
	}

	installActive(t, reg, "m1")
	rec = doJSON(t, mux, http.MethodGet, "/system", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Policy == nil {
		t.Fatal("policy missing with an active model")
	}
}

// stubEngine answers every prompt with a canned response.
type stubEngine struct {
	resp types.ChatResponse
	err  error
}

func (e stubEngine) Generate(ctx context.Context, model types.Model, prompt string, p infer.Params) (types.ChatResponse, error) {
	return e.resp, e.err
}

func TestChatRouting(t *testing.T) {
	engine := stubEngine{resp: types.ChatResponse{
		Text:    "hello there",
		Metrics: types.GenerationMetrics{Provider: "stub"},
	}}
	mux, reg := newTestServer(t, WithLocalEngine(engine))

	// No active model yet.
	rec := doJSON(t, mux, http.MethodPost, "/chat", types.ChatRequest{Text: "What is 2+2?"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("chat without active model: status = %d", rec.Code)
	}

	// Recommend intent answers JSON regardless of active model.
	rec = doJSON(t, mux, http.MethodPost, "/chat", types.ChatRequest{Text: "recommend a coding model"})
	if rec.Code != http.StatusOK {
		t.Fatalf("recommend intent: status = %d", rec.Code)
	}
	var recs types.RecommendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs.Recommendations) == 0 {
		t.Fatal("no recommendations from chat intent")
	}

	// Pull intent with an unknown alias is a 404.
	rec = doJSON(t, mux, http.MethodPost, "/chat", types.ChatRequest{Text: "pull definitely-not-a-model"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pull unknown alias: status = %d", rec.Code)
	}

	// Plain text reaches the local engine once a model is active.
	installActive(t, reg, "m1")
	rec = doJSON(t, mux, http.MethodPost, "/chat", types.ChatRequest{Text: "What is 2+2?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp types.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Text != "hello there" {
		t.Fatalf("text = %q", resp.Text)
	}

	// Empty text is rejected.
	rec = doJSON(t, mux, http.MethodPost, "/chat", types.ChatRequest{Text: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank chat: status = %d", rec.Code)
	}
}

func TestChatWithoutLocalEngine(t *testing.T) {
	mux, reg := newTestServer(t)
	installActive(t, reg, "m1")
	rec := doJSON(t, mux, http.MethodPost, "/chat", types.ChatRequest{Text: "hi"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestKeyEndpoints(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-good-key-1234" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer provider.Close()

	dir := t.TempDir()
	keys, err := infer.NewKeystore(filepath.Join(dir, "keys.json"))
	if err != nil {
		t.Fatalf("new keystore: %v", err)
	}
	providers := infer.NewProviders(infer.WithBaseURL(types.ProviderOpenAI, provider.URL))
	mux, _ := newTestServer(t, WithKeystore(keys), WithProviders(providers))

	// A rejected key is never stored.
	rec := doJSON(t, mux, http.MethodPut, "/keys/openai", types.StoreKeyRequest{Key: "sk-bad"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad key: status = %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPut, "/keys/openai", types.StoreKeyRequest{Key: "sk-good-key-1234"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("store key: status = %d body=%s", rec.Code, rec.Body.String())
	}

	// Unknown providers are rejected before validation.
	rec = doJSON(t, mux, http.MethodPut, "/keys/skynet", types.StoreKeyRequest{Key: "whatever"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown provider: status = %d", rec.Code)
	}

	// Listing masks the key material.
	rec = doJSON(t, mux, http.MethodGet, "/keys", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list keys: status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-good-key-1234") {
		t.Fatal("full key leaked in listing")
	}
	if !strings.Contains(rec.Body.String(), "1234") {
		t.Fatalf("listing missing masked suffix: %s", rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodDelete, "/keys/openai", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete key: status = %d", rec.Code)
	}
}

func TestKeysWithoutKeystore(t *testing.T) {
	mux, _ := newTestServer(t)
	rec := doJSON(t, mux, http.MethodGet, "/keys", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
