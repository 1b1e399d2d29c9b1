package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"hapied/pkg/types"
)

func TestStorePersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.db")
	ctx := context.Background()

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	r, err := New(store)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := r.Register(ctx, localProfile("kept")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.BeginPull(ctx, "kept"); err != nil {
		t.Fatalf("begin pull: %v", err)
	}
	if err := r.MarkInstalled(ctx, "kept", "/models/kept.gguf", 2048); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := r.Register(ctx, localProfile("dropped")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Delete(ctx, "dropped"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()
	r2, err := New(reopened)
	if err != nil {
		t.Fatalf("new registry after reopen: %v", err)
	}
	models := r2.List()
	if len(models) != 1 {
		t.Fatalf("expected 1 persisted model, got %d", len(models))
	}
	m := models[0]
	if m.ID != "kept" || m.State != types.StateInstalled {
		t.Fatalf("unexpected persisted model: %+v", m)
	}
	if m.StoragePath != "/models/kept.gguf" || m.SizeBytes != 2048 {
		t.Fatalf("install metadata lost: %+v", m)
	}
}

func TestScanDirFindsWeights(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"TinyLlama-1.1B.Q4_K_M.gguf", "phi-2.gguf", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("ggufstub"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	seeds, err := ScanDir(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("expected 2 gguf seeds, got %d", len(seeds))
	}
	ids := map[string]bool{}
	for _, s := range seeds {
		ids[s.ID] = true
		if s.SizeBytes != int64(len("ggufstub")) {
			t.Fatalf("seed size wrong: %+v", s)
		}
	}
	if !ids["tinyllama-1.1b.q4_k_m"] || !ids["phi-2"] {
		t.Fatalf("unexpected seed ids: %v", ids)
	}
}

func TestSeedSkipsExisting(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	installed(t, r, "phi-2")
	seeds := []SeedModel{
		{ID: "phi-2", Name: "phi-2", Path: "/models/phi-2.gguf", SizeBytes: 10},
		{ID: "fresh", Name: "fresh", Path: "/models/fresh.gguf", SizeBytes: 20},
	}
	if err := r.Seed(ctx, seeds); err != nil {
		t.Fatalf("seed: %v", err)
	}
	existing, err := r.Get("phi-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if existing.StoragePath != "/tmp/phi-2.gguf" {
		t.Fatalf("seed must not overwrite existing record: %+v", existing)
	}
	fresh, err := r.Get("fresh")
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if fresh.State != types.StateInstalled {
		t.Fatalf("seeded model should be installed, got %s", fresh.State)
	}
}
