package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hapied/internal/common/fsutil"
	"hapied/pkg/types"
)

// SeedModel is one weight file discovered on disk.
type SeedModel struct {
	ID        string
	Name      string
	Path      string
	SizeBytes int64
}

// ScanDir finds *.gguf files under dir so already-present weights can be
// registered as installed at startup. The id is the filename without
// extension, lowercased.
func ScanDir(dir string) ([]SeedModel, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var seeds []SeedModel
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
		seeds = append(seeds, SeedModel{
			ID:        id,
			Name:      name,
			Path:      filepath.Join(abs, name),
			SizeBytes: info.Size(),
		})
	}
	return seeds, nil
}

// Seed registers each discovered weight file as an installed local model.
func (r *Registry) Seed(ctx context.Context, seeds []SeedModel) error {
	for _, s := range seeds {
		profile := types.ModelProfile{
			ID:       s.ID,
			Name:     s.Name,
			Kind:     types.KindLocalWeight,
			Provider: "local",
		}
		if err := r.EnsureInstalled(ctx, profile, s.Path, s.SizeBytes); err != nil {
			return err
		}
	}
	return nil
}
