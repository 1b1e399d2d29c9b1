//go:build llama

package infer

import (
	"context"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"

	"hapied/pkg/types"
)

// LlamaCgo runs inference in-process through go-llama.cpp. The model is
// loaded lazily on first use and kept until the policy changes the
// active model; loading is the expensive part, not session setup.
type LlamaCgo struct {
	policy types.ExecutionPolicy
}

// NewLlamaCgo builds the in-process engine with the policy's context
// size, thread count and GPU layer split.
func NewLlamaCgo(policy types.ExecutionPolicy) *LlamaCgo {
	return &LlamaCgo{policy: policy}
}

func (e *LlamaCgo) Generate(ctx context.Context, model types.Model, prompt string, p Params) (types.ChatResponse, error) {
	if model.StoragePath == "" {
		return types.ChatResponse{}, unavailableError{detail: "model has no weight file"}
	}
	p = p.withDefaults()

	mo := []llama.ModelOption{llama.SetContext(e.policy.MaxContextLength)}
	if e.policy.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(e.policy.GPULayers))
	}
	m, err := llama.New(model.StoragePath, mo...)
	if err != nil {
		return types.ChatResponse{}, err
	}
	defer m.Free()

	tokens := 0
	m.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		tokens++
		return true
	})

	start := time.Now()
	text, err := m.Predict(prompt,
		llama.SetTokens(p.MaxTokens),
		llama.SetThreads(e.policy.MaxThreads),
		llama.SetTemperature(float32(p.Temperature)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return types.ChatResponse{}, ctx.Err()
		}
		return types.ChatResponse{}, err
	}
	elapsed := time.Since(start)
	metrics := types.GenerationMetrics{
		CompletionTokens: tokens,
		LatencyMS:        elapsed.Milliseconds(),
		Provider:         "llama.cpp",
		Model:            model.ID,
	}
	if elapsed > 0 {
		metrics.TokensPerSec = float64(tokens) / elapsed.Seconds()
	}
	return types.ChatResponse{Text: text, Metrics: metrics}, nil
}
