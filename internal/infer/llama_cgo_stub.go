//go:build !llama

package infer

import (
	"context"

	"hapied/pkg/types"
)

// LlamaCgo is compiled without the llama build tag: default builds and
// CI stay CGO-free, and in-process inference fails fast instead of being
// mocked.
type LlamaCgo struct{}

func NewLlamaCgo(policy types.ExecutionPolicy) *LlamaCgo { return &LlamaCgo{} }

func (e *LlamaCgo) Generate(ctx context.Context, model types.Model, prompt string, p Params) (types.ChatResponse, error) {
	select {
	case <-ctx.Done():
		return types.ChatResponse{}, ctx.Err()
	default:
	}
	return types.ChatResponse{}, unavailableError{detail: "in-process llama support not built (missing 'llama' build tag)"}
}
