// Package infer holds the inference collaborators: a llama.cpp server
// adapter for local weights, an in-process cgo adapter behind the llama
// build tag, and cloud API providers with an encrypted key store.
package infer

import (
	"context"

	"hapied/pkg/types"
)

// Params are the generation knobs exposed through the chat surface.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// DefaultParams mirror the upstream client defaults.
var DefaultParams = Params{MaxTokens: 512, Temperature: 0.7}

// Engine generates a completion for a prompt against a concrete model.
// Implementations must honor ctx cancellation.
type Engine interface {
	Generate(ctx context.Context, model types.Model, prompt string, p Params) (types.ChatResponse, error)
}

func (p Params) withDefaults() Params {
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultParams.MaxTokens
	}
	if p.Temperature <= 0 {
		p.Temperature = DefaultParams.Temperature
	}
	return p
}
