// Package policy turns hardware capability and model metadata into
// execution parameters. Compute is pure and total: it never errors and
// treats absent hardware facts as "not available".
package policy

import (
	"hapied/pkg/types"
)

// Quantization candidates, widest first. The stored artifact size is
// treated as the 16-bit reference.
var quantCandidates = []int{16, 8, 5, 4}

const (
	// DefaultHeadroom reserves budget for runtime overhead and KV cache.
	DefaultHeadroom = 0.2
	// ContextFloor is the minimum context length any policy grants.
	ContextFloor = 512
	// fullOffloadLayers follows the llama.cpp convention for "all layers".
	fullOffloadLayers = 999
	// kvReferenceContext calibrates per-token KV cost: a context of this
	// many tokens is assumed to cost about one weight-set of memory.
	kvReferenceContext = 8192

	cpuBatchSize = 1
	gpuBatchSize = 8
)

// Engine computes execution policies. The zero value uses DefaultHeadroom.
type Engine struct {
	headroom float64
}

// New returns an Engine with the given headroom fraction; values outside
// (0,1) fall back to the default.
func New(headroom float64) *Engine {
	if headroom <= 0 || headroom >= 1 {
		headroom = DefaultHeadroom
	}
	return &Engine{headroom: headroom}
}

// Compute derives the execution policy for profile on the given hardware.
func (e *Engine) Compute(cap types.CapabilitySnapshot, profile types.ModelProfile) types.ExecutionPolicy {
	headroom := e.headroom
	if headroom <= 0 || headroom >= 1 {
		headroom = DefaultHeadroom
	}

	if profile.Kind == types.KindCloudAPI {
		// Local resources are irrelevant; the provider runs the model.
		return types.ExecutionPolicy{
			Backend:          types.BackendCloudAPI,
			MaxContextLength: maxInt(profile.TrainedMaxContext, ContextFloor),
			FitsComfortably:  true,
		}
	}

	backend := selectBackend(cap, profile)
	budget := cap.AvailableRAMBytes
	if backend == types.BackendGPU {
		budget = cap.GPUVRAMBytes
	}

	usable := int64(float64(budget) * (1 - headroom))
	bits, fits := pickQuantization(profile.SizeBytes, usable)
	weightBytes := estimatedSize(profile.SizeBytes, bits)

	pol := types.ExecutionPolicy{
		Backend:          backend,
		UseQuantization:  bits < 16,
		QuantizationBits: bits,
		MaxThreads:       maxInt(1, cap.CPUThreads-1),
		FitsComfortably:  fits,
	}

	remaining := usable - weightBytes
	if remaining < 0 {
		remaining = 0
	}
	pol.MaxContextLength = affordableContext(profile, weightBytes, remaining)

	switch backend {
	case types.BackendGPU:
		pol.MaxBatchSize = gpuBatchSize
		if !fits {
			pol.MaxBatchSize = gpuBatchSize / 2
		}
		pol.GPULayers = offloadLayers(budget, weightBytes)
	default:
		pol.MaxBatchSize = cpuBatchSize
		pol.GPULayers = 0
	}
	return pol
}

// selectBackend chooses the GPU only when the vendor is known, the VRAM
// amount is known and the model fits VRAM at the smallest quantization.
func selectBackend(cap types.CapabilitySnapshot, profile types.ModelProfile) types.Backend {
	if cap.GPUVendor == "" || cap.GPUVendor == types.GPUNone {
		return types.BackendCPU
	}
	if cap.GPUVRAMBytes <= 0 || !profile.SupportsGPULayers {
		return types.BackendCPU
	}
	minBits := quantCandidates[len(quantCandidates)-1]
	if cap.GPUVRAMBytes < estimatedSize(profile.SizeBytes, minBits) {
		return types.BackendCPU
	}
	return types.BackendGPU
}

// pickQuantization returns the widest candidate whose estimated size fits
// the usable budget. When none fits, the narrowest candidate is returned
// with fits=false; the policy stays usable, just degraded.
func pickQuantization(sizeBytes, usable int64) (bits int, fits bool) {
	for _, c := range quantCandidates {
		if estimatedSize(sizeBytes, c) <= usable {
			return c, true
		}
	}
	return quantCandidates[len(quantCandidates)-1], false
}

// estimatedSize scales the 16-bit reference size down to the given width.
func estimatedSize(sizeBytes int64, bits int) int64 {
	if sizeBytes <= 0 {
		return 0
	}
	return sizeBytes * int64(bits) / 16
}

// affordableContext models per-token KV-cache cost linearly against the
// quantized weight size and clamps to [ContextFloor, trained maximum].
func affordableContext(profile types.ModelProfile, weightBytes, remaining int64) int {
	trained := profile.TrainedMaxContext
	if trained <= 0 {
		trained = ContextFloor
	}
	perToken := weightBytes / kvReferenceContext
	if perToken <= 0 {
		// Tiny or unknown model size: the trained maximum is affordable.
		return maxInt(trained, ContextFloor)
	}
	affordable := int(remaining / perToken)
	ctx := minInt(trained, affordable)
	return maxInt(ctx, ContextFloor)
}

// offloadLayers grows with the budget fraction left after weight storage;
// once half the budget remains free, everything is offloaded.
func offloadLayers(budget, weightBytes int64) int {
	if budget <= 0 {
		return 0
	}
	leftover := budget - weightBytes
	if leftover < 0 {
		leftover = 0
	}
	frac := float64(leftover) / float64(budget)
	layers := int(frac / 0.5 * fullOffloadLayers)
	if layers > fullOffloadLayers {
		layers = fullOffloadLayers
	}
	if layers < 1 {
		layers = 1
	}
	return layers
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
