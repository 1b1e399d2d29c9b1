package policy

import (
	"testing"

	"hapied/pkg/types"
)

const gb = int64(1) << 30

func TestComputeCPUScenario(t *testing.T) {
	cap := types.CapabilitySnapshot{
		CPUCores:          8,
		CPUThreads:        8,
		TotalRAMBytes:     8 * gb,
		AvailableRAMBytes: 8 * gb,
		GPUVendor:         types.GPUNone,
	}
	sizeBytes := 1.1 * float64(gb)
	profile := types.ModelProfile{
		ID:                "m",
		Kind:              types.KindLocalWeight,
		SizeBytes:         int64(sizeBytes),
		TrainedMaxContext: 32768,
	}
	pol := New(0).Compute(cap, profile)
	if pol.Backend != types.BackendCPU {
		t.Fatalf("expected cpu backend, got %s", pol.Backend)
	}
	if pol.GPULayers != 0 {
		t.Fatalf("expected gpu_layers=0, got %d", pol.GPULayers)
	}
	budgetF := float64(8*gb) * 0.8
	budget := int64(budgetF)
	if est := estimatedSize(profile.SizeBytes, pol.QuantizationBits); est > budget {
		t.Fatalf("estimated size %d exceeds 80%% budget %d", est, budget)
	}
	if pol.MaxThreads != 7 {
		t.Fatalf("expected max_threads=7, got %d", pol.MaxThreads)
	}
	if pol.MaxContextLength != 32768 {
		t.Fatalf("expected trained context affordable, got %d", pol.MaxContextLength)
	}
	if !pol.FitsComfortably {
		t.Fatalf("1.1GB model should fit 8GB RAM comfortably")
	}
}

func TestComputeCloudShortCircuit(t *testing.T) {
	pol := New(0).Compute(types.CapabilitySnapshot{}, types.ModelProfile{
		Kind:              types.KindCloudAPI,
		TrainedMaxContext: 128000,
	})
	if pol.Backend != types.BackendCloudAPI {
		t.Fatalf("expected cloud backend, got %s", pol.Backend)
	}
	if pol.GPULayers != 0 || pol.MaxThreads != 0 || pol.QuantizationBits != 0 {
		t.Fatalf("local fields should be zero: %+v", pol)
	}
	if !pol.FitsComfortably {
		t.Fatalf("cloud policies are never degraded")
	}
}

func TestComputeGPUSelection(t *testing.T) {
	profile := types.ModelProfile{
		Kind:              types.KindLocalWeight,
		SizeBytes:         4 * gb,
		TrainedMaxContext: 8192,
		SupportsGPULayers: true,
	}
	cap := types.CapabilitySnapshot{
		CPUThreads:        16,
		AvailableRAMBytes: 32 * gb,
		GPUVendor:         types.GPUNvidia,
		GPUVRAMBytes:      12 * gb,
		GPUCount:          1,
	}
	pol := New(0).Compute(cap, profile)
	if pol.Backend != types.BackendGPU {
		t.Fatalf("expected gpu backend, got %s", pol.Backend)
	}
	if pol.GPULayers < 1 {
		t.Fatalf("gpu backend must offload at least one layer")
	}
	if pol.MaxBatchSize != gpuBatchSize {
		t.Fatalf("expected gpu batch %d, got %d", gpuBatchSize, pol.MaxBatchSize)
	}

	// Unknown VRAM falls back to CPU even with a known vendor.
	cap.GPUVRAMBytes = 0
	if pol := New(0).Compute(cap, profile); pol.Backend != types.BackendCPU {
		t.Fatalf("unknown VRAM must select cpu, got %s", pol.Backend)
	}

	// No offload support falls back to CPU.
	cap.GPUVRAMBytes = 12 * gb
	profile.SupportsGPULayers = false
	if pol := New(0).Compute(cap, profile); pol.Backend != types.BackendCPU {
		t.Fatalf("no offload support must select cpu, got %s", pol.Backend)
	}
}

func TestGPULayersMonotoneInVRAM(t *testing.T) {
	profile := types.ModelProfile{
		Kind:              types.KindLocalWeight,
		SizeBytes:         4 * gb,
		TrainedMaxContext: 4096,
		SupportsGPULayers: true,
	}
	prev := -1
	for vram := 2 * gb; vram <= 48*gb; vram += gb {
		cap := types.CapabilitySnapshot{
			CPUThreads:        8,
			AvailableRAMBytes: 16 * gb,
			GPUVendor:         types.GPUNvidia,
			GPUVRAMBytes:      vram,
		}
		pol := New(0).Compute(cap, profile)
		if pol.Backend != types.BackendGPU {
			continue
		}
		if pol.GPULayers < prev {
			t.Fatalf("gpu_layers decreased at vram=%d: %d -> %d", vram, prev, pol.GPULayers)
		}
		prev = pol.GPULayers
	}
}

// Totality: degenerate inputs never crash and always produce a usable policy.
func TestComputeTotality(t *testing.T) {
	rams := []int64{0, 1, 512 << 20, 8 * gb, 256 * gb}
	vrams := []int64{0, 1 << 20, 4 * gb, 80 * gb}
	sizes := []int64{0, 1, 700 << 20, 13 * gb, 140 * gb}
	threads := []int{0, 1, 4, 96}
	contexts := []int{0, 512, 4096, 1 << 20}
	vendors := []types.GPUVendor{"", types.GPUNone, types.GPUNvidia, types.GPUAMD, types.GPUApple}

	eng := New(0)
	for _, ram := range rams {
		for _, vram := range vrams {
			for _, size := range sizes {
				for _, th := range threads {
					for _, ctx := range contexts {
						for _, v := range vendors {
							cap := types.CapabilitySnapshot{
								CPUThreads:        th,
								AvailableRAMBytes: ram,
								GPUVendor:         v,
								GPUVRAMBytes:      vram,
							}
							profile := types.ModelProfile{
								Kind:              types.KindLocalWeight,
								SizeBytes:         size,
								TrainedMaxContext: ctx,
								SupportsGPULayers: true,
							}
							pol := eng.Compute(cap, profile)
							if pol.MaxContextLength < ContextFloor {
								t.Fatalf("context below floor: %+v for ram=%d size=%d", pol, ram, size)
							}
							if !validBits(pol.QuantizationBits) {
								t.Fatalf("bits %d not in candidate set", pol.QuantizationBits)
							}
							if pol.MaxThreads < 1 {
								t.Fatalf("max_threads must be >= 1, got %d", pol.MaxThreads)
							}
							if pol.Backend == types.BackendCPU && pol.GPULayers != 0 {
								t.Fatalf("cpu backend with gpu layers: %+v", pol)
							}
						}
					}
				}
			}
		}
	}
}

func validBits(bits int) bool {
	for _, c := range quantCandidates {
		if bits == c {
			return true
		}
	}
	return false
}

func TestPickQuantizationDegraded(t *testing.T) {
	bits, fits := pickQuantization(100*gb, 1*gb)
	if fits {
		t.Fatalf("100GB cannot fit 1GB budget")
	}
	if bits != quantCandidates[len(quantCandidates)-1] {
		t.Fatalf("degraded pick must use the narrowest width, got %d", bits)
	}
}
