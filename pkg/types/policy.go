package types

// Backend is the execution backend selected by the policy engine.
type Backend string

const (
	BackendCPU      Backend = "cpu"
	BackendGPU      Backend = "gpu"
	BackendCloudAPI Backend = "cloud_api"
)

// ExecutionPolicy is derived from a capability snapshot and a model profile.
// It is recomputed on demand and never mutated in place.
type ExecutionPolicy struct {
	Backend          Backend `json:"backend" example:"cpu"`
	MaxBatchSize     int     `json:"max_batch_size" example:"1"`
	MaxContextLength int     `json:"max_context_length" example:"4096"`
	UseQuantization  bool    `json:"use_quantization" example:"true"`
	QuantizationBits int     `json:"quantization_bits" example:"4"`
	// Number of layers offloaded to the GPU; 0 for CPU-only execution.
	GPULayers  int `json:"gpu_layers" example:"0"`
	MaxThreads int `json:"max_threads" example:"7"`
	// False when even the smallest quantization exceeds the memory budget;
	// the policy is still usable, just degraded.
	FitsComfortably bool `json:"fits_comfortably" example:"true"`
}
