package types

// GPUVendor enumerates the GPU vendors the policy engine knows about.
type GPUVendor string

const (
	GPUNone   GPUVendor = "none"
	GPUNvidia GPUVendor = "nvidia"
	GPUAMD    GPUVendor = "amd"
	GPUIntel  GPUVendor = "intel"
	GPUApple  GPUVendor = "apple"
)

// CapabilitySnapshot is an immutable-per-poll record of hardware facts.
// Zero/absent fields mean "unknown" and degrade to the conservative choice.
type CapabilitySnapshot struct {
	CPUCores          int       `json:"cpu_cores" example:"8"`
	CPUThreads        int       `json:"cpu_threads" example:"16"`
	CPUArch           string    `json:"cpu_arch,omitempty" example:"amd64"`
	CPUBrand          string    `json:"cpu_brand,omitempty" example:"AMD Ryzen 7 5800X"`
	TotalRAMBytes     int64     `json:"total_ram_bytes" example:"17179869184"`
	AvailableRAMBytes int64     `json:"available_ram_bytes" example:"8589934592"`
	GPUVendor         GPUVendor `json:"gpu_vendor" example:"none"`
	// GPU VRAM in bytes; 0 means unknown or no GPU.
	GPUVRAMBytes int64  `json:"gpu_vram_bytes,omitempty" example:"8589934592"`
	GPUCount     int    `json:"gpu_count" example:"0"`
	Platform     string `json:"platform,omitempty" example:"linux"`
}
