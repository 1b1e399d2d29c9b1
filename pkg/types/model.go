package types

// ModelKind distinguishes local weight files from cloud API endpoints.
type ModelKind string

const (
	KindLocalWeight ModelKind = "local_weight"
	KindCloudAPI    ModelKind = "cloud_api"
)

// ModelState is the lifecycle state of a registered model.
type ModelState string

const (
	StateRegistered ModelState = "registered"
	StatePulling    ModelState = "pulling"
	StateInstalled  ModelState = "installed"
	StateActive     ModelState = "active"
	StateFailed     ModelState = "failed"
	StateCancelled  ModelState = "cancelled"
)

// CloudProvider is a closed set of supported cloud API vendors.
type CloudProvider string

const (
	ProviderOpenAI    CloudProvider = "openai"
	ProviderAnthropic CloudProvider = "anthropic"
	ProviderGemini    CloudProvider = "gemini"
	ProviderGroq      CloudProvider = "groq"
	ProviderCustom    CloudProvider = "custom"
)

// Model is the persistent record of one local weight set or one cloud endpoint.
type Model struct {
	// Stable identifier for the model.
	// example: phi3
	ID string `json:"id" example:"phi3"`
	// Human-friendly name.
	// example: Phi-3 Mini 4K
	Name string `json:"name" example:"Phi-3 Mini 4K"`
	// local_weight or cloud_api.
	Kind ModelKind `json:"kind" example:"local_weight"`
	// Source provider (huggingface, openai, ...). Empty when unknown.
	Provider string `json:"provider,omitempty" example:"huggingface"`
	// Size of the weight file in bytes (0 until installed/known).
	SizeBytes int64 `json:"size_bytes,omitempty" example:"2516582400"`
	// Runtime backend serving this model (llama.cpp, api).
	Backend string `json:"backend" example:"llama.cpp"`
	// Current lifecycle state.
	State ModelState `json:"state" example:"installed"`
	// Base models are protected and can never be deleted.
	IsBaseModel bool `json:"is_base_model" example:"false"`
	// Absolute path of the installed weight file, or API endpoint for cloud models.
	StoragePath string `json:"storage_path,omitempty" example:"/home/user/.hapied/models/phi3.gguf"`
	// Registration time in unix seconds.
	CreatedAt int64 `json:"created_at" example:"1700000000"`
}

// SourceDescriptor locates a remote weight file.
type SourceDescriptor struct {
	// Repository the file lives in.
	// example: microsoft/Phi-3-mini-4k-instruct-gguf
	Repo string `json:"repo" example:"microsoft/Phi-3-mini-4k-instruct-gguf"`
	// Filename within the repository.
	// example: Phi-3-mini-4k-instruct-q4.gguf
	Filename string `json:"filename" example:"Phi-3-mini-4k-instruct-q4.gguf"`
	// Fully resolved download URL; when set it takes precedence over Repo/Filename.
	URL string `json:"url,omitempty"`
}

// ModelProfile is the static metadata the policy engine consumes.
type ModelProfile struct {
	ID                string        `json:"id"`
	Name              string        `json:"name,omitempty"`
	Kind              ModelKind     `json:"kind"`
	Provider          string        `json:"provider,omitempty"`
	CloudProvider     CloudProvider `json:"cloud_provider,omitempty"`
	TrainedMaxContext int           `json:"trained_max_context,omitempty"`
	SizeBytes         int64         `json:"size_bytes,omitempty"`
	SupportsGPULayers bool          `json:"supports_gpu_offload,omitempty"`
	IsBaseModel       bool          `json:"is_base_model,omitempty"`
	Source            *SourceDescriptor `json:"source,omitempty"`
}
