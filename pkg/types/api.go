package types

// PullStatus is the status field of a ProgressEvent.
type PullStatus string

const (
	PullPulling   PullStatus = "pulling"
	PullComplete  PullStatus = "complete"
	PullError     PullStatus = "error"
	PullCancelled PullStatus = "cancelled"
)

// ProgressEvent is one sample of an in-flight (or terminal) pull.
type ProgressEvent struct {
	// Model being pulled.
	// example: phi3
	ModelID string `json:"model_id" example:"phi3"`
	// Identifier of the underlying transfer; stable across subscribers.
	JobID string `json:"job_id,omitempty"`
	// pulling, complete, error or cancelled.
	Status PullStatus `json:"status" example:"pulling"`
	// Bytes written so far.
	DownloadedBytes int64 `json:"downloaded_bytes" example:"1048576"`
	// Total bytes when known, 0 otherwise.
	TotalBytes int64 `json:"total_bytes,omitempty" example:"2516582400"`
	// Completion percentage; 0 while total is unknown.
	Percent float64 `json:"percent" example:"41.5"`
	// Smoothed transfer rate in bytes/sec; 0 until the first sample window.
	SpeedBPS float64 `json:"speed_bps,omitempty" example:"5242880"`
	// Estimated seconds remaining; -1 while unknown.
	ETASeconds int64 `json:"eta_seconds" example:"120"`
	// Failure reason for status=error.
	Error string `json:"error,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found: phi3
	Error string `json:"error" example:"model not found: phi3"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Currently active model, if any.
	ActiveModel *Model `json:"active_model,omitempty"`
	// Number of registered models.
	ModelCount int `json:"model_count" example:"3"`
	// Model ids with a live pull job.
	LivePulls []string `json:"live_pulls,omitempty"`
	// Uptime of the daemon in seconds.
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// SystemResponse is returned by GET /system.
type SystemResponse struct {
	Capability CapabilitySnapshot `json:"capability"`
	// Policy for the active model, present only when a model is active.
	Policy *ExecutionPolicy `json:"policy,omitempty"`
}

// RegisterModelRequest registers a new model profile.
type RegisterModelRequest struct {
	Profile ModelProfile `json:"profile"`
}

// ChatRequest carries one free-text command or prompt.
type ChatRequest struct {
	// Raw user text; routed to pull/recommend/chat by prefix rules.
	// example: hapie pull phi3
	Text string `json:"text" example:"hapie pull phi3"`
	// Maximum number of new tokens for chat generations.
	MaxTokens int `json:"max_tokens,omitempty" example:"256"`
	// Sampling temperature for chat generations.
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
}

// GenerationMetrics summarizes one inference call.
type GenerationMetrics struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	LatencyMS        int64   `json:"latency_ms"`
	TokensPerSec     float64 `json:"tokens_per_sec,omitempty"`
	Provider         string  `json:"provider,omitempty"`
	Model            string  `json:"model,omitempty"`
}

// ChatResponse is the pass-through answer for a chat command.
type ChatResponse struct {
	Text    string            `json:"text"`
	Metrics GenerationMetrics `json:"metrics"`
}

// Recommendation is one ranked catalog entry.
type Recommendation struct {
	Rank      int     `json:"rank" example:"1"`
	ModelID   string  `json:"model_id" example:"phi3"`
	Name      string  `json:"name" example:"Phi-3 Mini 4K"`
	Repo      string  `json:"repo"`
	Filename  string  `json:"filename"`
	SizeBytes int64   `json:"size_bytes"`
	// Whether the estimated memory need fits the available RAM.
	Fits      bool    `json:"fits"`
	Reasoning string  `json:"reasoning"`
}

// RecommendResponse wraps ranked recommendations.
type RecommendResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
}

// StoreKeyRequest stores a cloud provider API key after validation.
type StoreKeyRequest struct {
	Key string `json:"key"`
}

// KeyInfo is the masked view of a stored provider key.
type KeyInfo struct {
	Provider  CloudProvider `json:"provider" example:"openai"`
	// Always masked; the full key is never returned.
	KeyPreview string `json:"key_preview" example:"***...***"`
	CreatedAt  int64  `json:"created_at" example:"1700000000"`
}
