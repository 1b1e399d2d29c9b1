package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hapied/pkg/types"
)

const (
	openAIBase    = "https://api.openai.com/v1"
	anthropicBase = "https://api.anthropic.com/v1"
	geminiBase    = "https://generativelanguage.googleapis.com/v1beta"
	groqBase      = "https://api.groq.com/openai/v1"

	anthropicVersion = "2023-06-01"
	// Smallest current model, used for the probe request key validation
	// has to make (Anthropic exposes no cheap list endpoint).
	anthropicProbeModel = "claude-3-5-haiku-20241022"

	validateTimeout = 10 * time.Second
	generateTimeout = 60 * time.Second
)

// CloudProvider executes generations against a hosted API and validates
// keys before the registry activates a cloud model.
type CloudProvider interface {
	Generate(ctx context.Context, apiKey, modelName, prompt string, p Params) (types.ChatResponse, error)
	ValidateKey(ctx context.Context, apiKey string) error
}

// Providers resolves provider names to implementations. BaseURL
// overrides point a provider at a test server or a self-hosted
// OpenAI-compatible endpoint (the "custom" provider requires one).
type Providers struct {
	client    *http.Client
	customURL string
	overrides map[types.CloudProvider]string
}

// ProvidersOption configures the resolver.
type ProvidersOption func(*Providers)

// WithProviderClient replaces the shared HTTP client.
func WithProviderClient(c *http.Client) ProvidersOption {
	return func(p *Providers) {
		if c != nil {
			p.client = c
		}
	}
}

// WithCustomURL sets the endpoint for the custom provider.
func WithCustomURL(u string) ProvidersOption {
	return func(p *Providers) { p.customURL = strings.TrimRight(u, "/") }
}

// WithBaseURL overrides one provider's endpoint.
func WithBaseURL(provider types.CloudProvider, u string) ProvidersOption {
	return func(p *Providers) { p.overrides[provider] = strings.TrimRight(u, "/") }
}

// NewProviders builds the resolver.
func NewProviders(opts ...ProvidersOption) *Providers {
	p := &Providers{
		client:    &http.Client{Timeout: 0},
		overrides: make(map[types.CloudProvider]string),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Get returns the implementation for a provider name.
func (p *Providers) Get(name types.CloudProvider) (CloudProvider, error) {
	base := func(def string) string {
		if u, ok := p.overrides[name]; ok {
			return u
		}
		return def
	}
	switch name {
	case types.ProviderOpenAI:
		return &openAICompatible{client: p.client, baseURL: base(openAIBase), label: "OpenAI"}, nil
	case types.ProviderGroq:
		return &openAICompatible{client: p.client, baseURL: base(groqBase), label: "Groq"}, nil
	case types.ProviderCustom:
		url := base(p.customURL)
		if url == "" {
			return nil, unavailableError{detail: "custom provider has no endpoint configured"}
		}
		return &openAICompatible{client: p.client, baseURL: url, label: "Custom"}, nil
	case types.ProviderAnthropic:
		return &anthropic{client: p.client, baseURL: base(anthropicBase)}, nil
	case types.ProviderGemini:
		return &gemini{client: p.client, baseURL: base(geminiBase)}, nil
	default:
		return nil, unknownProviderError{provider: string(name)}
	}
}

// openAICompatible serves OpenAI, Groq and any self-hosted server that
// speaks the /chat/completions dialect.
type openAICompatible struct {
	client  *http.Client
	baseURL string
	label   string
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *openAICompatible) Generate(ctx context.Context, apiKey, modelName, prompt string, p Params) (types.ChatResponse, error) {
	p = p.withDefaults()
	payload := chatCompletionsRequest{
		Model:       modelName,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}
	var out chatCompletionsResponse
	elapsed, err := postJSON(ctx, o.client, o.baseURL+"/chat/completions", payload, &out, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+apiKey)
	})
	if err != nil {
		return types.ChatResponse{}, err
	}
	if len(out.Choices) == 0 {
		return types.ChatResponse{}, fmt.Errorf("%s returned no choices", o.label)
	}
	return types.ChatResponse{
		Text: out.Choices[0].Message.Content,
		Metrics: buildMetrics(o.label, modelName, out.Usage.PromptTokens,
			out.Usage.CompletionTokens, elapsed),
	}, nil
}

func (o *openAICompatible) ValidateKey(ctx context.Context, apiKey string) error {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("validate key: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return invalidKeyError{provider: strings.ToLower(o.label)}
	}
	return nil
}

// anthropic speaks the /messages dialect; validation sends a minimal
// probe message because there is no list endpoint keyed off API keys.
type anthropic struct {
	client  *http.Client
	baseURL string
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *anthropic) headers(apiKey string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("x-api-key", apiKey)
		r.Header.Set("anthropic-version", anthropicVersion)
	}
}

func (a *anthropic) Generate(ctx context.Context, apiKey, modelName, prompt string, p Params) (types.ChatResponse, error) {
	p = p.withDefaults()
	payload := anthropicRequest{
		Model:       modelName,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}
	var out anthropicResponse
	elapsed, err := postJSON(ctx, a.client, a.baseURL+"/messages", payload, &out, a.headers(apiKey))
	if err != nil {
		return types.ChatResponse{}, err
	}
	if len(out.Content) == 0 {
		return types.ChatResponse{}, fmt.Errorf("anthropic returned no content")
	}
	return types.ChatResponse{
		Text: out.Content[0].Text,
		Metrics: buildMetrics("Anthropic", modelName, out.Usage.InputTokens,
			out.Usage.OutputTokens, elapsed),
	}, nil
}

func (a *anthropic) ValidateKey(ctx context.Context, apiKey string) error {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	payload := anthropicRequest{
		Model:     anthropicProbeModel,
		Messages:  []chatMessage{{Role: "user", Content: "test"}},
		MaxTokens: 5,
	}
	var out anthropicResponse
	if _, err := postJSON(ctx, a.client, a.baseURL+"/messages", payload, &out, a.headers(apiKey)); err != nil {
		return invalidKeyError{provider: "anthropic"}
	}
	return nil
}

// gemini speaks the generateContent dialect with the key as a query
// parameter.
type gemini struct {
	client  *http.Client
	baseURL string
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (g *gemini) Generate(ctx context.Context, apiKey, modelName, prompt string, p Params) (types.ChatResponse, error) {
	p = p.withDefaults()
	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: p.MaxTokens,
			Temperature:     p.Temperature,
		},
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, modelName, apiKey)
	var out geminiResponse
	elapsed, err := postJSON(ctx, g.client, url, payload, &out, nil)
	if err != nil {
		return types.ChatResponse{}, err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return types.ChatResponse{}, fmt.Errorf("gemini returned no candidates")
	}
	return types.ChatResponse{
		Text: out.Candidates[0].Content.Parts[0].Text,
		Metrics: buildMetrics("Gemini", modelName, out.UsageMetadata.PromptTokenCount,
			out.UsageMetadata.CandidatesTokenCount, elapsed),
	}, nil
}

func (g *gemini) ValidateKey(ctx context.Context, apiKey string) error {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/models?key="+apiKey, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("validate key: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return invalidKeyError{provider: "gemini"}
	}
	return nil
}

// postJSON posts a payload, decodes the response and reports latency.
func postJSON(ctx context.Context, client *http.Client, url string, in, out any, decorate func(*http.Request)) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()
	body, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return elapsed, fmt.Errorf("provider http error: %s: %s", resp.Status, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return elapsed, fmt.Errorf("decode provider response: %w", err)
	}
	return elapsed, nil
}

func buildMetrics(provider, model string, promptTokens, completionTokens int, elapsed time.Duration) types.GenerationMetrics {
	m := types.GenerationMetrics{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		LatencyMS:        elapsed.Milliseconds(),
		Provider:         provider,
		Model:            model,
	}
	if elapsed > 0 {
		m.TokensPerSec = float64(completionTokens) / elapsed.Seconds()
	}
	return m
}
