package infer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"hapied/pkg/types"
)

// LlamaServer talks to a running llama.cpp server over HTTP using the
// OpenAI-compatible completions endpoint with SSE streaming.
type LlamaServer struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	client     *http.Client
}

// LlamaServerOption configures the adapter.
type LlamaServerOption func(*LlamaServer)

// WithAPIKey sets the bearer token sent to the server.
func WithAPIKey(key string) LlamaServerOption {
	return func(s *LlamaServer) { s.apiKey = key }
}

// WithRequestTimeout bounds a single generation end to end; 0 disables.
func WithRequestTimeout(d time.Duration) LlamaServerOption {
	return func(s *LlamaServer) { s.reqTimeout = d }
}

// WithClient replaces the HTTP client (tests).
func WithClient(c *http.Client) LlamaServerOption {
	return func(s *LlamaServer) {
		if c != nil {
			s.client = c
		}
	}
}

// NewLlamaServer builds the adapter. The client timeout stays 0: every
// request carries its deadline through the context instead, so streams
// of any length survive as long as tokens keep flowing.
func NewLlamaServer(baseURL string, opts ...LlamaServerOption) *LlamaServer {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
	s := &LlamaServer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Transport: tr, Timeout: 0},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type completionRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Stream      bool    `json:"stream"`
}

type streamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
}

// Generate streams the completion and returns the accumulated text with
// timing metrics.
func (s *LlamaServer) Generate(ctx context.Context, model types.Model, prompt string, p Params) (types.ChatResponse, error) {
	if s.baseURL == "" {
		return types.ChatResponse{}, unavailableError{detail: "no llama server configured"}
	}
	p = p.withDefaults()
	if s.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.reqTimeout)
		defer cancel()
	}

	payload := completionRequest{
		Model:       model.ID,
		Prompt:      prompt,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.ChatResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return types.ChatResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.ChatResponse{}, ctx.Err()
		}
		return types.ChatResponse{}, fmt.Errorf("llama server request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.ChatResponse{}, fmt.Errorf("llama server http error: %s: %s", resp.Status, string(b))
	}

	var sb strings.Builder
	tokens := 0
	r := bufio.NewReader(resp.Body)
	for {
		line, rerr := r.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSpace(line)
			if frag, done := parseStreamLine(line); done {
				break
			} else if frag != "" {
				sb.WriteString(frag)
				tokens++
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return types.ChatResponse{}, ctx.Err()
			}
			return types.ChatResponse{}, fmt.Errorf("llama server stream: %w", rerr)
		}
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
	return types.ChatResponse{Text: sb.String(), Metrics: metrics}, nil
}

// parseStreamLine extracts one SSE data line. Handles both OpenAI-style
// delta payloads and llama.cpp native per-line JSON with a content field.
func parseStreamLine(line string) (fragment string, done bool) {
	if line == "" || !strings.HasPrefix(strings.ToLower(line), "data:") {
		return "", false
	}
	data := strings.TrimSpace(line[len("data:"):])
	if data == "[DONE]" {
		return "", true
	}
	var msg streamResponse
	if err := json.Unmarshal([]byte(data), &msg); err == nil && len(msg.Choices) > 0 {
		c := msg.Choices[0]
		if c.Delta.Content != "" {
			return c.Delta.Content, false
		}
		if c.Text != "" {
			return c.Text, false
		}
		return "", c.FinishReason != ""
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(data), &generic); err == nil {
		if tok, ok := generic["content"].(string); ok {
			return tok, false
		}
	}
	return "", false
}
