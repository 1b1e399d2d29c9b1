// Package catalog holds the curated model table used to resolve pull
// aliases and to rank recommendations against a hardware snapshot.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"hapied/pkg/types"
)

// Entry is one curated model.
type Entry struct {
	ID          string
	Name        string
	Repo        string
	Filename    string
	SizeBytes   int64
	Context     string
	UseCases    []string
	MinRAMBytes int64
	SpeedRating int // 1 (slow) .. 10 (fast)
}

const mb = 1 << 20

// ramOverhead is the working-memory multiplier over raw weight size.
const ramOverhead = 1.2

// entries is ordered: alias resolution takes the first match, so more
// popular models come first within each group.
var entries = []Entry{
	{ID: "phi3", Name: "Phi-3 Mini 4K", Repo: "microsoft/Phi-3-mini-4k-instruct-gguf", Filename: "Phi-3-mini-4k-instruct-q4.gguf", SizeBytes: 2400 * mb, Context: "4K", UseCases: []string{"coding", "reasoning", "mobile"}, MinRAMBytes: 4 << 30, SpeedRating: 9},
	{ID: "phi3-medium", Name: "Phi-3 Medium 4K", Repo: "microsoft/Phi-3-medium-4k-instruct-gguf", Filename: "Phi-3-medium-4k-instruct-q4.gguf", SizeBytes: 8000 * mb, Context: "4K", UseCases: []string{"complex-reasoning", "coding"}, MinRAMBytes: 10 << 30, SpeedRating: 6},
	{ID: "deepseek-coder", Name: "DeepSeek Coder 6.7B", Repo: "TheBloke/deepseek-coder-6.7B-instruct-GGUF", Filename: "deepseek-coder-6.7b-instruct.Q4_K_M.gguf", SizeBytes: 4100 * mb, Context: "16K", UseCases: []string{"coding", "python", "javascript"}, MinRAMBytes: 6 << 30, SpeedRating: 7},
	{ID: "deepseek-v2", Name: "DeepSeek V2 Lite", Repo: "bartowski/DeepSeek-V2-Lite-Chat-GGUF", Filename: "DeepSeek-V2-Lite-Chat-Q4_K_M.gguf", SizeBytes: 9500 * mb, Context: "32K", UseCases: []string{"reasoning", "chat", "coding"}, MinRAMBytes: 12 << 30, SpeedRating: 6},
	{ID: "codellama-7b", Name: "CodeLlama 7B", Repo: "TheBloke/CodeLlama-7B-Instruct-GGUF", Filename: "codellama-7b-instruct.Q4_K_M.gguf", SizeBytes: 4200 * mb, Context: "16K", UseCases: []string{"coding", "programming"}, MinRAMBytes: 6 << 30, SpeedRating: 7},
	{ID: "starcoder2-3b", Name: "StarCoder2 3B", Repo: "bartowski/StarCoder2-3b-GGUF", Filename: "StarCoder2-3b-Q4_K_M.gguf", SizeBytes: 2100 * mb, Context: "16K", UseCases: []string{"coding", "completion"}, MinRAMBytes: 4 << 30, SpeedRating: 8},
	{ID: "mistral", Name: "Mistral Nemo 12B", Repo: "bartowski/Mistral-Nemo-Instruct-2407-GGUF", Filename: "Mistral-Nemo-Instruct-2407-Q4_K_M.gguf", SizeBytes: 7800 * mb, Context: "128K", UseCases: []string{"chat", "long-context", "general"}, MinRAMBytes: 10 << 30, SpeedRating: 7},
	{ID: "mistral-v0.3", Name: "Mistral v0.3 7B", Repo: "MaziyarPanahi/Mistral-7B-Instruct-v0.3-GGUF", Filename: "Mistral-7B-Instruct-v0.3.Q4_K_M.gguf", SizeBytes: 4300 * mb, Context: "32K", UseCases: []string{"chat", "assistant"}, MinRAMBytes: 6 << 30, SpeedRating: 8},
	{ID: "llama3", Name: "Hermes 2 Pro (Llama 3)", Repo: "NousResearch/Hermes-2-Pro-Llama-3-8B-GGUF", Filename: "Hermes-2-Pro-Llama-3-8B-Q4_K_M.gguf", SizeBytes: 4900 * mb, Context: "8K", UseCases: []string{"chat", "roleplay", "general"}, MinRAMBytes: 7 << 30, SpeedRating: 7},
	{ID: "llama3-8b", Name: "Meta Llama 3 8B", Repo: "lmstudio-community/Meta-Llama-3-8B-Instruct-GGUF", Filename: "Meta-Llama-3-8B-Instruct-Q4_K_M.gguf", SizeBytes: 4900 * mb, Context: "8K", UseCases: []string{"chat", "official"}, MinRAMBytes: 7 << 30, SpeedRating: 7},
	{ID: "gemma2", Name: "Gemma 2 2B IT", Repo: "google/gemma-2-2b-it-GGUF", Filename: "gemma-2-2b-it-Q4_K_M.gguf", SizeBytes: 1600 * mb, Context: "8K", UseCases: []string{"fast", "chat", "mobile"}, MinRAMBytes: 3 << 30, SpeedRating: 9},
	{ID: "gemma2-9b", Name: "Gemma 2 9B IT", Repo: "bartowski/gemma-2-9b-it-GGUF", Filename: "gemma-2-9b-it-Q4_K_M.gguf", SizeBytes: 6400 * mb, Context: "8K", UseCases: []string{"chat", "reasoning"}, MinRAMBytes: 8 << 30, SpeedRating: 7},
	{ID: "qwen2.5", Name: "Qwen 2.5 7B", Repo: "Qwen/Qwen2.5-7B-Instruct-GGUF", Filename: "qwen2.5-7b-instruct-q4_k_m.gguf", SizeBytes: 4700 * mb, Context: "32K", UseCases: []string{"chat", "multilingual", "coding"}, MinRAMBytes: 7 << 30, SpeedRating: 8},
	{ID: "qwen2.5-1.5b", Name: "Qwen 2.5 1.5B", Repo: "Qwen/Qwen2.5-1.5B-Instruct-GGUF", Filename: "qwen2.5-1.5b-instruct-q4_k_m.gguf", SizeBytes: 1100 * mb, Context: "32K", UseCases: []string{"fast", "rag"}, MinRAMBytes: 2 << 30, SpeedRating: 9},
	{ID: "qwen2.5-0.5b", Name: "Qwen 2.5 0.5B", Repo: "Qwen/Qwen2.5-0.5B-Instruct-GGUF", Filename: "qwen2.5-0.5b-instruct-q4_k_m.gguf", SizeBytes: 400 * mb, Context: "32K", UseCases: []string{"tiny", "embedded"}, MinRAMBytes: 1 << 30, SpeedRating: 10},
	{ID: "mixtral-8x7b", Name: "Mixtral 8x7B MoE", Repo: "TheBloke/Mixtral-8x7B-Instruct-v0.1-GGUF", Filename: "mixtral-8x7b-instruct-v0.1.Q4_K_M.gguf", SizeBytes: 26000 * mb, Context: "32K", UseCases: []string{"advanced", "expert", "server"}, MinRAMBytes: 32 << 30, SpeedRating: 4},
	{ID: "command-r", Name: "Command R", Repo: "bartowski/c4ai-command-r-v01-GGUF", Filename: "c4ai-command-r-v01-Q4_K_M.gguf", SizeBytes: 22000 * mb, Context: "128K", UseCases: []string{"rag", "tools", "business"}, MinRAMBytes: 24 << 30, SpeedRating: 5},
	{ID: "tinyllama", Name: "TinyLlama 1.1B", Repo: "TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF", Filename: "tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf", SizeBytes: 700 * mb, Context: "2K", UseCases: []string{"fast", "mobile", "edge"}, MinRAMBytes: 1 << 30, SpeedRating: 10},
}

// taskAliases shortcut common task words straight to a model id.
var taskAliases = []struct{ task, modelID string }{
	{"coding", "phi3"},
	{"code", "deepseek-coder"},
	{"programming", "deepseek-coder"},
	{"scripting", "starcoder2-3b"},
	{"chat", "mistral"},
	{"assistant", "llama3"},
	{"conversation", "gemma2-9b"},
	{"fast", "gemma2"},
	{"quick", "qwen2.5-1.5b"},
	{"speed", "tinyllama"},
	{"reasoning", "phi3-medium"},
	{"math", "deepseek-v2"},
	{"complex", "command-r"},
	{"rag", "qwen2.5"},
	{"docs", "command-r"},
	{"analysis", "mistral"},
	{"tiny", "qwen2.5-0.5b"},
	{"edge", "tinyllama"},
}

// Entries returns the curated table in registration order.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Get looks up an entry by exact id.
func Get(id string) (Entry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ResolveAlias matches a free-form query against the table: exact id,
// then id or name contained in the query. The first registered entry
// wins; ambiguity is not ranked here.
func ResolveAlias(query string) (Entry, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Entry{}, false
	}
	for _, e := range entries {
		if e.ID == q {
			return e, true
		}
	}
	for _, e := range entries {
		if strings.Contains(q, e.ID) || strings.Contains(q, strings.ToLower(e.Name)) {
			return e, true
		}
	}
	return Entry{}, false
}

// Source returns the entry's pullable source descriptor.
func (e Entry) Source() types.SourceDescriptor {
	return types.SourceDescriptor{Repo: e.Repo, Filename: e.Filename}
}

// Profile returns a registry profile for the entry.
func (e Entry) Profile() types.ModelProfile {
	return types.ModelProfile{
		ID:        e.ID,
		Name:      e.Name,
		Kind:      types.KindLocalWeight,
		SizeBytes: e.SizeBytes,
		Source:    &types.SourceDescriptor{Repo: e.Repo, Filename: e.Filename},
	}
}

// estimatedRAM is the working-set estimate for running the entry.
func (e Entry) estimatedRAM() int64 {
	return int64(float64(e.SizeBytes) * ramOverhead)
}

// Recommend returns ranked suggestions for a query against the hardware
// snapshot: a specific model or task keyword short-circuits to a single
// answer; otherwise the whole table is ranked by fit and speed, top 3.
func Recommend(query string, hw types.CapabilitySnapshot) []types.Recommendation {
	q := strings.ToLower(query)

	for _, e := range entries {
		if strings.Contains(q, e.ID) || strings.Contains(q, strings.ToLower(e.Name)) {
			return []types.Recommendation{buildRecommendation(e, hw, 1)}
		}
	}
	for _, t := range taskAliases {
		if strings.Contains(q, t.task) {
			e, ok := Get(t.modelID)
			if !ok {
				continue
			}
			return []types.Recommendation{buildRecommendation(e, hw, 1)}
		}
	}

	type scored struct {
		entry Entry
		score int
	}
	ranked := make([]scored, 0, len(entries))
	for _, e := range entries {
		score := e.SpeedRating
		if e.estimatedRAM() <= hw.AvailableRAMBytes {
			score += 10
		} else {
			score -= 10
		}
		ranked = append(ranked, scored{entry: e, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]types.Recommendation, 0, 3)
	for i, s := range ranked {
		if i == 3 {
			break
		}
		out = append(out, buildRecommendation(s.entry, hw, i+1))
	}
	return out
}

func buildRecommendation(e Entry, hw types.CapabilitySnapshot, rank int) types.Recommendation {
	need := e.estimatedRAM()
	fits := need <= hw.AvailableRAMBytes
	verdict := "fits"
	if !fits {
		verdict = "exceeds"
	}
	reasoning := fmt.Sprintf(
		"%s (%.1fGB) %s available %.1fGB RAM. Estimated %d t/s. Best for: %s. Pull with `hapie pull %s`.",
		e.Name,
		float64(e.SizeBytes)/(1<<30),
		verdict,
		float64(hw.AvailableRAMBytes)/(1<<30),
		e.SpeedRating*10,
		strings.Join(e.UseCases, ", "),
		e.ID,
	)
	return types.Recommendation{
		Rank:      rank,
		ModelID:   e.ID,
		Name:      e.Name,
		Repo:      e.Repo,
		Filename:  e.Filename,
		SizeBytes: e.SizeBytes,
		Fits:      fits,
		Reasoning: reasoning,
	}
}
