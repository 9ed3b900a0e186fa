// Package providers defines the uniform adapter contract for LLM providers
// and the shared HTTP plumbing the concrete adapters build on. Adapters are
// stateless value types holding configuration; every provider-native failure
// is mapped into the fault taxonomy before it leaves this layer.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in the ordered conversation sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Request is the provider-agnostic call envelope. Adapters translate it into
// provider-specific payloads.
type Request struct {
	Messages    []Message  `json:"messages"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	Tools       []ToolSpec `json:"tools,omitempty"`
}

// Finish reasons, normalized across providers.
const (
	FinishStop    = "stop"
	FinishLength  = "length"
	FinishToolUse = "tool_use"
)

// Usage is the token accounting for one call. CacheReadTokens is reported
// only by providers that support prompt caching.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	CacheReadTokens int `json:"cache_read_tokens,omitempty"`
}

// Response is a normalized provider reply.
type Response struct {
	Content      string     `json:"content"`
	Usage        Usage      `json:"usage"`
	FinishReason string     `json:"finish_reason"`
	LatencyMs    float64    `json:"latency_ms"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
}

// Truncated reports whether the model hit its output limit mid-answer.
func (r *Response) Truncated() bool { return r.FinishReason == FinishLength }

// Chunk is one element of a streamed response. The final chunk has Done set
// and carries the usage totals when the provider reports them.
type Chunk struct {
	Delta string
	Usage *Usage
	Done  bool
	Err   error
}

// ModelInfo describes one model reachable through one adapter.
type ModelInfo struct {
	Ref              string  `json:"ref"` // provider:model
	ProviderID       string  `json:"provider_id"`
	Model            string  `json:"model"`
	ContextWindow    int     `json:"context_window"`
	MaxOutput        int     `json:"max_output"`
	InputPerMTok     float64 `json:"input_per_mtok"`
	OutputPerMTok    float64 `json:"output_per_mtok"`
	SupportsTools    bool    `json:"supports_tools"`
	ProposerEligible bool    `json:"proposer_eligible"`
}

// Adapter is the uniform contract every provider implements. Adapters are
// stateless across calls.
type Adapter interface {
	ID() string
	ListModels(ctx context.Context) ([]ModelInfo, error)
	Send(ctx context.Context, model string, req Request) (*Response, error)
	Stream(ctx context.Context, model string, req Request) (<-chan Chunk, error)
	Health(ctx context.Context) bool
	// ClassifyError maps a provider-native error into the fault taxonomy.
	// The returned error always unwraps to err.
	ClassifyError(err error) error
}

// Ref joins a provider id and model name into a model reference.
func Ref(provider, model string) string {
	return provider + ":" + model
}

// SplitRef splits a "provider:model" reference. Model names may themselves
// contain separators (vllm serves HF paths), so only the first colon counts.
func SplitRef(ref string) (provider, model string, err error) {
	i := strings.IndexByte(ref, ':')
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("malformed model reference %q", ref)
	}
	return ref[:i], ref[i+1:], nil
}

// StatusError captures a non-2xx HTTP response from a provider. Adapters
// inspect the status code and body to classify the failure.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter records a Retry-After header value (seconds form only;
// HTTP-date values are ignored).
func (e *StatusError) ParseRetryAfter(header string) {
	if header == "" {
		return
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		e.RetryAfterSecs = secs
	}
}
