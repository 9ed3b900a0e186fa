// Package openai implements the provider adapter for the OpenAI
// chat-completions API.
package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/providers"
)

// Adapter implements providers.Adapter for OpenAI.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new OpenAI adapter. A zero timeout defaults to 120s.
func New(id, apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		id:      id,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.client.Timeout = d
	}
}

func (a *Adapter) ID() string { return a.id }

var catalog = []providers.ModelInfo{
	{Model: "gpt-5", ContextWindow: 272000, MaxOutput: 128000, InputPerMTok: 1.25, OutputPerMTok: 10, SupportsTools: true, ProposerEligible: true},
	{Model: "gpt-5-mini", ContextWindow: 272000, MaxOutput: 128000, InputPerMTok: 0.25, OutputPerMTok: 2, SupportsTools: true, ProposerEligible: true},
	{Model: "gpt-5-nano", ContextWindow: 272000, MaxOutput: 128000, InputPerMTok: 0.05, OutputPerMTok: 0.4, SupportsTools: true, ProposerEligible: false},
}

func (a *Adapter) ListModels(_ context.Context) ([]providers.ModelInfo, error) {
	out := make([]providers.ModelInfo, len(catalog))
	for i, m := range catalog {
		m.ProviderID = a.id
		m.Ref = providers.Ref(a.id, m.Model)
		out[i] = m
	}
	return out, nil
}

func (a *Adapter) payload(model string, req providers.Request, stream bool) map[string]any {
	messages := make([]map[string]string, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = map[string]string{"role": msg.Role, "content": msg.Content}
	}
	payload := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		payload["max_completion_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			schema := t.Schema
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			tools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  schema,
				},
			}
		}
		payload["tools"] = tools
	}
	if stream {
		payload["stream"] = true
		payload["stream_options"] = map[string]any{"include_usage": true}
	}
	return payload
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

func (a *Adapter) Send(ctx context.Context, model string, req providers.Request) (*providers.Response, error) {
	start := time.Now()
	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", a.payload(model, req, false), a.authHeaders())
	if err != nil {
		return nil, err
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fault.Wrap(fault.KindUnknown, err)
	}
	if len(cr.Choices) == 0 {
		return nil, fault.New(fault.KindUnknown, "empty choices in completion response")
	}

	choice := cr.Choices[0]
	resp := &providers.Response{
		Content:   choice.Message.Content,
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Usage: providers.Usage{
			InputTokens:     cr.Usage.PromptTokens,
			OutputTokens:    cr.Usage.CompletionTokens,
			CacheReadTokens: cr.Usage.PromptTokensDetails.CachedTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, providers.ToolCall{
			ID: tc.ID, Name: tc.Function.Name, Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	switch choice.FinishReason {
	case "length":
		resp.FinishReason = providers.FinishLength
	case "tool_calls":
		resp.FinishReason = providers.FinishToolUse
	default:
		resp.FinishReason = providers.FinishStop
	}
	return resp, nil
}

// Stream opens an SSE stream of completion deltas. The usage-bearing final
// event (stream_options.include_usage) feeds the closing chunk.
func (a *Adapter) Stream(ctx context.Context, model string, req providers.Request) (<-chan providers.Chunk, error) {
	body, err := providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", a.payload(model, req, true), a.authHeaders())
	if err != nil {
		return nil, err
	}

	ch := make(chan providers.Chunk)
	go func() {
		defer close(ch)
		defer func() { _ = body.Close() }()

		var usage providers.Usage
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			if strings.TrimSpace(data) == "[DONE]" {
				u := usage
				ch <- providers.Chunk{Done: true, Usage: &u}
				return
			}
			var ev struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
				Usage *struct {
					PromptTokens     int `json:"prompt_tokens"`
					CompletionTokens int `json:"completion_tokens"`
				} `json:"usage"`
			}
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			if ev.Usage != nil {
				usage.InputTokens = ev.Usage.PromptTokens
				usage.OutputTokens = ev.Usage.CompletionTokens
			}
			if len(ev.Choices) > 0 && ev.Choices[0].Delta.Content != "" {
				select {
				case ch <- providers.Chunk{Delta: ev.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- providers.Chunk{Done: true, Err: err}
			return
		}
		u := usage
		ch <- providers.Chunk{Done: true, Usage: &u}
	}()
	return ch, nil
}

// Health probes the models listing endpoint.
func (a *Adapter) Health(ctx context.Context) bool {
	_, err := providers.DoGet(ctx, a.client, a.baseURL+"/v1/models", a.authHeaders())
	if err != nil {
		var se *providers.StatusError
		// Auth failures still prove the endpoint is reachable.
		if errors.As(err, &se) && se.StatusCode < 500 {
			return true
		}
		return false
	}
	return true
}

func (a *Adapter) ClassifyError(err error) error {
	var se *providers.StatusError
	if errors.As(err, &se) {
		if se.StatusCode == 404 || strings.Contains(se.Body, "model_not_found") {
			return fault.Wrap(fault.KindModelNotFound, err)
		}
	}
	return providers.ClassifyHTTP(err)
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	}
}
