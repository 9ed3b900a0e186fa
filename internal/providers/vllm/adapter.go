// Package vllm implements the provider adapter for self-hosted
// OpenAI-compatible endpoints (vLLM, llama.cpp server, and friends).
// Models are discovered at runtime via GET /v1/models and priced at zero,
// which makes local models the natural pick for cheap roles (summarizer,
// classifier, judge) while keeping them out of the proposer pool.
package vllm

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/providers"
)

// Adapter implements providers.Adapter for OpenAI-compatible local endpoints.
type Adapter struct {
	id      string
	baseURL string
	client  *http.Client
}

// New creates a new vLLM adapter. A zero timeout defaults to 120s.
func New(id, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		id:      id,
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

// ListModels discovers served models from the endpoint. Self-hosted models
// have no metered cost and are not proposer-eligible.
func (a *Adapter) ListModels(ctx context.Context) ([]providers.ModelInfo, error) {
	body, err := providers.DoGet(ctx, a.client, a.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, a.ClassifyError(err)
	}
	var listing struct {
		Data []struct {
			ID         string `json:"id"`
			MaxModelLen int   `json:"max_model_len"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fault.Wrap(fault.KindUnknown, err)
	}
	var out []providers.ModelInfo
	for _, m := range listing.Data {
		contextWindow := m.MaxModelLen
		if contextWindow == 0 {
			contextWindow = 8192
		}
		out = append(out, providers.ModelInfo{
			Ref:           providers.Ref(a.id, m.ID),
			ProviderID:    a.id,
			Model:         m.ID,
			ContextWindow: contextWindow,
			MaxOutput:     contextWindow / 2,
		})
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
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

func (a *Adapter) Send(ctx context.Context, model string, req providers.Request) (*providers.Response, error) {
	start := time.Now()
	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", a.payload(model, req, false), nil)
	if err != nil {
		return nil, err
	}

	var cr struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fault.Wrap(fault.KindUnknown, err)
	}
	if len(cr.Choices) == 0 {
		return nil, fault.New(fault.KindUnknown, "empty choices in completion response")
	}

	resp := &providers.Response{
		Content:   cr.Choices[0].Message.Content,
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Usage: providers.Usage{
			InputTokens:  cr.Usage.PromptTokens,
			OutputTokens: cr.Usage.CompletionTokens,
		},
		FinishReason: providers.FinishStop,
	}
	if cr.Choices[0].FinishReason == "length" {
		resp.FinishReason = providers.FinishLength
	}
	return resp, nil
}

func (a *Adapter) Stream(ctx context.Context, model string, req providers.Request) (<-chan providers.Chunk, error) {
	body, err := providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", a.payload(model, req, true), nil)
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

func (a *Adapter) Health(ctx context.Context) bool {
	_, err := providers.DoGet(ctx, a.client, a.baseURL+"/v1/models", nil)
	return err == nil
}

func (a *Adapter) ClassifyError(err error) error {
	return providers.ClassifyHTTP(err)
}
