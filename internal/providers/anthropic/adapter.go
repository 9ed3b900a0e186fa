// Package anthropic implements the provider adapter for the Anthropic
// messages API.
package anthropic

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

// Adapter implements providers.Adapter for Anthropic.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new Anthropic adapter. A zero timeout defaults to 120s.
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

// catalog is the static model table for this adapter. Costs are USD per
// million tokens.
var catalog = []providers.ModelInfo{
	{Model: "claude-opus-4-1", ContextWindow: 200000, MaxOutput: 32000, InputPerMTok: 15, OutputPerMTok: 75, SupportsTools: true, ProposerEligible: true},
	{Model: "claude-sonnet-4-5", ContextWindow: 200000, MaxOutput: 64000, InputPerMTok: 3, OutputPerMTok: 15, SupportsTools: true, ProposerEligible: true},
	{Model: "claude-haiku-4-5", ContextWindow: 200000, MaxOutput: 64000, InputPerMTok: 1, OutputPerMTok: 5, SupportsTools: true, ProposerEligible: false},
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

// splitSystem separates system messages from the conversation; the messages
// API takes system text as a top-level parameter. Tool results are folded
// into user turns because the bare-HTTP envelope has no tool_result blocks.
func splitSystem(msgs []providers.Message) (system string, rest []map[string]string) {
	for _, m := range msgs {
		switch m.Role {
		case providers.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case providers.RoleTool:
			rest = append(rest, map[string]string{"role": "user", "content": "[tool result]\n" + m.Content})
		default:
			rest = append(rest, map[string]string{"role": m.Role, "content": m.Content})
		}
	}
	return system, rest
}

func (a *Adapter) payload(model string, req providers.Request, stream bool) map[string]any {
	system, messages := splitSystem(req.Messages)
	payload := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if system != "" {
		payload["system"] = system
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096 // the messages API requires max_tokens
	}
	payload["max_tokens"] = maxTokens
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
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": schema,
			}
		}
		payload["tools"] = tools
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

// messagesResponse is the subset of the messages API response we consume.
type messagesResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens          int `json:"input_tokens"`
		OutputTokens         int `json:"output_tokens"`
		CacheReadInputTokens int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Send(ctx context.Context, model string, req providers.Request) (*providers.Response, error) {
	start := time.Now()
	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", a.payload(model, req, false), a.authHeaders())
	if err != nil {
		return nil, err
	}

	var mr messagesResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, fault.Wrap(fault.KindUnknown, err)
	}

	resp := &providers.Response{
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Usage: providers.Usage{
			InputTokens:     mr.Usage.InputTokens,
			OutputTokens:    mr.Usage.OutputTokens,
			CacheReadTokens: mr.Usage.CacheReadInputTokens,
		},
	}
	for _, block := range mr.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, providers.ToolCall{
				ID: block.ID, Name: block.Name, Args: block.Input,
			})
		}
	}
	switch mr.StopReason {
	case "max_tokens":
		resp.FinishReason = providers.FinishLength
	case "tool_use":
		resp.FinishReason = providers.FinishToolUse
	default:
		resp.FinishReason = providers.FinishStop
	}
	return resp, nil
}

// Stream opens an SSE stream and converts messages-API events into chunks.
// The final chunk carries the usage reported by the message_delta event.
func (a *Adapter) Stream(ctx context.Context, model string, req providers.Request) (<-chan providers.Chunk, error) {
	body, err := providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/messages", a.payload(model, req, true), a.authHeaders())
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
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var ev struct {
				Type  string `json:"type"`
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
				Message struct {
					Usage struct {
						InputTokens int `json:"input_tokens"`
					} `json:"usage"`
				} `json:"message"`
				Usage struct {
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			}
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			switch ev.Type {
			case "message_start":
				usage.InputTokens = ev.Message.Usage.InputTokens
			case "content_block_delta":
				if ev.Delta.Text != "" {
					select {
					case ch <- providers.Chunk{Delta: ev.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_delta":
				if ev.Usage.OutputTokens > 0 {
					usage.OutputTokens = ev.Usage.OutputTokens
				}
			case "message_stop":
				u := usage
				ch <- providers.Chunk{Done: true, Usage: &u}
				return
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

// Health probes the messages endpoint. A GET returns 405 (Method Not
// Allowed), which proves reachability.
func (a *Adapter) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", a.baseURL+"/v1/messages", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

func (a *Adapter) ClassifyError(err error) error {
	var se *providers.StatusError
	if errors.As(err, &se) {
		if se.StatusCode == 404 || strings.Contains(se.Body, "not_found_error") {
			return fault.Wrap(fault.KindModelNotFound, err)
		}
		if strings.Contains(se.Body, "overloaded_error") {
			return fault.Wrap(fault.KindOverloaded, err)
		}
	}
	return providers.ClassifyHTTP(err)
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": "2023-06-01",
	}
}
