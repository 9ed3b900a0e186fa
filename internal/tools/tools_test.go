package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/providers"
	"github.com/quorumlabs/quorum/internal/registry"
)

type echoTool struct{ invocations int }

func (e *echoTool) Name() string            { return "echo" }
func (e *echoTool) Description() string     { return "echoes its input" }
func (e *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (e *echoTool) Invoke(_ context.Context, args json.RawMessage) (string, error) {
	e.invocations++
	return string(args), nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoTool{}))
	assert.Error(t, r.Register(&echoTool{}), "duplicate names rejected")

	assert.Equal(t, []string{"echo"}, r.List())

	spec, ok := r.Describe("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", spec.Name)

	_, ok = r.Describe("missing")
	assert.False(t, ok)

	out, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, out)

	_, err = r.Invoke(context.Background(), "missing", nil)
	assert.Error(t, err)
}

type scriptedCaller struct {
	responses []*providers.Response
	requests  []providers.Request
}

func (c *scriptedCaller) Call(_ context.Context, _, _ string, req providers.Request, _ *registry.Budget) (*providers.Response, error) {
	c.requests = append(c.requests, req)
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, nil
}

func TestLoopServicesToolCalls(t *testing.T) {
	r := NewRegistry()
	tool := &echoTool{}
	require.NoError(t, r.Register(tool))

	caller := &scriptedCaller{responses: []*providers.Response{
		{Content: "let me check", FinishReason: providers.FinishToolUse, ToolCalls: []providers.ToolCall{
			{ID: "1", Name: "echo", Args: json.RawMessage(`{"q":"test"}`)},
		}},
		{Content: "final answer", FinishReason: providers.FinishStop},
	}}

	loop := NewLoop(slog.Default(), r, caller, 5)
	resp, err := loop.Send(context.Background(), "p:m", "proposer",
		providers.Request{Messages: []providers.Message{{Role: providers.RoleUser, Content: "q"}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "final answer", resp.Content)
	assert.Equal(t, 1, tool.invocations)

	// The second request carries the assistant text and the tool result.
	require.Len(t, caller.requests, 2)
	second := caller.requests[1]
	require.Len(t, second.Messages, 3)
	assert.Equal(t, providers.RoleAssistant, second.Messages[1].Role)
	assert.Equal(t, providers.RoleTool, second.Messages[2].Role)
	assert.Contains(t, second.Messages[2].Content, "[echo]")
}

func TestLoopBoundReturnsLastText(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoTool{}))

	// The model keeps requesting tools forever.
	caller := &scriptedCaller{responses: []*providers.Response{
		{Content: "still thinking", FinishReason: providers.FinishToolUse, ToolCalls: []providers.ToolCall{
			{ID: "1", Name: "echo", Args: json.RawMessage(`{}`)},
		}},
	}}

	loop := NewLoop(slog.Default(), r, caller, 3)
	resp, err := loop.Send(context.Background(), "p:m", "proposer",
		providers.Request{Messages: []providers.Message{{Role: providers.RoleUser, Content: "q"}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "still thinking", resp.Content, "bound reached, last text stands")
	assert.Len(t, caller.requests, 3)
}

func TestLoopAttachesSpecs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoTool{}))
	caller := &scriptedCaller{responses: []*providers.Response{{Content: "done"}}}

	loop := NewLoop(slog.Default(), r, caller, 0)
	_, err := loop.Send(context.Background(), "p:m", "proposer", providers.Request{}, nil)
	require.NoError(t, err)
	require.Len(t, caller.requests, 1)
	require.Len(t, caller.requests[0].Tools, 1)
	assert.Equal(t, "echo", caller.requests[0].Tools[0].Name)
}
