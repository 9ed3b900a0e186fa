package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quorumlabs/quorum/internal/providers"
	"github.com/quorumlabs/quorum/internal/registry"
)

// DefaultMaxRounds bounds the tool-call loop per model call.
const DefaultMaxRounds = 5

// Caller dispatches one model call. Satisfied by *registry.Registry.
type Caller interface {
	Call(ctx context.Context, ref, role string, req providers.Request, budget *registry.Budget) (*providers.Response, error)
}

// Loop is the tool-augmented send: a bounded call-invoke-resend cycle in
// place of a single model call.
type Loop struct {
	log       *slog.Logger
	registry  *Registry
	caller    Caller
	maxRounds int
}

func NewLoop(log *slog.Logger, reg *Registry, caller Caller, maxRounds int) *Loop {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Loop{log: log, registry: reg, caller: caller, maxRounds: maxRounds}
}

// Send dispatches the request with tool specs attached and services tool
// calls until the model answers with text or the round bound is reached.
// On the bound, the last model text stands as the output.
func (l *Loop) Send(ctx context.Context, ref, role string, req providers.Request, budget *registry.Budget) (*providers.Response, error) {
	req.Tools = l.registry.Specs()

	var resp *providers.Response
	for round := 0; round < l.maxRounds; round++ {
		var err error
		resp, err = l.caller.Call(ctx, ref, role, req, budget)
		if err != nil {
			return nil, err
		}
		if len(resp.ToolCalls) == 0 {
			return resp, nil
		}

		if resp.Content != "" {
			req.Messages = append(req.Messages, providers.Message{Role: providers.RoleAssistant, Content: resp.Content})
		}
		for _, tc := range resp.ToolCalls {
			result, err := l.registry.Invoke(ctx, tc.Name, tc.Args)
			if err != nil {
				l.log.Warn("tool invocation failed", "tool", tc.Name, "error", err.Error())
				result = fmt.Sprintf("error: %v", err)
			}
			req.Messages = append(req.Messages, providers.Message{
				Role:    providers.RoleTool,
				Content: fmt.Sprintf("[%s] %s", tc.Name, result),
			})
		}
	}

	l.log.Warn("tool round bound reached", "model", ref, "max_rounds", l.maxRounds)
	return resp, nil
}
