// Package classify routes questions between the consensus and voting
// protocols and tags them with a coarse taxonomy. Both calls use a cheap
// model with schema-validated JSON output.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/quorumlabs/quorum/internal/consensus"
	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/providers"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/store"
)

const protocolSchema = `{
	"type": "object",
	"properties": {
		"kind": {"type": "string", "enum": ["reasoning", "judgment"]}
	},
	"required": ["kind"]
}`

const taxonomySchema = `{
	"type": "object",
	"properties": {
		"intent": {"type": "string", "enum": ["factual", "technical", "creative", "judgment", "strategic"]},
		"category": {"type": "string"},
		"genus": {"type": "string"},
		"complexity": {"type": "string", "enum": ["trivial", "moderate", "complex"]}
	},
	"required": ["intent"]
}`

// Classifier implements the orchestrator's Classifier contract.
type Classifier struct {
	log   *slog.Logger
	reg   *registry.Registry
	store store.Store

	protocolSch *jsonschema.Schema
	taxonomySch *jsonschema.Schema
}

func New(log *slog.Logger, reg *registry.Registry, st store.Store) (*Classifier, error) {
	compile := func(name, raw string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse %s schema: %w", name, err)
		}
		c := jsonschema.NewCompiler()
		url := "inline://" + name
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		return c.Compile(url)
	}

	p, err := compile("protocol", protocolSchema)
	if err != nil {
		return nil, err
	}
	tax, err := compile("taxonomy", taxonomySchema)
	if err != nil {
		return nil, err
	}
	return &Classifier{log: log, reg: reg, store: st, protocolSch: p, taxonomySch: tax}, nil
}

// cheapest picks the lowest input-rate model across the whole registry.
// Utility classification is never panel-restricted.
func (c *Classifier) cheapest() (providers.ModelInfo, error) {
	models := c.reg.Available()
	if len(models) == 0 {
		return providers.ModelInfo{}, fault.New(fault.KindInsufficientModels, "no models available to classify")
	}
	best := models[0]
	for _, m := range models[1:] {
		if m.InputPerMTok < best.InputPerMTok ||
			(m.InputPerMTok == best.InputPerMTok && m.Ref < best.Ref) {
			best = m
		}
	}
	return best, nil
}

// Protocol classifies a question as reasoning (consensus) or judgment
// (voting).
func (c *Classifier) Protocol(ctx context.Context, turnID, question string, budget *registry.Budget) (string, error) {
	req := providers.Request{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: `Classify the question. Reply with JSON only: {"kind": "reasoning"} for questions needing structured analysis and debate, {"kind": "judgment"} for matters of preference or evaluation.`},
			{Role: providers.RoleUser, Content: question},
		},
		MaxTokens: 64,
	}
	content, err := c.call(ctx, turnID, req, budget)
	if err != nil {
		return "", err
	}

	var out struct {
		Kind string `json:"kind"`
	}
	if err := c.parse(content, c.protocolSch, &out); err != nil {
		return "", err
	}
	if out.Kind == "judgment" {
		return consensus.ProtocolVoting, nil
	}
	return consensus.ProtocolConsensus, nil
}

// Classify tags a question with intent, category, genus and complexity.
func (c *Classifier) Classify(ctx context.Context, turnID, question string, budget *registry.Budget) (consensus.Taxonomy, error) {
	req := providers.Request{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: `Tag the question. Reply with JSON only: {"intent": one of factual|technical|creative|judgment|strategic, "category": short topic, "genus": question form, "complexity": trivial|moderate|complex}.`},
			{Role: providers.RoleUser, Content: question},
		},
		MaxTokens: 128,
	}
	content, err := c.call(ctx, turnID, req, budget)
	if err != nil {
		return consensus.Taxonomy{}, err
	}

	var tax consensus.Taxonomy
	if err := c.parse(content, c.taxonomySch, &tax); err != nil {
		return consensus.Taxonomy{}, err
	}
	return tax, nil
}

func (c *Classifier) call(ctx context.Context, turnID string, req providers.Request, budget *registry.Budget) (string, error) {
	m, err := c.cheapest()
	if err != nil {
		return "", err
	}
	resp, err := c.reg.Call(ctx, m.Ref, store.RoleClassifier, req, budget)
	if err != nil {
		return "", err
	}
	if err := c.store.AddContribution(ctx, store.ContributionRecord{
		ID:           uuid.NewString(),
		TurnID:       turnID,
		ModelRef:     m.Ref,
		Role:         store.RoleClassifier,
		Content:      resp.Content,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      registry.Cost(m, resp.Usage),
		LatencyMs:    resp.LatencyMs,
	}); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// parse validates the model's JSON against the schema, then decodes it.
// A markdown code fence around the object is tolerated.
func (c *Classifier) parse(content string, sch *jsonschema.Schema, out any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(s))
	if err != nil {
		return fault.New(fault.KindInvalidState, "classifier output is not JSON: %v", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fault.New(fault.KindInvalidState, "classifier output failed validation: %v", err)
	}
	return json.Unmarshal([]byte(s), out)
}
