package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/medsterhq/medster/internal/agent/config"
	"github.com/medsterhq/medster/internal/agent/telemetry"
)

// Gateway routes pipeline stages to configured models and classifies raw
// model responses. All model traffic goes through it so retries, cost
// tracking, and routing live in one place.
type Gateway struct {
	provider LLMProvider
	routing  config.LLMRoutingConfig
	telem    *telemetry.Telemetry
	logger   *log.Logger
	retries  int
}

// Pipeline stages used for model routing.
const (
	StagePlanning   = "planning"
	StageExecution  = "execution"
	StageValidation = "validation"
	StageSynthesis  = "synthesis"
)

// NewGateway creates a gateway with the routing table from cfg.
func NewGateway(provider LLMProvider, cfg *config.Config, telem *telemetry.Telemetry, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags)
	}
	return &Gateway{
		provider: provider,
		routing:  cfg.LLM.Routing,
		telem:    telem,
		logger:   logger,
		retries:  2,
	}
}

func (g *Gateway) model(stage string) string {
	var m string
	switch stage {
	case StagePlanning:
		m = g.routing.Planning
	case StageExecution:
		m = g.routing.Execution
	case StageValidation:
		m = g.routing.Validation
	case StageSynthesis:
		m = g.routing.Synthesis
	}
	if m == "" {
		m = g.routing.Fallback
	}
	return m
}

// Ask makes one model call for a stage and classifies the response.
// Gateway failures come back as a ResultError value rather than a Go
// error, so callers can tell "the ask failed" apart from "the model chose
// to stop".
func (g *Gateway) Ask(ctx context.Context, stage string, prompt string, options map[string]interface{}) ModelResult {
	raw, err := g.call(ctx, stage, prompt, options)
	if err != nil {
		return ModelResult{Kind: ResultError, Err: err.Error()}
	}
	return Classify(raw)
}

// AskStructured makes one model call that must yield a JSON object.
func (g *Gateway) AskStructured(ctx context.Context, stage string, prompt string, options map[string]interface{}) (map[string]interface{}, error) {
	raw, err := g.call(ctx, stage, prompt, options)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(extractFirstJSON(raw)), &doc); err != nil {
		return nil, fmt.Errorf("structured response not valid JSON: %w", err)
	}
	return doc, nil
}

// AskText makes one free-text model call.
func (g *Gateway) AskText(ctx context.Context, stage string, prompt string, options map[string]interface{}) (string, error) {
	return g.call(ctx, stage, prompt, options)
}

func (g *Gateway) call(ctx context.Context, stage string, prompt string, options map[string]interface{}) (string, error) {
	model := g.model(stage)
	if model == "" {
		return "", fmt.Errorf("no model routed for stage %s", stage)
	}

	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}

		start := time.Now()
		out, inTok, outTok, err := g.provider.GenerateWithTokens(ctx, prompt, model, options)
		if err != nil {
			lastErr = err
			g.logger.Printf("model call failed (stage=%s model=%s attempt=%d): %v", stage, model, attempt+1, err)
			continue
		}

		if g.telem != nil {
			g.telem.RecordLLMEvent(ctx, telemetry.LLMEvent{
				Model:        model,
				Stage:        stage,
				InputTokens:  inTok,
				OutputTokens: outTok,
				Cost:         g.provider.CalculateCost(inTok, outTok, model),
				Duration:     time.Since(start),
			})
		}
		return out, nil
	}
	return "", fmt.Errorf("model call failed after %d attempts: %w", g.retries+1, lastErr)
}

// Classify maps a raw model response onto a ModelResult. A JSON object
// carrying a "tool_calls" array is a tool request; any other JSON object
// is structured output; everything else is free text.
func Classify(raw string) ModelResult {
	trimmed := strings.TrimSpace(raw)

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(extractFirstJSON(trimmed)), &doc); err != nil {
		return ModelResult{Kind: ResultFreeText, Text: trimmed}
	}

	rawCalls, ok := doc["tool_calls"].([]interface{})
	if !ok {
		return ModelResult{Kind: ResultStructured, Text: trimmed, Value: doc}
	}

	calls := make([]ToolCall, 0, len(rawCalls))
	for _, rc := range rawCalls {
		m, ok := rc.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := m["tool"].(string)
		if name == "" {
			name, _ = m["name"].(string)
		}
		if name == "" {
			continue
		}
		args, _ := m["arguments"].(map[string]interface{})
		calls = append(calls, ToolCall{Tool: name, Arguments: args})
	}
	return ModelResult{Kind: ResultToolRequest, Calls: calls}
}
