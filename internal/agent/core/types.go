package core

import (
	"context"
	"time"
)

// Task is one planned unit of work toward answering a query.
type Task struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ResultKind discriminates the shape of a classified model response.
type ResultKind string

const (
	ResultFreeText    ResultKind = "free_text"
	ResultStructured  ResultKind = "structured"
	ResultToolRequest ResultKind = "tool_request"
	ResultError       ResultKind = "error"
)

// ModelResult is the classified outcome of one gateway call. Only the
// fields implied by Kind are populated.
type ModelResult struct {
	Kind  ResultKind
	Text  string
	Value map[string]interface{}
	Calls []ToolCall
	Err   string
}

// Run statuses, in pipeline order. Aborted is terminal and reachable only
// from the executing state.
const (
	StatusPlanning     = "planning"
	StatusExecuting    = "executing"
	StatusValidating   = "validating"
	StatusSynthesizing = "synthesizing"
	StatusDone         = "done"
	StatusAborted      = "aborted"
)

// UploadedContent is file content embedded in the raw query text.
type UploadedContent struct {
	Filename string
	Content  string
}

// RunContext carries all mutable state for one query. One instance is
// created per run and never shared across runs.
type RunContext struct {
	Query    string
	Uploaded *UploadedContent

	Tasks []Task

	// TaskOutputs accumulates every formatted tool output across the whole
	// run. TaskStepOutputs holds only the current task's outputs and is
	// reset each time a new task is selected; its elements also appear, in
	// the same order, in TaskOutputs.
	TaskOutputs     []string
	TaskStepOutputs []string

	GlobalSteps int

	// Signatures is a sliding window of the most recent action signatures,
	// newest last, capped at signatureWindow entries.
	Signatures []string

	Status  string
	Aborted bool

	// GoalMet is set once the goal validator confirms the query is
	// answered.
	GoalMet bool
}

// AppendOutput records a formatted tool output in both histories.
func (rc *RunContext) AppendOutput(out string) {
	rc.TaskOutputs = append(rc.TaskOutputs, out)
	rc.TaskStepOutputs = append(rc.TaskStepOutputs, out)
}

// RunResult is what Agent.Run reports back to callers.
type RunResult struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	Status     string    `json:"status"`
	Steps      int       `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ModelInfo contains information about an available model
type ModelInfo struct {
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	MaxTokens       int     `json:"max_tokens"`
	CostPer1KInput  float64 `json:"cost_per_1k_input"`
	CostPer1KOutput float64 `json:"cost_per_1k_output"`
	Description     string  `json:"description"`
}

// LLMProvider defines the interface for LLM providers
type LLMProvider interface {
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)
	GetAvailableModels() []string
	GetModelInfo(model string) (ModelInfo, error)
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}
