package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medsterhq/medster/internal/agent/config"
	"github.com/medsterhq/medster/internal/agent/telemetry"
	"github.com/medsterhq/medster/internal/contextmgr"
	"github.com/medsterhq/medster/internal/tools"
)

const (
	// signatureWindow is how many recent action signatures are retained.
	signatureWindow = 4

	// repetitionThreshold aborts the run once this many identical
	// signatures appear in a row.
	repetitionThreshold = 3

	// maxStalledPasses bounds outer-loop passes that make no progress at
	// all (model gateway down), which would otherwise spin forever since
	// they consume no steps.
	maxStalledPasses = 3
)

// Executor drives the task loop: one model call per inner iteration, tools
// executed strictly in request order, hard global and per-task step caps.
// It never returns an error; every failure is absorbed into the output
// histories.
type Executor struct {
	gateway   *Gateway
	registry  *tools.Registry
	validator *Validator
	telem     *telemetry.Telemetry
	logger    *log.Logger

	maxTotalSteps         int
	maxStepsPerTask       int
	maxOutputTokens       int
	maxSingleOutputTokens int
	maxListItems          int
}

// NewExecutor creates an executor bound to the gateway and tool registry.
func NewExecutor(gateway *Gateway, registry *tools.Registry, validator *Validator, cfg *config.Config, telem *telemetry.Telemetry, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags)
	}
	e := &Executor{
		gateway:               gateway,
		registry:              registry,
		validator:             validator,
		telem:                 telem,
		logger:                logger,
		maxTotalSteps:         cfg.Execution.MaxTotalSteps,
		maxStepsPerTask:       cfg.Execution.MaxStepsPerTask,
		maxOutputTokens:       cfg.Context.MaxOutputTokens,
		maxSingleOutputTokens: cfg.Context.MaxSingleOutputTokens,
		maxListItems:          cfg.Context.MaxListItems,
	}
	if e.maxTotalSteps <= 0 {
		e.maxTotalSteps = 50
	}
	if e.maxStepsPerTask <= 0 {
		e.maxStepsPerTask = 12
	}
	if e.maxOutputTokens <= 0 {
		e.maxOutputTokens = contextmgr.DefaultMaxOutputTokens
	}
	if e.maxSingleOutputTokens <= 0 {
		e.maxSingleOutputTokens = contextmgr.DefaultMaxSingleOutputTokens
	}
	if e.maxListItems <= 0 {
		e.maxListItems = contextmgr.DefaultMaxListItems
	}
	return e
}

// ExecuteTasks runs rc.Tasks in plan order until every task is done, the
// global step budget runs out, the repetition guard fires, or the goal
// validator declares the query answered.
func (e *Executor) ExecuteTasks(ctx context.Context, rc *RunContext) {
	stalled := 0

	for anyPending(rc.Tasks) && rc.GlobalSteps < e.maxTotalSteps {
		task := nextPending(rc.Tasks)
		rc.TaskStepOutputs = nil
		perTaskSteps := 0

		gatewayFailed := false
		modelStopped := false

	inner:
		for perTaskSteps < e.maxStepsPerTask {
			if rc.GlobalSteps >= e.maxTotalSteps {
				e.logger.Printf("global step budget exhausted (%d), stopping", e.maxTotalSteps)
				return
			}

			result := e.gateway.Ask(ctx, StageExecution, e.actionPrompt(rc, task), nil)
			switch result.Kind {
			case ResultError:
				e.logger.Printf("action request failed for task %d: %s", task.ID, result.Err)
				gatewayFailed = true
				break inner
			case ResultToolRequest:
				if len(result.Calls) == 0 {
					modelStopped = true
					break inner
				}
			default:
				// free text or structured output means the model has
				// nothing further to run for this task
				modelStopped = true
				break inner
			}

			for _, call := range result.Calls {
				if rc.GlobalSteps >= e.maxTotalSteps {
					break inner
				}

				if len(call.Arguments) == 0 {
					rc.AppendOutput(fmt.Sprintf("Tool call skipped: %s (no arguments provided)", call.Tool))
					continue
				}

				args := e.optimizeArgs(rc, call)

				rc.Signatures = append(rc.Signatures, actionSignature(call.Tool, args))
				if len(rc.Signatures) > signatureWindow {
					rc.Signatures = rc.Signatures[len(rc.Signatures)-signatureWindow:]
				}
				if repeatedSignature(rc.Signatures) {
					e.logger.Printf("loop detected: %s requested %d times in a row, aborting run", call.Tool, repetitionThreshold)
					rc.AppendOutput(fmt.Sprintf("Loop detected: tool %s requested with identical arguments %d times in a row; run aborted.", call.Tool, repetitionThreshold))
					rc.Aborted = true
					return
				}

				rc.AppendOutput(e.invoke(ctx, call.Tool, args))
				rc.GlobalSteps++
				perTaskSteps++
			}
		}

		// Completion checks. A failed gateway ask leaves the task pending
		// without asking the validator anything.
		switch {
		case gatewayFailed:
			task.Done = false
		default:
			if ov := matchOverride(task.Description); ov != nil && !ov.satisfied(rc.TaskStepOutputs) {
				e.logger.Printf("task %d (%s) held open: required tooling for %s never ran", task.ID, task.Description, ov.Name)
				task.Done = false
			} else if modelStopped {
				task.Done = true
			} else {
				task.Done = e.validator.TaskDone(ctx, task, rc.TaskStepOutputs)
			}
		}

		if perTaskSteps == 0 && !task.Done {
			stalled++
			if stalled >= maxStalledPasses {
				e.logger.Printf("no progress after %d passes, stopping", stalled)
				return
			}
		} else {
			stalled = 0
		}

		if task.Done && e.validator.GoalAchieved(ctx, rc) {
			e.logger.Printf("goal achieved after task %d, stopping early", task.ID)
			rc.GoalMet = true
			return
		}
	}
}

// BudgetRemaining reports whether the run can still execute tool steps.
func (e *Executor) BudgetRemaining(rc *RunContext) bool {
	return rc.GlobalSteps < e.maxTotalSteps
}

func anyPending(tasks []Task) bool {
	for _, t := range tasks {
		if !t.Done {
			return true
		}
	}
	return false
}

func nextPending(tasks []Task) *Task {
	for i := range tasks {
		if !tasks[i].Done {
			return &tasks[i]
		}
	}
	return nil
}

const actionPromptTemplate = `You are gathering clinical data to complete one task.

TASK: %s

AVAILABLE TOOLS:
%s
%s
DATA COLLECTED SO FAR:
%s

Decide the next tool call(s) needed to complete the task.
Respond ONLY as strict JSON: {"tool_calls": [{"tool": "...", "arguments": {...}}]}
If the task needs no further tool calls, respond with {"tool_calls": []}.`

func (e *Executor) actionPrompt(rc *RunContext, task *Task) string {
	outputs := make([]string, 0, len(rc.TaskOutputs)+len(rc.TaskStepOutputs))
	outputs = append(outputs, rc.TaskOutputs...)
	outputs = append(outputs, rc.TaskStepOutputs...)

	stats := contextmgr.GetContextStats(outputs, e.maxOutputTokens)
	if stats.AtRisk {
		e.logger.Printf("context utilization at %.0f%% of %d tokens, older outputs will drop", stats.UsagePercent, stats.MaxTokens)
	}
	managed := contextmgr.ManageContextSize(outputs, e.maxOutputTokens)

	collected := strings.Join(managed, "\n\n")
	if strings.TrimSpace(collected) == "" {
		collected = "(none yet)"
	}

	uploaded := ""
	if rc.Uploaded != nil {
		uploaded = fmt.Sprintf("\nAn uploaded file %q is available; its content is injected automatically when a document tool omits note_text.\n", rc.Uploaded.Filename)
	}

	return fmt.Sprintf(actionPromptTemplate, task.Description, e.registry.Catalog(), uploaded, collected)
}

// optimizeArgs copies the requested arguments and fills in uploaded file
// content where a document tool expects text the model did not supply.
func (e *Executor) optimizeArgs(rc *RunContext, call ToolCall) map[string]interface{} {
	args := make(map[string]interface{}, len(call.Arguments))
	for k, v := range call.Arguments {
		args[k] = v
	}
	if rc.Uploaded != nil && call.Tool == "analyze_medical_document" {
		if s, _ := args["note_text"].(string); s == "" {
			args["note_text"] = rc.Uploaded.Content
		}
	}
	return args
}

// invoke executes one tool and formats the outcome. Tool failures become
// annotated output strings, never errors.
func (e *Executor) invoke(ctx context.Context, tool string, args map[string]interface{}) string {
	start := time.Now()
	result, err := e.registry.Execute(ctx, tool, args)
	if e.telem != nil {
		event := telemetry.ToolEvent{
			ID:       uuid.NewString(),
			Tool:     tool,
			Duration: time.Since(start),
			Success:  err == nil,
		}
		if err != nil {
			event.Error = err.Error()
		}
		e.telem.RecordToolEvent(ctx, event)
	}
	if err != nil {
		argsJSON, merr := json.Marshal(args)
		if merr != nil {
			argsJSON = []byte("{}")
		}
		return fmt.Sprintf("Tool: %s\nArguments: %s\nError: %s", tool, argsJSON, err.Error())
	}
	return contextmgr.FormatOutput(tool, args, result, e.maxListItems, e.maxSingleOutputTokens)
}

// actionSignature identifies a proposed tool call for repetition
// detection. json.Marshal sorts map keys, so equal argument sets produce
// equal signatures regardless of request order.
func actionSignature(tool string, args map[string]interface{}) string {
	payload, err := json.Marshal(args)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", args))
	}
	return tool + ":" + string(payload)
}

func repeatedSignature(window []string) bool {
	if len(window) < repetitionThreshold {
		return false
	}
	last := window[len(window)-1]
	for _, sig := range window[len(window)-repetitionThreshold:] {
		if sig != last {
			return false
		}
	}
	return true
}
