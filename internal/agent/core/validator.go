package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/medsterhq/medster/internal/contextmgr"
)

// Validator answers per-task and whole-goal completion questions. Both
// checks fail safe: any gateway problem reads as "not done", preferring
// more work over a premature answer.
type Validator struct {
	gateway         *Gateway
	logger          *log.Logger
	maxOutputTokens int
}

// NewValidator creates a validator bound to the given gateway.
func NewValidator(gateway *Gateway, maxOutputTokens int, logger *log.Logger) *Validator {
	if logger == nil {
		logger = log.New(log.Writer(), "[VALIDATOR] ", log.LstdFlags)
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = contextmgr.DefaultMaxOutputTokens
	}
	return &Validator{gateway: gateway, logger: logger, maxOutputTokens: maxOutputTokens}
}

const taskDonePrompt = `A data-gathering task was being executed against a clinical dataset.

TASK: %s

OUTPUTS PRODUCED FOR THIS TASK:
%s

Is this task complete, meaning the outputs above contain the data the task asked for?
Respond ONLY as strict JSON: {"done": true} or {"done": false}`

// TaskDone asks the model whether one task's outputs satisfy its
// description.
func (v *Validator) TaskDone(ctx context.Context, task *Task, stepOutputs []string) bool {
	outputs := strings.Join(contextmgr.ManageContextSize(stepOutputs, v.maxOutputTokens), "\n\n")
	if strings.TrimSpace(outputs) == "" {
		outputs = "(no outputs)"
	}

	doc, err := v.gateway.AskStructured(ctx, StageValidation, fmt.Sprintf(taskDonePrompt, task.Description, outputs), nil)
	if err != nil {
		v.logger.Printf("task-done check failed for task %d, treating as not done: %v", task.ID, err)
		return false
	}
	done, _ := doc["done"].(bool)
	return done
}

const goalPrompt = `A clinical question was broken into tasks and data was collected.

QUESTION: %s

TASKS (all are marked done):
%s

DATA COLLECTED:
%s

Is the collected data sufficient to answer the question comprehensively?
Respond ONLY as strict JSON: {"achieved": true} or {"achieved": false}`

// GoalAchieved decides whether the overall question is answered. A plan
// with any not-done task can never be achieved; that precondition is
// enforced here, before any model call. The model only judges data
// sufficiency.
func (v *Validator) GoalAchieved(ctx context.Context, rc *RunContext) bool {
	for _, t := range rc.Tasks {
		if !t.Done {
			return false
		}
	}

	var plan strings.Builder
	for _, t := range rc.Tasks {
		fmt.Fprintf(&plan, "- [%d] %s\n", t.ID, t.Description)
	}

	data := strings.Join(contextmgr.ManageContextSize(rc.TaskOutputs, v.maxOutputTokens), "\n\n")
	if strings.TrimSpace(data) == "" {
		data = "(no data collected)"
	}

	doc, err := v.gateway.AskStructured(ctx, StageValidation, fmt.Sprintf(goalPrompt, rc.Query, plan.String(), data), nil)
	if err != nil {
		v.logger.Printf("goal check failed, treating as not achieved: %v", err)
		return false
	}
	achieved, _ := doc["achieved"].(bool)
	return achieved
}
