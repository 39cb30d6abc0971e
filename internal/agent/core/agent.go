package core

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medsterhq/medster/internal/agent/config"
	"github.com/medsterhq/medster/internal/agent/telemetry"
	"github.com/medsterhq/medster/internal/tools"
)

// Agent wires the pipeline together: plan, execute, validate, synthesize.
// One agent instance processes one query at a time; concurrent Run calls
// on the same instance are not supported.
type Agent struct {
	cfg      *config.Config
	logger   *log.Logger
	telem    *telemetry.Telemetry
	registry *tools.Registry

	gateway   *Gateway
	planner   *Planner
	executor  *Executor
	validator *Validator
	synth     *Synthesizer
}

// NewAgent builds an agent from configuration, a model provider, and a
// tool registry.
func NewAgent(cfg *config.Config, provider LLMProvider, registry *tools.Registry, telem *telemetry.Telemetry, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}

	gateway := NewGateway(provider, cfg, telem, logger)
	validator := NewValidator(gateway, cfg.Context.MaxOutputTokens, logger)

	return &Agent{
		cfg:       cfg,
		logger:    logger,
		telem:     telem,
		registry:  registry,
		gateway:   gateway,
		planner:   NewPlanner(gateway, logger),
		executor:  NewExecutor(gateway, registry, validator, cfg, telem, logger),
		validator: validator,
		synth:     NewSynthesizer(gateway, cfg.Context.MaxOutputTokens, logger),
	}
}

// Run executes one query end to end. It always returns a result with a
// non-empty answer; every internal failure is absorbed into the answer
// text rather than returned as an error.
func (a *Agent) Run(ctx context.Context, query string) RunResult {
	started := time.Now()
	id := uuid.NewString()

	if strings.TrimSpace(query) == "" {
		a.logger.Printf("run %s rejected: empty query", id)
		return RunResult{
			ID:         id,
			Query:      query,
			Answer:     "No question was provided. Please ask a clinical data question.",
			Status:     StatusDone,
			StartedAt:  started,
			FinishedAt: time.Now(),
		}
	}

	rc := &RunContext{
		Query:    query,
		Uploaded: ExtractUploadedContent(query),
		Status:   StatusPlanning,
	}
	if rc.Uploaded != nil {
		a.logger.Printf("run %s: uploaded file %q detected (%d chars)", id, rc.Uploaded.Filename, len(rc.Uploaded.Content))
	}

	rc.Tasks = a.planner.Plan(ctx, query, a.registry.Catalog())

	if len(rc.Tasks) > 0 {
		rc.Status = StatusExecuting
		a.executor.ExecuteTasks(ctx, rc)

		// One replanning round: when every task finished but the goal
		// check found the data insufficient and budget remains, ask for
		// additional tasks and run them before synthesizing.
		rc.Status = StatusValidating
		if !rc.Aborted && !rc.GoalMet && !anyPending(rc.Tasks) && a.executor.BudgetRemaining(rc) {
			more := a.planner.Replan(ctx, query, rc.Tasks, a.registry.Catalog())
			if len(more) > 0 {
				base := len(rc.Tasks)
				for i := range more {
					more[i].ID = base + i + 1
				}
				rc.Tasks = append(rc.Tasks, more...)
				rc.Status = StatusExecuting
				a.executor.ExecuteTasks(ctx, rc)
			}
		}
	}

	rc.Status = StatusSynthesizing
	answer := a.synth.Synthesize(ctx, rc)

	status := StatusDone
	if rc.Aborted {
		status = StatusAborted
	}
	finished := time.Now()

	if a.telem != nil {
		a.telem.RecordRunEvent(ctx, telemetry.RunEvent{
			ID:        id,
			Query:     query,
			StartTime: started,
			EndTime:   finished,
			RunTime:   finished.Sub(started),
			Status:    status,
			Steps:     rc.GlobalSteps,
		})
	}
	a.logger.Printf("run %s finished: status=%s steps=%d duration=%s", id, status, rc.GlobalSteps, finished.Sub(started))

	return RunResult{
		ID:         id,
		Query:      query,
		Answer:     answer,
		Status:     status,
		Steps:      rc.GlobalSteps,
		StartedAt:  started,
		FinishedAt: finished,
	}
}
