package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/medsterhq/medster/internal/agent/config"
)

// Telemetry provides monitoring and cost tracking for agent runs
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds various performance metrics
type Metrics struct {
	// Run metrics
	TotalRuns          int64
	SuccessfulRuns     int64
	FailedRuns         int64
	AbortedRuns        int64
	AverageRunTime     time.Duration
	TotalStepsExecuted int64

	// Tool metrics
	ToolExecutions   map[string]int64
	ToolSuccessRates map[string]float64
	ToolAverageTimes map[string]time.Duration

	// LLM metrics
	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64
}

// CostTracker tracks costs across LLM providers and pipeline stages
type CostTracker struct {
	StageCosts map[string]float64 // stage -> cost
	ModelCosts map[string]float64 // model -> cost

	TotalCost   float64
	TotalTokens int64
}

// RunEvent represents one complete agent run
type RunEvent struct {
	ID          string
	Query       string
	StartTime   time.Time
	EndTime     time.Time
	RunTime     time.Duration
	Status      string // done, aborted, failed
	Error       string
	Steps       int
	Cost        float64
	TokensUsed  int64
	ToolsUsed   []string
	ModelsUsed  []string
}

// ToolEvent represents a single tool execution
type ToolEvent struct {
	ID       string
	Tool     string
	Duration time.Duration
	Success  bool
	Error    string
}

// LLMEvent represents one model call
type LLMEvent struct {
	Model        string
	Stage        string // planning, execution, validation, synthesis
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	Duration     time.Duration
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(config config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: config,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			ToolExecutions:   make(map[string]int64),
			ToolSuccessRates: make(map[string]float64),
			ToolAverageTimes: make(map[string]time.Duration),
			LLMRequests:      make(map[string]int64),
			LLMTokensUsed:    make(map[string]int64),
		},
		costTracker: &CostTracker{
			StageCosts: make(map[string]float64),
			ModelCosts: make(map[string]float64),
		},
	}
}

// RecordRunEvent records a complete run
func (t *Telemetry) RecordRunEvent(ctx context.Context, event RunEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	switch event.Status {
	case "done":
		t.metrics.SuccessfulRuns++
	case "aborted":
		t.metrics.AbortedRuns++
	default:
		t.metrics.FailedRuns++
	}
	t.metrics.TotalStepsExecuted += int64(event.Steps)

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = event.RunTime
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + event.RunTime) / time.Duration(t.metrics.TotalRuns)
	}

	for _, tool := range event.ToolsUsed {
		t.metrics.ToolExecutions[tool]++
	}
	for _, model := range event.ModelsUsed {
		t.metrics.LLMRequests[model]++
	}

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed

	t.logger.Printf("Run Event: ID=%s, Status=%s, Steps=%d, Duration=%v, Cost=$%.4f, Tokens=%d",
		event.ID, event.Status, event.Steps, event.RunTime, event.Cost, event.TokensUsed)
}

// RecordToolEvent records a single tool execution
func (t *Telemetry) RecordToolEvent(ctx context.Context, event ToolEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.ToolExecutions[event.Tool]++

	currentSuccess := t.metrics.ToolSuccessRates[event.Tool] * float64(t.metrics.ToolExecutions[event.Tool]-1)
	if event.Success {
		currentSuccess += 1.0
	}
	t.metrics.ToolSuccessRates[event.Tool] = currentSuccess / float64(t.metrics.ToolExecutions[event.Tool])

	currentAvg := t.metrics.ToolAverageTimes[event.Tool]
	executions := t.metrics.ToolExecutions[event.Tool]
	if executions == 1 {
		t.metrics.ToolAverageTimes[event.Tool] = event.Duration
	} else {
		total := currentAvg * time.Duration(executions-1)
		t.metrics.ToolAverageTimes[event.Tool] = (total + event.Duration) / time.Duration(executions)
	}

	t.logger.Printf("Tool Event: Tool=%s, Success=%t, Duration=%v", event.Tool, event.Success, event.Duration)
}

// RecordLLMEvent records one model call
func (t *Telemetry) RecordLLMEvent(ctx context.Context, event LLMEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tokens := event.InputTokens + event.OutputTokens
	t.metrics.LLMRequests[event.Model]++
	t.metrics.LLMTokensUsed[event.Model] += tokens

	if t.config.CostTracking {
		t.costTracker.TotalCost += event.Cost
		t.costTracker.TotalTokens += tokens
		t.costTracker.ModelCosts[event.Model] += event.Cost
		t.costTracker.StageCosts[event.Stage] += event.Cost
	}
}

// GetMetrics returns current metrics snapshot
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Deep copy to avoid race conditions
	metrics := *t.metrics
	metrics.ToolExecutions = make(map[string]int64)
	metrics.ToolSuccessRates = make(map[string]float64)
	metrics.ToolAverageTimes = make(map[string]time.Duration)
	metrics.LLMRequests = make(map[string]int64)
	metrics.LLMTokensUsed = make(map[string]int64)

	for k, v := range t.metrics.ToolExecutions {
		metrics.ToolExecutions[k] = v
	}
	for k, v := range t.metrics.ToolSuccessRates {
		metrics.ToolSuccessRates[k] = v
	}
	for k, v := range t.metrics.ToolAverageTimes {
		metrics.ToolAverageTimes[k] = v
	}
	for k, v := range t.metrics.LLMRequests {
		metrics.LLMRequests[k] = v
	}
	for k, v := range t.metrics.LLMTokensUsed {
		metrics.LLMTokensUsed[k] = v
	}

	return metrics
}

// GetCostSummary returns current cost summary
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		StageCosts:  make(map[string]float64),
		ModelCosts:  make(map[string]float64),
	}

	for k, v := range t.costTracker.StageCosts {
		summary.StageCosts[k] = v
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}

	return summary
}

// CostSummary provides a summary of costs
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	StageCosts  map[string]float64
	ModelCosts  map[string]float64
}

// CalculateCost calculates the cost for a given number of tokens and model
func (t *Telemetry) CalculateCost(inputTokens, outputTokens int64, costPer1KInput, costPer1KOutput float64) float64 {
	inputCost := float64(inputTokens) / 1000.0 * costPer1KInput
	outputCost := float64(outputTokens) / 1000.0 * costPer1KOutput
	return inputCost + outputCost
}

// Shutdown logs a final report
func (t *Telemetry) Shutdown() {
	t.logger.Println("Shutting down telemetry system...")

	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Runs: %d", metrics.TotalRuns)
	if metrics.TotalRuns > 0 {
		t.logger.Printf("  Success Rate: %.2f%%", float64(metrics.SuccessfulRuns)/float64(metrics.TotalRuns)*100)
	}
	t.logger.Printf("  Average Run Time: %v", metrics.AverageRunTime)
	t.logger.Printf("  Total Steps Executed: %d", metrics.TotalStepsExecuted)
	t.logger.Printf("  Total Cost: $%.4f", costs.TotalCost)
	t.logger.Printf("  Total Tokens: %d", costs.TotalTokens)
}

// GetPerformanceReport returns a detailed performance report
func (t *Telemetry) GetPerformanceReport() string {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	report := fmt.Sprintf(`
=== PERFORMANCE REPORT ===
Overall Metrics:
  Total Runs: %d
  Successful: %d
  Aborted: %d
  Failed: %d
  Average Run Time: %v
  Total Cost: $%.4f
  Total Tokens: %d

Tool Performance:
`, metrics.TotalRuns, metrics.SuccessfulRuns, metrics.AbortedRuns, metrics.FailedRuns,
		metrics.AverageRunTime, costs.TotalCost, costs.TotalTokens)

	for tool, executions := range metrics.ToolExecutions {
		successRate := metrics.ToolSuccessRates[tool]
		avgTime := metrics.ToolAverageTimes[tool]
		report += fmt.Sprintf("  %s: %d executions, %.2f%% success, %v avg time\n",
			tool, executions, successRate*100, avgTime)
	}

	report += "\nLLM Usage:\n"
	for model, requests := range metrics.LLMRequests {
		tokens := metrics.LLMTokensUsed[model]
		cost := costs.ModelCosts[model]
		report += fmt.Sprintf("  %s: %d requests, %d tokens, $%.4f\n",
			model, requests, tokens, cost)
	}

	return report
}
