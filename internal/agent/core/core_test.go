package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/medsterhq/medster/internal/agent/config"
	"github.com/medsterhq/medster/internal/agent/telemetry"
	"github.com/medsterhq/medster/internal/fhir"
	"github.com/medsterhq/medster/internal/tools"
)

type stubProvider struct {
	fn      func(call int, prompt string) (string, error)
	calls   int
	prompts []string
}

func (s *stubProvider) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	out, _, _, err := s.GenerateWithTokens(ctx, prompt, model, options)
	return out, err
}

func (s *stubProvider) GenerateWithTokens(ctx context.Context, prompt, model string, options map[string]interface{}) (string, int64, int64, error) {
	s.calls++
	s.prompts = append(s.prompts, prompt)
	out, err := s.fn(s.calls, prompt)
	return out, 10, 5, err
}

func (s *stubProvider) GetAvailableModels() []string { return []string{"m"} }

func (s *stubProvider) GetModelInfo(model string) (ModelInfo, error) {
	return ModelInfo{Name: model, Provider: "stub"}, nil
}

func (s *stubProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 { return 0 }

type probeTool struct {
	calls    int
	fail     bool
	argsSeen []map[string]interface{}
}

func (p *probeTool) Name() string        { return "probe" }
func (p *probeTool) Description() string { return "records invocations" }
func (p *probeTool) Schema() string {
	return `{"type":"object","properties":{"n":{"type":"number"}},"additionalProperties":true}`
}

func (p *probeTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	p.calls++
	p.argsSeen = append(p.argsSeen, args)
	if p.fail {
		return nil, fmt.Errorf("probe exploded")
	}
	return map[string]interface{}{"ok": true}, nil
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{Routing: config.LLMRoutingConfig{
			Planning: "m", Execution: "m", Validation: "m", Synthesis: "m", Fallback: "m",
		}},
		Execution: config.ExecutionConfig{MaxTotalSteps: 50, MaxStepsPerTask: 12},
		Context:   config.ContextConfig{MaxOutputTokens: 50000, MaxSingleOutputTokens: 10000, MaxListItems: 20},
	}
}

func newTestGateway(p LLMProvider, cfg *config.Config) *Gateway {
	g := NewGateway(p, cfg, nil, testLogger())
	g.retries = 0
	return g
}

func newTestRegistry(t *testing.T, probe *probeTool) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry(testLogger(), probe)
	if err != nil {
		t.Fatalf("expected registry to build, got %v", err)
	}
	return reg
}

func newTestExecutor(p LLMProvider, cfg *config.Config, reg *tools.Registry) (*Executor, *Validator) {
	gw := newTestGateway(p, cfg)
	v := NewValidator(gw, cfg.Context.MaxOutputTokens, testLogger())
	return NewExecutor(gw, reg, v, cfg, nil, testLogger()), v
}

func toolCallJSON(n int) string {
	return fmt.Sprintf(`{"tool_calls":[{"tool":"probe","arguments":{"n":%d}}]}`, n)
}

func TestClassifyToolRequest(t *testing.T) {
	res := Classify(`here you go: {"tool_calls":[{"tool":"probe","arguments":{"n":1}}]}`)
	if res.Kind != ResultToolRequest {
		t.Fatalf("expected tool request, got %s", res.Kind)
	}
	if len(res.Calls) != 1 || res.Calls[0].Tool != "probe" {
		t.Fatalf("expected one probe call, got %+v", res.Calls)
	}
	if res.Calls[0].Arguments["n"] != float64(1) {
		t.Fatalf("expected argument n=1, got %v", res.Calls[0].Arguments)
	}
}

func TestClassifyNameFieldFallback(t *testing.T) {
	res := Classify(`{"tool_calls":[{"name":"probe","arguments":{"n":2}}]}`)
	if res.Kind != ResultToolRequest || len(res.Calls) != 1 || res.Calls[0].Tool != "probe" {
		t.Fatalf("expected probe call from name field, got %+v", res)
	}
}

func TestClassifyStructured(t *testing.T) {
	res := Classify(`{"done": true}`)
	if res.Kind != ResultStructured {
		t.Fatalf("expected structured, got %s", res.Kind)
	}
	if res.Value["done"] != true {
		t.Fatalf("expected done=true in value, got %v", res.Value)
	}
}

func TestClassifyFreeText(t *testing.T) {
	res := Classify("The patient is stable.")
	if res.Kind != ResultFreeText || res.Text != "The patient is stable." {
		t.Fatalf("expected free text passthrough, got %+v", res)
	}
}

func TestPlannerFallsBackOnGatewayFailure(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return "", fmt.Errorf("rate limited")
	}}
	planner := NewPlanner(newTestGateway(p, testConfig()), testLogger())

	tasks := planner.Plan(context.Background(), "list all patients", "")
	if len(tasks) != 1 {
		t.Fatalf("expected single fallback task, got %d", len(tasks))
	}
	if tasks[0].ID != 1 || tasks[0].Description != "list all patients" || tasks[0].Done {
		t.Fatalf("unexpected fallback task: %+v", tasks[0])
	}
}

func TestPlannerFallsBackOnSchemaViolation(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return `{"tasks": "not a list"}`, nil
	}}
	planner := NewPlanner(newTestGateway(p, testConfig()), testLogger())

	tasks := planner.Plan(context.Background(), "q", "")
	if len(tasks) != 1 || tasks[0].Description != "q" {
		t.Fatalf("expected fallback task, got %+v", tasks)
	}
}

func TestPlannerEmptyPlanIsLegal(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return `{"tasks": []}`, nil
	}}
	planner := NewPlanner(newTestGateway(p, testConfig()), testLogger())

	tasks := planner.Plan(context.Background(), "what is CHA2DS2-VASc?", "")
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty non-nil plan, got %+v", tasks)
	}
}

func TestPlannerNormalizesMissingIDs(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return `{"tasks": [{"description": "a"}, {"description": "b"}]}`, nil
	}}
	planner := NewPlanner(newTestGateway(p, testConfig()), testLogger())

	tasks := planner.Plan(context.Background(), "q", "")
	if len(tasks) != 2 || tasks[0].ID != 1 || tasks[1].ID != 2 {
		t.Fatalf("expected ids 1,2, got %+v", tasks)
	}
}

func TestExecutorStopsAtGlobalStepBudget(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return toolCallJSON(call), nil
	}}
	cfg := testConfig()
	cfg.Execution.MaxTotalSteps = 4
	cfg.Execution.MaxStepsPerTask = 50
	probe := &probeTool{}
	exec, _ := newTestExecutor(p, cfg, newTestRegistry(t, probe))

	rc := &RunContext{Query: "q", Tasks: []Task{{ID: 1, Description: "gather"}}}
	exec.ExecuteTasks(context.Background(), rc)

	if probe.calls != 4 {
		t.Fatalf("expected 4 tool executions at the budget, got %d", probe.calls)
	}
	if rc.GlobalSteps != 4 {
		t.Fatalf("expected global steps 4, got %d", rc.GlobalSteps)
	}
	if rc.Aborted {
		t.Fatalf("budget exhaustion is not an abort")
	}
	if rc.Tasks[0].Done {
		t.Fatalf("task should remain pending after budget exhaustion")
	}
}

func TestExecutorRepetitionGuardAborts(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return toolCallJSON(7), nil
	}}
	probe := &probeTool{}
	exec, _ := newTestExecutor(p, testConfig(), newTestRegistry(t, probe))

	rc := &RunContext{Query: "q", Tasks: []Task{{ID: 1, Description: "gather"}}}
	exec.ExecuteTasks(context.Background(), rc)

	if !rc.Aborted {
		t.Fatalf("expected run aborted by repetition guard")
	}
	if probe.calls != 2 {
		t.Fatalf("expected the repeated call to execute twice before abort, got %d", probe.calls)
	}
	last := rc.TaskOutputs[len(rc.TaskOutputs)-1]
	if !strings.Contains(last, "Loop detected") {
		t.Fatalf("expected loop-detected marker, got %q", last)
	}
}

func TestExecutorSkipsEmptyArgumentCalls(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		switch call {
		case 1:
			return `{"tool_calls":[{"tool":"probe","arguments":{}}]}`, nil
		case 2:
			return `{"tool_calls":[]}`, nil
		default:
			return `{"achieved": true}`, nil
		}
	}}
	probe := &probeTool{}
	exec, _ := newTestExecutor(p, testConfig(), newTestRegistry(t, probe))

	rc := &RunContext{Query: "q", Tasks: []Task{{ID: 1, Description: "gather"}}}
	exec.ExecuteTasks(context.Background(), rc)

	if probe.calls != 0 {
		t.Fatalf("empty-argument call must never reach the tool, got %d executions", probe.calls)
	}
	if rc.GlobalSteps != 0 {
		t.Fatalf("skipped calls must not consume steps, got %d", rc.GlobalSteps)
	}
	if len(rc.TaskOutputs) != 1 || !strings.Contains(rc.TaskOutputs[0], "skipped") {
		t.Fatalf("expected a skip record in outputs, got %+v", rc.TaskOutputs)
	}
	if !rc.Tasks[0].Done {
		t.Fatalf("task should be done after model stopped requesting calls")
	}
}

func TestExecutorRunsMultiCallResponseInOrder(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		switch call {
		case 1:
			return `{"tool_calls":[
				{"tool":"probe","arguments":{"n":1}},
				{"tool":"probe","arguments":{"n":2}},
				{"tool":"probe","arguments":{"n":3}}]}`, nil
		case 2:
			return `{"tool_calls":[]}`, nil
		default:
			return `{"achieved": true}`, nil
		}
	}}
	probe := &probeTool{}
	exec, _ := newTestExecutor(p, testConfig(), newTestRegistry(t, probe))

	rc := &RunContext{Query: "q", Tasks: []Task{{ID: 1, Description: "gather"}}}
	exec.ExecuteTasks(context.Background(), rc)

	if probe.calls != 3 {
		t.Fatalf("expected 3 sequential executions, got %d", probe.calls)
	}
	for i, args := range probe.argsSeen {
		if args["n"] != float64(i+1) {
			t.Fatalf("expected call %d with n=%d, got %v", i+1, i+1, args)
		}
	}
	if rc.GlobalSteps != 3 {
		t.Fatalf("expected 3 steps, got %d", rc.GlobalSteps)
	}
}

func TestExecutorAbsorbsToolErrors(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		switch call {
		case 1:
			return toolCallJSON(1), nil
		case 2:
			return `{"tool_calls":[]}`, nil
		default:
			return `{"achieved": true}`, nil
		}
	}}
	probe := &probeTool{fail: true}
	exec, _ := newTestExecutor(p, testConfig(), newTestRegistry(t, probe))

	rc := &RunContext{Query: "q", Tasks: []Task{{ID: 1, Description: "gather"}}}
	exec.ExecuteTasks(context.Background(), rc)

	if rc.GlobalSteps != 1 {
		t.Fatalf("failed executions still consume a step, got %d", rc.GlobalSteps)
	}
	if !strings.Contains(rc.TaskOutputs[0], "probe exploded") {
		t.Fatalf("expected annotated error output, got %q", rc.TaskOutputs[0])
	}
}

func TestExecutorRecordsToolEvents(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		switch call {
		case 1:
			return `{"tool_calls":[{"tool":"probe","arguments":{"n":1}},{"tool":"probe","arguments":{"n":2}}]}`, nil
		case 2:
			return `{"tool_calls":[]}`, nil
		default:
			return `{"achieved": true}`, nil
		}
	}}
	probe := &probeTool{}
	exec, _ := newTestExecutor(p, testConfig(), newTestRegistry(t, probe))
	tele := telemetry.NewTelemetry(config.TelemetryConfig{Enabled: true})
	exec.telem = tele

	rc := &RunContext{Query: "q", Tasks: []Task{{ID: 1, Description: "gather"}}}
	exec.ExecuteTasks(context.Background(), rc)

	m := tele.GetMetrics()
	if m.ToolExecutions["probe"] != 2 {
		t.Fatalf("expected 2 recorded tool executions, got %d", m.ToolExecutions["probe"])
	}
	if m.ToolSuccessRates["probe"] != 1.0 {
		t.Fatalf("expected success rate 1.0, got %v", m.ToolSuccessRates["probe"])
	}
}

func TestExecutorRecordsToolEventFailure(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		switch call {
		case 1:
			return toolCallJSON(1), nil
		case 2:
			return `{"tool_calls":[]}`, nil
		default:
			return `{"achieved": true}`, nil
		}
	}}
	probe := &probeTool{fail: true}
	exec, _ := newTestExecutor(p, testConfig(), newTestRegistry(t, probe))
	tele := telemetry.NewTelemetry(config.TelemetryConfig{Enabled: true})
	exec.telem = tele

	rc := &RunContext{Query: "q", Tasks: []Task{{ID: 1, Description: "gather"}}}
	exec.ExecuteTasks(context.Background(), rc)

	m := tele.GetMetrics()
	if m.ToolExecutions["probe"] != 1 {
		t.Fatalf("expected the failed execution recorded, got %d", m.ToolExecutions["probe"])
	}
	if m.ToolSuccessRates["probe"] != 0.0 {
		t.Fatalf("expected success rate 0.0 after a failure, got %v", m.ToolSuccessRates["probe"])
	}
}

func TestExecutorGatewayFailureLeavesTaskPending(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return "", fmt.Errorf("connection refused")
	}}
	probe := &probeTool{}
	exec, _ := newTestExecutor(p, testConfig(), newTestRegistry(t, probe))

	rc := &RunContext{Query: "q", Tasks: []Task{{ID: 1, Description: "gather"}}}
	exec.ExecuteTasks(context.Background(), rc)

	if rc.Tasks[0].Done {
		t.Fatalf("gateway failure must not mark the task done")
	}
	if rc.GlobalSteps != 0 || probe.calls != 0 {
		t.Fatalf("no work should have happened, steps=%d calls=%d", rc.GlobalSteps, probe.calls)
	}
}

func TestExecutorHoldsDelegatedTaskOpen(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return `{"tool_calls":[]}`, nil
	}}
	probe := &probeTool{}
	exec, _ := newTestExecutor(p, testConfig(), newTestRegistry(t, probe))

	rc := &RunContext{Query: "q", Tasks: []Task{{ID: 1, Description: "Run an external analysis of the discharge note via the MCP server"}}}
	exec.ExecuteTasks(context.Background(), rc)

	if rc.Tasks[0].Done {
		t.Fatalf("delegated-analysis task must stay open until analyze_medical_document runs")
	}
}

func TestCompletionOverrideSatisfiedByToolHeader(t *testing.T) {
	ov := matchOverride("use mcp for this note")
	if ov == nil || ov.RequiredTool != "analyze_medical_document" {
		t.Fatalf("expected delegated override, got %+v", ov)
	}
	if ov.satisfied([]string{"Tool call skipped: analyze_medical_document (no arguments provided)"}) {
		t.Fatalf("a skipped call does not satisfy the override")
	}
	if !ov.satisfied([]string{"Tool: analyze_medical_document\nArguments: {}\nResult: {}"}) {
		t.Fatalf("an executed call satisfies the override")
	}
}

func TestComorbidityOverrideNeedsDeepTool(t *testing.T) {
	ov := matchOverride("comprehensive comorbidity review across patients")
	if ov == nil {
		t.Fatalf("expected comorbidity override to match")
	}
	shallowOnly := []string{"Tool: search_patients\nArguments: {}\nResult: {}"}
	if ov.satisfied(shallowOnly) {
		t.Fatalf("shallow search alone must not satisfy the override")
	}
	withDeep := append(shallowOnly, "Tool: get_patient_data\nArguments: {}\nResult: {}")
	if !ov.satisfied(withDeep) {
		t.Fatalf("deep per-record analysis satisfies the override")
	}
	withConditions := append(shallowOnly, "Tool: get_conditions\nArguments: {}\nResult: {}")
	if !ov.satisfied(withConditions) {
		t.Fatalf("per-patient condition pull satisfies the override")
	}
	if !ov.satisfied([]string{"Tool: get_conditions\nArguments: {}\nResult: {}"}) {
		t.Fatalf("deep tool without shallow trigger is fine")
	}
}

func TestCompletionOverrideToolsAreRegistered(t *testing.T) {
	store, err := fhir.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	mcp := tools.NewMCPClient("http://localhost:9", "", testLogger())
	reg, err := tools.DefaultRegistry(store, mcp, testLogger())
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	known := make(map[string]bool)
	for _, name := range reg.Names() {
		known[name] = true
	}
	for _, ov := range completionOverrides {
		var refs []string
		if ov.RequiredTool != "" {
			refs = append(refs, ov.RequiredTool)
		}
		refs = append(refs, ov.ShallowTools...)
		refs = append(refs, ov.DeepTools...)
		for _, name := range refs {
			if !known[name] {
				t.Fatalf("override %s references unregistered tool %s", ov.Name, name)
			}
		}
	}
}

func TestGoalNeverAchievedWithPendingTasks(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return `{"achieved": true}`, nil
	}}
	v := NewValidator(newTestGateway(p, testConfig()), 0, testLogger())

	rc := &RunContext{Query: "q", Tasks: []Task{{ID: 1, Done: true}, {ID: 2, Done: false}}}
	if v.GoalAchieved(context.Background(), rc) {
		t.Fatalf("goal must never be achieved while a task is pending")
	}
	if p.calls != 0 {
		t.Fatalf("pending tasks short-circuit before any model call, got %d calls", p.calls)
	}
}

func TestValidatorFailsSafe(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return "", fmt.Errorf("timeout")
	}}
	v := NewValidator(newTestGateway(p, testConfig()), 0, testLogger())

	task := &Task{ID: 1, Description: "gather"}
	if v.TaskDone(context.Background(), task, nil) {
		t.Fatalf("task-done check must fail safe to false")
	}
	rc := &RunContext{Query: "q", Tasks: []Task{{ID: 1, Done: true}}}
	if v.GoalAchieved(context.Background(), rc) {
		t.Fatalf("goal check must fail safe to false")
	}
}

func TestSynthesizerStructuredAnswer(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return `{"answer": "The creatinine is trending up."}`, nil
	}}
	s := NewSynthesizer(newTestGateway(p, testConfig()), 0, testLogger())

	rc := &RunContext{Query: "q", TaskOutputs: []string{"Tool: probe\nResult: {}"}}
	if got := s.Synthesize(context.Background(), rc); got != "The creatinine is trending up." {
		t.Fatalf("expected structured answer, got %q", got)
	}
}

func TestSynthesizerFreeTextFallback(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		if call == 1 {
			return `{"answer": ""}`, nil
		}
		return "Plain narrative.", nil
	}}
	s := NewSynthesizer(newTestGateway(p, testConfig()), 0, testLogger())

	rc := &RunContext{Query: "q", TaskOutputs: []string{"data"}}
	if got := s.Synthesize(context.Background(), rc); got != "Plain narrative." {
		t.Fatalf("expected free-text fallback, got %q", got)
	}
}

func TestSynthesizerNeverFails(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return "", fmt.Errorf("model down")
	}}
	s := NewSynthesizer(newTestGateway(p, testConfig()), 0, testLogger())

	rc := &RunContext{Query: "q", TaskOutputs: []string{"collected data line"}}
	got := s.Synthesize(context.Background(), rc)
	if !strings.Contains(got, "Answer synthesis failed") {
		t.Fatalf("expected failure-annotated answer, got %q", got)
	}
	if !strings.Contains(got, "collected data line") {
		t.Fatalf("expected data preview in fallback answer, got %q", got)
	}
}

func TestSynthesizerUsesNoDataMarker(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return `{"answer": "ok"}`, nil
	}}
	s := NewSynthesizer(newTestGateway(p, testConfig()), 0, testLogger())

	s.Synthesize(context.Background(), &RunContext{Query: "q"})
	if !strings.Contains(p.prompts[0], "no data collected") {
		t.Fatalf("expected no-data marker in synthesis prompt")
	}
}

func TestExtractUploadedContent(t *testing.T) {
	q := "Analyze this.\n--- File: note.txt ---\nPatient doing well.\n"
	up := ExtractUploadedContent(q)
	if up == nil || up.Filename != "note.txt" || up.Content != "Patient doing well." {
		t.Fatalf("expected extracted upload, got %+v", up)
	}

	q = "See attachment.\n--- Attached File: dc.md ---\nSummary here.\n[TRUNCATED: 100 characters removed]"
	up = ExtractUploadedContent(q)
	if up == nil || up.Filename != "dc.md" || up.Content != "Summary here." {
		t.Fatalf("expected content cut at truncation marker, got %+v", up)
	}

	if up = ExtractUploadedContent("no files here"); up != nil {
		t.Fatalf("expected nil for query without delimiters, got %+v", up)
	}
}

func TestOptimizeArgsInjectsUploadedContent(t *testing.T) {
	probe := &probeTool{}
	exec, _ := newTestExecutor(&stubProvider{fn: func(int, string) (string, error) { return "", nil }}, testConfig(), newTestRegistry(t, probe))

	rc := &RunContext{Uploaded: &UploadedContent{Filename: "note.txt", Content: "full note text"}}
	args := exec.optimizeArgs(rc, ToolCall{Tool: "analyze_medical_document", Arguments: map[string]interface{}{"analysis_type": "complicated"}})
	if args["note_text"] != "full note text" {
		t.Fatalf("expected uploaded content injected, got %v", args)
	}

	args = exec.optimizeArgs(rc, ToolCall{Tool: "analyze_medical_document", Arguments: map[string]interface{}{"note_text": "explicit"}})
	if args["note_text"] != "explicit" {
		t.Fatalf("explicit note_text must not be overwritten, got %v", args)
	}
}

func newTestAgent(p LLMProvider, cfg *config.Config, reg *tools.Registry) *Agent {
	gw := newTestGateway(p, cfg)
	v := NewValidator(gw, cfg.Context.MaxOutputTokens, testLogger())
	return &Agent{
		cfg:       cfg,
		logger:    testLogger(),
		registry:  reg,
		gateway:   gw,
		planner:   NewPlanner(gw, testLogger()),
		executor:  NewExecutor(gw, reg, v, cfg, nil, testLogger()),
		validator: v,
		synth:     NewSynthesizer(gw, cfg.Context.MaxOutputTokens, testLogger()),
	}
}

func TestAgentRunEndToEnd(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		switch call {
		case 1:
			return `{"tasks":[{"id":1,"description":"fetch labs","done":false}]}`, nil
		case 2:
			return toolCallJSON(1), nil
		case 3:
			return `{"tool_calls":[]}`, nil
		case 4:
			return `{"achieved": true}`, nil
		default:
			return `{"answer": "Creatinine reviewed."}`, nil
		}
	}}
	probe := &probeTool{}
	agent := newTestAgent(p, testConfig(), newTestRegistry(t, probe))

	res := agent.Run(context.Background(), "review creatinine for pt-1")
	if res.Status != StatusDone {
		t.Fatalf("expected done, got %s", res.Status)
	}
	if res.Answer != "Creatinine reviewed." {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
	if res.Steps != 1 || probe.calls != 1 {
		t.Fatalf("expected one step, got steps=%d calls=%d", res.Steps, probe.calls)
	}
	if res.ID == "" || res.FinishedAt.Before(res.StartedAt) {
		t.Fatalf("malformed run result: %+v", res)
	}
}

func TestAgentRunEmptyPlanAnswersDirectly(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		if call == 1 {
			return `{"tasks": []}`, nil
		}
		return `{"answer": "Direct answer."}`, nil
	}}
	probe := &probeTool{}
	agent := newTestAgent(p, testConfig(), newTestRegistry(t, probe))

	res := agent.Run(context.Background(), "what does CURB-65 measure?")
	if res.Answer != "Direct answer." || res.Steps != 0 {
		t.Fatalf("expected direct answer with zero steps, got %+v", res)
	}
	if probe.calls != 0 {
		t.Fatalf("no tools should run on an empty plan")
	}
}

func TestAgentRunRejectsEmptyQuery(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return `{"tasks":[]}`, nil
	}}
	a := newTestAgent(p, testConfig(), newTestRegistry(t, &probeTool{}))

	res := a.Run(context.Background(), "   \n\t ")
	if p.calls != 0 {
		t.Fatalf("whitespace query must not reach the model, got %d calls", p.calls)
	}
	if !strings.Contains(res.Answer, "No question") {
		t.Fatalf("expected explanatory answer, got %q", res.Answer)
	}
	if res.Status != StatusDone {
		t.Fatalf("expected status done, got %s", res.Status)
	}
}

func TestAgentRunNeverFails(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		return "", fmt.Errorf("everything is down")
	}}
	probe := &probeTool{}
	agent := newTestAgent(p, testConfig(), newTestRegistry(t, probe))

	res := agent.Run(context.Background(), "anything")
	if res.Answer == "" {
		t.Fatalf("run must always produce an answer")
	}
	if !strings.Contains(res.Answer, "Answer synthesis failed") {
		t.Fatalf("expected failure-annotated answer, got %q", res.Answer)
	}
}

func TestAgentRunAbortedStatus(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		if call == 1 {
			return `{"tasks":[{"id":1,"description":"gather","done":false}]}`, nil
		}
		if strings.Contains(prompt, "final answer") {
			return `{"answer": "Partial."}`, nil
		}
		return toolCallJSON(9), nil
	}}
	probe := &probeTool{}
	agent := newTestAgent(p, testConfig(), newTestRegistry(t, probe))

	res := agent.Run(context.Background(), "q")
	if res.Status != StatusAborted {
		t.Fatalf("expected aborted status after repetition, got %s", res.Status)
	}
	if res.Answer != "Partial." {
		t.Fatalf("aborted runs still synthesize, got %q", res.Answer)
	}
}

func TestAgentRunReplansOnceWhenGoalUnmet(t *testing.T) {
	p := &stubProvider{fn: func(call int, prompt string) (string, error) {
		switch call {
		case 1:
			return `{"tasks":[{"id":1,"description":"first pass","done":false}]}`, nil
		case 2:
			return `{"tool_calls":[]}`, nil
		case 3:
			return `{"achieved": false}`, nil
		case 4:
			return `{"tasks":[{"id":1,"description":"dig deeper","done":false}]}`, nil
		case 5:
			return toolCallJSON(1), nil
		case 6:
			return `{"tool_calls":[]}`, nil
		case 7:
			return `{"achieved": true}`, nil
		default:
			return `{"answer": "Deeper answer."}`, nil
		}
	}}
	probe := &probeTool{}
	agent := newTestAgent(p, testConfig(), newTestRegistry(t, probe))

	res := agent.Run(context.Background(), "needs depth")
	if res.Answer != "Deeper answer." {
		t.Fatalf("expected answer after replan, got %q", res.Answer)
	}
	if probe.calls != 1 || res.Steps != 1 {
		t.Fatalf("expected the replanned task to run one step, got calls=%d steps=%d", probe.calls, res.Steps)
	}
	if !strings.Contains(p.prompts[3], "first pass") {
		t.Fatalf("replan prompt should list completed tasks, got %q", p.prompts[3])
	}
}
