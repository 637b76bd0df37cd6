package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/zen-systems/stageloop/pkg/agent"
	"github.com/zen-systems/stageloop/pkg/completion"
)

// memStore keeps every persisted snapshot in order, cloned so later executor
// mutation cannot retroactively change history.
type memStore struct {
	saves []Session
}

func (s *memStore) Save(sess *Session) error {
	cp := *sess
	cp.Context = sess.Context.Clone()
	cp.ArtifactPaths = append([]string(nil), sess.ArtifactPaths...)
	cp.StageHistory = append([]StageVisit(nil), sess.StageHistory...)
	s.saves = append(s.saves, cp)
	return nil
}

func (s *memStore) last(t *testing.T) Session {
	t.Helper()
	if len(s.saves) == 0 {
		t.Fatal("nothing persisted")
	}
	return s.saves[len(s.saves)-1]
}

type failingStore struct{}

func (failingStore) Save(*Session) error { return errors.New("disk full") }

type stubHooks struct {
	before func(stage string, ctx *Context) error
	after  func(stage string, signal completion.Signal, ctx *Context) error
}

func (h stubHooks) BeforeStage(stage string, ctx *Context) error {
	if h.before == nil {
		return nil
	}
	return h.before(stage, ctx)
}

func (h stubHooks) AfterStage(stage string, signal completion.Signal, ctx *Context) error {
	if h.after == nil {
		return nil
	}
	return h.after(stage, signal, ctx)
}

func signalJSON(name string, kv ...string) string {
	out := fmt.Sprintf("work done\n{\"signal\": %q", name)
	for i := 0; i+1 < len(kv); i += 2 {
		out += fmt.Sprintf(", %q: %q", kv[i], kv[i+1])
	}
	return out + "}\n"
}

func TestRunPlanPipelineLightPath(t *testing.T) {
	cfg := PlanPipeline()
	mock := agent.NewMockRunnerFromOutputs(
		signalJSON("RESEARCH_COMPLETE", "research_path", ".stageloop/research.md"),
		signalJSON("LIGHT"),
		signalJSON("TASKS_CREATED", "tasks_file", ".stageloop/tasks.md"),
		signalJSON("APPROVED"),
		signalJSON("PLAN_VALIDATED"),
	)
	store := &memStore{}
	var events []EventKind
	runner := &Runner{
		Agent:  mock,
		Store:  store,
		Events: func(e Event) { events = append(events, e.Kind) },
	}

	sess := NewSession(cfg, nil)
	status, err := runner.Run(context.Background(), cfg, sess)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("status = %v, want completed", status)
	}

	wantHistory := []StageVisit{
		{Stage: "research", Signal: "RESEARCH_COMPLETE"},
		{Stage: "assess", Signal: "LIGHT"},
		{Stage: "create_tasks", Signal: "TASKS_CREATED"},
		{Stage: "plan_review", Signal: "APPROVED"},
		{Stage: "req_validate", Signal: "PLAN_VALIDATED"},
	}
	if !reflect.DeepEqual(sess.StageHistory, wantHistory) {
		t.Fatalf("history = %v", sess.StageHistory)
	}
	if sess.TotalTurns != 5 {
		t.Fatalf("total turns = %d, want 5", sess.TotalTurns)
	}

	// Payload values flow into context; file-naming keys are also tracked
	// as artifacts.
	if v := sess.Context.Value("research_path"); v != ".stageloop/research.md" {
		t.Fatalf("context missing payload value: %q", v)
	}
	wantArtifacts := []string{".stageloop/research.md", ".stageloop/tasks.md"}
	if !reflect.DeepEqual(sess.ArtifactPaths, wantArtifacts) {
		t.Fatalf("artifacts = %v", sess.ArtifactPaths)
	}

	if events[0] != EventStageStarted || events[len(events)-1] != EventRunCompleted {
		t.Fatalf("event sequence = %v", events)
	}

	final := store.last(t)
	if final.Status != StatusCompleted {
		t.Fatalf("persisted status = %v", final.Status)
	}
	// The first prompt reaches the agent as the stage's prompt reference
	// when no renderer is configured.
	if mock.Prompts[0] != "prompts/planning/research.md" {
		t.Fatalf("prompt = %q", mock.Prompts[0])
	}
}

func TestRunPausesOnDesignatedSignal(t *testing.T) {
	cfg := PlanPipeline()
	mock := agent.NewMockRunnerFromOutputs(
		signalJSON("RESEARCH_COMPLETE"),
		signalJSON("LIGHT"),
		signalJSON("TASKS_CREATED"),
		signalJSON("APPROVED"),
		signalJSON("CLARIFICATIONS_NEEDED", "reason", "target platform unclear", "clarifications_path", ".stageloop/questions.md"),
	)
	store := &memStore{}
	runner := &Runner{Agent: mock, Store: store}

	sess := NewSession(cfg, nil)
	status, err := runner.Run(context.Background(), cfg, sess)
	if err != nil {
		t.Fatalf("pause is not an error: %v", err)
	}
	if status != StatusPaused {
		t.Fatalf("status = %v, want paused", status)
	}
	if sess.PauseReason != "target platform unclear" {
		t.Fatalf("pause reason = %q", sess.PauseReason)
	}
	if sess.CurrentStage != "req_validate" {
		t.Fatalf("paused stage = %q", sess.CurrentStage)
	}

	persisted := store.last(t)
	if persisted.Status != StatusPaused {
		t.Fatalf("persisted status = %v", persisted.Status)
	}

	// Resuming re-runs the paused stage; with clarifications answered the
	// run completes.
	resumed := persisted
	runner2 := &Runner{
		Agent: agent.NewMockRunnerFromOutputs(signalJSON("PLAN_VALIDATED")),
		Store: &memStore{},
	}
	status, err = runner2.Run(context.Background(), cfg, &resumed)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("resumed status = %v", status)
	}
	if resumed.PauseReason != "" {
		t.Fatalf("pause reason survived resume: %q", resumed.PauseReason)
	}
	last := resumed.StageHistory[len(resumed.StageHistory)-1]
	if last.Stage != "req_validate" || last.Signal != "PLAN_VALIDATED" {
		t.Fatalf("resumed history tail = %+v", last)
	}
}

func TestRunResumeMatchesUninterruptedRun(t *testing.T) {
	cfg, err := NewConfig("p", "a", []StageSpec{
		jsonStage("a", "a.md", map[string]string{"NEXT": "b"}),
		jsonStage("b", "b.md", map[string]string{"DONE": ""}),
	}, nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	outputs := []string{
		signalJSON("NEXT", "a_result", "one"),
		signalJSON("DONE", "b_result", "two"),
	}

	// Uninterrupted run.
	store := &memStore{}
	sess := NewSession(cfg, nil)
	if _, err := (&Runner{Agent: agent.NewMockRunnerFromOutputs(outputs...), Store: store}).Run(context.Background(), cfg, sess); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Interrupted run: stop after stage a's transition persisted, then
	// resume from that snapshot with a fresh runner.
	store2 := &memStore{}
	sess2 := NewSession(cfg, nil)
	if _, err := (&Runner{Agent: agent.NewMockRunnerFromOutputs(outputs[0], outputs[1]), Store: store2}).Run(context.Background(), cfg, sess2); err != nil {
		t.Fatalf("first leg: %v", err)
	}
	var snapshot *Session
	for i := range store2.saves {
		s := store2.saves[i]
		if s.CurrentStage == "b" && s.Status == StatusRunning {
			snapshot = &s
			break
		}
	}
	if snapshot == nil {
		t.Fatal("no persisted snapshot at stage b")
	}
	resumed := *snapshot
	if _, err := (&Runner{Agent: agent.NewMockRunnerFromOutputs(outputs[1]), Store: &memStore{}}).Run(context.Background(), cfg, &resumed); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if !reflect.DeepEqual(resumed.StageHistory, sess.StageHistory) {
		t.Fatalf("history diverged:\n%v\n%v", resumed.StageHistory, sess.StageHistory)
	}
	if !reflect.DeepEqual(resumed.Context.Map(), sess.Context.Map()) {
		t.Fatalf("context diverged:\n%v\n%v", resumed.Context.Map(), sess.Context.Map())
	}
	if resumed.Status != sess.Status {
		t.Fatalf("status diverged: %v vs %v", resumed.Status, sess.Status)
	}
}

func TestRunStageTurnCapIsExact(t *testing.T) {
	cfg, err := NewConfig("p", "loop", []StageSpec{
		{
			Name:        "loop",
			PromptRef:   "loop.md",
			Completion:  completion.Spec{Type: completion.TypeJSON},
			Transitions: map[string]string{"DONE": ""},
			MaxTurns:    3,
		},
	}, nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	mock := agent.NewMockRunnerFromOutputs(
		"still working", "still working", "still working",
		"never reached",
	)
	store := &memStore{}
	var failKind ErrorKind
	runner := &Runner{
		Agent:  mock,
		Store:  store,
		Events: func(e Event) { failKind = e.ErrorKind },
	}

	sess := NewSession(cfg, nil)
	status, err := runner.Run(context.Background(), cfg, sess)
	if status != StatusFailed {
		t.Fatalf("status = %v, want failed", status)
	}
	var exceeded *IterationExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected IterationExceededError, got %v", err)
	}
	if exceeded.Stage != "loop" || exceeded.Limit != 3 {
		t.Fatalf("got %+v", exceeded)
	}
	if mock.TurnsRun() != 3 {
		t.Fatalf("ran %d turns, want exactly 3", mock.TurnsRun())
	}
	if failKind != ErrorKindIterationExceeded {
		t.Fatalf("event error kind = %q", failKind)
	}
	if store.last(t).Status != StatusFailed {
		t.Fatal("failed status not persisted")
	}
}

func TestRunWideBudgetStopsSelfLoop(t *testing.T) {
	cfg, err := NewConfig("p", "loop", []StageSpec{
		jsonStage("loop", "loop.md", map[string]string{
			"AGAIN": "loop",
			"DONE":  "",
		}),
	}, nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	mock := agent.NewMockRunnerFromOutputs(
		signalJSON("AGAIN"),
		signalJSON("AGAIN"),
		signalJSON("AGAIN"),
	)
	runner := &Runner{Agent: mock, Store: &memStore{}, MaxIterations: 2}

	sess := NewSession(cfg, nil)
	_, err = runner.Run(context.Background(), cfg, sess)
	var exceeded *IterationExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected IterationExceededError, got %v", err)
	}
	if exceeded.Stage != "" {
		t.Fatalf("run-wide budget should not name a stage, got %q", exceeded.Stage)
	}
	if exceeded.Limit != 2 {
		t.Fatalf("limit = %d", exceeded.Limit)
	}
	if mock.TurnsRun() != 2 {
		t.Fatalf("ran %d turns, want 2", mock.TurnsRun())
	}
}

func TestRunHookFailureIsFatal(t *testing.T) {
	cfg, err := NewConfig("p", "a", []StageSpec{
		jsonStage("a", "a.md", map[string]string{"NEXT": "b"}),
		jsonStage("b", "b.md", map[string]string{"DONE": ""}),
	}, nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	boom := errors.New("missing input file")
	runner := &Runner{
		Agent: agent.NewMockRunnerFromOutputs(signalJSON("NEXT")),
		Store: &memStore{},
		Hooks: stubHooks{before: func(stage string, _ *Context) error {
			if stage == "b" {
				return boom
			}
			return nil
		}},
	}

	sess := NewSession(cfg, nil)
	status, err := runner.Run(context.Background(), cfg, sess)
	if status != StatusFailed {
		t.Fatalf("status = %v, want failed", status)
	}
	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("expected HookError, got %v", err)
	}
	if hookErr.Stage != "b" || hookErr.Phase != "before" {
		t.Fatalf("got %+v", hookErr)
	}
	if !errors.Is(err, boom) {
		t.Fatal("hook cause not wrapped")
	}
}

func TestRunHooksSeeAndMutateContext(t *testing.T) {
	cfg, err := NewConfig("p", "a", []StageSpec{
		jsonStage("a", "a.md", map[string]string{"DONE": ""}),
	}, nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	runner := &Runner{
		Agent: agent.NewMockRunnerFromOutputs(signalJSON("DONE", "verdict", "clean")),
		Store: &memStore{},
		Hooks: stubHooks{
			before: func(_ string, ctx *Context) error {
				ctx.Set("injected", "before")
				return nil
			},
			after: func(_ string, signal completion.Signal, ctx *Context) error {
				// Payload has already been merged when after-hooks run.
				if ctx.Value("verdict") != "clean" {
					return errors.New("payload not visible")
				}
				ctx.Set("summary", "verdict="+signal.Payload["verdict"])
				return nil
			},
		},
	}

	sess := NewSession(cfg, nil)
	if _, err := runner.Run(context.Background(), cfg, sess); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sess.Context.Value("injected") != "before" {
		t.Fatal("before-hook mutation lost")
	}
	if sess.Context.Value("summary") != "verdict=clean" {
		t.Fatal("after-hook mutation lost")
	}
}

func TestRunAgentErrorFailsRun(t *testing.T) {
	cfg, err := NewConfig("p", "a", []StageSpec{
		jsonStage("a", "a.md", map[string]string{"DONE": ""}),
	}, nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	mock := agent.NewMockRunner()
	mock.Err = &agent.RunnerError{Status: 500, Temporary: true, Err: errors.New("upstream overloaded")}
	var failKind ErrorKind
	runner := &Runner{
		Agent:  mock,
		Store:  &memStore{},
		Events: func(e Event) { failKind = e.ErrorKind },
	}

	sess := NewSession(cfg, nil)
	status, err := runner.Run(context.Background(), cfg, sess)
	if status != StatusFailed || err == nil {
		t.Fatalf("status = %v, err = %v", status, err)
	}
	if failKind != ErrorKindAgentTransient {
		t.Fatalf("event error kind = %q, want agent_transient", failKind)
	}
}

func TestRunPersistFailureAborts(t *testing.T) {
	cfg, err := NewConfig("p", "a", []StageSpec{
		jsonStage("a", "a.md", map[string]string{"DONE": ""}),
	}, nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	runner := &Runner{
		Agent: agent.NewMockRunnerFromOutputs(signalJSON("DONE")),
		Store: failingStore{},
	}

	sess := NewSession(cfg, nil)
	status, err := runner.Run(context.Background(), cfg, sess)
	if status != StatusFailed {
		t.Fatalf("status = %v, want failed", status)
	}
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected persist error, got %v", err)
	}
}

func TestRunInvalidConfigTouchesNothing(t *testing.T) {
	cfg := &Config{
		Name:       "p",
		StartStage: "missing",
		Stages:     map[string]StageSpec{"a": jsonStage("a", "a.md", map[string]string{"DONE": ""})},
	}
	store := &memStore{}
	runner := &Runner{Agent: agent.NewMockRunner(), Store: store}

	sess := NewSession(&Config{Name: "p", StartStage: "a", Stages: cfg.Stages}, nil)
	status, err := runner.Run(context.Background(), cfg, sess)
	if status != StatusFailed {
		t.Fatalf("status = %v", status)
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if len(store.saves) != 0 {
		t.Fatalf("config errors must not persist anything, got %d saves", len(store.saves))
	}
}

func TestRunStageModelAndPolicyDefaults(t *testing.T) {
	custom := agent.ToolPolicy{Allowed: []string{"Read"}, Denied: []string{"Bash"}}
	cfg, err := NewConfig("p", "a", []StageSpec{
		{
			Name:        "a",
			PromptRef:   "a.md",
			Completion:  completion.Spec{Type: completion.TypeJSON},
			Transitions: map[string]string{"NEXT": "b"},
			Tools:       custom,
			Model:       "special-model",
		},
		jsonStage("b", "b.md", map[string]string{"DONE": ""}),
	}, nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	mock := agent.NewMockRunnerFromOutputs(signalJSON("NEXT"), signalJSON("DONE"))
	runner := &Runner{Agent: mock, Store: &memStore{}, Model: "default-model"}

	sess := NewSession(cfg, nil)
	if _, err := runner.Run(context.Background(), cfg, sess); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(mock.Policies[0], custom) {
		t.Fatalf("stage policy not honored: %+v", mock.Policies[0])
	}
	if !reflect.DeepEqual(mock.Policies[1], agent.DefaultToolPolicy()) {
		t.Fatalf("default policy not applied: %+v", mock.Policies[1])
	}
}

func TestRunSentinelStageEmitsOneCompletion(t *testing.T) {
	cfg, err := NewConfig("p", "wrap", []StageSpec{
		{
			Name:      "wrap",
			PromptRef: "wrap.md",
			Completion: completion.Spec{
				Type:   completion.TypeSentinel,
				Marker: "<<WRAPPED>>",
				Signal: "WRAPPED",
			},
			Transitions: map[string]string{"WRAPPED": ""},
		},
	}, nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	// The marker is split across chunks and then repeated whole; the stage
	// must still complete exactly once.
	mock := agent.NewMockRunner([]string{
		"almost <<WRA",
		"PPED>> done, repeating <<WRAPPED>>",
	})
	var completions int
	runner := &Runner{
		Agent: mock,
		Store: &memStore{},
		Events: func(e Event) {
			if e.Kind == EventStageCompleted {
				completions++
			}
		},
	}

	sess := NewSession(cfg, nil)
	status, err := runner.Run(context.Background(), cfg, sess)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("status = %v, want completed", status)
	}
	if completions != 1 {
		t.Fatalf("stage_completed emitted %d times, want 1", completions)
	}
	wantHistory := []StageVisit{{Stage: "wrap", Signal: "WRAPPED"}}
	if !reflect.DeepEqual(sess.StageHistory, wantHistory) {
		t.Fatalf("history = %v", sess.StageHistory)
	}
	if sess.TotalTurns != 1 {
		t.Fatalf("total turns = %d, want 1", sess.TotalTurns)
	}
}
