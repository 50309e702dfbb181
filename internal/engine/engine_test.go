package engine

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskpilot/taskpilot/internal/decompose"
	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/internal/tools"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// fakeCompleter replays canned responses in order.
type fakeCompleter struct {
	responses []string
	calls     int
}

func (f *fakeCompleter) Complete(_ context.Context, _ llm.Request) (string, error) {
	f.calls++
	if f.calls > len(f.responses) {
		return "", errors.New("no more canned responses")
	}
	return f.responses[f.calls-1], nil
}

// flakyTool fails failures times, then succeeds.
type flakyTool struct {
	name     string
	failures int
	calls    int32
	mu       sync.Mutex
}

func (t *flakyTool) Metadata() models.ToolMetadata {
	return models.ToolMetadata{
		Name:         t.name,
		Description:  "flaky test tool",
		Capabilities: models.Capabilities{Read: true},
		Risk:         models.RiskLow,
	}
}

func (t *flakyTool) Execute(context.Context, tools.Params) (tools.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	atomic.AddInt32(&t.calls, 1)
	if t.failures > 0 {
		t.failures--
		return tools.Result{Content: "transient failure", IsError: true}, nil
	}
	return tools.Result{Content: "done by " + t.name}, nil
}

func okTool(name string) tools.Tool {
	return tools.Func{
		Meta: models.ToolMetadata{
			Name:         name,
			Description:  "always succeeds",
			Capabilities: models.Capabilities{Read: true},
			Risk:         models.RiskLow,
		},
		Run: func(context.Context, tools.Params) (tools.Result, error) {
			return tools.Result{Content: "ok"}, nil
		},
	}
}

func failTool(name string) tools.Tool {
	return tools.Func{
		Meta: models.ToolMetadata{
			Name:         name,
			Description:  "always fails",
			Capabilities: models.Capabilities{Read: true},
			Risk:         models.RiskLow,
		},
		Run: func(context.Context, tools.Params) (tools.Result, error) {
			return tools.Result{Content: "permanent failure", IsError: true}, nil
		},
	}
}

func toolTask(id, tool string, deps ...string) *models.Task {
	return &models.Task{
		ID:               id,
		Description:      "task " + id,
		Type:             models.TaskTypeRead,
		Status:           models.TaskStatusPending,
		DependsOn:        deps,
		EstimatedSeconds: 1,
		Risk:             models.RiskLow,
		Requirement:      models.TaskRequirement{Capabilities: models.Capabilities{Read: true}},
		AssignedTool:     tool,
		CreatedAt:        time.Now(),
	}
}

func testPlan(tasks ...*models.Task) *models.ExecutionPlan {
	return &models.ExecutionPlan{
		ID:        "plan-test",
		Goal:      "test goal",
		Tasks:     tasks,
		Status:    models.PlanStatusDraft,
		CreatedAt: time.Now(),
	}
}

func noRetryPolicy() models.ExecutionPolicy {
	return models.ExecutionPolicy{MaxRetries: 0, Strategy: models.RetryNone}
}

func newTestEngine(t *testing.T, policy models.ExecutionPolicy, toolset ...tools.Tool) *Engine {
	t.Helper()
	r := tools.NewRegistry()
	for _, tool := range toolset {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	return New(r, WithPolicy(policy), WithRandSource(rand.NewSource(1)))
}

func TestRetryDelayContracts(t *testing.T) {
	base := models.ExecutionPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	cases := []struct {
		name     string
		strategy models.RetryStrategy
		jitter   bool
		attempt  int
		rnd      float64
		want     time.Duration
	}{
		{"none is zero", models.RetryNone, false, 0, 0.5, 0},
		{"immediate is zero", models.RetryImmediate, false, 3, 0.5, 0},
		{"linear first retry", models.RetryLinear, false, 0, 0, time.Second},
		{"linear third retry", models.RetryLinear, false, 2, 0, 3 * time.Second},
		{"exponential first retry", models.RetryExponential, false, 0, 0, time.Second},
		{"exponential second retry", models.RetryExponential, false, 1, 0, 2 * time.Second},
		{"exponential third retry", models.RetryExponential, false, 2, 0, 4 * time.Second},
		{"jitter lower bound", models.RetryExponential, true, 1, 0, 2 * time.Second},
		{"jitter adds tenth of base", models.RetryExponential, true, 1, 0.5, 2*time.Second + 50*time.Millisecond},
		{"negative attempt clamped", models.RetryLinear, false, -3, 0, time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			p.Strategy = tc.strategy
			p.Jitter = tc.jitter
			if got := RetryDelay(p, tc.attempt, tc.rnd); got != tc.want {
				t.Fatalf("RetryDelay(%s, %d, %v) = %v, want %v", tc.strategy, tc.attempt, tc.rnd, got, tc.want)
			}
		})
	}
}

func TestRetryDelayJitterWindow(t *testing.T) {
	p := models.ExecutionPolicy{
		Strategy:  models.RetryExponential,
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
		Jitter:    true,
	}
	lo := RetryDelay(p, 2, 0)
	if lo != 4*time.Second {
		t.Fatalf("window lower bound = %v, want 4s", lo)
	}
	for _, rnd := range []float64{0, 0.25, 0.5, 0.999999} {
		d := RetryDelay(p, 2, rnd)
		if d < 4*time.Second || d >= 4*time.Second+100*time.Millisecond {
			t.Fatalf("RetryDelay with rnd=%v = %v, want in [4s, 4.1s)", rnd, d)
		}
	}
}

func TestRetryDelayClampedToMax(t *testing.T) {
	p := models.ExecutionPolicy{
		Strategy:  models.RetryExponential,
		BaseDelay: time.Second,
		MaxDelay:  5 * time.Second,
	}
	if got := RetryDelay(p, 10, 0); got != 5*time.Second {
		t.Fatalf("RetryDelay beyond cap = %v, want 5s", got)
	}

	p.Jitter = true
	if got := RetryDelay(p, 10, 0.999); got != 5*time.Second {
		t.Fatalf("jitter must not escape the cap, got %v", got)
	}
}

func TestShouldRetry(t *testing.T) {
	p := models.ExecutionPolicy{MaxRetries: 2, Strategy: models.RetryImmediate}
	if !ShouldRetry(p, 1) || !ShouldRetry(p, 2) {
		t.Fatal("attempts within budget should retry")
	}
	if ShouldRetry(p, 3) {
		t.Fatal("attempts beyond budget should not retry")
	}
	p.Strategy = models.RetryNone
	if ShouldRetry(p, 1) {
		t.Fatal("strategy none should never retry")
	}
}

func TestStateTransitions(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateIdle, StatePlanning},
		{StateIdle, StateExecuting},
		{StatePlanning, StateExecuting},
		{StateExecuting, StatePaused},
		{StatePaused, StateExecuting},
		{StateExecuting, StateCompleted},
		{StateExecuting, StateFailed},
		{StatePaused, StateCancelled},
	}
	for _, tc := range legal {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to State }{
		{StateCompleted, StateExecuting},
		{StateFailed, StateIdle},
		{StateCancelled, StateExecuting},
		{StateExecuting, StateIdle},
		{StatePaused, StatePlanning},
	}
	for _, tc := range illegal {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be illegal", tc.from, tc.to)
		}
	}
}

func TestExecutePlanSequential(t *testing.T) {
	e := newTestEngine(t, noRetryPolicy(), okTool("ok"))
	plan := testPlan(
		toolTask("a", "ok"),
		toolTask("b", "ok", "a"),
		toolTask("c", "ok", "b"),
	)

	if err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if e.State() != StateCompleted {
		t.Fatalf("state = %s, want completed", e.State())
	}
	for _, task := range plan.Tasks {
		if task.Status != models.TaskStatusCompleted {
			t.Fatalf("task %s status = %s, want completed", task.ID, task.Status)
		}
		if task.Result != "ok" {
			t.Fatalf("task %s result = %q", task.ID, task.Result)
		}
	}
	if plan.Status != models.PlanStatusCompleted {
		t.Fatalf("plan status = %s, want completed", plan.Status)
	}
}

func TestExecutePlanRejectsInvalidPlan(t *testing.T) {
	e := newTestEngine(t, noRetryPolicy(), okTool("ok"))
	plan := testPlan(
		toolTask("a", "ok", "b"),
		toolTask("b", "ok", "a"),
	)

	err := e.ExecutePlan(context.Background(), plan)
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
	if e.State() != StateIdle {
		t.Fatalf("invalid plan must not change state, got %s", e.State())
	}
	for _, task := range plan.Tasks {
		if task.Status != models.TaskStatusPending {
			t.Fatalf("invalid plan must not touch tasks, %s is %s", task.ID, task.Status)
		}
	}
}

func TestSequentialFailFast(t *testing.T) {
	e := newTestEngine(t, noRetryPolicy(), okTool("ok"), failTool("bad"))
	plan := testPlan(
		toolTask("a", "bad"),
		toolTask("b", "ok", "a"),
	)

	err := e.ExecutePlan(context.Background(), plan)
	if err == nil {
		t.Fatal("expected failure")
	}
	if e.State() != StateFailed {
		t.Fatalf("state = %s, want failed", e.State())
	}
	if plan.Tasks[0].Status != models.TaskStatusFailed {
		t.Fatalf("task a status = %s, want failed", plan.Tasks[0].Status)
	}
	if plan.Tasks[1].Status != models.TaskStatusSkipped {
		t.Fatalf("task b status = %s, want skipped", plan.Tasks[1].Status)
	}
}

func TestParallelPartialFailure(t *testing.T) {
	policy := noRetryPolicy()
	policy.Parallel = true
	policy.MaxConcurrency = 2
	e := newTestEngine(t, policy, failTool("bad"))
	plan := testPlan(
		toolTask("a", "bad"),
		toolTask("b", "bad", "a"),
	)

	err := e.ExecutePlan(context.Background(), plan)
	if err == nil {
		t.Fatal("expected failure")
	}

	stats := e.Stats()
	if stats.Completed != 0 || stats.Failed != 1 || stats.Skipped != 1 {
		t.Fatalf("stats = completed=%d failed=%d skipped=%d, want 0/1/1",
			stats.Completed, stats.Failed, stats.Skipped)
	}
	if plan.Tasks[1].Status != models.TaskStatusSkipped {
		t.Fatalf("dependent of failed task must be skipped, got %s", plan.Tasks[1].Status)
	}
}

func TestParallelIndependentBranchesSurviveFailure(t *testing.T) {
	policy := noRetryPolicy()
	policy.Parallel = true
	e := newTestEngine(t, policy, okTool("ok"), failTool("bad"))
	plan := testPlan(
		toolTask("a", "bad"),
		toolTask("b", "ok"),
		toolTask("c", "ok", "b"),
	)

	if err := e.ExecutePlan(context.Background(), plan); err == nil {
		t.Fatal("expected failure")
	}
	if plan.TaskByID("b").Status != models.TaskStatusCompleted {
		t.Fatal("independent branch should complete despite failure elsewhere")
	}
	if plan.TaskByID("c").Status != models.TaskStatusCompleted {
		t.Fatal("dependent of the healthy branch should complete")
	}
}

func TestParallelBatchScenario(t *testing.T) {
	policy := noRetryPolicy()
	policy.Parallel = true
	policy.MaxConcurrency = 4

	var mu sync.Mutex
	started := map[string]int{}
	batchIndex := 0

	r := tools.NewRegistry()
	tool := tools.Func{
		Meta: models.ToolMetadata{
			Name:         "probe",
			Description:  "records the batch each task ran in",
			Capabilities: models.Capabilities{Read: true},
			Risk:         models.RiskLow,
		},
		Run: func(context.Context, tools.Params) (tools.Result, error) {
			return tools.Result{Content: "ok"}, nil
		},
	}
	if err := r.Register(tool); err != nil {
		t.Fatal(err)
	}

	e := New(r, WithPolicy(policy), WithHooks(Hooks{
		OnTaskStart: func(task *models.Task) {
			mu.Lock()
			started[task.ID] = batchIndex
			mu.Unlock()
		},
		OnTaskComplete: func(task *models.Task) {
			mu.Lock()
			if task.ID == "a" || task.ID == "c" {
				// batch boundary passes once both first-batch tasks are done
				if _, ok := started["a"]; ok {
					if _, ok := started["c"]; ok {
						batchIndex = 1
					}
				}
			}
			mu.Unlock()
		},
	}))

	// a and c have no deps and share a batch; b waits for a.
	plan := testPlan(
		toolTask("a", "probe"),
		toolTask("b", "probe", "a"),
		toolTask("c", "probe"),
	)
	if err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if started["a"] != 0 || started["c"] != 0 {
		t.Fatalf("a and c should run in the first batch, got a=%d c=%d", started["a"], started["c"])
	}
	if started["b"] != 1 {
		t.Fatalf("b should run after the first batch, got batch %d", started["b"])
	}
}

func TestRetryLoopRecovers(t *testing.T) {
	policy := models.ExecutionPolicy{MaxRetries: 2, Strategy: models.RetryImmediate}
	flaky := &flakyTool{name: "flaky", failures: 2}
	e := newTestEngine(t, policy, flaky)
	plan := testPlan(toolTask("a", "flaky"))

	if err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	task := plan.Tasks[0]
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("task status = %s, want completed", task.Status)
	}
	if task.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", task.Attempts)
	}
	if atomic.LoadInt32(&flaky.calls) != 3 {
		t.Fatalf("tool called %d times, want 3", flaky.calls)
	}
}

func TestRetryExhaustionFails(t *testing.T) {
	policy := models.ExecutionPolicy{MaxRetries: 1, Strategy: models.RetryImmediate}
	e := newTestEngine(t, policy, failTool("bad"))
	plan := testPlan(toolTask("a", "bad"))

	if err := e.ExecutePlan(context.Background(), plan); err == nil {
		t.Fatal("expected failure")
	}
	task := plan.Tasks[0]
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if task.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (1 + 1 retry)", task.Attempts)
	}
	if task.Error == "" {
		t.Fatal("failed task must record its error")
	}
}

func TestRetrySwitchesToAlternativeTool(t *testing.T) {
	policy := models.ExecutionPolicy{MaxRetries: 1, Strategy: models.RetryImmediate}
	e := newTestEngine(t, policy, failTool("bad"), okTool("good"))
	task := toolTask("a", "bad")
	plan := testPlan(task)

	if err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed via alternative", task.Status)
	}
	if task.AssignedTool != "good" {
		t.Fatalf("assigned tool = %s, want good", task.AssignedTool)
	}
}

func TestThinkTaskUsesCompleter(t *testing.T) {
	r := tools.NewRegistry()
	completer := &fakeCompleter{responses: []string{"the answer"}}
	e := New(r, WithPolicy(noRetryPolicy()), WithCompleter(completer))

	think := &models.Task{
		ID:               "t",
		Description:      "reason about things",
		Type:             models.TaskTypeThink,
		Status:           models.TaskStatusPending,
		EstimatedSeconds: 1,
		Risk:             models.RiskLow,
		CreatedAt:        time.Now(),
	}
	plan := testPlan(think)
	if err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if think.Result != "the answer" {
		t.Fatalf("think result = %q", think.Result)
	}
}

func TestThinkTaskWithoutCompleterFails(t *testing.T) {
	e := newTestEngine(t, noRetryPolicy())
	think := &models.Task{
		ID: "t", Description: "reason", Type: models.TaskTypeThink,
		Status: models.TaskStatusPending, EstimatedSeconds: 1,
		Risk: models.RiskLow, CreatedAt: time.Now(),
	}
	if err := e.ExecutePlan(context.Background(), testPlan(think)); err == nil {
		t.Fatal("expected failure without a completer")
	}
	if !strings.Contains(think.Error, "no completer") {
		t.Fatalf("error = %q, want completer complaint", think.Error)
	}
}

func TestDependencyContextFlowsDownstream(t *testing.T) {
	r := tools.NewRegistry()
	completer := &fakeCompleter{responses: []string{"fact one", "combined"}}
	e := New(r, WithPolicy(noRetryPolicy()), WithCompleter(completer))

	a := &models.Task{
		ID: "a", Description: "find a fact", Type: models.TaskTypeThink,
		Status: models.TaskStatusPending, EstimatedSeconds: 1,
		Risk: models.RiskLow, CreatedAt: time.Now(),
	}
	b := &models.Task{
		ID: "b", Description: "use the fact", Type: models.TaskTypeThink,
		Status: models.TaskStatusPending, DependsOn: []string{"a"},
		EstimatedSeconds: 1, Risk: models.RiskLow, CreatedAt: time.Now(),
	}
	if err := e.ExecutePlan(context.Background(), testPlan(a, b)); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if b.Result != "combined" {
		t.Fatalf("b result = %q", b.Result)
	}
	if completer.calls != 2 {
		t.Fatalf("completer called %d times, want 2", completer.calls)
	}
}

func TestCancelStopsBeforeNextDispatch(t *testing.T) {
	e := newTestEngine(t, noRetryPolicy(), okTool("ok"))
	e.Cancel()

	plan := testPlan(toolTask("a", "ok"))
	err := e.ExecutePlan(context.Background(), plan)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if e.State() != StateCancelled {
		t.Fatalf("state = %s, want cancelled", e.State())
	}
	if plan.Tasks[0].Status != models.TaskStatusCancelled {
		t.Fatalf("task status = %s, want cancelled", plan.Tasks[0].Status)
	}
}

func TestCancelDuringBackoffCancelsRun(t *testing.T) {
	policy := models.ExecutionPolicy{
		MaxRetries: 2,
		Strategy:   models.RetryLinear,
		BaseDelay:  5 * time.Second,
		MaxDelay:   30 * time.Second,
	}
	e := newTestEngine(t, policy, failTool("bad"))
	plan := testPlan(toolTask("a", "bad"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		e.Cancel()
	}()

	err := e.ExecutePlan(context.Background(), plan)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if e.State() != StateCancelled {
		t.Fatalf("state = %s, want cancelled", e.State())
	}
	if plan.Tasks[0].Status != models.TaskStatusCancelled {
		t.Fatalf("task status = %s, want cancelled", plan.Tasks[0].Status)
	}
	if plan.Status != models.PlanStatusCancelled {
		t.Fatalf("plan status = %s, want cancelled", plan.Status)
	}
}

func TestStatsConsistentDuringParallelRun(t *testing.T) {
	policy := noRetryPolicy()
	policy.Parallel = true
	policy.MaxConcurrency = 4

	slow := tools.Func{
		Meta: models.ToolMetadata{
			Name:         "slow",
			Description:  "sleeps briefly",
			Capabilities: models.Capabilities{Read: true},
			Risk:         models.RiskLow,
		},
		Run: func(context.Context, tools.Params) (tools.Result, error) {
			time.Sleep(5 * time.Millisecond)
			return tools.Result{Content: "ok"}, nil
		},
	}
	e := newTestEngine(t, policy, slow)
	plan := testPlan(
		toolTask("a", "slow"),
		toolTask("b", "slow"),
		toolTask("c", "slow"),
		toolTask("d", "slow", "a", "b"),
	)

	// Poll stats and checkpoints while workers are mutating task state.
	cpPath := filepath.Join(t.TempDir(), "run.json")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s := e.Stats()
			settled := s.Completed + s.Failed + s.Skipped + s.Cancelled
			if s.Total != 0 && settled+s.Remaining != s.Total {
				t.Errorf("stats snapshot does not add up: %+v", s)
				return
			}
			if i%20 == 0 {
				_ = e.SaveCheckpoint(cpPath)
			}
		}
	}()

	if err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	<-done
	if s := e.Stats(); s.Completed != 4 {
		t.Fatalf("completed = %d, want 4", s.Completed)
	}
}

func TestPauseControllerRoundTrip(t *testing.T) {
	p := NewPauseController()
	if p.IsPaused() {
		t.Fatal("fresh controller should not be paused")
	}
	p.Pause()
	if !p.IsPaused() {
		t.Fatal("controller should be paused")
	}

	released := make(chan error, 1)
	go func() {
		released <- p.WaitIfPaused(context.Background())
	}()

	select {
	case <-released:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	p.Resume()
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("WaitIfPaused returned error after resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not release after resume")
	}
}

func TestPauseControllerContextCancel(t *testing.T) {
	p := NewPauseController()
	p.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan error, 1)
	go func() {
		released <- p.WaitIfPaused(ctx)
	}()
	cancel()

	select {
	case err := <-released:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not release on context cancel")
	}
}

func TestPauseControllerStopReleasesWaiters(t *testing.T) {
	p := NewPauseController()
	p.Pause()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- p.WaitIfPaused(context.Background()) }()
	}

	p.Stop()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrStopped) {
				t.Fatalf("expected ErrStopped, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("waiter not released by Stop")
		}
	}

	// Stopped is permanent: later waits refuse immediately, pause is a no-op.
	if err := p.WaitIfPaused(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped controller must refuse waits, got %v", err)
	}
	q := NewPauseController()
	q.Stop()
	q.Pause()
	if q.IsPaused() {
		t.Fatal("pause after stop should be ignored")
	}
}

func TestHookPanicDoesNotAbortRun(t *testing.T) {
	r := tools.NewRegistry()
	if err := r.Register(okTool("ok")); err != nil {
		t.Fatal(err)
	}
	e := New(r, WithPolicy(noRetryPolicy()), WithHooks(Hooks{
		OnTaskStart:    func(*models.Task) { panic("bad hook") },
		OnTaskComplete: func(*models.Task) { panic("worse hook") },
	}))

	plan := testPlan(toolTask("a", "ok"))
	if err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Fatalf("panicking hooks must not abort the run: %v", err)
	}
	if plan.Tasks[0].Status != models.TaskStatusCompleted {
		t.Fatalf("task status = %s, want completed", plan.Tasks[0].Status)
	}
}

func TestStatsIdempotent(t *testing.T) {
	e := newTestEngine(t, noRetryPolicy(), okTool("ok"))
	plan := testPlan(toolTask("a", "ok"), toolTask("b", "ok", "a"))
	if err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}

	first := e.Stats()
	for i := 0; i < 10; i++ {
		if got := e.Stats(); got != first {
			t.Fatalf("Stats() changed between reads: %+v vs %+v", got, first)
		}
	}
	if first.Total != 2 || first.Completed != 2 || first.Progress != 100 {
		t.Fatalf("stats = %+v, want 2/2 at 100%%", first)
	}
}

func TestSummaryNamesRootCauses(t *testing.T) {
	policy := noRetryPolicy()
	policy.Parallel = true
	e := newTestEngine(t, policy, failTool("bad"))
	plan := testPlan(
		toolTask("a", "bad"),
		toolTask("b", "bad", "a"),
	)
	_ = e.ExecutePlan(context.Background(), plan)

	summary := e.Summary()
	if !strings.Contains(summary, "failed: a") {
		t.Fatalf("summary missing root cause: %q", summary)
	}
	if strings.Contains(summary, "failed: b") {
		t.Fatalf("skipped task listed as a cause: %q", summary)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	e := newTestEngine(t, noRetryPolicy(), okTool("ok"), failTool("bad"))
	plan := testPlan(
		toolTask("a", "ok"),
		toolTask("b", "bad", "a"),
	)
	_ = e.ExecutePlan(context.Background(), plan)

	path := filepath.Join(t.TempDir(), "run.json")
	if err := e.SaveCheckpoint(path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	cp, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if cp.PlanID != plan.ID || cp.Goal != plan.Goal {
		t.Fatalf("checkpoint identity mismatch: %s/%s", cp.PlanID, cp.Goal)
	}
	if len(cp.Tasks) != 2 {
		t.Fatalf("checkpoint has %d tasks, want 2", len(cp.Tasks))
	}
	byID := map[string]*models.Task{}
	for _, task := range cp.Tasks {
		byID[task.ID] = task
	}
	if byID["a"].Status != models.TaskStatusCompleted || byID["a"].Result != "ok" {
		t.Fatalf("task a snapshot wrong: %+v", byID["a"])
	}
	if byID["b"].Status != models.TaskStatusFailed {
		t.Fatalf("task b snapshot wrong: %+v", byID["b"])
	}
}

func TestCheckpointVersionMismatchRefused(t *testing.T) {
	e := newTestEngine(t, noRetryPolicy(), okTool("ok"))
	plan := testPlan(toolTask("a", "ok"))
	if err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "run.json")
	if err := e.SaveCheckpoint(path); err != nil {
		t.Fatal(err)
	}

	cp, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	cp.Version = 99

	fresh := newTestEngine(t, noRetryPolicy(), okTool("ok"))
	if err := fresh.Restore(cp); !errors.Is(err, ErrCheckpointMismatch) {
		t.Fatalf("expected ErrCheckpointMismatch for version, got %v", err)
	}
}

func TestRestoreRefusesForeignPlan(t *testing.T) {
	e := newTestEngine(t, noRetryPolicy(), okTool("ok"))
	plan := testPlan(toolTask("a", "ok"))
	e.mu.Lock()
	e.plan = plan
	e.mu.Unlock()

	cp := &Checkpoint{
		Version: checkpointVersion,
		PlanID:  "other-plan",
		Goal:    "other goal",
		Tasks:   []*models.Task{toolTask("a", "ok")},
	}
	if err := e.Restore(cp); !errors.Is(err, ErrCheckpointMismatch) {
		t.Fatalf("expected ErrCheckpointMismatch for foreign plan, got %v", err)
	}

	cp.PlanID = plan.ID
	cp.Tasks = []*models.Task{toolTask("x", "ok")}
	if err := e.Restore(cp); !errors.Is(err, ErrCheckpointMismatch) {
		t.Fatalf("expected ErrCheckpointMismatch for task-id mismatch, got %v", err)
	}
}

func TestResumeRunsOnlyUnfinishedWork(t *testing.T) {
	done := toolTask("a", "ok")
	done.Status = models.TaskStatusCompleted
	done.Result = "prior result"
	pending := toolTask("b", "ok", "a")

	cp := &Checkpoint{
		Version: checkpointVersion,
		PlanID:  "resumed",
		Goal:    "resume test",
		Policy:  noRetryPolicy(),
		Tasks:   []*models.Task{done, pending},
		SavedAt: time.Now(),
	}

	var started []string
	r := tools.NewRegistry()
	if err := r.Register(okTool("ok")); err != nil {
		t.Fatal(err)
	}
	e := New(r, WithPolicy(noRetryPolicy()), WithHooks(Hooks{
		OnTaskStart: func(task *models.Task) { started = append(started, task.ID) },
	}))

	if err := e.Restore(cp); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if err := e.ExecutePlan(context.Background(), e.CurrentPlan()); err != nil {
		t.Fatalf("resumed ExecutePlan failed: %v", err)
	}

	if len(started) != 1 || started[0] != "b" {
		t.Fatalf("resumed run dispatched %v, want only b", started)
	}
	if done.Result != "prior result" {
		t.Fatal("completed task result must survive the resume")
	}
}

func TestRestoreResetsInterruptedTasks(t *testing.T) {
	running := toolTask("a", "ok")
	running.Status = models.TaskStatusRunning
	now := time.Now()
	running.StartedAt = &now

	cp := &Checkpoint{
		Version: checkpointVersion,
		PlanID:  "interrupted",
		Goal:    "crash recovery",
		Tasks:   []*models.Task{running},
		SavedAt: now,
	}
	e := newTestEngine(t, noRetryPolicy(), okTool("ok"))
	if err := e.Restore(cp); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if running.Status != models.TaskStatusPending {
		t.Fatalf("interrupted task status = %s, want pending", running.Status)
	}
	if running.StartedAt != nil {
		t.Fatal("interrupted task start time should be cleared")
	}
}

const planResponse = `[
  {"id": "scan", "description": "inspect the project", "type": "THINK",
   "depends_on": [], "estimated_seconds": 30, "risk": "LOW",
   "inputs": [], "outputs": ["notes"]},
  {"id": "apply", "description": "act on the notes", "type": "READ",
   "depends_on": [], "estimated_seconds": 60, "risk": "LOW",
   "inputs": ["notes"], "outputs": []}
]`

func TestPlanPipeline(t *testing.T) {
	// Call order: decomposition, batched tool selection (malformed, so the
	// selector falls back to exact matching), then the think task itself.
	completer := &fakeCompleter{responses: []string{planResponse, "no json here", "scan complete"}}
	r := tools.NewRegistry()
	if err := r.Register(okTool("ok")); err != nil {
		t.Fatal(err)
	}
	e := New(r,
		WithPolicy(noRetryPolicy()),
		WithCompleter(completer),
		WithDecomposer(decompose.New(completer)),
	)

	plan, err := e.Plan(context.Background(), "tidy the project")
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if e.State() != StatePlanning {
		t.Fatalf("state = %s, want planning", e.State())
	}
	if plan.Goal != "tidy the project" || len(plan.Tasks) != 2 {
		t.Fatalf("plan = %+v", plan)
	}
	// Output "notes" feeds input "notes": the resolver infers scan -> apply.
	apply := plan.TaskByID("apply")
	if apply == nil || !apply.DependsOnTask("scan") {
		t.Fatal("implicit dependency scan -> apply was not inferred")
	}
	// The read task gets a tool during planning; the think task does not.
	if apply.AssignedTool != "ok" {
		t.Fatalf("apply assigned tool = %q, want ok", apply.AssignedTool)
	}
	if plan.TaskByID("scan").AssignedTool != "" {
		t.Fatal("think task should not get a tool")
	}

	if err := e.ExecutePlan(context.Background(), plan); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if e.State() != StateCompleted {
		t.Fatalf("state = %s, want completed", e.State())
	}
}

func TestPlanWithoutDecomposerFails(t *testing.T) {
	e := newTestEngine(t, noRetryPolicy())
	if _, err := e.Plan(context.Background(), "goal"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestSubPlanDispatch(t *testing.T) {
	subResponse := `[
  {"id": "s1", "description": "first step", "type": "THINK",
   "depends_on": [], "estimated_seconds": 10, "risk": "LOW",
   "inputs": [], "outputs": []},
  {"id": "s2", "description": "second step", "type": "THINK",
   "depends_on": ["s1"], "estimated_seconds": 10, "risk": "LOW",
   "inputs": [], "outputs": []}
]`
	// Call order: sub-decomposition, then the two think sub-tasks.
	completer := &fakeCompleter{responses: []string{subResponse, "first result", "second result"}}
	r := tools.NewRegistry()
	e := New(r,
		WithPolicy(noRetryPolicy()),
		WithCompleter(completer),
		WithDecomposer(decompose.New(completer)),
	)

	planTask := &models.Task{
		ID: "p", Description: "break this down", Type: models.TaskTypePlan,
		Status: models.TaskStatusPending, EstimatedSeconds: 1,
		Risk: models.RiskLow, CreatedAt: time.Now(),
	}
	if err := e.ExecutePlan(context.Background(), testPlan(planTask)); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if planTask.Status != models.TaskStatusCompleted {
		t.Fatalf("plan task status = %s, want completed", planTask.Status)
	}
	if !strings.Contains(planTask.Result, "first result") || !strings.Contains(planTask.Result, "second result") {
		t.Fatalf("plan task result missing sub-results: %q", planTask.Result)
	}
	if completer.calls != 3 {
		t.Fatalf("completer called %d times, want 3", completer.calls)
	}
}

func writeSignal(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSignalWatcherControlsEngine(t *testing.T) {
	e := newTestEngine(t, noRetryPolicy(), okTool("ok"))
	dir := filepath.Join(t.TempDir(), "signals")
	sw, err := WatchSignals(dir, e)
	if err != nil {
		t.Fatalf("WatchSignals failed: %v", err)
	}
	defer sw.Close()

	// Cancel applies even without a running plan.
	sw.apply(signalCancel)
	if !e.cancel.Cancelled() {
		t.Fatal("cancel signal did not set the token")
	}

	// Pre-existing signal files apply at startup.
	e2 := newTestEngine(t, noRetryPolicy(), okTool("ok"))
	dir2 := filepath.Join(t.TempDir(), "signals")
	writeSignal(t, dir2, signalCancel)
	sw2, err := WatchSignals(dir2, e2)
	if err != nil {
		t.Fatalf("WatchSignals failed: %v", err)
	}
	defer sw2.Close()
	if !e2.cancel.Cancelled() {
		t.Fatal("pre-existing cancel file was not applied")
	}
}
