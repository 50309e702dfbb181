// Package engine turns a goal into an executed plan: decomposition,
// dependency resolution, tool selection, and retrying dispatch with
// pause, cancel, and checkpoint support.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskpilot/taskpilot/internal/decompose"
	"github.com/taskpilot/taskpilot/internal/graph"
	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/internal/resolver"
	"github.com/taskpilot/taskpilot/internal/tools"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// ErrInvalidPlan indicates a plan whose task set does not form a valid DAG.
// Validation happens before any state change or side effect.
var ErrInvalidPlan = errors.New("invalid plan")

// ErrCancelled indicates the run stopped because Cancel was called.
var ErrCancelled = errors.New("execution cancelled")

// ErrNotReady indicates an operation that needs a plan or a collaborator
// the engine was not configured with.
var ErrNotReady = errors.New("engine not ready")

// State is the engine lifecycle state.
type State string

const (
	// StateIdle is the initial state.
	StateIdle State = "idle"
	// StatePlanning means a goal is being decomposed into a plan.
	StatePlanning State = "planning"
	// StateExecuting means tasks are being dispatched.
	StateExecuting State = "executing"
	// StatePaused means dispatch is suspended; in-flight tasks finish.
	StatePaused State = "paused"
	// StateCompleted means every task completed successfully.
	StateCompleted State = "completed"
	// StateFailed means at least one task failed terminally.
	StateFailed State = "failed"
	// StateCancelled means the run was cancelled.
	StateCancelled State = "cancelled"
)

// Terminal returns true if no further transitions are allowed.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is legal. Apart from
// the executing/paused pair, transitions only move forward.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StateIdle:
		return next == StatePlanning || next == StateExecuting
	case StatePlanning:
		return next == StateExecuting || next == StateFailed || next == StateCancelled
	case StateExecuting:
		return next == StatePaused || next == StateCompleted || next == StateFailed || next == StateCancelled
	case StatePaused:
		return next == StateExecuting || next == StateFailed || next == StateCancelled
	default:
		return false
	}
}

// Hooks are optional callbacks invoked synchronously at task and plan
// boundaries. A panicking hook is recovered and logged; it never aborts
// the run.
type Hooks struct {
	// OnTaskStart fires when a task enters the running state.
	OnTaskStart func(*models.Task)
	// OnTaskComplete fires when a task completes successfully.
	OnTaskComplete func(*models.Task)
	// OnTaskFail fires when a task fails terminally, after all retries.
	OnTaskFail func(*models.Task, error)
	// OnPlanComplete fires once when the run reaches a terminal state.
	OnPlanComplete func(*models.ExecutionPlan, Stats)
}

// Engine executes plans. Construct one per run with New.
type Engine struct {
	mu     sync.RWMutex
	state  State
	plan   *models.ExecutionPlan
	policy models.ExecutionPolicy

	registry   *tools.Registry
	selector   *tools.Selector
	completer  llm.Completer
	decomposer *decompose.Decomposer
	resolver   *resolver.Resolver

	pause  *PauseController
	cancel *CancelToken
	hooks  Hooks

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Engine. Use With* functions to create Options.
type Option func(*Engine)

// WithPolicy sets the execution policy.
func WithPolicy(p models.ExecutionPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithCompleter sets the LLM collaborator used for THINK tasks and
// tool auto-selection.
func WithCompleter(c llm.Completer) Option {
	return func(e *Engine) { e.completer = c }
}

// WithDecomposer sets the decomposer used by Plan and by PLAN tasks.
func WithDecomposer(d *decompose.Decomposer) Option {
	return func(e *Engine) { e.decomposer = d }
}

// WithResolver sets the dependency resolver used during planning.
func WithResolver(r *resolver.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithHooks sets the lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithRandSource sets the random source used for retry jitter (mainly for
// deterministic tests).
func WithRandSource(src rand.Source) Option {
	return func(e *Engine) { e.rng = rand.New(src) }
}

// New creates an Engine over the given tool registry.
func New(registry *tools.Registry, opts ...Option) *Engine {
	e := &Engine{
		state:    StateIdle,
		policy:   models.DefaultPolicy(),
		registry: registry,
		pause:    NewPauseController(),
		cancel:   NewCancelToken(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.resolver == nil {
		e.resolver = resolver.New(resolver.DefaultScoring())
	}
	e.selector = tools.NewSelector(registry, e.completer)
	return e
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// CurrentPlan returns the plan the engine holds, or nil.
func (e *Engine) CurrentPlan() *models.ExecutionPlan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.plan
}

// Policy returns the execution policy in effect.
func (e *Engine) Policy() models.ExecutionPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// setState transitions the engine, enforcing the state machine. Returns
// false and leaves the state unchanged on an illegal transition.
func (e *Engine) setState(next State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.CanTransition(next) {
		return false
	}
	e.state = next
	return true
}

// Plan decomposes a goal into an execution plan: LLM decomposition,
// implicit dependency inference, estimate validation, and tool selection.
// The returned plan is held by the engine for ExecutePlan.
func (e *Engine) Plan(ctx context.Context, goal string) (*models.ExecutionPlan, error) {
	if e.decomposer == nil {
		return nil, fmt.Errorf("%w: no decomposer configured", ErrNotReady)
	}
	if !e.setState(StatePlanning) {
		return nil, fmt.Errorf("%w: cannot plan from state %s", ErrNotReady, e.State())
	}

	tasks, err := e.decomposer.Decompose(ctx, goal)
	if err != nil {
		e.setState(StateFailed)
		return nil, fmt.Errorf("decompose goal: %w", err)
	}

	inferred, err := e.resolver.InferImplicitDependencies(tasks)
	if err != nil {
		e.setState(StateFailed)
		return nil, fmt.Errorf("resolve dependencies: %w", err)
	}
	if len(inferred.Added) > 0 {
		log.Printf("[engine] inferred %d implicit dependencies", len(inferred.Added))
	}
	for _, warning := range e.resolver.ValidateTimeEstimates(tasks) {
		log.Printf("[engine] estimate warning: %s", warning)
	}

	if errs := e.selector.SelectForTasks(ctx, tasks, true); len(errs) > 0 {
		for id, selErr := range errs {
			log.Printf("[engine] no tool selected for task %s: %v", id, selErr)
		}
	}

	plan := &models.ExecutionPlan{
		ID:        uuid.New().String()[:8],
		Goal:      goal,
		Tasks:     tasks,
		Status:    models.PlanStatusDraft,
		CreatedAt: time.Now(),
	}

	e.mu.Lock()
	e.plan = plan
	e.mu.Unlock()
	log.Printf("[engine] plan %s built: %d tasks, %.0fs estimated", plan.ID, len(tasks), plan.TotalEstimatedSeconds())
	return plan, nil
}

// ExecutePlan runs the plan to a terminal state. The task set is validated
// first; an invalid plan is rejected with ErrInvalidPlan before any state
// change. Sequential mode walks the topological order and fails fast;
// parallel mode dispatches batch by batch under the concurrency bound,
// marking dependents of failed tasks skipped.
func (e *Engine) ExecutePlan(ctx context.Context, plan *models.ExecutionPlan) error {
	g, err := graph.Build(plan.Tasks)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if !e.setState(StateExecuting) {
		return fmt.Errorf("%w: cannot execute from state %s", ErrNotReady, e.State())
	}

	e.mu.Lock()
	e.plan = plan
	plan.Status = models.PlanStatusRunning
	e.mu.Unlock()

	var runErr error
	if e.policy.Parallel {
		runErr = e.runParallel(ctx, g, plan)
	} else {
		runErr = e.runSequential(ctx, g, plan)
	}

	final := e.finalize(plan, runErr)
	e.firePlanComplete(plan)
	if final == StateFailed {
		return fmt.Errorf("plan %s failed: %s", plan.ID, e.firstFailure(plan))
	}
	if final == StateCancelled {
		return ErrCancelled
	}
	return nil
}

// finalize settles the terminal engine and plan state after a run.
func (e *Engine) finalize(plan *models.ExecutionPlan, runErr error) State {
	var failed bool
	for _, t := range plan.Tasks {
		switch t.Status {
		case models.TaskStatusFailed:
			failed = true
		}
	}

	var next State
	switch {
	case errors.Is(runErr, ErrCancelled):
		next = StateCancelled
		plan.Status = models.PlanStatusCancelled
	case failed || runErr != nil:
		next = StateFailed
		plan.Status = models.PlanStatusFailed
	default:
		next = StateCompleted
		plan.Status = models.PlanStatusCompleted
	}

	// A paused engine being cancelled or failing must pass back through
	// executing-adjacent states; setState enforces legality, so force the
	// terminal write directly under the lock when needed.
	if !e.setState(next) {
		e.mu.Lock()
		e.state = next
		e.mu.Unlock()
	}
	return next
}

// transition moves a task's status under the engine lock so concurrent
// Stats and checkpoint readers observe a consistent snapshot.
func (e *Engine) transition(task *models.Task, next models.TaskStatus) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return task.Transition(next)
}

// mutateTask applies fn under the engine lock. Every task field write
// during a run goes through here or through transition.
func (e *Engine) mutateTask(fn func()) {
	e.mu.Lock()
	fn()
	e.mu.Unlock()
}

// gate blocks while paused and reports cancellation. Checked before every
// dispatch; in-flight tasks are never force-interrupted.
func (e *Engine) gate(ctx context.Context) error {
	if e.cancel.Cancelled() {
		return ErrCancelled
	}
	if err := e.pause.WaitIfPaused(ctx); err != nil {
		if e.cancel.Cancelled() {
			return ErrCancelled
		}
		return err
	}
	if e.cancel.Cancelled() {
		return ErrCancelled
	}
	return ctx.Err()
}

// runSequential walks the topological order and stops on the first failure.
func (e *Engine) runSequential(ctx context.Context, g *graph.TaskGraph, plan *models.ExecutionPlan) error {
	for i, task := range g.TopologicalOrder() {
		if err := e.gate(ctx); err != nil {
			e.cancelRemaining(plan)
			return err
		}
		if task.Status.Terminal() {
			continue // already settled by a resumed checkpoint
		}
		if !e.depsCompleted(task, g) {
			e.transition(task, models.TaskStatusSkipped)
			continue
		}

		e.mu.Lock()
		plan.CurrentStep = i
		e.mu.Unlock()

		e.runTask(ctx, task, g)
		if task.Status == models.TaskStatusFailed {
			e.skipDependents(task, g)
			return nil // fail fast; finalize settles the failed state
		}
	}
	if e.cancel.Cancelled() {
		e.cancelRemaining(plan)
		return ErrCancelled
	}
	return nil
}

// runParallel dispatches batch by batch, bounding concurrency with a
// semaphore. Tasks whose dependencies did not complete are marked skipped
// and never dispatched.
func (e *Engine) runParallel(ctx context.Context, g *graph.TaskGraph, plan *models.ExecutionPlan) error {
	for _, batch := range g.ParallelBatches() {
		if err := e.gate(ctx); err != nil {
			e.cancelRemaining(plan)
			return err
		}

		var runnable []*models.Task
		for _, task := range batch {
			if task.Status.Terminal() {
				continue
			}
			if !e.depsCompleted(task, g) {
				e.transition(task, models.TaskStatusSkipped)
				log.Printf("[engine] task %s skipped: dependency did not complete", task.ID)
				continue
			}
			runnable = append(runnable, task)
		}
		if len(runnable) == 0 {
			continue
		}

		limit := e.policy.MaxConcurrency
		if limit <= 0 {
			limit = len(runnable)
		}
		sem := make(chan struct{}, limit)
		var wg sync.WaitGroup
		for _, task := range runnable {
			wg.Add(1)
			go func(task *models.Task) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				e.runTask(ctx, task, g)
			}(task)
		}
		wg.Wait()
	}
	if e.cancel.Cancelled() {
		e.cancelRemaining(plan)
		return ErrCancelled
	}
	return nil
}

// depsCompleted reports whether every dependency of the task completed.
func (e *Engine) depsCompleted(task *models.Task, g *graph.TaskGraph) bool {
	for _, dep := range g.Dependencies(task.ID) {
		d := g.Task(dep)
		if d == nil || d.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// skipDependents marks every transitive dependent of a failed task skipped.
func (e *Engine) skipDependents(task *models.Task, g *graph.TaskGraph) {
	for _, id := range g.TransitiveDependents(task.ID) {
		if dep := g.Task(id); dep != nil && !dep.Status.Terminal() {
			e.transition(dep, models.TaskStatusSkipped)
		}
	}
}

// cancelRemaining marks every non-terminal task cancelled.
func (e *Engine) cancelRemaining(plan *models.ExecutionPlan) {
	for _, task := range plan.Tasks {
		if !task.Status.Terminal() {
			e.transition(task, models.TaskStatusCancelled)
		}
	}
}

// runTask executes one task through the retry loop. On failure between
// attempts an alternative tool is consulted. The task ends completed,
// failed, or cancelled; the caller handles propagation.
func (e *Engine) runTask(ctx context.Context, task *models.Task, g *graph.TaskGraph) {
	e.transition(task, models.TaskStatusReady)
	e.transition(task, models.TaskStatusRunning)
	e.fireTaskStart(task)

	var lastErr error
	var failedTools []string
	for attempt := 0; ; attempt++ {
		e.mutateTask(func() { task.Attempts = attempt + 1 })

		result, err := e.dispatch(ctx, task, g)
		if err == nil {
			e.mutateTask(func() {
				task.Result = result
				task.Error = ""
				task.Transition(models.TaskStatusCompleted)
			})
			e.fireTaskComplete(task)
			return
		}
		lastErr = err
		log.Printf("[engine] task %s attempt %d failed: %v", task.ID, attempt+1, err)

		if !ShouldRetry(e.policy, attempt+1) {
			break
		}
		// Cancellation between attempts is not a task failure.
		if e.cancel.Cancelled() {
			e.transition(task, models.TaskStatusCancelled)
			return
		}

		// Between attempts, see if a different eligible tool is available.
		if task.AssignedTool != "" {
			failedTools = append(failedTools, task.AssignedTool)
			if alts := e.selector.SuggestAlternatives(task, task.AssignedTool, 1, failedTools); len(alts) > 0 {
				log.Printf("[engine] task %s switching tool %s -> %s", task.ID, task.AssignedTool, alts[0].Name)
				e.mutateTask(func() { task.AssignedTool = alts[0].Name })
			}
		}

		if delay := RetryDelay(e.policy, attempt, e.jitterSample()); delay > 0 {
			if err := e.sleep(ctx, delay); err != nil {
				if errors.Is(err, ErrCancelled) {
					e.transition(task, models.TaskStatusCancelled)
					return
				}
				lastErr = err
				break
			}
		}
	}

	e.mutateTask(func() {
		task.Error = lastErr.Error()
		task.Transition(models.TaskStatusFailed)
	})
	e.fireTaskFail(task, lastErr)
}

// dispatch routes one attempt of a task: THINK tasks go to the LLM, PLAN
// tasks are recursively decomposed and their sub-tasks run inline, and
// everything else goes through the assigned tool.
func (e *Engine) dispatch(ctx context.Context, task *models.Task, g *graph.TaskGraph) (string, error) {
	depContext := e.gatherContext(task, g)

	switch task.Type {
	case models.TaskTypeThink:
		return e.dispatchThink(ctx, task, depContext)
	case models.TaskTypePlan:
		return e.dispatchSubPlan(ctx, task, depContext)
	default:
		return e.dispatchTool(ctx, task)
	}
}

func (e *Engine) dispatchThink(ctx context.Context, task *models.Task, depContext string) (string, error) {
	if e.completer == nil {
		return "", fmt.Errorf("%w: no completer configured for think task", ErrNotReady)
	}
	prompt := task.Description
	if depContext != "" {
		prompt += "\n\n" + depContext
	}
	return e.completer.Complete(ctx, llm.Request{Prompt: prompt})
}

// dispatchSubPlan decomposes a plan task into sub-tasks and runs them
// inline in topological order. Sub-task failures fail the plan task; there
// is no nested retry loop.
func (e *Engine) dispatchSubPlan(ctx context.Context, task *models.Task, depContext string) (string, error) {
	if e.decomposer == nil {
		return "", fmt.Errorf("%w: no decomposer configured for plan task", ErrNotReady)
	}

	goal := task.Description
	if depContext != "" {
		goal += "\n\n" + depContext
	}
	subTasks, err := e.decomposer.Decompose(ctx, goal)
	if err != nil {
		return "", fmt.Errorf("decompose sub-plan: %w", err)
	}
	subGraph, err := graph.Build(subTasks)
	if err != nil {
		return "", fmt.Errorf("sub-plan graph: %w", err)
	}

	var b strings.Builder
	for _, sub := range subGraph.TopologicalOrder() {
		if err := e.gate(ctx); err != nil {
			return "", err
		}
		result, err := e.dispatch(ctx, sub, subGraph)
		if err != nil {
			return "", fmt.Errorf("sub-task %s: %w", sub.ID, err)
		}
		sub.Result = result
		sub.Status = models.TaskStatusCompleted
		fmt.Fprintf(&b, "## %s\n%s\n\n", sub.ID, result)
	}
	return b.String(), nil
}

func (e *Engine) dispatchTool(ctx context.Context, task *models.Task) (string, error) {
	name := task.AssignedTool
	var tool tools.Tool
	var err error
	if name == "" {
		tool, err = e.selector.SelectForTask(ctx, task, "")
		if err != nil {
			return "", err
		}
		name = tool.Metadata().Name
		e.mutateTask(func() { task.AssignedTool = name })
	} else {
		tool, err = e.registry.Get(name)
		if err != nil {
			return "", err
		}
	}

	start := time.Now()
	result, err := tool.Execute(ctx, tools.Params(task.Requirement.Params))
	failed := err != nil || result.IsError
	e.registry.RecordInvocation(name, time.Since(start), failed)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s: %s", name, result.Content)
	}
	return result.Content, nil
}

// gatherContext collects the results of completed dependencies so a task
// sees what its prerequisites produced.
func (e *Engine) gatherContext(task *models.Task, g *graph.TaskGraph) string {
	var b strings.Builder
	for _, id := range g.Dependencies(task.ID) {
		dep := g.Task(id)
		if dep == nil || dep.Status != models.TaskStatusCompleted || dep.Result == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Results from completed dependencies:\n")
		}
		fmt.Fprintf(&b, "## %s: %s\n%s\n", dep.ID, dep.Description, dep.Result)
	}
	return b.String()
}

// Pause suspends dispatch between tasks. In-flight tasks finish.
func (e *Engine) Pause() {
	if e.setState(StatePaused) {
		e.pause.Pause()
	}
}

// Resume lifts a pause.
func (e *Engine) Resume() {
	if e.setState(StateExecuting) {
		e.pause.Resume()
	}
}

// Cancel stops the run before the next dispatch. In-flight tasks are
// never force-interrupted.
func (e *Engine) Cancel() {
	e.cancel.Cancel()
	e.pause.Stop()
	log.Printf("[engine] cancellation requested")
}

// sleep waits for the delay, returning early on context cancellation or
// engine cancellation.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.cancel.Done():
		return ErrCancelled
	}
}

func (e *Engine) jitterSample() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

// firstFailure returns the first failed task's error, for the run summary.
func (e *Engine) firstFailure(plan *models.ExecutionPlan) string {
	for _, task := range plan.Tasks {
		if task.Status == models.TaskStatusFailed {
			return fmt.Sprintf("task %s failed after %d attempts: %s", task.ID, task.Attempts, task.Error)
		}
	}
	return "no failed task recorded"
}

func (e *Engine) fireTaskStart(task *models.Task) {
	if e.hooks.OnTaskStart != nil {
		e.safeHook(func() { e.hooks.OnTaskStart(task) })
	}
}

func (e *Engine) fireTaskComplete(task *models.Task) {
	if e.hooks.OnTaskComplete != nil {
		e.safeHook(func() { e.hooks.OnTaskComplete(task) })
	}
}

func (e *Engine) fireTaskFail(task *models.Task, err error) {
	if e.hooks.OnTaskFail != nil {
		e.safeHook(func() { e.hooks.OnTaskFail(task, err) })
	}
}

func (e *Engine) firePlanComplete(plan *models.ExecutionPlan) {
	if e.hooks.OnPlanComplete != nil {
		stats := e.Stats()
		e.safeHook(func() { e.hooks.OnPlanComplete(plan, stats) })
	}
}

// safeHook invokes a callback, recovering a panic so a bad hook cannot
// abort the run.
func (e *Engine) safeHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[engine] hook panicked: %v", r)
		}
	}()
	fn()
}
