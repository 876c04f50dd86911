// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/conductor/pkg/workflow/expression"
)

// Engine drives one execution's step graph (§4.6). Grounded on
// pkg/workflow/workflow.go's hook-firing shape and
// original_source/.../workflows/core/engine.py's driver-loop sequence.
type Engine struct {
	registry *Registry
	store    Store
	handlers *HandlerRegistry
	agent    Agent
	executor *StepExecutor
	hooks    Hooks
	logger   *slog.Logger

	mu        sync.Mutex
	cancelled map[string]bool
	paused    map[string]bool
}

// NewEngine wires a Registry, Store, HandlerRegistry and Agent collaborator
// into a driver. logger may be nil (defaults to slog.Default()).
func NewEngine(registry *Registry, store Store, handlers *HandlerRegistry, agent Agent, hooks Hooks, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:  registry,
		store:     store,
		handlers:  handlers,
		agent:     agent,
		executor:  NewStepExecutor(),
		hooks:     hooks,
		logger:    logger,
		cancelled: make(map[string]bool),
		paused:    make(map[string]bool),
	}
}

// RunOptions configures one Run invocation.
type RunOptions struct {
	Inputs                 map[string]any
	ResumeFromExecutionID  string
	CheckpointEveryStep    bool
	FailFast               bool
}

// Run drives workflowID to completion, pause, or failure (§4.6). Once the
// driver loop starts, Run returns an ExecutionResult and a nil error; step
// failures are reported in the result's Status and Error. An unknown or
// disabled workflow, a state-store failure, or an illegal status transition
// before the loop returns a nil result and a non-nil error instead.
func (e *Engine) Run(ctx context.Context, workflowID string, opts RunOptions) (*ExecutionResult, error) {
	def, ok := e.registry.Get(workflowID)
	if !ok || !def.Enabled {
		return nil, ErrWorkflowNotFound(workflowID)
	}

	var state *WorkflowState
	var err error
	if opts.ResumeFromExecutionID != "" {
		state, err = e.store.Recover(opts.ResumeFromExecutionID)
		if err != nil {
			return nil, err
		}
		if state == nil {
			state, err = e.store.CreateState(workflowID)
			if err != nil {
				return nil, err
			}
		}
	} else {
		state, err = e.store.CreateState(workflowID)
		if err != nil {
			return nil, err
		}
	}

	for k, v := range opts.Inputs {
		state.Variables.Set(k, v)
	}

	resolver := expression.New()
	ec := &ExecutionContext{Resolver: resolver, Agent: e.agent, Variables: state.Variables}

	if err := ApplyStatus(state, StatusRunning); err != nil {
		return nil, err
	}
	if state.StartedAt == nil {
		now := time.Now()
		state.StartedAt = &now
	}
	if e.hooks.OnStart != nil {
		e.hooks.OnStart(state)
	}

	start := time.Now()
	var stepResults []StepResult
	current := state.CurrentStep
	if current == "" {
		current = def.FirstStepID()
	}

	var engineErr error

loop:
	for current != "" {
		if e.isCancelled(state.ExecutionID) {
			ApplyStatus(state, StatusCancelled)
			break
		}
		if e.isPaused(state.ExecutionID) {
			ApplyStatus(state, StatusPaused)
			state.CurrentStep = current
			e.store.Checkpoint(state)
			break
		}

		step := def.StepByID(current)
		if step == nil {
			break
		}

		if opts.CheckpointEveryStep {
			state.CurrentStep = current
			e.store.Checkpoint(state)
		}

		if e.hooks.OnStepStart != nil {
			e.hooks.OnStepStart(state, step)
		}

		result := e.runStep(ctx, step, ec, state)
		stepResults = append(stepResults, result)

		state.Variables.Set(step.ID, result.Output)
		state.Variables.Set("_last", result.Output)
		state.Variables.Set("_last_step", step.ID)

		if e.hooks.OnStepComplete != nil {
			e.hooks.OnStepComplete(state, result)
		}

		if result.Status == StepCancelled {
			ApplyStatus(state, StatusCancelled)
			break
		}

		if !result.IsSuccess() {
			if step.OnError != "" {
				current = step.OnError
				continue loop
			}
			if opts.FailFast {
				engineErr = errorFromResult(result)
				break
			}
		}

		current = e.nextStep(step, state, def)
	}

	elapsed := time.Since(start).Milliseconds()

	if !state.Status.IsTerminal() && state.Status != StatusPaused {
		if anyFailed(stepResults) || engineErr != nil {
			ApplyStatus(state, StatusFailed)
			if engineErr != nil {
				state.Error = engineErr.Error()
			}
			if e.hooks.OnError != nil {
				e.hooks.OnError(state, engineErr)
			}
		} else {
			ApplyStatus(state, StatusCompleted)
		}
	}
	if state.Status.IsTerminal() {
		now := time.Now()
		state.CompletedAt = &now
	}
	e.store.UpdateState(state)
	e.store.Checkpoint(state)

	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(state, elapsed)
	}

	return &ExecutionResult{
		ExecutionID: state.ExecutionID,
		WorkflowID:  state.WorkflowID,
		Status:      state.Status,
		Variables:   state.Variables,
		StepResults: stepResults,
		Error:       state.Error,
		ElapsedMs:   elapsed,
	}, nil
}

func (e *Engine) runStep(ctx context.Context, step *WorkflowStep, ec *ExecutionContext, state *WorkflowState) StepResult {
	handler, ok := e.handlers.Get(step.Type)
	if !ok {
		stepState := state.StepOf(step.ID)
		stepState.MarkFailed(ErrHandlerMissing(step.ID, step.Type).Error())
		return StepResult{StepID: step.ID, Status: StepFailed, Error: stepState.Error}
	}

	policy := DefaultRetryPolicy()
	if step.RetryPolicy != nil {
		policy = *step.RetryPolicy
	}
	timeout := DefaultStepTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds * float64(time.Second))
	}

	stepState := state.StepOf(step.ID)
	stepState.MarkStarted(nil)

	result := e.executor.Run(ctx, step.ID, func(innerCtx context.Context) (any, error) {
		return handler.Execute(innerCtx, step, ec)
	}, policy, timeout)

	switch result.Status {
	case StepCompleted:
		stepState.MarkCompleted(result.Output)
	case StepFailed, StepTimedOut:
		stepState.MarkFailed(result.Error)
	case StepCancelled:
		ApplyStepStatus(stepState, StepCancelled)
	}
	stepState.RetryCount = result.Attempts - 1
	return result
}

// nextStep computes the successor per §4.6.h: explicit next_step, else
// sequential successor, else the _condition_next shortcut written by a
// condition handler.
func (e *Engine) nextStep(step *WorkflowStep, state *WorkflowState, def *WorkflowDefinition) string {
	if step.NextStep != "" {
		return step.NextStep
	}
	if cn, ok := state.Variables.Get("_condition_next"); ok {
		if s, ok := cn.(string); ok && s != "" {
			state.Variables.Set("_condition_next", nil)
			return s
		}
	}
	for i, s := range def.Steps {
		if s.ID == step.ID {
			if i+1 < len(def.Steps) {
				return def.Steps[i+1].ID
			}
			return ""
		}
	}
	return ""
}

// Pause requests that Run stop after the current step and checkpoint
// status=PAUSED (§4.6).
func (e *Engine) Pause(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused[executionID] = true
}

// Resume clears a pause flag; the caller re-invokes Run with
// ResumeFromExecutionID to re-enter the driver loop from the latest valid
// checkpoint.
func (e *Engine) Resume(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.paused, executionID)
}

// Cancel sets the execution's cancelled flag; the engine observes it
// between steps (§5 cancellation semantics).
func (e *Engine) Cancel(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[executionID] = true
}

func (e *Engine) isCancelled(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[executionID]
}

func (e *Engine) isPaused(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused[executionID]
}

func anyFailed(results []StepResult) bool {
	for _, r := range results {
		if !r.IsSuccess() {
			return true
		}
	}
	return false
}

func errorFromResult(r StepResult) error {
	if r.Error == "" {
		return nil
	}
	return &stepError{r}
}

type stepError struct{ r StepResult }

func (e *stepError) Error() string { return e.r.Error }
