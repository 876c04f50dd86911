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

// Package workflow implements the durable workflow orchestration core: step
// graph definitions, the workflow state machine, checkpointed state
// storage, the step executor and its handlers, and the in-memory registry.
package workflow

import (
	"time"
)

// Status is the lifecycle state of a workflow execution.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusRunning     Status = "RUNNING"
	StatusPaused      Status = "PAUSED"
	StatusWaiting     Status = "WAITING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
	StatusCompensating Status = "COMPENSATING"
)

// StepStatus is the lifecycle state of a single step within an execution.
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepRunning     StepStatus = "RUNNING"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepSkipped     StepStatus = "SKIPPED"
	StepCancelled   StepStatus = "CANCELLED"
	StepTimedOut    StepStatus = "TIMEOUT"
	StepCompensated StepStatus = "COMPENSATED"
)

// Variables is the typed dynamic scope a workflow execution carries between
// steps. It is a thin wrapper over a map so callers get explicit get/set
// instead of raw map indexing; Get looks up a top-level key only and does
// not follow dotted paths (see pkg/workflow design notes on mapping Python
// dict scopes to a typed dynamic map).
type Variables map[string]any

// Clone returns a deep copy suitable for checkpointing: the returned map
// shares no mutable structure with the receiver.
func (v Variables) Clone() Variables {
	if v == nil {
		return Variables{}
	}
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = deepCopyValue(val)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopyValue(val)
		}
		return out
	case Variables:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopyValue(val)
		}
		return out
	default:
		return v
	}
}

// Get returns the value at key, and whether it was present.
func (v Variables) Get(key string) (any, bool) {
	val, ok := v[key]
	return val, ok
}

// Set assigns value at key, creating the map's key space if needed. Callers
// hold a Variables obtained from state that they own; this never mutates a
// checkpointed snapshot because checkpoints hold their own Clone().
func (v Variables) Set(key string, value any) {
	v[key] = value
}

// StepState is the per-step record tracked inside a WorkflowState.
type StepState struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	Input       any        `json:"input,omitempty"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MarkStarted transitions a step into RUNNING and stamps its start time.
// Mirrors the teacher's dedicated state-transition methods rather than
// direct field mutation at call sites.
func (s *StepState) MarkStarted(input any) {
	now := time.Now()
	s.Status = StepRunning
	s.Input = input
	s.StartedAt = &now
}

// MarkCompleted transitions a step into COMPLETED with its output.
func (s *StepState) MarkCompleted(output any) {
	now := time.Now()
	s.Status = StepCompleted
	s.Output = output
	s.CompletedAt = &now
}

// MarkFailed transitions a step into FAILED with an error message.
func (s *StepState) MarkFailed(err string) {
	now := time.Now()
	s.Status = StepFailed
	s.Error = err
	s.CompletedAt = &now
}

// MarkSkipped transitions a step into SKIPPED without ever running it.
func (s *StepState) MarkSkipped() {
	s.Status = StepSkipped
}

// Duration returns the time spent in the step, or zero if incomplete.
func (s *StepState) Duration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// WorkflowState is the full durable state of one workflow execution.
type WorkflowState struct {
	ExecutionID string                `json:"execution_id"`
	WorkflowID  string                `json:"workflow_id"`
	Status      Status                `json:"status"`
	CurrentStep string                `json:"current_step,omitempty"`
	Variables   Variables             `json:"variables"`
	Steps       map[string]*StepState `json:"steps"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// NewWorkflowState builds an empty PENDING state for a new execution.
func NewWorkflowState(executionID, workflowID string) *WorkflowState {
	return &WorkflowState{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Status:      StatusPending,
		Variables:   Variables{},
		Steps:       make(map[string]*StepState),
	}
}

// Clone returns a deep copy of the state, suitable for checkpointing or for
// handing to a reader that must not observe subsequent mutation.
func (w *WorkflowState) Clone() *WorkflowState {
	if w == nil {
		return nil
	}
	out := &WorkflowState{
		ExecutionID: w.ExecutionID,
		WorkflowID:  w.WorkflowID,
		Status:      w.Status,
		CurrentStep: w.CurrentStep,
		Variables:   w.Variables.Clone(),
		Steps:       make(map[string]*StepState, len(w.Steps)),
		Error:       w.Error,
	}
	if w.StartedAt != nil {
		t := *w.StartedAt
		out.StartedAt = &t
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		out.CompletedAt = &t
	}
	for id, step := range w.Steps {
		cp := *step
		if step.StartedAt != nil {
			t := *step.StartedAt
			cp.StartedAt = &t
		}
		if step.CompletedAt != nil {
			t := *step.CompletedAt
			cp.CompletedAt = &t
		}
		cp.Input = deepCopyValue(step.Input)
		cp.Output = deepCopyValue(step.Output)
		out.Steps[id] = &cp
	}
	return out
}

// StepOf returns the StepState for id, creating a PENDING one if absent.
func (w *WorkflowState) StepOf(id string) *StepState {
	if s, ok := w.Steps[id]; ok {
		return s
	}
	s := &StepState{StepID: id, Status: StepPending}
	w.Steps[id] = s
	return s
}

// IsTerminal reports whether status is one the engine never leaves.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// RetryPolicy controls step-level retry/backoff behavior (§4.3). Delays are
// expressed in milliseconds on the struct (matching the on-disk form in the
// reference implementation) and converted to time.Duration only at the
// point backoff is scheduled — see executor.go.
type RetryPolicy struct {
	MaxRetries        int      `json:"max_retries" yaml:"max_retries"`
	InitialDelayMs    int      `json:"initial_delay_ms" yaml:"initial_delay_ms"`
	MaxDelayMs        int      `json:"max_delay_ms" yaml:"max_delay_ms"`
	BackoffMultiplier float64  `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	RetryableErrors   []string `json:"retryable_errors,omitempty" yaml:"retryable_errors,omitempty"`
}

// DefaultRetryPolicy mirrors the teacher's defaults in executor.go.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelayMs:    1000,
		MaxDelayMs:        30000,
		BackoffMultiplier: 2.0,
	}
}

// IsRetryable reports whether an error kind string should be retried. An
// empty RetryableErrors list means "retry anything" (the executor still
// never retries CANCELLED or definition-invalid failures).
func (p RetryPolicy) IsRetryable(kind string) bool {
	if len(p.RetryableErrors) == 0 {
		return true
	}
	for _, k := range p.RetryableErrors {
		if k == kind {
			return true
		}
	}
	return false
}

// WorkflowStep is one node in a workflow graph.
type WorkflowStep struct {
	ID             string         `json:"id" yaml:"id"`
	Type           string         `json:"type" yaml:"type"`
	Name           string         `json:"name,omitempty" yaml:"name,omitempty"`
	Config         map[string]any `json:"config" yaml:"config"`
	NextStep       string         `json:"next_step,omitempty" yaml:"next_step,omitempty"`
	OnError        string         `json:"on_error,omitempty" yaml:"on_error,omitempty"`
	RetryPolicy    *RetryPolicy   `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	TimeoutSeconds float64        `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// Version is a parsed semantic version (M.m.p).
type Version struct {
	Major, Minor, Patch int
}

// WorkflowDefinition is the registered, versioned description of a graph.
type WorkflowDefinition struct {
	ID           string                 `json:"id" yaml:"id"`
	Name         string                 `json:"name" yaml:"name"`
	Description  string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Version      string                 `json:"version" yaml:"version"`
	Steps        []WorkflowStep         `json:"steps" yaml:"steps"`
	StartStep    string                 `json:"start_step,omitempty" yaml:"start_step,omitempty"`
	InputSchema  map[string]any         `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema map[string]any         `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Metadata     map[string]any         `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Enabled      bool                   `json:"enabled" yaml:"enabled"`
	Tags         []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// StepByID returns the step with the given id, or nil.
func (d *WorkflowDefinition) StepByID(id string) *WorkflowStep {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// FirstStepID returns StartStep if set, else the id of the first declared
// step, else "".
func (d *WorkflowDefinition) FirstStepID() string {
	if d.StartStep != "" {
		return d.StartStep
	}
	if len(d.Steps) > 0 {
		return d.Steps[0].ID
	}
	return ""
}

// StepResult is the outcome of running a single step once (across all retry
// attempts), returned by the Step Executor.
type StepResult struct {
	StepID      string        `json:"step_id"`
	Status      StepStatus    `json:"status"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	Attempts    int           `json:"attempts"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// IsSuccess reports whether the step completed without error.
func (r StepResult) IsSuccess() bool {
	return r.Status == StepCompleted || r.Status == StepSkipped
}

// ExecutionResult is the caller-facing outcome of driving a workflow to
// completion or interruption. Engine.Run returns one whenever its driver
// loop starts; when it refuses a run before that, it returns only an error.
type ExecutionResult struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      Status                 `json:"status"`
	Variables   Variables              `json:"variables"`
	StepResults []StepResult           `json:"step_results"`
	Error       string                 `json:"error,omitempty"`
	ElapsedMs   int64                  `json:"elapsed_ms"`
}
