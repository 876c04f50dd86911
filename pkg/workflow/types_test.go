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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariablesCloneIsDeep(t *testing.T) {
	v := Variables{
		"name":   "tom",
		"nested": map[string]any{"a": 1},
		"list":   []any{map[string]any{"b": 2}},
	}
	clone := v.Clone()
	clone["nested"].(map[string]any)["a"] = 99
	clone["list"].([]any)[0].(map[string]any)["b"] = 99

	assert.Equal(t, 1, v["nested"].(map[string]any)["a"])
	assert.Equal(t, 2, v["list"].([]any)[0].(map[string]any)["b"])
}

func TestVariablesCloneOfNilIsEmptyNotNil(t *testing.T) {
	var v Variables
	clone := v.Clone()
	assert.NotNil(t, clone)
	assert.Empty(t, clone)
}

func TestVariablesGetSet(t *testing.T) {
	v := Variables{}
	_, ok := v.Get("missing")
	assert.False(t, ok)

	v.Set("x", 42)
	val, ok := v.Get("x")
	require.True(t, ok)
	assert.Equal(t, 42, val)
}

func TestStepStateLifecycleTransitions(t *testing.T) {
	s := &StepState{StepID: "s1", Status: StepPending}

	s.MarkStarted(map[string]any{"in": 1})
	assert.Equal(t, StepRunning, s.Status)
	require.NotNil(t, s.StartedAt)

	s.MarkCompleted("done")
	assert.Equal(t, StepCompleted, s.Status)
	assert.Equal(t, "done", s.Output)
	require.NotNil(t, s.CompletedAt)
	assert.GreaterOrEqual(t, s.Duration(), time.Duration(0))
}

func TestStepStateMarkFailedAndSkipped(t *testing.T) {
	failed := &StepState{StepID: "f1"}
	failed.MarkFailed("boom")
	assert.Equal(t, StepFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)

	skipped := &StepState{StepID: "sk1"}
	skipped.MarkSkipped()
	assert.Equal(t, StepSkipped, skipped.Status)
}

func TestStepStateDurationZeroWhenIncomplete(t *testing.T) {
	s := &StepState{StepID: "s1"}
	assert.Equal(t, time.Duration(0), s.Duration())
}

func TestWorkflowStateStepOfCreatesPending(t *testing.T) {
	w := NewWorkflowState("exec-1", "wf-1")
	step := w.StepOf("first")
	assert.Equal(t, StepPending, step.Status)
	assert.Same(t, step, w.StepOf("first"))
}

func TestWorkflowStateCloneIsIndependent(t *testing.T) {
	w := NewWorkflowState("exec-1", "wf-1")
	w.Variables.Set("k", "v")
	w.StepOf("s1").MarkCompleted(map[string]any{"out": 1})

	clone := w.Clone()
	clone.Variables.Set("k", "changed")
	clone.Steps["s1"].Output.(map[string]any)["out"] = 99

	assert.Equal(t, "v", w.Variables["k"])
	assert.Equal(t, 1, w.Steps["s1"].Output.(map[string]any)["out"])
}

func TestWorkflowStateCloneOfNil(t *testing.T) {
	var w *WorkflowState
	assert.Nil(t, w.Clone())
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusPaused.IsTerminal())
}

func TestRetryPolicyIsRetryable(t *testing.T) {
	open := RetryPolicy{}
	assert.True(t, open.IsRetryable("anything"))

	scoped := RetryPolicy{RetryableErrors: []string{"timeout", "rate_limit"}}
	assert.True(t, scoped.IsRetryable("timeout"))
	assert.False(t, scoped.IsRetryable("validation"))
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 2.0, p.BackoffMultiplier)
}

func TestWorkflowDefinitionStepByIDAndFirstStepID(t *testing.T) {
	def := &WorkflowDefinition{
		StartStep: "b",
		Steps: []WorkflowStep{
			{ID: "a"},
			{ID: "b"},
		},
	}
	assert.Equal(t, "b", def.FirstStepID())
	require.NotNil(t, def.StepByID("a"))
	assert.Nil(t, def.StepByID("missing"))

	noStart := &WorkflowDefinition{Steps: []WorkflowStep{{ID: "only"}}}
	assert.Equal(t, "only", noStart.FirstStepID())

	empty := &WorkflowDefinition{}
	assert.Equal(t, "", empty.FirstStepID())
}

func TestStepResultIsSuccess(t *testing.T) {
	assert.True(t, StepResult{Status: StepCompleted}.IsSuccess())
	assert.True(t, StepResult{Status: StepSkipped}.IsSuccess())
	assert.False(t, StepResult{Status: StepFailed}.IsSuccess())
}
