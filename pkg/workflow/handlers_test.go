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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/conductor/pkg/workflow/expression"
)

// stubAgent is a deterministic test double for the Agent collaborator
// interface; it never calls out to a real LLM.
type stubAgent struct {
	response string
	err      error
	calls    []AgentRequest
}

func (s *stubAgent) Invoke(_ context.Context, req AgentRequest) (AgentResponse, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return AgentResponse{}, s.err
	}
	return AgentResponse{Text: s.response}, nil
}

func newExecCtx(agent Agent) *ExecutionContext {
	return &ExecutionContext{Resolver: expression.New(), Agent: agent, Variables: Variables{}}
}

func TestHandlerRegistryHasBuiltins(t *testing.T) {
	r := NewHandlerRegistry()
	for _, stepType := range []string{"agent", "condition", "parallel", "loop", "multi_agent"} {
		_, ok := r.Get(stepType)
		assert.True(t, ok, "expected builtin handler for %q", stepType)
	}
	_, ok := r.Get("unknown")
	assert.False(t, ok)
}

func TestAgentHandlerResolvesPromptAndSetsOutput(t *testing.T) {
	agent := &stubAgent{response: "hi there"}
	ec := newExecCtx(agent)
	ec.Variables.Set("name", "Ada")

	step := &WorkflowStep{
		ID:   "greet",
		Type: "agent",
		Config: map[string]any{
			"prompt":          "Hello, ${name}",
			"output_variable": "greeting",
		},
	}
	h := &AgentHandler{}
	out, err := h.Execute(context.Background(), step, ec)
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
	assert.Equal(t, "hi there", ec.Variables["greeting"])
	assert.Equal(t, "hi there", ec.Variables["_last"])
	assert.Equal(t, "greet", ec.Variables["_last_step"])
	require.Len(t, agent.calls, 1)
	assert.Equal(t, "Hello, Ada", agent.calls[0].Prompt)
}

func TestAgentHandlerRequiresAgentCollaborator(t *testing.T) {
	ec := newExecCtx(nil)
	step := &WorkflowStep{ID: "s1", Config: map[string]any{"prompt": "hi"}}
	_, err := (&AgentHandler{}).Execute(context.Background(), step, ec)
	assert.Error(t, err)
}

func TestAgentHandlerPropagatesAgentError(t *testing.T) {
	ec := newExecCtx(&stubAgent{err: errors.New("boom")})
	step := &WorkflowStep{ID: "s1", Config: map[string]any{"prompt": "hi"}}
	_, err := (&AgentHandler{}).Execute(context.Background(), step, ec)
	assert.Error(t, err)
}

func TestConditionHandlerBranchModeSelectsFirstMatch(t *testing.T) {
	ec := newExecCtx(nil)
	ec.Variables.Set("score", 10)

	step := &WorkflowStep{
		ID: "c1",
		Config: map[string]any{
			"branches": []any{
				map[string]any{"condition": "score > 100", "next_step": "too-high"},
				map[string]any{"condition": "score > 5", "next_step": "pass"},
			},
			"output_variable": "branch",
		},
	}
	out, err := (&ConditionHandler{}).Execute(context.Background(), step, ec)
	require.NoError(t, err)
	assert.Equal(t, "pass", out)
	assert.Equal(t, "pass", ec.Variables["branch"])
	assert.Equal(t, "pass", ec.Variables["_condition_next"])
}

func TestConditionHandlerBranchModeFallsBackToDefault(t *testing.T) {
	ec := newExecCtx(nil)
	ec.Variables.Set("score", 1)
	step := &WorkflowStep{
		ID: "c1",
		Config: map[string]any{
			"branches":     []any{map[string]any{"condition": "score > 100", "next_step": "too-high"}},
			"default_step": "fallback",
		},
	}
	out, err := (&ConditionHandler{}).Execute(context.Background(), step, ec)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestConditionHandlerSwitchModeMatchesCase(t *testing.T) {
	ec := newExecCtx(nil)
	ec.Variables.Set("region", "eu")
	step := &WorkflowStep{
		ID: "c1",
		Config: map[string]any{
			"mode":            "switch",
			"switch_variable": "region",
			"cases":           map[string]any{"eu": "eu-step", "us": "us-step"},
			"default_step":    "fallback",
		},
	}
	out, err := (&ConditionHandler{}).Execute(context.Background(), step, ec)
	require.NoError(t, err)
	assert.Equal(t, "eu-step", out)
}

func TestConditionHandlerSwitchModeUsesDefaultOnMiss(t *testing.T) {
	ec := newExecCtx(nil)
	ec.Variables.Set("region", "ap")
	step := &WorkflowStep{
		ID: "c1",
		Config: map[string]any{
			"mode":            "switch",
			"switch_variable": "region",
			"cases":           map[string]any{"eu": "eu-step"},
			"default_step":    "fallback",
		},
	}
	out, err := (&ConditionHandler{}).Execute(context.Background(), step, ec)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestStripExprDelims(t *testing.T) {
	assert.Equal(t, "x > 1", stripExprDelims("${x > 1}"))
	assert.Equal(t, "x > 1", stripExprDelims("x > 1"))
}
