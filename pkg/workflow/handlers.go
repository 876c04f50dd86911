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
	"fmt"

	"github.com/tombee/conductor/pkg/workflow/expression"
)

// Agent is the opaque async collaborator the Agent step handler invokes
// (spec §1: "actual LLM agent execution" is out of scope; this interface is
// the seam). Implementations live outside this package.
type Agent interface {
	Invoke(ctx context.Context, req AgentRequest) (AgentResponse, error)
}

// AgentRequest is what the Agent handler sends to the collaborator.
type AgentRequest struct {
	AgentID   string
	Prompt    string
	Model     string
	ToolAllow []string
	Retrieval map[string]any
}

// AgentResponse is what the collaborator returns.
type AgentResponse struct {
	Text string
}

// ExecutionContext threads the resolver, agent collaborator and live
// variable scope through step handlers.
type ExecutionContext struct {
	Resolver  *expression.Resolver
	Agent     Agent
	Variables Variables
}

// Handler is a polymorphic per-step-type dispatcher (§4.5).
type Handler interface {
	StepType() string
	Execute(ctx context.Context, step *WorkflowStep, ec *ExecutionContext) (any, error)
}

// HandlerRegistry maps step type tags to their Handler.
type HandlerRegistry struct {
	handlers map[string]Handler
}

// NewHandlerRegistry builds a registry pre-populated with the built-in
// handlers (agent, condition, parallel, loop, multi_agent).
func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[string]Handler)}
	r.Register(&AgentHandler{})
	r.Register(&ConditionHandler{})
	r.Register(&ParallelHandler{})
	r.Register(&LoopHandler{})
	r.Register(&MultiAgentHandler{})
	return r
}

// Register adds or replaces the handler for h.StepType().
func (r *HandlerRegistry) Register(h Handler) {
	r.handlers[h.StepType()] = h
}

// Get returns the handler for stepType, or (nil, false) if unregistered.
func (r *HandlerRegistry) Get(stepType string) (Handler, bool) {
	h, ok := r.handlers[stepType]
	return h, ok
}

// AgentHandler resolves a prompt template against context, invokes the
// agent collaborator, and writes the response to output_variable, _last and
// _last_step (§4.5).
type AgentHandler struct{}

func (h *AgentHandler) StepType() string { return "agent" }

func (h *AgentHandler) Execute(ctx context.Context, step *WorkflowStep, ec *ExecutionContext) (any, error) {
	promptTpl, _ := step.Config["prompt"].(string)
	resolved, err := ec.Resolver.Resolve(promptTpl, ec.Variables)
	if err != nil {
		return nil, fmt.Errorf("agent step %s: resolve prompt: %w", step.ID, err)
	}
	prompt := fmt.Sprintf("%v", resolved)

	agentID, _ := step.Config["agent_id"].(string)
	model, _ := step.Config["model"].(string)
	var toolAllow []string
	if raw, ok := step.Config["tools"].([]any); ok {
		for _, t := range raw {
			toolAllow = append(toolAllow, fmt.Sprintf("%v", t))
		}
	}
	retrieval, _ := step.Config["retrieval"].(map[string]any)

	if ec.Agent == nil {
		return nil, fmt.Errorf("agent step %s: no agent collaborator configured", step.ID)
	}
	resp, err := ec.Agent.Invoke(ctx, AgentRequest{
		AgentID: agentID, Prompt: prompt, Model: model, ToolAllow: toolAllow, Retrieval: retrieval,
	})
	if err != nil {
		return nil, err
	}

	if outVar, ok := step.Config["output_variable"].(string); ok && outVar != "" {
		ec.Variables.Set(outVar, resp.Text)
	}
	ec.Variables.Set("_last", resp.Text)
	ec.Variables.Set("_last_step", step.ID)
	return resp.Text, nil
}

// ConditionHandler implements both branch and switch modes (§4.5).
type ConditionHandler struct{}

func (h *ConditionHandler) StepType() string { return "condition" }

func (h *ConditionHandler) Execute(ctx context.Context, step *WorkflowStep, ec *ExecutionContext) (any, error) {
	mode, _ := step.Config["mode"].(string)
	if mode == "" {
		mode = "branch"
	}

	var selected string
	switch mode {
	case "switch":
		switchVar, _ := step.Config["switch_variable"].(string)
		resolved, err := ec.Resolver.Resolve(switchVar, ec.Variables)
		if err != nil {
			return nil, fmt.Errorf("condition step %s: resolve switch_variable: %w", step.ID, err)
		}
		cases, _ := step.Config["cases"].(map[string]any)
		key := fmt.Sprintf("%v", resolved)
		if target, ok := cases[key]; ok {
			selected, _ = target.(string)
		} else {
			selected, _ = step.Config["default_step"].(string)
		}
	default:
		branches, _ := step.Config["branches"].([]any)
		for _, b := range branches {
			branch, ok := b.(map[string]any)
			if !ok {
				continue
			}
			condStr, _ := branch["condition"].(string)
			ok2, err := ec.Resolver.EvaluateBool(stripExprDelims(condStr), ec.Variables)
			if err != nil {
				return nil, fmt.Errorf("condition step %s: evaluate branch: %w", step.ID, err)
			}
			if ok2 {
				selected, _ = branch["next_step"].(string)
				break
			}
		}
		if selected == "" {
			selected, _ = step.Config["default_step"].(string)
		}
	}

	if outVar, ok := step.Config["output_variable"].(string); ok && outVar != "" {
		ec.Variables.Set(outVar, selected)
	}
	ec.Variables.Set("_condition_next", selected)
	return selected, nil
}

// stripExprDelims removes a single enclosing ${...} if present, since
// condition strings may be written either bare or wrapped.
func stripExprDelims(s string) string {
	if len(s) >= 3 && s[:2] == "${" && s[len(s)-1] == '}' {
		return s[2 : len(s)-1]
	}
	return s
}
