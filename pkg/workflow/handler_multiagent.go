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
	"strings"
)

// OrchestrationPattern enumerates the multi-agent coordination patterns
// (§4.5), grounded on
// original_source/.../workflows/steps/multi_agent_step.py's
// OrchestrationPattern enum.
type OrchestrationPattern string

const (
	PatternSequential   OrchestrationPattern = "sequential"
	PatternHierarchical OrchestrationPattern = "hierarchical"
	PatternCollaborative OrchestrationPattern = "collaborative"
	PatternDebate       OrchestrationPattern = "debate"
	PatternRouter       OrchestrationPattern = "router"
	PatternVoting       OrchestrationPattern = "voting"
	PatternChain        OrchestrationPattern = "chain"
)

// AgentConfig describes one roster member.
type AgentConfig struct {
	ID             string
	AgentID        string
	Role           string
	Goal           string
	PromptTemplate string
}

// Round is one (agent_id, output) entry recorded per pattern (§4.5).
type Round struct {
	AgentID string `json:"agent_id"`
	Output  string `json:"output"`
}

// MultiAgentResult is the per-pattern output record (§4.5).
type MultiAgentResult struct {
	Pattern     OrchestrationPattern `json:"pattern"`
	Agents      []string             `json:"agents"`
	Task        string               `json:"task"`
	Rounds      []Round              `json:"rounds"`
	FinalOutput string               `json:"final_output"`
}

// MultiAgentHandler implements the seven orchestration patterns named in
// §4.5. The voting reducer is exact-equality majority (the spec floor),
// not the reference's first-response-wins (§9 Open Question, resolved).
type MultiAgentHandler struct{}

func (h *MultiAgentHandler) StepType() string { return "multi_agent" }

func (h *MultiAgentHandler) Execute(ctx context.Context, step *WorkflowStep, ec *ExecutionContext) (any, error) {
	agents, err := parseAgentRoster(step.Config)
	if err != nil {
		return nil, fmt.Errorf("multi_agent step %s: %w", step.ID, err)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("multi_agent step %s: empty agent roster", step.ID)
	}

	task, _ := step.Config["task"].(string)
	maxRounds := 10
	if mr, ok := step.Config["max_rounds"].(float64); ok && mr > 0 {
		maxRounds = int(mr)
	}
	pattern := OrchestrationPattern(stringConfig(step.Config, "pattern", string(PatternSequential)))

	rosterIDs := make([]string, len(agents))
	for i, a := range agents {
		rosterIDs[i] = a.ID
	}

	var result MultiAgentResult
	switch pattern {
	case PatternSequential:
		result = h.runSequential(ctx, ec, agents, task)
	case PatternChain:
		result = h.runChain(ctx, ec, agents, task)
	case PatternHierarchical:
		manager, _ := step.Config["manager_agent"].(string)
		result = h.runHierarchical(ctx, ec, agents, manager, task)
	case PatternCollaborative:
		result = h.runCollaborative(ctx, ec, agents, task, maxRounds)
	case PatternDebate:
		result = h.runDebate(ctx, ec, agents, task, maxRounds)
	case PatternRouter:
		routerPrompt, _ := step.Config["router_prompt"].(string)
		result = h.runRouter(ctx, ec, agents, task, routerPrompt)
	case PatternVoting:
		result = h.runVoting(ctx, ec, agents, task)
	default:
		return nil, fmt.Errorf("multi_agent step %s: unknown pattern %q", step.ID, pattern)
	}
	result.Pattern = pattern
	result.Agents = rosterIDs
	result.Task = task

	if outVar, ok := step.Config["output_variable"].(string); ok && outVar != "" {
		ec.Variables.Set(outVar, result)
	}
	ec.Variables.Set("_last", result.FinalOutput)
	return result, nil
}

func parseAgentRoster(cfg map[string]any) ([]AgentConfig, error) {
	raw, _ := cfg["agents"].([]any)
	out := make([]AgentConfig, 0, len(raw))
	for _, a := range raw {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		ac := AgentConfig{
			ID:             stringConfig(m, "id", stringConfig(m, "agent_id", "")),
			AgentID:        stringConfig(m, "agent_id", ""),
			Role:           stringConfig(m, "role", ""),
			Goal:           stringConfig(m, "goal", ""),
			PromptTemplate: stringConfig(m, "prompt_template", ""),
		}
		out = append(out, ac)
	}
	return out, nil
}

func (h *MultiAgentHandler) invoke(ctx context.Context, ec *ExecutionContext, agentID, prompt string) (string, error) {
	if ec.Agent == nil {
		return "", fmt.Errorf("no agent collaborator configured")
	}
	resp, err := ec.Agent.Invoke(ctx, AgentRequest{AgentID: agentID, Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// runSequential: output of agent k is input of agent k+1.
func (h *MultiAgentHandler) runSequential(ctx context.Context, ec *ExecutionContext, agents []AgentConfig, task string) MultiAgentResult {
	var rounds []Round
	current := task
	for _, a := range agents {
		out, err := h.invoke(ctx, ec, a.AgentID, current)
		if err != nil {
			out = fmt.Sprintf("error: %v", err)
		}
		rounds = append(rounds, Round{AgentID: a.ID, Output: out})
		current = out
	}
	return MultiAgentResult{Rounds: rounds, FinalOutput: current}
}

// runChain: like sequential, but each agent's own prompt template has
// ${input} substituted with the previous output.
func (h *MultiAgentHandler) runChain(ctx context.Context, ec *ExecutionContext, agents []AgentConfig, task string) MultiAgentResult {
	var rounds []Round
	current := task
	for _, a := range agents {
		tpl := a.PromptTemplate
		if tpl == "" {
			tpl = "${input}"
		}
		prompt := strings.ReplaceAll(tpl, "${input}", current)
		out, err := h.invoke(ctx, ec, a.AgentID, prompt)
		if err != nil {
			out = fmt.Sprintf("error: %v", err)
		}
		rounds = append(rounds, Round{AgentID: a.ID, Output: out})
		current = out
	}
	return MultiAgentResult{Rounds: rounds, FinalOutput: current}
}

// runHierarchical: a manager agent produces a plan; workers each receive
// the plan plus task; the manager synthesizes a final answer.
func (h *MultiAgentHandler) runHierarchical(ctx context.Context, ec *ExecutionContext, agents []AgentConfig, managerID, task string) MultiAgentResult {
	var rounds []Round
	plan, err := h.invoke(ctx, ec, managerID, "Plan: "+task)
	if err != nil {
		plan = ""
	}
	rounds = append(rounds, Round{AgentID: managerID, Output: plan})

	var workerOutputs []string
	for _, a := range agents {
		if a.AgentID == managerID {
			continue
		}
		out, err := h.invoke(ctx, ec, a.AgentID, fmt.Sprintf("Plan: %s\nTask: %s", plan, task))
		if err != nil {
			out = fmt.Sprintf("error: %v", err)
		}
		rounds = append(rounds, Round{AgentID: a.ID, Output: out})
		workerOutputs = append(workerOutputs, out)
	}

	synthesis, err := h.invoke(ctx, ec, managerID, "Synthesize: "+strings.Join(workerOutputs, "\n"))
	if err != nil {
		synthesis = strings.Join(workerOutputs, "\n")
	}
	rounds = append(rounds, Round{AgentID: managerID, Output: synthesis})
	return MultiAgentResult{Rounds: rounds, FinalOutput: synthesis}
}

// runCollaborative: for up to maxRounds, every agent contributes once per
// round to a shared contribution list visible to the next agent.
func (h *MultiAgentHandler) runCollaborative(ctx context.Context, ec *ExecutionContext, agents []AgentConfig, task string, maxRounds int) MultiAgentResult {
	var rounds []Round
	shared := []string{task}
	for r := 0; r < maxRounds; r++ {
		for _, a := range agents {
			prompt := fmt.Sprintf("Task: %s\nContributions so far: %s", task, strings.Join(shared, " | "))
			out, err := h.invoke(ctx, ec, a.AgentID, prompt)
			if err != nil {
				out = fmt.Sprintf("error: %v", err)
			}
			rounds = append(rounds, Round{AgentID: a.ID, Output: out})
			shared = append(shared, out)
		}
	}
	final := ""
	if len(shared) > 0 {
		final = shared[len(shared)-1]
	}
	return MultiAgentResult{Rounds: rounds, FinalOutput: final}
}

// runDebate: agents state positions; for up to maxRounds, each agent
// rewrites its position given the others'.
func (h *MultiAgentHandler) runDebate(ctx context.Context, ec *ExecutionContext, agents []AgentConfig, task string, maxRounds int) MultiAgentResult {
	var rounds []Round
	positions := make(map[string]string, len(agents))
	for _, a := range agents {
		out, err := h.invoke(ctx, ec, a.AgentID, "State your position on: "+task)
		if err != nil {
			out = ""
		}
		positions[a.ID] = out
		rounds = append(rounds, Round{AgentID: a.ID, Output: out})
	}
	for r := 1; r < maxRounds; r++ {
		for _, a := range agents {
			others := make([]string, 0, len(positions)-1)
			for id, pos := range positions {
				if id != a.ID {
					others = append(others, pos)
				}
			}
			prompt := fmt.Sprintf("Revise your position on %q given: %s", task, strings.Join(others, " | "))
			out, err := h.invoke(ctx, ec, a.AgentID, prompt)
			if err != nil {
				out = positions[a.ID]
			}
			positions[a.ID] = out
			rounds = append(rounds, Round{AgentID: a.ID, Output: out})
		}
	}
	final := ""
	for _, a := range agents {
		final = positions[a.ID]
	}
	return MultiAgentResult{Rounds: rounds, FinalOutput: final}
}

// runRouter: a router step picks one agent id from the roster; only that
// agent executes.
func (h *MultiAgentHandler) runRouter(ctx context.Context, ec *ExecutionContext, agents []AgentConfig, task, routerPrompt string) MultiAgentResult {
	if routerPrompt == "" {
		routerPrompt = "Pick the best agent for: " + task
	}
	choice, err := h.invoke(ctx, ec, "", routerPrompt)
	chosen := agents[0]
	if err == nil {
		for _, a := range agents {
			if strings.Contains(choice, a.ID) {
				chosen = a
				break
			}
		}
	}
	out, err := h.invoke(ctx, ec, chosen.AgentID, task)
	if err != nil {
		out = fmt.Sprintf("error: %v", err)
	}
	return MultiAgentResult{Rounds: []Round{{AgentID: chosen.ID, Output: out}}, FinalOutput: out}
}

// runVoting: every agent responds; the winner is the exact-equality
// majority response (spec floor — not the reference's first-response-wins).
func (h *MultiAgentHandler) runVoting(ctx context.Context, ec *ExecutionContext, agents []AgentConfig, task string) MultiAgentResult {
	var rounds []Round
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, a := range agents {
		out, err := h.invoke(ctx, ec, a.AgentID, task)
		if err != nil {
			out = ""
		}
		rounds = append(rounds, Round{AgentID: a.ID, Output: out})
		if counts[out] == 0 {
			order = append(order, out)
		}
		counts[out]++
	}

	winner := ""
	best := -1
	for _, candidate := range order {
		if counts[candidate] > best {
			best = counts[candidate]
			winner = candidate
		}
	}
	return MultiAgentResult{Rounds: rounds, FinalOutput: winner}
}
