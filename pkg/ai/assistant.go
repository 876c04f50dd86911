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

// Package ai implements the workflow-building assistant and optimizer
// (workflows/ai/assistant.py and workflows/ai/optimizer.py): turning a
// natural-language description into a draft workflow, suggesting next
// steps for a workflow in progress, flagging structural problems, and
// generating Markdown documentation for a workflow definition.
//
// Workflows here are represented the same loosely-typed way the Python
// originals use them, map[string]any, since the assistant operates on
// draft workflows before they are parsed into pkg/workflow's strongly
// typed WorkflowDefinition.
package ai

import (
	"fmt"
	"sort"
	"strings"
)

// StepSuggestion is a single recommended step (assistant.py StepSuggestion).
type StepSuggestion struct {
	StepType    string
	Name        string
	Description string
	Config      map[string]any
	Confidence  float64
	Reason      string
}

// WorkflowSuggestion is a draft workflow generated from a description
// (assistant.py WorkflowSuggestion).
type WorkflowSuggestion struct {
	Name        string
	Description string
	Steps       []map[string]any
	Triggers    []map[string]any
	Metadata    map[string]any
}

// ProblemSeverity classifies how serious a detected problem is.
type ProblemSeverity string

const (
	SeverityError   ProblemSeverity = "error"
	SeverityWarning ProblemSeverity = "warning"
	SeverityInfo    ProblemSeverity = "info"
)

// ProblemDetection is a single issue found in a workflow definition
// (assistant.py ProblemDetection).
type ProblemDetection struct {
	Severity   ProblemSeverity
	Message    string
	StepID     string
	Suggestion string
}

type workflowTemplate struct {
	name     string
	keywords []string
	steps    []map[string]any
}

// workflowTemplates mirrors assistant.py's WORKFLOW_TEMPLATES, in the
// same order so that tie-break behavior between candidate templates
// matches the original (a later template only wins on a strictly
// higher keyword match score).
var workflowTemplates = []workflowTemplate{
	{
		name:     "Email Handler",
		keywords: []string{"email", "mensagem", "inbox", "mail"},
		steps: []map[string]any{
			{"id": "receive", "type": "trigger", "name": "Receive Email"},
			{"id": "analyze", "type": "agent", "name": "Analyze Content"},
			{"id": "respond", "type": "agent", "name": "Generate Response"},
			{"id": "send", "type": "action", "name": "Send Reply"},
		},
	},
	{
		name:     "Data Pipeline",
		keywords: []string{"data", "etl", "extract", "transform", "load", "pipeline"},
		steps: []map[string]any{
			{"id": "extract", "type": "action", "name": "Extract Data"},
			{"id": "validate", "type": "condition", "name": "Validate Data"},
			{"id": "transform", "type": "agent", "name": "Transform Data"},
			{"id": "load", "type": "action", "name": "Load to Destination"},
		},
	},
	{
		name:     "Content Creation",
		keywords: []string{"content", "escrever", "write", "artigo", "blog", "post"},
		steps: []map[string]any{
			{"id": "research", "type": "agent", "name": "Research Topic"},
			{"id": "outline", "type": "agent", "name": "Create Outline"},
			{"id": "write", "type": "agent", "name": "Write Content"},
			{"id": "review", "type": "agent", "name": "Review & Edit"},
		},
	},
	{
		name:     "Customer Support",
		keywords: []string{"support", "suporte", "ticket", "help", "customer", "cliente"},
		steps: []map[string]any{
			{"id": "classify", "type": "agent", "name": "Classify Request"},
			{"id": "route", "type": "condition", "name": "Route by Type"},
			{"id": "resolve", "type": "agent", "name": "Generate Solution"},
			{"id": "escalate", "type": "condition", "name": "Check Escalation"},
		},
	},
	{
		name:     "Approval Flow",
		keywords: []string{"approval", "aprovação", "review", "validar", "autorizar"},
		steps: []map[string]any{
			{"id": "submit", "type": "action", "name": "Submit Request"},
			{"id": "validate", "type": "agent", "name": "Validate Request"},
			{"id": "approve", "type": "condition", "name": "Approval Decision"},
			{"id": "notify", "type": "action", "name": "Notify Requester"},
		},
	},
}

type stepPattern struct {
	stepType string
	keywords []string
}

// stepPatterns mirrors assistant.py's STEP_PATTERNS, preserving
// insertion order since _analyze_and_generate_steps walks it in order
// and stops at the first matching keyword per type.
var stepPatterns = []stepPattern{
	{"agent", []string{"analisar", "analyze", "escrever", "write", "gerar", "generate", "resumir", "summarize", "traduzir", "translate", "classificar"}},
	{"condition", []string{"se", "if", "quando", "when", "verificar", "check", "decidir", "decision", "routing", "encaminhar"}},
	{"parallel", []string{"paralelo", "parallel", "simultâneo", "simultaneous", "todos", "all", "multiple"}},
	{"loop", []string{"cada", "each", "para", "for", "repetir", "repeat", "iterar", "iterate", "while"}},
	{"multi_agent", []string{"equipe", "team", "crew", "debate", "colaborar", "collaborate", "múltiplos agentes", "multiple agents"}},
	{"action", []string{"enviar", "send", "salvar", "save", "http", "api", "webhook", "notificar", "notify", "email"}},
}

// Assistant builds, extends, and documents draft workflows from natural
// language (assistant.py WorkflowAssistant).
type Assistant struct{}

// NewAssistant constructs an Assistant.
func NewAssistant() *Assistant { return &Assistant{} }

// GenerateFromDescription drafts a workflow from a free-text description,
// preferring a matching built-in template and falling back to a
// keyword-driven generic workflow.
func (a *Assistant) GenerateFromDescription(description string) WorkflowSuggestion {
	lower := strings.ToLower(description)

	var bestTemplate *workflowTemplate
	bestScore := 0
	for i := range workflowTemplates {
		tpl := &workflowTemplates[i]
		score := 0
		for _, kw := range tpl.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestTemplate = tpl
		}
	}

	if bestTemplate != nil && bestScore >= 2 {
		steps := make([]map[string]any, 0, len(bestTemplate.steps))
		for _, step := range bestTemplate.steps {
			stepType, _ := step["type"].(string)
			steps = append(steps, map[string]any{
				"id":     step["id"],
				"type":   step["type"],
				"name":   step["name"],
				"config": a.generateStepConfig(stepType, description),
			})
		}
		return WorkflowSuggestion{
			Name:        bestTemplate.name,
			Description: description,
			Steps:       steps,
			Metadata:    map[string]any{"source": "template", "template_match_score": bestScore},
		}
	}

	return WorkflowSuggestion{
		Name:        a.generateWorkflowName(description),
		Description: description,
		Steps:       a.analyzeAndGenerateSteps(description),
		Metadata:    map[string]any{"source": "generated"},
	}
}

// SuggestNextSteps recommends steps to append to a workflow in progress.
func (a *Assistant) SuggestNextSteps(currentSteps []map[string]any) []StepSuggestion {
	if len(currentSteps) == 0 {
		return []StepSuggestion{{
			StepType:    "agent",
			Name:        "Process Input",
			Description: "Process initial input",
			Confidence:  0.9,
			Reason:      "Every workflow needs an initial step to process input",
		}}
	}

	var suggestions []StepSuggestion
	last := currentSteps[len(currentSteps)-1]
	lastType, _ := last["type"].(string)
	if lastType == "" {
		lastType = "agent"
	}

	switch lastType {
	case "agent":
		suggestions = append(suggestions,
			StepSuggestion{
				StepType:    "condition",
				Name:        "Validate Result",
				Description: "Validate the agent's result",
				Confidence:  0.8,
				Reason:      "It is common to validate an agent's result before proceeding",
			},
			StepSuggestion{
				StepType:    "action",
				Name:        "Save Result",
				Description: "Persist the result to an external system",
				Confidence:  0.7,
				Reason:      "Agent results often need to be persisted",
			},
		)
	case "condition":
		suggestions = append(suggestions, StepSuggestion{
			StepType:    "agent",
			Name:        "Process Branch",
			Description: "Process the selected branch",
			Confidence:  0.85,
			Reason:      "Condition branches usually lead to branch-specific processing",
		})
	case "parallel":
		suggestions = append(suggestions, StepSuggestion{
			StepType:    "agent",
			Name:        "Aggregate Results",
			Description: "Combine parallel results",
			Confidence:  0.9,
			Reason:      "Parallel results need to be aggregated",
		})
	}

	if len(currentSteps) >= 3 {
		suggestions = append(suggestions, StepSuggestion{
			StepType:    "action",
			Name:        "Complete Workflow",
			Description: "Finalize and notify completion",
			Confidence:  0.6,
			Reason:      "The workflow may be ready to finish",
		})
	}

	return suggestions
}

// DetectProblems flags structural issues in a workflow definition:
// duplicate or dangling step IDs, self-referencing steps, and missing
// required configuration for agent and condition steps.
func (a *Assistant) DetectProblems(workflow map[string]any) []ProblemDetection {
	rawSteps, _ := workflow["steps"].([]map[string]any)
	if len(rawSteps) == 0 {
		return []ProblemDetection{{
			Severity: SeverityError,
			Message:  "Workflow has no steps defined",
		}}
	}

	var problems []ProblemDetection

	ids := make([]string, 0, len(rawSteps))
	for _, s := range rawSteps {
		id, _ := s["id"].(string)
		ids = append(ids, id)
	}
	if hasDuplicate(ids) {
		problems = append(problems, ProblemDetection{
			Severity: SeverityError,
			Message:  "Duplicate step IDs found",
		})
	}

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	for _, step := range rawSteps {
		stepID, _ := step["id"].(string)
		next, ok := step["next_step"].(string)
		if ok && next != "" && !idSet[next] {
			problems = append(problems, ProblemDetection{
				Severity:   SeverityError,
				Message:    fmt.Sprintf("Step references a non-existent next_step: %s", next),
				StepID:     stepID,
				Suggestion: fmt.Sprintf("Remove the reference or create step '%s'", next),
			})
		}
	}

	for _, step := range rawSteps {
		stepID, _ := step["id"].(string)
		stepType, _ := step["type"].(string)
		config, _ := step["config"].(map[string]any)

		if stepType == "agent" && !hasKey(config, "prompt") && !hasKey(config, "agent_id") {
			problems = append(problems, ProblemDetection{
				Severity:   SeverityWarning,
				Message:    "Agent step has no prompt or agent_id configured",
				StepID:     stepID,
				Suggestion: "Add a prompt or specify an agent_id",
			})
		}

		if stepType == "condition" && !hasKey(config, "branches") && !hasKey(config, "cases") {
			problems = append(problems, ProblemDetection{
				Severity:   SeverityWarning,
				Message:    "Condition step has no branches defined",
				StepID:     stepID,
				Suggestion: "Add branches or cases for the condition",
			})
		}
	}

	for _, step := range rawSteps {
		stepID, _ := step["id"].(string)
		next, _ := step["next_step"].(string)
		if next != "" && next == stepID {
			problems = append(problems, ProblemDetection{
				Severity:   SeverityError,
				Message:    "Step points to itself (infinite loop)",
				StepID:     stepID,
				Suggestion: "Fix next_step to point to a different step",
			})
		}
	}

	return problems
}

// GenerateDocumentation renders a Markdown description of a workflow
// definition, listing each step's ID, type, and configuration.
func (a *Assistant) GenerateDocumentation(workflow map[string]any) string {
	name, _ := workflow["name"].(string)
	if name == "" {
		name = "Workflow"
	}
	description, _ := workflow["description"].(string)
	steps, _ := workflow["steps"].([]map[string]any)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	if description != "" {
		fmt.Fprintf(&b, "%s\n\n", description)
	}
	b.WriteString("## Steps\n\n")

	for i, step := range steps {
		stepID, _ := step["id"].(string)
		if stepID == "" {
			stepID = fmt.Sprintf("step_%d", i+1)
		}
		stepType, _ := step["type"].(string)
		if stepType == "" {
			stepType = "unknown"
		}
		stepName, _ := step["name"].(string)
		if stepName == "" {
			stepName = stepID
		}

		fmt.Fprintf(&b, "### %d. %s\n", i+1, stepName)
		fmt.Fprintf(&b, "- **ID**: `%s`\n", stepID)
		fmt.Fprintf(&b, "- **Type**: `%s`\n", stepType)

		if config, ok := step["config"].(map[string]any); ok && len(config) > 0 {
			b.WriteString("- **Config**:\n")
			keys := make([]string, 0, len(config))
			for k := range config {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				v := config[k]
				if s, ok := v.(string); ok && len(s) > 50 {
					v = s[:50] + "..."
				}
				fmt.Fprintf(&b, "  - %s: %v\n", k, v)
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

func (a *Assistant) generateWorkflowName(description string) string {
	words := strings.Fields(description)
	if len(words) > 4 {
		words = words[:4]
	}
	titled := make([]string, len(words))
	for i, w := range words {
		titled[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(titled, " ")
}

func (a *Assistant) analyzeAndGenerateSteps(description string) []map[string]any {
	lower := strings.ToLower(description)
	var steps []map[string]any
	index := 0

	for _, pattern := range stepPatterns {
		for _, kw := range pattern.keywords {
			if strings.Contains(lower, kw) {
				index++
				steps = append(steps, map[string]any{
					"id":     fmt.Sprintf("step_%d", index),
					"type":   pattern.stepType,
					"name":   strings.ToUpper(kw[:1]) + kw[1:] + " Step",
					"config": a.generateStepConfig(pattern.stepType, description),
				})
				break
			}
		}
	}

	if len(steps) == 0 {
		steps = []map[string]any{
			{"id": "input", "type": "agent", "name": "Process Input", "config": map[string]any{}},
			{"id": "process", "type": "agent", "name": "Main Process", "config": map[string]any{}},
			{"id": "output", "type": "action", "name": "Generate Output", "config": map[string]any{}},
		}
	}

	return steps
}

func (a *Assistant) generateStepConfig(stepType, context string) map[string]any {
	switch stepType {
	case "agent":
		snippet := context
		if len(snippet) > 100 {
			snippet = snippet[:100]
		}
		return map[string]any{
			"prompt":          fmt.Sprintf("Process the following based on: %s...", snippet),
			"output_variable": "result",
		}
	case "condition":
		return map[string]any{
			"branches": []map[string]any{
				{"condition": "${result.success} == true", "next_step": "success"},
				{"condition": "${result.success} == false", "next_step": "failure"},
			},
		}
	case "parallel":
		return map[string]any{
			"join_strategy": "all",
			"branches":      []string{},
		}
	case "loop":
		return map[string]any{
			"loop_type":      "for_each",
			"items_variable": "items",
			"item_variable":  "item",
		}
	}
	return map[string]any{}
}

func hasDuplicate(ids []string) bool {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}

func hasKey(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	v, ok := m[key]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case nil:
		return false
	default:
		return true
	}
}
