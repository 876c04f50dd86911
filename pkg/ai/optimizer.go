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

package ai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/tombee/conductor/pkg/workflow"
)

// missingRetryPolicyQuery selects the id of every step that has no
// step-level retry_policy. Grounded on the teacher's use of gojq for ad hoc JSON
// querying (the same library backs jq-expression evaluation elsewhere in
// tombee-conductor's CLI); used here so the structural analyzer's "which
// steps lack X" questions are expressed as jq filters instead of bespoke
// Go loops, the way the teacher would reach for gojq over hand-rolled
// traversal.
var missingRetryPolicyQuery = mustParseJQ(`.steps[]? | select((.retry_policy // null) == null) | .id`)

func mustParseJQ(src string) *gojq.Query {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(err)
	}
	return q
}

// jqStringResults runs q against wf (round-tripped through encoding/json so
// gojq sees its expected map[string]interface{}/[]interface{} shapes) and
// collects every string result, in order, ignoring query errors.
func jqStringResults(wf map[string]any, q *gojq.Query) []string {
	raw, err := json.Marshal(wf)
	if err != nil {
		return nil
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil
	}

	var out []string
	iter := q.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return out
		}
		if _, isErr := v.(error); isErr {
			continue
		}
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
}

// OptimizationType categorizes what an OptimizationRecommendation
// addresses (optimizer.py OptimizationType).
type OptimizationType string

const (
	OptPerformance     OptimizationType = "performance"
	OptCost            OptimizationType = "cost"
	OptReliability     OptimizationType = "reliability"
	OptParallelization OptimizationType = "parallelization"
	OptCaching         OptimizationType = "caching"
)

// OptimizationPriority ranks how urgently a recommendation should be
// acted on (optimizer.py Priority).
type OptimizationPriority string

const (
	OptPriorityHigh   OptimizationPriority = "high"
	OptPriorityMedium OptimizationPriority = "medium"
	OptPriorityLow    OptimizationPriority = "low"
)

var optPriorityOrder = map[OptimizationPriority]int{
	OptPriorityHigh:   0,
	OptPriorityMedium: 1,
	OptPriorityLow:    2,
}

// OptimizationRecommendation is one actionable suggestion produced by
// the Optimizer (optimizer.py OptimizationRecommendation).
type OptimizationRecommendation struct {
	ID                    string
	Type                  OptimizationType
	Priority              OptimizationPriority
	Title                 string
	Description           string
	Impact                string
	StepsAffected         []string
	EstimatedImprovement  *float64
	ImplementationEffort  string
}

// StepExecution is one step's recorded duration within a past workflow
// execution, the unit execution history is expressed in.
type StepExecution struct {
	StepID     string
	DurationMs float64
}

// Optimizer analyzes workflow definitions and their execution history
// to recommend performance, cost, reliability, and parallelization
// improvements (optimizer.py WorkflowOptimizer).
type Optimizer struct {
	counter int
}

// NewOptimizer constructs an Optimizer.
func NewOptimizer() *Optimizer { return &Optimizer{} }

// Analyze runs the full set of structural, parallelization, performance,
// cost, and reliability analyses over a workflow, sorted by descending
// priority.
func (o *Optimizer) Analyze(wf map[string]any, executionHistory [][]StepExecution) []OptimizationRecommendation {
	var recs []OptimizationRecommendation

	recs = append(recs, o.analyzeStructure(wf)...)
	recs = append(recs, o.analyzeParallelization(wf)...)
	if len(executionHistory) > 0 {
		recs = append(recs, o.analyzePerformance(executionHistory)...)
	}
	recs = append(recs, o.analyzeCosts(wf)...)
	recs = append(recs, o.analyzeReliability(wf)...)

	sort.SliceStable(recs, func(i, j int) bool {
		return optPriorityOrder[recs[i].Priority] < optPriorityOrder[recs[j].Priority]
	})

	return recs
}

func (o *Optimizer) nextID() string {
	o.counter++
	return fmt.Sprintf("opt_%d", o.counter)
}

func pct(v float64) *float64 { return &v }

func (o *Optimizer) analyzeStructure(wf map[string]any) []OptimizationRecommendation {
	var recs []OptimizationRecommendation
	steps, _ := wf["steps"].([]map[string]any)

	var sequentialAgents []string
	flush := func() {
		if len(sequentialAgents) >= 3 {
			recs = append(recs, OptimizationRecommendation{
				ID:                   o.nextID(),
				Type:                 OptParallelization,
				Priority:             OptPriorityMedium,
				Title:                "Consider parallelizing agents",
				Description:          fmt.Sprintf("%d sequential agents could run in parallel", len(sequentialAgents)),
				Impact:               fmt.Sprintf("Potential reduction of %d%% in time", (len(sequentialAgents)-1)*30),
				StepsAffected:        append([]string{}, sequentialAgents...),
				EstimatedImprovement: pct(30.0),
				ImplementationEffort: "medium",
			})
		}
		sequentialAgents = nil
	}

	for _, step := range steps {
		stepType, _ := step["type"].(string)
		if stepType == "agent" {
			id, _ := step["id"].(string)
			sequentialAgents = append(sequentialAgents, id)
		} else {
			flush()
		}
	}
	flush()

	if len(steps) > 10 {
		recs = append(recs, OptimizationRecommendation{
			ID:                   o.nextID(),
			Type:                 OptPerformance,
			Priority:             OptPriorityLow,
			Title:                "Workflow is large",
			Description:          fmt.Sprintf("Workflow has %d steps. Consider splitting into sub-workflows", len(steps)),
			Impact:               "Better maintainability and reuse potential",
			ImplementationEffort: "high",
		})
	}

	return recs
}

func (o *Optimizer) analyzeParallelization(wf map[string]any) []OptimizationRecommendation {
	var recs []OptimizationRecommendation
	steps, _ := wf["steps"].([]map[string]any)

	deps := buildDependencyGraph(steps)
	groups := findIndependentGroups(deps)

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sorted := append([]string{}, group...)
		sort.Strings(sorted)
		improvement := float64(len(group)) * 20.0
		if improvement > 50.0 {
			improvement = 50.0
		}
		recs = append(recs, OptimizationRecommendation{
			ID:                   o.nextID(),
			Type:                 OptParallelization,
			Priority:             OptPriorityHigh,
			Title:                "Independent steps could run in parallel",
			Description:          fmt.Sprintf("Steps %s have no dependencies on each other", strings.Join(sorted, ", ")),
			Impact:               "Parallel execution can significantly reduce total time",
			StepsAffected:        sorted,
			EstimatedImprovement: pct(improvement),
			ImplementationEffort: "medium",
		})
	}

	return recs
}

func (o *Optimizer) analyzePerformance(history [][]StepExecution) []OptimizationRecommendation {
	var recs []OptimizationRecommendation

	stepTimes := make(map[string][]float64)
	for _, execution := range history {
		for _, result := range execution {
			stepTimes[result.StepID] = append(stepTimes[result.StepID], result.DurationMs)
		}
	}

	ids := make([]string, 0, len(stepTimes))
	for id := range stepTimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, stepID := range ids {
		times := stepTimes[stepID]
		avg := mean(times)

		if avg > 5000 {
			recs = append(recs, OptimizationRecommendation{
				ID:                   o.nextID(),
				Type:                 OptPerformance,
				Priority:             OptPriorityHigh,
				Title:                fmt.Sprintf("Performance bottleneck: %s", stepID),
				Description:          fmt.Sprintf("Step has average latency of %.1fs", avg/1000),
				Impact:               "Optimizing this step can significantly reduce total time",
				StepsAffected:        []string{stepID},
				EstimatedImprovement: pct(20.0),
				ImplementationEffort: "medium",
			})
		}

		if len(times) >= 3 {
			variance := varianceOf(times, avg)
			if variance > avg*0.5 {
				recs = append(recs, OptimizationRecommendation{
					ID:                   o.nextID(),
					Type:                 OptReliability,
					Priority:             OptPriorityMedium,
					Title:                fmt.Sprintf("High variability: %s", stepID),
					Description:          "Execution time varies widely between runs",
					Impact:               "Adding a timeout and retry can improve predictability",
					StepsAffected:        []string{stepID},
					ImplementationEffort: "medium",
				})
			}
		}
	}

	return recs
}

func (o *Optimizer) analyzeCosts(wf map[string]any) []OptimizationRecommendation {
	var recs []OptimizationRecommendation
	steps, _ := wf["steps"].([]map[string]any)

	var agentSteps []map[string]any
	for _, step := range steps {
		if t, _ := step["type"].(string); t == "agent" {
			agentSteps = append(agentSteps, step)
		}
	}

	if len(agentSteps) > 5 {
		ids := make([]string, 0, len(agentSteps))
		for _, s := range agentSteps {
			id, _ := s["id"].(string)
			ids = append(ids, id)
		}
		recs = append(recs, OptimizationRecommendation{
			ID:                   o.nextID(),
			Type:                 OptCost,
			Priority:             OptPriorityMedium,
			Title:                "Many agent steps",
			Description:          fmt.Sprintf("%d agents may generate high token cost", len(agentSteps)),
			Impact:               "Consolidating prompts or using cheaper models can reduce cost",
			StepsAffected:        ids,
			EstimatedImprovement: pct(30.0),
			ImplementationEffort: "medium",
		})
	}

	for _, step := range agentSteps {
		config, _ := step["config"].(map[string]any)
		if !hasKey(config, "max_tokens") {
			id, _ := step["id"].(string)
			recs = append(recs, OptimizationRecommendation{
				ID:                   o.nextID(),
				Type:                 OptCost,
				Priority:             OptPriorityLow,
				Title:                fmt.Sprintf("No token limit: %s", id),
				Description:          "Setting max_tokens can avoid unexpected cost",
				Impact:               "More predictable cost control",
				StepsAffected:        []string{id},
				ImplementationEffort: "low",
			})
		}
	}

	return recs
}

func (o *Optimizer) analyzeReliability(wf map[string]any) []OptimizationRecommendation {
	var recs []OptimizationRecommendation
	steps, _ := wf["steps"].([]map[string]any)

	for _, id := range jqStringResults(wf, missingRetryPolicyQuery) {
		recs = append(recs, OptimizationRecommendation{
			ID:                   o.nextID(),
			Type:                 OptReliability,
			Priority:             OptPriorityMedium,
			Title:                fmt.Sprintf("No retry policy: %s", id),
			Description:          "Adding a retry policy can improve resilience",
			Impact:               "Reduces failures from transient errors",
			StepsAffected:        []string{id},
			ImplementationEffort: "low",
		})
	}

	for _, step := range steps {
		id, _ := step["id"].(string)

		if !hasKey(step, "timeout_seconds") {
			stepType, _ := step["type"].(string)
			if stepType == "agent" || stepType == "action" {
				recs = append(recs, OptimizationRecommendation{
					ID:                   o.nextID(),
					Type:                 OptReliability,
					Priority:             OptPriorityLow,
					Title:                fmt.Sprintf("No timeout: %s", id),
					Description:          "Setting a timeout prevents stuck executions",
					Impact:               "Prevents hung workflows",
					StepsAffected:        []string{id},
					ImplementationEffort: "low",
				})
			}
		}
	}

	return recs
}

func buildDependencyGraph(steps []map[string]any) map[string]map[string]bool {
	deps := make(map[string]map[string]bool, len(steps))
	for _, s := range steps {
		id, _ := s["id"].(string)
		deps[id] = make(map[string]bool)
	}

	for i, step := range steps {
		id, _ := step["id"].(string)

		if i > 0 {
			prevID, _ := steps[i-1]["id"].(string)
			if parallel, _ := step["parallel"].(bool); !parallel {
				deps[id][prevID] = true
			}
		}

		if dependsOn, ok := step["depends_on"].([]string); ok {
			for _, dep := range dependsOn {
				deps[id][dep] = true
			}
		}
	}

	return deps
}

func findIndependentGroups(deps map[string]map[string]bool) [][]string {
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var groups [][]string
	processed := make(map[string]bool)

	for _, stepID := range ids {
		if processed[stepID] {
			continue
		}

		independent := map[string]bool{stepID: true}
		for _, otherID := range ids {
			if otherID == stepID || processed[otherID] {
				continue
			}
			if !deps[otherID][stepID] && !deps[stepID][otherID] {
				independent[otherID] = true
			}
		}

		if len(independent) >= 2 {
			group := make([]string, 0, len(independent))
			for id := range independent {
				group = append(group, id)
			}
			sort.Strings(group)
			groups = append(groups, group)
			for id := range independent {
				processed[id] = true
			}
		}
	}

	return groups
}

// GetQuickWins returns the subset of recommendations that are both
// high priority and low implementation effort.
func (o *Optimizer) GetQuickWins(recs []OptimizationRecommendation) []OptimizationRecommendation {
	var out []OptimizationRecommendation
	for _, r := range recs {
		if r.Priority == OptPriorityHigh && r.ImplementationEffort == "low" {
			out = append(out, r)
		}
	}
	return out
}

// SummarizeVersionChange renders a human-readable note describing a
// registered workflow version change, built on top of pkg/workflow's
// Diff so optimizer-facing tooling can surface what moved between two
// versions without recomputing the comparison itself.
func SummarizeVersionChange(diff workflow.DefinitionDiff) string {
	if len(diff.AddedSteps) == 0 && len(diff.RemovedSteps) == 0 && len(diff.ChangedSteps) == 0 && len(diff.FieldsChanged) == 0 {
		return "No structural changes between versions"
	}

	var parts []string
	if len(diff.AddedSteps) > 0 {
		parts = append(parts, fmt.Sprintf("added %s", strings.Join(diff.AddedSteps, ", ")))
	}
	if len(diff.RemovedSteps) > 0 {
		parts = append(parts, fmt.Sprintf("removed %s", strings.Join(diff.RemovedSteps, ", ")))
	}
	if len(diff.ChangedSteps) > 0 {
		parts = append(parts, fmt.Sprintf("changed %s", strings.Join(diff.ChangedSteps, ", ")))
	}
	if len(diff.FieldsChanged) > 0 {
		parts = append(parts, fmt.Sprintf("updated fields %s", strings.Join(diff.FieldsChanged, ", ")))
	}

	return "Version change: " + strings.Join(parts, "; ")
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func varianceOf(values []float64, avg float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - avg
		sum += d * d
	}
	return sum / float64(len(values))
}
