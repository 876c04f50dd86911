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
)

// ParallelHandler builds one sub-task per declared branch and delegates to
// the Parallel Executor with the declared join strategy (§4.5).
type ParallelHandler struct{}

func (h *ParallelHandler) StepType() string { return "parallel" }

func (h *ParallelHandler) Execute(ctx context.Context, step *WorkflowStep, ec *ExecutionContext) (any, error) {
	branchesRaw, _ := step.Config["branches"].([]any)
	strategy := JoinStrategy("all")
	if s, ok := step.Config["join"].(string); ok && s != "" {
		strategy = JoinStrategy(s)
	}
	maxConcurrent := DefaultParallelConcurrency
	if mc, ok := step.Config["max_concurrent"].(float64); ok && mc > 0 {
		maxConcurrent = int(mc)
	}

	tasks := make([]BranchTask, 0, len(branchesRaw))
	for _, b := range branchesRaw {
		branch, ok := b.(map[string]any)
		if !ok {
			continue
		}
		id, _ := branch["id"].(string)
		cfgStr, _ := branch["config"].(string)
		tasks = append(tasks, BranchTask{
			ID: id,
			Fn: func(innerCtx context.Context) (any, error) {
				resolved, err := ec.Resolver.Resolve(cfgStr, ec.Variables)
				if err != nil {
					return nil, err
				}
				return resolved, nil
			},
		})
	}

	if len(tasks) == 0 {
		return map[string]any{"branches": []any{}, "results": map[string]any{}}, nil
	}

	executor := NewParallelExecutor(maxConcurrent)
	results := executor.Run(ctx, tasks, strategy)

	succeeded := []string{}
	var failed []map[string]any
	byBranch := make(map[string]any, len(results))
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, map[string]any{"branch_id": r.ID, "error": r.Err.Error()})
		} else {
			succeeded = append(succeeded, r.ID)
		}
		byBranch[r.ID] = r.Output
	}

	out := map[string]any{
		"succeeded": succeeded,
		"failed":    failed,
		"results":   byBranch,
	}

	if outVar, ok := step.Config["output_variable"].(string); ok && outVar != "" {
		ec.Variables.Set(outVar, out)
	}

	if failOnError, _ := step.Config["fail_on_error"].(bool); failOnError && len(failed) > 0 {
		return out, fmt.Errorf("parallel step %s: %d branch(es) failed", step.ID, len(failed))
	}
	return out, nil
}
