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

// DefaultMaxIterations is the loop safety ceiling (§4.5).
const DefaultMaxIterations = 1000

// LoopMode selects one of the five loop behaviors (§4.5).
type LoopMode string

const (
	LoopForEach LoopMode = "for_each"
	LoopMap     LoopMode = "map"
	LoopWhile   LoopMode = "while"
	LoopUntil   LoopMode = "until"
	LoopTimes   LoopMode = "times"
)

// LoopHandler supports for_each, map, while, until and times (§4.5),
// grounded on pkg/workflow/loop.go's iteration-mode shape. continue_on_error
// switches between fail-fast and collect-error-and-continue.
type LoopHandler struct {
	// Body, when set, runs once per iteration instead of the default
	// identity body (used by tests and by the engine when wiring a nested
	// step as the loop body). If nil, each iteration's output is the bound
	// item itself.
	Body func(ctx context.Context, iterCtx *ExecutionContext, item any, index int) (any, error)
}

func (h *LoopHandler) StepType() string { return "loop" }

func (h *LoopHandler) Execute(ctx context.Context, step *WorkflowStep, ec *ExecutionContext) (any, error) {
	mode := LoopMode(stringConfig(step.Config, "mode", string(LoopForEach)))
	maxIterations := DefaultMaxIterations
	if mi, ok := step.Config["max_iterations"]; ok {
		maxIterations = int(asFloatConfig(mi))
	}
	continueOnError, _ := step.Config["continue_on_error"].(bool)
	itemVar := stringConfig(step.Config, "item_variable", "item")
	indexVar := stringConfig(step.Config, "index_variable", "index")

	body := h.Body
	if body == nil {
		body = func(ctx context.Context, iterCtx *ExecutionContext, item any, index int) (any, error) {
			return item, nil
		}
	}

	var outputs []any
	var errs []map[string]any

	runIteration := func(item any, index int) (any, bool) {
		ec.Variables.Set(itemVar, item)
		ec.Variables.Set(indexVar, index)
		out, err := body(ctx, ec, item, index)
		if err != nil {
			errs = append(errs, map[string]any{"index": index, "error": err.Error()})
			return nil, false
		}
		return out, true
	}

	switch mode {
	case LoopForEach, LoopMap:
		collection, err := resolveCollection(step, ec)
		if err != nil {
			return nil, err
		}
		for i, item := range collection {
			if i >= maxIterations {
				break
			}
			out, ok := runIteration(item, i)
			if !ok && !continueOnError {
				return loopResult(mode, outputs, errs, step, ec), fmt.Errorf("loop step %s: iteration %d failed", step.ID, i)
			}
			if ok {
				outputs = append(outputs, out)
			}
		}
	case LoopTimes:
		times := int(asFloatConfig(step.Config["times"]))
		for i := 0; i < times && i < maxIterations; i++ {
			out, ok := runIteration(i, i)
			if !ok && !continueOnError {
				return loopResult(mode, outputs, errs, step, ec), fmt.Errorf("loop step %s: iteration %d failed", step.ID, i)
			}
			if ok {
				outputs = append(outputs, out)
			}
		}
	case LoopWhile, LoopUntil:
		condStr := stripExprDelims(stringConfig(step.Config, "condition", "false"))
		for i := 0; i < maxIterations; i++ {
			truth, err := ec.Resolver.EvaluateBool(condStr, ec.Variables)
			if err != nil {
				return nil, fmt.Errorf("loop step %s: evaluate condition: %w", step.ID, err)
			}
			want := truth
			if mode == LoopUntil {
				want = !truth
			}
			if !want {
				break
			}
			out, ok := runIteration(i, i)
			if !ok && !continueOnError {
				return loopResult(mode, outputs, errs, step, ec), fmt.Errorf("loop step %s: iteration %d failed", step.ID, i)
			}
			if ok {
				outputs = append(outputs, out)
			}
		}
	default:
		return nil, fmt.Errorf("loop step %s: unknown mode %q", step.ID, mode)
	}

	return loopResult(mode, outputs, errs, step, ec), nil
}

func loopResult(mode LoopMode, outputs []any, errs []map[string]any, step *WorkflowStep, ec *ExecutionContext) any {
	if outputs == nil {
		outputs = []any{}
	}
	var result any
	if mode == LoopMap {
		result = outputs
	} else {
		result = map[string]any{"results": outputs, "errors": errs, "count": len(outputs)}
	}
	if outVar, ok := step.Config["output_variable"].(string); ok && outVar != "" {
		ec.Variables.Set(outVar, result)
	}
	return result
}

func resolveCollection(step *WorkflowStep, ec *ExecutionContext) ([]any, error) {
	collectionExpr := stringConfig(step.Config, "collection", "")
	resolved, err := ec.Resolver.Resolve(collectionExpr, ec.Variables)
	if err != nil {
		return nil, fmt.Errorf("loop step %s: resolve collection: %w", step.ID, err)
	}
	items, ok := resolved.([]any)
	if !ok {
		return nil, nil
	}
	return items, nil
}

func stringConfig(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return def
}

func asFloatConfig(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}
