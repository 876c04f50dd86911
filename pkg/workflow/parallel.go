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
	"sync"
)

// DefaultParallelConcurrency mirrors the teacher's executor.go semaphore
// cap for parallel fan-out.
const DefaultParallelConcurrency = 3

// JoinStrategy selects how the Parallel Executor combines branch results
// (§4.4).
type JoinStrategy string

const (
	JoinAll   JoinStrategy = "all"
	JoinAny   JoinStrategy = "any"
	JoinFirst JoinStrategy = "first"
)

// BranchTask is one unit of parallel work: an id and the body to run.
type BranchTask struct {
	ID string
	Fn func(ctx context.Context) (any, error)
}

// BranchResult is the outcome of one branch.
type BranchResult struct {
	ID     string
	Output any
	Err    error
}

// ParallelExecutor fans out bounded by a concurrency semaphore, grounded on
// pkg/workflow/executor.go's parallelSem channel pattern.
type ParallelExecutor struct {
	maxConcurrent int
}

// NewParallelExecutor constructs an executor with the given concurrency
// cap; <=0 uses DefaultParallelConcurrency.
func NewParallelExecutor(maxConcurrent int) *ParallelExecutor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultParallelConcurrency
	}
	return &ParallelExecutor{maxConcurrent: maxConcurrent}
}

// Run executes tasks under strategy. An empty task list returns an empty
// result slice immediately without error (§8 boundary behavior).
func (p *ParallelExecutor) Run(ctx context.Context, tasks []BranchTask, strategy JoinStrategy) []BranchResult {
	if len(tasks) == 0 {
		return []BranchResult{}
	}

	switch strategy {
	case JoinFirst:
		return p.runFirst(ctx, tasks)
	case JoinAny:
		return p.runAny(ctx, tasks)
	default:
		return p.runAll(ctx, tasks)
	}
}

// runAll awaits every task; a task whose body errors is reported FAILED but
// siblings are still collected (§4.4 "all").
func (p *ParallelExecutor) runAll(ctx context.Context, tasks []BranchTask) []BranchResult {
	sem := make(chan struct{}, p.maxConcurrent)
	results := make([]BranchResult, len(tasks))
	var wg sync.WaitGroup

	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t BranchTask) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out, err := t.Fn(ctx)
			results[i] = BranchResult{ID: t.ID, Output: out, Err: err}
		}(i, t)
	}
	wg.Wait()
	return results
}

// runFirst returns as soon as the first task completes (success or
// failure), cancelling all others (§4.4 "first").
func (p *ParallelExecutor) runFirst(ctx context.Context, tasks []BranchTask) []BranchResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type indexed struct {
		i int
		r BranchResult
	}
	ch := make(chan indexed, len(tasks))
	sem := make(chan struct{}, p.maxConcurrent)

	for i, t := range tasks {
		go func(i int, t BranchTask) {
			sem <- struct{}{}
			defer func() { <-sem }()
			out, err := t.Fn(ctx)
			select {
			case ch <- indexed{i, BranchResult{ID: t.ID, Output: out, Err: err}}:
			case <-ctx.Done():
			}
		}(i, t)
	}

	first := <-ch
	results := make([]BranchResult, len(tasks))
	results[first.i] = first.r
	return []BranchResult{first.r}
}

// runAny returns on the first SUCCESS, continuing to await pending
// failures until a success appears or all are done (§4.4 "any").
func (p *ParallelExecutor) runAny(ctx context.Context, tasks []BranchTask) []BranchResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan BranchResult, len(tasks))
	sem := make(chan struct{}, p.maxConcurrent)

	for _, t := range tasks {
		go func(t BranchTask) {
			sem <- struct{}{}
			defer func() { <-sem }()
			out, err := t.Fn(ctx)
			select {
			case ch <- BranchResult{ID: t.ID, Output: out, Err: err}:
			case <-ctx.Done():
			}
		}(t)
	}

	var failures []BranchResult
	for i := 0; i < len(tasks); i++ {
		r := <-ch
		if r.Err == nil {
			return append(append([]BranchResult{}, failures...), r)
		}
		failures = append(failures, r)
	}
	return failures
}
