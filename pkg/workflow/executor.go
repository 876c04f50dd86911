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
	"math"
	"time"
)

// DefaultStepTimeout is the §5 default per-step timeout (300s).
const DefaultStepTimeout = 300 * time.Second

// StepFunc is an async step body: given a context, it produces a value or
// an error. Handlers adapt themselves to this shape before handing off to
// the Step Executor.
type StepFunc func(ctx context.Context) (any, error)

// StepExecutor runs one step with timeout and retry-with-backoff (§4.3).
// Grounded on pkg/workflow/executor.go's executeWithRetry: default timeout,
// attempt budget of max_retries+1, and the
// base * multiplier^attempt (capped at max) backoff formula.
type StepExecutor struct{}

// NewStepExecutor constructs a StepExecutor. It is stateless and safe for
// concurrent use; all retry/timeout state lives on the stack of each Run
// call.
func NewStepExecutor() *StepExecutor {
	return &StepExecutor{}
}

// Run executes f under policy with a per-attempt timeout and returns the
// StepResult for stepID; recording it on a StepState is left to the
// caller. Errors are not classified by kind: every retry decision asks
// policy.IsRetryable with an empty kind.
func (e *StepExecutor) Run(ctx context.Context, stepID string, f StepFunc, policy RetryPolicy, timeout time.Duration) StepResult {
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	started := time.Now()
	maxAttempts := policy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var lastOutput any
	attempt := 0

	for attempt = 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return StepResult{
				StepID: stepID, Status: StepCancelled, Attempts: attempt,
				StartedAt: started, CompletedAt: time.Now(), Duration: time.Since(started),
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		output, err := f(attemptCtx)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil && !timedOut {
			return StepResult{
				StepID: stepID, Status: StepCompleted, Output: output, Attempts: attempt,
				StartedAt: started, CompletedAt: time.Now(), Duration: time.Since(started),
			}
		}

		if ctx.Err() != nil {
			return StepResult{
				StepID: stepID, Status: StepCancelled, Attempts: attempt,
				StartedAt: started, CompletedAt: time.Now(), Duration: time.Since(started),
			}
		}

		lastOutput = output
		if timedOut {
			lastErr = context.DeadlineExceeded
		} else {
			lastErr = err
		}

		if attempt == maxAttempts || !policy.IsRetryable("") {
			break
		}

		delay := backoffDelay(policy, attempt)
		select {
		case <-ctx.Done():
			return StepResult{
				StepID: stepID, Status: StepCancelled, Attempts: attempt,
				StartedAt: started, CompletedAt: time.Now(), Duration: time.Since(started),
			}
		case <-time.After(delay):
		}
	}

	status := StepFailed
	if lastErr == context.DeadlineExceeded {
		status = StepTimedOut
	}
	errMsg := ""
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	return StepResult{
		StepID: stepID, Status: status, Output: lastOutput, Error: errMsg, Attempts: attempt,
		StartedAt: started, CompletedAt: time.Now(), Duration: time.Since(started),
	}
}

// backoffDelay computes min(initial_delay_ms * multiplier^(attempt-1),
// max_delay_ms) as a time.Duration, converting from the policy's
// millisecond fields only at the point backoff is scheduled (spec.md §9
// resolution of the ms-vs-seconds open question).
func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	initial := float64(policy.InitialDelayMs)
	if initial <= 0 {
		initial = 1000
	}
	mult := policy.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	maxDelay := float64(policy.MaxDelayMs)
	if maxDelay <= 0 {
		maxDelay = 30000
	}
	delay := initial * math.Pow(mult, float64(attempt-1))
	if delay > maxDelay {
		delay = maxDelay
	}
	return time.Duration(delay) * time.Millisecond
}
