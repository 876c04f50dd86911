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

import "fmt"

// Validate checks the invariants stated in spec.md §3: step ids unique,
// every next_step/on_error target exists, start_step (if set) exists.
// Grounded on pkg/workflow/validate.go's existing dangling-target checks,
// generalized to the full invariant set named by the spec.
func Validate(d *WorkflowDefinition) []string {
	var reasons []string

	seen := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if s.ID == "" {
			reasons = append(reasons, "step has empty id")
			continue
		}
		if seen[s.ID] {
			reasons = append(reasons, fmt.Sprintf("duplicate step id %q", s.ID))
		}
		seen[s.ID] = true
	}

	for _, s := range d.Steps {
		if s.NextStep != "" && !seen[s.NextStep] {
			reasons = append(reasons, fmt.Sprintf("step %q: next_step %q does not exist", s.ID, s.NextStep))
		}
		if s.OnError != "" && !seen[s.OnError] {
			reasons = append(reasons, fmt.Sprintf("step %q: on_error %q does not exist", s.ID, s.OnError))
		}
		if s.Type == "multi_agent" {
			reasons = append(reasons, validateMultiAgentConfig(s)...)
		}
	}

	if d.StartStep != "" && !seen[d.StartStep] {
		reasons = append(reasons, fmt.Sprintf("start_step %q does not exist", d.StartStep))
	}

	return reasons
}

// validateMultiAgentConfig enforces the spec.md §9 resolution of the
// "empty roster" open question: every orchestration pattern requires a
// non-empty agent list at definition time, not just sequential/chain (the
// reference implementation's validate() only checked those two).
func validateMultiAgentConfig(s WorkflowStep) []string {
	var reasons []string
	agentsRaw, ok := s.Config["agents"]
	if !ok {
		reasons = append(reasons, fmt.Sprintf("step %q: multi_agent requires a non-empty agents list", s.ID))
		return reasons
	}
	agents, ok := agentsRaw.([]any)
	if !ok || len(agents) == 0 {
		reasons = append(reasons, fmt.Sprintf("step %q: multi_agent requires a non-empty agents list", s.ID))
	}
	pattern, _ := s.Config["pattern"].(string)
	if pattern == "hierarchical" {
		if _, ok := s.Config["manager_agent"]; !ok {
			reasons = append(reasons, fmt.Sprintf("step %q: hierarchical pattern requires manager_agent", s.ID))
		}
	}
	return reasons
}
