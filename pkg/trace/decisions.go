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

package trace

import (
	"sync"
	"time"
)

// DecisionKind categorizes the branch point an agent faced (decisions.py
// DecisionType).
type DecisionKind string

const (
	DecisionToolSelection DecisionKind = "tool_selection"
	DecisionRouting       DecisionKind = "routing"
	DecisionRetry         DecisionKind = "retry"
	DecisionTermination   DecisionKind = "termination"
)

// DecisionOutcome is the eventual verdict on a recorded decision.
type DecisionOutcome string

const (
	OutcomePending DecisionOutcome = "pending"
	OutcomeGood    DecisionOutcome = "good"
	OutcomeBad     DecisionOutcome = "bad"
	OutcomeNeutral DecisionOutcome = "neutral"
)

// DecisionOption is one alternative the agent considered.
type DecisionOption struct {
	ID        string
	Label     string
	Score     float64
	Reasoning string
}

// Decision records a single branch point an agent took during a trace,
// keyed by its trace and enclosing span (§4.13 supplemented feature 3:
// agent decision log). Replays built by FromTrace do not include
// decisions. Grounded on agent_observability/decisions.py's
// Decision/DecisionAnalyzer.
type Decision struct {
	ID      string
	TraceID string
	SpanID  string
	Kind    DecisionKind

	CreatedAt time.Time
	Options   []DecisionOption

	SelectedOptionID string
	Reasoning        string

	Outcome         DecisionOutcome
	OutcomeReasoning string
}

// AddOption appends a candidate option considered for this decision.
func (d *Decision) AddOption(opt DecisionOption) {
	d.Options = append(d.Options, opt)
}

// Select records which option the agent chose.
func (d *Decision) Select(optionID, reasoning string) {
	d.SelectedOptionID = optionID
	d.Reasoning = reasoning
}

// SetOutcome records the eventual verdict on a decision once known.
func (d *Decision) SetOutcome(outcome DecisionOutcome, reasoning string) {
	d.Outcome = outcome
	d.OutcomeReasoning = reasoning
}

// DecisionLog indexes decisions by trace and by selected-option frequency
// for pattern analysis (decisions.py DecisionAnalyzer).
type DecisionLog struct {
	mu           sync.Mutex
	decisions    map[string]*Decision
	byTrace      map[string][]string
	maxDecisions int
	order        []string
}

// NewDecisionLog constructs a log bounded to maxDecisions retained
// entries (0 means unbounded).
func NewDecisionLog(maxDecisions int) *DecisionLog {
	return &DecisionLog{
		decisions:    make(map[string]*Decision),
		byTrace:      make(map[string][]string),
		maxDecisions: maxDecisions,
	}
}

// Record stores d, evicting the oldest entry if the log is at capacity.
func (l *DecisionLog) Record(d *Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.decisions[d.ID] = d
	l.byTrace[d.TraceID] = append(l.byTrace[d.TraceID], d.ID)
	l.order = append(l.order, d.ID)

	if l.maxDecisions > 0 && len(l.order) > l.maxDecisions {
		oldest := l.order[0]
		l.order = l.order[1:]
		if old, ok := l.decisions[oldest]; ok {
			delete(l.decisions, oldest)
			ids := l.byTrace[old.TraceID]
			for i, id := range ids {
				if id == oldest {
					l.byTrace[old.TraceID] = append(ids[:i], ids[i+1:]...)
					break
				}
			}
		}
	}
}

// Get returns a decision by id.
func (l *DecisionLog) Get(id string) (*Decision, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.decisions[id]
	return d, ok
}

// ForTrace returns every decision recorded against traceID, oldest first.
func (l *DecisionLog) ForTrace(traceID string) []*Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.byTrace[traceID]
	out := make([]*Decision, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.decisions[id])
	}
	return out
}

// OptionFrequency summarizes how often each option label was selected for
// a given decision kind (decisions.py get_decision_patterns).
type OptionFrequency struct {
	Label string
	Count int
}

// SelectionPatterns returns the selected-option frequency distribution
// across every recorded decision of the given kind.
func (l *DecisionLog) SelectionPatterns(kind DecisionKind) []OptionFrequency {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[string]int)
	for _, d := range l.decisions {
		if d.Kind != kind || d.SelectedOptionID == "" {
			continue
		}
		label := d.SelectedOptionID
		for _, opt := range d.Options {
			if opt.ID == d.SelectedOptionID {
				label = opt.Label
				break
			}
		}
		counts[label]++
	}

	out := make([]OptionFrequency, 0, len(counts))
	for label, count := range counts {
		out = append(out, OptionFrequency{Label: label, Count: count})
	}
	return out
}
