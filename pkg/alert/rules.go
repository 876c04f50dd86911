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

// Package alert implements alert-rule condition evaluation, the
// OK/PENDING/FIRING/RESOLVED state machine, the evaluation engine, channel
// delivery, and incident correlation (§4.11). Grounded on
// original_source/.../dashboard/alerts/{rules,engine,channels,incidents}.py.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks an alert rule (§3).
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Operator compares a metric value to a threshold (rules.py ConditionOperator).
type Operator string

const (
	OpGreaterThan  Operator = "gt"
	OpLessThan     Operator = "lt"
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
	OpGreaterEqual Operator = "gte"
	OpLessEqual    Operator = "lte"
	OpAvgAbove     Operator = "avg_above"
	OpAvgBelow     Operator = "avg_below"
	OpSumAbove     Operator = "sum_above"
	OpRateAbove    Operator = "rate_above"
)

// State is a position in the alert state machine (§4.11).
type State string

const (
	StateOK       State = "ok"
	StatePending  State = "pending"
	StateFiring   State = "firing"
	StateResolved State = "resolved"
)

// Condition evaluates one metric reading against a threshold (§3).
type Condition struct {
	Metric      string
	Operator    Operator
	Threshold   float64
	MinDuration time.Duration
	Labels      map[string]string
}

// Evaluate reports whether value satisfies the condition's operator.
func (c Condition) Evaluate(value float64) bool {
	switch c.Operator {
	case OpGreaterThan, OpSumAbove, OpRateAbove:
		return value > c.Threshold
	case OpLessThan, OpAvgBelow:
		return value < c.Threshold
	case OpEqual:
		return value == c.Threshold
	case OpNotEqual:
		return value != c.Threshold
	case OpGreaterEqual:
		return value >= c.Threshold
	case OpLessEqual:
		return value <= c.Threshold
	case OpAvgAbove:
		return value > c.Threshold
	default:
		return false
	}
}

// Logic combines multiple conditions (rules.py condition_logic).
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Rule is an alert rule with its live state-machine position (§3).
type Rule struct {
	ID          string
	Name        string
	Description string

	Conditions []Condition
	Logic      Logic

	Severity Severity

	ChannelIDs []string

	Enabled            bool
	EvaluationInterval time.Duration

	SilencedUntil time.Time

	Summary    string
	RunbookURL string
	Labels     map[string]string

	State            State
	LastEvaluation   time.Time
	LastStateChange  time.Time
	FiringSince      time.Time
	pendingSince     time.Time
	consecutiveTicks int

	CreatedAt time.Time
	CreatedBy string
}

// NewRule constructs a Rule with an assigned id and OK initial state.
func NewRule(name string) *Rule {
	return &Rule{
		ID:                 uuid.NewString(),
		Name:               name,
		Logic:              LogicAnd,
		Severity:           SeverityWarning,
		Enabled:            true,
		EvaluationInterval: time.Minute,
		State:              StateOK,
		CreatedAt:          time.Now(),
	}
}

// IsSilenced reports whether the rule is currently silenced.
func (r *Rule) IsSilenced(now time.Time) bool {
	if r.SilencedUntil.IsZero() {
		return false
	}
	return now.Before(r.SilencedUntil)
}

// Silence suppresses evaluation until now+duration.
func (r *Rule) Silence(now time.Time, duration time.Duration) {
	r.SilencedUntil = now.Add(duration)
}

// Unsilence removes any active silence.
func (r *Rule) Unsilence() {
	r.SilencedUntil = time.Time{}
}

// Evaluate combines per-condition results with the rule's logic. A missing
// metric value counts as a false condition (rules.py Rule.evaluate).
func (r *Rule) Evaluate(values map[string]float64) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	results := make([]bool, len(r.Conditions))
	for i, c := range r.Conditions {
		v, ok := values[c.Metric]
		if !ok {
			results[i] = false
			continue
		}
		results[i] = c.Evaluate(v)
	}
	if r.Logic == LogicOr {
		for _, v := range results {
			if v {
				return true
			}
		}
		return false
	}
	for _, v := range results {
		if !v {
			return false
		}
	}
	return true
}

// minTicks returns the longest of the rule's declared per-condition min
// durations, expressed in evaluation ticks (a zero min-duration fires
// immediately on the next tick, matching the reference's one-tick PENDING
// transition when no duration is declared).
func (r *Rule) minTicks() int {
	var longest time.Duration
	for _, c := range r.Conditions {
		if c.MinDuration > longest {
			longest = c.MinDuration
		}
	}
	if longest <= 0 || r.EvaluationInterval <= 0 {
		return 1
	}
	ticks := int(longest / r.EvaluationInterval)
	if ticks < 1 {
		ticks = 1
	}
	return ticks
}

// UpdateState advances the OK→PENDING→FIRING→RESOLVED state machine one
// tick (§4.11). Diverges from the reference's immediate PENDING→FIRING by
// requiring consecutive firing ticks ≥ the rule's min-duration before
// declaring FIRING (spec.md's explicit invariant, §8 scenario 6).
func (r *Rule) UpdateState(now time.Time, isFiring bool) bool {
	r.LastEvaluation = now
	old := r.State

	if isFiring {
		switch r.State {
		case StateOK, StateResolved:
			r.State = StatePending
			r.pendingSince = now
			r.consecutiveTicks = 1
		case StatePending:
			r.consecutiveTicks++
			if r.consecutiveTicks >= r.minTicks() {
				r.State = StateFiring
				r.FiringSince = now
			}
		case StateFiring:
			// already firing
		}
	} else {
		switch r.State {
		case StateFiring, StatePending:
			r.State = StateResolved
			r.FiringSince = time.Time{}
			r.consecutiveTicks = 0
		case StateResolved:
			r.State = StateOK
		}
	}

	if r.State != old {
		r.LastStateChange = now
		return true
	}
	return false
}
