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

package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CronExpr is a parsed five-field cron expression: minute hour day month
// weekday (§4.9, §6). A bespoke matcher, not robfig/cron/v3: spec.md §8
// states an exact quantified invariant (next_run(t) >= t+1m, one-year
// bound) that is easiest to guarantee with a small from-scratch matcher
// under direct test, per DESIGN.md's DOMAIN STACK note.
type CronExpr struct {
	minute, hour, day, month, weekday field
}

type field struct {
	any      bool
	allowed  map[int]bool
}

// ParseCron parses "minute hour day month weekday" supporting "*", "N",
// "N-M", "*/S" and "N,M,..." per field (§6).
func ParseCron(expr string) (*CronExpr, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(parts))
	}
	ranges := []struct{ lo, hi int }{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	fs := make([]field, 5)
	for i, p := range parts {
		f, err := parseField(p, ranges[i].lo, ranges[i].hi)
		if err != nil {
			return nil, fmt.Errorf("cron field %d: %w", i, err)
		}
		fs[i] = f
	}
	return &CronExpr{minute: fs[0], hour: fs[1], day: fs[2], month: fs[3], weekday: fs[4]}, nil
}

func parseField(p string, lo, hi int) (field, error) {
	if p == "*" {
		return field{any: true}, nil
	}
	allowed := make(map[int]bool)
	for _, token := range strings.Split(p, ",") {
		if strings.HasPrefix(token, "*/") {
			step, err := strconv.Atoi(token[2:])
			if err != nil || step <= 0 {
				return field{}, fmt.Errorf("invalid step %q", token)
			}
			for v := lo; v <= hi; v += step {
				allowed[v] = true
			}
			continue
		}
		if dash := strings.IndexByte(token, '-'); dash >= 0 {
			a, err1 := strconv.Atoi(token[:dash])
			b, err2 := strconv.Atoi(token[dash+1:])
			if err1 != nil || err2 != nil || a > b {
				return field{}, fmt.Errorf("invalid range %q", token)
			}
			for v := a; v <= b; v++ {
				allowed[v] = true
			}
			continue
		}
		v, err := strconv.Atoi(token)
		if err != nil {
			return field{}, fmt.Errorf("invalid value %q", token)
		}
		allowed[v] = true
	}
	return field{allowed: allowed}, nil
}

func (f field) matches(v int) bool {
	if f.any {
		return true
	}
	return f.allowed[v]
}

// Matches reports whether every field of the expression matches t (§4.9).
func (c *CronExpr) Matches(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.day.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.weekday.matches(int(t.Weekday()))
}

// NextRun returns the first minute-aligned time strictly after `after` that
// matches, scanning up to one year ahead (§4.9, §8: next_run(t) >= t+1m).
// Returns the zero time if nothing matches within the bound.
func (c *CronExpr) NextRun(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(1, 0, 0)
	for t.Before(limit) {
		if c.Matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

// ScheduleConfig is the opaque config of a SCHEDULE TriggerConfig (§4.9).
type ScheduleConfig struct {
	Expr              string
	RetryOnFailure    bool
	MaxRetries        int
	RetryDelaySeconds float64
}

// Schedule is the SCHEDULE/cron trigger. Start launches a sleep-until-
// next_run loop; Fire can also be invoked directly (e.g. by tests or a
// manual re-trigger).
type Schedule struct {
	base
	cfg  ScheduleConfig
	cron *CronExpr

	stop chan struct{}
	wg   sync.WaitGroup

	// now is overridable for deterministic tests; defaults to time.Now.
	now func() time.Time
	// sleep is overridable for deterministic tests.
	sleep func(time.Duration)
}

// NewSchedule constructs a Schedule trigger from a cron expression string.
func NewSchedule(tc Config, sc ScheduleConfig, disp Dispatcher) (*Schedule, error) {
	cron, err := ParseCron(sc.Expr)
	if err != nil {
		return nil, err
	}
	return &Schedule{
		base:  newBase(tc, disp),
		cfg:   sc,
		cron:  cron,
		now:   time.Now,
		sleep: time.Sleep,
	}, nil
}

// Start launches the background runner loop.
func (s *Schedule) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop halts the runner loop and waits for it to exit.
func (s *Schedule) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Schedule) run() {
	defer s.wg.Done()
	for {
		next := s.cron.NextRun(s.now())
		if next.IsZero() {
			return
		}
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		select {
		case <-s.stop:
			return
		case <-time.After(wait):
		}

		if !s.isLive() {
			continue
		}
		s.fireWithRetry()
	}
}

func (s *Schedule) fireWithRetry() {
	res := s.Fire(nil, map[string]any{"fired_at": s.now()})
	if res.Success || !s.cfg.RetryOnFailure {
		return
	}
	delay := time.Duration(s.cfg.RetryDelaySeconds * float64(time.Second))
	for i := 0; i < s.cfg.MaxRetries; i++ {
		s.sleep(delay)
		res = s.Fire(nil, map[string]any{"fired_at": s.now(), "retry": i + 1})
		if res.Success {
			return
		}
	}
}

// Fire dispatches the bound workflow directly (used by the runner loop and
// available for manual re-triggering).
func (s *Schedule) Fire(inputs, metadata map[string]any) Result {
	return s.dispatch(inputs, metadata)
}
