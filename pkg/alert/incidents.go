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

package alert

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IncidentStatus tracks an incident's lifecycle (incidents.py IncidentStatus).
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentAcknowledged  IncidentStatus = "acknowledged"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentIdentified    IncidentStatus = "identified"
	IncidentMonitoring    IncidentStatus = "monitoring"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentClosed        IncidentStatus = "closed"
)

// IncidentSeverity ranks incident impact (incidents.py IncidentSeverity).
type IncidentSeverity string

const (
	Sev1 IncidentSeverity = "sev1"
	Sev2 IncidentSeverity = "sev2"
	Sev3 IncidentSeverity = "sev3"
	Sev4 IncidentSeverity = "sev4"
)

// IncidentUpdate is one timeline entry on an Incident.
type IncidentUpdate struct {
	ID           string
	Timestamp    time.Time
	Author       string
	Message      string
	StatusChange IncidentStatus
}

// Incident groups one or more correlated firing alerts (§"Incident
// correlation" supplement). Grounded on incidents.py's Incident.
type Incident struct {
	ID string

	Title       string
	Description string

	AlertRuleIDs []string

	Severity IncidentSeverity
	Status   IncidentStatus

	ImpactedServices []string
	Owner            string
	Responders       []string

	Updates []IncidentUpdate

	CreatedAt      time.Time
	AcknowledgedAt time.Time
	ResolvedAt     time.Time
	ClosedAt       time.Time

	RootCause  string
	Resolution string
	Labels     map[string]string
}

// Duration returns how long the incident has been (or was) open.
func (i *Incident) Duration(now time.Time) time.Duration {
	if !i.ResolvedAt.IsZero() {
		return i.ResolvedAt.Sub(i.CreatedAt)
	}
	return now.Sub(i.CreatedAt)
}

// Acknowledge transitions the incident to ACKNOWLEDGED and records the
// responder.
func (i *Incident) Acknowledge(now time.Time, user string) {
	i.Status = IncidentAcknowledged
	i.AcknowledgedAt = now
	i.Responders = append(i.Responders, user)
	i.Updates = append(i.Updates, IncidentUpdate{
		ID: uuid.NewString(), Timestamp: now, Author: user,
		Message: "incident acknowledged", StatusChange: IncidentAcknowledged,
	})
}

// UpdateStatus transitions the incident's status, stamping resolved/closed
// timestamps on first entry into those states.
func (i *Incident) UpdateStatus(now time.Time, status IncidentStatus, user, message string) {
	old := i.Status
	i.Status = status
	if status == IncidentResolved && i.ResolvedAt.IsZero() {
		i.ResolvedAt = now
	} else if status == IncidentClosed && i.ClosedAt.IsZero() {
		i.ClosedAt = now
	}
	if message == "" {
		message = string(old) + " -> " + string(status)
	}
	i.Updates = append(i.Updates, IncidentUpdate{
		ID: uuid.NewString(), Timestamp: now, Author: user,
		Message: message, StatusChange: status,
	})
}

// AddUpdate appends a freeform timeline entry without a status change.
func (i *Incident) AddUpdate(now time.Time, user, message string) {
	i.Updates = append(i.Updates, IncidentUpdate{ID: uuid.NewString(), Timestamp: now, Author: user, Message: message})
}

// Resolve marks the incident RESOLVED with the given resolution note.
func (i *Incident) Resolve(now time.Time, user, resolution string) {
	i.Resolution = resolution
	i.UpdateStatus(now, IncidentResolved, user, resolution)
}

// IncidentManager owns the set of tracked incidents (incidents.py IncidentManager).
type IncidentManager struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
}

// NewIncidentManager constructs an empty incident IncidentManager.
func NewIncidentManager() *IncidentManager {
	return &IncidentManager{incidents: make(map[string]*Incident)}
}

// Create opens a new incident.
func (m *IncidentManager) Create(now time.Time, title, description string, severity IncidentSeverity, alertRuleIDs []string) *Incident {
	inc := &Incident{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		Severity:     severity,
		Status:       IncidentOpen,
		AlertRuleIDs: append([]string{}, alertRuleIDs...),
		CreatedAt:    now,
	}
	m.mu.Lock()
	m.incidents[inc.ID] = inc
	m.mu.Unlock()
	return inc
}

// Get returns an incident by id.
func (m *IncidentManager) Get(id string) (*Incident, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.incidents[id]
	return i, ok
}

// List returns incidents optionally filtered by status/severity, newest
// first, capped at limit.
func (m *IncidentManager) List(status IncidentStatus, severity IncidentSeverity, limit int) []*Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Incident, 0, len(m.incidents))
	for _, i := range m.incidents {
		if status != "" && i.Status != status {
			continue
		}
		if severity != "" && i.Severity != severity {
			continue
		}
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetOpen returns every incident not RESOLVED or CLOSED.
func (m *IncidentManager) GetOpen() []*Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Incident
	for _, i := range m.incidents {
		if i.Status != IncidentResolved && i.Status != IncidentClosed {
			out = append(out, i)
		}
	}
	return out
}

// Correlator groups firing AlertEvents into incidents when they share the
// value of one correlation label (§"Incident correlation" supplement). It
// rides on top of the alert engine's event stream without altering the Rule
// state machine. The configured window is stored but not applied: grouping
// depends on the label value alone, not on when the events arrive.
type Correlator struct {
	mu               sync.Mutex
	manager          *IncidentManager
	window           time.Duration
	correlationLabel string
	openByLabel      map[string]string // label value -> incident id
}

// NewCorrelator builds a Correlator that opens incidents on FIRING events
// sharing correlationLabel's value, and resolves an incident on the first
// RESOLVED event carrying that label value.
func NewCorrelator(manager *IncidentManager, window time.Duration, correlationLabel string) *Correlator {
	return &Correlator{
		manager:          manager,
		window:           window,
		correlationLabel: correlationLabel,
		openByLabel:      make(map[string]string),
	}
}

// Observe feeds one alert Event into the correlator, opening or extending
// an incident on FIRING and resolving it on the first RESOLVED event for
// its label value. Member alerts that are still firing do not keep the
// incident open.
func (c *Correlator) Observe(now time.Time, ev Event) *Incident {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := ev.Labels[c.correlationLabel]
	switch ev.State {
	case StateFiring:
		if id, ok := c.openByLabel[key]; ok {
			if inc, found := c.manager.Get(id); found {
				if !contains(inc.AlertRuleIDs, ev.RuleID) {
					inc.AlertRuleIDs = append(inc.AlertRuleIDs, ev.RuleID)
				}
				return inc
			}
		}
		inc := c.manager.Create(now, ev.RuleName, "correlated alert group", Sev3, []string{ev.RuleID})
		inc.Labels = map[string]string{c.correlationLabel: key}
		c.openByLabel[key] = inc.ID
		return inc
	case StateResolved:
		id, ok := c.openByLabel[key]
		if !ok {
			return nil
		}
		inc, found := c.manager.Get(id)
		if !found {
			return nil
		}
		inc.Resolve(now, "system", "all member alerts resolved")
		delete(c.openByLabel, key)
		return inc
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// GetStats summarizes incident counts by status/severity for dashboards.
type Stats struct {
	Total                 int
	Open                  int
	Acknowledged          int
	Resolved              int
	AvgResolutionDuration time.Duration
	BySeverity            map[IncidentSeverity]int
}

func (m *IncidentManager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{BySeverity: map[IncidentSeverity]int{Sev1: 0, Sev2: 0, Sev3: 0, Sev4: 0}}
	var totalResolution time.Duration
	var resolvedCount int
	for _, i := range m.incidents {
		st.Total++
		if i.Status == IncidentOpen {
			st.Open++
		}
		if i.Status == IncidentAcknowledged {
			st.Acknowledged++
		}
		if !i.ResolvedAt.IsZero() {
			st.Resolved++
			resolvedCount++
			totalResolution += i.ResolvedAt.Sub(i.CreatedAt)
		}
		st.BySeverity[i.Severity]++
	}
	if resolvedCount > 0 {
		st.AvgResolutionDuration = totalResolution / time.Duration(resolvedCount)
	}
	return st
}
