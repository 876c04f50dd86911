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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// VersionHistoryCap bounds the per-workflow version history (SPEC_FULL §4.16).
const VersionHistoryCap = 50

// VersionRecord is one entry in a workflow's version history.
type VersionRecord struct {
	Version    string              `json:"version"`
	Definition WorkflowDefinition  `json:"definition_snapshot"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Registry is the CRUD + validation store for workflow definitions (§4.7).
// Grounded on pkg/workflow/store.go's in-memory-map + mutex pattern and
// original_source/.../workflows/core/registry.py.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*WorkflowDefinition
	history     map[string][]VersionRecord
	persistPath string
}

// NewRegistry constructs an empty in-memory registry. If persistPath is
// non-empty, Load reads from it and Save writes to it (§4.7 "optional
// persistence: JSON dump").
func NewRegistry(persistPath string) *Registry {
	return &Registry{
		definitions: make(map[string]*WorkflowDefinition),
		history:     make(map[string][]VersionRecord),
		persistPath: persistPath,
	}
}

// Register validates and stores a definition. If a definition with the same
// id already exists, the previous one is preserved in the version history
// and the new one's patch component is bumped (§4.7). Re-registering a
// byte-identical definition is a no-op on the version (§8 idempotence); a
// definition without a version is compared as if it carried the stored one.
func (r *Registry) Register(def *WorkflowDefinition, validate bool) error {
	if validate {
		if reasons := Validate(def); len(reasons) > 0 {
			return ErrDefinitionInvalid(def.ID, reasons)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.definitions[def.ID]
	if ok && definitionsEqual(existing, def) {
		return nil
	}

	if ok {
		r.appendHistory(existing)
		def.Version = bumpPatch(existing.Version)
	} else if def.Version == "" {
		def.Version = "0.1.0"
	}

	cp := *def
	r.definitions[def.ID] = &cp
	return nil
}

// DefinitionFromYAML parses a workflow definition document written as YAML
// (§6: workflow sources may be authored in YAML or JSON). YAML is a JSON
// superset for the struct tags involved, so the two source formats decode
// into the identical WorkflowDefinition shape.
func DefinitionFromYAML(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("workflow: parse yaml definition: %w", err)
	}
	return &def, nil
}

// RegisterFromYAML decodes a YAML workflow source and registers it,
// alongside Register's JSON-struct-literal path (§6).
func (r *Registry) RegisterFromYAML(data []byte, validate bool) error {
	def, err := DefinitionFromYAML(data)
	if err != nil {
		return err
	}
	return r.Register(def, validate)
}

func (r *Registry) appendHistory(def *WorkflowDefinition) {
	rec := VersionRecord{Version: def.Version, Definition: *def, CreatedAt: time.Now()}
	list := append(r.history[def.ID], rec)
	if len(list) > VersionHistoryCap {
		list = list[len(list)-VersionHistoryCap:]
	}
	r.history[def.ID] = list
}

func definitionsEqual(a, b *WorkflowDefinition) bool {
	bc := *b
	if bc.Version == "" {
		bc.Version = a.Version
	}
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(&bc)
	return string(ab) == string(bb)
}

// parseVersion splits "M.m.p" into its three integer components.
func parseVersion(v string) (int, int, int) {
	parts := strings.SplitN(v, ".", 3)
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	maj, _ := strconv.Atoi(parts[0])
	min, _ := strconv.Atoi(parts[1])
	pat, _ := strconv.Atoi(parts[2])
	return maj, min, pat
}

func bumpPatch(v string) string {
	maj, min, pat := parseVersion(v)
	return fmt.Sprintf("%d.%d.%d", maj, min, pat+1)
}

// Get returns the definition for id, and whether it exists.
func (r *Registry) Get(id string) (*WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[id]
	if !ok {
		return nil, false
	}
	cp := *def
	return &cp, true
}

// List returns every registered definition.
func (r *Registry) List() []*WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*WorkflowDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		cp := *def
		out = append(out, &cp)
	}
	return out
}

// Remove deletes a definition by id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.definitions, id)
}

// History returns the version history for a workflow id, oldest first.
func (r *Registry) History(id string) []VersionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]VersionRecord{}, r.history[id]...)
}

type persistedRegistry struct {
	Definitions []*WorkflowDefinition `json:"definitions"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Save writes every definition to persistPath as a JSON dump (§4.7).
func (r *Registry) Save() error {
	if r.persistPath == "" {
		return nil
	}
	r.mu.RLock()
	doc := persistedRegistry{UpdatedAt: time.Now()}
	for _, def := range r.definitions {
		cp := *def
		doc.Definitions = append(doc.Definitions, &cp)
	}
	r.mu.RUnlock()

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.persistPath, b, 0o600)
}

// Load populates the in-memory map from persistPath, if set and present.
func (r *Registry) Load() error {
	if r.persistPath == "" {
		return nil
	}
	b, err := os.ReadFile(r.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc persistedRegistry
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, def := range doc.Definitions {
		r.definitions[def.ID] = def
	}
	return nil
}

// DefinitionDiff is the field-level change list Diff computes between two
// definitions (SPEC_FULL §4.16).
type DefinitionDiff struct {
	AddedSteps   []string
	RemovedSteps []string
	ChangedSteps []string
	FieldsChanged []string
}

// Diff compares a to b by step id and top-level field.
func Diff(a, b *WorkflowDefinition) DefinitionDiff {
	var d DefinitionDiff
	aSteps := make(map[string]WorkflowStep, len(a.Steps))
	for _, s := range a.Steps {
		aSteps[s.ID] = s
	}
	bSteps := make(map[string]WorkflowStep, len(b.Steps))
	for _, s := range b.Steps {
		bSteps[s.ID] = s
	}
	for id, bs := range bSteps {
		as, ok := aSteps[id]
		if !ok {
			d.AddedSteps = append(d.AddedSteps, id)
			continue
		}
		if fmt.Sprintf("%v", as) != fmt.Sprintf("%v", bs) {
			d.ChangedSteps = append(d.ChangedSteps, id)
		}
	}
	for id := range aSteps {
		if _, ok := bSteps[id]; !ok {
			d.RemovedSteps = append(d.RemovedSteps, id)
		}
	}
	if a.Name != b.Name {
		d.FieldsChanged = append(d.FieldsChanged, "name")
	}
	if a.Description != b.Description {
		d.FieldsChanged = append(d.FieldsChanged, "description")
	}
	if a.StartStep != b.StartStep {
		d.FieldsChanged = append(d.FieldsChanged, "start_step")
	}
	return d
}
