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

// Package metrics implements metric ingest, tiered-retention storage,
// bucket aggregation, and a PromQL-subset query engine (§4.10). Grounded on
// original_source/.../dashboard/metrics/{collector,storage,aggregator,
// queries}.py.
package metrics

import "time"

// Kind is the declared shape of a Metric (§3).
type Kind string

const (
	KindCounter   Kind = "COUNTER"
	KindGauge     Kind = "GAUGE"
	KindHistogram Kind = "HISTOGRAM"
	KindSummary   Kind = "SUMMARY"
)

// Point is one observation: (timestamp, value, label-value map) (§3).
type Point struct {
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Metric is the declared identity of a time series (§3).
type Metric struct {
	Name        string   `json:"name"`
	Kind        Kind     `json:"kind"`
	Description string   `json:"description,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	LabelKeys   []string `json:"label_keys,omitempty"`
}
