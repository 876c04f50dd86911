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

package metrics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeRange bounds a query (§4.10).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Last builds a TimeRange covering the last duration up to now.
func Last(duration string) (TimeRange, error) {
	d, err := ParseInterval(duration)
	if err != nil {
		return TimeRange{}, err
	}
	now := time.Now()
	return TimeRange{Start: now.Add(-d), End: now}, nil
}

// QueryResult is the PromQL-subset evaluation outcome (§4.10, §6).
type QueryResult struct {
	Data            []AggregatedPoint `json:"data,omitempty"`
	Metric          string            `json:"metric,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
	ExecutionTimeMs float64           `json:"execution_time_ms"`
	PointsScanned   int               `json:"points_scanned"`
	Scalar          *float64          `json:"scalar,omitempty"`
	LabelValues     []string          `json:"label_values,omitempty"`
	Error           string            `json:"error,omitempty"`
}

var (
	metricPattern = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_]*)`)
	labelsPattern = regexp.MustCompile(`\{([^}]*)\}`)
	funcPattern   = regexp.MustCompile(`^(\w+)\((.*)\)$`)
	rangePattern  = regexp.MustCompile(`\[(\d+[smhdwM])\]`)
)

type parsedQuery struct {
	metric   string
	labels   map[string]string
	function string
	args     []string
	rng      string
}

// parseQuery parses the PromQL subset named in §4.10: a bare metric with
// optional {label="value"} selector and [Nd] range suffix, or a unary
// function call wrapping one of those.
func parseQuery(query string) parsedQuery {
	query = strings.TrimSpace(query)
	var out parsedQuery

	if m := funcPattern.FindStringSubmatch(query); m != nil {
		out.function = m[1]
		inner := m[2]
		out.args = splitArgs(inner)
		if len(out.args) > 0 {
			innerParsed := parseQuery(out.args[0])
			out.metric = innerParsed.metric
			out.labels = innerParsed.labels
			out.rng = innerParsed.rng
		}
		return out
	}

	if m := metricPattern.FindStringSubmatch(query); m != nil {
		out.metric = m[1]
	}
	if m := labelsPattern.FindStringSubmatch(query); m != nil {
		out.labels = parseLabels(m[1])
	}
	if m := rangePattern.FindStringSubmatch(query); m != nil {
		out.rng = m[1]
	}
	return out
}

func parseLabels(s string) map[string]string {
	labels := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"'`)
		labels[key] = val
	}
	return labels
}

func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(cur.String()))
				cur.Reset()
				continue
			}
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
		cur.WriteRune(r)
	}
	if strings.TrimSpace(cur.String()) != "" {
		args = append(args, strings.TrimSpace(cur.String()))
	}
	return args
}

// Engine evaluates parsed queries against a Storage (§4.10). Grounded on
// queries.py's QueryEngine/QueryParser.
type Engine struct {
	storage *Storage
	now     func() time.Time
}

// NewEngine constructs a query Engine over storage.
func NewEngine(storage *Storage) *Engine {
	return &Engine{storage: storage, now: time.Now}
}

// Execute parses and evaluates query over the optional time range (default:
// last 1h, §4.10).
func (e *Engine) Execute(query string, tr *TimeRange) QueryResult {
	start := e.now()
	defer func() {}()

	parsed := parseQuery(query)
	if parsed.metric == "" {
		return QueryResult{Error: "no metric specified"}
	}

	rng := tr
	if rng == nil {
		r, _ := Last("1h")
		rng = &r
	}

	points := e.storage.Read(parsed.metric, rng.Start, rng.End, parsed.labels, 0)

	var result QueryResult
	if parsed.function != "" {
		result = e.applyFunction(parsed.function, points, parsed.args, *rng, parsed.metric)
	} else {
		agg := make([]AggregatedPoint, len(points))
		for i, p := range points {
			agg[i] = AggregatedPoint{Timestamp: p.Timestamp, Value: p.Value, Count: 1}
		}
		result = QueryResult{Data: agg, Metric: parsed.metric, Labels: parsed.labels, PointsScanned: len(points)}
	}

	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return result
}

func scalarResult(v float64, scanned int) QueryResult {
	return QueryResult{Scalar: &v, PointsScanned: scanned}
}

func (e *Engine) applyFunction(name string, points []Point, args []string, rng TimeRange, metric string) QueryResult {
	switch name {
	case "sum":
		if len(points) == 0 {
			return scalarResult(0, 0)
		}
		var total float64
		for _, p := range points {
			total += p.Value
		}
		return scalarResult(total, len(points))
	case "avg":
		if len(points) == 0 {
			return scalarResult(0, 0)
		}
		var total float64
		for _, p := range points {
			total += p.Value
		}
		return scalarResult(total/float64(len(points)), len(points))
	case "min":
		if len(points) == 0 {
			return scalarResult(0, 0)
		}
		m := points[0].Value
		for _, p := range points[1:] {
			if p.Value < m {
				m = p.Value
			}
		}
		return scalarResult(m, len(points))
	case "max":
		if len(points) == 0 {
			return scalarResult(0, 0)
		}
		m := points[0].Value
		for _, p := range points[1:] {
			if p.Value > m {
				m = p.Value
			}
		}
		return scalarResult(m, len(points))
	case "count":
		return scalarResult(float64(len(points)), len(points))
	case "delta":
		if len(points) < 2 {
			return scalarResult(0, len(points))
		}
		return scalarResult(points[len(points)-1].Value-points[0].Value, len(points))
	case "increase":
		if len(points) < 2 {
			return scalarResult(0, len(points))
		}
		d := points[len(points)-1].Value - points[0].Value
		if d < 0 {
			d = 0
		}
		return scalarResult(d, len(points))
	case "rate":
		return e.rate(points, rng, false)
	case "irate":
		return e.rate(points, rng, true)
	case "absent":
		if len(points) == 0 {
			return scalarResult(1, 0)
		}
		return scalarResult(0, len(points))
	case "histogram_quantile":
		return e.histogramQuantile(args, points)
	case "label_values":
		return e.labelValues(args, metric)
	default:
		return QueryResult{Error: fmt.Sprintf("unknown function: %s", name)}
	}
}

// rate computes per-second average rate of increase over the range
// (irate uses only the last two points, matching PromQL's distinction).
func (e *Engine) rate(points []Point, rng TimeRange, instant bool) QueryResult {
	if len(points) < 2 {
		return scalarResult(0, len(points))
	}
	if instant {
		last := points[len(points)-1]
		prev := points[len(points)-2]
		secs := last.Timestamp.Sub(prev.Timestamp).Seconds()
		if secs <= 0 {
			return scalarResult(0, len(points))
		}
		return scalarResult((last.Value-prev.Value)/secs, len(points))
	}
	first, last := points[0], points[len(points)-1]
	secs := last.Timestamp.Sub(first.Timestamp).Seconds()
	if secs <= 0 {
		return scalarResult(0, len(points))
	}
	return scalarResult((last.Value-first.Value)/secs, len(points))
}

func (e *Engine) histogramQuantile(args []string, points []Point) QueryResult {
	if len(args) < 1 {
		return QueryResult{Error: "histogram_quantile requires a quantile argument"}
	}
	q, err := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
	if err != nil {
		return QueryResult{Error: "invalid quantile: " + args[0]}
	}
	if len(points) == 0 {
		return scalarResult(0, 0)
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return scalarResult(percentile(values, int(q*100)), len(points))
}

func (e *Engine) labelValues(args []string, metric string) QueryResult {
	if len(args) < 2 {
		return QueryResult{Error: "label_values requires (expr, \"label\")"}
	}
	label := strings.Trim(strings.TrimSpace(args[1]), `"'`)
	return QueryResult{LabelValues: e.storage.ListLabelValues(label, metric)}
}
