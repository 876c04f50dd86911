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

package expression

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

// builtinFunctionOptions returns the ~35 built-in functions named in
// spec.md §4.1 (string/numeric/date/collection/type helpers) as expr.Option
// values. The vocabulary is grounded on
// original_source/.../workflows/core/variables.py's BUILTIN_FUNCTIONS dict,
// cross-checked against the teacher's own Go-template helper set in the
// (now superseded) pkg/workflow/template_funcs.go.
func builtinFunctionOptions() []expr.Option {
	return []expr.Option{
		// String
		expr.Function("upper", func(params ...any) (any, error) { return strings.ToUpper(asString(params[0])), nil }),
		expr.Function("lower", func(params ...any) (any, error) { return strings.ToLower(asString(params[0])), nil }),
		expr.Function("trim", func(params ...any) (any, error) { return strings.TrimSpace(asString(params[0])), nil }),
		expr.Function("len", func(params ...any) (any, error) { return lengthOf(params[0]), nil }),
		expr.Function("substr", func(params ...any) (any, error) { return substr(params) }),
		expr.Function("replace", func(params ...any) (any, error) {
			return strings.ReplaceAll(asString(params[0]), asString(params[1]), asString(params[2])), nil
		}),
		expr.Function("split", func(params ...any) (any, error) {
			sep := " "
			if len(params) > 1 {
				sep = asString(params[1])
			}
			parts := strings.Split(asString(params[0]), sep)
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return out, nil
		}),
		expr.Function("join", func(params ...any) (any, error) {
			sep := ", "
			if len(params) > 1 {
				sep = asString(params[1])
			}
			return strings.Join(toStringSlice(params[0]), sep), nil
		}),

		// Numeric
		expr.Function("int", func(params ...any) (any, error) { return asInt(params[0]), nil }),
		expr.Function("float", func(params ...any) (any, error) { return asFloat(params[0]), nil }),
		expr.Function("abs", func(params ...any) (any, error) {
			v := asFloat(params[0])
			if v < 0 {
				return -v, nil
			}
			return v, nil
		}),
		expr.Function("round", func(params ...any) (any, error) { return roundTo(params) }),
		expr.Function("min", func(params ...any) (any, error) { return minMax(params, true) }),
		expr.Function("max", func(params ...any) (any, error) { return minMax(params, false) }),
		expr.Function("sum", func(params ...any) (any, error) {
			total := 0.0
			for _, v := range toAnySlice(params[0]) {
				total += asFloat(v)
			}
			return total, nil
		}),

		// Date/Time
		expr.Function("now", func(params ...any) (any, error) { return time.Now().Format(time.RFC3339), nil }),
		expr.Function("today", func(params ...any) (any, error) { return time.Now().Format("2006-01-02"), nil }),
		expr.Function("timestamp", func(params ...any) (any, error) { return time.Now().Unix(), nil }),
		expr.Function("format_date", func(params ...any) (any, error) { return formatDate(params) }),

		// JSON
		expr.Function("json_parse", func(params ...any) (any, error) {
			var v any
			err := json.Unmarshal([]byte(asString(params[0])), &v)
			return v, err
		}),
		expr.Function("json_dump", func(params ...any) (any, error) {
			b, err := json.Marshal(params[0])
			return string(b), err
		}),

		// Collections
		expr.Function("first", func(params ...any) (any, error) {
			items := toAnySlice(params[0])
			if len(items) == 0 {
				return nil, nil
			}
			return items[0], nil
		}),
		expr.Function("last", func(params ...any) (any, error) {
			items := toAnySlice(params[0])
			if len(items) == 0 {
				return nil, nil
			}
			return items[len(items)-1], nil
		}),
		expr.Function("unique", func(params ...any) (any, error) { return unique(toAnySlice(params[0])), nil }),
		expr.Function("sort", func(params ...any) (any, error) { return sortSlice(toAnySlice(params[0])), nil }),
		expr.Function("reverse", func(params ...any) (any, error) { return reverseSlice(toAnySlice(params[0])), nil }),
		expr.Function("filter_empty", func(params ...any) (any, error) {
			var out []any
			for _, v := range toAnySlice(params[0]) {
				if truthy(v) {
					out = append(out, v)
				}
			}
			if out == nil {
				out = []any{}
			}
			return out, nil
		}),

		// Type
		expr.Function("type", func(params ...any) (any, error) { return fmt.Sprintf("%T", params[0]), nil }),
		expr.Function("str", func(params ...any) (any, error) { return stringify(params[0]), nil }),
		expr.Function("bool", func(params ...any) (any, error) { return truthy(params[0]), nil }),
		expr.Function("default", func(params ...any) (any, error) {
			if params[0] == nil {
				return params[1], nil
			}
			return params[0], nil
		}),
		expr.Function("coalesce", func(params ...any) (any, error) {
			for _, p := range params {
				if p != nil {
					return p, nil
				}
			}
			return nil, nil
		}),
	}
}

func asString(v any) string { return stringify(v) }

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	default:
		return 0
	}
}

func lengthOf(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	default:
		return 0
	}
}

func substr(params []any) (any, error) {
	s := []rune(asString(params[0]))
	start := int(asInt(params[1]))
	end := len(s)
	if len(params) > 2 && params[2] != nil {
		end = int(asInt(params[2]))
	}
	if start < 0 {
		start = 0
	}
	if end > len(s) {
		end = len(s)
	}
	if start > end {
		return "", nil
	}
	return string(s[start:end]), nil
}

func roundTo(params []any) (any, error) {
	v := asFloat(params[0])
	n := 0
	if len(params) > 1 {
		n = int(asInt(params[1]))
	}
	mult := 1.0
	for i := 0; i < n; i++ {
		mult *= 10
	}
	return float64(int64(v*mult+sign(v)*0.5)) / mult, nil
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func minMax(params []any, wantMin bool) (any, error) {
	var vals []float64
	if len(params) == 1 {
		for _, v := range toAnySlice(params[0]) {
			vals = append(vals, asFloat(v))
		}
	} else {
		for _, v := range params {
			vals = append(vals, asFloat(v))
		}
	}
	if len(vals) == 0 {
		return nil, nil
	}
	best := vals[0]
	for _, v := range vals[1:] {
		if (wantMin && v < best) || (!wantMin && v > best) {
			best = v
		}
	}
	return best, nil
}

func formatDate(params []any) (any, error) {
	layout := "2006-01-02"
	if len(params) > 1 {
		layout = pyToGoLayout(asString(params[1]))
	}
	t, err := time.Parse(time.RFC3339, asString(params[0]))
	if err != nil {
		t, err = time.Parse("2006-01-02", asString(params[0]))
		if err != nil {
			return asString(params[0]), nil
		}
	}
	return t.Format(layout), nil
}

// pyToGoLayout converts the handful of strftime directives the reference
// implementation uses into Go's reference-time layout.
func pyToGoLayout(pyFmt string) string {
	r := strings.NewReplacer(
		"%Y", "2006", "%m", "01", "%d", "02",
		"%H", "15", "%M", "04", "%S", "05",
	)
	return r.Replace(pyFmt)
}

func toAnySlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return nil
	default:
		return []any{t}
	}
}

func toStringSlice(v any) []string {
	items := toAnySlice(v)
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = stringify(it)
	}
	return out
}

func unique(items []any) []any {
	seen := make(map[string]bool, len(items))
	var out []any
	for _, v := range items {
		key := stringify(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	if out == nil {
		out = []any{}
	}
	return out
}

func sortSlice(items []any) []any {
	out := append([]any{}, items...)
	sort.Slice(out, func(i, j int) bool {
		if isNumeric(out[i]) && isNumeric(out[j]) {
			return asFloat(out[i]) < asFloat(out[j])
		}
		return stringify(out[i]) < stringify(out[j])
	})
	return out
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int64, float64:
		return true
	default:
		return false
	}
}

func reverseSlice(items []any) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[len(items)-1-i] = v
	}
	return out
}
