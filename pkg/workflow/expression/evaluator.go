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

// Package expression implements the Variable Resolver (spec §4.1):
// `${...}` interpolation and bare-expression evaluation over a variable
// scope, ~35 built-in functions, and the standard comparison/logical/
// membership operators. Grounded on pkg/workflow/expression/evaluator.go's
// expr-lang compile-and-cache pattern, generalized from a bool-only
// condition evaluator to a typed-value resolver, and on
// original_source/.../workflows/core/variables.py for the exact `${...}`
// delimiter and built-in function vocabulary.
package expression

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// exprPattern finds every ${...} substring for interpolation mode.
var exprPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Resolver evaluates ${...} expressions against a variable scope. It is
// safe for concurrent use; compiled programs are cached behind a RWMutex,
// mirroring the teacher's Evaluator.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New constructs an empty Resolver.
func New() *Resolver {
	return &Resolver{cache: make(map[string]*vm.Program)}
}

// ClearCache discards every compiled program.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*vm.Program)
}

// CacheSize reports the number of compiled programs currently cached.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Resolver) compile(src string) (*vm.Program, error) {
	r.mu.RLock()
	prog, ok := r.cache[src]
	r.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(src,
		expr.AllowUndefinedVariables(),
		expr.Env(map[string]any{}),
		builtinFunctionOptions()...,
	)
	if err != nil {
		return nil, fmt.Errorf("expression: compile %q: %w", src, err)
	}

	r.mu.Lock()
	r.cache[src] = prog
	r.mu.Unlock()
	return prog, nil
}

// Evaluate runs a bare ${...} expression (the `{` `}` delimiters already
// stripped by the caller) and returns the typed result. Evaluation is pure:
// scope is read-only from expr's perspective.
func (r *Resolver) Evaluate(src string, scope map[string]any) (any, error) {
	prog, err := r.compile(src)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(prog, toExprEnv(scope))
	if err != nil {
		return nil, fmt.Errorf("expression: evaluate %q: %w", src, err)
	}
	return out, nil
}

// EvaluateBool runs a condition expression and coerces the result to bool
// (used by Condition/Loop step handlers and alert condition evaluation).
func (r *Resolver) EvaluateBool(src string, scope map[string]any) (bool, error) {
	out, err := r.Evaluate(src, scope)
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

// Resolve implements the full surface of spec §4.1: if the whole input is a
// single ${...} expression, return its typed value; otherwise interpolate
// every ${...} occurrence into the string, stringifying each result in
// place. An undefined top-level name resolves to null (expr's
// AllowUndefinedVariables), as does a missing key of a map; member access
// on an undefined or null value (missing.field) is an evaluation error and
// is returned as one.
func (r *Resolver) Resolve(input string, scope map[string]any) (any, error) {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") && isSingleExpr(trimmed) {
		inner := trimmed[2 : len(trimmed)-1]
		return r.Evaluate(inner, scope)
	}
	if !strings.Contains(input, "${") {
		return input, nil
	}

	var evalErr error
	out := exprPattern.ReplaceAllStringFunc(input, func(match string) string {
		inner := match[2 : len(match)-1]
		val, err := r.Evaluate(inner, scope)
		if err != nil {
			evalErr = err
			return match
		}
		return stringify(val)
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return out, nil
}

// ResolveMap walks a map[string]any, resolving every string leaf. Used to
// resolve a step's whole config block against the current scope.
func (r *Resolver) ResolveMap(m map[string]any, scope map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		rv, err := r.resolveAny(v, scope)
		if err != nil {
			return nil, err
		}
		out[k] = rv
	}
	return out, nil
}

func (r *Resolver) resolveAny(v any, scope map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return r.Resolve(t, scope)
	case map[string]any:
		return r.ResolveMap(t, scope)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			rv, err := r.resolveAny(e, scope)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// isSingleExpr reports whether s (already confirmed to start with "${" and
// end with "}") contains exactly one top-level ${...} block, i.e. is not
// itself a template with trailing text after the first closing brace.
func isSingleExpr(s string) bool {
	depth := 0
	for i, r := range s {
		switch r {
		case '{':
			if i > 0 && s[i-1] == '$' {
				depth++
			}
		case '}':
			depth--
			if depth == 0 {
				return i == len(s)-1
			}
		}
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// toExprEnv returns scope as the expr environment, substituting an empty
// map for a nil scope; nested values are passed through unwrapped.
func toExprEnv(scope map[string]any) map[string]any {
	if scope == nil {
		return map[string]any{}
	}
	return scope
}
