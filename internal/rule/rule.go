// Package rule compiles small boolean expressions over decision events.
//
// Fields: id, decision, score, latency_ms, explanation (list of tokens) and
// features.<name>. Operators: == != > >= < <= contains matches, combined
// with AND, OR, NOT and parentheses.
package rule

import (
	"fmt"
	"strings"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
)

// Predicate is a compiled expression. It is immutable after Compile.
type Predicate struct {
	src   string
	expr  Expr
	regex *regexCache
}

// Compile parses src and checks that every referenced field exists.
func Compile(src string) (*Predicate, error) {
	expr, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	p := &Predicate{src: src, expr: expr, regex: &regexCache{}}
	if err := p.check(expr); err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return p, nil
}

// MustCompile is Compile for expressions known at build time.
func MustCompile(src string) *Predicate {
	p, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source expression.
func (p *Predicate) String() string { return p.src }

// Match evaluates the predicate against ev. A comparison against an absent
// feature is false, not an error.
func (p *Predicate) Match(ev event.DecisionEvent) (bool, error) {
	return p.eval(p.expr, ev)
}

func (p *Predicate) eval(e Expr, ev event.DecisionEvent) (bool, error) {
	switch n := e.(type) {
	case *Logical:
		left, err := p.eval(n.Left, ev)
		if err != nil {
			return false, err
		}
		if n.Op == "AND" && !left {
			return false, nil
		}
		if n.Op == "OR" && left {
			return true, nil
		}
		return p.eval(n.Right, ev)
	case *Not:
		v, err := p.eval(n.Inner, ev)
		return !v, err
	case *Comparison:
		val, ok := resolve(n.Field, ev)
		if !ok {
			return false, nil
		}
		return compare(n.Op, val, n.Value, p.regex)
	}
	return false, fmt.Errorf("unknown expression node %T", e)
}

// check validates field names and precompiles regex literals so Match never
// mutates the predicate.
func (p *Predicate) check(e Expr) error {
	switch n := e.(type) {
	case *Logical:
		if err := p.check(n.Left); err != nil {
			return err
		}
		return p.check(n.Right)
	case *Not:
		return p.check(n.Inner)
	case *Comparison:
		if !knownField(n.Field) {
			return fmt.Errorf("unknown field %q", n.Field)
		}
		if n.Op == OpMatches {
			pattern, ok := n.Value.(string)
			if !ok {
				return fmt.Errorf("matches: pattern must be a string")
			}
			if _, err := p.regex.compile(pattern); err != nil {
				return err
			}
		}
		if n.Field == "decision" && (n.Op == OpEq || n.Op == OpNeq) {
			s, ok := n.Value.(string)
			if !ok {
				return fmt.Errorf("decision must be compared with a string")
			}
			if _, err := event.ParseDecision(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func knownField(name string) bool {
	switch name {
	case "id", "decision", "score", "latency_ms", "explanation":
		return true
	}
	return strings.HasPrefix(name, "features.") && len(name) > len("features.")
}

func resolve(field string, ev event.DecisionEvent) (interface{}, bool) {
	switch field {
	case "id":
		return ev.ID, true
	case "decision":
		return string(ev.Decision), true
	case "score":
		return ev.Score, true
	case "latency_ms":
		return ev.LatencyMs, true
	case "explanation":
		return ev.Explanation, true
	}
	if name, ok := strings.CutPrefix(field, "features."); ok {
		v, ok := ev.Features[name]
		return v, ok
	}
	return nil, false
}
