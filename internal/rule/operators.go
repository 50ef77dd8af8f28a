package rule

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
)

// flip mirrors an operator so `0.9 <= score` can be stored as `score >= 0.9`.
func (op Operator) flip() (Operator, bool) {
	switch op {
	case OpEq, OpNeq:
		return op, true
	case OpGt:
		return OpLt, true
	case OpGte:
		return OpLte, true
	case OpLt:
		return OpGt, true
	case OpLte:
		return OpGte, true
	}
	return "", false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// compare applies op to a resolved field value and a literal.
func compare(op Operator, field, lit interface{}, cache *regexCache) (bool, error) {
	switch op {
	case OpEq:
		return equal(field, lit), nil
	case OpNeq:
		return !equal(field, lit), nil
	case OpGt, OpGte, OpLt, OpLte:
		l, lok := asFloat(field)
		r, rok := asFloat(lit)
		if !lok || !rok {
			return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, field, lit)
		}
		switch op {
		case OpGt:
			return l > r, nil
		case OpGte:
			return l >= r, nil
		case OpLt:
			return l < r, nil
		default:
			return l <= r, nil
		}
	case OpContains:
		needle := fmt.Sprintf("%v", lit)
		switch f := field.(type) {
		case string:
			return strings.Contains(f, needle), nil
		case []string:
			for _, s := range f {
				if s == needle {
					return true, nil
				}
			}
			return false, nil
		}
		return false, fmt.Errorf("contains: field must be a string or list, got %T", field)
	case OpMatches:
		s, ok := field.(string)
		if !ok {
			return false, fmt.Errorf("matches: field must be a string, got %T", field)
		}
		pattern, ok := lit.(string)
		if !ok {
			return false, fmt.Errorf("matches: pattern must be a string, got %T", lit)
		}
		re, err := cache.compile(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(s), nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func equal(field, lit interface{}) bool {
	if l, ok := asFloat(field); ok {
		if r, ok := asFloat(lit); ok {
			return math.Abs(l-r) < 1e-9
		}
		return false
	}
	if lb, ok := field.(bool); ok {
		rb, ok := lit.(bool)
		return ok && lb == rb
	}
	// Decisions are stored upper-case; compare strings case-insensitively so
	// `decision == "reject"` works.
	return strings.EqualFold(fmt.Sprintf("%v", field), fmt.Sprintf("%v", lit))
}

// regexCache compiles each pattern once per predicate.
type regexCache struct {
	compiled map[string]*regexp.Regexp
}

func (c *regexCache) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("matches: invalid regex %q: %w", pattern, err)
	}
	if c.compiled == nil {
		c.compiled = make(map[string]*regexp.Regexp)
	}
	c.compiled[pattern] = re
	return re, nil
}
